package server

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"docsign/pkg/compositor/compositortest"
	"docsign/pkg/domain"
	"docsign/pkg/storage"
	"docsign/pkg/store"
	"docsign/services/docsign/internal/app"
)

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
)

func sessionStore(t *testing.T) *store.JWTSessionStore {
	t.Helper()
	keyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testKey = key
	})
	s, err := store.NewJWTSessionStore(testKey, "server-test", nil, time.Hour, store.NewMemoryTokenRevoker(), store.JWTOptions{})
	if err != nil {
		t.Fatalf("session store: %v", err)
	}
	return s
}

// unreliableBlobs fails reads while getErr is set.
type unreliableBlobs struct {
	storage.BlobStore
	mu     sync.Mutex
	getErr error
}

func (u *unreliableBlobs) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	u.mu.Lock()
	err := u.getErr
	u.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return u.BlobStore.Get(ctx, key)
}

func (u *unreliableBlobs) failReads(err error) {
	u.mu.Lock()
	u.getErr = err
	u.mu.Unlock()
}

type testServer struct {
	*httptest.Server
	blobs *unreliableBlobs
}

func newTestServer(t *testing.T, mutate func(*Config)) *testServer {
	t.Helper()
	files, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	blobs := &unreliableBlobs{BlobStore: files}
	sessions := sessionStore(t)
	a, err := app.New(app.Config{
		Store:          store.NewMemoryStore(),
		Blobs:          blobs,
		Sessions:       sessions,
		MaxUploadBytes: 64 << 10,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	cfg := Config{App: a, Keys: sessions}
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, blobs: blobs}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (ts *testServer) postJSON(t *testing.T, path, token string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ts.do(t, http.MethodPost, path, token, bytes.NewReader(body), "application/json")
}

func (ts *testServer) signup(t *testing.T, email string) string {
	t.Helper()
	resp := ts.postJSON(t, "/api/register", "", map[string]string{"email": email, "password": "correct-horse", "name": "Test User"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d", resp.StatusCode)
	}
	resp = ts.postJSON(t, "/api/auth/login", "", map[string]string{"email": email, "password": "correct-horse"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	var out loginResponse
	decode(t, resp, &out)
	if out.Token == "" {
		t.Fatalf("empty token")
	}
	return out.Token
}

func (ts *testServer) upload(t *testing.T, token, filename string, data []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return ts.do(t, http.MethodPost, "/api/upload", token, &body, mw.FormDataContentType())
}

func (ts *testServer) uploadDoc(t *testing.T, token string, pages int) domain.Document {
	t.Helper()
	resp := ts.upload(t, token, "contract.pdf", compositortest.PDF(pages))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}
	var out struct {
		Success  bool            `json:"success"`
		Name     string          `json:"name"`
		Document domain.Document `json:"document"`
	}
	decode(t, resp, &out)
	if !out.Success || out.Name != "contract.pdf" || out.Document.Status != domain.StatusPending {
		t.Fatalf("unexpected upload response: %+v", out)
	}
	return out.Document
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func expectError(t *testing.T, resp *http.Response, status int, code string) errorResponse {
	t.Helper()
	if resp.StatusCode != status {
		t.Fatalf("status = %d, want %d", resp.StatusCode, status)
	}
	var out errorResponse
	decode(t, resp, &out)
	if out.Success || out.Code != code || out.Error == "" {
		t.Fatalf("unexpected error body: %+v", out)
	}
	return out
}

func signature() string {
	return compositortest.DataURI(compositortest.PNG(120, 40, true))
}

func TestHealthAndJWKS(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(t, http.MethodGet, "/healthz", "", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
	resp = ts.do(t, http.MethodGet, "/.well-known/jwks.json", "", nil, "")
	var jwks struct {
		Keys []store.JWK `json:"keys"`
	}
	decode(t, resp, &jwks)
	if len(jwks.Keys) != 1 || jwks.Keys[0].Kid != "server-test" {
		t.Fatalf("unexpected jwks: %+v", jwks)
	}
}

func TestAuthenticationFlow(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.postJSON(t, "/api/register", "", map[string]string{"email": "a@example.com", "password": "correct-horse", "name": "Ada"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d", resp.StatusCode)
	}
	resp = ts.postJSON(t, "/api/register", "", map[string]string{"email": "A@example.com", "password": "correct-horse", "name": "Ada"})
	expectError(t, resp, http.StatusBadRequest, "VALIDATION_FAILED")

	resp = ts.postJSON(t, "/api/auth/login", "", map[string]string{"email": "a@example.com", "password": "wrong-password"})
	expectError(t, resp, http.StatusUnauthorized, "INVALID_CREDENTIALS")

	resp = ts.postJSON(t, "/api/auth/login", "", map[string]string{"email": "a@example.com", "password": "correct-horse"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == DefaultCookieName {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value == "" || !cookie.HttpOnly {
		t.Fatalf("expected session cookie, got %+v", resp.Cookies())
	}

	// The cookie alone authenticates.
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/auth/session", nil)
	req.AddCookie(cookie)
	sessionResp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("session request: %v", err)
	}
	defer sessionResp.Body.Close()
	var session struct {
		User domain.User `json:"user"`
	}
	decode(t, sessionResp, &session)
	if sessionResp.StatusCode != http.StatusOK || session.User.Email != "a@example.com" {
		t.Fatalf("unexpected session: %d %+v", sessionResp.StatusCode, session)
	}

	resp = ts.do(t, http.MethodPost, "/api/auth/logout", cookie.Value, nil, "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout status = %d", resp.StatusCode)
	}
	resp = ts.do(t, http.MethodGet, "/api/auth/session", cookie.Value, nil, "")
	expectError(t, resp, http.StatusUnauthorized, "UNAUTHENTICATED")
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	ts := newTestServer(t, nil)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/list"},
		{http.MethodGet, "/api/documents"},
		{http.MethodPost, "/api/upload"},
		{http.MethodPost, "/api/sign"},
		{http.MethodGet, "/api/view?documentId=x"},
		{http.MethodDelete, "/api/delete?documentId=x"},
		{http.MethodGet, "/api/documents/x/signatures"},
	} {
		resp := ts.do(t, tc.method, tc.path, "not-a-token", nil, "")
		out := expectError(t, resp, http.StatusUnauthorized, "UNAUTHENTICATED")
		if out.RequestID == "" || out.RequestID != resp.Header.Get("X-Request-Id") {
			t.Fatalf("%s %s: request id %q vs header %q", tc.method, tc.path, out.RequestID, resp.Header.Get("X-Request-Id"))
		}
	}
}

func TestDocumentLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.signup(t, "owner@example.com")
	doc := ts.uploadDoc(t, token, 3)

	resp := ts.do(t, http.MethodGet, "/api/documents", token, nil, "")
	var list struct {
		Success   bool              `json:"success"`
		Documents []domain.Document `json:"documents"`
	}
	decode(t, resp, &list)
	if !list.Success || len(list.Documents) != 1 || list.Documents[0].ID != doc.ID {
		t.Fatalf("unexpected list: %+v", list)
	}

	// Legacy field names and route.
	resp = ts.postJSON(t, "/api/sign-pdf", token, map[string]any{
		"documentId":   doc.ID,
		"signatureImg": signature(),
		"posX":         72,
		"posY":         144,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sign status = %d", resp.StatusCode)
	}
	var signed struct {
		Success  bool            `json:"success"`
		Document domain.Document `json:"document"`
	}
	decode(t, resp, &signed)
	if !signed.Success || signed.Document.Status != domain.StatusSigned {
		t.Fatalf("unexpected sign response: %+v", signed)
	}

	resp = ts.do(t, http.MethodGet, "/api/view?id="+doc.ID, token, nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("view status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("content type = %q", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.HasPrefix(cd, "inline") || !strings.Contains(cd, "contract.pdf") {
		t.Fatalf("content disposition = %q", cd)
	}
	if resp.Header.Get("X-Frame-Options") != "SAMEORIGIN" {
		t.Fatalf("x-frame-options = %q", resp.Header.Get("X-Frame-Options"))
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.HasPrefix(body, []byte("%PDF-")) || !bytes.Contains(body, []byte("/DocSig1 Do")) {
		t.Fatalf("view did not return the signed PDF")
	}

	resp = ts.do(t, http.MethodGet, "/api/documents/"+doc.ID+"/signatures", token, nil, "")
	var sigs struct {
		Signatures []domain.Signature `json:"signatures"`
	}
	decode(t, resp, &sigs)
	if len(sigs.Signatures) != 1 || sigs.Signatures[0].Placement.Page != 2 || sigs.Signatures[0].Placement.X != 72 {
		t.Fatalf("unexpected signatures: %+v", sigs)
	}

	resp = ts.postJSON(t, "/api/sign", token, map[string]any{"documentId": doc.ID, "signatureImage": signature(), "x": 10, "y": 10})
	expectError(t, resp, http.StatusConflict, "SIGN_CONFLICT")

	resp = ts.do(t, http.MethodDelete, "/api/delete?documentId="+doc.ID, token, nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp = ts.do(t, http.MethodGet, "/api/view?documentId="+doc.ID, token, nil, "")
	expectError(t, resp, http.StatusNotFound, "DOCUMENT_NOT_FOUND")
}

func TestForeignDocumentsLookMissing(t *testing.T) {
	ts := newTestServer(t, nil)
	owner := ts.signup(t, "owner@example.com")
	other := ts.signup(t, "other@example.com")
	doc := ts.uploadDoc(t, owner, 1)

	foreign := expectError(t, ts.do(t, http.MethodGet, "/api/view?documentId="+doc.ID, other, nil, ""), http.StatusNotFound, "DOCUMENT_NOT_FOUND")
	missing := expectError(t, ts.do(t, http.MethodGet, "/api/view?documentId=nope", other, nil, ""), http.StatusNotFound, "DOCUMENT_NOT_FOUND")
	if foreign.Error != missing.Error {
		t.Fatalf("foreign %q and missing %q differ", foreign.Error, missing.Error)
	}
	resp := ts.postJSON(t, "/api/sign", other, map[string]any{"documentId": doc.ID, "signatureImage": signature(), "x": 1, "y": 1})
	expectError(t, resp, http.StatusNotFound, "DOCUMENT_NOT_FOUND")
	resp = ts.do(t, http.MethodDelete, "/api/delete?documentId="+doc.ID, other, nil, "")
	expectError(t, resp, http.StatusNotFound, "DOCUMENT_NOT_FOUND")

	resp = ts.do(t, http.MethodGet, "/api/list", other, nil, "")
	var list struct {
		Documents []domain.Document `json:"documents"`
	}
	decode(t, resp, &list)
	if list.Documents == nil || len(list.Documents) != 0 {
		t.Fatalf("expected empty list, got %+v", list.Documents)
	}
}

func TestUploadFailures(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.signup(t, "owner@example.com")

	expectError(t, ts.upload(t, token, "notes.txt", []byte("hello")), http.StatusBadRequest, "VALIDATION_FAILED")
	expectError(t, ts.upload(t, token, "fake.pdf", []byte("not a pdf")), http.StatusBadRequest, "VALIDATION_FAILED")
	expectError(t, ts.upload(t, token, "huge.pdf", bytes.Repeat([]byte("x"), 128<<10)), http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE")

	resp := ts.do(t, http.MethodPost, "/api/upload", token, strings.NewReader("{}"), "application/json")
	expectError(t, resp, http.StatusBadRequest, "INVALID_FORM")
}

func TestSignFailures(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.signup(t, "owner@example.com")
	doc := ts.uploadDoc(t, token, 1)

	cases := []struct {
		name    string
		payload map[string]any
	}{
		{"missing document", map[string]any{"signatureImage": signature(), "x": 1, "y": 1}},
		{"missing image", map[string]any{"documentId": doc.ID, "x": 1, "y": 1}},
		{"bad page", map[string]any{"documentId": doc.ID, "signatureImage": signature(), "x": 1, "y": 1, "page": -3}},
		{"page out of range", map[string]any{"documentId": doc.ID, "signatureImage": signature(), "x": 1, "y": 1, "page": 1}},
		{"not a png", map[string]any{"documentId": doc.ID, "signatureImage": "data:image/png;base64,aGVsbG8=", "x": 1, "y": 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := ts.postJSON(t, "/api/sign", token, tc.payload)
			expectError(t, resp, http.StatusBadRequest, "VALIDATION_FAILED")
		})
	}

	ts.blobs.failReads(errors.New("connection reset"))
	resp := ts.postJSON(t, "/api/sign", token, map[string]any{"documentId": doc.ID, "signatureImage": signature(), "x": 1, "y": 1})
	expectError(t, resp, http.StatusServiceUnavailable, "SOURCE_UNAVAILABLE")
	if resp.Header.Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	ts.blobs.failReads(nil)

	resp = ts.do(t, http.MethodGet, "/api/view?documentId="+doc.ID, token, nil, "")
	var pdf bytes.Buffer
	_, _ = io.Copy(&pdf, resp.Body)
	if resp.StatusCode != http.StatusOK || bytes.Contains(pdf.Bytes(), []byte("/DocSig1")) {
		t.Fatalf("failed signings must leave the original untouched")
	}
}

func TestMethodAndPathChecks(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.signup(t, "owner@example.com")

	expectError(t, ts.do(t, http.MethodGet, "/api/sign", token, nil, ""), http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED")
	expectError(t, ts.do(t, http.MethodPost, "/api/delete?documentId=x", token, nil, ""), http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED")
	expectError(t, ts.do(t, http.MethodGet, "/api/view", token, nil, ""), http.StatusBadRequest, "VALIDATION_FAILED")

	resp := ts.do(t, http.MethodGet, "/api/documents/x/other", token, nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown subpath status = %d", resp.StatusCode)
	}
	resp = ts.do(t, http.MethodGet, "/api/auth/google/login", "", nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("google login without config status = %d", resp.StatusCode)
	}
}
