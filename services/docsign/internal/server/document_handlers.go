package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"docsign/internal/util"
	"docsign/pkg/compositor"
	"docsign/pkg/domain"
	"docsign/services/docsign/internal/app"
)

// signRequest accepts both the current field names and the older
// signatureImg/posX/posY spelling.
type signRequest struct {
	DocumentID     string   `json:"documentId"`
	SignatureImage string   `json:"signatureImage"`
	SignatureImg   string   `json:"signatureImg"`
	X              *float64 `json:"x"`
	Y              *float64 `json:"y"`
	PosX           *float64 `json:"posX"`
	PosY           *float64 `json:"posY"`
	Page           *int     `json:"page"`
}

func (req signRequest) toApp() app.SignRequest {
	out := app.SignRequest{
		DocumentID:     strings.TrimSpace(req.DocumentID),
		SignatureImage: req.SignatureImage,
		Page:           compositor.LastPage,
	}
	if out.SignatureImage == "" {
		out.SignatureImage = req.SignatureImg
	}
	if v := firstSet(req.X, req.PosX); v != nil {
		out.X = *v
	}
	if v := firstSet(req.Y, req.PosY); v != nil {
		out.Y = *v
	}
	if req.Page != nil {
		out.Page = *req.Page
	}
	return out
}

func firstSet(values ...*float64) *float64 {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

// documentIDParam reads documentId, falling back to the legacy id parameter.
func documentIDParam(r *http.Request) string {
	q := r.URL.Query()
	if id := strings.TrimSpace(q.Get("documentId")); id != "" {
		return id
	}
	return strings.TrimSpace(q.Get("id"))
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	if !s.allowRate(w, r, s.uploadLimiter, user.ID, "too many uploads") {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.app.MaxUploadBytes()+multipartOverheadBytes)
	if err := r.ParseMultipartForm(multipartMemoryMaxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeAppError(w, r, app.ErrTooLarge)
			return
		}
		writeError(w, r, http.StatusBadRequest, "INVALID_FORM", "invalid form data")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "FILE_REQUIRED", "file is required (field: file)")
		return
	}
	defer file.Close()

	doc, err := s.app.Upload(r.Context(), user, header.Filename, file, header.Size)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success":  true,
		"name":     doc.Name,
		"document": doc,
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	docs, err := s.app.List(r.Context(), user)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if docs == nil {
		docs = []domain.Document{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"documents": docs,
	})
}

// /api/documents/{id}/signatures
func (s *Server) handleDocumentByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	path := strings.TrimPrefix(r.URL.Path, "/api/documents/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "signatures" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	sigs, err := s.app.ListSignatures(r.Context(), user, parts[0])
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if sigs == nil {
		sigs = []domain.Signature{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"signatures": sigs,
	})
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w, r)
		return
	}
	id := documentIDParam(r)
	if id == "" {
		writeError(w, r, http.StatusBadRequest, "VALIDATION_FAILED", "documentId is required")
		return
	}
	doc, body, err := s.app.Open(r.Context(), user, id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	defer body.Close()

	util.AllowSameOriginFraming(w)
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": doc.Name}))
	w.Header().Set("Cache-Control", "private, no-store")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, body); err != nil {
		util.LoggerFromContext(r.Context()).Warn("view_copy_failed", "document_id", doc.ID, "err", err)
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r)
		return
	}
	id := documentIDParam(r)
	if id == "" {
		writeError(w, r, http.StatusBadRequest, "VALIDATION_FAILED", "documentId is required")
		return
	}
	if err := s.app.Delete(r.Context(), user, id); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	if !s.allowRate(w, r, s.signLimiter, user.ID, "too many signing attempts") {
		return
	}
	var req signRequest
	// Signature images arrive inline as data URIs.
	if err := json.NewDecoder(io.LimitReader(r.Body, 16<<20)).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_JSON", "invalid JSON body")
		return
	}
	doc, err := s.app.Sign(r.Context(), user, req.toApp())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"document": doc,
	})
}
