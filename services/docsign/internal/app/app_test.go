package app

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"io"
	"io/fs"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"docsign/internal/doclock"
	"docsign/pkg/compositor/compositortest"
	"docsign/pkg/domain"
	"docsign/pkg/queue"
	"docsign/pkg/storage"
	"docsign/pkg/store"
)

var (
	sessionKeyOnce sync.Once
	sessionKey     *rsa.PrivateKey
)

func testSessionStore(t *testing.T) *store.JWTSessionStore {
	t.Helper()
	sessionKeyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		sessionKey = key
	})
	s, err := store.NewJWTSessionStore(sessionKey, "test", nil, time.Hour, store.NewMemoryTokenRevoker(), store.JWTOptions{})
	if err != nil {
		t.Fatalf("session store: %v", err)
	}
	return s
}

// faultyBlobs injects failures in front of a real blob store.
type faultyBlobs struct {
	storage.BlobStore
	putErr    error
	getErr    error
	deleteErr error
}

func (f *faultyBlobs) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if f.putErr != nil {
		return f.putErr
	}
	return f.BlobStore.Put(ctx, key, r, size, contentType)
}

func (f *faultyBlobs) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.BlobStore.Get(ctx, key)
}

func (f *faultyBlobs) Delete(ctx context.Context, key string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.BlobStore.Delete(ctx, key)
}

type faultyStore struct {
	*store.MemoryStore
	createDocumentErr error
	// racingUser is inserted just before the next CreateUser call.
	racingUser *domain.User
}

func (f *faultyStore) CreateUser(ctx context.Context, u domain.User) error {
	if f.racingUser != nil {
		racer := *f.racingUser
		f.racingUser = nil
		if err := f.MemoryStore.CreateUser(ctx, racer); err != nil {
			return err
		}
	}
	return f.MemoryStore.CreateUser(ctx, u)
}

func (f *faultyStore) CreateDocument(ctx context.Context, d domain.Document) error {
	if f.createDocumentErr != nil {
		return f.createDocumentErr
	}
	return f.MemoryStore.CreateDocument(ctx, d)
}

type recordingQueue struct {
	mu      sync.Mutex
	jobs    []queue.CleanupJob
	err     error
	started int
}

func (q *recordingQueue) Enqueue(_ context.Context, documentID, blobKey string) (queue.CleanupJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return queue.CleanupJob{}, q.err
	}
	job := queue.CleanupJob{ID: "job-" + blobKey, DocumentID: documentID, BlobKey: blobKey, Status: queue.StatusQueued}
	q.jobs = append(q.jobs, job)
	return job, nil
}

func (q *recordingQueue) Run(context.Context, int, queue.Handler) {
	q.mu.Lock()
	q.started++
	q.mu.Unlock()
}

type testEnv struct {
	root   string
	app    *App
	store  *faultyStore
	blobs  *faultyBlobs
	locker *doclock.MemoryLocker
	queue  *recordingQueue
}

type envOption func(*Config)

func withoutQueue() envOption { return func(c *Config) { c.Cleanup = nil } }

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	root := t.TempDir()
	files, err := storage.NewFileStore(root)
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	env := &testEnv{
		root:   root,
		store:  &faultyStore{MemoryStore: store.NewMemoryStore()},
		blobs:  &faultyBlobs{BlobStore: files},
		locker: doclock.NewMemoryLocker(),
		queue:  &recordingQueue{},
	}
	cfg := Config{
		Store:          env.store,
		Blobs:          env.blobs,
		Sessions:       testSessionStore(t),
		Locker:         env.locker,
		Cleanup:        env.queue,
		MaxUploadBytes: 1 << 20,
		BlobTimeout:    5 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	env.app = a
	return env
}

func (e *testEnv) upload(t *testing.T, owner domain.User, pages int) domain.Document {
	t.Helper()
	data := compositortest.PDF(pages)
	doc, err := e.app.Upload(context.Background(), owner, "contract.pdf", bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return doc
}

func (e *testEnv) blobExists(t *testing.T, key string) bool {
	t.Helper()
	rc, err := e.blobs.BlobStore.Get(context.Background(), key)
	if errors.Is(err, storage.ErrBlobNotFound) {
		return false
	}
	if err != nil {
		t.Fatalf("get blob %s: %v", key, err)
	}
	_ = rc.Close()
	return true
}

func (e *testEnv) countFiles(t *testing.T) int {
	t.Helper()
	n := 0
	err := filepath.WalkDir(e.root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			n++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk blob dir: %v", err)
	}
	return n
}

func TestNewRequiresCollaborators(t *testing.T) {
	sessions := testSessionStore(t)
	files, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	cases := []Config{
		{Blobs: files, Sessions: sessions},
		{Store: store.NewMemoryStore(), Sessions: sessions},
		{Store: store.NewMemoryStore(), Blobs: files},
	}
	for i, cfg := range cases {
		if _, err := New(cfg); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}

	a, err := New(Config{Store: store.NewMemoryStore(), Blobs: files, Sessions: sessions})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	if a.MaxUploadBytes() != DefaultMaxUploadBytes || a.SessionTTL() != time.Hour {
		t.Fatalf("unexpected defaults: max=%d ttl=%v", a.MaxUploadBytes(), a.SessionTTL())
	}
	if a.CleanupEnabled() {
		t.Fatalf("expected no cleanup worker without a queue")
	}
	a.RunCleanupWorker(context.Background(), 1)
}
