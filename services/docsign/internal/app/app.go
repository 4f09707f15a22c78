package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"docsign/internal/doclock"
	"docsign/pkg/compositor"
	"docsign/pkg/queue"
	"docsign/pkg/storage"
	"docsign/pkg/store"
	"docsign/services/docsign/internal/events"
)

const (
	DefaultMaxUploadBytes int64 = 20 << 20
	DefaultBlobTimeout          = 30 * time.Second
	DefaultLockTTL              = 2 * time.Minute
)

// CleanupQueue defers blob deletions that failed inline.
type CleanupQueue interface {
	Enqueue(ctx context.Context, documentID, blobKey string) (queue.CleanupJob, error)
	Run(ctx context.Context, concurrency int, handler queue.Handler)
}

// Config holds runtime dependencies for the application.
type Config struct {
	Store      store.Store
	Blobs      storage.BlobStore
	Sessions   store.SessionStore
	Locker     doclock.Locker
	Cleanup    CleanupQueue
	Events     events.Publisher
	Compositor *compositor.Compositor

	MaxUploadBytes int64
	BlobTimeout    time.Duration
	LockTTL        time.Duration
	Now            func() time.Time
}

// App implements document and account workflows on top of the stores.
type App struct {
	store      store.Store
	blobs      storage.BlobStore
	sessions   store.SessionStore
	locker     doclock.Locker
	cleanup    CleanupQueue
	events     events.Publisher
	compositor *compositor.Compositor

	maxUploadBytes int64
	blobTimeout    time.Duration
	lockTTL        time.Duration
	now            func() time.Time
}

// New validates cfg and fills defaults for optional collaborators.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Blobs == nil {
		return nil, errors.New("blob store required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session store required")
	}
	if cfg.Locker == nil {
		cfg.Locker = doclock.NewMemoryLocker()
	}
	if cfg.Events == nil {
		cfg.Events = events.LogPublisher{}
	}
	if cfg.Compositor == nil {
		cfg.Compositor = compositor.New(compositor.Options{})
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.BlobTimeout <= 0 {
		cfg.BlobTimeout = DefaultBlobTimeout
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &App{
		store:          cfg.Store,
		blobs:          cfg.Blobs,
		sessions:       cfg.Sessions,
		locker:         cfg.Locker,
		cleanup:        cfg.Cleanup,
		events:         cfg.Events,
		compositor:     cfg.Compositor,
		maxUploadBytes: cfg.MaxUploadBytes,
		blobTimeout:    cfg.BlobTimeout,
		lockTTL:        cfg.LockTTL,
		now:            cfg.Now,
	}, nil
}

// MaxUploadBytes is the largest accepted upload.
func (a *App) MaxUploadBytes() int64 { return a.maxUploadBytes }

// SessionTTL is the lifetime of newly issued session tokens.
func (a *App) SessionTTL() time.Duration { return a.sessions.TTL() }

func (a *App) timestamp() time.Time { return a.now().UTC() }

// Close releases the event publisher.
func (a *App) Close() error {
	if err := a.events.Close(); err != nil {
		return fmt.Errorf("close events: %w", err)
	}
	return nil
}
