package app

import (
	"context"
	"fmt"

	"docsign/internal/util"
	"docsign/pkg/queue"
)

// CleanupEnabled reports whether deferred blob deletions have a queue.
func (a *App) CleanupEnabled() bool { return a.cleanup != nil }

// RunCleanupWorker consumes deferred blob deletions until ctx is cancelled
// and in-flight deletes finish. It returns at once without a queue.
func (a *App) RunCleanupWorker(ctx context.Context, concurrency int) {
	if a.cleanup == nil {
		return
	}
	a.cleanup.Run(ctx, concurrency, a.handleCleanup)
}

func (a *App) handleCleanup(ctx context.Context, job queue.CleanupJob) error {
	if job.DocumentID != "" {
		doc, ok, err := a.store.GetDocument(ctx, job.DocumentID)
		if err != nil {
			return fmt.Errorf("get document: %w", err)
		}
		if ok && doc.FileKey == job.BlobKey {
			util.LoggerFromContext(ctx).Warn("cleanup_skipped_live_blob", "document_id", job.DocumentID, "blob_key", job.BlobKey)
			return nil
		}
	}
	ctx, cancel := context.WithTimeout(ctx, a.blobTimeout)
	defer cancel()
	if err := a.blobs.Delete(ctx, job.BlobKey); err != nil {
		return fmt.Errorf("delete blob %s: %w", job.BlobKey, err)
	}
	return nil
}
