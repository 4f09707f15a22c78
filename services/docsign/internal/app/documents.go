package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"docsign/internal/util"
	"docsign/pkg/domain"
	"docsign/pkg/pdfprobe"
	"docsign/pkg/storage"
	"docsign/pkg/store"
	"docsign/services/docsign/internal/events"
)

const pdfContentType = "application/pdf"

// Upload validates and stores a PDF, then records it as PENDING.
func (a *App) Upload(ctx context.Context, owner domain.User, filename string, r io.Reader, size int64) (domain.Document, error) {
	name := displayName(filename)
	if name == "" {
		return domain.Document{}, invalid("file is required")
	}
	if !strings.EqualFold(path.Ext(name), ".pdf") {
		return domain.Document{}, invalid("only PDF files are accepted")
	}
	if size > a.maxUploadBytes {
		return domain.Document{}, ErrTooLarge
	}
	data, err := io.ReadAll(io.LimitReader(r, a.maxUploadBytes+1))
	if err != nil {
		return domain.Document{}, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > a.maxUploadBytes {
		return domain.Document{}, ErrTooLarge
	}
	if len(data) == 0 {
		return domain.Document{}, invalid("file is empty")
	}
	info, err := pdfprobe.ProbeBytes(data)
	if err != nil {
		util.LoggerFromContext(ctx).Info("upload_rejected", "name", name, "err", err)
		return domain.Document{}, invalid("file is not a valid PDF")
	}

	id := uuid.NewString()
	key := storage.OriginalKey(owner.ID, id, name)
	now := a.timestamp()
	doc := domain.Document{
		ID:        id,
		OwnerID:   owner.ID,
		Name:      name,
		FileKey:   key,
		URL:       a.blobs.PublicURL(key),
		Status:    domain.StatusPending,
		SizeBytes: int64(len(data)),
		PageCount: info.PageCount,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	putCtx, cancel := context.WithTimeout(ctx, a.blobTimeout)
	err = a.blobs.Put(putCtx, key, bytes.NewReader(data), int64(len(data)), pdfContentType)
	cancel()
	if err != nil {
		return domain.Document{}, storageErr("save file", err)
	}
	if err := a.store.CreateDocument(ctx, doc); err != nil {
		a.deleteBlobQuietly(ctx, key)
		return domain.Document{}, storageErr("save document", err)
	}
	events.Emit(ctx, a.events, events.Event{
		Type:       events.TypeDocumentUploaded,
		DocumentID: doc.ID,
		OwnerID:    owner.ID,
		Name:       doc.Name,
		Status:     string(doc.Status),
	})
	return doc, nil
}

// List returns the owner's documents, newest first.
func (a *App) List(ctx context.Context, owner domain.User) ([]domain.Document, error) {
	docs, err := a.store.ListDocumentsByOwner(ctx, owner.ID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// Get returns one of the owner's documents.
func (a *App) Get(ctx context.Context, owner domain.User, id string) (domain.Document, error) {
	return a.getOwned(ctx, owner, id)
}

// Open returns the document and a reader over its current bytes. The caller
// closes the reader.
func (a *App) Open(ctx context.Context, owner domain.User, id string) (domain.Document, io.ReadCloser, error) {
	doc, err := a.getOwned(ctx, owner, id)
	if err != nil {
		return domain.Document{}, nil, err
	}
	rc, err := a.blobs.Get(ctx, doc.FileKey)
	if err != nil {
		if errors.Is(err, storage.ErrBlobNotFound) {
			return domain.Document{}, nil, ErrFileMissing
		}
		return domain.Document{}, nil, storageErr("open file", err)
	}
	return doc, rc, nil
}

// Delete removes the document record and its signatures, then its bytes.
func (a *App) Delete(ctx context.Context, owner domain.User, id string) error {
	doc, err := a.getOwned(ctx, owner, id)
	if err != nil {
		return err
	}
	if err := a.store.DeleteDocument(ctx, doc.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return storageErr("delete document", err)
	}
	// The record is gone, so the request succeeds even if the bytes stay behind.
	if err := a.removeBlob(ctx, doc.ID, doc.FileKey); err != nil {
		util.LoggerFromContext(ctx).Error("document_blob_orphaned", "document_id", doc.ID, "blob_key", doc.FileKey, "err", err)
	}
	events.Emit(ctx, a.events, events.Event{
		Type:       events.TypeDocumentDeleted,
		DocumentID: doc.ID,
		OwnerID:    owner.ID,
		Name:       doc.Name,
	})
	return nil
}

// ListSignatures returns the signing history of one of the owner's documents.
func (a *App) ListSignatures(ctx context.Context, owner domain.User, id string) ([]domain.Signature, error) {
	doc, err := a.getOwned(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	sigs, err := a.store.ListSignatures(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("list signatures: %w", err)
	}
	return sigs, nil
}

func (a *App) getOwned(ctx context.Context, owner domain.User, id string) (domain.Document, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Document{}, invalid("documentId is required")
	}
	doc, ok, err := a.store.GetDocument(ctx, id)
	if err != nil {
		return domain.Document{}, fmt.Errorf("get document: %w", err)
	}
	if !ok || doc.OwnerID != owner.ID {
		return domain.Document{}, ErrNotFound
	}
	return doc, nil
}

// removeBlob deletes a blob that no record points at any more. When the
// delete fails and a cleanup queue exists the key is queued instead.
func (a *App) removeBlob(ctx context.Context, documentID, key string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.blobTimeout)
	defer cancel()
	err := a.blobs.Delete(ctx, key)
	if err == nil {
		return nil
	}
	logger := util.LoggerFromContext(ctx).With("document_id", documentID, "blob_key", key)
	if a.cleanup == nil {
		logger.Warn("blob_delete_failed", "err", err)
		return err
	}
	job, qerr := a.cleanup.Enqueue(ctx, documentID, key)
	if qerr != nil {
		logger.Error("blob_cleanup_enqueue_failed", "delete_err", err, "err", qerr)
		return errors.Join(err, qerr)
	}
	logger.Warn("blob_delete_deferred", "job_id", job.ID, "err", err)
	return nil
}

func (a *App) deleteBlobQuietly(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.blobTimeout)
	defer cancel()
	if err := a.blobs.Delete(ctx, key); err != nil {
		util.LoggerFromContext(ctx).Warn("blob_rollback_failed", "blob_key", key, "err", err)
	}
}

func displayName(filename string) string {
	name := strings.TrimSpace(strings.ReplaceAll(filename, "\\", "/"))
	if name == "" {
		return ""
	}
	name = path.Base(name)
	if name == "." || name == "/" {
		return ""
	}
	return name
}

func sinceMillis(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
