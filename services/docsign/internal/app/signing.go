package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"docsign/internal/doclock"
	"docsign/internal/util"
	"docsign/pkg/compositor"
	"docsign/pkg/domain"
	"docsign/pkg/storage"
	"docsign/pkg/store"
	"docsign/services/docsign/internal/events"
)

// SignRequest places a signature image on one page. Page is zero-based;
// compositor.LastPage selects the final page.
type SignRequest struct {
	DocumentID     string
	SignatureImage string
	Page           int
	X              float64
	Y              float64
}

func (r SignRequest) validate() error {
	if strings.TrimSpace(r.DocumentID) == "" {
		return invalid("documentId is required")
	}
	if strings.TrimSpace(r.SignatureImage) == "" {
		return invalid("signatureImage is required")
	}
	if !finite(r.X) || !finite(r.Y) {
		return invalid("x and y must be finite numbers")
	}
	if r.Page < compositor.LastPage {
		return invalid("page must be -1 or a zero-based page index")
	}
	return nil
}

// Sign composites the signature onto the stored PDF and commits the signed
// revision. Concurrent signers of the same document get ErrConflict; at most
// one succeeds.
func (a *App) Sign(ctx context.Context, owner domain.User, req SignRequest) (domain.Document, error) {
	if err := req.validate(); err != nil {
		return domain.Document{}, err
	}
	image, err := compositor.DecodeDataURI(req.SignatureImage)
	if err != nil {
		return domain.Document{}, invalid("signatureImage must be a base64 encoded PNG")
	}
	id := strings.TrimSpace(req.DocumentID)
	logger := util.LoggerFromContext(ctx).With("document_id", id, "user_id", owner.ID)
	start := time.Now()

	if _, err := a.signable(ctx, owner, id); err != nil {
		return domain.Document{}, err
	}
	release, err := a.locker.Acquire(ctx, "document:"+id, a.lockTTL)
	if err != nil {
		if errors.Is(err, doclock.ErrLocked) {
			return domain.Document{}, ErrSigningInProgress
		}
		return domain.Document{}, fmt.Errorf("acquire document lock: %w", err)
	}
	defer release()

	// Re-read under the lock: a signer that held it may have committed.
	doc, err := a.signable(ctx, owner, id)
	if err != nil {
		return domain.Document{}, err
	}

	src, err := a.fetch(ctx, doc.FileKey)
	if err != nil {
		return domain.Document{}, err
	}
	res, err := a.compositor.Composite(src, compositor.Request{Image: image, Page: req.Page, X: req.X, Y: req.Y})
	if err != nil {
		return domain.Document{}, compositeErr(err)
	}

	now := a.timestamp()
	signedKey := storage.SignedKey(owner.ID, doc.ID, doc.Name, now)
	if err := a.put(ctx, signedKey, res.PDF); err != nil {
		return domain.Document{}, storageErr("save signed file", err)
	}

	updated, err := a.store.CompleteSigning(ctx, store.SigningUpdate{
		DocumentID:      doc.ID,
		ExpectedVersion: doc.Version,
		FileKey:         signedKey,
		URL:             a.blobs.PublicURL(signedKey),
		SizeBytes:       int64(len(res.PDF)),
		UpdatedAt:       now,
		Signature: domain.Signature{
			ID:           uuid.NewString(),
			DocumentID:   doc.ID,
			SignerID:     owner.ID,
			SignatureImg: req.SignatureImage,
			Placement: domain.Placement{
				Page:   res.Page,
				X:      req.X,
				Y:      req.Y,
				Width:  res.Width,
				Height: res.Height,
				Scale:  a.compositor.Scale(),
			},
			SignedAt: now,
		},
	})
	if err != nil {
		a.deleteBlobQuietly(ctx, signedKey)
		if errors.Is(err, store.ErrConflict) {
			return domain.Document{}, ErrConflict
		}
		return domain.Document{}, storageErr("commit signing", err)
	}

	if doc.FileKey != signedKey {
		if err := a.removeBlob(ctx, doc.ID, doc.FileKey); err != nil {
			logger.Warn("superseded_blob_orphaned", "blob_key", doc.FileKey, "err", err)
		}
	}
	page := res.Page
	events.Emit(ctx, a.events, events.Event{
		Type:       events.TypeDocumentSigned,
		DocumentID: doc.ID,
		OwnerID:    owner.ID,
		Name:       doc.Name,
		Status:     string(updated.Status),
		Page:       &page,
	})
	logger.Info("document_signed", "page", res.Page, "pages", res.PageCount, "size", updated.SizeBytes, "duration_ms", sinceMillis(start))
	return updated, nil
}

// signable returns the owner's document if it can still be signed. Foreign
// documents look missing whether or not someone holds their lock.
func (a *App) signable(ctx context.Context, owner domain.User, id string) (domain.Document, error) {
	doc, err := a.getOwned(ctx, owner, id)
	if err != nil {
		return domain.Document{}, err
	}
	if doc.Status == domain.StatusSigned {
		return domain.Document{}, ErrAlreadySigned
	}
	return doc, nil
}

func (a *App) fetch(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, a.blobTimeout)
	defer cancel()
	rc, err := a.blobs.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", key, errors.Join(ErrSourceUnavailable, err))
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, errors.Join(ErrSourceUnavailable, err))
	}
	return data, nil
}

func (a *App) put(ctx context.Context, key string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, a.blobTimeout)
	defer cancel()
	return a.blobs.Put(ctx, key, bytes.NewReader(data), int64(len(data)), pdfContentType)
}

func compositeErr(err error) error {
	var rangeErr *compositor.PageRangeError
	switch {
	case errors.Is(err, compositor.ErrCorruptInput):
		return fmt.Errorf("composite: %w", errors.Join(ErrCorruptDocument, err))
	case errors.As(err, &rangeErr):
		return invalid("page %d is out of range for a %d-page document", rangeErr.Page, rangeErr.PageCount)
	case errors.Is(err, compositor.ErrPageOutOfRange):
		return invalid("page is out of range")
	case errors.Is(err, compositor.ErrInvalidImage):
		return invalid("signatureImage is not a valid PNG")
	case errors.Is(err, compositor.ErrInvalidPlacement):
		return invalid("x and y must be finite numbers")
	default:
		return fmt.Errorf("composite: %w", err)
	}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
