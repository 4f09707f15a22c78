package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// ErrBlobNotFound is returned by Get when no blob exists under the key.
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore stores document bytes under opaque keys.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete succeeds when the blob is already gone.
	Delete(ctx context.Context, key string) error
	// PublicURL returns a stable link for key, or "" when the backend has none.
	PublicURL(key string) string
}

// OriginalKey is where an uploaded document's bytes live.
func OriginalKey(ownerID, documentID, filename string) string {
	return path.Join("uploads", safeSegment(ownerID), safeSegment(documentID), fileSegment(filename))
}

// SignedKey is a fresh key for a signed revision of a document.
func SignedKey(ownerID, documentID, filename string, at time.Time) string {
	name := fmt.Sprintf("signed-%d-%s", at.UnixNano(), fileSegment(filename))
	return path.Join("uploads", safeSegment(ownerID), safeSegment(documentID), name)
}

// SanitizeFilename keeps ASCII letters, digits, '.', '-' and '_'; runs of
// anything else collapse into one underscore.
func SanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(name))
	lastUnderscore := false
	for _, r := range name {
		if r <= 0x7f {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '-' || r == '_' {
				b.WriteRune(r)
				lastUnderscore = false
				continue
			}
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_.")
}

func fileSegment(filename string) string {
	name := SanitizeFilename(filepath.Base(strings.ReplaceAll(filename, "\\", "/")))
	if name == "" {
		return "document.pdf"
	}
	return name
}

func safeSegment(s string) string {
	s = SanitizeFilename(s)
	if s == "" {
		return "_"
	}
	return s
}

// validateKey rejects keys that could escape the store's namespace.
func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("invalid blob key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("invalid blob key %q", key)
		}
	}
	return nil
}
