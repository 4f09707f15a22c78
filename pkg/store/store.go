package store

import (
	"context"
	"errors"
	"time"

	"docsign/pkg/domain"
)

var (
	// ErrConflict means a conditional update matched no row because the
	// record changed since it was read.
	ErrConflict = errors.New("store: record changed concurrently")
	// ErrNotFound is returned by mutations addressed at a missing record.
	ErrNotFound = errors.New("store: record not found")
	// ErrDuplicate is returned when a unique constraint rejects an insert.
	ErrDuplicate = errors.New("store: duplicate record")
)

// Store defines persistence operations for users, accounts, documents and signatures.
type Store interface {
	// users
	CreateUser(ctx context.Context, u domain.User) error
	HasUserEmail(ctx context.Context, email string) (bool, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error)
	GetUserByID(ctx context.Context, id string) (domain.User, bool, error)

	// external identities
	LinkAccount(ctx context.Context, a domain.Account) error
	GetUserByAccount(ctx context.Context, provider, providerAccountID string) (domain.User, bool, error)

	// documents
	CreateDocument(ctx context.Context, d domain.Document) error
	GetDocument(ctx context.Context, id string) (domain.Document, bool, error)
	ListDocumentsByOwner(ctx context.Context, ownerID string) ([]domain.Document, error)
	CompleteSigning(ctx context.Context, u SigningUpdate) (domain.Document, error)
	DeleteDocument(ctx context.Context, id string) error

	// signatures
	ListSignatures(ctx context.Context, documentID string) ([]domain.Signature, error)
}

// SigningUpdate moves a PENDING document at ExpectedVersion to SIGNED,
// pointing it at the signed blob, and records the signature in the same
// transaction. A document that is no longer PENDING at that version yields
// ErrConflict.
type SigningUpdate struct {
	DocumentID      string
	ExpectedVersion int64
	FileKey         string
	URL             string
	SizeBytes       int64
	UpdatedAt       time.Time
	Signature       domain.Signature
}

// SessionStore issues, verifies and revokes session tokens.
type SessionStore interface {
	NewSession(ctx context.Context, userID string) (Session, error)
	GetUserIDByToken(ctx context.Context, token string) (string, bool, error)
	DeleteSession(ctx context.Context, token string) error
	TTL() time.Duration
}

// JWK represents a JSON Web Key entry used by JWKS endpoints.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
}

// JWKSProvider is an optional capability exposed by session stores that can
// publish JSON Web Keys.
type JWKSProvider interface {
	JWKS() []JWK
}
