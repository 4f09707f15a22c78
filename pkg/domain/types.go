package domain

import "time"

// DocumentStatus is serialized verbatim; the web app matches on these values.
type DocumentStatus string

const (
	StatusPending DocumentStatus = "PENDING"
	StatusSigned  DocumentStatus = "SIGNED"
)

// Document is an uploaded PDF. FileKey is the only locator used for bytes;
// URL is a derived link for backends that can expose one.
type Document struct {
	ID        string         `json:"id"`
	OwnerID   string         `json:"userId"`
	Name      string         `json:"name"`
	FileKey   string         `json:"fileKey"`
	URL       string         `json:"url,omitempty"`
	Status    DocumentStatus `json:"status"`
	SizeBytes int64          `json:"size"`
	PageCount int            `json:"pageCount"`
	Version   int64          `json:"-"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Placement records where a signature landed, in PDF points from the
// bottom-left corner of the page.
type Placement struct {
	Page   int     `json:"page"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Scale  float64 `json:"scale"`
}

// Signature is the immutable history record of one signing action.
type Signature struct {
	ID           string    `json:"id"`
	DocumentID   string    `json:"documentId"`
	SignerID     string    `json:"userId"`
	SignatureImg string    `json:"signatureImg"`
	Placement    Placement `json:"placement"`
	SignedAt     time.Time `json:"signedAt"`
}

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name,omitempty"`
	Image        string    `json:"image,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Account links an external identity provider login to a user.
type Account struct {
	ID                string    `json:"id"`
	UserID            string    `json:"userId"`
	Provider          string    `json:"provider"`
	ProviderAccountID string    `json:"providerAccountId"`
	CreatedAt         time.Time `json:"createdAt"`
}

const ProviderGoogle = "google"
