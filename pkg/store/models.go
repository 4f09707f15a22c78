package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence. Table names match the web app's schema.
type UserModel struct {
	ID           string `gorm:"primaryKey"`
	Email        string `gorm:"uniqueIndex;not null"`
	Name         string
	Image        string
	PasswordHash string
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

func (UserModel) TableName() string { return "users" }

type AccountModel struct {
	ID                string    `gorm:"primaryKey"`
	UserID            string    `gorm:"not null;index"`
	Provider          string    `gorm:"not null;uniqueIndex:idx_account_provider"`
	ProviderAccountID string    `gorm:"not null;uniqueIndex:idx_account_provider"`
	CreatedAt         time.Time `gorm:"not null"`
}

func (AccountModel) TableName() string { return "accounts" }

type DocumentModel struct {
	ID        string `gorm:"primaryKey"`
	OwnerID   string `gorm:"not null;index:idx_documents_owner_created,priority:1"`
	Name      string `gorm:"not null"`
	FileKey   string `gorm:"not null"`
	URL       string
	Status    string    `gorm:"not null;default:PENDING"`
	SizeBytes int64     `gorm:"not null"`
	PageCount int       `gorm:"not null"`
	Version   int64     `gorm:"not null;default:1"`
	CreatedAt time.Time `gorm:"not null;index:idx_documents_owner_created,priority:2"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (DocumentModel) TableName() string { return "documents" }

type SignatureModel struct {
	ID           string         `gorm:"primaryKey"`
	DocumentID   string         `gorm:"not null;index"`
	SignerID     string         `gorm:"not null;index"`
	SignatureImg string         `gorm:"type:text;not null"`
	Placement    datatypes.JSON `gorm:"not null"`
	SignedAt     time.Time      `gorm:"not null"`
}

func (SignatureModel) TableName() string { return "signatures" }
