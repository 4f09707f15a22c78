package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"docsign/pkg/domain"
)

const migrateLockID int64 = 51304417

// SQLitePrefix selects the embedded sqlite driver, e.g. "sqlite:/var/lib/docsign/meta.db".
const SQLitePrefix = "sqlite:"

// GormStore implements Store using GORM on Postgres (or sqlite for
// single-node installs and tests).
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("database dsn required")
	}
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(openDialector(dsn), &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if db.Dialector.Name() == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("get sql db: %w", err)
		}
		// sqlite allows one writer; a single connection avoids SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	}
	migrate := func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &AccountModel{}, &DocumentModel{}, &SignatureModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}
	if db.Dialector.Name() == "postgres" {
		err = withMigrationLock(db, migrate)
	} else {
		err = migrate(db)
	}
	if err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func openDialector(dsn string) gorm.Dialector {
	if strings.HasPrefix(dsn, SQLitePrefix) {
		return sqlite.Open(strings.TrimPrefix(dsn, SQLitePrefix))
	}
	return postgres.Open(dsn)
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks database connectivity.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// CreateUser inserts a new user.
func (s *GormStore) CreateUser(ctx context.Context, u domain.User) error {
	model := userToModel(u)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return translateErr(err)
	}
	return nil
}

// HasUserEmail checks if email exists.
func (s *GormStore) HasUserEmail(ctx context.Context, email string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(ctx context.Context, id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// LinkAccount records an external identity; relinking the same identity is a no-op.
func (s *GormStore) LinkAccount(ctx context.Context, a domain.Account) error {
	model := AccountModel{
		ID:                a.ID,
		UserID:            a.UserID,
		Provider:          a.Provider,
		ProviderAccountID: a.ProviderAccountID,
		CreatedAt:         a.CreatedAt,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_account_id"}},
		DoNothing: true,
	}).Create(&model).Error
}

// GetUserByAccount resolves the user linked to an external identity.
func (s *GormStore) GetUserByAccount(ctx context.Context, provider, providerAccountID string) (domain.User, bool, error) {
	var account AccountModel
	err := s.db.WithContext(ctx).
		Where("provider = ? AND provider_account_id = ?", provider, providerAccountID).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return s.GetUserByID(ctx, account.UserID)
}

// CreateDocument inserts a document record.
func (s *GormStore) CreateDocument(ctx context.Context, d domain.Document) error {
	model := documentToModel(d)
	if model.Version == 0 {
		model.Version = 1
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return translateErr(err)
	}
	return nil
}

// GetDocument retrieves a document.
func (s *GormStore) GetDocument(ctx context.Context, id string) (domain.Document, bool, error) {
	var model DocumentModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Document{}, false, nil
		}
		return domain.Document{}, false, err
	}
	return documentFromModel(model), true, nil
}

// ListDocumentsByOwner returns the owner's documents, newest first.
func (s *GormStore) ListDocumentsByOwner(ctx context.Context, ownerID string) ([]domain.Document, error) {
	var models []DocumentModel
	if err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC, id DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Document, 0, len(models))
	for _, m := range models {
		res = append(res, documentFromModel(m))
	}
	return res, nil
}

// CompleteSigning applies a signing result if the document is still PENDING
// at the expected version.
func (s *GormStore) CompleteSigning(ctx context.Context, u SigningUpdate) (domain.Document, error) {
	sig, err := signatureToModel(u.Signature)
	if err != nil {
		return domain.Document{}, err
	}
	var updated DocumentModel
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&DocumentModel{}).
			Where("id = ? AND status = ? AND version = ?", u.DocumentID, string(domain.StatusPending), u.ExpectedVersion).
			Updates(map[string]any{
				"status":     string(domain.StatusSigned),
				"file_key":   u.FileKey,
				"url":        u.URL,
				"size_bytes": u.SizeBytes,
				"updated_at": u.UpdatedAt,
				"version":    gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}
		if err := tx.Create(&sig).Error; err != nil {
			return translateErr(err)
		}
		return tx.First(&updated, "id = ?", u.DocumentID).Error
	})
	if err != nil {
		return domain.Document{}, err
	}
	return documentFromModel(updated), nil
}

// DeleteDocument removes a document and its signature history.
func (s *GormStore) DeleteDocument(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&SignatureModel{}, "document_id = ?", id).Error; err != nil {
			return err
		}
		res := tx.Delete(&DocumentModel{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ListSignatures returns a document's signatures, oldest first.
func (s *GormStore) ListSignatures(ctx context.Context, documentID string) ([]domain.Signature, error) {
	var models []SignatureModel
	if err := s.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("signed_at ASC, id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Signature, 0, len(models))
	for _, m := range models {
		sig, err := signatureFromModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, sig)
	}
	return res, nil
}

func translateErr(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Email:        u.Email,
		Name:         u.Name,
		Image:        u.Image,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Email:        m.Email,
		Name:         m.Name,
		Image:        m.Image,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func documentToModel(d domain.Document) DocumentModel {
	status := string(d.Status)
	if status == "" {
		status = string(domain.StatusPending)
	}
	return DocumentModel{
		ID:        d.ID,
		OwnerID:   d.OwnerID,
		Name:      d.Name,
		FileKey:   d.FileKey,
		URL:       d.URL,
		Status:    status,
		SizeBytes: d.SizeBytes,
		PageCount: d.PageCount,
		Version:   d.Version,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func documentFromModel(m DocumentModel) domain.Document {
	return domain.Document{
		ID:        m.ID,
		OwnerID:   m.OwnerID,
		Name:      m.Name,
		FileKey:   m.FileKey,
		URL:       m.URL,
		Status:    domain.DocumentStatus(m.Status),
		SizeBytes: m.SizeBytes,
		PageCount: m.PageCount,
		Version:   m.Version,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func signatureToModel(sig domain.Signature) (SignatureModel, error) {
	placement, err := json.Marshal(sig.Placement)
	if err != nil {
		return SignatureModel{}, fmt.Errorf("encode placement: %w", err)
	}
	return SignatureModel{
		ID:           sig.ID,
		DocumentID:   sig.DocumentID,
		SignerID:     sig.SignerID,
		SignatureImg: sig.SignatureImg,
		Placement:    placement,
		SignedAt:     sig.SignedAt,
	}, nil
}

func signatureFromModel(m SignatureModel) (domain.Signature, error) {
	var placement domain.Placement
	if len(m.Placement) > 0 {
		if err := json.Unmarshal(m.Placement, &placement); err != nil {
			return domain.Signature{}, fmt.Errorf("decode placement: %w", err)
		}
	}
	return domain.Signature{
		ID:           m.ID,
		DocumentID:   m.DocumentID,
		SignerID:     m.SignerID,
		SignatureImg: m.SignatureImg,
		Placement:    placement,
		SignedAt:     m.SignedAt,
	}, nil
}
