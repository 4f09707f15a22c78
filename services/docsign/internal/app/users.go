package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"docsign/pkg/auth"
	"docsign/pkg/domain"
	"docsign/pkg/store"
)

const maxNameLength = 120

// GoogleProfile is the subset of the OpenID userinfo response used for
// linking accounts.
type GoogleProfile struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
}

// Register creates a password account.
func (a *App) Register(ctx context.Context, email, password, name string) (domain.User, error) {
	email = normalizeEmail(email)
	name = strings.TrimSpace(name)
	if email == "" || password == "" || name == "" {
		return domain.User{}, invalid("email, password and name are required")
	}
	if !strings.Contains(email, "@") {
		return domain.User{}, invalid("invalid email address")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return domain.User{}, invalid("name must be at most %d characters", maxNameLength)
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.User{}, &ValidationError{Message: err.Error()}
	}
	exists, err := a.store.HasUserEmail(ctx, email)
	if err != nil {
		return domain.User{}, fmt.Errorf("check email: %w", err)
	}
	if exists {
		return domain.User{}, invalid("user already exists")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	now := a.timestamp()
	user := domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return domain.User{}, invalid("user already exists")
		}
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Login checks a password and issues a session.
func (a *App) Login(ctx context.Context, email, password string) (domain.User, store.Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return domain.User{}, store.Session{}, invalid("email and password are required")
	}
	user, ok, err := a.store.GetUserByEmail(ctx, email)
	if err != nil {
		return domain.User{}, store.Session{}, fmt.Errorf("get user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, store.Session{}, ErrInvalidCredentials
	}
	session, err := a.sessions.NewSession(ctx, user.ID)
	if err != nil {
		return domain.User{}, store.Session{}, fmt.Errorf("new session: %w", err)
	}
	return user, session, nil
}

// LoginWithGoogle resolves a Google identity to a user, linking or creating
// one as needed, and issues a session.
func (a *App) LoginWithGoogle(ctx context.Context, profile GoogleProfile) (domain.User, store.Session, error) {
	user, err := a.resolveGoogleUser(ctx, profile)
	if err != nil {
		return domain.User{}, store.Session{}, err
	}
	session, err := a.sessions.NewSession(ctx, user.ID)
	if err != nil {
		return domain.User{}, store.Session{}, fmt.Errorf("new session: %w", err)
	}
	return user, session, nil
}

func (a *App) resolveGoogleUser(ctx context.Context, profile GoogleProfile) (domain.User, error) {
	subject := strings.TrimSpace(profile.Subject)
	if subject == "" {
		return domain.User{}, invalid("google profile has no subject")
	}
	user, ok, err := a.store.GetUserByAccount(ctx, domain.ProviderGoogle, subject)
	if err != nil {
		return domain.User{}, fmt.Errorf("get user by account: %w", err)
	}
	if ok {
		return user, nil
	}

	email := normalizeEmail(profile.Email)
	if email == "" || !profile.EmailVerified {
		return domain.User{}, ErrGoogleEmailMissing
	}
	user, ok, err = a.store.GetUserByEmail(ctx, email)
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	now := a.timestamp()
	if !ok {
		user = domain.User{
			ID:        uuid.NewString(),
			Email:     email,
			Name:      strings.TrimSpace(profile.Name),
			Image:     strings.TrimSpace(profile.Picture),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := a.store.CreateUser(ctx, user); err != nil {
			if !errors.Is(err, store.ErrDuplicate) {
				return domain.User{}, fmt.Errorf("create user: %w", err)
			}
			// A concurrent first login created the same email.
			user, ok, err = a.store.GetUserByEmail(ctx, email)
			if err != nil {
				return domain.User{}, fmt.Errorf("get user: %w", err)
			}
			if !ok {
				return domain.User{}, fmt.Errorf("create user: %w", store.ErrDuplicate)
			}
		}
	}
	account := domain.Account{
		ID:                uuid.NewString(),
		UserID:            user.ID,
		Provider:          domain.ProviderGoogle,
		ProviderAccountID: subject,
		CreatedAt:         now,
	}
	if err := a.store.LinkAccount(ctx, account); err != nil && !errors.Is(err, store.ErrDuplicate) {
		return domain.User{}, fmt.Errorf("link account: %w", err)
	}
	return user, nil
}

// Authenticate resolves a session token to its user.
func (a *App) Authenticate(ctx context.Context, token string) (domain.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.User{}, ErrUnauthenticated
	}
	userID, ok, err := a.sessions.GetUserIDByToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrInvalidSession) {
			return domain.User{}, ErrUnauthenticated
		}
		return domain.User{}, fmt.Errorf("verify session: %w", err)
	}
	if !ok {
		return domain.User{}, ErrUnauthenticated
	}
	user, ok, err := a.store.GetUserByID(ctx, userID)
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrUnauthenticated
	}
	return user, nil
}

// Logout revokes token until it would have expired.
func (a *App) Logout(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return ErrUnauthenticated
	}
	if err := a.sessions.DeleteSession(ctx, token); err != nil {
		if errors.Is(err, store.ErrInvalidSession) {
			return ErrUnauthenticated
		}
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
