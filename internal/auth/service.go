package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/propdesk/propdesk/internal/permission"
	"github.com/propdesk/propdesk/internal/shared"
)

// ErrPermissionsUnavailable is returned when a login cannot load the grants of
// the account. The login is refused rather than started with no permissions.
var ErrPermissionsUnavailable = errors.New("auth: permissions unavailable")

// PermissionLoader fetches the grants of an account at login.
type PermissionLoader interface {
	Records(ctx context.Context, userID int64) ([]permission.Record, error)
}

// Service wraps authentication business rules.
type Service struct {
	repo  Repository
	perms PermissionLoader
	now   func() time.Time
}

// NewService constructs a new Service.
func NewService(repo Repository, perms PermissionLoader) *Service {
	return &Service{repo: repo, perms: perms, now: time.Now}
}

// Login validates credentials and returns the account with its granted
// permission records.
func (s *Service) Login(ctx context.Context, email, password string) (*User, []permission.Record, error) {
	user, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return nil, nil, err
	}
	if s.perms == nil {
		return user, []permission.Record{}, nil
	}
	records, err := s.perms.Records(ctx, user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrPermissionsUnavailable, err)
	}
	return user, records, nil
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

// RegisterSession records the login in postgres until ttl elapses.
func (s *Service) RegisterSession(ctx context.Context, id string, userID int64, ttl time.Duration, ip, ua string) error {
	return s.repo.CreateSession(ctx, id, userID, s.now().Add(ttl), ip, ua)
}

// RemoveSession deletes a session record from postgres.
func (s *Service) RemoveSession(ctx context.Context, id string) error {
	return s.repo.DeleteSession(ctx, id)
}

// HashPassword derives the stored hash for a new password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
