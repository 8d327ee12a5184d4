package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/propdesk/propdesk/internal/permission"
	"github.com/propdesk/propdesk/internal/shared"
)

var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = errors.New("rbac: not found")
	// ErrInvalidPermission indicates a malformed permission identifier.
	ErrInvalidPermission = errors.New("rbac: invalid permission id")
	// ErrInvalidUser indicates a missing or malformed user identifier.
	ErrInvalidUser = errors.New("rbac: invalid user id")
	// ErrDuplicateGrant is returned by repositories when a grant already exists.
	ErrDuplicateGrant = errors.New("rbac: grant already exists")
)

// Notifier announces that a user's permission set changed. User id 0 means
// every user.
type Notifier interface {
	Notify(ctx context.Context, userID int64) error
}

// NotifierFunc is an adapter to use ordinary functions as Notifier.
type NotifierFunc func(ctx context.Context, userID int64) error

// Notify calls f(ctx, userID).
func (f NotifierFunc) Notify(ctx context.Context, userID int64) error {
	return f(ctx, userID)
}

// Auditor records grant changes. *shared.AuditLogger satisfies it.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Audit actions written for grant changes.
const (
	AuditGrant   = "permission.grant"
	AuditRevoke  = "permission.revoke"
	AuditReplace = "permission.replace"
)

// Service orchestrates grant and revoke flows.
type Service struct {
	repo     Repository
	notifier Notifier
	auditor  Auditor
	logger   *slog.Logger
	loads    singleflight.Group
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithAuditor records every committed grant change.
func WithAuditor(auditor Auditor) ServiceOption {
	return func(s *Service) {
		s.auditor = auditor
	}
}

// NewService constructs a Service. A nil notifier disables invalidation.
func NewService(repo Repository, notifier Notifier, logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{repo: repo, notifier: notifier, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListPermissions returns the catalog.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.repo.ListPermissions(ctx)
}

// Records loads the session records of a user. Concurrent loads for the same
// user share one repository call.
func (s *Service) Records(ctx context.Context, userID int64) ([]permission.Record, error) {
	if userID <= 0 {
		return nil, ErrInvalidUser
	}
	key := strconv.FormatInt(userID, 10)
	resultChan := s.loads.DoChan(key, func() (interface{}, error) {
		perms, err := s.repo.UserPermissions(context.WithoutCancel(ctx), userID)
		if err != nil {
			return nil, err
		}
		return Records(perms), nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return nil, fmt.Errorf("rbac: load user permissions: %w", res.Err)
		}
		records := res.Val.([]permission.Record)
		out := make([]permission.Record, len(records))
		copy(out, records)
		return out, nil
	}
}

// Grant gives a permission to a user. Granting an existing permission is a
// no-op and does not notify.
func (s *Service) Grant(ctx context.Context, actorID, userID int64, permissionID string) error {
	id, err := s.checkTarget(ctx, userID, permissionID)
	if err != nil {
		return err
	}
	err = s.repo.InsertGrant(ctx, Grant{UserID: userID, PermissionID: id, GrantedBy: actorID})
	if errors.Is(err, ErrDuplicateGrant) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("rbac: grant: %w", err)
	}
	s.audit(ctx, actorID, userID, AuditGrant, map[string]any{"permission_id": id})
	s.notify(ctx, userID)
	return nil
}

// Revoke removes a permission from a user.
func (s *Service) Revoke(ctx context.Context, actorID, userID int64, permissionID string) error {
	if userID <= 0 {
		return ErrInvalidUser
	}
	id, err := parsePermissionID(permissionID)
	if err != nil {
		return err
	}
	rows, err := s.repo.DeleteGrant(ctx, userID, id)
	if err != nil {
		return fmt.Errorf("rbac: revoke: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	s.logger.Info("permission revoked", slog.Int64("actor", actorID), slog.Int64("user", userID), slog.String("permission", id))
	s.audit(ctx, actorID, userID, AuditRevoke, map[string]any{"permission_id": id})
	s.notify(ctx, userID)
	return nil
}

// ReplaceGrants sets the complete permission set of a user.
func (s *Service) ReplaceGrants(ctx context.Context, actorID, userID int64, permissionIDs []string) error {
	if userID <= 0 {
		return ErrInvalidUser
	}
	ids := make([]string, 0, len(permissionIDs))
	seen := make(map[string]struct{}, len(permissionIDs))
	for _, raw := range permissionIDs {
		id, err := parsePermissionID(raw)
		if err != nil {
			return err
		}
		if _, dup := seen[id]; dup {
			continue
		}
		exists, err := s.repo.PermissionExists(ctx, id)
		if err != nil {
			return fmt.Errorf("rbac: lookup permission: %w", err)
		}
		if !exists {
			return fmt.Errorf("%w: permission %s", ErrNotFound, id)
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if err := s.repo.ReplaceGrants(ctx, userID, ids, actorID); err != nil {
		return fmt.Errorf("rbac: replace grants: %w", err)
	}
	s.audit(ctx, actorID, userID, AuditReplace, map[string]any{"permission_ids": ids})
	s.notify(ctx, userID)
	return nil
}

func (s *Service) checkTarget(ctx context.Context, userID int64, permissionID string) (string, error) {
	if userID <= 0 {
		return "", ErrInvalidUser
	}
	id, err := parsePermissionID(permissionID)
	if err != nil {
		return "", err
	}
	exists, err := s.repo.PermissionExists(ctx, id)
	if err != nil {
		return "", fmt.Errorf("rbac: lookup permission: %w", err)
	}
	if !exists {
		return "", ErrNotFound
	}
	return id, nil
}

// notify logs instead of failing: the grant is already committed and the
// periodic resync job repairs missed invalidations.
func (s *Service) notify(ctx context.Context, userID int64) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, userID); err != nil {
		s.logger.Warn("permission invalidation failed", slog.Int64("user", userID), slog.Any("error", err))
	}
}

func (s *Service) audit(ctx context.Context, actorID, userID int64, action string, meta map[string]any) {
	if s.auditor == nil {
		return
	}
	err := s.auditor.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "user_permissions",
		EntityID: strconv.FormatInt(userID, 10),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("audit permission change", slog.String("action", action), slog.Int64("user", userID), slog.Any("error", err))
	}
}

func parsePermissionID(raw string) (string, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidPermission, raw)
	}
	return id.String(), nil
}
