package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/propdesk/propdesk/internal/platform/db"
)

// Repository defines persistence operations for permission grants.
type Repository interface {
	ListPermissions(ctx context.Context) ([]Permission, error)
	PermissionExists(ctx context.Context, id string) (bool, error)
	UserPermissions(ctx context.Context, userID int64) ([]Permission, error)
	InsertGrant(ctx context.Context, grant Grant) error
	DeleteGrant(ctx context.Context, userID int64, permissionID string) (int64, error)
	ReplaceGrants(ctx context.Context, userID int64, permissionIDs []string, grantedBy int64) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const permissionColumns = `p.id::text, p.name, p.description, p.resource, p.action, p.names`

// ListPermissions returns the catalog ordered by name.
func (r *PGRepository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+permissionColumns+` FROM permissions p ORDER BY p.name`)
	if err != nil {
		return nil, err
	}
	return scanPermissions(rows)
}

// PermissionExists reports whether the catalog contains id.
func (r *PGRepository) PermissionExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM permissions WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

// UserPermissions returns the permissions granted to a user in grant order.
func (r *PGRepository) UserPermissions(ctx context.Context, userID int64) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+permissionColumns+`
FROM user_permissions up
JOIN permissions p ON p.id = up.permission_id
WHERE up.user_id = $1
ORDER BY up.granted_at, p.name`, userID)
	if err != nil {
		return nil, err
	}
	return scanPermissions(rows)
}

// InsertGrant stores a grant. Granting twice returns ErrDuplicateGrant.
func (r *PGRepository) InsertGrant(ctx context.Context, grant Grant) error {
	grantedAt := grant.GrantedAt
	if grantedAt.IsZero() {
		grantedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO user_permissions (user_id, permission_id, granted_by, granted_at) VALUES ($1, $2, $3, $4)`,
		grant.UserID, grant.PermissionID, nullableActor(grant.GrantedBy), grantedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateGrant
		}
		return err
	}
	return nil
}

// DeleteGrant removes a grant and returns the number of affected rows.
func (r *PGRepository) DeleteGrant(ctx context.Context, userID int64, permissionID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM user_permissions WHERE user_id = $1 AND permission_id = $2`, userID, permissionID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ReplaceGrants swaps the whole grant set of a user in one transaction.
func (r *PGRepository) ReplaceGrants(ctx context.Context, userID int64, permissionIDs []string, grantedBy int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM user_permissions WHERE user_id = $1`, userID); err != nil {
			return err
		}
		if len(permissionIDs) == 0 {
			return nil
		}
		now := time.Now().UTC()
		batch := &pgx.Batch{}
		for _, id := range permissionIDs {
			batch.Queue(`INSERT INTO user_permissions (user_id, permission_id, granted_by, granted_at) VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
				userID, id, nullableActor(grantedBy), now)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

func scanPermissions(rows pgx.Rows) ([]Permission, error) {
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var (
			p           Permission
			description *string
			resource    *string
			action      *string
			names       []byte
		)
		if err := rows.Scan(&p.ID, &p.Name, &description, &resource, &action, &names); err != nil {
			return nil, err
		}
		p.Description = deref(description)
		p.Resource = deref(resource)
		p.Action = deref(action)
		if len(names) > 0 {
			if err := json.Unmarshal(names, &p.Names); err != nil {
				return nil, err
			}
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullableActor(id int64) *int64 {
	if id <= 0 {
		return nil
	}
	return &id
}

var _ Repository = (*PGRepository)(nil)
