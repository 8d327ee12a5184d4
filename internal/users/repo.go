package users

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates an unknown staff id.
var ErrNotFound = errors.New("users: not found")

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListUsers returns one page of users and the total matching count.
func (r *Repository) ListUsers(ctx context.Context, filter ListFilter) ([]User, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM users WHERE ($1 = false OR is_active)`, filter.ActiveOnly).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, email, coalesce(name, ''), is_active, created_at, updated_at
FROM users
WHERE ($1 = false OR is_active)
ORDER BY id
LIMIT $2 OFFSET $3`, filter.ActiveOnly, filter.Limit, filter.Offset)
	if err != nil {
		return nil, 0, err
	}
	users, err := pgx.CollectRows(rows, scanUser)
	if err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// GetUser returns one user.
func (r *Repository) GetUser(ctx context.Context, id int64) (User, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, email, coalesce(name, ''), is_active, created_at, updated_at FROM users WHERE id = $1`, id)
	if err != nil {
		return User{}, err
	}
	user, err := pgx.CollectExactlyOneRow(rows, scanUser)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return user, err
}

func scanUser(row pgx.CollectableRow) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.IsActive, &user.CreatedAt, &user.UpdatedAt)
	return user, err
}
