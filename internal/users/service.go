package users

import (
	"context"

	"github.com/propdesk/propdesk/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context, filter ListFilter) ([]User, int, error)
	GetUser(ctx context.Context, id int64) (User, error)
}

// Service handles staff directory logic.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// ListUsers returns one page of the directory.
func (s *Service) ListUsers(ctx context.Context, page shared.PageRequest, activeOnly bool) ([]User, shared.Pagination, error) {
	users, total, err := s.repo.ListUsers(ctx, ListFilter{ActiveOnly: activeOnly, Limit: page.PerPage, Offset: page.Offset()})
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	if users == nil {
		users = []User{}
	}
	return users, shared.NewPagination(page.Page, page.PerPage, total), nil
}

// GetUser returns one staff member.
func (s *Service) GetUser(ctx context.Context, id int64) (User, error) {
	return s.repo.GetUser(ctx, id)
}
