package users

import (
	"context"
	"fmt"

	"github.com/aurum-atelier/atelier-admin/internal/platform/httpx"
	"github.com/aurum-atelier/atelier-admin/internal/rbac"
	"github.com/aurum-atelier/atelier-admin/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context, query string, limit, offset int) ([]User, error)
	CountUsers(ctx context.Context, query string) (int, error)
}

// GrantReader reads stored grants for a user.
type GrantReader interface {
	SubjectCodes(ctx context.Context, subject rbac.Subject) ([]int64, error)
	UserHeldCodes(ctx context.Context, userID int64) ([]int64, error)
}

// Service handles user business logic.
type Service struct {
	repo   RepositoryPort
	grants GrantReader
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, grants GrantReader) *Service {
	return &Service{repo: repo, grants: grants}
}

// ListUsers returns one page of users.
func (s *Service) ListUsers(ctx context.Context, f ListFilters) (Page, error) {
	total, err := s.repo.CountUsers(ctx, f.Query)
	if err != nil {
		return Page{}, err
	}
	p := shared.NewPagination(f.Page, f.PerPage, total)
	list, err := s.repo.ListUsers(ctx, f.Query, p.PerPage, shared.Offset(p.Page, p.PerPage))
	if err != nil {
		return Page{}, err
	}
	return Page{Users: list, Pagination: p}, nil
}

// Grants returns the user's direct codes and their full held set.
func (s *Service) Grants(ctx context.Context, userID int64) (Grants, error) {
	if userID <= 0 {
		return Grants{}, fmt.Errorf("%w: user id", httpx.ErrValidation)
	}
	direct, err := s.grants.SubjectCodes(ctx, rbac.Subject{Kind: rbac.SubjectUser, ID: userID})
	if err != nil {
		return Grants{}, err
	}
	held, err := s.grants.UserHeldCodes(ctx, userID)
	if err != nil {
		return Grants{}, err
	}
	return Grants{UserID: userID, Direct: direct, Held: held}, nil
}
