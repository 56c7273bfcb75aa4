package roles

import (
	"context"
	"fmt"

	"github.com/aurum-atelier/atelier-admin/internal/permission"
	"github.com/aurum-atelier/atelier-admin/internal/platform/httpx"
)

// ErrBadOrder rejects a sort key or direction the listing does not offer.
var ErrBadOrder = fmt.Errorf("%w: unknown role order", httpx.ErrValidation)

// Lister reads roles in the requested order.
type Lister interface {
	ListRoles(ctx context.Context, filters RoleListFilters) ([]Role, error)
}

// Service lists roles for the management screen and flags grants that the
// loaded catalog no longer declares.
type Service struct {
	roles   Lister
	catalog *permission.Catalog
}

// NewService builds Service instance. A nil catalog skips retired flagging.
func NewService(roles Lister, catalog *permission.Catalog) *Service {
	return &Service{roles: roles, catalog: catalog}
}

// ListRoles checks the requested order, then returns every role with the
// codes it still carries after they were retired from the catalog.
func (s *Service) ListRoles(ctx context.Context, filters RoleListFilters) ([]Role, error) {
	if _, ok := sortColumns[filters.SortBy]; filters.SortBy != "" && !ok {
		return nil, fmt.Errorf("%w: sort %q", ErrBadOrder, filters.SortBy)
	}
	switch filters.SortDir {
	case "", "asc", "desc":
	default:
		return nil, fmt.Errorf("%w: dir %q", ErrBadOrder, filters.SortDir)
	}
	roles, err := s.roles.ListRoles(ctx, filters)
	if err != nil {
		return nil, err
	}
	for i := range roles {
		roles[i].Retired = s.retired(roles[i].Codes)
	}
	return roles, nil
}

func (s *Service) retired(codes []int64) []int64 {
	out := []int64{}
	if s.catalog == nil {
		return out
	}
	for _, code := range codes {
		if !s.catalog.Known(permission.Code(code)) {
			out = append(out, code)
		}
	}
	return out
}
