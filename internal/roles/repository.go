package roles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Querier is the subset of pgx used by the repository.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	db Querier
}

// NewRepository constructs a repository.
func NewRepository(db Querier) *Repository {
	return &Repository{db: db}
}

var sortColumns = map[string]string{
	"id":         "r.id",
	"name":       "r.name",
	"created_at": "r.created_at",
}

// ListRoles returns all roles with their member counts and direct codes.
func (r *Repository) ListRoles(ctx context.Context, filters RoleListFilters) ([]Role, error) {
	column, ok := sortColumns[filters.SortBy]
	if !ok {
		column = "r.id"
	}
	dir := "ASC"
	if filters.SortDir == "desc" {
		dir = "DESC"
	}
	query := fmt.Sprintf(`SELECT r.id, r.name, r.description,
	(SELECT COUNT(*) FROM user_roles ur WHERE ur.role_id = r.id),
	COALESCE((SELECT array_agg(rp.permission_code ORDER BY rp.permission_code) FROM role_permissions rp WHERE rp.role_id = r.id), '{}'),
	r.created_at, r.updated_at
FROM roles r ORDER BY %s %s`, column, dir)

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("roles: list: %w", err)
	}
	defer rows.Close()
	roles := []Role{}
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.Members, &role.Codes, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, fmt.Errorf("roles: scan: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("roles: list: %w", err)
	}
	return roles, nil
}
