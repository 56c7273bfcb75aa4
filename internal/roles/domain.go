package roles

import "time"

// Role represents a role for management.
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Members     int64     `json:"members"`
	Codes       []int64   `json:"codes"`
	Retired     []int64   `json:"retired"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RoleListFilters controls ordering of the role list.
type RoleListFilters struct {
	SortBy  string
	SortDir string
}
