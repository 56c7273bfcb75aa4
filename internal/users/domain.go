package users

import (
	"time"

	"github.com/aurum-atelier/atelier-admin/internal/shared"
)

// User represents a user account for management.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListFilters narrows the user list.
type ListFilters struct {
	Query   string
	Page    int
	PerPage int
}

// Page is one page of users.
type Page struct {
	Users      []User            `json:"users"`
	Pagination shared.Pagination `json:"pagination"`
}

// Grants shows a user's direct codes next to everything they hold.
type Grants struct {
	UserID int64   `json:"user_id"`
	Direct []int64 `json:"direct"`
	Held   []int64 `json:"held"`
}
