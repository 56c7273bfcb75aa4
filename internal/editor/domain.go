// Package editor keeps server-side permission drafts for user and role forms.
// A draft starts from the subject's stored grants, absorbs toggles through the
// selection controller and is written back in one transaction on submit.
package editor

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aurum-atelier/atelier-admin/internal/permission"
	"github.com/aurum-atelier/atelier-admin/internal/platform/httpx"
	"github.com/aurum-atelier/atelier-admin/internal/rbac"
)

var (
	ErrDraftNotFound = fmt.Errorf("%w: draft", httpx.ErrNotFound)
	ErrDraftBusy     = fmt.Errorf("%w: draft is being edited by another request", httpx.ErrConflict)
	ErrNotOwner      = fmt.Errorf("%w: draft belongs to another user", httpx.ErrForbidden)
	ErrUnknownCode   = fmt.Errorf("%w: unknown permission code", httpx.ErrValidation)
	errNoActor       = errors.New("editor: no authenticated actor")
)

// Subject is the user or role a draft edits.
type Subject = rbac.Subject

// Draft is an in-progress edit of one subject's direct grants.
type Draft struct {
	ID         uuid.UUID              `json:"id"`
	Subject    Subject                `json:"subject"`
	OpenedBy   int64                  `json:"opened_by"`
	Codes      []int64                `json:"codes"`
	Original   []int64                `json:"original"`
	Violations []permission.Violation `json:"violations"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// Dirty reports whether the draft differs from what was loaded.
func (d Draft) Dirty() bool {
	return !permission.FromInt64s(d.Codes).Equal(permission.FromInt64s(d.Original))
}

// Change is the visible effect of one toggle, cascade included.
type Change struct {
	Code    int64   `json:"code"`
	State   string  `json:"state"`
	Added   []int64 `json:"added"`
	Removed []int64 `json:"removed"`
}

func changeFrom(ch permission.Change) Change {
	return Change{
		Code:    int64(ch.Code),
		State:   ch.State.String(),
		Added:   codesToInt64s(ch.Added),
		Removed: codesToInt64s(ch.Removed),
	}
}

func codesToInt64s(codes []permission.Code) []int64 {
	out := make([]int64, 0, len(codes))
	for _, c := range codes {
		out = append(out, int64(c))
	}
	return out
}

func int64sToCodes(values []int64) []permission.Code {
	out := make([]permission.Code, 0, len(values))
	for _, v := range values {
		out = append(out, permission.Code(v))
	}
	return out
}
