package rbac

import (
	"fmt"
	"strconv"
	"time"

	"github.com/aurum-atelier/atelier-admin/internal/platform/httpx"
)

// SubjectKind names the kind of principal permission codes are granted to.
type SubjectKind string

const (
	SubjectUser SubjectKind = "user"
	SubjectRole SubjectKind = "role"
)

// ParseSubjectKind validates the API representation of a subject kind.
func ParseSubjectKind(raw string) (SubjectKind, error) {
	switch SubjectKind(raw) {
	case SubjectUser, SubjectRole:
		return SubjectKind(raw), nil
	default:
		return "", fmt.Errorf("%w: unknown subject kind %q", httpx.ErrValidation, raw)
	}
}

// Subject identifies a user or role whose direct grants are being read or
// replaced.
type Subject struct {
	Kind SubjectKind `json:"kind"`
	ID   int64       `json:"id"`
}

func (s Subject) String() string {
	return string(s.Kind) + ":" + strconv.FormatInt(s.ID, 10)
}

// Diff describes what a replacement changed.
type Diff struct {
	Added   []int64 `json:"added"`
	Removed []int64 `json:"removed"`
}

// Empty reports whether nothing changed.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// SyncResult summarises a catalog synchronisation run.
type SyncResult struct {
	Upserted int64     `json:"upserted"`
	Retired  int64     `json:"retired"`
	At       time.Time `json:"at"`
}
