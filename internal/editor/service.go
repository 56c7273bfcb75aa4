package editor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aurum-atelier/atelier-admin/internal/permission"
	"github.com/aurum-atelier/atelier-admin/internal/platform/httpx"
	"github.com/aurum-atelier/atelier-admin/internal/rbac"
	"github.com/aurum-atelier/atelier-admin/internal/shared"
)

// GrantStore reads and replaces a subject's direct grants.
type GrantStore interface {
	SubjectCodes(ctx context.Context, subject Subject) ([]int64, error)
	ReplaceSubjectCodesFrom(ctx context.Context, actorID int64, subject Subject, original, codes []int64) (rbac.Diff, error)
}

// Invalidator drops cached held sets after grants change.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Service drives drafts through open, toggle and submit.
type Service struct {
	catalog *permission.Catalog
	store   Store
	grants  GrantStore
	held    Invalidator
	logger  *slog.Logger
	now     func() time.Time
}

// NewService constructs a Service.
func NewService(catalog *permission.Catalog, store Store, grants GrantStore, held Invalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{catalog: catalog, store: store, grants: grants, held: held, logger: logger, now: time.Now}
}

// Open starts a draft seeded with the subject's stored grants. Stored grants
// that break the requires graph are reported on the draft but kept as they
// are; only later toggles touch them.
func (s *Service) Open(ctx context.Context, subject Subject) (Draft, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return Draft{}, err
	}
	codes, err := s.grants.SubjectCodes(ctx, subject)
	if err != nil {
		return Draft{}, fmt.Errorf("editor: load grants for %s: %w", subject, err)
	}
	seed := permission.FromInt64s(codes)
	now := s.now().UTC()
	d := Draft{
		ID:         uuid.New(),
		Subject:    subject,
		OpenedBy:   actor,
		Codes:      seed.Int64s(),
		Original:   seed.Int64s(),
		Violations: s.violations(seed),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if len(d.Violations) > 0 {
		s.logger.Warn("stored grants violate requires graph",
			slog.String("subject", subject.String()),
			slog.Any("violations", d.Violations))
	}
	if err := s.store.Save(ctx, d); err != nil {
		return Draft{}, err
	}
	return d, nil
}

// Get returns a draft owned by the caller.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Draft, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return Draft{}, err
	}
	d, err := s.store.Load(ctx, id)
	if err != nil {
		return Draft{}, err
	}
	if d.OpenedBy != actor {
		return Draft{}, ErrNotOwner
	}
	return d, nil
}

// Toggle grants or revokes one code on the draft. The returned draft holds the
// full selection after the cascade and Change lists every code it touched.
func (s *Service) Toggle(ctx context.Context, id uuid.UUID, code permission.Code, state permission.State) (Draft, Change, error) {
	if !s.catalog.Known(code) {
		return Draft{}, Change{}, fmt.Errorf("%w: %d", ErrUnknownCode, code)
	}
	unlock, err := s.store.Lock(ctx, id)
	if err != nil {
		return Draft{}, Change{}, err
	}
	defer unlock()

	d, err := s.Get(ctx, id)
	if err != nil {
		return Draft{}, Change{}, err
	}
	var change permission.Change
	sel := permission.NewSelection(s.catalog, func(ch permission.Change) { change = ch })
	sel.Seed(int64sToCodes(d.Codes)...)
	current := sel.Toggle(code, state)

	d.Codes = current.Int64s()
	d.Violations = s.violations(current)
	d.UpdatedAt = s.now().UTC()
	if err := s.store.Save(ctx, d); err != nil {
		return Draft{}, Change{}, err
	}
	return d, changeFrom(change), nil
}

// Submit persists the draft's codes as the subject's direct grants, drops the
// draft and invalidates cached held sets. If the stored grants moved since the
// draft was opened nothing is written and the draft is kept.
func (s *Service) Submit(ctx context.Context, id uuid.UUID) (rbac.Diff, error) {
	unlock, err := s.store.Lock(ctx, id)
	if err != nil {
		return rbac.Diff{}, err
	}
	defer unlock()

	d, err := s.Get(ctx, id)
	if err != nil {
		return rbac.Diff{}, err
	}
	diff, err := s.grants.ReplaceSubjectCodesFrom(ctx, d.OpenedBy, d.Subject, d.Original, d.Codes)
	if err != nil {
		return rbac.Diff{}, fmt.Errorf("editor: submit %s: %w", d.Subject, err)
	}
	if !diff.Empty() {
		if err := s.held.Invalidate(ctx); err != nil {
			s.logger.Warn("invalidate held cache", slog.Any("error", err))
		}
	}
	if err := s.store.Delete(ctx, id); err != nil {
		s.logger.Warn("drop submitted draft", slog.String("draft_id", id.String()), slog.Any("error", err))
	}
	s.logger.Info("permissions submitted",
		slog.String("subject", d.Subject.String()),
		slog.Int64("actor_id", d.OpenedBy),
		slog.Int("added", len(diff.Added)),
		slog.Int("removed", len(diff.Removed)))
	return diff, nil
}

// Discard drops a draft without saving. It waits on the same lock as
// toggles and submits, so a draft is never dropped mid-submit.
func (s *Service) Discard(ctx context.Context, id uuid.UUID) error {
	unlock, err := s.store.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return s.store.Delete(ctx, id)
}

func (s *Service) violations(sel permission.Set) []permission.Violation {
	v := permission.Violations(s.catalog, sel)
	if v == nil {
		return []permission.Violation{}
	}
	return v
}

func actorFrom(ctx context.Context) (int64, error) {
	actor, ok := shared.ActorFromContext(ctx)
	if !ok {
		return 0, fmt.Errorf("%w: %v", httpx.ErrUnauthorized, errNoActor)
	}
	return actor, nil
}
