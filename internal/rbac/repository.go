package rbac

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/aurum-atelier/atelier-admin/internal/permission"
	"github.com/aurum-atelier/atelier-admin/internal/platform/db"
	"github.com/aurum-atelier/atelier-admin/internal/platform/httpx"
	"github.com/aurum-atelier/atelier-admin/internal/shared"
)

const (
	pgForeignKeyViolation = "23503"

	// AuditActionReplace is recorded whenever a subject's direct grants change.
	AuditActionReplace = "permissions.replace"
)

// DBTX is the query surface shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Conn is a DBTX that can also open transactions.
type Conn interface {
	DBTX
	db.Beginner
}

// Repository persists permission grants in PostgreSQL.
type Repository struct {
	conn  Conn
	audit *shared.AuditLogger
	now   func() time.Time
}

// NewRepository constructs a repository. audit may be nil.
func NewRepository(conn Conn, audit *shared.AuditLogger) *Repository {
	return &Repository{conn: conn, audit: audit, now: time.Now}
}

// Retired codes stay granted in storage but are no longer held.
const heldCodesSQL = `
SELECT up.permission_code
FROM user_permissions up
JOIN permissions p ON p.code = up.permission_code AND p.retired_at IS NULL
WHERE up.user_id = $1
UNION
SELECT rp.permission_code
FROM user_roles ur
JOIN role_permissions rp ON rp.role_id = ur.role_id
JOIN permissions p ON p.code = rp.permission_code AND p.retired_at IS NULL
WHERE ur.user_id = $1
ORDER BY 1`

// UserHeldCodes returns the codes a user holds directly or through roles.
// Inactive users hold nothing.
func (r *Repository) UserHeldCodes(ctx context.Context, userID int64) ([]int64, error) {
	var active bool
	if err := r.conn.QueryRow(ctx, `SELECT is_active FROM users WHERE id = $1`, userID).Scan(&active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("rbac: user %d: %w", userID, httpx.ErrNotFound)
		}
		return nil, fmt.Errorf("rbac: load user: %w", err)
	}
	if !active {
		return []int64{}, nil
	}
	rows, err := r.conn.Query(ctx, heldCodesSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("rbac: held codes: %w", err)
	}
	codes, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("rbac: held codes: %w", err)
	}
	return nonNil(codes), nil
}

// SubjectCodes returns the codes granted directly to a user or role.
func (r *Repository) SubjectCodes(ctx context.Context, subject Subject) ([]int64, error) {
	t, err := tablesFor(subject.Kind)
	if err != nil {
		return nil, err
	}
	var exists bool
	if err := r.conn.QueryRow(ctx, fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, t.subjects), subject.ID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("rbac: subject %s: %w", subject, err)
	}
	if !exists {
		return nil, fmt.Errorf("rbac: subject %s: %w", subject, httpx.ErrNotFound)
	}
	return grantedCodes(ctx, r.conn, t, subject.ID)
}

// ErrGrantsChanged reports that a subject's grants moved on after the caller
// read them.
var ErrGrantsChanged = fmt.Errorf("%w: grants were changed by someone else", httpx.ErrConflict)

// ReplaceSubjectCodes overwrites a subject's direct grants with codes and
// returns what changed. The subject row is locked for the duration.
func (r *Repository) ReplaceSubjectCodes(ctx context.Context, actorID int64, subject Subject, codes []int64) (Diff, error) {
	return r.replace(ctx, actorID, subject, nil, codes)
}

// ReplaceSubjectCodesFrom is ReplaceSubjectCodes guarded by the grants the
// caller started from. When the stored grants no longer equal original
// nothing is written and ErrGrantsChanged is returned.
func (r *Repository) ReplaceSubjectCodesFrom(ctx context.Context, actorID int64, subject Subject, original, codes []int64) (Diff, error) {
	expected := permission.FromInt64s(original)
	return r.replace(ctx, actorID, subject, expected, codes)
}

func (r *Repository) replace(ctx context.Context, actorID int64, subject Subject, expected permission.Set, codes []int64) (Diff, error) {
	t, err := tablesFor(subject.Kind)
	if err != nil {
		return Diff{}, err
	}
	var diff Diff
	err = db.WithTx(ctx, r.conn, func(tx pgx.Tx) error {
		var id int64
		if err := tx.QueryRow(ctx, fmt.Sprintf(`SELECT id FROM %s WHERE id = $1 FOR UPDATE`, t.subjects), subject.ID).Scan(&id); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("rbac: subject %s: %w", subject, httpx.ErrNotFound)
			}
			return fmt.Errorf("rbac: lock subject: %w", err)
		}

		current, err := grantedCodes(ctx, tx, t, id)
		if err != nil {
			return err
		}
		before := permission.FromInt64s(current)
		if expected != nil && !before.Equal(expected) {
			return fmt.Errorf("rbac: subject %s: %w", subject, ErrGrantsChanged)
		}
		after := permission.FromInt64s(codes)
		diff = Diff{Added: toInt64s(after.Difference(before)), Removed: toInt64s(before.Difference(after))}
		if diff.Empty() {
			return nil
		}

		if len(diff.Removed) > 0 {
			if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s = $1 AND permission_code = ANY($2)`, t.grants, t.column), id, diff.Removed); err != nil {
				return fmt.Errorf("rbac: revoke codes: %w", err)
			}
		}
		if len(diff.Added) > 0 {
			if _, err := tx.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (%s, permission_code) SELECT $1, unnest($2::bigint[])`, t.grants, t.column), id, diff.Added); err != nil {
				var pgErr *pgconn.PgError
				if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
					return fmt.Errorf("rbac: permission code not in catalog: %w", httpx.ErrNotFound)
				}
				return fmt.Errorf("rbac: grant codes: %w", err)
			}
		}

		if r.audit != nil {
			return r.audit.RecordWith(ctx, tx, shared.AuditLog{
				ActorID:  actorID,
				Action:   AuditActionReplace,
				Entity:   string(subject.Kind),
				EntityID: strconv.FormatInt(id, 10),
				Meta:     map[string]any{"added": diff.Added, "removed": diff.Removed},
				At:       r.now().UTC(),
			})
		}
		return nil
	})
	if err != nil {
		return Diff{}, err
	}
	return diff, nil
}

const upsertPermissionSQL = `
INSERT INTO permissions (code, module, action, label, requires, retired_at)
VALUES ($1, $2, $3, $4, $5, NULL)
ON CONFLICT (code) DO UPDATE SET
	module = EXCLUDED.module,
	action = EXCLUDED.action,
	label = EXCLUDED.label,
	requires = EXCLUDED.requires,
	retired_at = NULL`

// SyncCatalog upserts every catalog definition into the permissions table and
// marks rows no longer in the catalog as retired. Grants are never deleted.
func (r *Repository) SyncCatalog(ctx context.Context, defs []permission.Definition) (SyncResult, error) {
	res := SyncResult{At: r.now().UTC()}
	codes := make([]int64, 0, len(defs))
	err := db.WithTx(ctx, r.conn, func(tx pgx.Tx) error {
		for _, def := range defs {
			tag, err := tx.Exec(ctx, upsertPermissionSQL, int64(def.Code), def.Module, def.Action, def.Label, toInt64s(def.Requires))
			if err != nil {
				return fmt.Errorf("rbac: upsert permission %d: %w", def.Code, err)
			}
			res.Upserted += tag.RowsAffected()
			codes = append(codes, int64(def.Code))
		}
		tag, err := tx.Exec(ctx, `UPDATE permissions SET retired_at = $2 WHERE retired_at IS NULL AND NOT (code = ANY($1))`, codes, res.At)
		if err != nil {
			return fmt.Errorf("rbac: retire permissions: %w", err)
		}
		res.Retired = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return SyncResult{}, err
	}
	return res, nil
}

type grantTables struct {
	subjects string
	grants   string
	column   string
}

func tablesFor(kind SubjectKind) (grantTables, error) {
	switch kind {
	case SubjectUser:
		return grantTables{subjects: "users", grants: "user_permissions", column: "user_id"}, nil
	case SubjectRole:
		return grantTables{subjects: "roles", grants: "role_permissions", column: "role_id"}, nil
	default:
		return grantTables{}, fmt.Errorf("rbac: subject kind %q: %w", kind, httpx.ErrValidation)
	}
}

func grantedCodes(ctx context.Context, q DBTX, t grantTables, id int64) ([]int64, error) {
	rows, err := q.Query(ctx, fmt.Sprintf(`SELECT permission_code FROM %s WHERE %s = $1 ORDER BY permission_code`, t.grants, t.column), id)
	if err != nil {
		return nil, fmt.Errorf("rbac: granted codes: %w", err)
	}
	codes, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("rbac: granted codes: %w", err)
	}
	return nonNil(codes), nil
}

func toInt64s(codes []permission.Code) []int64 {
	out := make([]int64, len(codes))
	for i, c := range codes {
		out[i] = int64(c)
	}
	return out
}

func nonNil(codes []int64) []int64 {
	if codes == nil {
		return []int64{}
	}
	return codes
}
