package rbac

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type execCall struct {
	sql  string
	args []any
}

// stubConn answers queries by matching SQL fragments. It hands out itself
// as the transaction so a test sees every statement in order.
type stubConn struct {
	mu        sync.Mutex
	rows      map[string][]int64
	row       map[string][]any
	rowErr    map[string]error
	execErr   map[string]error
	execTag   string
	execs     []execCall
	queries   []string
	begun     int
	committed int
}

func newStubConn() *stubConn {
	return &stubConn{
		rows:    map[string][]int64{},
		row:     map[string][]any{},
		rowErr:  map[string]error{},
		execErr: map[string]error{},
	}
}

func (s *stubConn) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execs = append(s.execs, execCall{sql: sql, args: args})
	for frag, err := range s.execErr {
		if strings.Contains(sql, frag) {
			return pgconn.CommandTag{}, err
		}
	}
	tag := s.execTag
	if tag == "" {
		tag = "INSERT 0 1"
	}
	return pgconn.NewCommandTag(tag), nil
}

func (s *stubConn) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, sql)
	for frag, values := range s.rows {
		if strings.Contains(sql, frag) {
			return &stubRows{values: append([]int64(nil), values...), index: -1}, nil
		}
	}
	return &stubRows{index: -1}, nil
}

func (s *stubConn) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, sql)
	for frag, err := range s.rowErr {
		if strings.Contains(sql, frag) {
			return &stubRow{err: err}
		}
	}
	for frag, values := range s.row {
		if strings.Contains(sql, frag) {
			return &stubRow{values: values}
		}
	}
	return &stubRow{err: pgx.ErrNoRows}
}

func (s *stubConn) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) {
	s.mu.Lock()
	s.begun++
	s.mu.Unlock()
	return &stubTx{conn: s}, nil
}

func (s *stubConn) execsMatching(frag string) []execCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []execCall
	for _, c := range s.execs {
		if strings.Contains(c.sql, frag) {
			out = append(out, c)
		}
	}
	return out
}

type stubTx struct {
	pgx.Tx
	conn *stubConn
}

func (t *stubTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.conn.Exec(ctx, sql, args...)
}

func (t *stubTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return t.conn.Query(ctx, sql, args...)
}

func (t *stubTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return t.conn.QueryRow(ctx, sql, args...)
}

func (t *stubTx) Commit(context.Context) error {
	t.conn.mu.Lock()
	t.conn.committed++
	t.conn.mu.Unlock()
	return nil
}

func (t *stubTx) Rollback(context.Context) error {
	return nil
}

type stubRows struct {
	values []int64
	index  int
}

func (r *stubRows) Close() {
	r.index = len(r.values)
}

func (r *stubRows) Err() error {
	return nil
}

func (r *stubRows) CommandTag() pgconn.CommandTag {
	return pgconn.CommandTag{}
}

func (r *stubRows) FieldDescriptions() []pgconn.FieldDescription {
	return nil
}

func (r *stubRows) Next() bool {
	if r.index+1 >= len(r.values) {
		r.index = len(r.values)
		return false
	}
	r.index++
	return true
}

func (r *stubRows) Scan(dest ...any) error {
	if r.index < 0 || r.index >= len(r.values) {
		return fmt.Errorf("no row available")
	}
	if len(dest) == 0 {
		return fmt.Errorf("no destination provided")
	}
	if v, ok := dest[0].(*int64); ok {
		*v = r.values[r.index]
		return nil
	}
	return fmt.Errorf("unsupported destination %T", dest[0])
}

func (r *stubRows) Values() ([]any, error) {
	if r.index < 0 || r.index >= len(r.values) {
		return nil, fmt.Errorf("no row available")
	}
	return []any{r.values[r.index]}, nil
}

func (r *stubRows) RawValues() [][]byte {
	return nil
}

func (r *stubRows) Conn() *pgx.Conn {
	return nil
}

type stubRow struct {
	values []any
	err    error
}

func (r *stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan: want %d destinations, got %d", len(r.values), len(dest))
	}
	for i, v := range r.values {
		switch d := dest[i].(type) {
		case *int64:
			*d = v.(int64)
		case *bool:
			*d = v.(bool)
		default:
			return fmt.Errorf("unsupported destination %T", dest[i])
		}
	}
	return nil
}
