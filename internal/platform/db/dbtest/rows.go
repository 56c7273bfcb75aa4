// Package dbtest provides canned pgx results for repository tests.
package dbtest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Call records one statement sent to a Querier.
type Call struct {
	SQL  string
	Args []any
}

// Querier answers Query and QueryRow by matching SQL fragments against canned
// results. Unmatched queries return no rows.
type Querier struct {
	mu      sync.Mutex
	results map[string][][]any
	errs    map[string]error
	calls   []Call
}

// NewQuerier returns an empty Querier.
func NewQuerier() *Querier {
	return &Querier{results: map[string][][]any{}, errs: map[string]error{}}
}

// On registers the rows returned for queries containing frag.
func (q *Querier) On(frag string, rows ...[]any) *Querier {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.results[frag] = rows
	return q
}

// Fail makes queries containing frag return err.
func (q *Querier) Fail(frag string, err error) *Querier {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.errs[frag] = err
	return q
}

// Calls returns the statements seen so far.
func (q *Querier) Calls() []Call {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Call(nil), q.calls...)
}

func (q *Querier) match(sql string, args []any) ([][]any, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls = append(q.calls, Call{SQL: sql, Args: args})
	for frag, err := range q.errs {
		if strings.Contains(sql, frag) {
			return nil, err
		}
	}
	for frag, rows := range q.results {
		if strings.Contains(sql, frag) {
			return rows, nil
		}
	}
	return nil, nil
}

// Exec records the statement and reports one affected row.
func (q *Querier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if _, err := q.match(sql, args); err != nil {
		return pgconn.CommandTag{}, err
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

// Query implements the pgx Query method.
func (q *Querier) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	rows, err := q.match(sql, args)
	if err != nil {
		return nil, err
	}
	return &Rows{values: rows, index: -1}, nil
}

// QueryRow implements the pgx QueryRow method. No match yields pgx.ErrNoRows.
func (q *Querier) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	rows, err := q.match(sql, args)
	if err != nil {
		return Row{err: err}
	}
	if len(rows) == 0 {
		return Row{err: pgx.ErrNoRows}
	}
	return Row{values: rows[0]}
}

// Rows iterates canned values.
type Rows struct {
	pgx.Rows
	values [][]any
	index  int
	closed bool
}

func (r *Rows) Next() bool {
	if r.closed || r.index+1 >= len(r.values) {
		r.closed = true
		return false
	}
	r.index++
	return true
}

func (r *Rows) Scan(dest ...any) error {
	return scan(r.values[r.index], dest)
}

func (r *Rows) Close() { r.closed = true }

func (r *Rows) Err() error { return nil }

func (r *Rows) CommandTag() pgconn.CommandTag { return pgconn.NewCommandTag("SELECT") }

// Row is a single canned row.
type Row struct {
	values []any
	err    error
}

func (r Row) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return scan(r.values, dest)
}

func scan(values []any, dest []any) error {
	if len(values) != len(dest) {
		return fmt.Errorf("dbtest: %d values for %d destinations", len(values), len(dest))
	}
	for i, v := range values {
		if err := assign(dest[i], v); err != nil {
			return fmt.Errorf("dbtest: column %d: %w", i, err)
		}
	}
	return nil
}

func assign(dest, v any) error {
	switch d := dest.(type) {
	case *int64:
		*d = v.(int64)
	case *int:
		*d = v.(int)
	case *string:
		*d = v.(string)
	case *bool:
		*d = v.(bool)
	case *time.Time:
		*d = v.(time.Time)
	case **time.Time:
		if v == nil {
			*d = nil
			return nil
		}
		t := v.(time.Time)
		*d = &t
	case *[]int64:
		*d = append([]int64(nil), v.([]int64)...)
	case *[]byte:
		*d = append([]byte(nil), v.([]byte)...)
	default:
		return fmt.Errorf("unsupported destination %T", dest)
	}
	return nil
}
