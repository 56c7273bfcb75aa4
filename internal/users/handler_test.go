package users

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurum-atelier/atelier-admin/internal/permission"
	"github.com/aurum-atelier/atelier-admin/internal/platform/httpx"
	"github.com/aurum-atelier/atelier-admin/internal/rbac"
	"github.com/aurum-atelier/atelier-admin/internal/shared"
)

type fakeRepo struct {
	users    []User
	query    string
	limit    int
	offset   int
	countErr error
}

func (f *fakeRepo) ListUsers(_ context.Context, query string, limit, offset int) ([]User, error) {
	f.query, f.limit, f.offset = query, limit, offset
	return f.users, nil
}

func (f *fakeRepo) CountUsers(context.Context, string) (int, error) {
	return 45, f.countErr
}

type fakeGrants struct {
	direct map[int64][]int64
	held   map[int64][]int64
}

func (f fakeGrants) SubjectCodes(_ context.Context, s rbac.Subject) ([]int64, error) {
	codes, ok := f.direct[s.ID]
	if !ok {
		return nil, httpx.ErrNotFound
	}
	return codes, nil
}

func (f fakeGrants) UserHeldCodes(_ context.Context, id int64) ([]int64, error) {
	return f.held[id], nil
}

type staticHeld []int64

func (s staticHeld) HeldPermissions(context.Context, int64) (permission.HeldSet, error) {
	return permission.HeldFromInt64s(s), nil
}

// withUser stands in for the session layer with a snapshot already installed.
func withUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := &shared.Session{}
		sess.SetUser("1")
		next.ServeHTTP(w, r.WithContext(shared.ContextWithSession(r.Context(), sess)))
	})
}

func newRouter(repo *fakeRepo, grants fakeGrants, held staticHeld) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := rbac.Middleware{Service: held, Logger: logger, Now: func() time.Time { return time.Unix(0, 0) }}
	r := chi.NewRouter()
	r.Use(withUser)
	NewHandler(logger, NewService(repo, grants), m).MountRoutes(r)
	return r
}

func TestListUsersPaginates(t *testing.T) {
	repo := &fakeRepo{users: []User{{ID: 3, Email: "c@atelier.test"}}}
	router := newRouter(repo, fakeGrants{}, staticHeld{500})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/users?page=3&per_page=10&q=+c+", nil))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var page Page
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	assert.Equal(t, shared.Pagination{Page: 3, PerPage: 10, Total: 45, TotalPages: 5}, page.Pagination)
	assert.Len(t, page.Users, 1)
	assert.Equal(t, "c", repo.query)
	assert.Equal(t, 10, repo.limit)
	assert.Equal(t, 20, repo.offset)
}

func TestListUsersRequiresUsersView(t *testing.T) {
	router := newRouter(&fakeRepo{}, fakeGrants{}, staticHeld{600})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/users", nil))
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestShowGrants(t *testing.T) {
	grants := fakeGrants{direct: map[int64][]int64{7: {500}}, held: map[int64][]int64{7: {500, 600}}}
	router := newRouter(&fakeRepo{}, grants, staticHeld{500})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/users/7/permissions", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var got Grants
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, Grants{UserID: 7, Direct: []int64{500}, Held: []int64{500, 600}}, got)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/users/8/permissions", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/users/abc/permissions", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
