package rbac

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurum-atelier/atelier-admin/internal/permission"
	"github.com/aurum-atelier/atelier-admin/internal/shared"
)

type fakeRefresher struct {
	held permission.HeldSet
	err  error
}

func (f *fakeRefresher) RefreshHeld(context.Context, int64) (permission.HeldSet, error) {
	return f.held, f.err
}

func newTestRouter(t *testing.T, loader *fakeLoader, refresher *fakeRefresher) (http.Handler, *permission.Catalog) {
	t.Helper()
	c, err := permission.LoadDefaultCatalog(permission.WithLogger(discardLogger()))
	require.NoError(t, err)
	m := Middleware{Service: loader, Catalog: c, Logger: discardLogger()}
	h := NewHandler(discardLogger(), c, refresher, shared.NewCSRFManager("csrf"), m)
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r, c
}

func do(router http.Handler, method, path string, sess *shared.Session) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req = req.WithContext(shared.ContextWithSession(req.Context(), sess))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestListPermissionsRequiresPermissionsView(t *testing.T) {
	loader := &fakeLoader{held: map[int64][]int64{1: {700}, 2: {500}}}
	router, c := newTestRouter(t, loader, &fakeRefresher{})

	rr := do(router, http.MethodGet, "/permissions", newSession(t, "1"))
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Modules []struct {
			Key         string                  `json:"key"`
			Permissions []permission.Definition `json:"permissions"`
		} `json:"modules"`
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, c.Len(), body.Count)
	require.NotEmpty(t, body.Modules)
	assert.Equal(t, "products", body.Modules[0].Key)
	assert.Equal(t, permission.ProductsView, body.Modules[0].Permissions[0].Code)

	rr = do(router, http.MethodGet, "/permissions", newSession(t, "2"))
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestMeReturnsHeldSnapshot(t *testing.T) {
	loader := &fakeLoader{held: map[int64][]int64{4: {600, 500}}}
	router, _ := newTestRouter(t, loader, &fakeRefresher{})
	sess := newSession(t, "4")

	rr := do(router, http.MethodGet, "/me", sess)
	require.Equal(t, http.StatusOK, rr.Code)
	var body meResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, int64(4), body.UserID)
	assert.Equal(t, []int64{500, 600}, body.Held)
	assert.NotEmpty(t, body.CSRFToken)
	assert.Equal(t, sess.Get(shared.CSRFSessionKey), body.CSRFToken)

	rr = do(router, http.MethodGet, "/me", newSession(t, ""))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRefreshReplacesSnapshotWholesale(t *testing.T) {
	loader := &fakeLoader{held: map[int64][]int64{4: {500}}}
	refresher := &fakeRefresher{held: permission.NewHeldSet(500, 502, 504)}
	router, _ := newTestRouter(t, loader, refresher)
	sess := newSession(t, "4")
	sess.SetHeld([]int64{500, 800}, time.Now())

	rr := do(router, http.MethodPost, "/me/refresh", sess)
	require.Equal(t, http.StatusOK, rr.Code)
	var body meResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, []int64{500, 502, 504}, body.Held)

	held, _, ok := sess.Held()
	require.True(t, ok)
	assert.Equal(t, []int64{500, 502, 504}, held, "800 must not survive the refresh")
}

func TestRefreshFailure(t *testing.T) {
	loader := &fakeLoader{held: map[int64][]int64{4: {500}}}
	router, _ := newTestRouter(t, loader, &fakeRefresher{err: assert.AnError})

	rr := do(router, http.MethodPost, "/me/refresh", newSession(t, "4"))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestLogoutDropsStoredSession(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	sm := shared.NewSessionManager(client, "atelier_session", time.Hour, false)
	ctx := context.Background()

	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	sess.SetUser("4")
	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), sess))
	require.True(t, mr.Exists("session:"+sess.ID))

	loader := &fakeLoader{held: map[int64][]int64{4: {500}}}
	router, _ := newTestRouter(t, loader, &fakeRefresher{})
	rr := do(router, http.MethodPost, "/me/logout", sess)
	require.Equal(t, http.StatusNoContent, rr.Code)

	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), sess))
	assert.False(t, mr.Exists("session:"+sess.ID))
}

func TestLogoutRequiresIdentity(t *testing.T) {
	router, _ := newTestRouter(t, &fakeLoader{}, &fakeRefresher{})
	rr := do(router, http.MethodPost, "/me/logout", newSession(t, ""))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
