package rbac

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurum-atelier/atelier-admin/internal/permission"
	"github.com/aurum-atelier/atelier-admin/internal/shared"
	_ "github.com/aurum-atelier/atelier-admin/testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeLoader struct {
	calls int
	held  map[int64][]int64
	err   error
}

func (f *fakeLoader) HeldPermissions(_ context.Context, userID int64) (permission.HeldSet, error) {
	f.calls++
	if f.err != nil {
		return permission.HeldSet{}, f.err
	}
	return permission.HeldFromInt64s(f.held[userID]), nil
}

func newSession(t *testing.T, userID string) *shared.Session {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	sm := shared.NewSessionManager(client, "atelier_session", time.Hour, false)
	sess, err := sm.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	if userID != "" {
		sess.SetUser(userID)
	}
	return sess
}

func serve(gate func(http.Handler) http.Handler, sess *shared.Session) (*httptest.ResponseRecorder, bool) {
	reached := false
	h := gate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if sess != nil {
		req = req.WithContext(shared.ContextWithSession(req.Context(), sess))
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr, reached
}

func TestGateRejectsAnonymous(t *testing.T) {
	m := Middleware{Service: &fakeLoader{}, Logger: discardLogger()}

	rr, reached := serve(m.RequireAll(), nil)
	assert.False(t, reached)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr, reached = serve(m.RequireAll(), newSession(t, ""))
	assert.False(t, reached)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr, _ = serve(m.RequireAll(), newSession(t, "abc"))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestGateAnyAll(t *testing.T) {
	loader := &fakeLoader{held: map[int64][]int64{1: {5, 6}}}
	m := Middleware{Service: loader, Logger: discardLogger()}

	cases := []struct {
		name string
		gate func(http.Handler) http.Handler
		want int
	}{
		{"any intersects", m.RequireAny(6, 7), http.StatusNoContent},
		{"all missing one", m.RequireAll(6, 7), http.StatusForbidden},
		{"all held", m.RequireAll(5, 6), http.StatusNoContent},
		{"any disjoint", m.RequireAny(7, 8), http.StatusForbidden},
		{"empty any denies", m.RequireAny(), http.StatusForbidden},
		{"empty all admits", m.RequireAll(), http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr, _ := serve(tc.gate, newSession(t, "1"))
			assert.Equal(t, tc.want, rr.Code)
		})
	}
}

func TestGateInstallsSnapshotOnceAndReusesIt(t *testing.T) {
	loader := &fakeLoader{held: map[int64][]int64{1: {500}}}
	now := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	m := Middleware{Service: loader, Logger: discardLogger(), Now: func() time.Time { return now }}
	sess := newSession(t, "1")

	rr, _ := serve(m.RequireAny(permission.UsersView), sess)
	require.Equal(t, http.StatusNoContent, rr.Code)
	held, at, ok := sess.Held()
	require.True(t, ok)
	assert.Equal(t, []int64{500}, held)
	assert.Equal(t, now, at)

	loader.held[1] = nil
	rr, _ = serve(m.RequireAny(permission.UsersView), sess)
	assert.Equal(t, http.StatusNoContent, rr.Code, "snapshot is trusted until refreshed")
	assert.Equal(t, 1, loader.calls)
}

func TestGateReloadsExpiredSnapshot(t *testing.T) {
	loader := &fakeLoader{held: map[int64][]int64{1: {600}}}
	now := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	m := Middleware{Service: loader, Logger: discardLogger(), MaxAge: time.Minute, Now: func() time.Time { return now }}
	sess := newSession(t, "1")
	sess.SetHeld([]int64{500}, now.Add(-2*time.Minute))

	rr, _ := serve(m.RequireAny(permission.UsersView), sess)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, 1, loader.calls)
	held, _, _ := sess.Held()
	assert.Equal(t, []int64{600}, held)
}

func TestGatePassesActorAndHeldDownstream(t *testing.T) {
	loader := &fakeLoader{held: map[int64][]int64{3: {700}}}
	m := Middleware{Service: loader, Logger: discardLogger()}

	var gotActor int64
	var gotHeld permission.HeldSet
	h := m.RequireAny(permission.PermissionsView)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotActor, _ = shared.ActorFromContext(r.Context())
		gotHeld, _ = HeldFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(shared.ContextWithSession(req.Context(), newSession(t, "3")))
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, int64(3), gotActor)
	assert.True(t, gotHeld.Has(permission.PermissionsView))
}

func TestGateLoaderFailures(t *testing.T) {
	m := Middleware{Service: &fakeLoader{err: assert.AnError}, Logger: discardLogger()}
	rr, reached := serve(m.RequireAll(), newSession(t, "1"))
	assert.False(t, reached)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestGateWarnsAboutUnknownCodesAtMount(t *testing.T) {
	c, err := permission.LoadDefaultCatalog(permission.WithLogger(discardLogger()))
	require.NoError(t, err)
	var buf bytes.Buffer
	m := Middleware{Service: &fakeLoader{}, Catalog: c, Logger: slog.New(slog.NewTextHandler(&buf, nil))}

	m.RequireAny(permission.UsersView)
	assert.Empty(t, buf.String())

	m.RequireAll(permission.UsersView, 999999)
	assert.Contains(t, buf.String(), "unknown permission codes")
	assert.Contains(t, buf.String(), "999999")
}

func TestGateCountsDecisions(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	m := Middleware{Service: &fakeLoader{held: map[int64][]int64{1: {500}}}, Logger: discardLogger(), Metrics: metrics}

	serve(m.RequireAny(permission.UsersView), newSession(t, "1"))
	serve(m.RequireAll(permission.RolesEdit), newSession(t, "1"))
	serve(m.RequireAll(), nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.checks.WithLabelValues("any", "allow")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.checks.WithLabelValues("all", "deny")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.checks.WithLabelValues("all", "unauthenticated")))
}
