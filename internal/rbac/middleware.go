package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aurum-atelier/atelier-admin/internal/permission"
	"github.com/aurum-atelier/atelier-admin/internal/platform/httpx"
	"github.com/aurum-atelier/atelier-admin/internal/shared"
)

// HeldLoader resolves the authoritative held set for a user.
type HeldLoader interface {
	HeldPermissions(ctx context.Context, userID int64) (permission.HeldSet, error)
}

// Middleware wires permission gates for HTTP handlers.
type Middleware struct {
	Service HeldLoader
	Catalog *permission.Catalog
	Logger  *slog.Logger
	Metrics *Metrics
	// MaxAge bounds how long a session snapshot is trusted before it is
	// reloaded. Zero trusts it until the next explicit refresh.
	MaxAge time.Duration
	Now    func() time.Time
}

type heldContextKey struct{}

// HeldFromContext returns the held set resolved by a gate earlier in the chain.
func HeldFromContext(ctx context.Context) (permission.HeldSet, bool) {
	held, ok := ctx.Value(heldContextKey{}).(permission.HeldSet)
	return held, ok
}

// RequireAny admits the request when the user holds at least one of codes.
// With no codes nothing is admitted.
func (m Middleware) RequireAny(codes ...permission.Code) func(http.Handler) http.Handler {
	m.warnUnknown("any", codes)
	return m.gate("any", func(held permission.HeldSet) bool { return held.HasAny(codes...) })
}

// RequireAll admits the request when the user holds every one of codes.
// With no codes any authenticated user is admitted.
func (m Middleware) RequireAll(codes ...permission.Code) func(http.Handler) http.Handler {
	m.warnUnknown("all", codes)
	return m.gate("all", func(held permission.HeldSet) bool { return held.HasAll(codes...) })
}

func (m Middleware) gate(mode string, allowed func(permission.HeldSet) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := m.currentUserID(r)
			if !ok {
				m.Metrics.observe(mode, "unauthenticated")
				httpx.RespondError(w, fmt.Errorf("%w: sign in required", httpx.ErrUnauthorized))
				return
			}
			held, err := m.held(r, userID)
			if errors.Is(err, httpx.ErrNotFound) {
				m.Metrics.observe(mode, "unauthenticated")
				httpx.RespondError(w, fmt.Errorf("%w: unknown user", httpx.ErrUnauthorized))
				return
			}
			if err != nil {
				m.logger().Error("rbac load held", slog.Int64("user_id", userID), slog.Any("error", err))
				m.Metrics.observe(mode, "error")
				httpx.RespondError(w, err)
				return
			}
			if !allowed(held) {
				m.Metrics.observe(mode, "deny")
				httpx.RespondError(w, fmt.Errorf("%w: missing permission", httpx.ErrForbidden))
				return
			}
			m.Metrics.observe(mode, "allow")
			ctx := shared.ContextWithActor(r.Context(), userID)
			ctx = context.WithValue(ctx, heldContextKey{}, held)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// held prefers the session snapshot; without one it loads the set and
// installs it in the session wholesale.
func (m Middleware) held(r *http.Request, userID int64) (permission.HeldSet, error) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		if codes, at, ok := sess.Held(); ok && (m.MaxAge <= 0 || m.now().Sub(at) < m.MaxAge) {
			return permission.HeldFromInt64s(codes), nil
		}
	}
	held, err := m.Service.HeldPermissions(r.Context(), userID)
	if err != nil {
		return permission.HeldSet{}, err
	}
	if sess != nil {
		sess.SetHeld(held.Int64s(), m.now())
	}
	return held, nil
}

func (m Middleware) warnUnknown(mode string, codes []permission.Code) {
	if m.Catalog == nil {
		return
	}
	if unknown := m.Catalog.Unknown(codes...); len(unknown) > 0 {
		m.logger().Warn("rbac gate references unknown permission codes",
			slog.String("mode", mode), slog.Any("codes", unknown))
	}
}

func (m Middleware) currentUserID(r *http.Request) (int64, bool) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return 0, false
	}
	raw := strings.TrimSpace(sess.User())
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		m.logger().Error("rbac parse user id", slog.String("value", raw))
		return 0, false
	}
	return id, true
}

func (m Middleware) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

func (m Middleware) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}
