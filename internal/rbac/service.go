package rbac

import (
	"context"
	"log/slog"
	"strconv"

	"golang.org/x/sync/singleflight"

	"github.com/aurum-atelier/atelier-admin/internal/permission"
)

// HeldStore reads authoritative grants.
type HeldStore interface {
	UserHeldCodes(ctx context.Context, userID int64) ([]int64, error)
}

// Service resolves held permission sets for authenticated users.
type Service struct {
	store  HeldStore
	cache  *Cache
	logger *slog.Logger
	group  singleflight.Group
}

// NewService constructs a Service. cache may be nil.
func NewService(store HeldStore, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, cache: cache, logger: logger}
}

// HeldPermissions returns the user's held set, served from cache when
// possible. Concurrent loads for the same user share one database query.
func (s *Service) HeldPermissions(ctx context.Context, userID int64) (permission.HeldSet, error) {
	codes, err := s.shared(ctx, "held:"+strconv.FormatInt(userID, 10), func(ctx context.Context) ([]int64, error) {
		return s.cache.Held(ctx, userID, func(ctx context.Context) ([]int64, error) {
			return s.store.UserHeldCodes(ctx, userID)
		})
	})
	if err != nil {
		return permission.HeldSet{}, err
	}
	return permission.HeldFromInt64s(codes), nil
}

// RefreshHeld reloads the user's held set from the database, bypassing and
// then overwriting the cached entry.
func (s *Service) RefreshHeld(ctx context.Context, userID int64) (permission.HeldSet, error) {
	codes, err := s.shared(ctx, "refresh:"+strconv.FormatInt(userID, 10), func(ctx context.Context) ([]int64, error) {
		return s.cache.Refresh(ctx, userID, func(ctx context.Context) ([]int64, error) {
			return s.store.UserHeldCodes(ctx, userID)
		})
	})
	if err != nil {
		return permission.HeldSet{}, err
	}
	s.logger.Debug("held permissions refreshed", slog.Int64("user_id", userID), slog.Int("codes", len(codes)))
	return permission.HeldFromInt64s(codes), nil
}

// Invalidate drops every cached held set, used after grants change.
func (s *Service) Invalidate(ctx context.Context) error {
	return s.cache.Bump(ctx)
}

func (s *Service) shared(ctx context.Context, key string, fn func(context.Context) ([]int64, error)) ([]int64, error) {
	// The shared call outlives any single caller's cancellation.
	detached := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (any, error) {
		return fn(detached)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]int64), nil
	}
}
