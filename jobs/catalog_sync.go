package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/aurum-atelier/atelier-admin/internal/jobs"
	"github.com/aurum-atelier/atelier-admin/internal/permission"
	"github.com/aurum-atelier/atelier-admin/internal/rbac"
)

// CatalogStore persists catalog definitions.
type CatalogStore interface {
	SyncCatalog(ctx context.Context, defs []permission.Definition) (rbac.SyncResult, error)
}

// Invalidator drops cached held sets.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// CatalogSyncJob upserts the catalog, retires codes that left it and drops
// cached held sets so retirements take effect.
type CatalogSyncJob struct {
	Catalog *permission.Catalog
	Store   CatalogStore
	Held    Invalidator
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewCatalogSyncJob initialises the catalog sync handler.
func NewCatalogSyncJob(catalog *permission.Catalog, store CatalogStore, held Invalidator, logger *slog.Logger, metrics *jobmetrics.Metrics) *CatalogSyncJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogSyncJob{Catalog: catalog, Store: store, Held: held, Logger: logger, Metrics: metrics}
}

// Handle executes one sync.
func (j *CatalogSyncJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Catalog == nil || j.Store == nil {
		return errors.New("catalog sync: handler not configured")
	}
	var payload CatalogSyncPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("catalog sync: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}

	tracker := j.Metrics.Track(TaskCatalogSync)
	defer func() {
		err = tracker.End(err)
	}()

	result, err := j.Store.SyncCatalog(ctx, j.Catalog.Definitions())
	if err != nil {
		return fmt.Errorf("catalog sync: %w", err)
	}
	j.Metrics.SetCatalogSize(j.Catalog.Len())
	j.Metrics.AddRetired(int(result.Retired))
	if j.Held != nil {
		if err := j.Held.Invalidate(ctx); err != nil {
			j.Logger.Warn("catalog sync: invalidate held cache", slog.Any("error", err))
		}
	}
	j.Logger.Info("catalog synced",
		slog.String("reason", payload.Reason),
		slog.Int64("upserted", result.Upserted),
		slog.Int64("retired", result.Retired))
	return nil
}
