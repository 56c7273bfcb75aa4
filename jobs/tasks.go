package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskCatalogSync mirrors the loaded permission catalog into Postgres.
	TaskCatalogSync = "permissions:catalog_sync"
)

// CatalogSyncPayload describes why a sync was requested.
type CatalogSyncPayload struct {
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewCatalogSyncTask constructs an Asynq task. Syncs are deduplicated per
// reason for a minute so restarts in a loop do not pile up work.
func NewCatalogSyncTask(payload CatalogSyncPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("jobs: encode catalog sync payload: %w", err)
	}
	return asynq.NewTask(TaskCatalogSync, data,
		asynq.MaxRetry(5),
		asynq.Timeout(2*time.Minute),
		asynq.Unique(time.Minute),
	), nil
}
