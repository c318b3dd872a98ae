package store

import (
	"context"
	"errors"
	"time"

	"netopt/internal/model"
)

// Store is the persistence interface used by the API server and the webhook
// worker. Run inputs are kept verbatim so a run can be replayed.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run model.Run, input []byte) error
	UpdateRun(ctx context.Context, run model.Run) error
	GetRun(ctx context.Context, id string) (model.Run, error)
	GetRunInput(ctx context.Context, id string) ([]byte, error)
	ListRuns(ctx context.Context, status, cursor string, limit int) (items []model.Run, nextCursor string, err error)

	// Webhook deliveries
	EnqueueWebhook(ctx context.Context, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
	ListWebhookDeliveries(ctx context.Context, status, cursor string, limit int) ([]map[string]any, string, error)
	RetryWebhookDelivery(ctx context.Context, id string) error

	Ping(ctx context.Context) error
}

var ErrNotFound = errors.New("not found")
