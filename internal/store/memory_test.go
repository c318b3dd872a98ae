package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netopt/internal/model"
)

var _ Store = (*Memory)(nil)
var _ Store = (*Postgres)(nil)

func TestMemoryRuns(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for i := 0; i < 5; i++ {
		status := model.RunSucceeded
		if i%2 == 1 {
			status = model.RunFailed
		}
		run := model.Run{ID: fmt.Sprintf("r%d", i), Status: status, CreatedAt: time.Now(), Result: &model.IntegratedRunResult{Name: "x"}}
		require.NoError(t, m.CreateRun(ctx, run, []byte(fmt.Sprintf(`{"n":%d}`, i))))
	}

	r, err := m.GetRun(ctx, "r2")
	require.NoError(t, err)
	assert.NotNil(t, r.Result)
	in, err := m.GetRunInput(ctx, "r2")
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":2}`, string(in))

	_, err = m.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.UpdateRun(ctx, model.Run{ID: "missing"}), ErrNotFound)

	page, next, err := m.ListRuns(ctx, "", "", 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "r1", next)
	assert.Nil(t, page[0].Result)

	page, next, err = m.ListRuns(ctx, "", next, 10)
	require.NoError(t, err)
	assert.Len(t, page, 3)
	assert.Empty(t, next)

	failed, _, err := m.ListRuns(ctx, model.RunFailed, "", 10)
	require.NoError(t, err)
	assert.Len(t, failed, 2)

	r.Status = model.RunRunning
	require.NoError(t, m.UpdateRun(ctx, r))
	r, err = m.GetRun(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, model.RunRunning, r.Status)
}

func TestMemoryWebhookLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	payload := []byte(`{"id":"evt_1","type":"run.succeeded"}`)
	id, err := m.EnqueueWebhook(ctx, "run.succeeded", "http://sink", "s3cret", payload)
	require.NoError(t, err)
	dup, err := m.EnqueueWebhook(ctx, "run.succeeded", "http://sink", "s3cret", payload)
	require.NoError(t, err)
	assert.Equal(t, id, dup, "same event id is deduplicated")

	due, err := m.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "s3cret", due[0].Secret)

	later := time.Now().Add(time.Hour)
	require.NoError(t, m.MarkWebhookDelivery(ctx, id, false, &later, "boom", 500, 12))
	due, err = m.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	items, _, err := m.ListWebhookDeliveries(ctx, "retry", "", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "boom", items[0]["lastError"])
	assert.Equal(t, 1, items[0]["attempts"])

	require.NoError(t, m.RetryWebhookDelivery(ctx, id))
	due, err = m.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, due, 1)

	require.NoError(t, m.FailWebhookDelivery(ctx, id, "gone", 410, 3))
	items, _, err = m.ListWebhookDeliveries(ctx, "failed", "", 10)
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Len(t, m.dlq, 1)

	assert.ErrorIs(t, m.RetryWebhookDelivery(ctx, "nope"), ErrNotFound)
}
