package webhooks

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"netopt/internal/model"
	"netopt/internal/store"
)

type recordStore struct {
	*store.Memory
	mu    sync.Mutex
	marks []MarkRec
	fails []FailRec
}
type MarkRec struct {
	ID            string
	Success       bool
	Code, Latency int
	LastErr       string
}
type FailRec struct {
	ID            string
	Code, Latency int
	LastErr       string
}

func (r *recordStore) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.marks = append(r.marks, MarkRec{ID: id, Success: success, Code: responseCode, Latency: latencyMs, LastErr: lastError})
	r.mu.Unlock()
	return r.Memory.MarkWebhookDelivery(ctx, id, success, nextAttemptAt, lastError, responseCode, latencyMs)
}
func (r *recordStore) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.fails = append(r.fails, FailRec{ID: id, Code: responseCode, Latency: latencyMs, LastErr: lastError})
	r.mu.Unlock()
	return r.Memory.FailWebhookDelivery(ctx, id, lastError, responseCode, latencyMs)
}

func newTestWorker(s store.Store, client *http.Client, maxAttempts int) *Worker {
	return &Worker{Store: s, HTTP: client, Stop: make(chan struct{}), MaxAttempts: maxAttempts, PollInterval: time.Second, Logger: zap.NewNop()}
}

func TestWorkerProcessOnce_SuccessAndSignature(t *testing.T) {
	var gotSig, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(HeaderSignature)
		gotType = r.Header.Get(HeaderEventType)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(200)
	}))
	defer srv.Close()

	rs := &recordStore{Memory: store.NewMemory()}
	w := newTestWorker(rs, srv.Client(), 3)
	id, err := rs.Memory.EnqueueWebhook(context.Background(), EventRunSucceeded, srv.URL, "secret", []byte(`{"id":"evt1"}`))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	w.processOnce()

	assert.Equal(t, EventRunSucceeded, gotType)
	assert.True(t, VerifyHMAC("secret", gotBody, gotSig), "signature must verify against the delivered body")
	require.Len(t, rs.marks, 1)
	assert.True(t, rs.marks[0].Success)
	assert.Equal(t, 200, rs.marks[0].Code)
}

func TestWorkerProcessOnce_RetryThenFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500) }))
	defer srv.Close()
	rs := &recordStore{Memory: store.NewMemory()}
	w := newTestWorker(rs, srv.Client(), 2)
	id, err := rs.Memory.EnqueueWebhook(context.Background(), EventRunFailed, srv.URL, "", []byte(`{}`))
	require.NoError(t, err)

	w.processOnce()
	require.Len(t, rs.marks, 1)
	assert.False(t, rs.marks[0].Success)
	assert.Equal(t, "http 500", rs.marks[0].LastErr)
	assert.Empty(t, rs.fails)

	// bring the retry forward and exhaust the attempts
	require.NoError(t, rs.Memory.RetryWebhookDelivery(context.Background(), id))
	w.processOnce()
	require.Len(t, rs.fails, 1)
	assert.Equal(t, 500, rs.fails[0].Code)
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, time.Second, nextBackoff(-1))
	assert.Equal(t, 8*time.Second, nextBackoff(3))
	assert.Equal(t, 1024*time.Second, nextBackoff(50))
}

func TestSignatureRoundTrip(t *testing.T) {
	sig := SignHMAC("k", []byte("body"))
	assert.True(t, VerifyHMAC("k", []byte("body"), sig))
	assert.False(t, VerifyHMAC("other", []byte("body"), sig))
	assert.False(t, VerifyHMAC("k", []byte("body"), "zz"))
}

func TestPublisherEnqueuesPerSink(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	p := NewPublisher(m, []string{"http://a", "http://b"}, "s", zap.NewNop())
	now := time.Now().UTC()
	run := model.Run{ID: "r1", Status: model.RunSucceeded, FinishedAt: &now, Result: &model.IntegratedRunResult{
		Baseline:  model.BaselineIntegration{BaselineCost: 3000, OptimizedCost: 2160, Savings: 840, SavingsPct: 0.28},
		Transport: model.OptimizationResult{OpenFacilities: []string{"A", "B"}},
	}}
	p.PublishRun(ctx, run)
	p.PublishRun(ctx, run)

	due, err := m.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 2, "one delivery per sink, re-publishing is deduplicated")
	assert.Equal(t, EventRunSucceeded, due[0].EventType)
	assert.Contains(t, string(due[0].Payload), `"openFacilities":["A","B"]`)
	assert.Contains(t, string(due[0].Payload), `"runId":"r1"`)

	var nilPub *Publisher
	nilPub.PublishRun(ctx, run)
}
