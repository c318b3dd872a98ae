package webhooks

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"netopt/internal/logging"
	"netopt/internal/model"
	"netopt/internal/store"
)

// Event types emitted for finished runs.
const (
	EventRunSucceeded = "run.succeeded"
	EventRunFailed    = "run.failed"
)

// Publisher enqueues events for every configured sink. Delivery happens in
// the Worker.
type Publisher struct {
	Store  store.Store
	Sinks  []string
	Secret string
	Logger *zap.Logger
}

func NewPublisher(s store.Store, sinks []string, secret string, log *zap.Logger) *Publisher {
	return &Publisher{Store: s, Sinks: sinks, Secret: secret, Logger: logging.OrNop(log)}
}

// Emit enqueues one event per sink. The event id doubles as the dedup key, so
// emitting the same id twice delivers once.
func (p *Publisher) Emit(ctx context.Context, eventType, id string, data any) {
	if p == nil || len(p.Sinks) == 0 {
		return
	}
	payload := map[string]any{
		"id":   id,
		"type": eventType,
		"ts":   time.Now().UTC().Format(time.RFC3339),
		"data": data,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		logging.OrNop(p.Logger).Error("webhook payload", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	for _, url := range p.Sinks {
		if _, err := p.Store.EnqueueWebhook(ctx, eventType, url, p.Secret, body); err != nil {
			logging.OrNop(p.Logger).Warn("webhook enqueue failed", zap.String("url", url), zap.Error(err))
		}
	}
}

// RunSummary is the body sent to reporting sinks for a finished run.
type RunSummary struct {
	RunID      string                     `json:"runId"`
	Name       string                     `json:"name,omitempty"`
	Status     string                     `json:"status"`
	Error      string                     `json:"error,omitempty"`
	ErrorKind  string                     `json:"errorKind,omitempty"`
	Baseline   *model.BaselineIntegration `json:"baselineIntegration,omitempty"`
	CostBasis  model.Provenance           `json:"costBasis,omitempty"`
	Open       []string                   `json:"openFacilities,omitempty"`
	Years      int                        `json:"years,omitempty"`
	Warnings   []string                   `json:"warnings,omitempty"`
	FinishedAt *time.Time                 `json:"finishedAt,omitempty"`
}

// Summarize reduces a run record to its webhook body.
func Summarize(run model.Run) RunSummary {
	s := RunSummary{RunID: run.ID, Name: run.Name, Status: run.Status, Error: run.Error, ErrorKind: run.ErrorKind, FinishedAt: run.FinishedAt}
	if r := run.Result; r != nil {
		b := r.Baseline
		s.Baseline = &b
		s.CostBasis = r.CostBasis
		s.Open = r.Transport.OpenFacilities
		s.Years = len(r.Years)
		s.Warnings = r.Warnings
	}
	return s
}

// PublishRun emits the finished-run event matching the run's status.
func (p *Publisher) PublishRun(ctx context.Context, run model.Run) {
	eventType := EventRunSucceeded
	if run.Status == model.RunFailed {
		eventType = EventRunFailed
	}
	p.Emit(ctx, eventType, "evt_"+run.ID, Summarize(run))
}
