package webhooks

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"netopt/internal/logging"
	"netopt/internal/metrics"
	"netopt/internal/store"
)

// Worker polls the store for due deliveries and POSTs them to their sinks.
type Worker struct {
	Store        store.Store
	HTTP         *http.Client
	Stop         chan struct{}
	MaxAttempts  int
	PollInterval time.Duration
	Logger       *zap.Logger
}

func NewWorker(s store.Store, maxAttempts int, timeout, poll time.Duration, log *zap.Logger) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if poll <= 0 {
		poll = time.Second
	}
	return &Worker{Store: s, HTTP: &http.Client{Timeout: timeout}, Stop: make(chan struct{}), MaxAttempts: maxAttempts, PollInterval: poll, Logger: logging.OrNop(log)}
}

func (w *Worker) Start() {
	go func() {
		ticker := time.NewTicker(w.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-w.Stop:
				return
			case <-ticker.C:
				w.processOnce()
			}
		}
	}()
}

func (w *Worker) processOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log := logging.OrNop(w.Logger)
	items, err := w.Store.FetchDueWebhookDeliveries(ctx, 50)
	if err != nil {
		log.Warn("fetch due webhooks", zap.Error(err))
		return
	}
	for _, it := range items {
		success := false
		next := time.Now().Add(nextBackoff(it.Attempts))
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, it.URL, bytes.NewReader(it.Payload))
		if err != nil {
			_ = w.Store.FailWebhookDelivery(ctx, it.ID, err.Error(), 0, 0)
			metrics.WebhookDeliveries.WithLabelValues(it.EventType, "failed").Inc()
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(HeaderEventType, it.EventType)
		req.Header.Set(HeaderDelivery, it.ID)
		if it.Secret != "" {
			req.Header.Set(HeaderSignature, SignHMAC(it.Secret, it.Payload))
		}
		start := time.Now()
		resp, err := w.HTTP.Do(req)
		latency := int(time.Since(start).Milliseconds())
		code := 0
		if err == nil && resp != nil {
			code = resp.StatusCode
			if resp.Body != nil {
				_ = resp.Body.Close()
			}
			if code >= 200 && code < 300 {
				success = true
			}
		}
		lastErr := ""
		if !success {
			if err != nil {
				lastErr = err.Error()
			} else {
				lastErr = "http " + strconv.Itoa(code)
			}
		}
		status := "delivered"
		switch {
		case success:
			err = w.Store.MarkWebhookDelivery(ctx, it.ID, true, nil, "", code, latency)
		case it.Attempts+1 >= w.MaxAttempts:
			status = "failed"
			err = w.Store.FailWebhookDelivery(ctx, it.ID, lastErr, code, latency)
			log.Warn("webhook dead-lettered", zap.String("delivery_id", it.ID), zap.String("url", it.URL), zap.Int("attempts", it.Attempts+1), zap.String("last_error", lastErr))
		default:
			status = "retry"
			err = w.Store.MarkWebhookDelivery(ctx, it.ID, false, &next, lastErr, code, latency)
		}
		if err != nil {
			log.Warn("record webhook outcome", zap.String("delivery_id", it.ID), zap.Error(err))
		}
		metrics.WebhookDeliveries.WithLabelValues(it.EventType, status).Inc()
		metrics.WebhookLatency.WithLabelValues(it.EventType, status).Observe(float64(latency))
	}
}

func nextBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 10 {
		attempts = 10
	}
	base := time.Second * time.Duration(1<<attempts)
	if base > time.Hour {
		base = time.Hour
	}
	return base
}
