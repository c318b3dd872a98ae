package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"netopt/internal/config"
	"netopt/internal/logging"
	"netopt/internal/metrics"
	"netopt/internal/model"
	"netopt/internal/opt"
	"netopt/internal/scenario"
	"netopt/internal/store"
	"netopt/internal/webhooks"
)

// ErrQueueFull is returned when no run slot is free.
var ErrQueueFull = errors.New("run queue is full")

type Server struct {
	Config  *config.Config
	Store   store.Store
	Runner  *scenario.Runner
	Broker  EventBroker
	Pub     *webhooks.Publisher
	Limiter *rate.Limiter
	Logger  *zap.Logger

	mu     sync.Mutex
	closed bool
	queue  chan queuedRun
	wg     sync.WaitGroup
}

type queuedRun struct {
	run model.Run
	sc  scenario.Scenario
}

// NewServer wires the server from configuration. Postgres backs runs when
// database.url is set, otherwise an in-memory store is used; Redis carries
// run events when redis.url is set.
func NewServer(cfg *config.Config, log *zap.Logger) (*Server, error) {
	log = logging.OrNop(log)
	var s store.Store
	if strings.TrimSpace(cfg.Database.URL) == "" {
		s = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := sp.Migrate(ctx); err != nil {
			return nil, err
		}
		s = sp
	}
	var broker EventBroker = NewBroker()
	if cfg.Redis.URL != "" {
		if rb, err := NewRedisBroker(cfg.Redis.URL, cfg.Redis.Channel, log); err == nil {
			broker = rb
		} else {
			log.Warn("redis broker unavailable, using in-process broker", zap.Error(err))
		}
	}
	return New(cfg, s, broker, log), nil
}

// New assembles a Server over explicit collaborators.
func New(cfg *config.Config, s store.Store, broker EventBroker, log *zap.Logger) *Server {
	log = logging.OrNop(log)
	srv := &Server{
		Config: cfg,
		Store:  s,
		Runner: &scenario.Runner{
			Logger:   log,
			Metrics:  metrics.Recorder{},
			Defaults: cfg.ScenarioDefaults(),
			Stats:    opt.NewStatsStore(cfg.Runs.StatsLimit),
		},
		Broker: broker,
		Pub:    webhooks.NewPublisher(s, cfg.Webhooks.Sinks, cfg.Webhooks.Secret, log),
		Logger: log,
		queue:  make(chan queuedRun, 64),
	}
	if cfg.Server.RateLimitRPS > 0 {
		burst := cfg.Server.RateBurst
		if burst <= 0 {
			burst = 1
		}
		srv.Limiter = rate.NewLimiter(rate.Limit(cfg.Server.RateLimitRPS), burst)
	}
	return srv
}

// Start launches the run executors.
func (s *Server) Start() {
	n := s.Config.Runs.Workers
	if n <= 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for q := range s.queue {
				s.execute(context.Background(), q.run, q.sc)
			}
		}()
	}
}

// Shutdown stops accepting runs and waits for queued ones to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) enqueue(q queuedRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrQueueFull
	}
	select {
	case s.queue <- q:
		return nil
	default:
		return ErrQueueFull
	}
}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	w := s.Config.Webhooks
	return webhooks.NewWorker(s.Store, w.MaxAttempts, w.Timeout, w.PollInterval, s.Logger)
}

// Routes returns the instrumented HTTP handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// Runs
	mux.HandleFunc("/v1/runs", s.RunsHandler)
	mux.HandleFunc("/v1/runs/", s.RunByIDHandler) // includes /events, /ws, /stats, /input

	// Engine
	mux.HandleFunc("/v1/optimize", s.OptimizeHandler)
	mux.HandleFunc("/v1/cost-matrix", s.CostMatrixHandler)
	mux.HandleFunc("/v1/warehouse/size", s.WarehouseSizeHandler)
	mux.HandleFunc("/v1/projection", s.ProjectionHandler)
	mux.HandleFunc("/v1/optimizer/config", s.OptimizerConfigHandler)

	// Admin
	mux.HandleFunc("/v1/admin/webhook-deliveries", s.WebhookDeliveriesHandler)
	mux.HandleFunc("/v1/admin/webhook-deliveries/", s.WebhookDeliveryRetryHandler)

	// Service
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)
	mux.HandleFunc("/version", s.VersionHandler)
	mux.Handle("/metrics", metrics.Handler())

	return s.instrument(mux)
}
