package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"

	"github.com/kicet3/AIMEX-back-sub002/internal/api"
	"github.com/kicet3/AIMEX-back-sub002/internal/config"
	"github.com/kicet3/AIMEX-back-sub002/internal/eventbus"
	"github.com/kicet3/AIMEX-back-sub002/internal/health"
	"github.com/kicet3/AIMEX-back-sub002/internal/monitor"
	"github.com/kicet3/AIMEX-back-sub002/internal/session"
	"github.com/kicet3/AIMEX-back-sub002/internal/session/repo"
	"github.com/kicet3/AIMEX-back-sub002/internal/session/worker"
)

type Server struct {
	cfg         *config.Config
	deps        *Dependency
	httpServer  *http.Server
	asynqServer *asynq.Server
	asynqMux    *asynq.ServeMux
	manager     *session.Manager
	reconciler  *session.Reconciler
	store       session.SessionStore
	logger      *slog.Logger
}

func NewServer(cfg *config.Config, deps *Dependency) *Server {
	logger := deps.Logger

	bus := eventbus.NewRedisBus(deps.Redis, logger)
	store := repo.NewRepository(deps.PG, deps.Redis)

	manager := session.NewManager(deps.GPU, store, bus, deps.AsynqClient, session.ManagerConfig{
		InputTimeout:        cfg.Session.InputTimeout,
		ProcessingTimeout:   cfg.Session.ProcessingTimeout,
		ReadinessPoll:       cfg.Session.ReadinessPoll,
		ReadinessTimeout:    cfg.Session.ReadinessTimeout,
		ServiceReadyPoll:    cfg.Session.ServiceReadyPoll,
		ServiceReadyTimeout: cfg.Session.ServiceReadyTimeout,
		ServiceProbeTimeout: cfg.Session.ServiceProbeTimeout,
	}, logger)

	reconciler := session.NewReconciler(store, manager.Terminate, bus, session.ReconcilerConfig{
		Interval: cfg.Reconciler.Interval,
	}, logger)

	probe := health.NewProbe(deps.GPU, health.ProbeConfig{
		Timeout: cfg.Health.ProbeTimeout,
		Thresholds: health.Thresholds{
			QueueDepth: cfg.Health.DegradedQueueDepth,
			LatencyMs:  cfg.Health.DegradedLatencyMs,
		},
	}, logger)

	teardownWorker := worker.NewSessionTaskWorker(deps.GPU, store, bus, logger)

	asynqServer := asynq.NewServer(deps.AsynqRedis, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
		Logger:      newAsynqLogger(logger),
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(session.TaskSessionTeardown, teardownWorker.HandleSessionTeardown)

	router := api.NewRouter(manager, probe, bus)
	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Server{
		cfg:         cfg,
		deps:        deps,
		httpServer:  httpServer,
		asynqServer: asynqServer,
		asynqMux:    mux,
		manager:     manager,
		reconciler:  reconciler,
		store:       store,
		logger:      logger,
	}
}

func (s *Server) Start(ctx context.Context) error {
	go func() {
		s.logger.Info("Starting Asynq worker", "concurrency", s.cfg.Worker.Concurrency)
		if err := s.asynqServer.Start(s.asynqMux); err != nil {
			s.logger.Error("Asynq worker failed", "error", err)
		}
	}()

	go s.reconciler.Start()

	go func() {
		if err := monitor.StartMetricsServer(ctx, s.cfg.Metrics.Addr, s.logger); err != nil {
			s.logger.Error("Metrics server failed", "error", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting API server", "addr", s.cfg.Server.Addr)
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutdown signal received, draining...")
	case err := <-errCh:
		return err
	}

	return s.Shutdown()
}

func (s *Server) Shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	s.reconciler.Stop()

	// Leased workers bill by the hour; release them before exiting.
	session.CleanupAllActive(shutdownCtx, s.store, s.manager.Terminate, s.logger)

	s.asynqServer.Shutdown()

	s.logger.Info("Server stopped gracefully")
	return nil
}

type asynqLogger struct {
	l *slog.Logger
}

func newAsynqLogger(l *slog.Logger) *asynqLogger {
	return &asynqLogger{l: l.With("component", "asynq")}
}

func (a *asynqLogger) Debug(args ...any) { a.l.Debug("", "msg", args) }
func (a *asynqLogger) Info(args ...any)  { a.l.Info("", "msg", args) }
func (a *asynqLogger) Warn(args ...any)  { a.l.Warn("", "msg", args) }
func (a *asynqLogger) Error(args ...any) { a.l.Error("", "msg", args) }
func (a *asynqLogger) Fatal(args ...any) { a.l.Error("FATAL", "msg", args) }
