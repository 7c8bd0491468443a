package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/kicet3/AIMEX-back-sub002/internal/eventbus"
	"github.com/kicet3/AIMEX-back-sub002/internal/monitor"
)

type ReconcilerConfig struct {
	Interval time.Duration
}

// Reconciler is the only path that expires sessions purely on elapsed
// time. Request-path code reads deadlines but never mutates on them.
// Safe to run concurrently with request-path mutations because
// termination is idempotent.
type Reconciler struct {
	store       SessionStore
	terminateFn func(ctx context.Context, sessionID string) error
	bus         eventbus.EventBus
	logger      *slog.Logger
	config      ReconcilerConfig
	stopCh      chan struct{}
}

func NewReconciler(
	store SessionStore,
	terminateFn func(ctx context.Context, sessionID string) error,
	bus eventbus.EventBus,
	config ReconcilerConfig,
	logger *slog.Logger,
) *Reconciler {
	if config.Interval == 0 {
		config.Interval = 60 * time.Second
	}

	return &Reconciler{
		store:       store,
		terminateFn: terminateFn,
		bus:         bus,
		logger:      logger.With("component", "reconciler"),
		config:      config,
		stopCh:      make(chan struct{}),
	}
}

// Start runs the sweep loop. Blocking; call in a goroutine.
func (r *Reconciler) Start() {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.logger.Info("Reconciler started", "interval", r.config.Interval)

	for {
		select {
		case <-r.stopCh:
			r.logger.Info("Reconciler stopped")
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

func (r *Reconciler) Stop() {
	select {
	case <-r.stopCh:
		// already closed
	default:
		close(r.stopCh)
	}
}

// Sweep terminates every active session whose governing deadline has
// passed.
func (r *Reconciler) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	monitor.ReconcilerSweeps.Inc()

	active, err := r.store.ListActive(ctx)
	if err != nil {
		r.logger.Error("Failed to list active sessions", "error", err)
		return
	}

	now := time.Now()
	reaped := 0

	for _, sess := range active {
		if !sess.Expired(now) {
			continue
		}

		r.logger.Warn("Reaping expired session",
			"session_id", sess.ID,
			"user_id", sess.UserID,
			"status", sess.Status,
			"deadline", sess.Deadline(),
		)

		if err := r.terminateFn(ctx, sess.ID); err != nil {
			r.logger.Error("Failed to terminate expired session",
				"session_id", sess.ID, "error", err)
			continue
		}

		monitor.ReconcilerReapedSessions.Inc()
		reaped++

		if r.bus != nil {
			if err := r.bus.Publish(ctx, sess.ID, eventbus.Event{
				Type:    eventbus.EventSessionExpired,
				Payload: map[string]string{"status_at_expiry": string(sess.Status)},
			}); err != nil {
				r.logger.Warn("Failed to publish expiry event", "session_id", sess.ID, "error", err)
			}
		}
	}

	if reaped > 0 {
		r.logger.Info("Sweep completed", "reaped", reaped)
	}
}

// CleanupAllActive terminates every active session; used on shutdown so
// no leased worker outlives the process unaccounted for.
func CleanupAllActive(
	ctx context.Context,
	store SessionStore,
	terminateFn func(ctx context.Context, sessionID string) error,
	logger *slog.Logger,
) {
	active, err := store.ListActive(ctx)
	if err != nil {
		logger.Error("Failed to list active sessions for shutdown cleanup", "error", err)
		return
	}
	if len(active) == 0 {
		return
	}

	logger.Info("Terminating active sessions on shutdown", "count", len(active))
	for _, sess := range active {
		if err := terminateFn(ctx, sess.ID); err != nil {
			logger.Error("Failed to terminate session on shutdown",
				"session_id", sess.ID, "error", err)
		}
	}
	logger.Info("Shutdown session cleanup completed")
}
