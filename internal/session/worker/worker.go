package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/kicet3/AIMEX-back-sub002/internal/eventbus"
	"github.com/kicet3/AIMEX-back-sub002/internal/gpu"
	"github.com/kicet3/AIMEX-back-sub002/internal/session"
)

var _ TeardownWorker = (*SessionTaskWorker)(nil)

// SessionTaskWorker executes remote worker teardown off the request
// path. The session row is already marked terminated by the time a task
// lands here; this only reclaims the provider-side instance, with asynq
// retrying transient provider failures.
type SessionTaskWorker struct {
	gpu    gpu.IClient
	store  session.SessionStore
	bus    eventbus.EventBus
	logger *slog.Logger
}

func NewSessionTaskWorker(gpuClient gpu.IClient, store session.SessionStore, bus eventbus.EventBus, logger *slog.Logger) *SessionTaskWorker {
	return &SessionTaskWorker{
		gpu:    gpuClient,
		store:  store,
		bus:    bus,
		logger: logger.With("component", "session-worker"),
	}
}

func (w *SessionTaskWorker) HandleSessionTeardown(ctx context.Context, task *asynq.Task) error {
	var payload session.TeardownPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		w.logger.Error("Failed to unmarshal teardown payload", "error", err)
		return fmt.Errorf("json unmarshal error: %w", err)
	}

	w.logger.Info("Processing teardown task",
		"session_id", payload.SessionID, "worker_id", payload.WorkerID)

	if payload.WorkerID != "" {
		if err := w.gpu.TerminateWorker(ctx, payload.WorkerID); err != nil {
			// Already-gone workers are success; anything else retries.
			if !strings.Contains(err.Error(), "not found") {
				w.logger.Warn("Remote teardown failed, will retry",
					"worker_id", payload.WorkerID, "error", err)
				return err
			}
			w.logger.Info("Worker already gone", "worker_id", payload.WorkerID)
		}
	}

	w.markWorkerTerminated(ctx, payload.SessionID)

	if w.bus != nil {
		if err := w.bus.Publish(ctx, payload.SessionID, eventbus.Event{
			Type:    eventbus.EventSessionClosed,
			Payload: map[string]string{"worker_id": payload.WorkerID},
		}); err != nil {
			w.logger.Warn("Failed to publish close event",
				"session_id", payload.SessionID, "error", err)
		}
	}

	w.logger.Info("Teardown task completed", "session_id", payload.SessionID)
	return nil
}

func (w *SessionTaskWorker) markWorkerTerminated(ctx context.Context, sessionID string) {
	sess, err := w.store.GetByID(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, session.ErrSessionNotFound) {
			w.logger.Warn("Failed to load session after teardown",
				"session_id", sessionID, "error", err)
		}
		return
	}

	sess.WorkerStatus = session.WorkerTerminated
	if err := w.store.Update(ctx, sess); err != nil {
		w.logger.Warn("Failed to record worker termination",
			"session_id", sessionID, "error", err)
	}
}
