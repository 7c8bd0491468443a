package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/kicet3/AIMEX-back-sub002/internal/eventbus"
	"github.com/kicet3/AIMEX-back-sub002/internal/gpu"
	"github.com/kicet3/AIMEX-back-sub002/internal/monitor"
)

type ManagerConfig struct {
	InputTimeout      time.Duration
	ProcessingTimeout time.Duration

	ReadinessPoll    time.Duration
	ReadinessTimeout time.Duration

	ServiceReadyPoll    time.Duration
	ServiceReadyTimeout time.Duration

	// Per-request timeout of a single service readiness probe.
	ServiceProbeTimeout time.Duration
}

// AcquireOptions carries optional per-session deviations from the
// configured defaults. Zero fields mean the default applies. Only
// honored when a new session is provisioned; reusing an active session
// keeps its original lease terms.
type AcquireOptions struct {
	InputTimeout      time.Duration
	ProcessingTimeout time.Duration
}

// Manager owns session existence, timing and state transitions. Worker
// identity comes from the provisioning client; persistence goes through
// the injected store.
type Manager struct {
	gpu    gpu.IClient
	store  SessionStore
	bus    eventbus.EventBus
	queue  *asynq.Client
	config ManagerConfig
	logger *slog.Logger

	// Serializes the read-then-create sequence per user so concurrent
	// first requests cannot lease two workers for the same user.
	userLocks sync.Map
}

func NewManager(gpuClient gpu.IClient, store SessionStore, bus eventbus.EventBus, queue *asynq.Client, config ManagerConfig, logger *slog.Logger) *Manager {
	if config.InputTimeout == 0 {
		config.InputTimeout = 15 * time.Minute
	}
	if config.ProcessingTimeout == 0 {
		config.ProcessingTimeout = 10 * time.Minute
	}
	if config.ReadinessPoll == 0 {
		config.ReadinessPoll = 10 * time.Second
	}
	if config.ReadinessTimeout == 0 {
		config.ReadinessTimeout = 300 * time.Second
	}
	if config.ServiceReadyPoll == 0 {
		config.ServiceReadyPoll = 20 * time.Second
	}
	if config.ServiceReadyTimeout == 0 {
		config.ServiceReadyTimeout = 240 * time.Second
	}
	if config.ServiceProbeTimeout == 0 {
		config.ServiceProbeTimeout = 15 * time.Second
	}

	return &Manager{
		gpu:    gpuClient,
		store:  store,
		bus:    bus,
		queue:  queue,
		config: config,
		logger: logger.With("component", "session-manager"),
	}
}

func (m *Manager) userLock(userID string) *sync.Mutex {
	lock, _ := m.userLocks.LoadOrStore(userID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// Acquire returns the user's active session, leasing and waiting for a
// new worker when none exists. It blocks until the worker's service
// accepts requests or the readiness budget elapses; on failure no
// session row is left behind and the partial worker is torn down.
func (m *Manager) Acquire(ctx context.Context, userID string, opts AcquireOptions) (*Session, error) {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()

	existing, err := m.store.GetActiveByUser(ctx, userID)
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}
	if existing != nil {
		if !existing.Expired(time.Now()) {
			m.logger.Info("Reusing active session", "user_id", userID, "session_id", existing.ID)
			existing.LastActivityAt = time.Now()
			if err := m.store.Update(ctx, existing); err != nil {
				m.logger.Warn("Failed to refresh session activity", "session_id", existing.ID, "error", err)
			}
			return existing, nil
		}

		m.logger.Info("Terminating stale session before re-acquire",
			"user_id", userID, "session_id", existing.ID)
		if err := m.Terminate(ctx, existing.ID); err != nil {
			return nil, fmt.Errorf("terminate stale session: %w", err)
		}
	}

	sess, err := m.provision(ctx, userID, opts)
	if err != nil {
		monitor.SessionProvisioningErrors.Inc()
		return nil, err
	}

	monitor.SessionActiveCount.Inc()
	monitor.SessionAcquireLatency.Observe(time.Since(start).Seconds())

	m.publish(sess.ID, eventbus.EventSessionReady, map[string]string{
		"worker_id":       sess.WorkerID,
		"worker_endpoint": sess.WorkerEndpoint,
	})
	return sess, nil
}

func (m *Manager) provision(ctx context.Context, userID string, opts AcquireOptions) (*Session, error) {
	inputTimeout := m.config.InputTimeout
	if opts.InputTimeout > 0 {
		inputTimeout = opts.InputTimeout
	}
	processingTimeout := m.config.ProcessingTimeout
	if opts.ProcessingTimeout > 0 {
		processingTimeout = opts.ProcessingTimeout
	}

	id := uuid.New().String()
	label := "session-" + id[:8]

	m.logger.Info("Leasing worker", "user_id", userID, "session_id", id)
	worker, err := m.gpu.CreateWorker(ctx, label)
	if err != nil {
		return nil, err
	}

	worker, err = m.waitForWorker(ctx, worker)
	if err != nil {
		m.teardownWorker(worker.ID)
		return nil, err
	}

	if err := m.waitForService(ctx, worker.EndpointURL); err != nil {
		m.teardownWorker(worker.ID)
		return nil, err
	}

	now := time.Now()
	inputDeadline := now.Add(inputTimeout)
	sess := &Session{
		ID:             id,
		UserID:         userID,
		Status:         StatusAwaitingInput,
		WorkerID:       worker.ID,
		WorkerEndpoint: worker.EndpointURL,
		WorkerStatus:   WorkerReady,
		WorkerConfig: map[string]string{
			"gpu_type":      worker.GPUType,
			"cost_per_hour": strconv.FormatFloat(worker.CostPerHour, 'f', -1, 64),
		},
		InputTimeout:      inputTimeout,
		ProcessingTimeout: processingTimeout,
		InputDeadline:     &inputDeadline,
		CreatedAt:         now,
		LastActivityAt:    now,
	}

	if err := m.store.Create(ctx, sess); err != nil {
		m.teardownWorker(worker.ID)
		return nil, fmt.Errorf("persist session: %w", err)
	}

	m.logger.Info("Session created",
		"session_id", sess.ID,
		"user_id", userID,
		"worker_id", worker.ID,
		"input_deadline", inputDeadline,
	)
	return sess, nil
}

// waitForWorker polls the provider until the worker is RUNNING with a
// reachable endpoint.
func (m *Manager) waitForWorker(ctx context.Context, worker *gpu.WorkerHandle) (*gpu.WorkerHandle, error) {
	if worker.RunState == gpu.RunStateRunning && worker.EndpointURL != "" {
		return worker, nil
	}

	deadline := time.Now().Add(m.config.ReadinessTimeout)
	ticker := time.NewTicker(m.config.ReadinessPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return worker, ctx.Err()
		case <-ticker.C:
		}

		if time.Now().After(deadline) {
			return worker, fmt.Errorf("%w: worker %s after %s",
				gpu.ErrReadinessTimeout, worker.ID, m.config.ReadinessTimeout)
		}

		status, err := m.gpu.GetWorkerStatus(ctx, worker.ID)
		if err != nil {
			m.logger.Warn("Worker status poll failed", "worker_id", worker.ID, "error", err)
			continue
		}

		switch status.RunState {
		case gpu.RunStateFailed, gpu.RunStateExited, gpu.RunStateTerminated:
			return worker, fmt.Errorf("%w: worker %s entered state %s",
				gpu.ErrProvisioning, worker.ID, status.RunState)
		case gpu.RunStateRunning:
			if status.EndpointURL != "" {
				return status, nil
			}
		}

		m.logger.Info("Waiting for worker", "worker_id", worker.ID, "state", status.RunState)
	}
}

// waitForService polls the worker's own service until it accepts
// requests; RUNNING infrastructure can still be loading models.
func (m *Manager) waitForService(ctx context.Context, endpointURL string) error {
	deadline := time.Now().Add(m.config.ServiceReadyTimeout)

	for {
		probeCtx, cancel := context.WithTimeout(ctx, m.config.ServiceProbeTimeout)
		err := m.gpu.ProbeWorkerService(probeCtx, endpointURL)
		cancel()
		if err == nil {
			return nil
		}
		m.logger.Debug("Worker service not ready", "endpoint", endpointURL, "error", err)

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: service at %s after %s",
				gpu.ErrReadinessTimeout, endpointURL, m.config.ServiceReadyTimeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.config.ServiceReadyPoll):
		}
	}
}

// Get returns the user's active session. A session whose deadline has
// elapsed but has not been reaped yet is reported as absent; only the
// reconciler moves sessions out of active states on time alone.
func (m *Manager) Get(ctx context.Context, userID string) (*Session, error) {
	sess, err := m.store.GetActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sess.Expired(time.Now()) {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// BeginWork moves the session to processing and arms the processing
// deadline. Legal from awaiting-input and idle.
func (m *Manager) BeginWork(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := m.store.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if sess.Terminal() {
		return nil, fmt.Errorf("%w: session %s is %s", ErrInvalidState, sessionID, sess.Status)
	}
	if sess.Status == StatusProcessing {
		return nil, fmt.Errorf("%w: session %s is already processing", ErrInvalidState, sessionID)
	}
	if sess.Expired(now) {
		return nil, fmt.Errorf("%w: session %s deadline elapsed", ErrInvalidState, sessionID)
	}

	deadline := now.Add(m.processingTimeout(sess))
	sess.Status = StatusProcessing
	sess.WorkerStatus = WorkerProcessing
	sess.ProcessingDeadline = &deadline
	sess.LastActivityAt = now
	sess.TotalUnitsRun++

	if err := m.store.Update(ctx, sess); err != nil {
		return nil, err
	}

	monitor.SessionUnitsDispatched.Inc()
	m.logger.Info("Processing started",
		"session_id", sessionID, "deadline", deadline, "units", sess.TotalUnitsRun)
	return sess, nil
}

// Extend re-arms the processing deadline from the current time. Each
// call grants exactly one processing window; repeated calls cannot
// accumulate lease time beyond that.
func (m *Manager) Extend(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := m.store.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != StatusProcessing {
		return nil, fmt.Errorf("%w: session %s is %s, not processing", ErrInvalidState, sessionID, sess.Status)
	}

	now := time.Now()
	deadline := now.Add(m.processingTimeout(sess))
	sess.ProcessingDeadline = &deadline
	sess.LastActivityAt = now
	sess.TotalUnitsRun++

	if err := m.store.Update(ctx, sess); err != nil {
		return nil, err
	}

	monitor.SessionUnitsDispatched.Inc()
	m.logger.Info("Processing deadline extended",
		"session_id", sessionID, "deadline", deadline, "units", sess.TotalUnitsRun)
	return sess, nil
}

// Complete parks the session in idle and disarms the processing deadline.
func (m *Manager) Complete(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := m.store.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Terminal() {
		return nil, fmt.Errorf("%w: session %s is %s", ErrInvalidState, sessionID, sess.Status)
	}

	sess.Status = StatusIdle
	sess.WorkerStatus = WorkerReady
	sess.ProcessingDeadline = nil
	sess.LastActivityAt = time.Now()

	if err := m.store.Update(ctx, sess); err != nil {
		return nil, err
	}

	m.logger.Info("Processing completed", "session_id", sessionID)
	return sess, nil
}

// Terminate marks the session terminated and hands remote teardown to
// the task queue. Idempotent: a second call on a terminated session is
// a no-op. Teardown failures never propagate; a locally stuck session
// costs more than an occasionally leaked worker.
func (m *Manager) Terminate(ctx context.Context, sessionID string) error {
	sess, err := m.store.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status == StatusTerminated {
		return nil
	}

	wasActive := !sess.Terminal()
	now := time.Now()
	sess.Status = StatusTerminated
	sess.WorkerStatus = WorkerTerminating
	sess.TerminatedAt = &now

	if err := m.store.Update(ctx, sess); err != nil {
		return err
	}
	if wasActive {
		monitor.SessionActiveCount.Dec()
	}

	m.enqueueTeardown(ctx, sess)
	m.logger.Info("Session terminated", "session_id", sessionID, "worker_id", sess.WorkerID)
	return nil
}

func (m *Manager) enqueueTeardown(ctx context.Context, sess *Session) {
	if sess.WorkerID == "" {
		return
	}

	payload, err := json.Marshal(TeardownPayload{
		SessionID: sess.ID,
		WorkerID:  sess.WorkerID,
	})
	if err != nil {
		m.logger.Warn("Failed to marshal teardown payload, tearing down inline",
			"session_id", sess.ID, "error", err)
	} else if m.queue != nil {
		task := asynq.NewTask(TaskSessionTeardown, payload, asynq.MaxRetry(5))
		if _, err := m.queue.Enqueue(task); err == nil {
			return
		}
		m.logger.Warn("Failed to enqueue teardown task, tearing down inline",
			"session_id", sess.ID, "error", err)
	}

	if err := m.gpu.TerminateWorker(ctx, sess.WorkerID); err != nil {
		m.logger.Error("Remote worker teardown failed",
			"session_id", sess.ID, "worker_id", sess.WorkerID, "error", err)
	}
}

// teardownWorker reclaims a worker that never made it into a session,
// including when the caller disconnected mid-provisioning.
func (m *Manager) teardownWorker(workerID string) {
	if workerID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := m.gpu.TerminateWorker(ctx, workerID); err != nil {
		m.logger.Error("Failed to tear down partially provisioned worker",
			"worker_id", workerID, "error", err)
	}
}

func (m *Manager) processingTimeout(sess *Session) time.Duration {
	if sess.ProcessingTimeout > 0 {
		return sess.ProcessingTimeout
	}
	return m.config.ProcessingTimeout
}

func (m *Manager) publish(sessionID string, eventType eventbus.EventType, payload any) {
	if m.bus == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.bus.Publish(ctx, sessionID, eventbus.Event{Type: eventType, Payload: payload}); err != nil {
		m.logger.Warn("Failed to publish session event",
			"session_id", sessionID, "type", eventType, "error", err)
	}
}
