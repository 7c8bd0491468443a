package session_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/kicet3/AIMEX-back-sub002/internal/gpu"
	"github.com/kicet3/AIMEX-back-sub002/internal/session"
	"github.com/kicet3/AIMEX-back-sub002/internal/session/repo"
)

// fakeGPU stands in for the provisioning client. By default every leased
// worker comes up RUNNING with an endpoint immediately; tests flip the
// knobs to simulate slow or failing provisioning.
type fakeGPU struct {
	gpu.IClient

	mu         sync.Mutex
	nextID     int
	created    []string
	terminated []string

	createErr error
	// When createStarting is set, CreateWorker returns a STARTING worker
	// and status polls report pollState until the test's budget runs out.
	createStarting bool
	pollState      gpu.RunState
	probeErr       error
	probeRemaining time.Duration
}

func (f *fakeGPU) CreateWorker(ctx context.Context, label string) (*gpu.WorkerHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createErr != nil {
		return nil, f.createErr
	}

	f.nextID++
	id := fmt.Sprintf("wkr-%d", f.nextID)
	f.created = append(f.created, id)

	if f.createStarting {
		return &gpu.WorkerHandle{ID: id, RunState: gpu.RunStateStarting}, nil
	}
	return &gpu.WorkerHandle{
		ID:          id,
		EndpointURL: "http://" + id + ":8188",
		RunState:    gpu.RunStateRunning,
		GPUType:     "NVIDIA RTX A5000",
		CostPerHour: 0.21,
	}, nil
}

func (f *fakeGPU) GetWorkerStatus(ctx context.Context, workerID string) (*gpu.WorkerHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	state := f.pollState
	if state == "" {
		state = gpu.RunStateStarting
	}
	return &gpu.WorkerHandle{ID: workerID, RunState: state}, nil
}

func (f *fakeGPU) TerminateWorker(ctx context.Context, workerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.terminated = append(f.terminated, workerID)
	return nil
}

func (f *fakeGPU) ProbeWorkerService(ctx context.Context, endpointURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := ctx.Deadline(); ok {
		f.probeRemaining = time.Until(d)
	}
	return f.probeErr
}

func (f *fakeGPU) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func (f *fakeGPU) terminatedWorkers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.terminated...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, client *fakeGPU, config session.ManagerConfig) (*session.Manager, *repo.MemoryStore) {
	t.Helper()
	store := repo.NewMemoryStore()
	return session.NewManager(client, store, nil, nil, config, testLogger()), store
}

func TestAcquireCreatesSession(t *testing.T) {
	client := &fakeGPU{}
	mgr, _ := newTestManager(t, client, session.ManagerConfig{})

	sess, err := mgr.Acquire(context.Background(), "user-1", session.AcquireOptions{})
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if sess.Status != session.StatusAwaitingInput {
		t.Errorf("status = %s, want %s", sess.Status, session.StatusAwaitingInput)
	}
	if sess.WorkerID == "" || sess.WorkerEndpoint == "" {
		t.Errorf("worker identity not recorded: %+v", sess)
	}
	if sess.WorkerStatus != session.WorkerReady {
		t.Errorf("worker status = %s, want %s", sess.WorkerStatus, session.WorkerReady)
	}
	if sess.InputDeadline == nil {
		t.Fatal("input deadline not armed")
	}
	remaining := time.Until(*sess.InputDeadline)
	if remaining < 14*time.Minute || remaining > 15*time.Minute {
		t.Errorf("input deadline %s from now, want ~15m", remaining)
	}
	if sess.WorkerConfig["gpu_type"] == "" {
		t.Error("worker config snapshot missing gpu_type")
	}
}

func TestAcquireTimeoutOverrides(t *testing.T) {
	client := &fakeGPU{}
	mgr, _ := newTestManager(t, client, session.ManagerConfig{})
	ctx := context.Background()

	sess, err := mgr.Acquire(ctx, "user-1", session.AcquireOptions{
		InputTimeout:      5 * time.Minute,
		ProcessingTimeout: 2 * time.Minute,
	})
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if sess.InputTimeout != 5*time.Minute || sess.ProcessingTimeout != 2*time.Minute {
		t.Errorf("stored overrides = %s/%s, want 5m/2m", sess.InputTimeout, sess.ProcessingTimeout)
	}
	remaining := time.Until(*sess.InputDeadline)
	if remaining < 4*time.Minute || remaining > 5*time.Minute {
		t.Errorf("input deadline %s from now, want ~5m", remaining)
	}

	sess, err = mgr.BeginWork(ctx, sess.ID)
	if err != nil {
		t.Fatalf("BeginWork failed: %v", err)
	}
	remaining = time.Until(*sess.ProcessingDeadline)
	if remaining < time.Minute || remaining > 2*time.Minute {
		t.Errorf("processing deadline %s from now, want ~2m from the override", remaining)
	}
}

func TestServiceProbeUsesConfiguredTimeout(t *testing.T) {
	client := &fakeGPU{}
	mgr, _ := newTestManager(t, client, session.ManagerConfig{
		ServiceProbeTimeout: 80 * time.Millisecond,
	})

	if _, err := mgr.Acquire(context.Background(), "user-1", session.AcquireOptions{}); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	client.mu.Lock()
	remaining := client.probeRemaining
	client.mu.Unlock()
	if remaining <= 0 || remaining > 80*time.Millisecond {
		t.Errorf("probe deadline %s away, want within the configured 80ms", remaining)
	}
}

func TestAcquireReusesActiveSession(t *testing.T) {
	client := &fakeGPU{}
	mgr, _ := newTestManager(t, client, session.ManagerConfig{})
	ctx := context.Background()

	first, err := mgr.Acquire(ctx, "user-1", session.AcquireOptions{})
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	second, err := mgr.Acquire(ctx, "user-1", session.AcquireOptions{})
	if err != nil {
		t.Fatalf("second Acquire failed: %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("expected same session, got %s then %s", first.ID, second.ID)
	}
	if client.createCount() != 1 {
		t.Errorf("leased %d workers, want 1", client.createCount())
	}
	if second.LastActivityAt.Before(first.LastActivityAt) {
		t.Error("reuse did not refresh last activity")
	}
}

func TestAcquireIsolatesUsers(t *testing.T) {
	client := &fakeGPU{}
	mgr, _ := newTestManager(t, client, session.ManagerConfig{})
	ctx := context.Background()

	a, err := mgr.Acquire(ctx, "user-a", session.AcquireOptions{})
	if err != nil {
		t.Fatalf("Acquire user-a failed: %v", err)
	}
	b, err := mgr.Acquire(ctx, "user-b", session.AcquireOptions{})
	if err != nil {
		t.Fatalf("Acquire user-b failed: %v", err)
	}

	if a.ID == b.ID {
		t.Error("users must not share a session")
	}
	if client.createCount() != 2 {
		t.Errorf("leased %d workers, want 2", client.createCount())
	}
}

func TestAcquireConcurrentSameUser(t *testing.T) {
	client := &fakeGPU{}
	mgr, _ := newTestManager(t, client, session.ManagerConfig{})

	const n = 8
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, err := mgr.Acquire(context.Background(), "user-1", session.AcquireOptions{})
			if err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			ids[i] = sess.ID
		}(i)
	}
	wg.Wait()

	if client.createCount() != 1 {
		t.Fatalf("concurrent acquires leased %d workers, want 1", client.createCount())
	}
	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("acquire %d got session %s, acquire 0 got %s", i, ids[i], ids[0])
		}
	}
}

func TestAcquireReplacesExpiredSession(t *testing.T) {
	client := &fakeGPU{}
	mgr, store := newTestManager(t, client, session.ManagerConfig{
		InputTimeout: 30 * time.Millisecond,
	})
	ctx := context.Background()

	first, err := mgr.Acquire(ctx, "user-1", session.AcquireOptions{})
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	second, err := mgr.Acquire(ctx, "user-1", session.AcquireOptions{})
	if err != nil {
		t.Fatalf("re-acquire failed: %v", err)
	}
	if second.ID == first.ID {
		t.Fatal("expired session was reused")
	}

	old, err := store.GetByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("old session lookup failed: %v", err)
	}
	if old.Status != session.StatusTerminated {
		t.Errorf("old session status = %s, want %s", old.Status, session.StatusTerminated)
	}

	terminated := client.terminatedWorkers()
	if len(terminated) != 1 || terminated[0] != first.WorkerID {
		t.Errorf("terminated workers = %v, want [%s]", terminated, first.WorkerID)
	}
}

func TestAcquireProvisioningFailure(t *testing.T) {
	client := &fakeGPU{createErr: errors.New("no capacity")}
	mgr, store := newTestManager(t, client, session.ManagerConfig{})
	ctx := context.Background()

	if _, err := mgr.Acquire(ctx, "user-1", session.AcquireOptions{}); err == nil {
		t.Fatal("expected provisioning error")
	}

	active, err := store.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("failed acquire left %d session rows", len(active))
	}
}

func TestAcquireReadinessTimeout(t *testing.T) {
	client := &fakeGPU{createStarting: true}
	mgr, store := newTestManager(t, client, session.ManagerConfig{
		ReadinessPoll:    5 * time.Millisecond,
		ReadinessTimeout: 25 * time.Millisecond,
	})
	ctx := context.Background()

	_, err := mgr.Acquire(ctx, "user-1", session.AcquireOptions{})
	if !errors.Is(err, gpu.ErrReadinessTimeout) {
		t.Fatalf("err = %v, want ErrReadinessTimeout", err)
	}

	terminated := client.terminatedWorkers()
	if len(terminated) != 1 {
		t.Fatalf("stuck worker not torn down, terminated = %v", terminated)
	}

	active, _ := store.ListActive(ctx)
	if len(active) != 0 {
		t.Errorf("timed-out acquire left %d session rows", len(active))
	}
}

func TestAcquireWorkerFailedState(t *testing.T) {
	client := &fakeGPU{createStarting: true, pollState: gpu.RunStateFailed}
	mgr, _ := newTestManager(t, client, session.ManagerConfig{
		ReadinessPoll:    5 * time.Millisecond,
		ReadinessTimeout: time.Second,
	})

	_, err := mgr.Acquire(context.Background(), "user-1", session.AcquireOptions{})
	if !errors.Is(err, gpu.ErrProvisioning) {
		t.Fatalf("err = %v, want ErrProvisioning", err)
	}
	if len(client.terminatedWorkers()) != 1 {
		t.Error("failed worker not torn down")
	}
}

func TestBeginWorkArmsProcessingDeadline(t *testing.T) {
	client := &fakeGPU{}
	mgr, _ := newTestManager(t, client, session.ManagerConfig{
		ProcessingTimeout: 10 * time.Minute,
	})
	ctx := context.Background()

	sess, err := mgr.Acquire(ctx, "user-1", session.AcquireOptions{})
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	sess, err = mgr.BeginWork(ctx, sess.ID)
	if err != nil {
		t.Fatalf("BeginWork failed: %v", err)
	}
	if sess.Status != session.StatusProcessing {
		t.Errorf("status = %s, want %s", sess.Status, session.StatusProcessing)
	}
	if sess.ProcessingDeadline == nil {
		t.Fatal("processing deadline not armed")
	}
	remaining := time.Until(*sess.ProcessingDeadline)
	if remaining < 9*time.Minute || remaining > 10*time.Minute {
		t.Errorf("processing deadline %s from now, want ~10m", remaining)
	}
	if sess.TotalUnitsRun != 1 {
		t.Errorf("units = %d, want 1", sess.TotalUnitsRun)
	}

	if _, err := mgr.BeginWork(ctx, sess.ID); !errors.Is(err, session.ErrInvalidState) {
		t.Errorf("second BeginWork err = %v, want ErrInvalidState", err)
	}
}

func TestBeginWorkAfterInputDeadline(t *testing.T) {
	client := &fakeGPU{}
	mgr, _ := newTestManager(t, client, session.ManagerConfig{
		InputTimeout: 30 * time.Millisecond,
	})
	ctx := context.Background()

	sess, err := mgr.Acquire(ctx, "user-1", session.AcquireOptions{})
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	if _, err := mgr.BeginWork(ctx, sess.ID); !errors.Is(err, session.ErrInvalidState) {
		t.Fatalf("BeginWork on expired session err = %v, want ErrInvalidState", err)
	}
}

func TestExtendOnlyWhileProcessing(t *testing.T) {
	client := &fakeGPU{}
	mgr, _ := newTestManager(t, client, session.ManagerConfig{})
	ctx := context.Background()

	sess, err := mgr.Acquire(ctx, "user-1", session.AcquireOptions{})
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if _, err := mgr.Extend(ctx, sess.ID); !errors.Is(err, session.ErrInvalidState) {
		t.Fatalf("Extend before BeginWork err = %v, want ErrInvalidState", err)
	}

	sess, err = mgr.BeginWork(ctx, sess.ID)
	if err != nil {
		t.Fatalf("BeginWork failed: %v", err)
	}
	before := *sess.ProcessingDeadline

	time.Sleep(5 * time.Millisecond)

	sess, err = mgr.Extend(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Extend failed: %v", err)
	}
	if !sess.ProcessingDeadline.After(before) {
		t.Error("Extend did not advance the processing deadline")
	}
	if sess.TotalUnitsRun != 2 {
		t.Errorf("units = %d, want 2", sess.TotalUnitsRun)
	}
}

func TestCompleteParksSessionIdle(t *testing.T) {
	client := &fakeGPU{}
	mgr, _ := newTestManager(t, client, session.ManagerConfig{})
	ctx := context.Background()

	sess, err := mgr.Acquire(ctx, "user-1", session.AcquireOptions{})
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if _, err := mgr.BeginWork(ctx, sess.ID); err != nil {
		t.Fatalf("BeginWork failed: %v", err)
	}

	sess, err = mgr.Complete(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if sess.Status != session.StatusIdle {
		t.Errorf("status = %s, want %s", sess.Status, session.StatusIdle)
	}
	if sess.ProcessingDeadline != nil {
		t.Error("processing deadline not disarmed")
	}
	if sess.WorkerStatus != session.WorkerReady {
		t.Errorf("worker status = %s, want %s", sess.WorkerStatus, session.WorkerReady)
	}

	// Idle sessions accept the next unit of work.
	sess, err = mgr.BeginWork(ctx, sess.ID)
	if err != nil {
		t.Fatalf("BeginWork from idle failed: %v", err)
	}
	if sess.TotalUnitsRun != 2 {
		t.Errorf("units = %d, want 2", sess.TotalUnitsRun)
	}
}

func TestTerminateIdempotent(t *testing.T) {
	client := &fakeGPU{}
	mgr, store := newTestManager(t, client, session.ManagerConfig{})
	ctx := context.Background()

	sess, err := mgr.Acquire(ctx, "user-1", session.AcquireOptions{})
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if err := mgr.Terminate(ctx, sess.ID); err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}
	if err := mgr.Terminate(ctx, sess.ID); err != nil {
		t.Fatalf("repeat Terminate failed: %v", err)
	}

	if got := len(client.terminatedWorkers()); got != 1 {
		t.Errorf("worker torn down %d times, want 1", got)
	}

	stored, err := store.GetByID(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if stored.Status != session.StatusTerminated {
		t.Errorf("status = %s, want %s", stored.Status, session.StatusTerminated)
	}
	if stored.TerminatedAt == nil {
		t.Error("terminated_at not set")
	}
}

func TestTerminateUnknownSession(t *testing.T) {
	client := &fakeGPU{}
	mgr, _ := newTestManager(t, client, session.ManagerConfig{})

	err := mgr.Terminate(context.Background(), "nope")
	if !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestGetHidesExpiredSession(t *testing.T) {
	client := &fakeGPU{}
	mgr, _ := newTestManager(t, client, session.ManagerConfig{
		InputTimeout: 30 * time.Millisecond,
	})
	ctx := context.Background()

	if _, err := mgr.Acquire(ctx, "user-1", session.AcquireOptions{}); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if _, err := mgr.Get(ctx, "user-1"); err != nil {
		t.Fatalf("Get before expiry failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	if _, err := mgr.Get(ctx, "user-1"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("Get after expiry err = %v, want ErrSessionNotFound", err)
	}
}
