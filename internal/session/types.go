package session

import "time"

type SessionStatus string

const (
	StatusAwaitingInput SessionStatus = "awaiting_input"
	StatusProcessing    SessionStatus = "processing"
	StatusIdle          SessionStatus = "idle"
	StatusExpired       SessionStatus = "expired"
	StatusTerminated    SessionStatus = "terminated"
)

// WorkerStatus mirrors the observed state of the leased remote worker.
type WorkerStatus string

const (
	WorkerStarting    WorkerStatus = "starting"
	WorkerReady       WorkerStatus = "ready"
	WorkerProcessing  WorkerStatus = "processing"
	WorkerTerminating WorkerStatus = "terminating"
	WorkerTerminated  WorkerStatus = "terminated"
)

// ActiveStatuses are the states a session can be reaped out of.
func ActiveStatuses() []SessionStatus {
	return []SessionStatus{StatusAwaitingInput, StatusProcessing, StatusIdle}
}

// Session is one ephemeral GPU lease for one user. At most one session
// per user may be in an active status at a time.
type Session struct {
	ID     string        `json:"id"`
	UserID string        `json:"user_id"`
	Status SessionStatus `json:"status"`

	WorkerID       string       `json:"worker_id"`
	WorkerEndpoint string       `json:"worker_endpoint"`
	WorkerStatus   WorkerStatus `json:"worker_status"`
	// WorkerConfig snapshots the lease terms at provisioning time.
	WorkerConfig map[string]string `json:"worker_config,omitempty"`

	// Per-session overrides; zero means the manager default applies.
	InputTimeout      time.Duration `json:"input_timeout"`
	ProcessingTimeout time.Duration `json:"processing_timeout"`

	InputDeadline      *time.Time `json:"input_deadline,omitempty"`
	ProcessingDeadline *time.Time `json:"processing_deadline,omitempty"`

	TotalUnitsRun int `json:"total_units_run"`

	CreatedAt      time.Time  `json:"created_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	TerminatedAt   *time.Time `json:"terminated_at,omitempty"`
}

// Deadline returns the deadline that governs the current status: the
// processing deadline while processing, otherwise the input deadline.
// Idle sessions stay bounded by the input deadline armed at creation.
func (s *Session) Deadline() *time.Time {
	if s.Status == StatusProcessing && s.ProcessingDeadline != nil {
		return s.ProcessingDeadline
	}
	return s.InputDeadline
}

// Expired reports whether the governing deadline has elapsed.
func (s *Session) Expired(now time.Time) bool {
	d := s.Deadline()
	return d != nil && now.After(*d)
}

// Terminal reports whether the session can no longer transition.
func (s *Session) Terminal() bool {
	return s.Status == StatusExpired || s.Status == StatusTerminated
}

const TaskSessionTeardown = "session:teardown"

// TeardownPayload is the asynq task body for remote worker teardown.
type TeardownPayload struct {
	SessionID string `json:"session_id"`
	WorkerID  string `json:"worker_id"`
}
