package repo

import (
	"time"

	"github.com/kicet3/AIMEX-back-sub002/internal/session"
)

const sessionCacheTTL = time.Minute * 5

type SessionModel struct {
	ID            string                `pg:"id,pk"`
	UserID        string                `pg:"user_id,notnull"`
	SessionStatus session.SessionStatus `pg:"session_status,notnull"`

	WorkerID       string               `pg:"worker_id"`
	WorkerEndpoint string               `pg:"worker_endpoint"`
	WorkerStatus   session.WorkerStatus `pg:"worker_status"`
	WorkerConfig   map[string]string    `pg:"worker_config"`

	InputTimeoutSec      int `pg:"input_timeout_sec,use_zero"`
	ProcessingTimeoutSec int `pg:"processing_timeout_sec,use_zero"`

	InputDeadline      *time.Time `pg:"input_deadline"`
	ProcessingDeadline *time.Time `pg:"processing_deadline"`

	TotalUnitsRun int `pg:"total_units_run,use_zero"`

	CreatedAt      time.Time  `pg:"created_at,notnull"`
	LastActivityAt time.Time  `pg:"last_activity_at,notnull"`
	TerminatedAt   *time.Time `pg:"terminated_at"`
}

func toModel(s *session.Session) *SessionModel {
	return &SessionModel{
		ID:                   s.ID,
		UserID:               s.UserID,
		SessionStatus:        s.Status,
		WorkerID:             s.WorkerID,
		WorkerEndpoint:       s.WorkerEndpoint,
		WorkerStatus:         s.WorkerStatus,
		WorkerConfig:         s.WorkerConfig,
		InputTimeoutSec:      int(s.InputTimeout / time.Second),
		ProcessingTimeoutSec: int(s.ProcessingTimeout / time.Second),
		InputDeadline:        s.InputDeadline,
		ProcessingDeadline:   s.ProcessingDeadline,
		TotalUnitsRun:        s.TotalUnitsRun,
		CreatedAt:            s.CreatedAt,
		LastActivityAt:       s.LastActivityAt,
		TerminatedAt:         s.TerminatedAt,
	}
}

func fromModel(m *SessionModel) *session.Session {
	return &session.Session{
		ID:                 m.ID,
		UserID:             m.UserID,
		Status:             m.SessionStatus,
		WorkerID:           m.WorkerID,
		WorkerEndpoint:     m.WorkerEndpoint,
		WorkerStatus:       m.WorkerStatus,
		WorkerConfig:       m.WorkerConfig,
		InputTimeout:       time.Duration(m.InputTimeoutSec) * time.Second,
		ProcessingTimeout:  time.Duration(m.ProcessingTimeoutSec) * time.Second,
		InputDeadline:      m.InputDeadline,
		ProcessingDeadline: m.ProcessingDeadline,
		TotalUnitsRun:      m.TotalUnitsRun,
		CreatedAt:          m.CreatedAt,
		LastActivityAt:     m.LastActivityAt,
		TerminatedAt:       m.TerminatedAt,
	}
}

func sessionCacheKey(sessionID string) string {
	return "session:" + sessionID
}
