package api

import (
	"time"

	"github.com/kicet3/AIMEX-back-sub002/internal/session"
)

type AcquireSessionRequest struct {
	UserID string `json:"user_id" binding:"required"`

	// Optional per-session deviations from the configured timeouts.
	InputTimeoutMinutes      int `json:"input_timeout_minutes" binding:"omitempty,min=1"`
	ProcessingTimeoutMinutes int `json:"processing_timeout_minutes" binding:"omitempty,min=1"`
}

type SessionResponse struct {
	ID                 string `json:"id"`
	UserID             string `json:"user_id"`
	Status             string `json:"status"`
	WorkerID           string `json:"worker_id,omitempty"`
	WorkerEndpoint     string `json:"worker_endpoint,omitempty"`
	WorkerStatus       string `json:"worker_status,omitempty"`
	InputDeadline      string `json:"input_deadline,omitempty"`
	ProcessingDeadline string `json:"processing_deadline,omitempty"`
	TotalUnitsRun      int    `json:"total_units_run"`
	CreatedAt          string `json:"created_at"`
	LastActivityAt     string `json:"last_activity_at"`
	TerminatedAt       string `json:"terminated_at,omitempty"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
}

func toSessionResponse(s *session.Session) SessionResponse {
	return SessionResponse{
		ID:                 s.ID,
		UserID:             s.UserID,
		Status:             string(s.Status),
		WorkerID:           s.WorkerID,
		WorkerEndpoint:     s.WorkerEndpoint,
		WorkerStatus:       string(s.WorkerStatus),
		InputDeadline:      formatTimePtr(s.InputDeadline),
		ProcessingDeadline: formatTimePtr(s.ProcessingDeadline),
		TotalUnitsRun:      s.TotalUnitsRun,
		CreatedAt:          formatTime(s.CreatedAt),
		LastActivityAt:     formatTime(s.LastActivityAt),
		TerminatedAt:       formatTimePtr(s.TerminatedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
