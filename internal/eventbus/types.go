package eventbus

import "time"

type EventType string

const (
	// EventSessionReady fires once the leased worker's service accepts requests.
	EventSessionReady EventType = "session.ready"
	// EventSessionExpired fires when the reconciler reaps a session past its deadline.
	EventSessionExpired EventType = "session.expired"
	// EventSessionClosed fires after the remote worker teardown task ran.
	EventSessionClosed EventType = "session.closed"
	EventSessionError  EventType = "session.error"
)

type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

func SessionChannelKey(sessionID string) string {
	return "session:" + sessionID + ":events"
}
