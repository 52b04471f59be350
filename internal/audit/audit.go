package audit

import "time"

// EventType constants for audit log entries.
const (
	EventServerStart       = "ServerStart"
	EventServerStop        = "ServerStop"
	EventConnectionAttempt = "ConnectionAttempt"
	EventConnectionError   = "ConnectionError"
	EventSessionStart      = "SessionStart"
	EventSessionEnd        = "SessionEnd"
	EventSessionError      = "SessionError"
)

// Result constants for the Result field.
const (
	ResultSuccess  = "Success"
	ResultFailure  = "Failure"
	ResultRejected = "Rejected"
)

// Entry represents a single audit log entry. Entries are append-only:
// once written they are never edited or deleted except by whole-file
// rotation.
type Entry struct {
	ID                     string    `json:"id"`
	Timestamp              time.Time `json:"timestamp"`
	EventType              string    `json:"event_type"`
	RemoteIP               string    `json:"remote_ip,omitempty"`
	Username               string    `json:"username,omitempty"`
	ConsentVerified        bool      `json:"consent_verified"`
	Result                 string    `json:"result"`
	Details                string    `json:"details,omitempty"`
	SessionID              string    `json:"session_id,omitempty"`
	SessionDurationSeconds *int64    `json:"session_duration_seconds,omitempty"`
	EntryHash              string    `json:"entry_hash"`
}
