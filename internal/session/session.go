// Package session tracks currently live remote-control sessions,
// independent of the network transport that feeds them.
package session

import "time"

// Static placeholders pending real transport negotiation.
const (
	placeholderProtocol = "TLS 1.3"
	authMethod          = "SharedSecret"
)

// Info describes one admitted, tracked session.
type Info struct {
	SessionID            string    `json:"session_id"`
	Username             string    `json:"username"`
	RemoteIP             string    `json:"remote_ip"`
	StartTime            time.Time `json:"start_time"`
	LastActivity         time.Time `json:"last_activity"`
	IsActive             bool      `json:"is_active"`
	EncryptionProtocol   string    `json:"encryption_protocol"`
	AuthenticationMethod string    `json:"authentication_method"`
	ConsentRecordID      string    `json:"consent_record_id"`
}

// SecurityStatus describes what a security validation actually
// verified, so a real encryption-strength check can replace the
// current placeholder without changing the contract shape.
type SecurityStatus struct {
	Verified         bool   `json:"verified"`
	Protocol         string `json:"protocol,omitempty"`
	CipherSuite      string `json:"cipher_suite,omitempty"`
	CertificateValid bool   `json:"certificate_valid"`
	Reason           string `json:"reason,omitempty"`
}

// Event types published to registry subscribers.
const (
	EventStart = "session_start"
	EventEnd   = "session_end"
)

// Event is one session lifecycle notification.
type Event struct {
	Type    string `json:"type"`
	Session Info   `json:"session"`
}
