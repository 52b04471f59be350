// Package consent manages durable, revocable owner consent records.
// Consent gates every remote session: the admission server refuses any
// connection for an identity without a live, unexpired consent record.
package consent

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"
)

// Record is one signed statement that a named local identity has
// authorized remote sessions. Records are deactivated, never deleted:
// a revoke or a superseding grant flips IsActive, keeping full history.
type Record struct {
	ID               string     `json:"id"`
	Username         string     `json:"username"`
	ConsentTimestamp time.Time  `json:"consent_timestamp"`
	Signature        string     `json:"signature"`
	IPAddress        string     `json:"ip_address"`
	MachineName      string     `json:"machine_name"`
	IsActive         bool       `json:"is_active"`
	ExpirationDate   *time.Time `json:"expiration_date,omitempty"`
	ConsentText      string     `json:"consent_text"`
}

// Expired reports whether the record's optional expiration has passed.
func (r *Record) Expired(now time.Time) bool {
	return r.ExpirationDate != nil && r.ExpirationDate.Before(now)
}

// computeSignature derives the deterministic hash over the fields that
// constitute the consent statement. Mutating any of them invalidates
// the signature.
func computeSignature(r *Record) string {
	data := fmt.Sprintf("%s|%s|%s|%s",
		r.Username,
		r.ConsentTimestamp.UTC().Format(time.RFC3339Nano),
		r.MachineName,
		r.ConsentText)
	sum := sha256.Sum256([]byte(data))
	return base64.StdEncoding.EncodeToString(sum[:])
}
