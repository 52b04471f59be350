package consent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists consent records as a single flat JSON array, rewritten
// in full on every mutation. Mutations run read-modify-write under one
// mutex so concurrent grants cannot interleave and leave two active
// records for a user. Reads do not take the lock: the file is replaced
// by atomic rename, so a reader always observes a complete snapshot.
type Store struct {
	mu   sync.Mutex
	path string
}

// DefaultPath returns the platform-appropriate default consent file path.
func DefaultPath() string {
	if runtime.GOOS == "darwin" {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".ostiary", "consent", "consent.json")
	}
	return "/var/lib/ostiary/consent/consent.json"
}

// NewStore creates a store backed by the JSON file at path, creating
// the parent directory with 0700.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath()
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("consent: create dir %s: %w", dir, err)
	}
	return &Store{path: path}, nil
}

// RecordConsent signs and persists a new consent record, atomically
// deactivating every prior record for the same username in the same
// write. Missing ID and timestamp fields are filled in. Fails only on
// I/O error.
func (s *Store) RecordConsent(record *Record) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.ConsentTimestamp.IsZero() {
		record.ConsentTimestamp = time.Now().UTC()
	}
	record.IsActive = true
	record.Signature = computeSignature(record)

	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.load()
	for i := range records {
		if records[i].Username == record.Username {
			records[i].IsActive = false
		}
	}
	records = append(records, *record)

	return s.save(records)
}

// HasValidConsent reports whether username has an active, unexpired
// consent record. Expiration is compared against current UTC time.
func (s *Store) HasValidConsent(username string) bool {
	rec := s.GetActiveConsent(username)
	if rec == nil {
		return false
	}
	return !rec.Expired(time.Now().UTC())
}

// GetActiveConsent returns the most recent active record for username,
// or nil if none exists.
func (s *Store) GetActiveConsent(username string) *Record {
	var latest *Record
	for _, r := range s.load() {
		if r.Username != username || !r.IsActive {
			continue
		}
		if latest == nil || r.ConsentTimestamp.After(latest.ConsentTimestamp) {
			rec := r
			latest = &rec
		}
	}
	return latest
}

// RevokeConsent deactivates all active records for username. It
// reports whether any record changed.
func (s *Store) RevokeConsent(username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.load()
	modified := false
	for i := range records {
		if records[i].Username == username && records[i].IsActive {
			records[i].IsActive = false
			modified = true
		}
	}
	if !modified {
		return false, nil
	}
	if err := s.save(records); err != nil {
		return false, err
	}
	return true, nil
}

// ValidateSignature recomputes the record's signature and compares it
// to the stored one, detecting tampering of persisted data.
func (s *Store) ValidateSignature(record *Record) bool {
	return record.Signature == computeSignature(record)
}

// ListConsents returns all records, newest grant first.
func (s *Store) ListConsents() []Record {
	records := s.load()
	sort.Slice(records, func(i, j int) bool {
		return records[i].ConsentTimestamp.After(records[j].ConsentTimestamp)
	})
	return records
}

// load reads the full record set. A missing or unparsable file yields
// an empty set: a corrupt store must never be fatal to a read.
func (s *Store) load() []Record {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil
	}
	return records
}

// save rewrites the full record set via write-then-atomic-rename so a
// concurrent reader never observes a partial file.
func (s *Store) save(records []Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("consent: marshal: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".consent-*")
	if err != nil {
		return fmt.Errorf("consent: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("consent: write temp: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("consent: chmod temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("consent: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("consent: replace %s: %w", s.path, err)
	}
	return nil
}
