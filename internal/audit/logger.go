package audit

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Default rotation parameters.
const (
	DefaultMaxSizeBytes = 50 * 1024 * 1024
	DefaultMaxFiles     = 10
)

// Logger writes append-only, hash-chained audit entries to a JSON-lines
// file. When the active file reaches maxSize the file is rotated to
// numbered backups (audit.1.log newest, audit.N.log oldest); backups
// beyond maxFiles are deleted.
//
// A single mutex serializes appends, rotation, and reads: file-append
// and rotation are not safely interleavable, and audit correctness
// matters more than read latency.
type Logger struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	dir      string
	base     string
	maxSize  int64
	maxFiles int
	size     int64
	prevHash string
}

// DefaultPath returns the platform-appropriate default audit log path.
func DefaultPath() string {
	if runtime.GOOS == "darwin" {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".ostiary", "logs", "audit.log")
	}
	return "/var/lib/ostiary/logs/audit.log"
}

// NewLogger opens (or creates) the audit log file at path. The directory
// is created with 0700; the file with 0600. Existing entries are read to
// recover the last hash for chain continuity. maxSize or maxFiles <= 0
// select the defaults.
func NewLogger(path string, maxSize int64, maxFiles int) (*Logger, error) {
	if path == "" {
		path = DefaultPath()
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSizeBytes
	}
	if maxFiles <= 0 {
		maxFiles = DefaultMaxFiles
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("audit: create dir %s: %w", dir, err)
	}

	// Recover previous hash from existing file
	prevHash := ""
	var size int64
	if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
		size = int64(len(data))
		lines := splitLines(data)
		for i := len(lines) - 1; i >= 0; i-- {
			if len(lines[i]) == 0 {
				continue
			}
			var entry Entry
			if json.Unmarshal(lines[i], &entry) == nil {
				prevHash = entry.EntryHash
			}
			break
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}

	return &Logger{
		file:     f,
		path:     path,
		dir:      dir,
		base:     filepath.Base(path),
		maxSize:  maxSize,
		maxFiles: maxFiles,
		size:     size,
		prevHash: prevHash,
	}, nil
}

// LogEvent writes an audit entry, rotating first if the active file is
// at or above the size threshold. Missing ID and Timestamp fields are
// filled in; the entry hash is chained over the previous entry's hash.
func (l *Logger) LogEvent(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.size >= l.maxSize {
		if err := l.rotateLocked(); err != nil {
			return err
		}
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	// Compute hash: SHA256(prevHash + json_without_hash)
	entry.EntryHash = ""
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit: marshal: %w", err)
	}

	h := sha256.Sum256(append([]byte(l.prevHash), raw...))
	entry.EntryHash = fmt.Sprintf("%x", h)

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit: marshal final: %w", err)
	}
	line = append(line, '\n')

	if _, err := l.file.Write(line); err != nil {
		return fmt.Errorf("audit: write: %w", err)
	}
	l.prevHash = entry.EntryHash
	l.size += int64(len(line))
	return nil
}

// LogConnectionAttempt records the outcome of one connection attempt.
func (l *Logger) LogConnectionAttempt(remoteIP, username string, consentVerified bool, result, details string) error {
	return l.LogEvent(Entry{
		EventType:       EventConnectionAttempt,
		RemoteIP:        remoteIP,
		Username:        username,
		ConsentVerified: consentVerified,
		Result:          result,
		Details:         details,
	})
}

// LogSessionStart records the creation of a session.
func (l *Logger) LogSessionStart(sessionID, remoteIP, username string) error {
	return l.LogEvent(Entry{
		EventType:       EventSessionStart,
		RemoteIP:        remoteIP,
		Username:        username,
		SessionID:       sessionID,
		ConsentVerified: true,
		Result:          ResultSuccess,
		Details:         fmt.Sprintf("Session %s started for user %s from %s", sessionID, username, remoteIP),
	})
}

// LogSessionEnd records the termination of a session.
func (l *Logger) LogSessionEnd(sessionID string, durationSeconds int64) error {
	return l.LogEvent(Entry{
		EventType:              EventSessionEnd,
		SessionID:              sessionID,
		SessionDurationSeconds: &durationSeconds,
		ConsentVerified:        true,
		Result:                 ResultSuccess,
		Details:                fmt.Sprintf("Session %s ended. Duration: %ds", sessionID, durationSeconds),
	})
}

// GetLogs returns entries from the active file whose timestamp falls in
// [start, end]. Malformed lines are skipped. Rotated backups are not
// read; callers needing full history must account for rotation.
func (l *Logger) GetLogs(start, end time.Time) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("audit: read %s: %w", l.path, err)
	}

	var entries []Entry
	for _, ln := range splitLines(data) {
		if len(ln) == 0 {
			continue
		}
		var entry Entry
		if json.Unmarshal(ln, &entry) != nil {
			continue
		}
		if entry.Timestamp.Before(start) || entry.Timestamp.After(end) {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// RotateLogs forces a rotation of the active file.
func (l *Logger) RotateLogs() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rotateLocked()
}

// rotateLocked shifts numbered backups up by one index, deleting any
// that would exceed maxFiles, then moves the active file to index 1 and
// starts a fresh one. Callers must hold l.mu.
func (l *Logger) rotateLocked() error {
	if _, err := os.Stat(l.path); os.IsNotExist(err) {
		return nil
	}

	if err := l.file.Close(); err != nil {
		return fmt.Errorf("audit: close for rotation: %w", err)
	}

	// Oldest backup falls off the end.
	last := l.backupPath(l.maxFiles)
	if _, err := os.Stat(last); err == nil {
		if err := os.Remove(last); err != nil {
			return fmt.Errorf("audit: remove %s: %w", last, err)
		}
	}
	for i := l.maxFiles - 1; i >= 1; i-- {
		oldFile := l.backupPath(i)
		if _, err := os.Stat(oldFile); err != nil {
			continue
		}
		if err := os.Rename(oldFile, l.backupPath(i+1)); err != nil {
			return fmt.Errorf("audit: rotate %s: %w", oldFile, err)
		}
	}

	if err := os.Rename(l.path, l.backupPath(1)); err != nil {
		return fmt.Errorf("audit: rotate active file: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0600)
	if err != nil {
		return fmt.Errorf("audit: reopen %s: %w", l.path, err)
	}
	l.file = f
	l.size = 0
	// Each file carries an independent hash chain.
	l.prevHash = ""
	return nil
}

func (l *Logger) backupPath(i int) string {
	ext := filepath.Ext(l.base)
	stem := l.base[:len(l.base)-len(ext)]
	return filepath.Join(l.dir, fmt.Sprintf("%s.%d%s", stem, i, ext))
}

// Close closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// VerifyFile walks the hash chain of one log file and returns the
// number of entries verified. A chain break or an unparsable line is an
// error: the file has been edited after the fact.
func VerifyFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("audit: read %s: %w", path, err)
	}

	prevHash := ""
	count := 0
	for i, ln := range splitLines(data) {
		if len(ln) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(ln, &entry); err != nil {
			return count, fmt.Errorf("audit: line %d: unparsable entry: %w", i+1, err)
		}
		recorded := entry.EntryHash
		entry.EntryHash = ""
		raw, err := json.Marshal(entry)
		if err != nil {
			return count, fmt.Errorf("audit: line %d: %w", i+1, err)
		}
		h := sha256.Sum256(append([]byte(prevHash), raw...))
		if recorded != fmt.Sprintf("%x", h) {
			return count, fmt.Errorf("audit: line %d: hash chain broken", i+1)
		}
		prevHash = recorded
		count++
	}
	return count, nil
}

// splitLines splits data into JSON-lines (byte slices).
func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, data[start:i])
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}
