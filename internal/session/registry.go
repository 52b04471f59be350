package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ostiary-io/ostiary/internal/audit"
)

// Registry is the table of live sessions. Entries are owned by the
// registry while active: connection handlers hold only the session id
// and mutate entries through the registry's API. The table supports
// concurrent insert, update, and removal from independent handlers
// without one session's handler blocking another's.
type Registry struct {
	sessions sync.Map // session id -> *entry
	audit    *audit.Logger
	log      *slog.Logger

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

// entry wraps an Info with its own lock so activity updates on one
// session never contend with snapshots of another.
type entry struct {
	mu   sync.Mutex
	info Info
}

func (e *entry) snapshot() Info {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.info
}

// NewRegistry creates an empty registry that mirrors every lifecycle
// transition into the given audit logger.
func NewRegistry(auditLog *audit.Logger) *Registry {
	return &Registry{
		audit: auditLog,
		log:   slog.Default().With("component", "session-registry"),
		subs:  make(map[int]chan Event),
	}
}

// InitiateSession allocates a fresh session for username, inserts it
// into the table, and emits a session-start audit event. Ids are
// random UUIDs; collision probability is negligible.
func (r *Registry) InitiateSession(username, remoteIP, consentRecordID string) Info {
	now := time.Now().UTC()
	info := Info{
		SessionID:            uuid.NewString(),
		Username:             username,
		RemoteIP:             remoteIP,
		StartTime:            now,
		LastActivity:         now,
		IsActive:             true,
		EncryptionProtocol:   placeholderProtocol,
		AuthenticationMethod: authMethod,
		ConsentRecordID:      consentRecordID,
	}

	r.sessions.Store(info.SessionID, &entry{info: info})

	if err := r.audit.LogSessionStart(info.SessionID, remoteIP, username); err != nil {
		r.log.Error("session start audit failed", "session", info.SessionID, "error", err)
	}
	r.log.Info("session started", "session", info.SessionID, "user", username, "remote", remoteIP)
	r.publish(Event{Type: EventStart, Session: info})
	return info
}

// TerminateSession removes the session if present, marks it inactive,
// and emits a session-end audit event with the final duration. It
// reports whether a session was removed; terminating an unknown or
// already-terminated id is not an error.
func (r *Registry) TerminateSession(sessionID string) bool {
	v, ok := r.sessions.LoadAndDelete(sessionID)
	if !ok {
		return false
	}
	e := v.(*entry)

	e.mu.Lock()
	e.info.IsActive = false
	duration := int64(time.Now().UTC().Sub(e.info.StartTime).Seconds())
	info := e.info
	e.mu.Unlock()

	if err := r.audit.LogSessionEnd(sessionID, duration); err != nil {
		r.log.Error("session end audit failed", "session", sessionID, "error", err)
	}
	r.log.Info("session ended", "session", sessionID, "user", info.Username, "duration_s", duration)
	r.publish(Event{Type: EventEnd, Session: info})
	return true
}

// GetSessionInfo returns a snapshot of the session, if it exists.
func (r *Registry) GetSessionInfo(sessionID string) (Info, bool) {
	v, ok := r.sessions.Load(sessionID)
	if !ok {
		return Info{}, false
	}
	return v.(*entry).snapshot(), true
}

// GetActiveSessions returns snapshots of all live sessions. Removal
// and the IsActive flag change together, but the filter guards against
// any non-atomic update.
func (r *Registry) GetActiveSessions() []Info {
	var out []Info
	r.sessions.Range(func(_, v any) bool {
		info := v.(*entry).snapshot()
		if info.IsActive {
			out = append(out, info)
		}
		return true
	})
	return out
}

// UpdateActivity refreshes the session's activity clock. A no-op if
// the session no longer exists.
func (r *Registry) UpdateActivity(sessionID string) {
	v, ok := r.sessions.Load(sessionID)
	if !ok {
		return
	}
	e := v.(*entry)
	e.mu.Lock()
	e.info.LastActivity = time.Now().UTC()
	e.mu.Unlock()
}

// ValidateSessionSecurity reports what could be verified about the
// session's transport security. Today that is only that a protocol was
// recorded at admission; cipher suite and certificate checks await a
// real negotiated transport.
func (r *Registry) ValidateSessionSecurity(sessionID string) SecurityStatus {
	info, ok := r.GetSessionInfo(sessionID)
	if !ok {
		return SecurityStatus{Reason: "session not found"}
	}
	if !info.IsActive {
		return SecurityStatus{Reason: "session inactive"}
	}
	if info.EncryptionProtocol == "" {
		return SecurityStatus{Reason: "no encryption protocol recorded"}
	}
	return SecurityStatus{
		Verified: true,
		Protocol: info.EncryptionProtocol,
		Reason:   "protocol recorded at admission; cipher and certificate not checked",
	}
}

// Drain terminates every remaining session. Used at server shutdown so
// no session survives its server.
func (r *Registry) Drain() int {
	n := 0
	r.sessions.Range(func(k, _ any) bool {
		if r.TerminateSession(k.(string)) {
			n++
		}
		return true
	})
	return n
}

// Subscribe registers a lifecycle event listener. The returned cancel
// function must be called to release it. Events are delivered
// best-effort: a slow subscriber drops events rather than blocking
// session handling.
func (r *Registry) Subscribe() (<-chan Event, func()) {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	id := r.nextSub
	r.nextSub++
	ch := make(chan Event, 16)
	r.subs[id] = ch

	cancel := func() {
		r.subMu.Lock()
		defer r.subMu.Unlock()
		if _, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

func (r *Registry) publish(ev Event) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
