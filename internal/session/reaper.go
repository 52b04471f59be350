package session

import (
	"context"
	"log/slog"
	"time"
)

// Reaper periodically terminates sessions whose activity clock has
// gone stale. Connection handlers refresh the clock on every liveness
// tick, so a stale session means its handler died without reaching
// TerminateSession; the reaper closes the audit gap. Termination is
// idempotent, so racing a live handler's own teardown is harmless.
//
// A cutoff of 0 disables reaping entirely.
type Reaper struct {
	registry *Registry
	cutoff   time.Duration
	interval time.Duration
	log      *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewReaper creates a reaper but does not start it. Call Start to
// begin the background loop. interval <= 0 defaults to one minute.
func NewReaper(r *Registry, cutoff, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reaper{
		registry: r,
		cutoff:   cutoff,
		interval: interval,
		log:      slog.Default().With("component", "session-reaper"),
		done:     make(chan struct{}),
	}
}

// Start begins the background loop. The loop exits when ctx is
// cancelled or Stop is called.
func (p *Reaper) Start(ctx context.Context) {
	if p.cutoff <= 0 {
		p.log.Info("session reaper disabled (cutoff=0)")
		close(p.done)
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	go p.loop(ctx)
	p.log.Info("session reaper started", "cutoff", p.cutoff, "interval", p.interval)
}

// Stop signals the reaper to exit and waits for it to finish.
func (p *Reaper) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	<-p.done
}

func (p *Reaper) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.reap()
		}
	}
}

func (p *Reaper) reap() {
	stale := time.Now().UTC().Add(-p.cutoff)
	for _, info := range p.registry.GetActiveSessions() {
		if info.LastActivity.After(stale) {
			continue
		}
		if p.registry.TerminateSession(info.SessionID) {
			p.log.Warn("reaped stale session",
				"session", info.SessionID,
				"user", info.Username,
				"last_activity", info.LastActivity.Format(time.RFC3339))
		}
	}
}
