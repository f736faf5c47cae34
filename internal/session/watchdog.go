package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"yakkl-background/internal/clock"
)

// DefaultGracePeriod skips validation right after login, while the new token
// may not yet be visible to every reader.
const DefaultGracePeriod = 30 * time.Second

// Watchdog periodically checks the current session and fires OnInvalid once
// when a logged-in session stops validating.
type Watchdog struct {
	manager   *Manager
	clock     clock.Clock
	grace     time.Duration
	onInvalid func(ctx context.Context)

	mu       sync.Mutex
	loggedIn bool
	loginAt  time.Time
}

// NewWatchdog creates a Watchdog. grace < 0 uses DefaultGracePeriod.
func NewWatchdog(m *Manager, c clock.Clock, grace time.Duration, onInvalid func(ctx context.Context)) *Watchdog {
	if c == nil {
		c = clock.Real()
	}
	if grace < 0 {
		grace = DefaultGracePeriod
	}
	return &Watchdog{manager: m, clock: c, grace: grace, onInvalid: onInvalid}
}

// MarkLogin starts watching and opens the grace window
func (w *Watchdog) MarkLogin() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.loggedIn = true
	w.loginAt = w.clock.Now()
}

// MarkLogout stops watching
func (w *Watchdog) MarkLogout() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.loggedIn = false
}

// InGracePeriod reports whether the post-login grace window is open
func (w *Watchdog) InGracePeriod() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.loggedIn && w.clock.Now().Sub(w.loginAt) < w.grace
}

// Check validates the current session. It returns false and fires OnInvalid
// when a logged-in session has no valid token outside the grace window.
func (w *Watchdog) Check(ctx context.Context) bool {
	w.mu.Lock()
	loggedIn := w.loggedIn
	inGrace := loggedIn && w.clock.Now().Sub(w.loginAt) < w.grace
	w.mu.Unlock()

	if !loggedIn || inGrace {
		return true
	}

	if _, ok := w.manager.Current(ctx); ok {
		return true
	}

	w.mu.Lock()
	fire := w.loggedIn
	w.loggedIn = false
	w.mu.Unlock()

	if fire {
		slog.Warn("session no longer valid, forcing logout")
		if w.onInvalid != nil {
			w.onInvalid(ctx)
		}
	}
	return false
}

// Run checks the session every interval until ctx is cancelled
func (w *Watchdog) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Check(ctx)
		}
	}
}
