// Package idle locks the wallet after a period of user inactivity.
package idle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"yakkl-background/internal/clock"
	"yakkl-background/internal/domain"
	"yakkl-background/internal/observability"
)

// State is the machine's observable state
type State string

const (
	StateActive      State = "active"
	StateIdleWarning State = "idle_warning"
	StateLocked      State = "locked"
)

const (
	DefaultThreshold    = 60 * time.Second
	DefaultLockDelay    = 60 * time.Second
	DefaultPollInterval = 15 * time.Second

	countdownTick = time.Second
)

// Notifier receives the user-facing cues: warning, countdown, cleared badge
// and the locked notification.
type Notifier interface {
	Notify(ctx context.Context, event domain.Event)
}

// Locker locks the wallet. It is expected to invalidate the session and
// reject pending approvals.
type Locker interface {
	Lock(ctx context.Context) error
}

// Config holds the machine's timing. A zero LockDelay locks as soon as the
// user is found idle.
type Config struct {
	Threshold    time.Duration
	LockDelay    time.Duration
	PollInterval time.Duration
}

// Machine is the active / idle-warning / locked state machine. It must only
// run in the background context.
type Machine struct {
	mu       sync.Mutex
	cfg      Config
	clock    clock.Clock
	platform Platform
	notifier Notifier
	locker   Locker

	running      bool
	state        State
	lastActivity time.Time
	lastPlatform PlatformState
	remaining    int

	// gen invalidates callbacks of timers that were cancelled but already fired
	gen            int
	pollTimer      clock.Timer
	countdownTimer clock.Timer
	lockTimer      clock.Timer
}

// NewMachine creates a stopped Machine. It fails with ErrWrongContext outside
// the background context. platform may be nil.
func NewMachine(rc domain.RuntimeContext, cfg Config, c clock.Clock, platform Platform, notifier Notifier, locker Locker) (*Machine, error) {
	if rc != domain.ContextBackground {
		return nil, domain.ErrWrongContext
	}
	if notifier == nil || locker == nil {
		return nil, errors.New("idle machine requires a notifier and a locker")
	}
	if c == nil {
		c = clock.Real()
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.LockDelay < 0 {
		cfg.LockDelay = DefaultLockDelay
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	return &Machine{
		cfg:          cfg,
		clock:        c,
		platform:     platform,
		notifier:     notifier,
		locker:       locker,
		state:        StateActive,
		lastPlatform: PlatformActive,
		remaining:    delaySeconds(cfg.LockDelay),
	}, nil
}

// Start begins polling from a fresh active state. Starting a running machine
// is a no-op.
func (m *Machine) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	m.running = true
	m.gen++
	m.state = StateActive
	m.lastActivity = m.clock.Now()
	m.lastPlatform = PlatformActive
	m.remaining = delaySeconds(m.cfg.LockDelay)
	m.schedulePollLocked()

	slog.Info("idle detection started",
		slog.Duration("threshold", m.cfg.Threshold),
		slog.Duration("lock_delay", m.cfg.LockDelay))
}

// Stop cancels every timer. The current state is kept.
func (m *Machine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	m.running = false
	m.gen++
	stopTimer(&m.pollTimer)
	stopTimer(&m.countdownTimer)
	stopTimer(&m.lockTimer)

	slog.Info("idle detection stopped")
}

// SetLoginVerified binds the machine to the login state
func (m *Machine) SetLoginVerified(verified bool) {
	if verified {
		m.Start()
		return
	}
	m.Stop()
}

// RecordActivity notes user interaction, cancelling any pending lock
func (m *Machine) RecordActivity() {
	m.mu.Lock()
	m.lastActivity = m.clock.Now()
	effects := m.resetLocked()
	m.mu.Unlock()

	m.run(effects)
}

// State returns the current state
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Remaining returns the seconds left on the countdown
func (m *Machine) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remaining
}

// Running reports whether the machine is polling
func (m *Machine) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

type effect func(ctx context.Context)

func (m *Machine) run(effects []effect) {
	ctx := context.Background()
	for _, e := range effects {
		e(ctx)
	}
}

func (m *Machine) schedulePollLocked() {
	stopTimer(&m.pollTimer)
	gen := m.gen
	m.pollTimer = m.clock.AfterFunc(m.cfg.PollInterval, func() { m.poll(gen) })
}

func (m *Machine) poll(gen int) {
	m.mu.Lock()
	if !m.running || gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	platformState := PlatformActive
	if m.platform != nil {
		st, err := m.platform.QueryState(context.Background(), m.cfg.Threshold)
		if err != nil {
			slog.Warn("idle state query failed", slog.String("error", err.Error()))
		} else {
			platformState = st
		}
	}

	m.mu.Lock()
	if !m.running || gen != m.gen {
		m.mu.Unlock()
		return
	}

	var effects []effect
	now := m.clock.Now()
	wasIdle := m.lastPlatform != PlatformActive
	m.lastPlatform = platformState

	switch {
	case platformState == PlatformActive && wasIdle:
		m.lastActivity = now
		effects = m.resetLocked()
	case m.state == StateActive && (platformState != PlatformActive || now.Sub(m.lastActivity) >= m.cfg.Threshold):
		effects = m.enterWarningLocked()
	}

	m.schedulePollLocked()
	m.mu.Unlock()

	m.run(effects)
}

func (m *Machine) enterWarningLocked() []effect {
	if m.cfg.LockDelay == 0 {
		return m.lockLocked()
	}

	m.state = StateIdleWarning
	m.remaining = delaySeconds(m.cfg.LockDelay)
	observability.IdleTransitionsTotal.WithLabelValues(string(StateIdleWarning)).Inc()

	gen := m.gen
	m.countdownTimer = m.clock.AfterFunc(countdownTick, func() { m.tick(gen) })
	m.lockTimer = m.clock.AfterFunc(m.cfg.LockDelay, func() { m.lockTimerFired(gen) })

	remaining := m.remaining
	slog.Info("user idle, lock armed", slog.Int("remaining_seconds", remaining))
	return []effect{func(ctx context.Context) {
		m.notifier.Notify(ctx, domain.Event{Event: domain.EventIdleWarning, Data: map[string]int{"remaining": remaining}})
	}}
}

func (m *Machine) tick(gen int) {
	m.mu.Lock()
	if !m.running || gen != m.gen || m.state != StateIdleWarning {
		m.mu.Unlock()
		return
	}
	if m.remaining > 0 {
		m.remaining--
	}
	remaining := m.remaining
	if remaining > 0 {
		m.countdownTimer = m.clock.AfterFunc(countdownTick, func() { m.tick(gen) })
	}
	m.mu.Unlock()

	m.notifier.Notify(context.Background(), domain.Event{Event: domain.EventIdleCountdown, Data: map[string]int{"remaining": remaining}})
}

func (m *Machine) lockTimerFired(gen int) {
	m.mu.Lock()
	if !m.running || gen != m.gen || m.state != StateIdleWarning {
		m.mu.Unlock()
		return
	}
	effects := m.lockLocked()
	m.mu.Unlock()

	m.run(effects)
}

// lockLocked moves to locked and resets the idle flags so a later idle
// cycle can arm again.
func (m *Machine) lockLocked() []effect {
	m.gen++
	stopTimer(&m.countdownTimer)
	stopTimer(&m.lockTimer)
	if m.running {
		m.schedulePollLocked()
	}

	m.state = StateLocked
	m.remaining = delaySeconds(m.cfg.LockDelay)
	m.lastActivity = m.clock.Now()
	observability.IdleTransitionsTotal.WithLabelValues(string(StateLocked)).Inc()
	slog.Warn("wallet locked after inactivity")

	return []effect{
		func(ctx context.Context) {
			m.notifier.Notify(ctx, domain.Event{Event: domain.EventIdleCleared})
		},
		func(ctx context.Context) {
			m.notifier.Notify(ctx, domain.Event{Event: domain.EventLocked, Data: map[string]string{"reason": "idle"}})
		},
		func(ctx context.Context) {
			if err := m.locker.Lock(ctx); err != nil {
				slog.Error("failed to lock wallet", slog.String("error", err.Error()))
			}
		},
	}
}

// resetLocked returns to active, cancelling the countdown and the lock timer
func (m *Machine) resetLocked() []effect {
	if m.state == StateActive {
		return nil
	}

	wasWarning := m.state == StateIdleWarning
	m.gen++
	stopTimer(&m.countdownTimer)
	stopTimer(&m.lockTimer)
	if m.running {
		m.schedulePollLocked()
	}

	m.state = StateActive
	m.remaining = delaySeconds(m.cfg.LockDelay)
	observability.IdleTransitionsTotal.WithLabelValues(string(StateActive)).Inc()

	if !wasWarning {
		return nil
	}
	slog.Info("activity detected, lock cancelled")
	return []effect{func(ctx context.Context) {
		m.notifier.Notify(ctx, domain.Event{Event: domain.EventIdleCleared})
	}}
}

func stopTimer(t *clock.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func delaySeconds(d time.Duration) int {
	return int(d / time.Second)
}
