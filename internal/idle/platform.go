package idle

import (
	"context"
	"sync"
	"time"
)

// PlatformState is the host's own view of user presence
type PlatformState string

const (
	PlatformActive PlatformState = "active"
	PlatformIdle   PlatformState = "idle"
	PlatformLocked PlatformState = "locked"
)

// ParsePlatformState maps a reported state, defaulting to active
func ParsePlatformState(s string) PlatformState {
	switch PlatformState(s) {
	case PlatformIdle:
		return PlatformIdle
	case PlatformLocked:
		return PlatformLocked
	default:
		return PlatformActive
	}
}

// Platform reports whether the host considers the user idle for at least
// threshold.
type Platform interface {
	QueryState(ctx context.Context, threshold time.Duration) (PlatformState, error)
}

// ReportedPlatform holds the last idle state reported by the wallet UI
type ReportedPlatform struct {
	mu    sync.RWMutex
	state PlatformState
}

// NewReportedPlatform starts in the active state
func NewReportedPlatform() *ReportedPlatform {
	return &ReportedPlatform{state: PlatformActive}
}

// Report records the latest state
func (p *ReportedPlatform) Report(state PlatformState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = state
}

func (p *ReportedPlatform) QueryState(ctx context.Context, threshold time.Duration) (PlatformState, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state, nil
}
