package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"yakkl-background/internal/domain"
	"yakkl-background/internal/session"
)

// DefaultRefreshThreshold is how close to expiry a token must be before
// Refresh reissues it
const DefaultRefreshThreshold = 5 * time.Minute

// PendingRejecter bulk-rejects requests waiting for approval
type PendingRejecter interface {
	RejectAll(ctx context.Context, perr *domain.ProviderError) int
}

// IdleControl binds idle detection to the login state
type IdleControl interface {
	SetLoginVerified(verified bool)
}

// Broadcaster pushes a message to every port of a kind
type Broadcaster interface {
	Broadcast(kind domain.PortKind, message any) int
}

// AuthService drives the wallet session lifecycle: login, refresh, logout
// and lock. It is the idle machine's Locker.
type AuthService struct {
	manager   *session.Manager
	pending   PendingRejecter
	ports     Broadcaster
	threshold time.Duration

	mu       sync.RWMutex
	idle     IdleControl
	watchdog *session.Watchdog
}

func NewAuthService(manager *session.Manager, pending PendingRejecter, ports Broadcaster) *AuthService {
	return &AuthService{
		manager:   manager,
		pending:   pending,
		ports:     ports,
		threshold: DefaultRefreshThreshold,
	}
}

// BindIdle attaches the idle machine once it exists. The machine needs the
// service as its Locker, so it cannot be passed to the constructor.
func (s *AuthService) BindIdle(idle IdleControl) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idle = idle
}

// BindWatchdog attaches the session watchdog. The watchdog calls Expire, so
// it is usually built after the service.
func (s *AuthService) BindWatchdog(w *session.Watchdog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchdog = w
}

// SetRefreshThreshold changes how close to expiry a token must be before
// Refresh reissues it
func (s *AuthService) SetRefreshThreshold(d time.Duration) {
	if d > 0 {
		s.threshold = d
	}
}

// Info describes the active session
func (s *AuthService) Info(ctx context.Context) (*domain.SessionInfo, error) {
	return s.manager.Info(ctx)
}

// ClearBlacklist drops every revoked token hash. confirm must equal
// session.ConfirmClearBlacklist.
func (s *AuthService) ClearBlacklist(ctx context.Context, confirm string) error {
	return s.manager.ClearBlacklist(ctx, confirm)
}

// Login issues a fresh session token and starts session and idle watching
func (s *AuthService) Login(ctx context.Context, p session.IssueParams) (string, *domain.SessionInfo, error) {
	token, err := s.manager.Issue(ctx, p)
	if err != nil {
		return "", nil, fmt.Errorf("failed to issue session: %w", err)
	}

	info, err := s.manager.Info(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read issued session: %w", err)
	}

	if w := s.boundWatchdog(); w != nil {
		w.MarkLogin()
	}
	s.setLoginVerified(true)

	slog.Info("wallet session started",
		slog.String("session_id", info.SessionID),
		slog.String("plan_level", info.PlanLevel))
	return token, info, nil
}

// Refresh reissues token when it is close to expiry. It returns the token to
// use from now on and whether a new one was minted.
func (s *AuthService) Refresh(ctx context.Context, token string) (string, bool, error) {
	if !s.manager.Validate(ctx, token) {
		return "", false, domain.ErrInvalidToken
	}
	fresh, refreshed := s.manager.RefreshIfNeeded(ctx, token, s.threshold)
	if !refreshed {
		return token, false, nil
	}
	return fresh, true, nil
}

// Logout revokes the current session and rejects everything still waiting
// for the user
func (s *AuthService) Logout(ctx context.Context) error {
	return s.end(ctx, "logout", domain.AuthError("Wallet session ended"))
}

// Lock implements idle.Locker
func (s *AuthService) Lock(ctx context.Context) error {
	return s.end(ctx, "lock", domain.AuthError("Wallet locked"))
}

// Expire is the watchdog hook for a session that stopped validating
func (s *AuthService) Expire(ctx context.Context) {
	if err := s.end(ctx, "expired", domain.AuthError("Wallet session expired")); err != nil {
		slog.Error("failed to end expired session", slog.String("error", err.Error()))
	}
	if s.ports != nil {
		s.ports.Broadcast(domain.PortInternal, domain.Event{Event: domain.EventSessionExpired})
	}
}

func (s *AuthService) end(ctx context.Context, reason string, perr *domain.ProviderError) error {
	if w := s.boundWatchdog(); w != nil {
		w.MarkLogout()
	}
	s.setLoginVerified(false)

	rejected := 0
	if s.pending != nil {
		rejected = s.pending.RejectAll(ctx, perr)
	}

	err := s.manager.Invalidate(ctx, "")

	slog.Info("wallet session ended",
		slog.String("reason", reason),
		slog.Int("rejected", rejected))
	return err
}

func (s *AuthService) boundWatchdog() *session.Watchdog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.watchdog
}

func (s *AuthService) setLoginVerified(verified bool) {
	s.mu.RLock()
	idle := s.idle
	s.mu.RUnlock()

	if idle != nil {
		idle.SetLoginVerified(verified)
	}
}
