// Package session issues, validates, refreshes and revokes wallet session tokens.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"yakkl-background/internal/clock"
	"yakkl-background/internal/domain"
	"yakkl-background/internal/observability"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	Issuer   = "yakkl-wallet"
	Audience = "yakkl-api"

	DefaultTTL         = 60 * time.Minute
	BlacklistRetention = 24 * time.Hour

	// ConfirmClearBlacklist must be passed to ClearBlacklist
	ConfirmClearBlacklist = "clear-blacklist"

	tokenKey     = "sessionToken"
	blacklistKey = "sessionBlacklist"
)

// Claims is the signed token payload
type Claims struct {
	Username   string `json:"username"`
	ProfileID  string `json:"profileId"`
	PlanLevel  string `json:"planLevel"`
	SessionID  string `json:"sessionId"`
	SecureHash string `json:"secureHash,omitempty"`
	jwt.RegisteredClaims
}

// IssueParams are the inputs to Issue. Zero values take defaults.
type IssueParams struct {
	Subject    string
	Username   string
	ProfileID  string
	PlanLevel  string
	SessionID  string
	TTL        time.Duration
	SecureHash string
}

// blacklist maps token hash to expiry (unix seconds)
type blacklist map[string]int64

// Manager owns the current session token and the revocation blacklist
type Manager struct {
	store domain.KeyValueStore
	keys  KeyProvider
	clock clock.Clock
	ttl   time.Duration

	// serializes blacklist and token read-modify-write
	mu sync.Mutex
}

// NewManager creates a Manager. ttl <= 0 uses DefaultTTL.
func NewManager(store domain.KeyValueStore, keys KeyProvider, c clock.Clock, ttl time.Duration) *Manager {
	if c == nil {
		c = clock.Real()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{store: store, keys: keys, clock: c, ttl: ttl}
}

// Issue mints a token and persists it as the current token
func (m *Manager) Issue(ctx context.Context, p IssueParams) (string, error) {
	if p.Subject == "" {
		return "", fmt.Errorf("subject is required")
	}
	if p.PlanLevel == "" {
		p.PlanLevel = domain.DefaultPlanLevel
	}
	if p.SessionID == "" {
		p.SessionID = "sess_" + uuid.NewString()
	}
	if p.TTL <= 0 {
		p.TTL = m.ttl
	}

	now := m.clock.Now()
	claims := &Claims{
		Username:   p.Username,
		ProfileID:  p.ProfileID,
		PlanLevel:  p.PlanLevel,
		SessionID:  p.SessionID,
		SecureHash: p.SecureHash,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Subject,
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.TTL)),
		},
	}

	token, err := m.sign(ctx, claims)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Set(ctx, domain.AreaSession, tokenKey, token); err != nil {
		return "", fmt.Errorf("failed to persist session token: %w", err)
	}

	slog.Info("session token issued",
		slog.String("session_id", p.SessionID),
		slog.String("subject", p.Subject),
		slog.Time("expires_at", claims.ExpiresAt.Time))
	return token, nil
}

// Current returns the stored token if it is present, unexpired and not revoked
func (m *Manager) Current(ctx context.Context) (string, bool) {
	var token string
	ok, err := m.store.Get(ctx, domain.AreaSession, tokenKey, &token)
	if err != nil {
		slog.Warn("failed to read session token", slog.String("error", err.Error()))
		return "", false
	}
	if !ok || token == "" {
		return "", false
	}
	if !m.Validate(ctx, token) {
		return "", false
	}
	return token, true
}

// Info describes the current session
func (m *Manager) Info(ctx context.Context) (*domain.SessionInfo, error) {
	token, ok := m.Current(ctx)
	if !ok {
		return nil, domain.ErrNoSession
	}
	claims, err := m.parse(ctx, token)
	if err != nil {
		return nil, err
	}
	return claims.info(), nil
}

// Validate reports whether token is well formed, correctly signed, unexpired
// and not blacklisted. Any failure, including storage errors, yields false.
func (m *Manager) Validate(ctx context.Context, token string) bool {
	if _, err := m.parse(ctx, token); err != nil {
		observability.SessionValidationsTotal.WithLabelValues("invalid").Inc()
		return false
	}

	revoked, err := m.isBlacklisted(ctx, token)
	if err != nil {
		slog.Warn("blacklist unavailable, treating token as invalid",
			slog.String("error", err.Error()))
		observability.SessionValidationsTotal.WithLabelValues("storage_error").Inc()
		return false
	}
	if revoked {
		observability.SessionValidationsTotal.WithLabelValues("revoked").Inc()
		return false
	}

	observability.SessionValidationsTotal.WithLabelValues("valid").Inc()
	return true
}

// Claims decodes a valid token's claims
func (m *Manager) Claims(ctx context.Context, token string) (*Claims, error) {
	if !m.Validate(ctx, token) {
		return nil, domain.ErrInvalidToken
	}
	return m.parse(ctx, token)
}

// RefreshIfNeeded reissues token when its remaining lifetime is at most
// threshold. It returns false when no refresh is needed or token is invalid.
// A refreshed token always expires strictly after the original.
func (m *Manager) RefreshIfNeeded(ctx context.Context, token string, threshold time.Duration) (string, bool) {
	if !m.Validate(ctx, token) {
		return "", false
	}
	claims, err := m.parse(ctx, token)
	if err != nil {
		return "", false
	}

	now := m.clock.Now()
	oldExp := claims.ExpiresAt.Time
	if oldExp.Sub(now) > threshold {
		return "", false
	}

	ttl := m.ttl
	if claims.IssuedAt != nil {
		if d := oldExp.Sub(claims.IssuedAt.Time); d > 0 {
			ttl = d
		}
	}
	// NumericDate keeps whole seconds, so compare at that precision
	newExp := now.Add(ttl).Truncate(jwt.TimePrecision)
	if !newExp.After(oldExp) {
		newExp = oldExp.Add(time.Second)
	}

	refreshed := *claims
	refreshed.IssuedAt = jwt.NewNumericDate(now)
	refreshed.NotBefore = jwt.NewNumericDate(now)
	refreshed.ExpiresAt = jwt.NewNumericDate(newExp)

	newToken, err := m.sign(ctx, &refreshed)
	if err != nil {
		slog.Error("failed to sign refreshed token", slog.String("error", err.Error()))
		return "", false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Set(ctx, domain.AreaSession, tokenKey, newToken); err != nil {
		slog.Error("failed to persist refreshed token", slog.String("error", err.Error()))
		return "", false
	}

	slog.Info("session token refreshed",
		slog.String("session_id", claims.SessionID),
		slog.Time("expires_at", newExp))
	return newToken, true
}

// Invalidate revokes token, or the current token when token is empty.
// The stored token is cleared when it is the one revoked.
func (m *Manager) Invalidate(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var current string
	if _, err := m.store.Get(ctx, domain.AreaSession, tokenKey, &current); err != nil {
		slog.Warn("failed to read session token during invalidate", slog.String("error", err.Error()))
	}
	if token == "" {
		token = current
	}
	if token == "" {
		return nil
	}

	list, err := m.loadBlacklist(ctx)
	if err != nil {
		return fmt.Errorf("failed to load blacklist: %w", err)
	}
	now := m.clock.Now()
	list.prune(now)
	list[hashToken(token)] = now.Add(BlacklistRetention).Unix()
	if err := m.store.Set(ctx, domain.AreaLocal, blacklistKey, list); err != nil {
		return fmt.Errorf("failed to persist blacklist: %w", err)
	}
	observability.BlacklistSize.Set(float64(len(list)))

	if token == current {
		if err := m.store.Remove(ctx, domain.AreaSession, tokenKey); err != nil {
			return fmt.Errorf("failed to clear session token: %w", err)
		}
	}

	slog.Info("session token invalidated", slog.Int("blacklist_size", len(list)))
	return nil
}

// ClearBlacklist empties the revocation list. confirm must equal ConfirmClearBlacklist.
func (m *Manager) ClearBlacklist(ctx context.Context, confirm string) error {
	if confirm != ConfirmClearBlacklist {
		return domain.ErrClearNotConfirmed
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Remove(ctx, domain.AreaLocal, blacklistKey); err != nil {
		return fmt.Errorf("failed to clear blacklist: %w", err)
	}
	observability.BlacklistSize.Set(0)
	slog.Warn("session blacklist cleared")
	return nil
}

// SweepBlacklist removes expired blacklist entries and returns how many were dropped
func (m *Manager) SweepBlacklist(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list, err := m.loadBlacklist(ctx)
	if err != nil {
		return 0, err
	}
	removed := list.prune(m.clock.Now())
	if removed > 0 {
		if err := m.store.Set(ctx, domain.AreaLocal, blacklistKey, list); err != nil {
			return 0, fmt.Errorf("failed to persist blacklist: %w", err)
		}
	}
	observability.BlacklistSize.Set(float64(len(list)))
	return removed, nil
}

// Run sweeps the blacklist every interval until ctx is cancelled
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping blacklist sweep")
			return ctx.Err()
		case <-ticker.C:
			n, err := m.SweepBlacklist(ctx)
			if err != nil {
				slog.Error("blacklist sweep failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				slog.Info("blacklist sweep completed", slog.Int("entries_removed", n))
			}
		}
	}
}

func (m *Manager) sign(ctx context.Context, claims *Claims) (string, error) {
	kid, key, err := m.keys.SigningKey(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get signing key: %w", err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (m *Manager) parse(ctx context.Context, tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, domain.ErrInvalidToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		kid, _ := token.Header["kid"].(string)
		return m.keys.VerificationKey(ctx, kid)
	},
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.SessionID == "" {
		return nil, domain.ErrInvalidToken
	}
	return claims, nil
}

func (m *Manager) isBlacklisted(ctx context.Context, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list, err := m.loadBlacklist(ctx)
	if err != nil {
		return false, err
	}

	if removed := list.prune(m.clock.Now()); removed > 0 {
		if err := m.store.Set(ctx, domain.AreaLocal, blacklistKey, list); err != nil {
			slog.Warn("failed to persist pruned blacklist", slog.String("error", err.Error()))
		}
	}

	_, revoked := list[hashToken(token)]
	return revoked, nil
}

func (m *Manager) loadBlacklist(ctx context.Context) (blacklist, error) {
	list := blacklist{}
	if _, err := m.store.Get(ctx, domain.AreaLocal, blacklistKey, &list); err != nil {
		return nil, err
	}
	if list == nil {
		list = blacklist{}
	}
	return list, nil
}

func (b blacklist) prune(now time.Time) int {
	removed := 0
	cutoff := now.Unix()
	for hash, expiry := range b {
		if expiry <= cutoff {
			delete(b, hash)
			removed++
		}
	}
	return removed
}

// hashToken returns the first 16 bytes of the token's SHA-256, hex encoded
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:16])
}

func (c *Claims) info() *domain.SessionInfo {
	info := &domain.SessionInfo{
		Subject:   c.Subject,
		Username:  c.Username,
		ProfileID: c.ProfileID,
		PlanLevel: c.PlanLevel,
		SessionID: c.SessionID,
	}
	if c.IssuedAt != nil {
		info.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		info.ExpiresAt = c.ExpiresAt.Time
	}
	return info
}
