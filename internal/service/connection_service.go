package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"yakkl-background/internal/domain"
	"yakkl-background/internal/security"
)

// ConnectionService is the domain connection store. Every entry point
// normalizes the domain before touching the repository.
type ConnectionService struct {
	repo domain.ConnectionRepository
}

func NewConnectionService(repo domain.ConnectionRepository) *ConnectionService {
	return &ConnectionService{repo: repo}
}

// IsApproved reports whether the domain has an approved connection. Lookup
// failures are logged and count as not connected.
func (s *ConnectionService) IsApproved(ctx context.Context, domainName string) bool {
	conn, ok := s.lookup(ctx, domainName)
	return ok && conn.Status == domain.StatusApproved
}

// AddressesFor returns the accounts exposed to an approved domain, or nil
func (s *ConnectionService) AddressesFor(ctx context.Context, domainName string) []string {
	conn, ok := s.lookup(ctx, domainName)
	if !ok || conn.Status != domain.StatusApproved {
		return nil
	}
	return conn.Addresses
}

// Approve records the domain as approved for the given accounts
func (s *ConnectionService) Approve(ctx context.Context, domainName string, addresses []string) error {
	return s.save(ctx, domainName, domain.StatusApproved, normalizeAddresses(addresses))
}

// Reject records an explicit refusal. No accounts stay linked.
func (s *ConnectionService) Reject(ctx context.Context, domainName string) error {
	return s.save(ctx, domainName, domain.StatusRejected, nil)
}

// MarkPending records that a connect request is awaiting the user. An
// existing approval is left untouched.
func (s *ConnectionService) MarkPending(ctx context.Context, domainName string) error {
	d, err := security.NormalizeDomain(domainName)
	if err != nil {
		return err
	}

	existing, err := s.repo.Get(ctx, d)
	switch {
	case err == nil && existing.Status == domain.StatusApproved:
		return nil
	case err != nil && !errors.Is(err, domain.ErrConnectionNotFound):
		return fmt.Errorf("failed to load connection: %w", err)
	}

	return s.repo.Upsert(ctx, &domain.DomainConnection{Domain: d, Status: domain.StatusPending})
}

// Revoke removes the connection and strips the domain from every account
func (s *ConnectionService) Revoke(ctx context.Context, domainName string) error {
	d, err := security.NormalizeDomain(domainName)
	if err != nil {
		return err
	}
	if err := s.repo.Revoke(ctx, d); err != nil {
		return err
	}
	slog.Info("domain connection revoked", slog.String("domain", d))
	return nil
}

func (s *ConnectionService) List(ctx context.Context) ([]*domain.DomainConnection, error) {
	return s.repo.List(ctx)
}

// AccountDomains lists the domains an account is connected to
func (s *ConnectionService) AccountDomains(ctx context.Context, address string) ([]string, error) {
	return s.repo.AccountDomains(ctx, strings.ToLower(strings.TrimSpace(address)))
}

func (s *ConnectionService) lookup(ctx context.Context, domainName string) (*domain.DomainConnection, bool) {
	d, err := security.NormalizeDomain(domainName)
	if err != nil {
		return nil, false
	}

	conn, err := s.repo.Get(ctx, d)
	if err != nil {
		if !errors.Is(err, domain.ErrConnectionNotFound) {
			slog.Error("connection lookup failed",
				slog.String("domain", d),
				slog.String("error", err.Error()))
		}
		return nil, false
	}
	return conn, true
}

func (s *ConnectionService) save(ctx context.Context, domainName string, status domain.ConnectionStatus, addresses []string) error {
	d, err := security.NormalizeDomain(domainName)
	if err != nil {
		return err
	}
	if addresses == nil {
		addresses = []string{}
	}

	conn := &domain.DomainConnection{
		Domain:    d,
		Status:    status,
		Addresses: addresses,
	}
	if err := s.repo.Upsert(ctx, conn); err != nil {
		return fmt.Errorf("failed to save connection: %w", err)
	}
	return nil
}

func normalizeAddresses(addresses []string) []string {
	seen := make(map[string]bool, len(addresses))
	out := make([]string, 0, len(addresses))
	for _, a := range addresses {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}
