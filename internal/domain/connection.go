package domain

import (
	"context"
	"time"
)

// ConnectionStatus is the approval state of a domain
type ConnectionStatus string

const (
	StatusApproved ConnectionStatus = "approved"
	StatusPending  ConnectionStatus = "pending"
	StatusRejected ConnectionStatus = "rejected"
)

// DomainConnection is the per-origin approval record.
// Domain is always stored in normalized form.
type DomainConnection struct {
	Domain    string           `json:"domain"`
	Status    ConnectionStatus `json:"status"`
	Addresses []string         `json:"addresses"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// ConnectionRepository defines the interface for domain connection persistence
type ConnectionRepository interface {
	Get(ctx context.Context, domain string) (*DomainConnection, error)
	Upsert(ctx context.Context, conn *DomainConnection) error
	List(ctx context.Context) ([]*DomainConnection, error)
	// Revoke removes the record and strips the domain from every account's
	// connected-domains list atomically.
	Revoke(ctx context.Context, domain string) error
	AccountDomains(ctx context.Context, address string) ([]string, error)
}
