package testutil

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"yakkl-background/internal/domain"
)

// Counter for generating unique IDs
var idCounter atomic.Int64

// nextID generates a unique ID for test fixtures
func nextID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, idCounter.Add(1))
}

// ConnectionOptions allows customizing domain connection fixtures
type ConnectionOptions struct {
	Domain    string
	Status    domain.ConnectionStatus
	Addresses []string
	UpdatedAt time.Time
}

// NewTestConnection creates an approved connection with one account.
// Pass options to override specific fields.
func NewTestConnection(opts ...func(*ConnectionOptions)) *domain.DomainConnection {
	o := &ConnectionOptions{
		Domain:    fmt.Sprintf("dapp%d.example.com", idCounter.Add(1)),
		Status:    domain.StatusApproved,
		Addresses: []string{"0x1111111111111111111111111111111111111111"},
		UpdatedAt: time.Now(),
	}

	for _, opt := range opts {
		opt(o)
	}

	return &domain.DomainConnection{
		Domain:    o.Domain,
		Status:    o.Status,
		Addresses: o.Addresses,
		UpdatedAt: o.UpdatedAt,
	}
}

// WithDomain sets the connection domain
func WithDomain(d string) func(*ConnectionOptions) {
	return func(o *ConnectionOptions) {
		o.Domain = d
	}
}

// WithStatus sets the connection status
func WithStatus(s domain.ConnectionStatus) func(*ConnectionOptions) {
	return func(o *ConnectionOptions) {
		o.Status = s
	}
}

// WithAddresses sets the accounts exposed to the domain
func WithAddresses(addrs ...string) func(*ConnectionOptions) {
	return func(o *ConnectionOptions) {
		o.Addresses = addrs
	}
}

// NewTestRequest builds a provider request with a unique id. Each param is
// raw JSON.
func NewTestRequest(method string, params ...string) domain.Request {
	req := domain.Request{ID: nextID("req"), Method: method}
	for _, p := range params {
		req.Params = append(req.Params, json.RawMessage(p))
	}
	return req
}

// NewTestSessionInfo returns a session summary for an active login
func NewTestSessionInfo() *domain.SessionInfo {
	now := time.Now()
	return &domain.SessionInfo{
		Subject:   nextID("user"),
		Username:  "alice",
		ProfileID: nextID("profile"),
		PlanLevel: domain.DefaultPlanLevel,
		SessionID: nextID("sess"),
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}
}

// NewTestApprovalRequest returns a pending approval as the UI sees it
func NewTestApprovalRequest(method, domainName string) domain.ApprovalRequest {
	return domain.ApprovalRequest{
		ID:     nextID("approval"),
		Method: method,
		Metadata: domain.ApprovalMetadata{
			Domain:  domainName,
			Origin:  "https://" + domainName,
			Title:   "Test dapp",
			Message: domainName + " wants to " + method,
		},
		CreatedAt: time.Now(),
	}
}

// ResetIDCounter resets the ID counter (useful for deterministic tests)
func ResetIDCounter() {
	idCounter.Store(0)
}
