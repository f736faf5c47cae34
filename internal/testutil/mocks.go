// Package testutil provides shared test utilities, mocks, and fixtures
// for testing the wallet background.
package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"yakkl-background/internal/domain"
)

// Common test errors
var (
	ErrMockNotImplemented = errors.New("mock function not implemented")
	ErrMockSendFailed     = errors.New("mock: send failed")
	ErrMockStorage        = errors.New("mock: storage unavailable")
)

// MockPort implements domain.Port and records every message sent to it
type MockPort struct {
	mu sync.Mutex

	// SendFunc overrides Send when set
	SendFunc func(v any) error
	// Fail makes every Send return ErrMockSendFailed
	Fail bool

	PortInfo domain.PortInfo
	Sent     []any
	Closed   bool
}

// NewMockPort creates a MockPort for the given page URL
func NewMockPort(url string) *MockPort {
	return &MockPort{PortInfo: domain.PortInfo{URL: url, ConnectedAt: time.Now()}}
}

func (m *MockPort) Send(v any) error {
	if m.SendFunc != nil {
		return m.SendFunc(v)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Fail {
		return ErrMockSendFailed
	}
	m.Sent = append(m.Sent, v)
	return nil
}

func (m *MockPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

func (m *MockPort) Info() domain.PortInfo {
	return m.PortInfo
}

// SetFail toggles send failures
func (m *MockPort) SetFail(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Fail = fail
}

// Messages returns a copy of everything sent so far
func (m *MockPort) Messages() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]any, len(m.Sent))
	copy(out, m.Sent)
	return out
}

// Responses returns only the domain.Response values sent to the port
func (m *MockPort) Responses() []domain.Response {
	var out []domain.Response
	for _, v := range m.Messages() {
		if r, ok := v.(domain.Response); ok {
			out = append(out, r)
		}
	}
	return out
}

// Events returns only the domain.Event values sent to the port
func (m *MockPort) Events() []domain.Event {
	var out []domain.Event
	for _, v := range m.Messages() {
		if e, ok := v.(domain.Event); ok {
			out = append(out, e)
		}
	}
	return out
}

// Controls returns only the domain.ControlMessage values sent to the port
func (m *MockPort) Controls() []domain.ControlMessage {
	var out []domain.ControlMessage
	for _, v := range m.Messages() {
		if c, ok := v.(domain.ControlMessage); ok {
			out = append(out, c)
		}
	}
	return out
}

// IsClosed reports whether Close was called
func (m *MockPort) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Closed
}

// BackendCall records one MockBackend invocation
type BackendCall struct {
	Method string
	Params []json.RawMessage
}

// MockBackend implements domain.RPCBackend
type MockBackend struct {
	mu sync.Mutex

	RequestFunc func(ctx context.Context, method string, params []json.RawMessage) (json.RawMessage, error)
	// Results maps method to a canned result
	Results map[string]json.RawMessage
	Calls   []BackendCall
}

// NewMockBackend creates a MockBackend with no canned results
func NewMockBackend() *MockBackend {
	return &MockBackend{Results: make(map[string]json.RawMessage)}
}

func (m *MockBackend) Request(ctx context.Context, method string, params []json.RawMessage) (json.RawMessage, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, BackendCall{Method: method, Params: params})
	result, ok := m.Results[method]
	m.mu.Unlock()

	if m.RequestFunc != nil {
		return m.RequestFunc(ctx, method, params)
	}
	if !ok {
		return nil, ErrMockNotImplemented
	}
	return result, nil
}

// CallCount returns how many times method was requested
func (m *MockBackend) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, c := range m.Calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// MockConnectionRepository implements domain.ConnectionRepository in memory
type MockConnectionRepository struct {
	mu sync.RWMutex

	GetFunc    func(ctx context.Context, domainName string) (*domain.DomainConnection, error)
	UpsertFunc func(ctx context.Context, conn *domain.DomainConnection) error
	ListFunc   func(ctx context.Context) ([]*domain.DomainConnection, error)
	RevokeFunc func(ctx context.Context, domainName string) error

	Connections map[string]*domain.DomainConnection
	// Accounts maps address to its connected-domains list
	Accounts map[string][]string
}

// NewMockConnectionRepository creates an empty MockConnectionRepository
func NewMockConnectionRepository() *MockConnectionRepository {
	return &MockConnectionRepository{
		Connections: make(map[string]*domain.DomainConnection),
		Accounts:    make(map[string][]string),
	}
}

func (m *MockConnectionRepository) Get(ctx context.Context, domainName string) (*domain.DomainConnection, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, domainName)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	conn, ok := m.Connections[domainName]
	if !ok {
		return nil, domain.ErrConnectionNotFound
	}
	cp := *conn
	return &cp, nil
}

func (m *MockConnectionRepository) Upsert(ctx context.Context, conn *domain.DomainConnection) error {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, conn)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *conn
	m.Connections[conn.Domain] = &cp
	if conn.Status == domain.StatusApproved {
		for _, addr := range conn.Addresses {
			if !containsString(m.Accounts[addr], conn.Domain) {
				m.Accounts[addr] = append(m.Accounts[addr], conn.Domain)
			}
		}
	}
	return nil
}

func (m *MockConnectionRepository) List(ctx context.Context) ([]*domain.DomainConnection, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*domain.DomainConnection, 0, len(m.Connections))
	for _, c := range m.Connections {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out, nil
}

func (m *MockConnectionRepository) Revoke(ctx context.Context, domainName string) error {
	if m.RevokeFunc != nil {
		return m.RevokeFunc(ctx, domainName)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.Connections[domainName]; !ok {
		return domain.ErrConnectionNotFound
	}
	delete(m.Connections, domainName)
	for addr, domains := range m.Accounts {
		kept := domains[:0]
		for _, d := range domains {
			if d != domainName {
				kept = append(kept, d)
			}
		}
		m.Accounts[addr] = kept
	}
	return nil
}

func (m *MockConnectionRepository) AccountDomains(ctx context.Context, address string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, len(m.Accounts[address]))
	copy(out, m.Accounts[address])
	return out, nil
}

// MockApprover implements domain.Approver and records every request shown
type MockApprover struct {
	mu sync.Mutex

	RequestApprovalFunc func(ctx context.Context, req *domain.ApprovalRequest) error
	Requests            []*domain.ApprovalRequest
}

func (m *MockApprover) RequestApproval(ctx context.Context, req *domain.ApprovalRequest) error {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	m.mu.Unlock()

	if m.RequestApprovalFunc != nil {
		return m.RequestApprovalFunc(ctx, req)
	}
	return nil
}

// Shown returns the approval requests shown so far
func (m *MockApprover) Shown() []*domain.ApprovalRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.ApprovalRequest, len(m.Requests))
	copy(out, m.Requests)
	return out
}

// MockActivityPublisher implements domain.ActivityPublisher
type MockActivityPublisher struct {
	mu sync.Mutex

	PublishFunc func(ctx context.Context, event *domain.ActivityEvent) error
	Events      []*domain.ActivityEvent
}

func (m *MockActivityPublisher) PublishActivity(ctx context.Context, event *domain.ActivityEvent) error {
	m.mu.Lock()
	m.Events = append(m.Events, event)
	m.mu.Unlock()

	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, event)
	}
	return nil
}

// Published returns the events published so far
func (m *MockActivityPublisher) Published() []*domain.ActivityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.ActivityEvent, len(m.Events))
	copy(out, m.Events)
	return out
}

// FailingStore is a domain.KeyValueStore whose operations fail on demand
type FailingStore struct {
	domain.KeyValueStore

	mu        sync.Mutex
	FailGet   bool
	FailSet   bool
	FailCalls int
}

// NewFailingStore wraps inner; failures are off until toggled
func NewFailingStore(inner domain.KeyValueStore) *FailingStore {
	return &FailingStore{KeyValueStore: inner}
}

func (s *FailingStore) Get(ctx context.Context, area domain.StorageArea, key string, dst any) (bool, error) {
	s.mu.Lock()
	fail := s.FailGet
	if fail {
		s.FailCalls++
	}
	s.mu.Unlock()

	if fail {
		return false, ErrMockStorage
	}
	return s.KeyValueStore.Get(ctx, area, key, dst)
}

func (s *FailingStore) Set(ctx context.Context, area domain.StorageArea, key string, value any) error {
	s.mu.Lock()
	fail := s.FailSet
	if fail {
		s.FailCalls++
	}
	s.mu.Unlock()

	if fail {
		return ErrMockStorage
	}
	return s.KeyValueStore.Set(ctx, area, key, value)
}

// SetFailGet toggles read failures
func (s *FailingStore) SetFailGet(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FailGet = fail
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
