// Package port tracks the live connections between the background and other
// extension contexts.
package port

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"yakkl-background/internal/clock"
	"yakkl-background/internal/domain"
	"yakkl-background/internal/observability"

	"github.com/google/uuid"
)

// Connection is a snapshot of one registration
type Connection struct {
	ID        string
	Kind      domain.PortKind
	Key       string
	Port      domain.Port
	CreatedAt time.Time
	Requests  []string
}

type entry struct {
	id        string
	kind      domain.PortKind
	key       string
	port      domain.Port
	createdAt time.Time
	requests  map[string]struct{}
}

// Registry holds at most one registration per (kind, key). Transport failures
// never escape it: a handle that fails to send is removed and logged.
type Registry struct {
	mu      sync.RWMutex
	entries map[domain.PortKind]map[string]*entry
	byID    map[string]*entry
	clock   clock.Clock
}

// NewRegistry creates an empty Registry
func NewRegistry(c clock.Clock) *Registry {
	if c == nil {
		c = clock.Real()
	}
	return &Registry{
		entries: make(map[domain.PortKind]map[string]*entry),
		byID:    make(map[string]*entry),
		clock:   c,
	}
}

// Register records p under (kind, key) and returns its connection id.
// Registering an existing pair keeps the id; a different handle replaces the
// old one, which is closed.
func (r *Registry) Register(kind domain.PortKind, key string, p domain.Port) string {
	r.mu.Lock()

	if e, ok := r.entries[kind][key]; ok {
		old := e.port
		e.port = p
		id := e.id
		r.mu.Unlock()

		if old != p {
			closeQuietly(old, kind, key)
			slog.Info("port handle replaced",
				slog.String("kind", string(kind)),
				slog.String("key", key),
				slog.String("connection_id", id))
		}
		return id
	}

	if r.entries[kind] == nil {
		r.entries[kind] = make(map[string]*entry)
	}
	e := &entry{
		id:        uuid.NewString(),
		kind:      kind,
		key:       key,
		port:      p,
		createdAt: r.clock.Now(),
		requests:  make(map[string]struct{}),
	}
	r.entries[kind][key] = e
	r.byID[e.id] = e
	r.mu.Unlock()

	observability.PortsActive.WithLabelValues(string(kind)).Inc()
	slog.Info("port registered",
		slog.String("kind", string(kind)),
		slog.String("key", key),
		slog.String("connection_id", e.id))
	return e.id
}

// Get returns the handle registered under (kind, key)
func (r *Registry) Get(kind domain.PortKind, key string) (domain.Port, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[kind][key]
	if !ok {
		return nil, false
	}
	return e.port, true
}

// Lookup returns the registration with the given connection id
func (r *Registry) Lookup(id string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byID[id]
	if !ok {
		return Connection{}, false
	}
	return e.snapshot(), true
}

// PortFor returns the handle currently registered under connection id. After
// a reconnect replaces the handle this is the new one.
func (r *Registry) PortFor(id string) (domain.Port, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return e.port, true
}

// Remove deletes the registration for (kind, key). It is a no-op if absent.
func (r *Registry) Remove(kind domain.PortKind, key string) {
	r.mu.Lock()
	e, ok := r.entries[kind][key]
	if ok {
		r.deleteLocked(e)
	}
	r.mu.Unlock()

	if ok {
		r.removed(e, "explicit")
	}
}

// Unregister removes (kind, key) only while p is still the registered handle,
// so a replaced handle's disconnect does not evict its successor.
func (r *Registry) Unregister(kind domain.PortKind, key string, p domain.Port) {
	r.mu.Lock()
	e, ok := r.entries[kind][key]
	if ok && e.port == p {
		r.deleteLocked(e)
	} else {
		ok = false
	}
	r.mu.Unlock()

	if ok {
		r.removed(e, "disconnect")
	}
}

// Broadcast sends message to every handle of kind. Handles that fail are
// removed and the rest still receive the message. Returns the delivery count.
func (r *Registry) Broadcast(kind domain.PortKind, message any) int {
	targets := r.snapshotKind(kind)

	delivered := 0
	for _, t := range targets {
		if err := t.port.Send(message); err != nil {
			slog.Warn("broadcast send failed, removing port",
				slog.String("kind", string(kind)),
				slog.String("key", t.key),
				slog.String("error", err.Error()))
			r.evict(t, "send_failed")
			continue
		}
		delivered++
		observability.PortMessagesSent.WithLabelValues(string(kind), "broadcast").Inc()
	}
	return delivered
}

// BroadcastAll sends message to every registered handle regardless of kind
func (r *Registry) BroadcastAll(message any) int {
	r.mu.RLock()
	kinds := make([]domain.PortKind, 0, len(r.entries))
	for kind := range r.entries {
		kinds = append(kinds, kind)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, kind := range kinds {
		delivered += r.Broadcast(kind, message)
	}
	return delivered
}

// Sweep pings every handle and removes those whose send fails.
// Returns the number of removed handles.
func (r *Registry) Sweep() int {
	r.mu.RLock()
	targets := make([]*entry, 0, len(r.byID))
	for _, e := range r.byID {
		targets = append(targets, e)
	}
	r.mu.RUnlock()

	ping := domain.ControlMessage{Type: domain.ControlPing}
	removed := 0
	for _, t := range targets {
		if err := t.port.Send(ping); err != nil {
			slog.Info("port failed health ping, removing",
				slog.String("kind", string(t.kind)),
				slog.String("key", t.key),
				slog.String("error", err.Error()))
			if r.evict(t, "sweep") {
				removed++
			}
		}
	}
	return removed
}

// Run sweeps dead ports every interval until ctx is cancelled
func (r *Registry) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("port sweep stopping")
			return ctx.Err()
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				slog.Info("port sweep completed", slog.Int("removed", n))
			}
		}
	}
}

// AttachRequest records an in-flight request id on (kind, key)
func (r *Registry) AttachRequest(kind domain.PortKind, key, requestID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[kind][key]
	if !ok {
		return false
	}
	e.requests[requestID] = struct{}{}
	return true
}

// DetachRequest clears a settled request id. It reports whether the
// connection's request set is now empty.
func (r *Registry) DetachRequest(kind domain.PortKind, key, requestID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[kind][key]
	if !ok {
		return true
	}
	delete(e.requests, requestID)
	return len(e.requests) == 0
}

// Requests returns the in-flight request ids of (kind, key)
func (r *Registry) Requests(kind domain.PortKind, key string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[kind][key]
	if !ok {
		return nil
	}
	return e.requestIDs()
}

// List returns snapshots of every registration of kind
func (r *Registry) List(kind domain.PortKind) []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Connection, 0, len(r.entries[kind]))
	for _, e := range r.entries[kind] {
		out = append(out, e.snapshot())
	}
	return out
}

// Count returns the number of registrations of kind
func (r *Registry) Count(kind domain.PortKind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries[kind])
}

// Shutdown closes and removes every registration
func (r *Registry) Shutdown() {
	r.mu.Lock()
	all := make([]*entry, 0, len(r.byID))
	for _, e := range r.byID {
		all = append(all, e)
	}
	r.entries = make(map[domain.PortKind]map[string]*entry)
	r.byID = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range all {
		observability.PortsActive.WithLabelValues(string(e.kind)).Dec()
		closeQuietly(e.port, e.kind, e.key)
	}
	slog.Info("port registry shutdown complete", slog.Int("closed", len(all)))
}

func (r *Registry) snapshotKind(kind domain.PortKind) []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*entry, 0, len(r.entries[kind]))
	for _, e := range r.entries[kind] {
		out = append(out, &entry{id: e.id, kind: e.kind, key: e.key, port: e.port})
	}
	return out
}

// evict removes t if it is still the live registration with the same handle
func (r *Registry) evict(t *entry, reason string) bool {
	r.mu.Lock()
	e, ok := r.entries[t.kind][t.key]
	if ok && e.port == t.port {
		r.deleteLocked(e)
	} else {
		ok = false
	}
	r.mu.Unlock()

	if ok {
		r.removed(e, reason)
	}
	return ok
}

func (r *Registry) deleteLocked(e *entry) {
	delete(r.entries[e.kind], e.key)
	if len(r.entries[e.kind]) == 0 {
		delete(r.entries, e.kind)
	}
	delete(r.byID, e.id)
}

func (r *Registry) removed(e *entry, reason string) {
	observability.PortsActive.WithLabelValues(string(e.kind)).Dec()
	observability.PortsRemoved.WithLabelValues(string(e.kind), reason).Inc()
	closeQuietly(e.port, e.kind, e.key)
	slog.Info("port removed",
		slog.String("kind", string(e.kind)),
		slog.String("key", e.key),
		slog.String("reason", reason),
		slog.Int("pending_requests", len(e.requests)))
}

func (e *entry) requestIDs() []string {
	ids := make([]string, 0, len(e.requests))
	for id := range e.requests {
		ids = append(ids, id)
	}
	return ids
}

func (e *entry) snapshot() Connection {
	return Connection{
		ID:        e.id,
		Kind:      e.kind,
		Key:       e.key,
		Port:      e.port,
		CreatedAt: e.createdAt,
		Requests:  e.requestIDs(),
	}
}

func closeQuietly(p domain.Port, kind domain.PortKind, key string) {
	if p == nil {
		return
	}
	if err := p.Close(); err != nil {
		slog.Debug("port close failed",
			slog.String("kind", string(kind)),
			slog.String("key", key),
			slog.String("error", err.Error()))
	}
}
