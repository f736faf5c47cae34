// Package router arbitrates provider requests arriving on ports: reads are
// answered or proxied, simulations are cached, and everything else waits for
// the user's approval.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"yakkl-background/internal/clock"
	"yakkl-background/internal/domain"
	"yakkl-background/internal/observability"
	"yakkl-background/internal/rpc"
	"yakkl-background/internal/security"

	"github.com/google/uuid"
)

const DefaultApprovalTimeout = 30 * time.Second

// Caller identifies the port a request arrived on
type Caller struct {
	ConnectionID string
	Kind         domain.PortKind
	Key          string
	Port         domain.Port
}

// Connections is the read side of the domain connection store plus the
// updates that follow a connect approval.
type Connections interface {
	IsApproved(ctx context.Context, domainName string) bool
	AddressesFor(ctx context.Context, domainName string) []string
	Approve(ctx context.Context, domainName string, addresses []string) error
	Reject(ctx context.Context, domainName string) error
	MarkPending(ctx context.Context, domainName string) error
}

// Sessions reports the active wallet session
type Sessions interface {
	Info(ctx context.Context) (*domain.SessionInfo, error)
}

// RequestTracker records which requests are in flight on a connection and
// resolves the handle a connection currently answers on.
type RequestTracker interface {
	AttachRequest(kind domain.PortKind, key, requestID string) bool
	DetachRequest(kind domain.PortKind, key, requestID string) bool
	PortFor(connectionID string) (domain.Port, bool)
}

// Config holds the router's tunables
type Config struct {
	ChainID         int64
	ApprovalTimeout time.Duration
	SimulationTTL   time.Duration
}

// Router routes provider requests. Every request handed to Handle is answered
// exactly once on its originating port.
type Router struct {
	backend   domain.RPCBackend
	conns     Connections
	sessions  Sessions
	approver  domain.Approver
	tracker   RequestTracker
	activity  domain.ActivityPublisher
	sanitizer *security.MetadataSanitizer
	clock     clock.Clock
	cache     *SimulationCache

	chainID int64
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]*pendingRequest
}

// Deps groups the router's collaborators. Activity may be nil.
type Deps struct {
	Backend     domain.RPCBackend
	Connections Connections
	Sessions    Sessions
	Approver    domain.Approver
	Tracker     RequestTracker
	Activity    domain.ActivityPublisher
	Clock       clock.Clock
}

// New creates a Router
func New(deps Deps, cfg Config) *Router {
	c := deps.Clock
	if c == nil {
		c = clock.Real()
	}
	timeout := cfg.ApprovalTimeout
	if timeout <= 0 {
		timeout = DefaultApprovalTimeout
	}
	chainID := cfg.ChainID
	if chainID <= 0 {
		chainID = 1
	}

	return &Router{
		backend:   deps.Backend,
		conns:     deps.Connections,
		sessions:  deps.Sessions,
		approver:  deps.Approver,
		tracker:   deps.Tracker,
		activity:  deps.Activity,
		sanitizer: security.NewMetadataSanitizer(),
		clock:     c,
		cache:     NewSimulationCache(c, cfg.SimulationTTL),
		chainID:   chainID,
		timeout:   timeout,
		pending:   make(map[string]*pendingRequest),
	}
}

// Handle classifies req and routes it. Reads and simulations are answered
// before Handle returns; approvals are answered later by Resolve, Reject or
// the approval timeout.
func (r *Router) Handle(ctx context.Context, caller Caller, req domain.Request) {
	ctx = observability.WithRequestID(ctx, req.ID)

	if req.ID == "" || req.Method == "" {
		r.respond(ctx, caller, req, rpc.Unknown, "", nil,
			domain.ProtocolError("request requires id and method"), domain.OutcomeFailed)
		return
	}

	category := rpc.Classify(req.Method)
	domainName := r.resolveDomain(caller, req)
	if domainName != "" {
		ctx = observability.WithOrigin(ctx, domainName)
	}

	observability.FromContext(ctx).Debug("routing request",
		slog.String("method", req.Method),
		slog.String("category", string(category)))

	switch category {
	case rpc.Read:
		r.handleRead(ctx, caller, req, domainName)
	case rpc.Simulation:
		r.handleSimulation(ctx, caller, req, domainName)
	default:
		r.enqueueApproval(ctx, caller, req, category, domainName)
	}
}

func (r *Router) handleRead(ctx context.Context, caller Caller, req domain.Request, domainName string) {
	if rpc.IsIdentityRevealing(req.Method) {
		r.respond(ctx, caller, req, rpc.Read, domainName, r.identityResult(ctx, req.Method, domainName), nil, domain.OutcomeAnswered)
		return
	}

	switch req.Method {
	case "eth_chainId":
		r.respond(ctx, caller, req, rpc.Read, domainName, fmt.Sprintf("0x%x", r.chainID), nil, domain.OutcomeAnswered)
		return
	case "net_version":
		r.respond(ctx, caller, req, rpc.Read, domainName, strconv.FormatInt(r.chainID, 10), nil, domain.OutcomeAnswered)
		return
	}

	result, err := r.backend.Request(ctx, req.Method, req.Params)
	if err != nil {
		observability.FromContext(ctx).Warn("backend read failed",
			slog.String("method", req.Method),
			slog.String("error", err.Error()))
		r.respond(ctx, caller, req, rpc.Read, domainName, nil, rewriteBackendError(err), domain.OutcomeFailed)
		return
	}
	r.respond(ctx, caller, req, rpc.Read, domainName, result, nil, domain.OutcomeAnswered)
}

// identityResult never reveals accounts to a domain that is not approved
func (r *Router) identityResult(ctx context.Context, method, domainName string) any {
	var addresses []string
	if domainName != "" && r.conns.IsApproved(ctx, domainName) {
		addresses = r.conns.AddressesFor(ctx, domainName)
	}
	if addresses == nil {
		addresses = []string{}
	}

	switch method {
	case "eth_coinbase":
		if len(addresses) == 0 {
			return json.RawMessage("null")
		}
		return addresses[0]
	case "wallet_getPermissions":
		if len(addresses) == 0 {
			return []any{}
		}
		return []any{accountsPermission(domainName, addresses)}
	default:
		return addresses
	}
}

func accountsPermission(domainName string, addresses []string) map[string]any {
	return map[string]any{
		"invoker":          "https://" + domainName,
		"parentCapability": "eth_accounts",
		"caveats": []map[string]any{
			{"type": "restrictReturnedAccounts", "value": addresses},
		},
	}
}

func (r *Router) handleSimulation(ctx context.Context, caller Caller, req domain.Request, domainName string) {
	if len(req.Params) == 0 {
		r.respond(ctx, caller, req, rpc.Simulation, domainName, nil,
			domain.InvalidParams("Missing transaction parameters for "+req.Method), domain.OutcomeFailed)
		return
	}

	key, cacheable := r.cache.Key(req.Method, req.Params)
	if cacheable {
		if cached, ok := r.cache.Get(key); ok {
			r.respond(ctx, caller, req, rpc.Simulation, domainName, cached, nil, domain.OutcomeAnswered)
			return
		}
	}

	result, err := r.backend.Request(ctx, req.Method, req.Params)
	if err != nil {
		observability.FromContext(ctx).Warn("simulation failed",
			slog.String("method", req.Method),
			slog.String("error", err.Error()))
		r.respond(ctx, caller, req, rpc.Simulation, domainName, nil, rewriteBackendError(err), domain.OutcomeFailed)
		return
	}

	if cacheable {
		r.cache.Set(key, result)
	}
	r.respond(ctx, caller, req, rpc.Simulation, domainName, result, nil, domain.OutcomeAnswered)
}

// rewriteBackendError turns common node failures into messages a user can act on
func rewriteBackendError(err error) *domain.ProviderError {
	pe := domain.AsProviderError(err)
	msg := strings.ToLower(pe.Message)

	switch {
	case strings.Contains(msg, "execution reverted"):
		return &domain.ProviderError{Code: pe.Code, Message: "Transaction would fail: " + pe.Message, Data: pe.Data}
	case strings.Contains(msg, "insufficient funds"):
		return &domain.ProviderError{Code: pe.Code, Message: "Insufficient balance for transaction"}
	case strings.Contains(msg, "context deadline exceeded"):
		return domain.TimeoutError("RPC backend did not respond in time")
	}

	if pe.Code == 0 {
		return domain.BackendError(pe.Message)
	}
	return pe
}

// resolveDomain picks the requesting domain: the explicit origin, then an
// "origin" field on the last parameter, then the port's page URL.
func (r *Router) resolveDomain(caller Caller, req domain.Request) string {
	candidates := []string{req.Origin}

	if n := len(req.Params); n > 0 {
		var last struct {
			Origin string `json:"origin"`
		}
		if err := json.Unmarshal(req.Params[n-1], &last); err == nil {
			candidates = append(candidates, last.Origin)
		}
	}
	if caller.Port != nil {
		candidates = append(candidates, caller.Port.Info().URL)
	}

	for _, c := range candidates {
		if c == "" {
			continue
		}
		if d, err := security.NormalizeDomain(c); err == nil {
			return d
		}
	}
	return ""
}

// respond posts the single response for req and records the outcome
func (r *Router) respond(ctx context.Context, caller Caller, req domain.Request, category rpc.Category,
	domainName string, result any, perr *domain.ProviderError, outcome string) {
	resp := domain.Response{ID: req.ID, Result: result, Error: perr}
	if perr == nil && result == nil {
		resp.Result = json.RawMessage("null")
	}

	if caller.Port != nil {
		if err := caller.Port.Send(resp); err != nil {
			observability.FromContext(ctx).Warn("failed to deliver response",
				slog.String("method", req.Method),
				slog.String("connection_id", caller.ConnectionID),
				slog.String("error", err.Error()))
		}
	}

	observability.RPCRequestsTotal.WithLabelValues(string(category), outcome).Inc()
	r.recordActivity(ctx, req, category, domainName, outcome, perr)
}

func (r *Router) recordActivity(ctx context.Context, req domain.Request, category rpc.Category,
	domainName, outcome string, perr *domain.ProviderError) {
	if r.activity == nil {
		return
	}

	event := &domain.ActivityEvent{
		ID:         uuid.New().String(),
		RequestID:  req.ID,
		Method:     req.Method,
		Category:   string(category),
		Domain:     domainName,
		Outcome:    outcome,
		OccurredAt: r.clock.Now().UTC(),
	}
	if perr != nil {
		event.ErrorCode = perr.Code
	}

	if err := r.activity.PublishActivity(ctx, event); err != nil {
		observability.FromContext(ctx).Warn("failed to publish activity",
			slog.String("method", req.Method),
			slog.String("error", err.Error()))
	}
}
