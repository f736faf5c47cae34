package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"yakkl-background/internal/clock"
	"yakkl-background/internal/domain"
	"yakkl-background/internal/observability"
	"yakkl-background/internal/rpc"
	"yakkl-background/internal/security"

	"github.com/google/uuid"
)

type pendingRequest struct {
	approval   *domain.ApprovalRequest
	caller     Caller
	request    domain.Request
	category   rpc.Category
	domainName string
	timer      clock.Timer
}

// enqueueApproval parks req until the user decides or the timeout fires
func (r *Router) enqueueApproval(ctx context.Context, caller Caller, req domain.Request, category rpc.Category, domainName string) {
	logger := observability.FromContext(ctx)

	// Already-connected domains get their accounts back without a prompt
	if req.Method == "eth_requestAccounts" && domainName != "" && r.conns.IsApproved(ctx, domainName) {
		if addrs := r.conns.AddressesFor(ctx, domainName); len(addrs) > 0 {
			r.respond(ctx, caller, req, category, domainName, addrs, nil, domain.OutcomeAnswered)
			return
		}
	}

	if r.isDuplicate(caller.ConnectionID, req.ID) {
		r.respond(ctx, caller, req, category, domainName, nil,
			domain.ProtocolError(domain.ErrDuplicateRequest.Error()), domain.OutcomeFailed)
		return
	}

	approval := &domain.ApprovalRequest{
		ID:        uuid.New().String(),
		Method:    req.Method,
		Params:    req.Params,
		Metadata:  r.metadata(caller, req, domainName),
		CreatedAt: r.clock.Now().UTC(),
	}
	if info, err := r.sessions.Info(ctx); err == nil {
		approval.SessionID = info.SessionID
	} else {
		approval.RequiresLogin = true
	}

	if isConnectMethod(req.Method) && domainName != "" {
		if err := r.conns.MarkPending(ctx, domainName); err != nil {
			logger.Warn("failed to mark domain pending",
				slog.String("domain", domainName),
				slog.String("error", err.Error()))
		}
	}

	p := &pendingRequest{
		approval:   approval,
		caller:     caller,
		request:    req,
		category:   category,
		domainName: domainName,
	}

	r.mu.Lock()
	r.pending[approval.ID] = p
	p.timer = r.clock.AfterFunc(r.timeout, func() { r.expire(approval.ID) })
	r.mu.Unlock()

	observability.PendingApprovals.Inc()
	if r.tracker != nil {
		r.tracker.AttachRequest(caller.Kind, caller.Key, approval.ID)
	}

	logger.Info("request awaiting approval",
		slog.String("approval_id", approval.ID),
		slog.String("method", req.Method),
		slog.Bool("requires_login", approval.RequiresLogin))

	if err := r.approver.RequestApproval(ctx, approval); err != nil {
		logger.Error("failed to show approval",
			slog.String("approval_id", approval.ID),
			slog.String("error", err.Error()))
		_ = r.settle(ctx, approval.ID, nil, domain.BackendError("Unable to display approval request"), domain.OutcomeFailed)
	}
}

func (r *Router) metadata(caller Caller, req domain.Request, domainName string) domain.ApprovalMetadata {
	md := domain.ApprovalMetadata{
		Domain:  domainName,
		Message: fmt.Sprintf("%s wants to %s", displayName(domainName), rpc.Describe(req.Method)),
	}
	if domainName != "" {
		md.Site = security.RegistrableDomain(domainName)
	}
	if caller.Port != nil {
		info := caller.Port.Info()
		md.Origin = r.sanitizer.Sanitize(info.URL)
		md.Title = r.sanitizer.Sanitize(info.Title)
		md.Icon = r.sanitizer.SanitizeIconURL(info.FavIconURL)
	}
	if md.Origin == "" && req.Origin != "" {
		md.Origin = r.sanitizer.Sanitize(req.Origin)
	}
	return md
}

func displayName(domainName string) string {
	if domainName == "" {
		return "An unknown site"
	}
	return domainName
}

func isConnectMethod(method string) bool {
	return method == "eth_requestAccounts" || method == "wallet_requestPermissions"
}

func (r *Router) isDuplicate(connectionID, requestID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.pending {
		if p.caller.ConnectionID == connectionID && p.request.ID == requestID {
			return true
		}
	}
	return false
}

// Resolve completes an approved request with the result supplied by the wallet
func (r *Router) Resolve(ctx context.Context, id string, result json.RawMessage) error {
	p, ok := r.take(id)
	if !ok {
		return domain.ErrRequestNotFound
	}

	if isConnectMethod(p.request.Method) && p.domainName != "" {
		var addresses []string
		if err := json.Unmarshal(result, &addresses); err == nil && len(addresses) > 0 {
			if err := r.conns.Approve(ctx, p.domainName, addresses); err != nil {
				observability.FromContext(ctx).Error("failed to persist domain approval",
					slog.String("domain", p.domainName),
					slog.String("error", err.Error()))
			}
		}
	}

	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	r.deliver(ctx, id, p, result, nil, domain.OutcomeApproved)
	return nil
}

// Reject completes a request with perr. A nil perr is a user rejection (4001).
func (r *Router) Reject(ctx context.Context, id string, perr *domain.ProviderError) error {
	if perr == nil {
		perr = domain.UserRejection()
	}

	p, ok := r.take(id)
	if !ok {
		return domain.ErrRequestNotFound
	}

	// Only the user's own refusal marks a domain rejected
	if perr.Code == domain.CodeUserRejected && isConnectMethod(p.request.Method) && p.domainName != "" {
		if err := r.conns.Reject(ctx, p.domainName); err != nil {
			observability.FromContext(ctx).Error("failed to persist domain rejection",
				slog.String("domain", p.domainName),
				slog.String("error", err.Error()))
		}
	}

	r.deliver(ctx, id, p, nil, perr, domain.OutcomeRejected)
	return nil
}

// RejectAll rejects every pending request. It runs when the session ends.
func (r *Router) RejectAll(ctx context.Context, perr *domain.ProviderError) int {
	if perr == nil {
		perr = domain.AuthError("Wallet session ended")
	}
	ids := r.pendingIDs(func(*pendingRequest) bool { return true })
	n := 0
	for _, id := range ids {
		if r.settle(ctx, id, nil, perr, domain.OutcomeRejected) == nil {
			n++
		}
	}
	if n > 0 {
		observability.FromContext(ctx).Info("rejected pending approvals", slog.Int("count", n))
	}
	return n
}

// RejectPort rejects the requests that arrived on a connection that went away
func (r *Router) RejectPort(ctx context.Context, connectionID string) int {
	ids := r.pendingIDs(func(p *pendingRequest) bool { return p.caller.ConnectionID == connectionID })
	n := 0
	for _, id := range ids {
		if r.settle(ctx, id, nil, domain.DisconnectedError("Port disconnected"), domain.OutcomeRejected) == nil {
			n++
		}
	}
	return n
}

// Pending lists the requests awaiting approval, oldest first
func (r *Router) Pending() []domain.ApprovalRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.ApprovalRequest, 0, len(r.pending))
	for _, p := range r.pending {
		out = append(out, *p.approval)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// HandleDecision applies an approval_response sent by the wallet UI
func (r *Router) HandleDecision(ctx context.Context, id string, decision domain.ApprovalDecision) error {
	if decision.Approved {
		return r.Resolve(ctx, id, decision.Result)
	}
	perr := domain.UserRejection()
	if decision.Reason != "" {
		perr.Message = decision.Reason
	}
	return r.Reject(ctx, id, perr)
}

func (r *Router) expire(id string) {
	ctx := context.Background()
	err := r.settle(ctx, id, nil, domain.TimeoutError("Request timed out waiting for approval"), domain.OutcomeTimedOut)
	if err == nil {
		slog.Warn("approval timed out", slog.String("approval_id", id))
	} else if !errors.Is(err, domain.ErrRequestNotFound) {
		slog.Error("failed to expire approval", slog.String("approval_id", id), slog.String("error", err.Error()))
	}
}

// settle removes the entry and posts its response. Only the caller that
// removes the entry responds, so a request is answered at most once.
func (r *Router) settle(ctx context.Context, id string, result json.RawMessage, perr *domain.ProviderError, outcome string) error {
	p, ok := r.take(id)
	if !ok {
		return domain.ErrRequestNotFound
	}
	r.deliver(ctx, id, p, result, perr, outcome)
	return nil
}

// take removes the entry and stops its timer. Whoever takes an entry owns
// its response.
func (r *Router) take(id string) (*pendingRequest, bool) {
	r.mu.Lock()
	p, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()

	if !ok {
		return nil, false
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	observability.PendingApprovals.Dec()
	return p, true
}

func (r *Router) deliver(ctx context.Context, id string, p *pendingRequest, result json.RawMessage, perr *domain.ProviderError, outcome string) {
	// A page that reconnected keeps its connection id but not its handle
	caller := p.caller
	if r.tracker != nil {
		r.tracker.DetachRequest(caller.Kind, caller.Key, id)
		if live, ok := r.tracker.PortFor(caller.ConnectionID); ok {
			caller.Port = live
		}
	}

	var res any
	if result != nil {
		res = result
	}
	r.respond(ctx, caller, p.request, p.category, p.domainName, res, perr, outcome)
}

func (r *Router) pendingIDs(match func(*pendingRequest) bool) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.pending))
	for id, p := range r.pending {
		if match(p) {
			ids = append(ids, id)
		}
	}
	return ids
}
