package service

import (
	"context"
	"log/slog"

	"yakkl-background/internal/domain"
)

// PortNotifier delivers idle and lock cues to the wallet UI
type PortNotifier struct {
	ports Broadcaster
}

func NewPortNotifier(ports Broadcaster) *PortNotifier {
	return &PortNotifier{ports: ports}
}

// Notify implements idle.Notifier
func (n *PortNotifier) Notify(ctx context.Context, event domain.Event) {
	delivered := n.ports.Broadcast(domain.PortInternal, event)
	slog.Debug("ui notification sent",
		slog.String("event", event.Event),
		slog.Int("ports", delivered))
}

// PortApprover shows approval requests on every open wallet UI port. With no
// UI open the request stays pending; the UI lists pending approvals when it
// connects.
type PortApprover struct {
	ports Broadcaster
}

func NewPortApprover(ports Broadcaster) *PortApprover {
	return &PortApprover{ports: ports}
}

// RequestApproval implements domain.Approver
func (a *PortApprover) RequestApproval(ctx context.Context, req *domain.ApprovalRequest) error {
	delivered := a.ports.Broadcast(domain.PortInternal, domain.Event{
		Event: domain.EventApprovalRequested,
		Data:  req,
	})
	if delivered == 0 {
		slog.Info("no wallet ui connected, approval queued",
			slog.String("approval_id", req.ID),
			slog.String("method", req.Method))
	}
	return nil
}
