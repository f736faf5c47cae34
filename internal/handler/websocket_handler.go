package handler

import (
	"context"
	"log/slog"
	"net/http"

	"yakkl-background/internal/domain"
	"yakkl-background/internal/middleware"
	"yakkl-background/internal/observability"
	"yakkl-background/internal/port"
	"yakkl-background/internal/router"
	ws "yakkl-background/internal/websocket"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// MessageDispatcher handles one inbound port frame
type MessageDispatcher interface {
	Dispatch(ctx context.Context, caller router.Caller, raw []byte)
}

// PendingApprovals is the router's view used when ports come and go
type PendingApprovals interface {
	Pending() []domain.ApprovalRequest
	RejectPort(ctx context.Context, connectionID string) int
}

// PortHandler upgrades HTTP requests into registered ports
type PortHandler struct {
	registry       *port.Registry
	dispatcher     MessageDispatcher
	approvals      PendingApprovals
	allowedOrigins []string
	upgrader       websocket.Upgrader
	baseCtx        context.Context
}

// NewPortHandler creates a new port handler. baseCtx bounds the lifetime of
// every connection it accepts.
func NewPortHandler(baseCtx context.Context, registry *port.Registry, dispatcher MessageDispatcher, approvals PendingApprovals, allowedOrigins []string) *PortHandler {
	return &PortHandler{
		registry:       registry,
		dispatcher:     dispatcher,
		approvals:      approvals,
		allowedOrigins: allowedOrigins,
		baseCtx:        baseCtx,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Page ports connect from arbitrary sites; privileged kinds are
			// checked in HandleConnection before upgrading.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// privileged kinds carry wallet UI and background traffic
func privileged(kind domain.PortKind) bool {
	return kind == domain.PortInternal || kind == domain.PortBackground
}

// HandleConnection handles WebSocket upgrade and connection
func (h *PortHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	kind := domain.PortKind(chi.URLParam(r, "kind"))
	if !kind.Valid() {
		http.Error(w, `{"error":"Unknown port kind"}`, http.StatusBadRequest)
		return
	}

	origin := r.Header.Get("Origin")
	if privileged(kind) && !middleware.OriginAllowed(origin, h.allowedOrigins) {
		slog.Warn("privileged port refused",
			slog.String("kind", string(kind)),
			slog.String("origin", origin))
		http.Error(w, `{"error":"Origin not allowed"}`, http.StatusForbidden)
		return
	}

	query := r.URL.Query()
	key := query.Get("tab_id")
	if key == "" {
		key = query.Get("key")
	}
	if key == "" {
		key = uuid.NewString()
	}

	info := domain.PortInfo{
		TabID:      query.Get("tab_id"),
		URL:        query.Get("url"),
		Title:      query.Get("title"),
		FavIconURL: query.Get("favicon"),
	}
	if info.URL == "" {
		info.URL = origin
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	ctx := observability.WithOrigin(h.baseCtx, info.URL)
	client := ws.NewClient(ctx, conn, kind, key, info)
	connID := h.registry.Register(kind, key, client)

	caller := router.Caller{ConnectionID: connID, Kind: kind, Key: key, Port: client}

	if kind == domain.PortInternal {
		h.replayPending(client)
	}

	go client.WritePump()
	go client.ReadPump(func(ctx context.Context, data []byte) {
		h.dispatcher.Dispatch(ctx, caller, data)
	}, func() {
		h.registry.Unregister(kind, key, client)
		// A replacement handle keeps the connection id; its requests stay live
		if _, ok := h.registry.Lookup(connID); ok {
			return
		}
		if n := h.approvals.RejectPort(context.Background(), connID); n > 0 {
			slog.Info("rejected approvals of closed port",
				slog.String("connection_id", connID),
				slog.Int("rejected", n))
		}
	})
}

// replayPending shows a freshly opened wallet UI every request it missed
func (h *PortHandler) replayPending(client *ws.Client) {
	for _, approval := range h.approvals.Pending() {
		if err := client.Send(domain.Event{Event: domain.EventApprovalRequested, Data: &approval}); err != nil {
			slog.Warn("failed to replay pending approval",
				slog.String("approval_id", approval.ID),
				slog.String("error", err.Error()))
			return
		}
	}
}
