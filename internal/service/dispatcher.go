package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"yakkl-background/internal/domain"
	"yakkl-background/internal/idle"
	"yakkl-background/internal/router"
	"yakkl-background/internal/session"
)

// RequestRouter handles provider requests and approval decisions
type RequestRouter interface {
	Handle(ctx context.Context, caller router.Caller, req domain.Request)
	HandleDecision(ctx context.Context, id string, decision domain.ApprovalDecision) error
}

// ActivityRecorder is told about user interaction in the wallet UI
type ActivityRecorder interface {
	RecordActivity()
}

// PlatformReporter receives the idle state observed by the wallet UI
type PlatformReporter interface {
	Report(state idle.PlatformState)
}

// envelope is the union of provider requests and control messages
type envelope struct {
	Type   string            `json:"type"`
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
	Origin string            `json:"origin"`
	Data   json.RawMessage   `json:"data"`
}

type loginPayload struct {
	Subject    string `json:"subject"`
	Username   string `json:"username"`
	ProfileID  string `json:"profile_id"`
	PlanLevel  string `json:"plan_level"`
	SessionID  string `json:"session_id"`
	TTLSeconds int    `json:"ttl_seconds"`
	SecureHash string `json:"secure_hash"`
}

type idleStatePayload struct {
	State string `json:"state"`
}

// Dispatcher decodes messages read from a port and hands them to the router
// or, for wallet UI ports, to the session and idle controls.
type Dispatcher struct {
	router   RequestRouter
	auth     *AuthService
	activity ActivityRecorder
	platform PlatformReporter
}

// NewDispatcher creates a Dispatcher. activity and platform may be nil when
// idle detection is disabled.
func NewDispatcher(r RequestRouter, auth *AuthService, activity ActivityRecorder, platform PlatformReporter) *Dispatcher {
	return &Dispatcher{
		router:   r,
		auth:     auth,
		activity: activity,
		platform: platform,
	}
}

// Dispatch processes one raw message. Malformed provider requests are
// answered with a protocol error on the originating port.
func (d *Dispatcher) Dispatch(ctx context.Context, caller router.Caller, raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		d.reply(caller, domain.Response{
			Error: domain.NewProviderError(domain.CodeParseError, "Parse error"),
		})
		return
	}

	id, err := parseID(env.ID)
	if err != nil {
		d.reply(caller, domain.Response{Error: domain.ProtocolError(err.Error())})
		return
	}

	if env.Method != "" || env.Type == "" {
		d.router.Handle(ctx, caller, domain.Request{
			ID:     id,
			Method: env.Method,
			Params: env.Params,
			Origin: env.Origin,
		})
		return
	}

	if env.Type == domain.ControlPing {
		d.control(caller, domain.ControlPong, id, nil)
		return
	}

	if caller.Kind != domain.PortInternal {
		slog.Warn("control message from untrusted port",
			slog.String("type", env.Type),
			slog.String("kind", string(caller.Kind)))
		d.fail(caller, id, "control messages are only accepted from the wallet")
		return
	}

	d.handleControl(ctx, caller, env.Type, id, env.Data)
}

func (d *Dispatcher) handleControl(ctx context.Context, caller router.Caller, typ, id string, data json.RawMessage) {
	switch typ {
	case domain.ControlApprovalResponse:
		var decision domain.ApprovalDecision
		if err := json.Unmarshal(data, &decision); err != nil {
			d.fail(caller, id, "invalid approval decision")
			return
		}
		if err := d.router.HandleDecision(ctx, id, decision); err != nil {
			if errors.Is(err, domain.ErrRequestNotFound) {
				d.fail(caller, id, "approval is no longer pending")
				return
			}
			d.fail(caller, id, err.Error())
		}

	case domain.ControlActivity:
		if d.activity != nil {
			d.activity.RecordActivity()
		}

	case domain.ControlIdleState:
		var p idleStatePayload
		if err := json.Unmarshal(data, &p); err != nil {
			d.fail(caller, id, "invalid idle state")
			return
		}
		if d.platform != nil {
			d.platform.Report(idle.ParsePlatformState(p.State))
		}

	case domain.ControlLogin:
		d.login(ctx, caller, id, data)

	case domain.ControlLogout:
		if err := d.auth.Logout(ctx); err != nil {
			slog.Error("logout failed", slog.String("error", err.Error()))
			d.fail(caller, id, "logout failed")
			return
		}
		d.control(caller, domain.ControlLogout, id, nil)

	case domain.ControlLock:
		if err := d.auth.Lock(ctx); err != nil {
			slog.Error("lock failed", slog.String("error", err.Error()))
			d.fail(caller, id, "lock failed")
			return
		}
		d.control(caller, domain.ControlLock, id, nil)

	default:
		d.fail(caller, id, "unknown control message: "+typ)
	}
}

func (d *Dispatcher) login(ctx context.Context, caller router.Caller, id string, data json.RawMessage) {
	var p loginPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Subject == "" {
		d.fail(caller, id, "login requires a subject")
		return
	}

	token, info, err := d.auth.Login(ctx, session.IssueParams{
		Subject:    p.Subject,
		Username:   p.Username,
		ProfileID:  p.ProfileID,
		PlanLevel:  p.PlanLevel,
		SessionID:  p.SessionID,
		TTL:        time.Duration(p.TTLSeconds) * time.Second,
		SecureHash: p.SecureHash,
	})
	if err != nil {
		slog.Error("login failed", slog.String("error", err.Error()))
		d.fail(caller, id, "login failed")
		return
	}

	d.control(caller, domain.ControlLogin, id, map[string]any{
		"token":   token,
		"session": info,
	})
}

func (d *Dispatcher) control(caller router.Caller, typ, id string, payload any) {
	msg := domain.ControlMessage{Type: typ, ID: id}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			slog.Error("failed to encode control reply", slog.String("error", err.Error()))
			return
		}
		msg.Data = data
	}
	d.reply(caller, msg)
}

func (d *Dispatcher) fail(caller router.Caller, id, message string) {
	d.control(caller, domain.ControlError, id, map[string]string{"message": message})
}

func (d *Dispatcher) reply(caller router.Caller, msg any) {
	if err := caller.Port.Send(msg); err != nil {
		slog.Warn("failed to reply on port",
			slog.String("connection_id", caller.ConnectionID),
			slog.String("error", err.Error()))
	}
}

// parseID accepts string and numeric JSON-RPC ids
func parseID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", errors.New("invalid request id")
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", errors.New("request id must be a string or number")
	}
	return n.String(), nil
}
