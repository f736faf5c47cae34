package domain

import (
	"encoding/json"
	"time"
)

// Request is an RPC call arriving on a port
type Request struct {
	ID     string            `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params,omitempty"`
	Origin string            `json:"origin,omitempty"`
}

// Response answers exactly one Request
type Response struct {
	ID     string         `json:"id"`
	Result any            `json:"result,omitempty"`
	Error  *ProviderError `json:"error,omitempty"`
}

// Event is pushed from the background to connected ports
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Control message types exchanged with internal (wallet UI) ports
const (
	ControlApprovalResponse = "approval_response"
	ControlActivity         = "activity"
	ControlLogin            = "session_login"
	ControlLogout           = "session_logout"
	ControlLock             = "lock"
	ControlIdleState        = "idle_state"
	ControlPing             = "ping"
	ControlPong             = "pong"
	ControlError            = "error"
)

// Events pushed by the background
const (
	EventApprovalRequested = "approval_requested"
	EventApprovalSettled   = "approval_settled"
	EventAccountsChanged   = "accountsChanged"
	EventIdleWarning       = "idle_warning"
	EventIdleCountdown     = "idle_countdown"
	EventIdleCleared       = "idle_cleared"
	EventLocked            = "locked"
	EventSessionExpired    = "session_expired"
	EventActivity          = "activity"
)

// ControlMessage is sent by internal ports to drive the wallet
type ControlMessage struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ApprovalDecision is the payload of an approval_response control message
type ApprovalDecision struct {
	Approved bool            `json:"approved"`
	Result   json.RawMessage `json:"result,omitempty"`
	Reason   string          `json:"reason,omitempty"`
}

// ApprovalMetadata describes the page asking for approval
type ApprovalMetadata struct {
	Domain string `json:"domain"`
	// Site is the registrable domain (eTLD+1), shared by a site's subdomains
	Site    string `json:"site,omitempty"`
	Origin  string `json:"origin"`
	Title   string `json:"title"`
	Icon    string `json:"icon"`
	Message string `json:"message"`
}

// ApprovalRequest is the view of a pending request handed to the approval UI
type ApprovalRequest struct {
	ID            string            `json:"id"`
	Method        string            `json:"method"`
	Params        []json.RawMessage `json:"params,omitempty"`
	Metadata      ApprovalMetadata  `json:"metadata"`
	SessionID     string            `json:"session_id,omitempty"`
	RequiresLogin bool              `json:"requires_login"`
	CreatedAt     time.Time         `json:"created_at"`
}
