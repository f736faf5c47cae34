package domain

import (
	"context"
	"encoding/json"
)

// RPCBackend executes JSON-RPC calls against the chain provider
type RPCBackend interface {
	Request(ctx context.Context, method string, params []json.RawMessage) (json.RawMessage, error)
}

// Approver shows a pending request to the user. The decision arrives later
// through the router's Resolve or Reject.
type Approver interface {
	RequestApproval(ctx context.Context, req *ApprovalRequest) error
}
