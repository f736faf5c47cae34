package domain

import (
	"context"
	"time"
)

// Activity outcomes
const (
	OutcomeAnswered = "answered"
	OutcomeApproved = "approved"
	OutcomeRejected = "rejected"
	OutcomeTimedOut = "timed_out"
	OutcomeFailed   = "failed"
)

// ActivityEvent records one settled dapp request
type ActivityEvent struct {
	ID         string    `json:"id"`
	RequestID  string    `json:"request_id"`
	Method     string    `json:"method"`
	Category   string    `json:"category"`
	Domain     string    `json:"domain,omitempty"`
	Outcome    string    `json:"outcome"`
	ErrorCode  int       `json:"error_code,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ActivityPublisher ships activity events to downstream consumers
type ActivityPublisher interface {
	PublishActivity(ctx context.Context, event *ActivityEvent) error
}

// ActivityRepository stores audited activity events. Record is idempotent on
// the event id so redelivered messages are harmless.
type ActivityRepository interface {
	Record(ctx context.Context, event *ActivityEvent) error
	Recent(ctx context.Context, domain string, limit int) ([]*ActivityEvent, error)
}
