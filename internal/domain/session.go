package domain

import "time"

// DefaultPlanLevel is used when a session is issued without a plan
const DefaultPlanLevel = "explorer_member"

// SessionInfo is the caller-visible summary of the active session.
// The token itself stays opaque.
type SessionInfo struct {
	Subject   string    `json:"subject"`
	Username  string    `json:"username"`
	ProfileID string    `json:"profile_id"`
	PlanLevel string    `json:"plan_level"`
	SessionID string    `json:"session_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
