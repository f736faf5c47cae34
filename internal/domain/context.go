package domain

import "strings"

// RuntimeContext identifies which extension context this process runs as.
// It is resolved once at startup and passed explicitly.
type RuntimeContext int

const (
	ContextUnknown RuntimeContext = iota
	ContextBackground
	ContextPopup
	ContextContentScript
)

func (c RuntimeContext) String() string {
	switch c {
	case ContextBackground:
		return "background"
	case ContextPopup:
		return "popup"
	case ContextContentScript:
		return "content-script"
	default:
		return "unknown"
	}
}

// ParseRuntimeContext maps a configuration value to a RuntimeContext
func ParseRuntimeContext(s string) RuntimeContext {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "background", "service-worker", "sw":
		return ContextBackground
	case "popup", "sidepanel", "ui":
		return ContextPopup
	case "content-script", "content":
		return ContextContentScript
	default:
		return ContextUnknown
	}
}
