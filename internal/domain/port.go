package domain

import "time"

// PortKind is the logical type of a connection
type PortKind string

const (
	PortBackground    PortKind = "background"
	PortDapp          PortKind = "dapp"
	PortContentScript PortKind = "content-script"
	PortInternal      PortKind = "internal"
	PortExternal      PortKind = "external"
)

// Valid reports whether k is a known port kind
func (k PortKind) Valid() bool {
	switch k {
	case PortBackground, PortDapp, PortContentScript, PortInternal, PortExternal:
		return true
	}
	return false
}

// PortInfo describes the tab that owns a port. TabID is empty for non-tab contexts.
type PortInfo struct {
	TabID       string    `json:"tab_id,omitempty"`
	URL         string    `json:"url,omitempty"`
	Title       string    `json:"title,omitempty"`
	FavIconURL  string    `json:"fav_icon_url,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Port is a bidirectional message channel to another context
type Port interface {
	Send(v any) error
	Close() error
	Info() PortInfo
}
