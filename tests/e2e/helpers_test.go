//go:build e2e
// +build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"yakkl-background/internal/domain"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

var frameSeq atomic.Uint64

// uniqueID returns an id no other test in the run will use
func uniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixNano(), frameSeq.Add(1))
}

// Frame is any message the background sends over a port: a provider
// response, a pushed event or a control reply
type Frame struct {
	ID     string                `json:"id"`
	Type   string                `json:"type"`
	Event  string                `json:"event"`
	Data   json.RawMessage       `json:"data"`
	Result json.RawMessage       `json:"result"`
	Error  *domain.ProviderError `json:"error"`
}

// PortConn is a WebSocket port opened against the test server
type PortConn struct {
	t      *testing.T
	conn   *websocket.Conn
	frames chan Frame
}

// DialPort opens a port of kind. A non-empty origin is sent as the Origin header.
func DialPort(t *testing.T, kind domain.PortKind, query url.Values, origin string) *PortConn {
	t.Helper()

	target := fmt.Sprintf("%s/ws/%s", wsURL, kind)
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}

	conn, resp, err := websocket.DefaultDialer.Dial(target, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	require.NoError(t, err, "failed to open %s port", kind)

	p := &PortConn{t: t, conn: conn, frames: make(chan Frame, 64)}
	go p.readLoop()
	t.Cleanup(p.Close)
	return p
}

// dialRaw attempts an upgrade and leaves the outcome to the caller
func dialRaw(kind domain.PortKind, origin string) (*websocket.Conn, *http.Response, error) {
	header := http.Header{}
	header.Set("Origin", origin)
	conn, resp, err := websocket.DefaultDialer.Dial(fmt.Sprintf("%s/ws/%s", wsURL, kind), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, resp, err
}

// DialWallet opens the wallet UI port
func DialWallet(t *testing.T) *PortConn {
	t.Helper()
	return DialPort(t, domain.PortInternal, url.Values{"key": {uniqueID("popup")}}, walletOrigin)
}

// DialDapp opens a page provider port for pageURL
func DialDapp(t *testing.T, pageURL string) *PortConn {
	t.Helper()
	return DialPort(t, domain.PortDapp, url.Values{
		"tab_id": {uniqueID("tab")},
		"url":    {pageURL},
		"title":  {"E2E Dapp"},
	}, "")
}

func (p *PortConn) readLoop() {
	defer close(p.frames)
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		p.frames <- f
	}
}

// Send writes v as one JSON frame
func (p *PortConn) Send(v any) {
	p.t.Helper()
	require.NoError(p.t, p.conn.WriteJSON(v))
}

// Request sends a provider request
func (p *PortConn) Request(id, method string, params ...any) {
	p.t.Helper()
	req := map[string]any{"id": id, "method": method}
	if len(params) > 0 {
		req["params"] = params
	}
	p.Send(req)
}

// WaitFor returns the first frame matching match, skipping the rest
func (p *PortConn) WaitFor(timeout time.Duration, match func(Frame) bool) Frame {
	p.t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case f, ok := <-p.frames:
			if !ok {
				p.t.Fatal("port closed while waiting for frame")
			}
			if match(f) {
				return f
			}
		case <-deadline:
			p.t.Fatal("timed out waiting for frame")
		}
	}
}

// Response waits for the provider response to request id
func (p *PortConn) Response(id string) Frame {
	p.t.Helper()
	return p.WaitFor(5*time.Second, func(f Frame) bool {
		return f.ID == id && f.Type == "" && f.Event == ""
	})
}

// Control waits for the control reply of the given type and id
func (p *PortConn) Control(typ, id string) Frame {
	p.t.Helper()
	return p.WaitFor(5*time.Second, func(f Frame) bool {
		return f.Type == typ && f.ID == id
	})
}

// Approval waits for the approval_requested event of method
func (p *PortConn) Approval(method string) domain.ApprovalRequest {
	p.t.Helper()
	var approval domain.ApprovalRequest
	p.WaitFor(5*time.Second, func(f Frame) bool {
		if f.Event != domain.EventApprovalRequested {
			return false
		}
		if err := json.Unmarshal(f.Data, &approval); err != nil {
			return false
		}
		return approval.Method == method
	})
	return approval
}

// Close closes the connection
func (p *PortConn) Close() {
	p.conn.Close()
}

// Login starts a wallet session through the wallet UI port and returns the token
func (p *PortConn) Login(username string) string {
	p.t.Helper()
	id := uniqueID("login")
	p.Send(map[string]any{
		"type": domain.ControlLogin,
		"id":   id,
		"data": map[string]any{"subject": "e2e-" + username, "username": username},
	})

	reply := p.Control(domain.ControlLogin, id)
	var payload struct {
		Token   string             `json:"token"`
		Session domain.SessionInfo `json:"session"`
	}
	require.NoError(p.t, json.Unmarshal(reply.Data, &payload))
	require.NotEmpty(p.t, payload.Token)
	return payload.Token
}

// Decide answers an approval from the wallet UI port
func (p *PortConn) Decide(approvalID string, approved bool, result any) {
	p.t.Helper()
	p.Send(map[string]any{
		"type": domain.ControlApprovalResponse,
		"id":   approvalID,
		"data": map[string]any{"approved": approved, "result": result},
	})
}

// APIClient calls the REST API with a bearer token
type APIClient struct {
	*http.Client
	t     *testing.T
	token string
}

func NewAPIClient(t *testing.T, token string) *APIClient {
	return &APIClient{Client: &http.Client{Timeout: 30 * time.Second}, t: t, token: token}
}

// Do sends a request. A nil body sends none.
func (c *APIClient) Do(method, path string, body any) *http.Response {
	c.t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, baseURL+path, reader)
	require.NoError(c.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.Client.Do(req)
	require.NoError(c.t, err)
	return resp
}

// DecodeJSON reads resp into dst and closes the body
func DecodeJSON(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

// Status returns the status code and closes the body
func Status(resp *http.Response) int {
	resp.Body.Close()
	return resp.StatusCode
}
