// Package backend talks JSON-RPC to the upstream chain provider.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"yakkl-background/internal/domain"
	"yakkl-background/internal/observability"
)

const maxResponseSize = 10 << 20

var ErrUnexpectedStatus = errors.New("unexpected backend status")

type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      uint64            `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string                `json:"jsonrpc"`
	ID      json.RawMessage       `json:"id"`
	Result  json.RawMessage       `json:"result"`
	Error   *domain.ProviderError `json:"error"`
}

// Client is an HTTP JSON-RPC client implementing domain.RPCBackend
type Client struct {
	url    string
	http   *http.Client
	nextID atomic.Uint64
}

// NewClient creates a client for url. A nil httpClient uses a plain client
// with a 15s timeout.
func NewClient(url string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{url: url, http: httpClient}
}

// Request sends one JSON-RPC call. Errors returned by the node come back as
// *domain.ProviderError carrying the node's code and message.
func (c *Client) Request(ctx context.Context, method string, params []json.RawMessage) (json.RawMessage, error) {
	start := time.Now()
	defer func() {
		observability.BackendRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}()

	if params == nil {
		params = []json.RawMessage{}
	}

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend request %s: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read backend response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	var out rpcResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode backend response: %w", err)
	}
	if out.Error != nil {
		return nil, out.Error
	}
	if len(out.Result) == 0 {
		return json.RawMessage("null"), nil
	}
	return out.Result, nil
}
