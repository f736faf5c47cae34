package router

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"yakkl-background/internal/clock"
	"yakkl-background/internal/observability"
)

const (
	DefaultSimulationTTL = 10 * time.Second
	maxSimulationEntries = 100
)

type simulationEntry struct {
	result   json.RawMessage
	storedAt time.Time
}

// SimulationCache holds recent simulation results keyed on the canonical
// transaction fields. Entries expire after ttl and the cache never holds
// more than maxSimulationEntries.
type SimulationCache struct {
	mu      sync.Mutex
	entries map[string]simulationEntry
	ttl     time.Duration
	clock   clock.Clock
}

// NewSimulationCache creates a cache. ttl <= 0 uses DefaultSimulationTTL.
func NewSimulationCache(c clock.Clock, ttl time.Duration) *SimulationCache {
	if ttl <= 0 {
		ttl = DefaultSimulationTTL
	}
	return &SimulationCache{
		entries: make(map[string]simulationEntry),
		ttl:     ttl,
		clock:   c,
	}
}

type txFields struct {
	From  string `json:"from,omitempty"`
	To    string `json:"to,omitempty"`
	Data  string `json:"data,omitempty"`
	Input string `json:"input,omitempty"`
	Value string `json:"value,omitempty"`
}

type cacheKey struct {
	Method string          `json:"method"`
	From   string          `json:"from"`
	To     string          `json:"to"`
	Data   string          `json:"data"`
	Value  string          `json:"value"`
	Block  json.RawMessage `json:"block,omitempty"`
}

// Key builds the canonical cache key for a simulation call. Addresses and
// hex payloads are compared case-insensitively; "input" is treated as "data".
func (c *SimulationCache) Key(method string, params []json.RawMessage) (string, bool) {
	if len(params) == 0 {
		return "", false
	}

	var tx txFields
	if err := json.Unmarshal(params[0], &tx); err != nil {
		return "", false
	}

	data := tx.Data
	if data == "" {
		data = tx.Input
	}

	key := cacheKey{
		Method: method,
		From:   strings.ToLower(tx.From),
		To:     strings.ToLower(tx.To),
		Data:   strings.ToLower(data),
		Value:  strings.ToLower(tx.Value),
	}
	if len(params) > 1 {
		key.Block = params[1]
	}

	raw, err := json.Marshal(key)
	if err != nil {
		return "", false
	}
	return string(raw), true
}

// Get returns a cached result if one younger than ttl exists
func (c *SimulationCache) Get(key string) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || c.clock.Now().Sub(e.storedAt) >= c.ttl {
		observability.SimulationCacheTotal.WithLabelValues("miss").Inc()
		return nil, false
	}
	observability.SimulationCacheTotal.WithLabelValues("hit").Inc()
	return e.result, true
}

// Set stores result, pruning expired entries and then the oldest ones
// when the cache is over capacity.
func (c *SimulationCache) Set(key string, result json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	c.entries[key] = simulationEntry{result: result, storedAt: now}

	if len(c.entries) <= maxSimulationEntries {
		return
	}

	for k, e := range c.entries {
		if now.Sub(e.storedAt) >= c.ttl {
			delete(c.entries, k)
		}
	}

	for len(c.entries) > maxSimulationEntries {
		var oldestKey string
		var oldest time.Time
		for k, e := range c.entries {
			if k == key {
				continue
			}
			if oldestKey == "" || e.storedAt.Before(oldest) {
				oldestKey, oldest = k, e.storedAt
			}
		}
		delete(c.entries, oldestKey)
	}
}

// Len returns the number of stored entries, expired or not
func (c *SimulationCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
