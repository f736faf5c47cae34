package router

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"yakkl-background/internal/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulationCache_Key(t *testing.T) {
	c := NewSimulationCache(clock.NewFake(time.Unix(0, 0)), 0)

	k1, ok := c.Key("eth_estimateGas", []json.RawMessage{json.RawMessage(`{"from":"0xAA","to":"0xBB","data":"0x12","value":"0x1","gas":"0x5"}`)})
	require.True(t, ok)
	k2, ok := c.Key("eth_estimateGas", []json.RawMessage{json.RawMessage(`{"value":"0x1","input":"0x12","to":"0xbb","from":"0xaa"}`)})
	require.True(t, ok)
	assert.Equal(t, k1, k2)

	k3, _ := c.Key("eth_call", []json.RawMessage{json.RawMessage(`{"from":"0xaa","to":"0xbb","data":"0x12","value":"0x1"}`)})
	assert.NotEqual(t, k1, k3)

	_, ok = c.Key("eth_call", nil)
	assert.False(t, ok)
	_, ok = c.Key("eth_call", []json.RawMessage{json.RawMessage(`"not an object"`)})
	assert.False(t, ok)
}

func TestSimulationCache_TTL(t *testing.T) {
	fc := clock.NewFake(time.Unix(1000, 0))
	c := NewSimulationCache(fc, 10*time.Second)

	c.Set("k", json.RawMessage(`"0x1"`))
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.JSONEq(t, `"0x1"`, string(got))

	fc.Advance(9 * time.Second)
	_, ok = c.Get("k")
	assert.True(t, ok)

	fc.Advance(time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestSimulationCache_BoundedSize(t *testing.T) {
	fc := clock.NewFake(time.Unix(1000, 0))
	c := NewSimulationCache(fc, 10*time.Second)

	for i := 0; i < maxSimulationEntries; i++ {
		c.Set(fmt.Sprintf("old-%d", i), json.RawMessage(`"0x1"`))
	}
	fc.Advance(11 * time.Second)
	c.Set("fresh", json.RawMessage(`"0x2"`))
	assert.Equal(t, 1, c.Len())

	for i := 0; i < maxSimulationEntries+20; i++ {
		fc.Advance(time.Millisecond)
		c.Set(fmt.Sprintf("new-%d", i), json.RawMessage(`"0x3"`))
	}
	assert.Equal(t, maxSimulationEntries, c.Len())

	_, ok := c.Get(fmt.Sprintf("new-%d", maxSimulationEntries+19))
	assert.True(t, ok)
	_, ok = c.Get("fresh")
	assert.False(t, ok)
}
