package backend

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"yakkl-background/internal/domain"
	"yakkl-background/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimited_PassesThrough(t *testing.T) {
	mock := testutil.NewMockBackend()
	mock.Results["eth_blockNumber"] = json.RawMessage(`"0x10"`)

	limited := WithRateLimit(mock, 100, 5)
	for i := 0; i < 5; i++ {
		result, err := limited.Request(context.Background(), "eth_blockNumber", nil)
		require.NoError(t, err)
		assert.JSONEq(t, `"0x10"`, string(result))
	}
	assert.Equal(t, 5, mock.CallCount("eth_blockNumber"))
}

func TestRateLimited_WaitHonoursContext(t *testing.T) {
	mock := testutil.NewMockBackend()
	mock.Results["eth_blockNumber"] = json.RawMessage(`"0x10"`)

	limited := WithRateLimit(mock, 0.001, 1)
	_, err := limited.Request(context.Background(), "eth_blockNumber", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = limited.Request(ctx, "eth_blockNumber", nil)
	assert.Error(t, err)
	assert.Equal(t, 1, mock.CallCount("eth_blockNumber"))
}

func TestRetrying_RetriesTransportErrors(t *testing.T) {
	var attempts atomic.Int32
	mock := testutil.NewMockBackend()
	mock.RequestFunc = func(ctx context.Context, method string, params []json.RawMessage) (json.RawMessage, error) {
		if attempts.Add(1) < 3 {
			return nil, errors.New("connection reset")
		}
		return json.RawMessage(`"0x1"`), nil
	}

	retrying := WithRetry(mock, time.Millisecond, time.Second)
	result, err := retrying.Request(context.Background(), "eth_chainId", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `"0x1"`, string(result))
	assert.Equal(t, int32(3), attempts.Load())
}

func TestRetrying_ProviderErrorIsPermanent(t *testing.T) {
	var attempts atomic.Int32
	mock := testutil.NewMockBackend()
	mock.RequestFunc = func(ctx context.Context, method string, params []json.RawMessage) (json.RawMessage, error) {
		attempts.Add(1)
		return nil, domain.NewProviderError(-32000, "insufficient funds for gas")
	}

	retrying := WithRetry(mock, time.Millisecond, time.Second)
	_, err := retrying.Request(context.Background(), "eth_estimateGas", nil)

	var pe *domain.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, -32000, pe.Code)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestRetrying_GivesUpAfterMaxElapsed(t *testing.T) {
	mock := testutil.NewMockBackend()
	mock.RequestFunc = func(ctx context.Context, method string, params []json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("dial tcp: connection refused")
	}

	retrying := WithRetry(mock, time.Millisecond, 30*time.Millisecond)
	_, err := retrying.Request(context.Background(), "eth_blockNumber", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}
