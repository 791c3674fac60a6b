package evm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/chain"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/evm"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/walleterr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// jsonRPCError is the error object of a JSON-RPC reply.
type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *jsonRPCError) Error() string  { return e.Message }
func (e *jsonRPCError) ErrorCode() int { return e.Code }

type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
}

// rpcServer answers JSON-RPC calls from a method table.
func rpcServer(t *testing.T, calls *atomic.Int32, results map[string]interface{}) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		switch res := results[req.Method].(type) {
		case nil:
			resp["error"] = map[string]interface{}{"code": -32601, "message": "method not found"}
		case *jsonRPCError:
			resp["error"] = res
		default:
			resp["result"] = res
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func unavailableServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func fastRetry() chain.RetryConfig {
	return chain.RetryConfig{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}
}

func TestClientFailsOverToNextURL(t *testing.T) {
	var downCalls, upCalls atomic.Int32
	down := unavailableServer(t, &downCalls)
	up := rpcServer(t, &upCalls, map[string]interface{}{
		"eth_chainId":             "0x89",
		"eth_getTransactionCount": "0x2a",
	})

	client, err := evm.NewClient([]string{down.URL, up.URL}, fastRetry())
	require.NoError(t, err)
	defer client.Close()

	id, err := client.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(137), id.Int64())
	assert.Equal(t, int32(1), downCalls.Load())

	nonce, err := client.PendingNonceAt(context.Background(), common.HexToAddress("0x01"))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), nonce)
	assert.Equal(t, int32(1), downCalls.Load(), "the failed endpoint is not retried while the next one works")
}

func TestClientDoesNotRetryJSONRPCErrors(t *testing.T) {
	var calls atomic.Int32
	srv := rpcServer(t, &calls, map[string]interface{}{
		"eth_getBalance": &jsonRPCError{Code: -32000, Message: "header not found"},
	})

	client, err := evm.NewClient([]string{srv.URL}, fastRetry())
	require.NoError(t, err)
	defer client.Close()

	_, err = client.BalanceAt(context.Background(), common.HexToAddress("0x01"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, walleterr.ErrRPC))
	assert.Equal(t, int32(1), calls.Load())
}

func TestClientGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	down := unavailableServer(t, &calls)

	client, err := evm.NewClient([]string{down.URL}, fastRetry())
	require.NoError(t, err)
	defer client.Close()

	_, err = client.ChainID(context.Background())
	assert.True(t, errors.Is(err, walleterr.ErrRPC))
	assert.Equal(t, int32(3), calls.Load())
}

func TestIsTransient(t *testing.T) {
	assert.True(t, evm.IsTransient(rpc.HTTPError{StatusCode: http.StatusTooManyRequests}))
	assert.True(t, evm.IsTransient(rpc.HTTPError{StatusCode: http.StatusBadGateway}))
	assert.False(t, evm.IsTransient(rpc.HTTPError{StatusCode: http.StatusUnauthorized}))
	assert.False(t, evm.IsTransient(&jsonRPCError{Code: -32000, Message: "nonce too low"}))
	assert.False(t, evm.IsTransient(walleterr.ErrInvalidAddress))
	assert.True(t, evm.IsTransient(context.DeadlineExceeded))
}

func TestNewClientRequiresURL(t *testing.T) {
	_, err := evm.NewClient(nil, fastRetry())
	assert.Error(t, err)
}
