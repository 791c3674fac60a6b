package solana_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/chain"
	sol "github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/solana"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/walleterr"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// rpcHandler answers a JSON-RPC method with a result or an error object.
type rpcHandler func(req rpcRequest) (result any, rpcErr *jsonrpc.RPCError)

type rpcServer struct {
	mu      sync.Mutex
	methods map[string]rpcHandler
	calls   map[string]int
	// failures answers the next n requests with HTTP 503.
	failures atomic.Int32
}

func newRPC(t *testing.T, methods map[string]rpcHandler) (*sol.Client, *rpcServer) {
	t.Helper()

	s := &rpcServer{methods: methods, calls: map[string]int{}}
	srv := httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(srv.Close)

	client, err := sol.NewClient(sol.ClientConfig{
		URL: srv.URL,
		Retry: chain.RetryConfig{
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
		},
		ConfirmTimeout: time.Second,
		PollInterval:   time.Millisecond,
	})
	require.NoError(t, err)
	return client, s
}

func (s *rpcServer) serve(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.calls[req.Method]++
	handler, ok := s.methods[req.Method]
	s.mu.Unlock()

	if s.failures.Load() > 0 {
		s.failures.Add(-1)
		http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
		return
	}

	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	if !ok {
		resp["error"] = map[string]any{"code": -32601, "message": "Method not found"}
	} else {
		result, rpcErr := handler(req)
		if rpcErr != nil {
			resp["error"] = map[string]any{"code": rpcErr.Code, "message": rpcErr.Message}
		} else {
			resp["result"] = result
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *rpcServer) count(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func withContext(value any) map[string]any {
	return map[string]any{"context": map[string]any{"slot": 100}, "value": value}
}

func accountValue(t *testing.T, owner solana.PublicKey, data any) map[string]any {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, bin.NewBinEncoder(&buf).Encode(data))
	return map[string]any{
		"data":       []string{base64.StdEncoding.EncodeToString(buf.Bytes()), "base64"},
		"executable": false,
		"lamports":   2_039_280,
		"owner":      owner.String(),
		"rentEpoch":  0,
	}
}

func TestClientBalanceRetriesUnavailable(t *testing.T) {
	t.Parallel()

	client, srv := newRPC(t, map[string]rpcHandler{
		"getBalance": func(rpcRequest) (any, *jsonrpc.RPCError) {
			return withContext(1_500_000_000), nil
		},
	})
	srv.failures.Store(2)

	balance, err := client.GetBalance(context.Background(), recipient)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_500_000_000), balance)
	assert.Equal(t, 3, srv.count("getBalance"))
}

func TestClientGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	client, srv := newRPC(t, map[string]rpcHandler{
		"getBalance": func(rpcRequest) (any, *jsonrpc.RPCError) {
			return withContext(1), nil
		},
	})
	srv.failures.Store(10)

	_, err := client.GetBalance(context.Background(), recipient)
	require.Error(t, err)
	assert.True(t, errors.Is(err, walleterr.ErrRPC))

	var httpErr *jsonrpc.HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.Code)
	assert.Equal(t, 3, srv.count("getBalance"))
}

func TestClientDoesNotRetryRPCErrors(t *testing.T) {
	t.Parallel()

	client, srv := newRPC(t, map[string]rpcHandler{
		"sendTransaction": func(rpcRequest) (any, *jsonrpc.RPCError) {
			return nil, &jsonrpc.RPCError{Code: -32002, Message: "Transaction simulation failed"}
		},
	})

	tx, err := solana.NewTransaction(
		[]solana.Instruction{solana.NewInstruction(solana.MemoProgramID, solana.AccountMetaSlice{}, []byte("hi"))},
		blockhash, solana.TransactionPayer(recipient))
	require.NoError(t, err)
	tx.Signatures = []solana.Signature{{}}

	_, err = client.SendTransaction(context.Background(), tx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, walleterr.ErrRPC))

	var rpcErr *jsonrpc.RPCError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, -32002, rpcErr.Code)
	assert.Equal(t, 1, srv.count("sendTransaction"))
}

func TestClientLatestBlockhash(t *testing.T) {
	t.Parallel()

	client, _ := newRPC(t, map[string]rpcHandler{
		"getLatestBlockhash": func(rpcRequest) (any, *jsonrpc.RPCError) {
			return withContext(map[string]any{"blockhash": blockhash.String(), "lastValidBlockHeight": 1000}), nil
		},
	})

	got, err := client.GetLatestBlockhash(context.Background())
	require.NoError(t, err)
	assert.Equal(t, blockhash, got)
}

func TestClientAccountExists(t *testing.T) {
	t.Parallel()

	existing := ata(recipient, usdc)
	client, _ := newRPC(t, map[string]rpcHandler{
		"getAccountInfo": func(req rpcRequest) (any, *jsonrpc.RPCError) {
			var key string
			_ = json.Unmarshal(req.Params[0], &key)
			if key != existing.String() {
				return withContext(nil), nil
			}
			return withContext(accountValue(t, solana.TokenProgramID, token.Account{Mint: usdc, Owner: recipient})), nil
		},
	})

	ok, err := client.AccountExists(context.Background(), existing)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.AccountExists(context.Background(), ata(deviceKey, usdc))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClientMintDecimals(t *testing.T) {
	t.Parallel()

	notMint := walletKey("system account")
	client, _ := newRPC(t, map[string]rpcHandler{
		"getAccountInfo": func(req rpcRequest) (any, *jsonrpc.RPCError) {
			var key string
			_ = json.Unmarshal(req.Params[0], &key)
			switch key {
			case usdc.String():
				return withContext(accountValue(t, solana.TokenProgramID, token.Mint{Supply: 1, Decimals: 6, IsInitialized: true})), nil
			case notMint.String():
				return withContext(accountValue(t, solana.SystemProgramID, token.Mint{})), nil
			default:
				return withContext(nil), nil
			}
		},
	})

	decimals, err := client.GetMintDecimals(context.Background(), usdc)
	require.NoError(t, err)
	assert.Equal(t, uint8(6), decimals)

	_, err = client.GetMintDecimals(context.Background(), notMint)
	assert.True(t, errors.Is(err, walleterr.ErrInvalidAddress))

	_, err = client.GetMintDecimals(context.Background(), walletKey("missing"))
	assert.True(t, errors.Is(err, walleterr.ErrInvalidAddress))
}

func TestClientTokenAccounts(t *testing.T) {
	t.Parallel()

	delegate := walletKey("delegate")
	source := ata(deviceKey, usdc)
	client, _ := newRPC(t, map[string]rpcHandler{
		"getTokenAccountsByOwner": func(req rpcRequest) (any, *jsonrpc.RPCError) {
			var filter map[string]string
			_ = json.Unmarshal(req.Params[1], &filter)
			if filter["programId"] != solana.TokenProgramID.String() {
				return nil, &jsonrpc.RPCError{Code: -32602, Message: "unexpected filter"}
			}
			acc := token.Account{
				Mint:            usdc,
				Owner:           deviceKey,
				Amount:          42_000_000,
				Delegate:        &delegate,
				State:           token.Initialized,
				DelegatedAmount: 7,
			}
			return withContext([]any{map[string]any{
				"pubkey":  source.String(),
				"account": accountValue(t, solana.TokenProgramID, acc),
			}}), nil
		},
	})

	accounts, err := client.GetTokenAccounts(context.Background(), deviceKey)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, source, accounts[0].Address)
	assert.Equal(t, usdc, accounts[0].Mint)
	assert.Equal(t, uint64(42_000_000), accounts[0].Amount)
	require.NotNil(t, accounts[0].Delegate)
	assert.Equal(t, delegate, *accounts[0].Delegate)
	assert.Equal(t, uint64(7), accounts[0].DelegatedAmount)
}

func TestClientRentExemption(t *testing.T) {
	t.Parallel()

	client, _ := newRPC(t, map[string]rpcHandler{
		"getMinimumBalanceForRentExemption": func(req rpcRequest) (any, *jsonrpc.RPCError) {
			var size uint64
			_ = json.Unmarshal(req.Params[0], &size)
			return 6960 + size*6960/100, nil
		},
	})

	rent, err := client.GetRentExemption(context.Background(), sol.TokenAccountSize)
	require.NoError(t, err)
	assert.Equal(t, uint64(6960+165*6960/100), rent)
}

func TestClientConfirmTransaction(t *testing.T) {
	t.Parallel()

	sig := solana.Signature{1, 2, 3}
	var polls atomic.Int32

	statuses := func(status any) rpcHandler {
		return func(req rpcRequest) (any, *jsonrpc.RPCError) {
			var sigs []string
			_ = json.Unmarshal(req.Params[0], &sigs)
			if len(sigs) != 1 || sigs[0] != sig.String() {
				return nil, &jsonrpc.RPCError{Code: -32602, Message: fmt.Sprintf("unexpected signatures %v", sigs)}
			}
			switch polls.Add(1) {
			case 1:
				return withContext([]any{nil}), nil
			case 2:
				return withContext([]any{map[string]any{"slot": 10, "confirmations": 0, "err": nil, "confirmationStatus": "processed"}}), nil
			default:
				return withContext([]any{status}), nil
			}
		}
	}

	client, _ := newRPC(t, map[string]rpcHandler{
		"getSignatureStatuses": statuses(map[string]any{"slot": 11, "confirmations": nil, "err": nil, "confirmationStatus": "confirmed"}),
	})
	require.NoError(t, client.ConfirmTransaction(context.Background(), sig))
	assert.Equal(t, int32(3), polls.Load())

	polls.Store(0)
	failing, _ := newRPC(t, map[string]rpcHandler{
		"getSignatureStatuses": statuses(map[string]any{
			"slot": 11, "confirmations": 1, "confirmationStatus": "confirmed",
			"err": map[string]any{"InstructionError": []any{0, "Custom"}},
		}),
	})
	err := failing.ConfirmTransaction(context.Background(), sig)
	assert.True(t, errors.Is(err, walleterr.ErrRPC))
}

func TestClientConfirmTimesOut(t *testing.T) {
	t.Parallel()

	client, _ := newRPC(t, map[string]rpcHandler{
		"getSignatureStatuses": func(rpcRequest) (any, *jsonrpc.RPCError) {
			return withContext([]any{nil}), nil
		},
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := client.ConfirmTransaction(ctx, solana.Signature{9})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewClientRequiresURL(t *testing.T) {
	t.Parallel()

	_, err := sol.NewClient(sol.ClientConfig{})
	assert.Error(t, err)
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	assert.True(t, sol.IsTransient(&jsonrpc.HTTPError{Code: http.StatusTooManyRequests}))
	assert.True(t, sol.IsTransient(&jsonrpc.HTTPError{Code: http.StatusBadGateway}))
	assert.False(t, sol.IsTransient(&jsonrpc.HTTPError{Code: http.StatusForbidden}))
	assert.False(t, sol.IsTransient(&jsonrpc.RPCError{Code: -32002}))
	assert.False(t, sol.IsTransient(walleterr.New(walleterr.KindInvalidAddress, "test", "bad")))
}
