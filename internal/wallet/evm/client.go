package evm

import (
	"context"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/util"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/chain"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
)

const (
	receiptPollInterval = 3 * time.Second
	receiptWaitTimeout  = 3 * time.Minute
)

// Client 封装以太坊 RPC 客户端，支持多个 URL 和故障转移。
// Every call is retried with backoff; a transient failure also moves on to
// the next URL.
type Client struct {
	urls    []string
	clients []*ethclient.Client
	mu      sync.Mutex
	current int // 当前使用的客户端索引

	retry chain.RetryConfig
}

// NewClient creates a client for the given URLs. Endpoints are dialed
// lazily, so an unreachable URL does not fail construction.
func NewClient(urls []string, retry chain.RetryConfig) (*Client, error) {
	if len(urls) == 0 {
		return nil, errors.New("at least one RPC URL is required")
	}

	return &Client{
		urls:    urls,
		clients: make([]*ethclient.Client, len(urls)),
		retry:   retry,
	}, nil
}

// Close 关闭所有客户端连接
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, client := range c.clients {
		if client != nil {
			client.Close()
			c.clients[i] = nil
		}
	}
}

// IsTransient classifies JSON-RPC failures: HTTP 429 and 5xx replies and
// network errors are retried, JSON-RPC error objects never are.
func IsTransient(err error) bool {
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= http.StatusInternalServerError
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return false
	}
	return chain.DefaultTransient(err)
}

// client returns the endpoint currently in use, dialing it if needed.
func (c *Client) client(ctx context.Context) (*ethclient.Client, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.current
	if c.clients[idx] == nil {
		client, err := ethclient.DialContext(ctx, c.urls[idx])
		if err != nil {
			c.current = (idx + 1) % len(c.urls)
			return nil, idx, errors.Wrapf(err, "failed to dial %s", c.urls[idx])
		}
		c.clients[idx] = client
	}

	return c.clients[idx], idx, nil
}

// failover moves to the next URL if idx is still the current one.
func (c *Client) failover(ctx context.Context, idx int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.urls) == 1 || c.current != idx {
		return
	}
	c.current = (idx + 1) % len(c.urls)

	util.LogFromContext(ctx).Warn().
		Str("url", c.urls[idx]).
		Str("next_url", c.urls[c.current]).
		Err(err).
		Msg("RPC endpoint failed, switching to next")
}

func call[T any](ctx context.Context, c *Client, op string, fn func(ctx context.Context, client *ethclient.Client) (T, error)) (T, error) {
	return chain.Retry(ctx, c.retry, op, IsTransient, func(ctx context.Context) (T, error) {
		client, idx, err := c.client(ctx)
		if err != nil {
			var zero T
			return zero, err
		}

		res, err := fn(ctx, client)
		if err != nil && IsTransient(err) {
			c.failover(ctx, idx, err)
		}
		return res, err
	})
}

// ChainID 获取链 ID
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return call(ctx, c, "evm.chain_id", func(ctx context.Context, client *ethclient.Client) (*big.Int, error) {
		return client.ChainID(ctx)
	})
}

// BalanceAt returns the balance of an address at the latest known block.
func (c *Client) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	return call(ctx, c, "evm.balance", func(ctx context.Context, client *ethclient.Client) (*big.Int, error) {
		return client.BalanceAt(ctx, account, nil)
	})
}

// PendingNonceAt returns the pending nonce for the given address.
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return call(ctx, c, "evm.pending_nonce", func(ctx context.Context, client *ethclient.Client) (uint64, error) {
		return client.PendingNonceAt(ctx, account)
	})
}

// FeeData reads the base fee of the latest header together with the
// suggested tip and gas price. Chains without EIP-1559 leave BaseFee nil.
func (c *Client) FeeData(ctx context.Context) (*FeeData, error) {
	return call(ctx, c, "evm.fee_data", func(ctx context.Context, client *ethclient.Client) (*FeeData, error) {
		header, err := client.HeaderByNumber(ctx, nil)
		if err != nil {
			return nil, errors.Wrap(err, "failed to get latest header")
		}

		gasPrice, err := client.SuggestGasPrice(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "failed to suggest gas price")
		}

		fees := &FeeData{GasPrice: gasPrice}
		if header.BaseFee != nil {
			fees.BaseFee = header.BaseFee
			tip, err := client.SuggestGasTipCap(ctx)
			if err != nil {
				return nil, errors.Wrap(err, "failed to suggest gas tip cap")
			}
			fees.GasTipCap = tip
		}

		return fees, nil
	})
}

// EstimateGas 估算 Gas 用量
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return call(ctx, c, "evm.estimate_gas", func(ctx context.Context, client *ethclient.Client) (uint64, error) {
		return client.EstimateGas(ctx, msg)
	})
}

// CallContract runs a read-only call against the latest block.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	return call(ctx, c, "evm.call", func(ctx context.Context, client *ethclient.Client) ([]byte, error) {
		return client.CallContract(ctx, msg, nil)
	})
}

// TokenBalance returns the ERC20 token balance for the given account.
func (c *Client) TokenBalance(ctx context.Context, token, account common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("balanceOf", account)
	if err != nil {
		return nil, errors.Wrap(err, "failed to pack balanceOf")
	}

	resp, err := c.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data})
	if err != nil {
		return nil, err
	}

	return new(big.Int).SetBytes(resp), nil
}

// TokenDecimals reads decimals() of an ERC20 token.
func (c *Client) TokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	data, err := erc20ABI.Pack("decimals")
	if err != nil {
		return 0, errors.Wrap(err, "failed to pack decimals")
	}

	resp, err := c.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data})
	if err != nil {
		return 0, err
	}

	out, err := erc20ABI.Unpack("decimals", resp)
	if err != nil {
		return 0, errors.Wrapf(err, "token %s returned malformed decimals", token.Hex())
	}
	if len(out) != 1 {
		return 0, errors.Errorf("token %s returned %d values for decimals", token.Hex(), len(out))
	}
	decimals, ok := out[0].(uint8)
	if !ok {
		return 0, errors.Errorf("token %s returned malformed decimals", token.Hex())
	}

	return decimals, nil
}

// SendTransaction 发送已签名的交易
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	_, err := call(ctx, c, "evm.send_transaction", func(ctx context.Context, client *ethclient.Client) (struct{}, error) {
		return struct{}{}, client.SendTransaction(ctx, tx)
	})
	return err
}

// TransactionReceipt returns ethereum.NotFound while the transaction is
// pending.
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return call(ctx, c, "evm.receipt", func(ctx context.Context, client *ethclient.Client) (*types.Receipt, error) {
		return client.TransactionReceipt(ctx, hash)
	})
}

// WaitForReceipt polls until the transaction is mined or the wait times out.
func WaitForReceipt(ctx context.Context, client ReceiptFetcher, hash common.Hash) (*types.Receipt, error) {
	localCtx, cancel := context.WithTimeout(ctx, receiptWaitTimeout)
	defer cancel()

	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := client.TransactionReceipt(localCtx, hash)
		if err == nil {
			return receipt, nil
		}

		if !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}

		select {
		case <-localCtx.Done():
			return nil, errors.Wrap(localCtx.Err(), "context canceled while waiting for receipt")
		case <-ticker.C:
			continue
		}
	}
}
