package solana

import (
	"context"
	"net/http"
	"time"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/util"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/chain"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/walleterr"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/pkg/errors"
)

const (
	DefaultConfirmTimeout = 90 * time.Second
	DefaultPollInterval   = 2 * time.Second
)

// ClientConfig configures the JSON-RPC client.
type ClientConfig struct {
	URL        string
	Commitment rpc.CommitmentType
	Retry      chain.RetryConfig

	ConfirmTimeout time.Duration
	PollInterval   time.Duration
}

// Client reads Solana state and submits transactions over JSON-RPC. Every
// call is retried with backoff on transient failures.
type Client struct {
	rpc *rpc.Client
	cfg ClientConfig
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("Solana RPC URL is required")
	}
	if cfg.Commitment == "" {
		cfg.Commitment = rpc.CommitmentConfirmed
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = DefaultConfirmTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	return &Client{rpc: rpc.New(cfg.URL), cfg: cfg}, nil
}

// IsTransient retries HTTP 429 and 5xx replies and network errors. JSON-RPC
// error objects and missing accounts are final.
func IsTransient(err error) bool {
	if errors.Is(err, rpc.ErrNotFound) {
		return false
	}
	var httpErr *jsonrpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code == http.StatusTooManyRequests || httpErr.Code >= http.StatusInternalServerError
	}
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		return false
	}
	return chain.DefaultTransient(err)
}

func call[T any](ctx context.Context, c *Client, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	return chain.Retry(ctx, c.cfg.Retry, op, IsTransient, fn)
}

// GetBalance returns the lamports held by account.
func (c *Client) GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	return call(ctx, c, "sol.balance", func(ctx context.Context) (uint64, error) {
		out, err := c.rpc.GetBalance(ctx, account, c.cfg.Commitment)
		if err != nil {
			return 0, err
		}
		return out.Value, nil
	})
}

// GetTokenAccounts returns every SPL token account owned by owner.
func (c *Client) GetTokenAccounts(ctx context.Context, owner solana.PublicKey) ([]TokenAccount, error) {
	out, err := call(ctx, c, "sol.token_accounts", func(ctx context.Context) (*rpc.GetTokenAccountsResult, error) {
		return c.rpc.GetTokenAccountsByOwner(ctx, owner,
			&rpc.GetTokenAccountsConfig{ProgramId: solana.TokenProgramID.ToPointer()},
			&rpc.GetTokenAccountsOpts{Commitment: c.cfg.Commitment, Encoding: solana.EncodingBase64},
		)
	})
	if err != nil {
		return nil, err
	}

	accounts := make([]TokenAccount, 0, len(out.Value))
	for _, acc := range out.Value {
		if acc == nil || acc.Account.Data == nil {
			continue
		}

		var decoded token.Account
		if err := bin.NewBinDecoder(acc.Account.Data.GetBinary()).Decode(&decoded); err != nil {
			return nil, walleterr.Wrap(walleterr.KindRPC, "sol.token_accounts", errors.Wrapf(err, "malformed token account %s", acc.Pubkey))
		}

		accounts = append(accounts, TokenAccount{
			Address:         acc.Pubkey,
			Mint:            decoded.Mint,
			Owner:           decoded.Owner,
			Amount:          decoded.Amount,
			Delegate:        decoded.Delegate,
			DelegatedAmount: decoded.DelegatedAmount,
		})
	}

	return accounts, nil
}

// GetLatestBlockhash returns a blockhash to build transactions with.
func (c *Client) GetLatestBlockhash(ctx context.Context) (solana.Hash, error) {
	return call(ctx, c, "sol.latest_blockhash", func(ctx context.Context) (solana.Hash, error) {
		out, err := c.rpc.GetLatestBlockhash(ctx, c.cfg.Commitment)
		if err != nil {
			return solana.Hash{}, err
		}
		if out == nil || out.Value == nil || out.Value.Blockhash.IsZero() {
			return solana.Hash{}, walleterr.New(walleterr.KindRPC, "sol.latest_blockhash", "node returned no blockhash")
		}
		return out.Value.Blockhash, nil
	})
}

// AccountExists reports whether account has been created.
func (c *Client) AccountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	_, err := c.accountInfo(ctx, "sol.account_exists", account)
	if errors.Is(err, rpc.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetMintDecimals reads the decimals of an SPL token mint.
func (c *Client) GetMintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error) {
	const op = "sol.mint_decimals"

	info, err := c.accountInfo(ctx, op, mint)
	if errors.Is(err, rpc.ErrNotFound) {
		return 0, walleterr.New(walleterr.KindInvalidAddress, op, "mint %s does not exist", mint)
	}
	if err != nil {
		return 0, err
	}
	if !info.Value.Owner.Equals(solana.TokenProgramID) {
		return 0, walleterr.New(walleterr.KindInvalidAddress, op, "%s is not an SPL token mint", mint)
	}

	var decoded token.Mint
	if err := bin.NewBinDecoder(info.GetBinary()).Decode(&decoded); err != nil {
		return 0, walleterr.Wrap(walleterr.KindInvalidAddress, op, errors.Wrapf(err, "malformed mint %s", mint))
	}
	return decoded.Decimals, nil
}

func (c *Client) accountInfo(ctx context.Context, op string, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	out, err := call(ctx, c, op, func(ctx context.Context) (*rpc.GetAccountInfoResult, error) {
		return c.rpc.GetAccountInfoWithOpts(ctx, account, &rpc.GetAccountInfoOpts{
			Encoding:   solana.EncodingBase64,
			Commitment: c.cfg.Commitment,
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetRentExemption returns the minimum balance of an account of dataSize bytes.
func (c *Client) GetRentExemption(ctx context.Context, dataSize uint64) (uint64, error) {
	return call(ctx, c, "sol.rent_exemption", func(ctx context.Context) (uint64, error) {
		return c.rpc.GetMinimumBalanceForRentExemption(ctx, dataSize, c.cfg.Commitment)
	})
}

// SendTransaction submits a signed transaction with preflight checks.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	return call(ctx, c, "sol.send_transaction", func(ctx context.Context) (solana.Signature, error) {
		return c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
			PreflightCommitment: c.cfg.Commitment,
		})
	})
}

// ConfirmTransaction polls the signature status until the transaction
// reaches the configured commitment, fails, or the wait times out.
func (c *Client) ConfirmTransaction(ctx context.Context, sig solana.Signature) error {
	const op = "sol.confirm_transaction"
	log := util.LogFromContext(ctx)

	localCtx, cancel := context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		status, err := call(localCtx, c, op, func(ctx context.Context) (*rpc.SignatureStatusesResult, error) {
			out, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
			if err != nil {
				return nil, err
			}
			if len(out.Value) == 0 {
				return nil, nil
			}
			return out.Value[0], nil
		})
		if err != nil && !errors.Is(err, rpc.ErrNotFound) {
			return err
		}

		if status != nil {
			if status.Err != nil {
				return walleterr.New(walleterr.KindRPC, op, "transaction %s failed: %v", sig, status.Err)
			}
			if reached(status.ConfirmationStatus, c.cfg.Commitment) {
				log.Debug().Str("signature", sig.String()).Uint64("slot", status.Slot).Msg("Transaction confirmed")
				return nil
			}
		}

		select {
		case <-localCtx.Done():
			return errors.Wrap(localCtx.Err(), "context canceled while waiting for confirmation")
		case <-ticker.C:
		}
	}
}

// reached reports whether status satisfies the wanted commitment.
func reached(status rpc.ConfirmationStatusType, want rpc.CommitmentType) bool {
	rank := map[string]int{
		string(rpc.ConfirmationStatusProcessed): 1,
		string(rpc.ConfirmationStatusConfirmed): 2,
		string(rpc.ConfirmationStatusFinalized): 3,
	}
	need, ok := rank[string(want)]
	if !ok {
		need = rank[string(rpc.ConfirmationStatusConfirmed)]
	}
	return rank[string(status)] >= need
}
