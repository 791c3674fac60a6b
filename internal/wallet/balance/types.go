package balance

import (
	"context"
	"math/big"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/bitcoin"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/chain"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/evm"
	sol "github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/solana"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
)

// AssetNative marks balances of the chain's own coin.
const AssetNative = "native"

// Balance of one asset held by one address.
type Balance struct {
	Chain   chain.Chain `json:"chain"`
	Address string      `json:"address"`
	Asset   string      `json:"asset"`
	// Amount is Raw scaled by Decimals, e.g. "1.5".
	Amount   string `json:"amount"`
	Raw      string `json:"raw"`
	Decimals int32  `json:"decimals"`

	// Bitcoin only: value of UTXOs that are not yet spendable.
	Pending string `json:"pending,omitempty"`
	UTXOs   int    `json:"utxos,omitempty"`

	// Solana only: number of token accounts summed for the mint.
	Accounts int `json:"accounts,omitempty"`
}

type EVMClient interface {
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, token, account common.Address) (*big.Int, error)
	TokenDecimals(ctx context.Context, token common.Address) (uint8, error)
}

type BitcoinClient interface {
	UTXOs(ctx context.Context, address string) ([]bitcoin.UTXO, error)
}

type SolanaClient interface {
	GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error)
	GetTokenAccounts(ctx context.Context, owner solana.PublicKey) ([]sol.TokenAccount, error)
	GetMintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error)
}

// Clients holds the RPC clients of the configured chains. Nil fields are
// chains without an endpoint.
type Clients struct {
	EVM     EVMClient
	Bitcoin BitcoinClient
	Solana  SolanaClient
}

var (
	_ EVMClient     = (*evm.Client)(nil)
	_ BitcoinClient = (*bitcoin.Client)(nil)
	_ SolanaClient  = (*sol.Client)(nil)
)
