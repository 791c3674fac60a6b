package transfer

import (
	"context"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/bitcoin"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/chain"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/evm"
	sol "github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/solana"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
)

// EVMCrafter is implemented by *evm.Crafter.
type EVMCrafter interface {
	Craft(ctx context.Context, req *evm.Request) (*evm.PreparedTransaction, error)
	Sign(ctx context.Context, prepared *evm.PreparedTransaction) (*evm.SignedTransaction, error)
	Broadcast(ctx context.Context, signed *evm.SignedTransaction) (common.Hash, error)
}

// BitcoinCrafter is implemented by *bitcoin.Crafter.
type BitcoinCrafter interface {
	Craft(ctx context.Context, req *bitcoin.Request) (*bitcoin.PSBTResult, error)
	Sign(ctx context.Context, res *bitcoin.PSBTResult) (*bitcoin.SignedTransaction, error)
	Broadcast(ctx context.Context, signed *bitcoin.SignedTransaction) (string, error)
}

// SolanaCrafter is implemented by *solana.Crafter.
type SolanaCrafter interface {
	Craft(ctx context.Context, req *sol.Request) (*sol.PreparedTransaction, error)
	Sign(ctx context.Context, prepared *sol.PreparedTransaction) (*sol.SignedTransaction, error)
	Broadcast(ctx context.Context, signed *sol.SignedTransaction) (solana.Signature, error)
}

// SolanaConfirmer waits for a signature to reach the configured commitment.
type SolanaConfirmer interface {
	ConfirmTransaction(ctx context.Context, sig solana.Signature) error
}

// Recorder counts craft outcomes. *metrics.Service implements it.
type Recorder interface {
	ObserveCraft(c chain.Chain, kind string, outcome string)
}

type noopRecorder struct{}

func (noopRecorder) ObserveCraft(chain.Chain, string, string) {}

// Chains holds the per chain crafters. Chains left nil are reported as not
// configured.
type Chains struct {
	EVM         EVMCrafter
	EVMReceipts evm.ReceiptFetcher

	Bitcoin BitcoinCrafter

	Solana          SolanaCrafter
	SolanaConfirmer SolanaConfirmer
}

// Options control how far a send goes.
type Options struct {
	// DryRun crafts and signs without broadcasting.
	DryRun bool
	// Wait blocks until the transaction is mined or confirmed. Bitcoin
	// sends return right after broadcast.
	Wait bool
}

// Result summarizes a send.
type Result struct {
	Chain chain.Chain `json:"chain"`
	Kind  string      `json:"kind"`
	From  string      `json:"from"`
	TxID  string      `json:"txId"`
	// Raw is the signed transaction, hex for EVM and Bitcoin, base64 for
	// Solana.
	Raw string `json:"raw"`
	// Fee is the maximum (EVM) or expected fee in base units.
	Fee       string `json:"fee"`
	Broadcast bool   `json:"broadcast"`
	Confirmed bool   `json:"confirmed"`

	// Chain specific detail for dumps.
	EVM     *evm.SignedTransaction     `json:"-"`
	Bitcoin *bitcoin.SignedTransaction `json:"-"`
	PSBT    *bitcoin.PSBTResult        `json:"-"`
	Solana  *sol.SignedTransaction     `json:"-"`
}
