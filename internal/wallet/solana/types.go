package solana

import (
	"context"
	"sync/atomic"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/chain"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/device"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/hdpath"
	"github.com/gagliardetto/solana-go"
)

const (
	// MaxTransactionSize is the largest serialized transaction, signatures
	// included, the network and the device accept.
	MaxTransactionSize = 1232

	// LamportsPerSignature is the base fee per required signature.
	LamportsPerSignature = 5000

	// TokenAccountSize is the data size of an SPL token account.
	TokenAccountSize = 165

	// default compute budget of every instruction that is not a compute
	// budget instruction, capped per transaction
	defaultUnitsPerInstruction = 200_000
	maxUnitsPerTransaction     = 1_400_000
	microLamportsPerLamport    = 1_000_000
)

// ChainClient is the network access the crafter needs. *Client implements it
// against a JSON-RPC endpoint.
type ChainClient interface {
	GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error)
	GetTokenAccounts(ctx context.Context, owner solana.PublicKey) ([]TokenAccount, error)
	GetLatestBlockhash(ctx context.Context) (solana.Hash, error)
	AccountExists(ctx context.Context, account solana.PublicKey) (bool, error)
	GetMintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error)
	GetRentExemption(ctx context.Context, dataSize uint64) (uint64, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	ConfirmTransaction(ctx context.Context, sig solana.Signature) error
}

// Device is the part of device.Session used for signing.
type Device interface {
	DeriveAddress(ctx context.Context, c chain.Chain, p hdpath.DerivationPath, display bool) (*device.Address, error)
	SignTransaction(ctx context.Context, c chain.Chain, p hdpath.DerivationPath, payload []byte) (*device.Signature, error)
	SignMessage(ctx context.Context, c chain.Chain, p hdpath.DerivationPath, msg []byte) (*device.Signature, error)
}

// TokenAccount is a decoded SPL token account.
type TokenAccount struct {
	Address         solana.PublicKey  `json:"address"`
	Mint            solana.PublicKey  `json:"mint"`
	Owner           solana.PublicKey  `json:"owner"`
	Amount          uint64            `json:"amount"`
	Delegate        *solana.PublicKey `json:"delegate,omitempty"`
	DelegatedAmount uint64            `json:"delegatedAmount"`
}

// Kind of transaction a Request produces.
type Kind string

const (
	KindNativeTransfer Kind = "native_transfer"
	KindTokenTransfer  Kind = "token_transfer"
	KindTokenApproval  Kind = "token_approval"
	KindTokenRevoke    Kind = "token_revoke"
	KindCustom         Kind = "custom"
)

// Request describes what to craft. Build it with NativeTransfer,
// TokenTransfer, TokenApproval, TokenRevoke or Custom and set the optional
// fields.
type Request struct {
	Kind Kind
	Path hdpath.DerivationPath
	// Signer is the public key behind Path when the caller already knows it.
	// The device is not asked for it then; Sign still verifies the device
	// signature against it.
	Signer *solana.PublicKey

	// To is the recipient wallet of a transfer or the delegate of an
	// approval.
	To     solana.PublicKey
	Mint   solana.PublicKey
	Amount uint64
	// Decimals of the mint; read from the chain when nil.
	Decimals *uint8
	// CreateATA creates the recipient's associated token account when it
	// does not exist yet.
	CreateATA bool

	Instructions []solana.Instruction

	// PriorityFee is the compute unit price in micro-lamports.
	PriorityFee uint64
	// ComputeUnitLimit sets an explicit compute ceiling.
	ComputeUnitLimit uint32
}

// NativeTransfer sends lamports to to.
func NativeTransfer(p hdpath.DerivationPath, to solana.PublicKey, lamports uint64) *Request {
	return &Request{Kind: KindNativeTransfer, Path: p, To: to, Amount: lamports}
}

// TokenTransfer sends amount base units of mint to the associated token
// account of to.
func TokenTransfer(p hdpath.DerivationPath, mint, to solana.PublicKey, amount uint64) *Request {
	return &Request{Kind: KindTokenTransfer, Path: p, Mint: mint, To: to, Amount: amount}
}

// TokenApproval lets delegate spend amount of the sender's mint tokens.
func TokenApproval(p hdpath.DerivationPath, mint, delegate solana.PublicKey, amount uint64) *Request {
	return &Request{Kind: KindTokenApproval, Path: p, Mint: mint, To: delegate, Amount: amount}
}

// TokenRevoke removes the delegate of the sender's mint token account.
func TokenRevoke(p hdpath.DerivationPath, mint solana.PublicKey) *Request {
	return &Request{Kind: KindTokenRevoke, Path: p, Mint: mint}
}

// Custom sends arbitrary instructions. The device key is the only signer.
func Custom(p hdpath.DerivationPath, instructions ...solana.Instruction) *Request {
	return &Request{Kind: KindCustom, Path: p, Instructions: instructions}
}

// PreparedTransaction is an unsigned transaction with blockhash and fee
// payer set. It can be signed once.
type PreparedTransaction struct {
	Kind   Kind
	Path   hdpath.DerivationPath
	Signer solana.PublicKey
	// Size is the serialized size including signatures.
	Size int
	// Fee is the expected fee in lamports including the priority fee.
	Fee uint64
	// Rent is paid for accounts the transaction creates.
	Rent uint64

	tx       *solana.Transaction
	consumed atomic.Bool
}

// Transaction returns the unsigned transaction.
func (p *PreparedTransaction) Transaction() *solana.Transaction {
	return p.tx
}

// SignedTransaction is ready for broadcast.
type SignedTransaction struct {
	Tx        *solana.Transaction
	Raw       []byte
	Signature solana.Signature
	Signer    solana.PublicKey
}
