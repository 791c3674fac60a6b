package evm

import (
	"context"
	"math/big"
	"sync/atomic"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/chain"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/device"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/hdpath"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
)

// ChainClient is the read and broadcast access the crafter needs. *Client
// implements it against JSON-RPC endpoints.
type ChainClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
	// PendingNonceAt returns the transaction count including the pending
	// block, which is the nonce of the next transaction.
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	FeeData(ctx context.Context) (*FeeData, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	TokenBalance(ctx context.Context, token, account common.Address) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	ReceiptFetcher
}

// ReceiptFetcher looks up mined transactions.
type ReceiptFetcher interface {
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Device is the part of device.Session used for signing.
type Device interface {
	DeriveAddress(ctx context.Context, c chain.Chain, p hdpath.DerivationPath, display bool) (*device.Address, error)
	SignTransaction(ctx context.Context, c chain.Chain, p hdpath.DerivationPath, payload []byte) (*device.Signature, error)
	SignMessage(ctx context.Context, c chain.Chain, p hdpath.DerivationPath, msg []byte) (*device.Signature, error)
}

// FeeData is a snapshot of the network fee market. BaseFee is nil on chains
// without EIP-1559.
type FeeData struct {
	BaseFee   *big.Int
	GasTipCap *big.Int
	GasPrice  *big.Int
}

// Tier selects a fixed priority fee.
type Tier string

const (
	TierSlow     Tier = "slow"
	TierStandard Tier = "standard"
	TierFast     Tier = "fast"
	TierInstant  Tier = "instant"
)

var priorityFees = map[Tier]*big.Int{
	TierSlow:     big.NewInt(1 * params.GWei),
	TierStandard: big.NewInt(2 * params.GWei),
	TierFast:     big.NewInt(3 * params.GWei),
	TierInstant:  big.NewInt(5 * params.GWei),
}

// PriorityFee returns the tip of tier t. Unknown tiers use standard.
func (t Tier) PriorityFee() *big.Int {
	if fee, ok := priorityFees[t]; ok {
		return new(big.Int).Set(fee)
	}
	return new(big.Int).Set(priorityFees[TierStandard])
}

// Kind of transaction a Request produces.
type Kind string

const (
	KindNativeTransfer Kind = "native_transfer"
	KindTokenTransfer  Kind = "token_transfer"
	KindTokenApproval  Kind = "token_approval"
	KindContractCall   Kind = "contract_call"
)

// Request describes what to craft. Build it with NativeTransfer,
// TokenTransfer, TokenApproval or ContractCall and set the optional fields.
type Request struct {
	Kind Kind
	Path hdpath.DerivationPath
	// From is resolved from the device when nil.
	From *common.Address

	// To is the recipient of a native or token transfer, the spender of an
	// approval or the called contract.
	To     common.Address
	Token  common.Address
	Amount *big.Int
	// Value is the native value sent with a contract call.
	Value *big.Int
	Data  []byte

	Tier                 Tier
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	GasPrice             *big.Int
	GasLimit             uint64
	// Legacy forces a type 0 transaction even where EIP-1559 is available.
	Legacy bool
}

// NativeTransfer sends value wei to to.
func NativeTransfer(p hdpath.DerivationPath, to common.Address, value *big.Int) *Request {
	return &Request{Kind: KindNativeTransfer, Path: p, To: to, Amount: value}
}

// TokenTransfer sends amount token units to to.
func TokenTransfer(p hdpath.DerivationPath, token, to common.Address, amount *big.Int) *Request {
	return &Request{Kind: KindTokenTransfer, Path: p, Token: token, To: to, Amount: amount}
}

// TokenApproval sets the allowance of spender. A zero amount revokes it.
func TokenApproval(p hdpath.DerivationPath, token, spender common.Address, amount *big.Int) *Request {
	return &Request{Kind: KindTokenApproval, Path: p, Token: token, To: spender, Amount: amount}
}

// ContractCall calls contract with calldata, see EncodeCall.
func ContractCall(p hdpath.DerivationPath, contract common.Address, value *big.Int, data []byte) *Request {
	return &Request{Kind: KindContractCall, Path: p, To: contract, Value: value, Data: data}
}

// PreparedTransaction is an unsigned transaction with all fields resolved.
// It can be signed once.
type PreparedTransaction struct {
	Kind    Kind
	Path    hdpath.DerivationPath
	From    common.Address
	ChainID *big.Int

	tx       *types.Transaction
	consumed atomic.Bool
}

// Transaction returns the unsigned transaction.
func (p *PreparedTransaction) Transaction() *types.Transaction {
	return p.tx
}

func (p *PreparedTransaction) Nonce() uint64 { return p.tx.Nonce() }
func (p *PreparedTransaction) To() common.Address { return *p.tx.To() }
func (p *PreparedTransaction) Value() *big.Int { return p.tx.Value() }
func (p *PreparedTransaction) Data() []byte { return p.tx.Data() }
func (p *PreparedTransaction) GasLimit() uint64 { return p.tx.Gas() }
func (p *PreparedTransaction) Type() uint8 { return p.tx.Type() }
func (p *PreparedTransaction) MaxFeePerGas() *big.Int { return p.tx.GasFeeCap() }

// MaxPriorityFeePerGas equals the gas price for legacy transactions.
func (p *PreparedTransaction) MaxPriorityFeePerGas() *big.Int { return p.tx.GasTipCap() }

// MaxFee is the most the transaction can pay for gas.
func (p *PreparedTransaction) MaxFee() *big.Int {
	return new(big.Int).Mul(new(big.Int).SetUint64(p.tx.Gas()), p.tx.GasFeeCap())
}

// SignedTransaction is ready for broadcast.
type SignedTransaction struct {
	Tx   *types.Transaction
	Raw  []byte
	Hash common.Hash
	From common.Address
}
