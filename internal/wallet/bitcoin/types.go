package bitcoin

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/chain"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/device"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/hdpath"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/walleterr"
)

// ChainClient is the read and broadcast access the crafter needs. *Client
// implements it against an Esplora REST API.
type ChainClient interface {
	// UTXOs returns the unspent outputs of address. Results are never cached.
	UTXOs(ctx context.Context, address string) ([]UTXO, error)
	FeeEstimates(ctx context.Context) (*FeeEstimates, error)
	RawTransaction(ctx context.Context, txid string) (*wire.MsgTx, error)
	Broadcast(ctx context.Context, rawHex string) (string, error)
}

// Device is the part of device.Session used for signing.
type Device interface {
	DeriveAddress(ctx context.Context, c chain.Chain, p hdpath.DerivationPath, display bool) (*device.Address, error)
	SignTransaction(ctx context.Context, c chain.Chain, p hdpath.DerivationPath, payload []byte) (*device.Signature, error)
	SignMessage(ctx context.Context, c chain.Chain, p hdpath.DerivationPath, msg []byte) (*device.Signature, error)
}

// UTXO is an unspent output. Path, AddressType, PubKey and PkScript are set
// by the crafter once it knows which source address owns the output.
type UTXO struct {
	TxID          string         `json:"txid"`
	Vout          uint32         `json:"vout"`
	Value         btcutil.Amount `json:"value"`
	Confirmations int64          `json:"confirmations"`
	Spendable     bool           `json:"spendable"`

	Path        hdpath.DerivationPath `json:"path"`
	AddressType hdpath.AddressType    `json:"-"`
	PkScript    []byte                `json:"-"`
	PubKey      *btcec.PublicKey      `json:"-"`
}

// FeeEstimates are fee rates in sat/vB.
type FeeEstimates struct {
	Fast     float64 `json:"fast"`
	Standard float64 `json:"standard"`
	Slow     float64 `json:"slow"`
}

// Tier picks one of the fee estimates.
type Tier string

const (
	TierSlow     Tier = "slow"
	TierStandard Tier = "standard"
	TierFast     Tier = "fast"
)

// Rate returns the estimate of tier t. Unknown tiers use standard.
func (f *FeeEstimates) Rate(t Tier) float64 {
	switch t {
	case TierFast:
		return f.Fast
	case TierSlow:
		return f.Slow
	default:
		return f.Standard
	}
}

// Output pays Amount to Address.
type Output struct {
	Address string         `json:"address"`
	Amount  btcutil.Amount `json:"amount"`
}

// Request describes a payment. Every source path contributes the UTXOs of its
// address; change goes to ChangeAddress or to the first source address.
type Request struct {
	Paths   []hdpath.DerivationPath
	Outputs []Output

	// FeeRate in sat/vB. When zero the rate of Tier is fetched.
	FeeRate float64
	Tier    Tier

	ChangeAddress string
	// Strategy overrides the configured coin selection.
	Strategy Strategy
	// Force skips the fee to output ratio check.
	Force bool
}

// PSBTResult is a funded, unsigned transaction. It can be signed once.
type PSBTResult struct {
	Packet  *psbt.Packet `json:"-"`
	Inputs  []UTXO       `json:"inputs"`
	Outputs []Output     `json:"outputs"`
	Change  *Output      `json:"change,omitempty"`

	Fee     btcutil.Amount `json:"fee"`
	FeeRate float64        `json:"feeRate"`
	// Size and VSize are estimates for the signed transaction.
	Size     int64  `json:"size"`
	VSize    int64  `json:"vsize"`
	Strategy string `json:"strategy"`

	consumed atomic.Bool
}

// PSBTBase64 returns the packet in its base64 interchange encoding.
func (r *PSBTResult) PSBTBase64() (string, error) {
	return r.Packet.B64Encode()
}

// SignedTransaction is a finalized transaction ready for broadcast.
type SignedTransaction struct {
	Tx   *wire.MsgTx `json:"-"`
	Hex  string      `json:"hex"`
	TxID string      `json:"txid"`

	Fee     btcutil.Amount `json:"fee"`
	Size    int64          `json:"size"`
	VSize   int64          `json:"vsize"`
	FeeRate float64        `json:"feeRate"`
}

// ParseNetwork maps a network name to its parameters.
func ParseNetwork(name string) (*chaincfg.Params, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "mainnet", "main":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3", "test":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, walleterr.New(walleterr.KindInvalidRequest, "bitcoin.parse_network", "unknown network %q", name)
	}
}
