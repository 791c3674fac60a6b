package bitcoin

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/hdpath"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/walleterr"
	"github.com/shopspring/decimal"
)

// Byte costs of the parts of a transaction.
//
// Non-witness input: outpoint 36 + script length 1 + sequence 4 = 41.
// P2PKH input: 41 + signature script 107 = 148.
// P2WPKH witness: item count 1 + signature 1+72 + public key 1+33 = 108.
// P2TR key path witness: item count 1 + signature 1+64 = 66.
const (
	// version 4 + lock time 4
	txFixedSize = 8
	// segwit marker and flag, counted once in the witness section
	witnessHeaderSize = 2

	inputBaseSize      = 41
	p2pkhInputSize     = 148
	p2wpkhWitnessSize  = 108
	p2trWitnessSize    = 66
	outputValueSize    = 8
	witnessScaleFactor = 4

	// DefaultDustLimit is the smallest output the wallet creates.
	DefaultDustLimit btcutil.Amount = 546
)

// SizeEstimator adds up the serialized size of a transaction from the script
// types of its inputs and the scripts of its outputs.
type SizeEstimator struct {
	inputs       int
	legacyInputs int
	outputs      int

	baseSize    int64
	witnessSize int64
}

// AddInput accounts for a signed input spending an output of type t.
func (e *SizeEstimator) AddInput(t hdpath.AddressType) error {
	switch t {
	case hdpath.AddressTypeP2PKH:
		e.baseSize += p2pkhInputSize
		e.legacyInputs++
	case hdpath.AddressTypeP2WPKH:
		e.baseSize += inputBaseSize
		e.witnessSize += p2wpkhWitnessSize
	case hdpath.AddressTypeP2TR:
		e.baseSize += inputBaseSize
		e.witnessSize += p2trWitnessSize
	default:
		return walleterr.New(walleterr.KindInvalidRequest, "bitcoin.size", "cannot spend inputs of type %s", t)
	}
	e.inputs++
	return nil
}

// AddOutput accounts for an output paying to pkScript.
func (e *SizeEstimator) AddOutput(pkScript []byte) {
	e.baseSize += outputValueSize + int64(wire.VarIntSerializeSize(uint64(len(pkScript)))) + int64(len(pkScript))
	e.outputs++
}

func (e *SizeEstimator) hasWitness() bool {
	return e.inputs > e.legacyInputs
}

func (e *SizeEstimator) strippedSize() int64 {
	return txFixedSize +
		int64(wire.VarIntSerializeSize(uint64(e.inputs))) +
		int64(wire.VarIntSerializeSize(uint64(e.outputs))) +
		e.baseSize
}

// witness section: header, one empty stack per legacy input, and the stacks
// of the segwit inputs
func (e *SizeEstimator) witnessSectionSize() int64 {
	if !e.hasWitness() {
		return 0
	}
	return witnessHeaderSize + int64(e.legacyInputs) + e.witnessSize
}

// Size is the estimated serialized size in bytes.
func (e *SizeEstimator) Size() int64 {
	return e.strippedSize() + e.witnessSectionSize()
}

// Weight is stripped size * 4 + witness bytes.
func (e *SizeEstimator) Weight() int64 {
	return e.strippedSize()*witnessScaleFactor + e.witnessSectionSize()
}

// VSize is the weight divided by four, rounded up.
func (e *SizeEstimator) VSize() int64 {
	return VSizeForWeight(e.Weight())
}

// VSizeForWeight rounds a weight up to virtual bytes.
func VSizeForWeight(weight int64) int64 {
	return (weight + witnessScaleFactor - 1) / witnessScaleFactor
}

// FeeForVSize returns ceil(vsize * rate) with rate in sat/vB.
func FeeForVSize(vsize int64, rate float64) btcutil.Amount {
	fee := decimal.NewFromInt(vsize).Mul(decimal.NewFromFloat(rate)).Ceil()
	return btcutil.Amount(fee.IntPart())
}

// TxWeight is the weight of a serialized transaction.
func TxWeight(tx *wire.MsgTx) int64 {
	return int64(tx.SerializeSizeStripped())*(witnessScaleFactor-1) + int64(tx.SerializeSize())
}
