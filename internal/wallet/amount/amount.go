// Package amount converts human readable amounts into chain base units
// (wei, satoshis, lamports, token units) without floating point.
package amount

import (
	"math/big"
	"strings"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/walleterr"
	"github.com/shopspring/decimal"
)

// Decimals of the native units.
const (
	EtherDecimals   = 18
	BitcoinDecimals = 8
	SolDecimals     = 9
	GweiDecimals    = 9
)

// maxDecimals bounds the exponent accepted for tokens.
const maxDecimals = 36

// ParseUnits converts s, e.g. "1.5", into base units with the given number
// of decimals. More fractional digits than decimals, negative or zero amounts
// are rejected.
func ParseUnits(s string, decimals int32) (*big.Int, error) {
	const op = "amount.parse"

	if decimals < 0 || decimals > maxDecimals {
		return nil, walleterr.New(walleterr.KindInvalidRequest, op, "unsupported decimals %d", decimals)
	}

	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindInvalidRequest, op, err)
	}
	if !d.IsPositive() {
		return nil, walleterr.New(walleterr.KindInvalidRequest, op, "amount must be positive, got %s", s)
	}

	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, walleterr.New(walleterr.KindInvalidRequest, op, "%s has more than %d decimals", s, decimals)
	}

	return scaled.BigInt(), nil
}

// ParseUint64 is ParseUnits for chains whose amounts fit in 64 bits.
func ParseUint64(s string, decimals int32) (uint64, error) {
	v, err := ParseUnits(s, decimals)
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, walleterr.New(walleterr.KindInvalidRequest, "amount.parse", "%s overflows 64 bits", s)
	}
	return v.Uint64(), nil
}

// FormatUnits renders base units as a decimal string, e.g. 1500000000000000000
// with 18 decimals as "1.5".
func FormatUnits(v *big.Int, decimals int32) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -decimals).String()
}
