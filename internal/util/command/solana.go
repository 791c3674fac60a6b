package command

import (
	"context"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/amount"
	sol "github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/solana"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/walleterr"
	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"
)

const (
	priorityFeeMicroLamportsFlag = "priority-fee"
	computeLimitFlag             = "compute-limit"
)

// AddSolanaFeeFlags registers the compute budget flags.
func AddSolanaFeeFlags(cmd *cobra.Command) {
	cmd.Flags().Uint64(priorityFeeMicroLamportsFlag, 0, "Compute unit price in micro-lamports.")
	cmd.Flags().Uint32(computeLimitFlag, 0, "Compute unit limit.")
}

// ApplySolanaFeeFlags copies the compute budget flags to req.
func ApplySolanaFeeFlags(cmd *cobra.Command, req *sol.Request) {
	req.PriorityFee, _ = cmd.Flags().GetUint64(priorityFeeMicroLamportsFlag)
	req.ComputeUnitLimit, _ = cmd.Flags().GetUint32(computeLimitFlag)
}

// ParseSolanaKey parses a base58 public key. Wallet keys must be on the
// ed25519 curve; mints and delegates may be program derived.
func ParseSolanaKey(name, s string, onCurve bool) (solana.PublicKey, error) {
	if onCurve {
		return sol.ParseAddress(s)
	}
	key, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return solana.PublicKey{}, walleterr.New(walleterr.KindInvalidAddress, "cli", "invalid %s %q", name, s)
	}
	return key, nil
}

// MintUnits converts a whole token amount using decimals, reading them from
// the mint when negative. The decimals used are returned as well.
func MintUnits(ctx context.Context, w *wallet.Wallet, mint solana.PublicKey, value string, decimals int32) (uint64, uint8, error) {
	if decimals < 0 {
		if w.SOLClient == nil {
			return 0, 0, walleterr.New(walleterr.KindInvalidRequest, "cli", "SOLANA_RPC_URL is not configured")
		}
		d, err := w.SOLClient.GetMintDecimals(ctx, mint)
		if err != nil {
			return 0, 0, err
		}
		decimals = int32(d)
	}
	units, err := amount.ParseUint64(value, decimals)
	if err != nil {
		return 0, 0, err
	}
	return units, uint8(decimals), nil //nolint:gosec // decimals come from a u8 or a flag
}
