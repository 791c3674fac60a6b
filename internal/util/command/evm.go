package command

import (
	"context"
	"math/big"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/amount"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/evm"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/walleterr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
)

const (
	tierFlag        = "tier"
	maxFeeFlag      = "max-fee-gwei"
	priorityFeeFlag = "priority-fee-gwei"
	gasLimitFlag    = "gas-limit"
	legacyFlag      = "legacy"
)

// AddEVMFeeFlags registers the fee and gas flags of EVM transactions.
func AddEVMFeeFlags(cmd *cobra.Command) {
	cmd.Flags().String(tierFlag, string(evm.TierStandard), "Priority fee tier: slow, standard, fast or instant.")
	cmd.Flags().String(maxFeeFlag, "", "Max fee per gas in gwei, overrides the computed fee.")
	cmd.Flags().String(priorityFeeFlag, "", "Max priority fee per gas in gwei, overrides the tier.")
	cmd.Flags().Uint64(gasLimitFlag, 0, "Gas limit, estimated when zero.")
	cmd.Flags().Bool(legacyFlag, false, "Send a legacy (type 0) transaction.")
}

// ApplyEVMFeeFlags copies the flags registered by AddEVMFeeFlags to req.
func ApplyEVMFeeFlags(cmd *cobra.Command, req *evm.Request) error {
	tier, _ := cmd.Flags().GetString(tierFlag)
	maxFee, _ := cmd.Flags().GetString(maxFeeFlag)
	priorityFee, _ := cmd.Flags().GetString(priorityFeeFlag)
	gasLimit, _ := cmd.Flags().GetUint64(gasLimitFlag)
	legacy, _ := cmd.Flags().GetBool(legacyFlag)

	req.Tier = evm.Tier(tier)
	req.GasLimit = gasLimit
	req.Legacy = legacy

	if maxFee != "" {
		wei, err := amount.ParseUnits(maxFee, amount.GweiDecimals)
		if err != nil {
			return err
		}
		if legacy {
			req.GasPrice = wei
		} else {
			req.MaxFeePerGas = wei
		}
	}
	if priorityFee != "" {
		wei, err := amount.ParseUnits(priorityFee, amount.GweiDecimals)
		if err != nil {
			return err
		}
		req.MaxPriorityFeePerGas = wei
	}

	return nil
}

// ParseEVMAddress rejects anything but a 20 byte hex address.
func ParseEVMAddress(name, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, walleterr.New(walleterr.KindInvalidAddress, "cli", "invalid %s address %q", name, s)
	}
	return common.HexToAddress(s), nil
}

// TokenUnits converts a whole token amount using decimals, reading them
// from the contract when negative.
func TokenUnits(ctx context.Context, w *wallet.Wallet, token common.Address, value string, decimals int32) (*big.Int, error) {
	if decimals < 0 {
		if w.EVMClient == nil {
			return nil, walleterr.New(walleterr.KindInvalidRequest, "cli", "EVM_RPC_URLS is not configured")
		}
		d, err := w.EVMClient.TokenDecimals(ctx, token)
		if err != nil {
			return nil, err
		}
		decimals = int32(d)
	}
	return amount.ParseUnits(value, decimals)
}
