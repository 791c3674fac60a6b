package approve

import (
	"context"
	"math/big"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/util/command"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/chain"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/evm"
	"github.com/spf13/cobra"
)

const tokenFlag = "token"

func newEVM() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evm",
		Short: "Sets an ERC-20 allowance",
		Long: `Allows --spender to transfer up to --amount tokens of --token from the
signing account. --revoke sets the allowance to zero.`,
		Args: cobra.NoArgs,
		RunE: runEVM,
	}

	cmd.Flags().String(tokenFlag, "", "ERC-20 contract address.")
	cmd.Flags().String(spenderFlag, "", "Spender address.")
	cmd.Flags().String(amountFlag, "", "Allowance in whole tokens.")
	cmd.Flags().Int32(decimalsFlag, -1, "Token decimals, read from the contract when negative.")
	cmd.Flags().Bool(revokeFlag, false, "Set the allowance to zero.")
	command.AddEVMFeeFlags(cmd)
	command.AddSendFlags(cmd)
	_ = cmd.MarkFlagRequired(tokenFlag)
	_ = cmd.MarkFlagRequired(spenderFlag)
	cmd.MarkFlagsOneRequired(amountFlag, revokeFlag)
	cmd.MarkFlagsMutuallyExclusive(amountFlag, revokeFlag)

	return cmd
}

func runEVM(cmd *cobra.Command, _ []string) error {
	tokenStr, _ := cmd.Flags().GetString(tokenFlag)
	spenderStr, _ := cmd.Flags().GetString(spenderFlag)
	amountStr, _ := cmd.Flags().GetString(amountFlag)
	decimals, _ := cmd.Flags().GetInt32(decimalsFlag)
	revoke, _ := cmd.Flags().GetBool(revokeFlag)
	pathStr, _ := cmd.Flags().GetString(command.PathFlag)

	token, err := command.ParseEVMAddress("token", tokenStr)
	if err != nil {
		return err
	}
	spender, err := command.ParseEVMAddress("spender", spenderStr)
	if err != nil {
		return err
	}
	p, err := command.ParsePath(chain.EVM, pathStr)
	if err != nil {
		return err
	}

	cfg, err := command.LoadConfig()
	if err != nil {
		return err
	}

	return command.WithDevice(cmd.Context(), cfg, func(ctx context.Context, w *wallet.Wallet) error {
		units := new(big.Int)
		if !revoke {
			units, err = command.TokenUnits(ctx, w, token, amountStr, decimals)
			if err != nil {
				return err
			}
		}

		req := evm.TokenApproval(p, token, spender, units)
		if err := command.ApplyEVMFeeFlags(cmd, req); err != nil {
			return err
		}

		res, err := w.Transfer.SendEVM(ctx, req, command.SendOptions(cmd))
		if res != nil {
			if printErr := command.PrintResult(cmd, res); printErr != nil {
				return printErr
			}
		}
		return err
	})
}
