package send

import (
	"context"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/util/command"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/amount"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/chain"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/evm"
	"github.com/spf13/cobra"
)

const (
	tokenFlag    = "token"
	decimalsFlag = "decimals"
)

func newEVM() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evm",
		Short: "Sends ether or an ERC-20 token",
		Long: `Sends --amount ether to --to, or --amount tokens of the ERC-20 contract
--token. Token decimals are read from the contract unless --decimals is set.`,
		Args: cobra.NoArgs,
		RunE: runEVM,
	}

	cmd.Flags().String(toFlag, "", "Recipient address.")
	cmd.Flags().String(amountFlag, "", "Amount in ether or whole tokens, e.g. 0.5.")
	cmd.Flags().String(tokenFlag, "", "ERC-20 contract address.")
	cmd.Flags().Int32(decimalsFlag, -1, "Token decimals, read from the contract when negative.")
	command.AddEVMFeeFlags(cmd)
	command.AddSendFlags(cmd)
	_ = cmd.MarkFlagRequired(toFlag)
	_ = cmd.MarkFlagRequired(amountFlag)

	return cmd
}

func runEVM(cmd *cobra.Command, _ []string) error {
	toStr, _ := cmd.Flags().GetString(toFlag)
	amountStr, _ := cmd.Flags().GetString(amountFlag)
	tokenStr, _ := cmd.Flags().GetString(tokenFlag)
	decimals, _ := cmd.Flags().GetInt32(decimalsFlag)
	pathStr, _ := cmd.Flags().GetString(command.PathFlag)

	to, err := command.ParseEVMAddress("recipient", toStr)
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
		var req *evm.Request
		if tokenStr == "" {
			value, err := amount.ParseUnits(amountStr, amount.EtherDecimals)
			if err != nil {
				return err
			}
			req = evm.NativeTransfer(p, to, value)
		} else {
			token, err := command.ParseEVMAddress("token", tokenStr)
			if err != nil {
				return err
			}
			units, err := command.TokenUnits(ctx, w, token, amountStr, decimals)
			if err != nil {
				return err
			}
			req = evm.TokenTransfer(p, token, to, units)
		}

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
