package approve

import (
	"context"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/util/command"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/chain"
	sol "github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/solana"
	"github.com/spf13/cobra"
)

const mintFlag = "mint"

func newSolana() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sol",
		Aliases: []string{"solana"},
		Short:   "Delegates or revokes SPL token spending",
		Long: `Lets --spender transfer up to --amount tokens of --mint out of the signing
account's associated token account. --revoke removes the delegate.`,
		Args: cobra.NoArgs,
		RunE: runSolana,
	}

	cmd.Flags().String(mintFlag, "", "SPL token mint.")
	cmd.Flags().String(spenderFlag, "", "Delegate address.")
	cmd.Flags().String(amountFlag, "", "Delegated amount in whole tokens.")
	cmd.Flags().Int32(decimalsFlag, -1, "Mint decimals, read from the chain when negative.")
	cmd.Flags().Bool(revokeFlag, false, "Remove the current delegate.")
	command.AddSolanaFeeFlags(cmd)
	command.AddSendFlags(cmd)
	_ = cmd.MarkFlagRequired(mintFlag)
	cmd.MarkFlagsOneRequired(amountFlag, revokeFlag)
	cmd.MarkFlagsMutuallyExclusive(amountFlag, revokeFlag)
	cmd.MarkFlagsMutuallyExclusive(spenderFlag, revokeFlag)

	return cmd
}

func runSolana(cmd *cobra.Command, _ []string) error {
	mintStr, _ := cmd.Flags().GetString(mintFlag)
	spenderStr, _ := cmd.Flags().GetString(spenderFlag)
	amountStr, _ := cmd.Flags().GetString(amountFlag)
	decimals, _ := cmd.Flags().GetInt32(decimalsFlag)
	revoke, _ := cmd.Flags().GetBool(revokeFlag)
	pathStr, _ := cmd.Flags().GetString(command.PathFlag)

	mint, err := command.ParseSolanaKey("mint", mintStr, false)
	if err != nil {
		return err
	}
	p, err := command.ParsePath(chain.Solana, pathStr)
	if err != nil {
		return err
	}

	cfg, err := command.LoadConfig()
	if err != nil {
		return err
	}

	return command.WithDevice(cmd.Context(), cfg, func(ctx context.Context, w *wallet.Wallet) error {
		var req *sol.Request
		if revoke {
			req = sol.TokenRevoke(p, mint)
		} else {
			delegate, err := command.ParseSolanaKey("spender", spenderStr, false)
			if err != nil {
				return err
			}
			units, d, err := command.MintUnits(ctx, w, mint, amountStr, decimals)
			if err != nil {
				return err
			}
			req = sol.TokenApproval(p, mint, delegate, units)
			req.Decimals = &d
		}
		command.ApplySolanaFeeFlags(cmd, req)

		res, err := w.Transfer.SendSolana(ctx, req, command.SendOptions(cmd))
		if res != nil {
			if printErr := command.PrintResult(cmd, res); printErr != nil {
				return printErr
			}
		}
		return err
	})
}
