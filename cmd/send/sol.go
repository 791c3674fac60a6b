package send

import (
	"context"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/util/command"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/amount"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/chain"
	sol "github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/solana"
	"github.com/spf13/cobra"
)

const (
	mintFlag      = "mint"
	createATAFlag = "create-ata"
)

func newSolana() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sol",
		Aliases: []string{"solana"},
		Short:   "Sends SOL or an SPL token",
		Long: `Sends --amount SOL to --to, or --amount tokens of --mint to the associated
token account of --to. With --create-ata a missing recipient account is created
and paid for by the sender.`,
		Args: cobra.NoArgs,
		RunE: runSolana,
	}

	cmd.Flags().String(toFlag, "", "Recipient wallet address.")
	cmd.Flags().String(amountFlag, "", "Amount in SOL or whole tokens.")
	cmd.Flags().String(mintFlag, "", "SPL token mint.")
	cmd.Flags().Int32(decimalsFlag, -1, "Mint decimals, read from the chain when negative.")
	cmd.Flags().Bool(createATAFlag, false, "Create the recipient's associated token account if missing.")
	command.AddSolanaFeeFlags(cmd)
	command.AddSendFlags(cmd)
	_ = cmd.MarkFlagRequired(toFlag)
	_ = cmd.MarkFlagRequired(amountFlag)

	return cmd
}

func runSolana(cmd *cobra.Command, _ []string) error {
	toStr, _ := cmd.Flags().GetString(toFlag)
	amountStr, _ := cmd.Flags().GetString(amountFlag)
	mintStr, _ := cmd.Flags().GetString(mintFlag)
	decimals, _ := cmd.Flags().GetInt32(decimalsFlag)
	createATA, _ := cmd.Flags().GetBool(createATAFlag)
	pathStr, _ := cmd.Flags().GetString(command.PathFlag)

	to, err := command.ParseSolanaKey("recipient", toStr, true)
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
		if mintStr == "" {
			lamports, err := amount.ParseUint64(amountStr, amount.SolDecimals)
			if err != nil {
				return err
			}
			req = sol.NativeTransfer(p, to, lamports)
		} else {
			mint, err := command.ParseSolanaKey("mint", mintStr, false)
			if err != nil {
				return err
			}
			units, d, err := command.MintUnits(ctx, w, mint, amountStr, decimals)
			if err != nil {
				return err
			}
			req = sol.TokenTransfer(p, mint, to, units)
			req.Decimals = &d
			req.CreateATA = createATA
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
