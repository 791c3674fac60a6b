package command

import (
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/transfer"
	"github.com/spf13/cobra"
)

const (
	DryRunFlag = "dry-run"
	WaitFlag   = "wait"
	DumpFlag   = "dump"
	PathFlag   = "path"
)

// AddSendFlags registers the flags shared by every command that signs and
// broadcasts a transaction.
func AddSendFlags(cmd *cobra.Command) {
	cmd.Flags().String(PathFlag, "", "Derivation path of the signing account, defaults to the first account.")
	cmd.Flags().Bool(DryRunFlag, false, "Craft and sign but do not broadcast.")
	cmd.Flags().Bool(WaitFlag, false, "Wait until the transaction is mined or confirmed.")
	cmd.Flags().Bool(DumpFlag, false, "Dump the crafted transaction to stderr.")
}

// SendOptions reads the flags registered by AddSendFlags.
func SendOptions(cmd *cobra.Command) transfer.Options {
	dryRun, _ := cmd.Flags().GetBool(DryRunFlag)
	wait, _ := cmd.Flags().GetBool(WaitFlag)
	return transfer.Options{DryRun: dryRun, Wait: wait}
}

// PrintResult prints res as JSON and, with --dump, the chain specific
// detail.
func PrintResult(cmd *cobra.Command, res *transfer.Result) error {
	if dump, _ := cmd.Flags().GetBool(DumpFlag); dump && res != nil {
		switch {
		case res.EVM != nil:
			Dump(cmd.ErrOrStderr(), res.EVM.Tx)
		case res.Bitcoin != nil:
			Dump(cmd.ErrOrStderr(), res.PSBT, res.Bitcoin.Tx)
		case res.Solana != nil:
			Dump(cmd.ErrOrStderr(), res.Solana.Tx)
		}
	}
	return PrintJSON(cmd.OutOrStdout(), res)
}
