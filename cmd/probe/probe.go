package probe

import (
	"context"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/util/command"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet"
	"github.com/spf13/cobra"
)

const (
	verboseFlag string = "verbose"
)

// New returns the probe command. Run bare it checks the device; the rpc
// subcommand checks the configured chain endpoints.
func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Connects to the device and reports the active app",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := command.LoadConfig()
			if err != nil {
				return err
			}

			return command.WithWallet(cmd.Context(), cfg, func(ctx context.Context, w *wallet.Wallet) error {
				res, err := w.Probe(ctx)
				if err != nil {
					return err
				}
				return command.PrintJSON(cmd.OutOrStdout(), res)
			})
		},
	}

	cmd.AddCommand(newRPC())

	return cmd
}
