package address

import (
	"context"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/util/command"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/chain"
	"github.com/spf13/cobra"
)

const (
	chainFlag   = "chain"
	pathFlag    = "path"
	displayFlag = "display"
)

func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "address",
		Short: "Derives an address on the device",
		Long: `Derives the address of a derivation path on the device.
With --display the address is shown on the device screen for verification
and the command waits for the user to confirm it.`,
		Args: cobra.NoArgs,
		RunE: run,
	}

	cmd.Flags().String(chainFlag, string(chain.EVM), "Chain: evm, bitcoin or solana.")
	cmd.Flags().String(pathFlag, "", "Derivation path, defaults to the first account of the chain.")
	cmd.Flags().Bool(displayFlag, false, "Show the address on the device and wait for confirmation.")

	return cmd
}

func run(cmd *cobra.Command, _ []string) error {
	chainName, _ := cmd.Flags().GetString(chainFlag)
	pathStr, _ := cmd.Flags().GetString(pathFlag)
	display, _ := cmd.Flags().GetBool(displayFlag)

	c, err := chain.Parse(chainName)
	if err != nil {
		return err
	}
	p, err := command.ParsePath(c, pathStr)
	if err != nil {
		return err
	}

	cfg, err := command.LoadConfig()
	if err != nil {
		return err
	}

	return command.WithDevice(cmd.Context(), cfg, func(ctx context.Context, w *wallet.Wallet) error {
		addr, err := w.Device.DeriveAddress(ctx, c, p, display)
		if err != nil {
			return err
		}
		return command.PrintJSON(cmd.OutOrStdout(), wallet.AddressInfoFromDevice(addr))
	})
}
