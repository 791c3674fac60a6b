package balance

import (
	"context"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/util/command"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/chain"
	"github.com/spf13/cobra"
)

const (
	chainFlag   = "chain"
	addressFlag = "address"
	tokenFlag   = "token"
	allFlag     = "all-tokens"
)

func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Reads the on-chain balance of an address",
		Long: `Reads the native or token balance of an address. Without --address the
address is derived on the device from --path.`,
		Args: cobra.NoArgs,
		RunE: run,
	}

	cmd.Flags().String(chainFlag, string(chain.EVM), "Chain: evm, bitcoin or solana.")
	cmd.Flags().String(addressFlag, "", "Address to query instead of the device address.")
	cmd.Flags().String(command.PathFlag, "", "Derivation path, defaults to the first account of the chain.")
	cmd.Flags().String(tokenFlag, "", "ERC-20 contract or SPL mint.")
	cmd.Flags().Bool(allFlag, false, "List every SPL token account of a Solana address.")
	cmd.MarkFlagsMutuallyExclusive(tokenFlag, allFlag)

	return cmd
}

func run(cmd *cobra.Command, _ []string) error {
	chainName, _ := cmd.Flags().GetString(chainFlag)
	address, _ := cmd.Flags().GetString(addressFlag)
	pathStr, _ := cmd.Flags().GetString(command.PathFlag)
	token, _ := cmd.Flags().GetString(tokenFlag)
	all, _ := cmd.Flags().GetBool(allFlag)

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

	return command.WithWallet(cmd.Context(), cfg, func(ctx context.Context, w *wallet.Wallet) error {
		if address == "" {
			if err := w.Device.Connect(ctx, 0); err != nil {
				return err
			}
			addr, err := w.Device.DeriveAddress(ctx, c, p, false)
			if err != nil {
				return err
			}
			address = addr.Address
		}

		switch {
		case all && c == chain.Solana:
			res, err := w.Balance.SolanaTokens(ctx, address)
			if err != nil {
				return err
			}
			return command.PrintJSON(cmd.OutOrStdout(), res)
		case token != "":
			res, err := w.Balance.Token(ctx, c, address, token)
			if err != nil {
				return err
			}
			return command.PrintJSON(cmd.OutOrStdout(), res)
		default:
			res, err := w.Balance.Native(ctx, c, address)
			if err != nil {
				return err
			}
			return command.PrintJSON(cmd.OutOrStdout(), res)
		}
	})
}
