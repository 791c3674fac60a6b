package signmessage

import (
	"context"
	"io"
	"os"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/util/command"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/chain"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const (
	chainFlag = "chain"
	fileFlag  = "file"
)

func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign-message [message]",
		Short: "Signs a text message on the device",
		Long: `Signs a message with the chain's message format: EIP-191 personal_sign
for EVM, BIP-137 for Bitcoin and the off-chain message format for Solana.
The message is the argument, or the content of --file ("-" reads stdin).`,
		Args: cobra.MaximumNArgs(1),
		RunE: run,
	}

	cmd.Flags().String(chainFlag, string(chain.EVM), "Chain: evm, bitcoin or solana.")
	cmd.Flags().String(command.PathFlag, "", "Derivation path, defaults to the first account of the chain.")
	cmd.Flags().String(fileFlag, "", "Read the message from a file, - for stdin.")

	return cmd
}

func readMessage(cmd *cobra.Command, args []string) ([]byte, error) {
	file, _ := cmd.Flags().GetString(fileFlag)

	switch {
	case len(args) == 1 && file != "":
		return nil, errors.New("pass the message either as argument or with --file")
	case len(args) == 1:
		return []byte(args[0]), nil
	case file == "-":
		return io.ReadAll(cmd.InOrStdin())
	case file != "":
		return os.ReadFile(file)
	default:
		return nil, errors.New("no message given")
	}
}

func run(cmd *cobra.Command, args []string) error {
	chainName, _ := cmd.Flags().GetString(chainFlag)
	pathStr, _ := cmd.Flags().GetString(command.PathFlag)

	c, err := chain.Parse(chainName)
	if err != nil {
		return err
	}
	p, err := command.ParsePath(c, pathStr)
	if err != nil {
		return err
	}
	msg, err := readMessage(cmd, args)
	if err != nil {
		return err
	}

	cfg, err := command.LoadConfig()
	if err != nil {
		return err
	}

	return command.WithDevice(cmd.Context(), cfg, func(ctx context.Context, w *wallet.Wallet) error {
		res, err := w.SignMessage(ctx, c, p, msg)
		if err != nil {
			return err
		}
		return command.PrintJSON(cmd.OutOrStdout(), res)
	})
}
