package call

import (
	"context"
	"encoding/hex"
	"math/big"
	"os"
	"strings"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/util/command"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/amount"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/chain"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/evm"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/walleterr"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const (
	contractFlag = "contract"
	abiFlag      = "abi"
	methodFlag   = "method"
	argsFlag     = "args"
	dataFlag     = "data"
	valueFlag    = "value"
)

func New() *cobra.Command {
	return command.NewSubcommandGroup("call",
		newEVM(),
	)
}

func newEVM() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evm",
		Short: "Calls a contract method",
		Long: `Signs and sends a call of --method on --contract. Arguments are given as
strings and converted by the ABI input types. --abi takes the ABI JSON or
@file to read it from a file. Raw calldata may be passed with --data instead.`,
		Args: cobra.NoArgs,
		RunE: runEVM,
	}

	cmd.Flags().String(contractFlag, "", "Contract address.")
	cmd.Flags().String(abiFlag, "", "ABI JSON, or @path to a file holding it.")
	cmd.Flags().String(methodFlag, "", "Method name.")
	cmd.Flags().StringArray(argsFlag, nil, "Method argument, repeated in order.")
	cmd.Flags().String(dataFlag, "", "Raw 0x prefixed calldata.")
	cmd.Flags().String(valueFlag, "", "Ether sent with the call.")
	command.AddEVMFeeFlags(cmd)
	command.AddSendFlags(cmd)
	_ = cmd.MarkFlagRequired(contractFlag)
	cmd.MarkFlagsOneRequired(methodFlag, dataFlag)
	cmd.MarkFlagsMutuallyExclusive(methodFlag, dataFlag)
	cmd.MarkFlagsRequiredTogether(abiFlag, methodFlag)

	return cmd
}

func readABI(s string) (string, error) {
	if !strings.HasPrefix(s, "@") {
		return s, nil
	}
	b, err := os.ReadFile(strings.TrimPrefix(s, "@"))
	if err != nil {
		return "", errors.Wrap(err, "failed to read ABI file")
	}
	return string(b), nil
}

func calldata(cmd *cobra.Command) ([]byte, error) {
	data, _ := cmd.Flags().GetString(dataFlag)
	if data != "" {
		b, err := hex.DecodeString(strings.TrimPrefix(data, "0x"))
		if err != nil {
			return nil, walleterr.Wrap(walleterr.KindInvalidRequest, "cli", err)
		}
		return b, nil
	}

	abiStr, _ := cmd.Flags().GetString(abiFlag)
	method, _ := cmd.Flags().GetString(methodFlag)
	args, _ := cmd.Flags().GetStringArray(argsFlag)

	abiJSON, err := readABI(abiStr)
	if err != nil {
		return nil, err
	}
	return evm.EncodeCall(abiJSON, method, args)
}

func runEVM(cmd *cobra.Command, _ []string) error {
	contractStr, _ := cmd.Flags().GetString(contractFlag)
	valueStr, _ := cmd.Flags().GetString(valueFlag)
	pathStr, _ := cmd.Flags().GetString(command.PathFlag)

	contract, err := command.ParseEVMAddress("contract", contractStr)
	if err != nil {
		return err
	}
	p, err := command.ParsePath(chain.EVM, pathStr)
	if err != nil {
		return err
	}
	value := new(big.Int)
	if valueStr != "" {
		if value, err = amount.ParseUnits(valueStr, amount.EtherDecimals); err != nil {
			return err
		}
	}
	data, err := calldata(cmd)
	if err != nil {
		return err
	}

	req := evm.ContractCall(p, contract, value, data)
	if err := command.ApplyEVMFeeFlags(cmd, req); err != nil {
		return err
	}

	cfg, err := command.LoadConfig()
	if err != nil {
		return err
	}

	return command.WithDevice(cmd.Context(), cfg, func(ctx context.Context, w *wallet.Wallet) error {
		res, err := w.Transfer.SendEVM(ctx, req, command.SendOptions(cmd))
		if res != nil {
			if printErr := command.PrintResult(cmd, res); printErr != nil {
				return printErr
			}
		}
		return err
	})
}
