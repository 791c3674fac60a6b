package send

import (
	"context"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/util/command"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/amount"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/bitcoin"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/chain"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/hdpath"
	"github.com/spf13/cobra"
)

const (
	feeRateFlag  = "fee-rate"
	btcTierFlag  = "tier"
	strategyFlag = "strategy"
	changeFlag   = "change"
	forceFlag    = "force"
	psbtFlag     = "psbt"
)

func newBitcoin() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "btc",
		Aliases: []string{"bitcoin"},
		Short:   "Sends bitcoin",
		Long: `Pays --amount BTC to --to. Several --path flags pool the UTXOs of all
given accounts; change goes to --change or the first account.`,
		Args: cobra.NoArgs,
		RunE: runBitcoin,
	}

	cmd.Flags().String(toFlag, "", "Recipient address.")
	cmd.Flags().String(amountFlag, "", "Amount in BTC, e.g. 0.001.")
	cmd.Flags().Float64(feeRateFlag, 0, "Fee rate in sat/vB, estimated from --tier when zero.")
	cmd.Flags().String(btcTierFlag, string(bitcoin.TierStandard), "Fee tier: slow, standard or fast.")
	cmd.Flags().String(strategyFlag, "", "Coin selection: bnb, largest or smallest. Defaults to BITCOIN_STRATEGY.")
	cmd.Flags().String(changeFlag, "", "Change address.")
	cmd.Flags().Bool(forceFlag, false, "Accept fees above the configured share of the payment.")
	cmd.Flags().Bool(psbtFlag, false, "Also print the PSBT (base64) to stderr.")
	cmd.Flags().StringArray(command.PathFlag, nil, "Source account path, may be repeated. Defaults to the first native segwit account.")
	cmd.Flags().Bool(command.DryRunFlag, false, "Craft and sign but do not broadcast.")
	cmd.Flags().Bool(command.DumpFlag, false, "Dump the crafted transaction to stderr.")
	_ = cmd.MarkFlagRequired(toFlag)
	_ = cmd.MarkFlagRequired(amountFlag)

	return cmd
}

func runBitcoin(cmd *cobra.Command, _ []string) error {
	to, _ := cmd.Flags().GetString(toFlag)
	amountStr, _ := cmd.Flags().GetString(amountFlag)
	feeRate, _ := cmd.Flags().GetFloat64(feeRateFlag)
	tier, _ := cmd.Flags().GetString(btcTierFlag)
	strategyName, _ := cmd.Flags().GetString(strategyFlag)
	change, _ := cmd.Flags().GetString(changeFlag)
	force, _ := cmd.Flags().GetBool(forceFlag)
	printPSBT, _ := cmd.Flags().GetBool(psbtFlag)
	pathStrs, _ := cmd.Flags().GetStringArray(command.PathFlag)

	sats, err := amount.ParseUnits(amountStr, amount.BitcoinDecimals)
	if err != nil {
		return err
	}

	req := &bitcoin.Request{
		Outputs:       []bitcoin.Output{{Address: strings.TrimSpace(to), Amount: btcutil.Amount(sats.Int64())}},
		FeeRate:       feeRate,
		Tier:          bitcoin.Tier(tier),
		ChangeAddress: change,
		Force:         force,
	}

	if len(pathStrs) == 0 {
		req.Paths = []hdpath.DerivationPath{hdpath.Default(chain.Bitcoin)}
	}
	for _, s := range pathStrs {
		p, err := command.ParsePath(chain.Bitcoin, s)
		if err != nil {
			return err
		}
		req.Paths = append(req.Paths, p)
	}

	if strategyName != "" {
		strategy, err := bitcoin.ParseStrategy(strategyName)
		if err != nil {
			return err
		}
		req.Strategy = strategy
	}

	cfg, err := command.LoadConfig()
	if err != nil {
		return err
	}

	return command.WithDevice(cmd.Context(), cfg, func(ctx context.Context, w *wallet.Wallet) error {
		res, err := w.Transfer.SendBitcoin(ctx, req, command.SendOptions(cmd))
		if res == nil {
			return err
		}

		if printPSBT && res.PSBT != nil {
			b64, psbtErr := res.PSBT.PSBTBase64()
			if psbtErr == nil {
				cmd.PrintErrln(b64)
			}
		}
		if printErr := command.PrintResult(cmd, res); printErr != nil {
			return printErr
		}
		return err
	})
}
