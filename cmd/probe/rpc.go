package probe

import (
	"context"
	"strconv"
	"time"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/util/command"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type endpointStatus struct {
	Chain   string `json:"chain"`
	OK      bool   `json:"ok"`
	Detail  string `json:"detail,omitempty"`
	Latency string `json:"latency,omitempty"`
}

func newRPC() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rpc",
		Short: "Checks the configured chain endpoints",
		Long: `Asks every configured chain endpoint for a trivial value
(EVM chain id, Bitcoin tip height, Solana latest blockhash).
Exits with an error when any endpoint fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			verbose, err := cmd.Flags().GetBool(verboseFlag)
			if err != nil {
				return err
			}

			cfg, err := command.LoadConfig()
			if err != nil {
				return err
			}

			return command.WithWallet(cmd.Context(), cfg, func(ctx context.Context, w *wallet.Wallet) error {
				statuses := checkEndpoints(ctx, w, verbose)
				if err := command.PrintJSON(cmd.OutOrStdout(), statuses); err != nil {
					return err
				}
				for _, s := range statuses {
					if !s.OK {
						return errors.Errorf("%s endpoint is not healthy", s.Chain)
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolP(verboseFlag, "v", false, "Show verbose output.")

	return cmd
}

func checkEndpoints(ctx context.Context, w *wallet.Wallet, verbose bool) []endpointStatus {
	var statuses []endpointStatus

	check := func(name string, fn func() (string, error)) {
		start := time.Now()
		detail, err := fn()
		s := endpointStatus{Chain: name, OK: err == nil, Detail: detail}
		if err != nil {
			s.Detail = err.Error()
			log.Warn().Err(err).Str("chain", name).Msg("Endpoint check failed")
		}
		if verbose {
			s.Latency = time.Since(start).String()
		}
		statuses = append(statuses, s)
	}

	if w.EVMClient != nil {
		check("evm", func() (string, error) {
			id, err := w.EVMClient.ChainID(ctx)
			if err != nil {
				return "", err
			}
			return "chain id " + id.String(), nil
		})
	}
	if w.BTCClient != nil {
		check("bitcoin", func() (string, error) {
			height, err := w.BTCClient.TipHeight(ctx)
			if err != nil {
				return "", err
			}
			return "tip height " + strconv.FormatInt(height, 10), nil
		})
	}
	if w.SOLClient != nil {
		check("solana", func() (string, error) {
			hash, err := w.SOLClient.GetLatestBlockhash(ctx)
			if err != nil {
				return "", err
			}
			return "blockhash " + hash.String(), nil
		})
	}

	return statuses
}
