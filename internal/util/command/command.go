package command

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/config"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/util"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const metricsShutdownTimeout = 5 * time.Second

// WithWallet configures logging, builds the wallet from cfg and runs f with
// it. The device session is closed once f returns. When METRICS_ADDR is set
// the prometheus registry is served for the duration of f.
func WithWallet(ctx context.Context, cfg config.Config, f func(ctx context.Context, w *wallet.Wallet) error) error {
	util.ConfigureLogger(cfg.LoggerConfig())

	w, err := wallet.InitNewWallet(cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize wallet")
		return err
	}

	return run(ctx, w, f)
}

// WithDevice is WithWallet for commands that talk to the device: the session
// is connected before f runs.
func WithDevice(ctx context.Context, cfg config.Config, f func(ctx context.Context, w *wallet.Wallet) error) error {
	return WithWallet(ctx, cfg, func(ctx context.Context, w *wallet.Wallet) error {
		if err := w.Device.Connect(ctx, 0); err != nil {
			log.Error().Err(err).Msg("Failed to connect to device")
			return err
		}
		return f(ctx, w)
	})
}

func run(ctx context.Context, w *wallet.Wallet, f func(ctx context.Context, w *wallet.Wallet) error) error {
	ctx = util.WithLogger(ctx, log.Logger)

	if addr := w.Config.Metrics.Addr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           w.Metrics.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Str("addr", addr).Msg("Failed to serve metrics")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown metrics server")
			}
		}()
	}

	defer func() {
		if errs := w.Shutdown(ctx); len(errs) > 0 {
			log.Error().Errs("shutdownErrors", errs).Msg("Failed to gracefully shut down wallet")
		}
	}()

	return f(ctx, w)
}

// NewSubcommandGroup returns a command that only groups subcommands and
// prints its help when run directly.
func NewSubcommandGroup(name string, subCommands ...*cobra.Command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   fmt.Sprintf("%s <subcommand>", name),
		Short: fmt.Sprintf("%s related subcommands", name),
		Run: func(cmd *cobra.Command, _ []string) {
			if err := cmd.Help(); err != nil {
				log.Error().Err(err).Msg("Failed to print help")
			}
		},
	}

	cmd.AddCommand(subCommands...)

	return cmd
}
