package wallet

import (
	"context"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/config"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/metrics"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/balance"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/bitcoin"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/device"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/evm"
	sol "github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/solana"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/transfer"
	"github.com/rs/zerolog/log"
)

// Wallet is a central struct keeping all the dependencies of a CLI run.
// It is initialized with wire, which handles making the new instances of the
// components in the right order. To add a new component, 3 steps are required:
// - declaring it in this struct
// - adding a provider function in providers.go
// - adding the provider's function name to the arguments of wire.Build() in wire.go
//
// Chain components are nil when the chain has no RPC endpoint configured.
type Wallet struct {
	Config  config.Config
	Metrics *metrics.Service
	Device  *device.Session

	EVMClient *evm.Client
	EVM       *evm.Crafter
	BTCClient *bitcoin.Client
	Bitcoin   *bitcoin.Crafter
	SOLClient *sol.Client
	Solana    *sol.Crafter
	Transfer  transfer.Service
	Balance   balance.Service
}

func newWalletWithComponents(
	cfg config.Config,
	m *metrics.Service,
	session *device.Session,
	evmClient *evm.Client,
	evmCrafter *evm.Crafter,
	btcClient *bitcoin.Client,
	btcCrafter *bitcoin.Crafter,
	solClient *sol.Client,
	solCrafter *sol.Crafter,
	transferService transfer.Service,
	balanceService balance.Service,
) *Wallet {
	return &Wallet{
		Config:    cfg,
		Metrics:   m,
		Device:    session,
		EVMClient: evmClient,
		EVM:       evmCrafter,
		BTCClient: btcClient,
		Bitcoin:   btcCrafter,
		SOLClient: solClient,
		Solana:    solCrafter,
		Transfer:  transferService,
		Balance:   balanceService,
	}
}

// Shutdown releases the device and the RPC connections.
func (w *Wallet) Shutdown(ctx context.Context) []error {
	var errs []error

	if w.Device != nil {
		log.Debug().Msg("Closing device session")

		if err := w.Device.Disconnect(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to close device session")
			errs = append(errs, err)
		}
	}

	if w.EVMClient != nil {
		log.Debug().Msg("Closing EVM RPC connections")
		w.EVMClient.Close()
	}

	return errs
}
