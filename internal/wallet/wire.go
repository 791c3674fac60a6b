//go:build wireinject

package wallet

import (
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/config"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/metrics"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/device"
	"github.com/google/wire"
)

// INJECTORS - https://github.com/google/wire/blob/main/docs/guide.md#injectors

// walletSet groups the default set of providers that are required for initing a wallet
var walletSet = wire.NewSet(
	newWalletWithComponents,
	metrics.New,
	NewSession,
	NewEVMClient,
	NewEVMCrafter,
	NewBitcoinClient,
	NewBitcoinCrafter,
	NewSolanaClient,
	NewSolanaCrafter,
	NewTransferService,
	NewBalanceService,
)

// InitNewWallet returns a new Wallet talking to the transport selected by
// LEDGER_TRANSPORT.
func InitNewWallet(
	_ config.Config,
) (*Wallet, error) {
	wire.Build(walletSet, NewOpener)
	return new(Wallet), nil
}

// InitNewWalletWithOpener returns a new Wallet using the given transport.
// All the other components are initialized via go wire according to the configuration.
func InitNewWalletWithOpener(
	_ config.Config,
	_ device.Opener,
) (*Wallet, error) {
	wire.Build(walletSet)
	return new(Wallet), nil
}
