package wallet

import (
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/config"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/metrics"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/balance"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/bitcoin"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/chain"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/device"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/evm"
	sol "github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/solana"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/transfer"
	"github.com/pkg/errors"
)

// PROVIDERS - https://github.com/google/wire/blob/main/docs/guide.md#defining-providers

func retryConfig(cfg config.Config, m *metrics.Service, c chain.Chain) chain.RetryConfig {
	retry := cfg.RetryConfig()
	retry.OnRetry = m.RetryHook(c)
	return retry
}

// NewSession creates the device session. Nothing is opened until the first
// operation.
func NewSession(cfg config.Config, opener device.Opener, m *metrics.Service) *device.Session {
	return device.NewSession(opener, cfg.DeviceConfig(), m)
}

// NewEVMClient returns nil when EVM_RPC_URLS is empty.
func NewEVMClient(cfg config.Config, m *metrics.Service) (*evm.Client, error) {
	urls := cfg.EVMRPCURLs()
	if len(urls) == 0 {
		return nil, nil
	}

	client, err := evm.NewClient(urls, retryConfig(cfg, m, chain.EVM))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create EVM client")
	}
	return client, nil
}

func NewEVMCrafter(cfg config.Config, client *evm.Client, session *device.Session) (*evm.Crafter, error) {
	if client == nil {
		return nil, nil
	}

	crafterCfg, err := cfg.EVMCrafterConfig()
	if err != nil {
		return nil, err
	}
	return evm.NewCrafter(client, session, crafterCfg), nil
}

// NewBitcoinClient returns nil when BITCOIN_ESPLORA_URL is empty.
func NewBitcoinClient(cfg config.Config, m *metrics.Service) (*bitcoin.Client, error) {
	if cfg.Bitcoin.EsploraURL == "" {
		return nil, nil
	}

	clientCfg := cfg.BitcoinClientConfig()
	clientCfg.Retry = retryConfig(cfg, m, chain.Bitcoin)

	client, err := bitcoin.NewClient(clientCfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Bitcoin client")
	}
	return client, nil
}

func NewBitcoinCrafter(cfg config.Config, client *bitcoin.Client, session *device.Session) (*bitcoin.Crafter, error) {
	if client == nil {
		return nil, nil
	}

	crafterCfg, err := cfg.BitcoinCrafterConfig()
	if err != nil {
		return nil, err
	}
	return bitcoin.NewCrafter(client, session, crafterCfg), nil
}

// NewSolanaClient returns nil when SOLANA_RPC_URL is empty.
func NewSolanaClient(cfg config.Config, m *metrics.Service) (*sol.Client, error) {
	if cfg.Solana.RPCURL == "" {
		return nil, nil
	}

	clientCfg := cfg.SolanaClientConfig()
	clientCfg.Retry = retryConfig(cfg, m, chain.Solana)

	client, err := sol.NewClient(clientCfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Solana client")
	}
	return client, nil
}

func NewSolanaCrafter(cfg config.Config, client *sol.Client, session *device.Session) *sol.Crafter {
	if client == nil {
		return nil
	}
	return sol.NewCrafter(client, session, cfg.SolanaCrafterConfig())
}

// NewTransferService wires the configured chains into the transfer service.
// Nil crafters stay nil interfaces so unconfigured chains are reported as
// such.
//
//nolint:ireturn
func NewTransferService(
	evmClient *evm.Client,
	evmCrafter *evm.Crafter,
	btcCrafter *bitcoin.Crafter,
	solClient *sol.Client,
	solCrafter *sol.Crafter,
	m *metrics.Service,
) transfer.Service {
	var chains transfer.Chains

	if evmCrafter != nil {
		chains.EVM = evmCrafter
		chains.EVMReceipts = evmClient
	}
	if btcCrafter != nil {
		chains.Bitcoin = btcCrafter
	}
	if solCrafter != nil {
		chains.Solana = solCrafter
		chains.SolanaConfirmer = solClient
	}

	return transfer.NewService(chains, m)
}

// NewBalanceService wires the configured RPC clients into the balance
// service.
//
//nolint:ireturn
func NewBalanceService(evmClient *evm.Client, btcClient *bitcoin.Client, solClient *sol.Client) balance.Service {
	var clients balance.Clients

	if evmClient != nil {
		clients.EVM = evmClient
	}
	if btcClient != nil {
		clients.Bitcoin = btcClient
	}
	if solClient != nil {
		clients.Solana = solClient
	}

	return balance.NewService(clients)
}
