package wallet_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/config"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/chain"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/device/emulator"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/evm"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/hdpath"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/keystore"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/transfer"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/walleterr"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()

	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.Ledger.Transport = config.TransportEmulator
	return cfg
}

func TestInitNewWalletEmulator(t *testing.T) {
	cfg := testConfig(t)
	cfg.Ledger.EmulatorApp = "Solana"

	w, err := wallet.InitNewWallet(cfg)
	require.NoError(t, err)
	defer w.Shutdown(context.Background())

	res, err := w.Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Solana", res.App)
	assert.Equal(t, "connected", res.State)
	assert.Equal(t, chain.Solana, res.Chain)
	require.NotNil(t, res.Address)
	assert.Equal(t, "HAgk14JpMQLgt6rVgv7cBQFJWFto5Dqxi472uT3DKpqk", res.Address.Address)
}

func TestProbeUnknownApp(t *testing.T) {
	emu, err := emulator.New(emulator.Options{App: "BOLOS"})
	require.NoError(t, err)

	w, err := wallet.InitNewWalletWithOpener(testConfig(t), emu.Opener())
	require.NoError(t, err)
	defer w.Shutdown(context.Background())

	res, err := w.Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "BOLOS", res.App)
	assert.Empty(t, res.Chain)
	assert.Nil(t, res.Address)
}

func TestUnconfiguredChains(t *testing.T) {
	emu, err := emulator.New(emulator.Options{})
	require.NoError(t, err)

	w, err := wallet.InitNewWalletWithOpener(testConfig(t), emu.Opener())
	require.NoError(t, err)
	defer w.Shutdown(context.Background())

	assert.Nil(t, w.EVM)
	assert.Nil(t, w.Bitcoin)
	assert.Nil(t, w.Solana)

	_, err = w.Transfer.SendEVM(context.Background(), &evm.Request{}, transfer.Options{})
	assert.True(t, errors.Is(err, walleterr.ErrInvalidRequest))
}

func TestConfiguredChains(t *testing.T) {
	cfg := testConfig(t)
	// clients dial lazily, nothing is contacted here
	cfg.EVM.RPCURLs = "http://127.0.0.1:1, http://127.0.0.1:2"
	cfg.Bitcoin.EsploraURL = "http://127.0.0.1:3"
	cfg.Solana.RPCURL = "http://127.0.0.1:4"

	w, err := wallet.InitNewWallet(cfg)
	require.NoError(t, err)
	defer w.Shutdown(context.Background())

	assert.NotNil(t, w.EVM)
	assert.NotNil(t, w.Bitcoin)
	assert.NotNil(t, w.Solana)
	assert.NotNil(t, w.Metrics.Registry())
}

func TestNewOpener(t *testing.T) {
	t.Parallel()

	tests := []struct {
		transport string
		wantErr   bool
	}{
		{config.TransportHID, false},
		{config.TransportTCP, false},
		{config.TransportEmulator, false},
		{"bluetooth", true},
	}

	for _, tt := range tests {
		t.Run(tt.transport, func(t *testing.T) {
			t.Parallel()

			var cfg config.Config
			cfg.Ledger.Transport = tt.transport
			opener, err := wallet.NewOpener(cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, opener)
		})
	}
}

func TestSignMessageWithoutEndpoints(t *testing.T) {
	emu, err := emulator.New(emulator.Options{})
	require.NoError(t, err)

	w, err := wallet.InitNewWalletWithOpener(testConfig(t), emu.Opener())
	require.NoError(t, err)
	defer w.Shutdown(context.Background())
	ctx := context.Background()
	require.NoError(t, w.Device.Connect(ctx, 0))

	tests := []struct {
		app     string
		chain   chain.Chain
		address string
	}{
		{"Ethereum", chain.EVM, "0x9858EfFD232B4033E47d90003D41EC34EcaEda94"},
		{"Bitcoin", chain.Bitcoin, "bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu"},
		{"Solana", chain.Solana, "HAgk14JpMQLgt6rVgv7cBQFJWFto5Dqxi472uT3DKpqk"},
	}

	for _, tt := range tests {
		t.Run(string(tt.chain), func(t *testing.T) {
			emu.SetApp(tt.app)

			res, err := w.SignMessage(ctx, tt.chain, hdpath.Default(tt.chain), []byte("hello ledger"))
			require.NoError(t, err)
			assert.Equal(t, tt.address, res.Address)
			assert.NotEmpty(t, res.Signature)
			assert.Equal(t, "hello ledger", res.Message)
		})
	}

	_, err = w.SignMessage(ctx, chain.Chain("tron"), hdpath.Default(chain.EVM), []byte("x"))
	assert.True(t, errors.Is(err, walleterr.ErrInvalidRequest))
}

func TestNewOpenerKeystore(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "emulator.json")
	_, err := keystore.NewStore(path, keystore.LightScryptParams()).
		Create(context.Background(), emulator.TestMnemonic, "pw")
	require.NoError(t, err)

	var cfg config.Config
	cfg.Ledger.Transport = config.TransportEmulator
	cfg.Ledger.EmulatorKeystore = path
	cfg.Ledger.EmulatorPassword = "pw"

	opener, err := wallet.NewOpener(cfg)
	require.NoError(t, err)

	w, err := wallet.InitNewWalletWithOpener(cfg, opener)
	require.NoError(t, err)
	defer w.Shutdown(context.Background())

	ctx := context.Background()
	require.NoError(t, w.Device.Connect(ctx, time.Second))
	addr, err := w.Device.DeriveAddress(ctx, chain.EVM, hdpath.Default(chain.EVM), false)
	require.NoError(t, err)
	assert.Equal(t, "0x9858EfFD232B4033E47d90003D41EC34EcaEda94", addr.Address)

	cfg.Ledger.EmulatorPassword = "wrong"
	_, err = wallet.NewOpener(cfg)
	assert.True(t, errors.Is(err, keystore.ErrInvalidPassword))
}
