package command_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/config"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/util/command"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/chain"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/device"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/hdpath"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithWallet(t *testing.T) {
	ctx := t.Context()

	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.Ledger.Transport = config.TransportEmulator
	cfg.Logger.PrettyPrintConsole = false

	var (
		testError = errors.New("test error")
		session   *device.Session
	)

	resultErr := command.WithDevice(ctx, cfg, func(ctx context.Context, w *wallet.Wallet) error {
		addr, err := w.Device.DeriveAddress(ctx, chain.EVM, hdpath.Default(chain.EVM), false)
		require.NoError(t, err)
		assert.Equal(t, "0x9858EfFD232B4033E47d90003D41EC34EcaEda94", addr.Address)

		session = w.Device
		return testError
	})

	assert.Equal(t, testError, resultErr)
	require.NotNil(t, session)
	assert.Equal(t, device.StateDisconnected, session.State())
}

func TestWithWalletLeavesDeviceClosed(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.Ledger.Transport = config.TransportEmulator

	err = command.WithWallet(t.Context(), cfg, func(_ context.Context, w *wallet.Wallet) error {
		assert.Equal(t, device.StateDisconnected, w.Device.State())
		return nil
	})
	require.NoError(t, err)
}

func TestWithWalletInvalidTransport(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.Ledger.Transport = "bluetooth"

	called := false
	err = command.WithWallet(t.Context(), cfg, func(context.Context, *wallet.Wallet) error {
		called = true
		return nil
	})
	assert.Error(t, err)
	assert.False(t, called)
}

func TestNewSubcommandGroup(t *testing.T) {
	t.Parallel()

	group := command.NewSubcommandGroup("send",
		&cobra.Command{Use: "evm"},
		&cobra.Command{Use: "btc"},
	)

	assert.Equal(t, "send <subcommand>", group.Use)
	assert.Len(t, group.Commands(), 2)
}

func TestParsePath(t *testing.T) {
	t.Parallel()

	p, err := command.ParsePath(chain.Solana, "")
	require.NoError(t, err)
	assert.Equal(t, hdpath.Default(chain.Solana), p)

	p, err = command.ParsePath(chain.EVM, "m/44'/60'/0'/0/7")
	require.NoError(t, err)
	assert.Equal(t, "m/44'/60'/0'/0/7", p.String())

	_, err = command.ParsePath(chain.EVM, "m/44'/501'/0'/0'")
	assert.Error(t, err)
}

func TestPrintJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, command.PrintJSON(&buf, map[string]string{"chain": "evm"}))
	assert.JSONEq(t, `{"chain":"evm"}`, buf.String())

	buf.Reset()
	command.Dump(&buf, struct{ Fee int }{Fee: 42})
	assert.Contains(t, buf.String(), "Fee: (int) 42")
}

func TestSecretReader(t *testing.T) {
	t.Parallel()

	var prompts bytes.Buffer
	r := command.NewSecretReader(bytes.NewBufferString("first word\r\nsecond\nlast"), &prompts)

	for _, want := range []string{"first word", "second", "last"} {
		got, err := r.Read("> ")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := r.Read("> ")
	assert.Error(t, err)
	assert.Empty(t, prompts.String())
}
