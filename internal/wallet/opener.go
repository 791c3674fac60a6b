package wallet

import (
	"context"
	"strings"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/config"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/device"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/device/emulator"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/keystore"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// NewOpener selects the device transport from LEDGER_TRANSPORT.
//
//nolint:ireturn
func NewOpener(cfg config.Config) (device.Opener, error) {
	switch strings.ToLower(cfg.Ledger.Transport) {
	case config.TransportHID, "":
		return device.HIDOpener{Path: cfg.Ledger.HIDPath}, nil
	case config.TransportTCP:
		return device.TCPOpener{Addr: cfg.Ledger.TCPAddr}, nil
	case config.TransportEmulator:
		return newEmulatorOpener(cfg)
	default:
		return nil, errors.Errorf("unknown ledger transport %q", cfg.Ledger.Transport)
	}
}

//nolint:ireturn
func newEmulatorOpener(cfg config.Config) (device.Opener, error) {
	mnemonic := cfg.Ledger.EmulatorMnemonic
	if path := cfg.Ledger.EmulatorKeystore; path != "" {
		var err error
		store := keystore.NewStore(path, keystore.DefaultScryptParams())
		if mnemonic, err = store.Mnemonic(context.Background(), cfg.Ledger.EmulatorPassword); err != nil {
			return nil, err
		}
	}
	if mnemonic == "" {
		log.Warn().Msg("LEDGER_EMULATOR_MNEMONIC not set, the emulator uses the public test mnemonic")
		mnemonic = emulator.TestMnemonic
	}

	emu, err := emulator.New(emulator.Options{Mnemonic: mnemonic, App: cfg.Ledger.EmulatorApp})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create emulator")
	}

	return emu.Opener(), nil
}
