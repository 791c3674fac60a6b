package wallet

import (
	"context"
	"time"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/chain"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/device"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/hdpath"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// chainOfApp returns the chain served by the named device app.
func chainOfApp(name string) (chain.Chain, bool) {
	for _, c := range chain.All {
		for _, candidate := range device.AppNames(c) {
			if candidate == name {
				return c, true
			}
		}
	}
	return "", false
}

// Probe connects to the device and reports the active app. When the app
// belongs to a supported chain, the default account of that chain is
// derived as well, which proves the device answers chain commands.
func (w *Wallet) Probe(ctx context.Context) (*ProbeResult, error) {
	log := log.With().Str("component", "probe").Logger()

	if err := w.Device.Connect(ctx, 0); err != nil {
		return nil, errors.Wrap(err, "failed to connect to device")
	}

	info, err := w.Device.AppInfo(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query active app")
	}

	res := &ProbeResult{
		Transport: w.Config.Ledger.Transport,
		State:     w.Device.State().String(),
		App:       info.Name,
		Version:   info.Version,
	}

	c, ok := chainOfApp(info.Name)
	if !ok {
		log.Info().Str("app", info.Name).Msg("Active app does not belong to a supported chain")
		return res, nil
	}
	res.Chain = c

	start := time.Now()
	addr, err := w.Device.DeriveAddress(ctx, c, hdpath.Default(c), false)
	if err != nil {
		return res, errors.Wrapf(err, "failed to derive default %s address", c)
	}
	res.Address = AddressInfoFromDevice(addr)

	log.Info().
		Str("app", info.Name).
		Str("address", addr.Address).
		Dur("duration", time.Since(start)).
		Msg("Device probe successful")

	return res, nil
}
