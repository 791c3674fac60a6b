package device

import (
	"context"
	"sync"

	"github.com/karalabe/hid"
	"github.com/pkg/errors"
)

const (
	// LedgerVendorID is the USB vendor id of Ledger devices.
	LedgerVendorID uint16 = 0x2c97

	ledgerUsagePage uint16 = 0xffa0
	ledgerInterface        = 0
)

// HIDOpener opens the first Ledger found on the USB bus, or the device at
// Path when set.
type HIDOpener struct {
	Path string
}

func (o HIDOpener) Open(_ context.Context) (Transport, error) {
	if !hid.Supported() {
		return nil, errors.New("USB HID is not supported on this platform")
	}

	infos, err := hid.Enumerate(LedgerVendorID, 0)
	if err != nil {
		return nil, errors.Wrap(err, "failed to enumerate HID devices")
	}

	for _, info := range infos {
		if o.Path != "" && info.Path != o.Path {
			continue
		}
		// Ledger exposes several interfaces; only the generic one speaks APDU.
		if info.UsagePage != ledgerUsagePage && info.Interface != ledgerInterface {
			continue
		}

		dev, err := info.Open()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open HID device %s", info.Path)
		}
		return &hidTransport{dev: dev}, nil
	}

	return nil, errors.New("no Ledger device found")
}

type hidTransport struct {
	mu  sync.Mutex
	dev hid.Device
}

func (t *hidTransport) Exchange(apdu []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, packet := range wrapCommandAPDU(apdu) {
		if _, err := t.dev.Write(packet); err != nil {
			return nil, errors.Wrap(err, "failed to write HID report")
		}
	}
	return unwrapResponseAPDU(t.dev)
}

func (t *hidTransport) Close() error {
	return t.dev.Close()
}
