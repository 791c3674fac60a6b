// Package emulator is a software Ledger that answers the same APDUs as the
// Ethereum, Bitcoin and Solana apps, backed by a BIP-39 seed. It lets the
// wallet run end to end without hardware.
package emulator

import (
	"context"
	"encoding/binary"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/chain"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/device"
	"github.com/pkg/errors"
)

// TestMnemonic is the well known BIP-39 test vector.
//
//nolint:dupword // test mnemonic
const TestMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

// RequestKind names what the user is asked to confirm.
type RequestKind string

const (
	RequestAddress     RequestKind = "address"
	RequestTransaction RequestKind = "transaction"
	RequestMessage     RequestKind = "message"
)

// Request is shown to the confirmation hook before the device signs or
// displays anything.
type Request struct {
	Kind    RequestKind
	Chain   chain.Chain
	Path    []uint32
	Payload []byte
}

// Options configure a new Emulator.
type Options struct {
	Mnemonic   string
	Passphrase string
	// App is the application open at start, "Ethereum" when empty.
	App     string
	Version string
}

// Emulator is the emulated device. It may be opened several times; each
// open returns an independent transport.
type Emulator struct {
	seed seedStore

	mu         sync.Mutex
	app        device.AppInfo
	locked     bool
	confirm    func(Request) bool
	delay      time.Duration
	openDelay  time.Duration
	openErr    error
	onExchange func(apdu []byte)

	opens atomic.Int32
}

// New creates an emulator with the given seed.
func New(opts Options) (*Emulator, error) {
	if opts.Mnemonic == "" {
		opts.Mnemonic = TestMnemonic
	}
	if opts.App == "" {
		opts.App = "Ethereum"
	}
	if opts.Version == "" {
		opts.Version = "1.10.4"
	}

	e := &Emulator{
		app: device.AppInfo{Name: opts.App, Version: opts.Version},
	}
	if err := e.seed.initialize(opts.Mnemonic, opts.Passphrase); err != nil {
		return nil, err
	}
	return e, nil
}

// Opener returns a device.Opener that connects to this emulator.
//
//nolint:ireturn // Returning interface is intentional for dependency injection
func (e *Emulator) Opener() device.Opener {
	return device.OpenerFunc(func(ctx context.Context) (device.Transport, error) {
		e.mu.Lock()
		delay, openErr := e.openDelay, e.openErr
		e.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if openErr != nil {
			return nil, openErr
		}

		e.opens.Add(1)
		return &transport{emu: e, closed: make(chan struct{})}, nil
	})
}

// Opens returns how many transports were opened.
func (e *Emulator) Opens() int {
	return int(e.opens.Load())
}

// SetApp switches the foreground application.
func (e *Emulator) SetApp(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.app.Name = name
}

// SetLocked simulates the PIN screen.
func (e *Emulator) SetLocked(locked bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.locked = locked
}

// SetConfirm installs the user confirmation hook. A nil hook approves
// everything.
func (e *Emulator) SetConfirm(fn func(Request) bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.confirm = fn
}

// SetConfirmDelay makes every confirmation take d, as a user would.
func (e *Emulator) SetConfirmDelay(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.delay = d
}

// SetOpenBehavior delays opening and optionally fails it.
func (e *Emulator) SetOpenBehavior(delay time.Duration, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.openDelay = delay
	e.openErr = err
}

// SetOnExchange installs a hook called with every incoming APDU.
func (e *Emulator) SetOnExchange(fn func(apdu []byte)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onExchange = fn
}

// Wipe erases the seed; later signing requests fail.
func (e *Emulator) Wipe() {
	e.seed.wipe()
}

// transport is one open connection to the emulator. Multi-chunk requests
// are buffered per transport.
type transport struct {
	emu       *Emulator
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	pending *pendingRequest
}

type pendingRequest struct {
	cla, ins byte
	path     []uint32
	data     []byte
	expected int
}

var errClosed = errors.Wrap(io.ErrClosedPipe, "emulator transport closed")

func (t *transport) Exchange(apdu []byte) ([]byte, error) {
	select {
	case <-t.closed:
		return nil, errClosed
	default:
	}

	t.emu.mu.Lock()
	hook := t.emu.onExchange
	t.emu.mu.Unlock()
	if hook != nil {
		hook(apdu)
	}

	if len(apdu) < 5 || int(apdu[4]) != len(apdu)-5 {
		return status(device.SWWrongLength), nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	return t.handle(apdu[0], apdu[1], apdu[2], apdu[3], apdu[5:])
}

func (t *transport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

func (t *transport) handle(cla, ins, p1, p2 byte, data []byte) ([]byte, error) {
	e := t.emu

	e.mu.Lock()
	locked, app := e.locked, e.app
	e.mu.Unlock()

	if locked {
		return status(device.SWDeviceLocked), nil
	}

	if cla == device.CLADashboard {
		if ins != device.InsGetAppAndVersion {
			return status(device.SWInsNotSupported), nil
		}
		reply := []byte{device.AppInfoFormat, byte(len(app.Name))}
		reply = append(reply, app.Name...)
		reply = append(reply, byte(len(app.Version)))
		reply = append(reply, app.Version...)
		reply = append(reply, 0x01, 0x00)
		return ok(reply), nil
	}

	switch {
	case app.Name == "Ethereum" && cla == device.CLAEthereum:
		return t.handleEthereum(ins, p1, data)
	case (app.Name == "Bitcoin" || app.Name == "Bitcoin Test") && cla == device.CLABitcoin:
		return t.handleBitcoin(ins, p1, p2, data)
	case app.Name == "Solana" && cla == device.CLASolana:
		return t.handleSolana(ins, p1, p2, data)
	case app.Name == device.DashboardAppName:
		return status(device.SWAppNotOpen), nil
	default:
		return status(device.SWClaNotSupported), nil
	}
}

// approve runs the confirmation hook after the configured delay. A closed
// transport aborts the wait.
func (t *transport) approve(req Request) (bool, error) {
	t.emu.mu.Lock()
	confirm, delay := t.emu.confirm, t.emu.delay
	t.emu.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-t.closed:
			return false, errClosed
		}
	}
	if confirm == nil {
		return true, nil
	}
	return confirm(req), nil
}

func (t *transport) seed() ([]byte, bool) {
	s := t.emu.seed.get()
	return s, s != nil
}

func status(sw uint16) []byte {
	return binary.BigEndian.AppendUint16(nil, sw)
}

func ok(data []byte) []byte {
	return binary.BigEndian.AppendUint16(append([]byte{}, data...), device.SWOK)
}
