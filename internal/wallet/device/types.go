package device

import (
	"context"
	"time"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/chain"
)

// State of a Session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Transport exchanges raw APDUs with a device. Replies include the trailing
// two byte status word.
type Transport interface {
	Exchange(apdu []byte) ([]byte, error)
	Close() error
}

// Opener opens a fresh transport to the device.
type Opener interface {
	Open(ctx context.Context) (Transport, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context) (Transport, error)

func (f OpenerFunc) Open(ctx context.Context) (Transport, error) {
	return f(ctx)
}

// Recorder receives operational measurements. A nil Recorder is replaced by a
// no-op implementation.
type Recorder interface {
	ObserveOperation(op string, c chain.Chain, outcome string, d time.Duration)
	SetState(s State)
	TransportOpened()
}

type noopRecorder struct{}

func (noopRecorder) ObserveOperation(string, chain.Chain, string, time.Duration) {}
func (noopRecorder) SetState(State)                                              {}
func (noopRecorder) TransportOpened()                                            {}

// Config bounds how long the session waits on the device.
type Config struct {
	// ConnectTimeout is used when Connect is called with a zero timeout.
	ConnectTimeout time.Duration
	// SignTimeout bounds operations that wait for a user confirmation.
	SignTimeout time.Duration
	// ExchangeTimeout bounds operations that never prompt the user.
	ExchangeTimeout time.Duration
}

const (
	DefaultConnectTimeout  = 10 * time.Second
	DefaultSignTimeout     = 2 * time.Minute
	DefaultExchangeTimeout = 15 * time.Second
)

// DefaultConfig returns the timeouts used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:  DefaultConnectTimeout,
		SignTimeout:     DefaultSignTimeout,
		ExchangeTimeout: DefaultExchangeTimeout,
	}
}

// Address is a device-derived account.
type Address struct {
	Chain     chain.Chain `json:"chain"`
	Path      string      `json:"path"`
	Address   string      `json:"address"`
	PublicKey []byte      `json:"publicKey"`
}

// Signature as returned by the device. Raw holds the reply bytes unchanged:
// V‖R‖S for EVM, R‖S or a Schnorr signature for Bitcoin, an ed25519
// signature for Solana, and a BIP-137 header‖R‖S for Bitcoin messages.
type Signature struct {
	Chain chain.Chain `json:"chain"`
	Raw   []byte      `json:"raw"`
}

// AppInfo describes the application currently open on the device.
type AppInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}
