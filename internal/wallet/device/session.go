package device

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/util"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/chain"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/hdpath"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/walleterr"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// Session owns the connection to one hardware device. Concurrent Connect
// calls share a single attempt, and device operations run one at a time in
// arrival order.
type Session struct {
	opener   Opener
	cfg      Config
	recorder Recorder

	// connMu serializes connect and disconnect.
	connMu    sync.Mutex
	connGroup singleflight.Group
	// ops is the operation lock; semaphore waiters are served FIFO.
	ops *semaphore.Weighted

	mu        sync.RWMutex
	state     State
	transport Transport
	app       *AppInfo
}

// NewSession creates a disconnected session. Zero timeouts in cfg are
// replaced by the defaults.
func NewSession(opener Opener, cfg Config, recorder Recorder) *Session {
	def := DefaultConfig()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.SignTimeout <= 0 {
		cfg.SignTimeout = def.SignTimeout
	}
	if cfg.ExchangeTimeout <= 0 {
		cfg.ExchangeTimeout = def.ExchangeTimeout
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}

	return &Session{
		opener:   opener,
		cfg:      cfg,
		recorder: recorder,
		ops:      semaphore.NewWeighted(1),
		state:    StateDisconnected,
	}
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// ActiveApp returns the application seen by the last device operation.
func (s *Session) ActiveApp() *AppInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.app == nil {
		return nil
	}
	info := *s.app
	return &info
}

// Connect opens the transport. It is idempotent while connected, and callers
// arriving during an attempt wait for that attempt instead of starting
// another one. A zero timeout uses Config.ConnectTimeout.
func (s *Session) Connect(ctx context.Context, timeout time.Duration) error {
	if s.State() == StateConnected {
		return nil
	}
	if timeout <= 0 {
		timeout = s.cfg.ConnectTimeout
	}

	// the shared attempt must outlive any single caller
	attemptCtx := context.WithoutCancel(ctx)
	ch := s.connGroup.DoChan("connect", func() (interface{}, error) {
		return nil, s.connect(attemptCtx, timeout)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return walleterr.Wrap(walleterr.KindConnectionTimeout, "connect", ctx.Err())
		}
		return errors.Wrap(ctx.Err(), "connect canceled")
	}
}

func (s *Session) connect(ctx context.Context, timeout time.Duration) error {
	log := util.LogFromContext(ctx)

	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.State() == StateConnected {
		return nil
	}
	s.setState(StateConnecting)

	openCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		t   Transport
		err error
	}
	done := make(chan result, 1)
	go func() {
		t, err := s.opener.Open(openCtx)
		done <- result{t: t, err: err}
	}()

	var t Transport
	select {
	case r := <-done:
		if r.err != nil {
			s.setState(StateDisconnected)
			if openCtx.Err() != nil {
				return walleterr.Wrap(walleterr.KindConnectionTimeout, "connect", r.err)
			}
			return walleterr.Wrap(walleterr.KindDeviceDisconnected, "connect", r.err)
		}
		t = r.t
	case <-openCtx.Done():
		// an opener that ignores its context may still hand over a transport
		go func() {
			if r := <-done; r.t != nil {
				_ = r.t.Close()
			}
		}()
		s.setState(StateDisconnected)
		return walleterr.Wrap(walleterr.KindConnectionTimeout, "connect",
			errors.Errorf("device did not answer within %s", timeout))
	}

	s.recorder.TransportOpened()

	s.mu.Lock()
	s.transport = t
	s.state = StateConnected
	s.app = nil
	s.mu.Unlock()
	s.recorder.SetState(StateConnected)

	log.Info().Msg("Device connected")

	return nil
}

// Disconnect waits for the running operation, closes the transport and
// leaves the session Disconnected. Closing errors are logged, not returned.
func (s *Session) Disconnect(ctx context.Context) error {
	log := util.LogFromContext(ctx)

	s.connMu.Lock()
	defer s.connMu.Unlock()

	if err := s.ops.Acquire(ctx, 1); err != nil {
		return errors.Wrap(err, "failed to wait for running device operation")
	}
	defer s.ops.Release(1)

	s.mu.Lock()
	t := s.transport
	s.transport = nil
	s.state = StateDisconnected
	s.app = nil
	s.mu.Unlock()
	s.recorder.SetState(StateDisconnected)

	if t != nil {
		if err := t.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close device transport")
		}
		log.Info().Msg("Device disconnected")
	}

	return nil
}

// DeriveAddress returns the account at p. With display set the device shows
// the address for confirmation and the signing timeout applies.
func (s *Session) DeriveAddress(ctx context.Context, c chain.Chain, p hdpath.DerivationPath, display bool) (*Address, error) {
	if err := checkPath(c, p); err != nil {
		return nil, err
	}

	timeout := s.cfg.ExchangeTimeout
	if display {
		timeout = s.cfg.SignTimeout
	}

	var addr *Address
	err := s.run(ctx, "derive_address", c, p, timeout, func(t Transport, a app) error {
		var err error
		addr, err = a.getAddress(t, p, display)
		return err
	})
	return addr, err
}

// SignTransaction asks the device to sign an encoded transaction. For EVM
// the payload is the unsigned transaction, for Solana the serialized
// message, and for Bitcoin one sighash built with EncodeBitcoinDigest.
func (s *Session) SignTransaction(ctx context.Context, c chain.Chain, p hdpath.DerivationPath, payload []byte) (*Signature, error) {
	if err := checkPath(c, p); err != nil {
		return nil, err
	}

	var sig *Signature
	err := s.run(ctx, "sign_transaction", c, p, s.cfg.SignTimeout, func(t Transport, a app) error {
		var err error
		sig, err = a.signTransaction(t, p, payload)
		return err
	})
	return sig, err
}

// SignMessage signs an off-chain message with the chain's message scheme.
func (s *Session) SignMessage(ctx context.Context, c chain.Chain, p hdpath.DerivationPath, msg []byte) (*Signature, error) {
	if err := checkPath(c, p); err != nil {
		return nil, err
	}

	var sig *Signature
	err := s.run(ctx, "sign_message", c, p, s.cfg.SignTimeout, func(t Transport, a app) error {
		var err error
		sig, err = a.signMessage(t, p, msg)
		return err
	})
	return sig, err
}

// AppInfo queries the application currently open on the device.
func (s *Session) AppInfo(ctx context.Context) (*AppInfo, error) {
	var info *AppInfo
	err := s.run(ctx, "get_app_info", "", hdpath.DerivationPath{}, s.cfg.ExchangeTimeout, func(t Transport, _ app) error {
		var err error
		info, err = s.refreshApp(t)
		return err
	})
	return info, err
}

func checkPath(c chain.Chain, p hdpath.DerivationPath) error {
	if p.IsZero() || p.Chain() != c {
		return walleterr.New(walleterr.KindInvalidPath, "device", "path %s is not a %s path", p, c)
	}
	return nil
}

// run executes fn under the operation lock and logs and records the outcome.
func (s *Session) run(
	ctx context.Context,
	op string,
	c chain.Chain,
	p hdpath.DerivationPath,
	timeout time.Duration,
	fn func(t Transport, a app) error,
) error {
	start := time.Now()
	log := util.LogFromContext(ctx).With().
		Str("op", op).
		Str("op_id", uuid.NewString()).
		Str("chain", c.String()).
		Logger()
	if !p.IsZero() {
		log = log.With().Str("path", p.String()).Logger()
	}

	err := s.runLocked(ctx, op, c, timeout, fn)

	outcome := "ok"
	if err != nil {
		outcome = walleterr.KindOf(err).String()
	}
	elapsed := time.Since(start)
	s.recorder.ObserveOperation(op, c, outcome, elapsed)

	if err != nil {
		log.Warn().Err(err).Dur("duration", elapsed).Msg("Device operation failed")
		return err
	}
	log.Debug().Dur("duration", elapsed).Msg("Device operation completed")
	return nil
}

func (s *Session) runLocked(ctx context.Context, op string, c chain.Chain, timeout time.Duration, fn func(t Transport, a app) error) error {
	if s.State() != StateConnected {
		return walleterr.New(walleterr.KindNotConnected, op, "device session is not connected")
	}

	var a app
	if c != "" {
		var err error
		if a, err = appFor(c); err != nil {
			return err
		}
	}

	if err := s.ops.Acquire(ctx, 1); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return walleterr.Wrap(walleterr.KindConnectionTimeout, op, err)
		}
		return errors.Wrap(err, "failed to wait for device")
	}
	defer s.ops.Release(1)

	s.mu.RLock()
	t := s.transport
	state := s.state
	s.mu.RUnlock()
	if state != StateConnected || t == nil {
		return walleterr.New(walleterr.KindNotConnected, op, "device session is not connected")
	}

	done := make(chan error, 1)
	go func() {
		if a == nil {
			done <- fn(t, nil)
			return
		}
		done <- s.withApp(t, op, c, a, fn)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if walleterr.Is(err, walleterr.KindDeviceDisconnected) {
			s.drop(ctx, t)
		}
		return err
	case <-timer.C:
		// closing the transport unblocks the pending exchange
		s.drop(ctx, t)
		return walleterr.Wrap(walleterr.KindConnectionTimeout, op,
			errors.Errorf("no response from device within %s", timeout))
	}
}

// withApp checks that the chain's app is in the foreground before fn talks
// to it.
func (s *Session) withApp(t Transport, op string, c chain.Chain, a app, fn func(t Transport, a app) error) error {
	info, err := s.refreshApp(t)
	if err != nil {
		return err
	}
	if !appMatches(c, info.Name) {
		return walleterr.New(walleterr.KindWrongAppOpen, op, "%q is open, expected %s",
			info.Name, strings.Join(AppNames(c), " or "))
	}
	return fn(t, a)
}

func (s *Session) refreshApp(t Transport) (*AppInfo, error) {
	info, err := getAppAndVersion(t)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.transport == t {
		cp := *info
		s.app = &cp
	}
	s.mu.Unlock()

	return info, nil
}

// drop forces the session to Disconnected if t is still its transport.
func (s *Session) drop(ctx context.Context, t Transport) {
	s.mu.Lock()
	if s.transport != t {
		s.mu.Unlock()
		return
	}
	s.transport = nil
	s.state = StateDisconnected
	s.app = nil
	s.mu.Unlock()
	s.recorder.SetState(StateDisconnected)

	if err := t.Close(); err != nil {
		util.LogFromContext(ctx).Debug().Err(err).Msg("Failed to close dropped transport")
	}
	util.LogFromContext(ctx).Warn().Msg("Device connection dropped")
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.recorder.SetState(state)
}
