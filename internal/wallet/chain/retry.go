package chain

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/util"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/walleterr"
	"github.com/pkg/errors"
)

const (
	DefaultMaxAttempts     = 4
	DefaultInitialInterval = 250 * time.Millisecond
	DefaultMaxInterval     = 4 * time.Second
)

// RetryConfig bounds the exponential backoff applied to chain RPC calls.
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration

	// OnRetry is called before every retry, e.g. to count retries.
	OnRetry func(op string, err error)
}

// DefaultRetryConfig returns the retry bounds used when nothing is configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     DefaultMaxAttempts,
		InitialInterval: DefaultInitialInterval,
		MaxInterval:     DefaultMaxInterval,
	}
}

// Classifier reports whether an error is worth retrying.
type Classifier func(err error) bool

// HTTPStatusError is returned by REST clients for non-2xx replies.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether the status code signals a temporary condition.
func (e *HTTPStatusError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// DefaultTransient classifies errors shared by all transports: network
// failures, truncated responses, rate limits and server errors are transient;
// validation failures and cancellation are not.
func DefaultTransient(err error) bool {
	if err == nil {
		return false
	}

	var werr *walleterr.Error
	if errors.As(err, &werr) && werr.Kind.Permanent() {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Transient()
	}

	return false
}

// Retry runs fn until it succeeds, fails with a non-transient error, the
// attempt budget is exhausted or ctx is done. Errors that are not already
// tagged are returned as RPC errors.
func Retry[T any](ctx context.Context, cfg RetryConfig, op string, transient Classifier, fn func(ctx context.Context) (T, error)) (T, error) {
	log := util.LogFromContext(ctx)

	if transient == nil {
		transient = DefaultTransient
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	b := backoff.NewExponentialBackOff()
	if cfg.InitialInterval > 0 {
		b.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		b.MaxInterval = cfg.MaxInterval
	}
	b.MaxElapsedTime = 0

	//nolint:gosec // MaxAttempts is clamped to >= 1 above
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(cfg.MaxAttempts-1)), ctx)

	var result T
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		res, err := fn(ctx)
		if err == nil {
			result = res
			return nil
		}
		if !transient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		log.Debug().
			Str("op", op).
			Int("attempt", attempt).
			Dur("wait", wait).
			Err(err).
			Msg("Retrying RPC call")
		if cfg.OnRetry != nil {
			cfg.OnRetry(op, err)
		}
	})
	if err != nil {
		var zero T
		var werr *walleterr.Error
		if errors.As(err, &werr) {
			return zero, err
		}
		return zero, walleterr.Wrap(walleterr.KindRPC, op, err)
	}

	return result, nil
}
