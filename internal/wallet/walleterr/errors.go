package walleterr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies every failure the wallet surfaces to callers.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotConnected
	KindConnectionTimeout
	KindUserRejected
	KindWrongAppOpen
	KindDeviceLocked
	KindDeviceDisconnected
	KindInvalidPayload
	KindInvalidAddress
	KindInvalidPath
	KindInvalidRequest
	KindInsufficientBalance
	KindInsufficientFunds
	KindTransactionTooLarge
	KindMethodNotFound
	KindRPC
)

var kindNames = map[Kind]string{
	KindUnknown:             "unknown",
	KindNotConnected:        "not_connected",
	KindConnectionTimeout:   "connection_timeout",
	KindUserRejected:        "user_rejected",
	KindWrongAppOpen:        "wrong_app_open",
	KindDeviceLocked:        "device_locked",
	KindDeviceDisconnected:  "device_disconnected",
	KindInvalidPayload:      "invalid_payload",
	KindInvalidAddress:      "invalid_address",
	KindInvalidPath:         "invalid_path",
	KindInvalidRequest:      "invalid_request",
	KindInsufficientBalance: "insufficient_balance",
	KindInsufficientFunds:   "insufficient_funds",
	KindTransactionTooLarge: "transaction_too_large",
	KindMethodNotFound:      "method_not_found",
	KindRPC:                 "rpc_error",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Permanent reports whether an error of this kind can never succeed on retry.
func (k Kind) Permanent() bool {
	switch k {
	case KindInvalidAddress, KindInvalidPath, KindInvalidRequest, KindInvalidPayload,
		KindInsufficientBalance, KindInsufficientFunds, KindTransactionTooLarge, KindMethodNotFound:
		return true
	default:
		return false
	}
}

// Error is the tagged error carried through every layer of the wallet.
// StatusWord is only set for errors reported by the device.
type Error struct {
	Kind       Kind
	Op         string
	StatusWord uint16
	Err        error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.StatusWord != 0 {
		msg = fmt.Sprintf("%s (status 0x%04X)", msg, e.StatusWord)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind. Op and StatusWord of the
// target are only compared when set, so the sentinels below match any
// error of their kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error) //nolint:errorlint // Is must compare the target itself
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	if t.Op != "" && t.Op != e.Op {
		return false
	}
	if t.StatusWord != 0 && t.StatusWord != e.StatusWord {
		return false
	}
	return true
}

var (
	ErrNotConnected        = &Error{Kind: KindNotConnected}
	ErrConnectionTimeout   = &Error{Kind: KindConnectionTimeout}
	ErrUserRejected        = &Error{Kind: KindUserRejected}
	ErrWrongAppOpen        = &Error{Kind: KindWrongAppOpen}
	ErrDeviceLocked        = &Error{Kind: KindDeviceLocked}
	ErrDeviceDisconnected  = &Error{Kind: KindDeviceDisconnected}
	ErrInvalidPayload      = &Error{Kind: KindInvalidPayload}
	ErrInvalidAddress      = &Error{Kind: KindInvalidAddress}
	ErrInvalidPath         = &Error{Kind: KindInvalidPath}
	ErrInvalidRequest      = &Error{Kind: KindInvalidRequest}
	ErrInsufficientBalance = &Error{Kind: KindInsufficientBalance}
	ErrInsufficientFunds   = &Error{Kind: KindInsufficientFunds}
	ErrTransactionTooLarge = &Error{Kind: KindTransactionTooLarge}
	ErrMethodNotFound      = &Error{Kind: KindMethodNotFound}
	ErrRPC                 = &Error{Kind: KindRPC}
)

// New creates a tagged error with a formatted message.
func New(kind Kind, op string, format string, args ...interface{}) error {
	return &Error{
		Kind: kind,
		Op:   op,
		Err:  errors.Errorf(format, args...),
	}
}

// Wrap tags err with kind. Wrapping nil returns nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind: kind,
		Op:   op,
		Err:  err,
	}
}

// FromStatus creates a device error for a status word.
func FromStatus(kind Kind, op string, sw uint16) error {
	return &Error{
		Kind:       kind,
		Op:         op,
		StatusWord: sw,
	}
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// StatusWordOf returns the device status word carried by err, if any.
func StatusWordOf(err error) (uint16, bool) {
	var e *Error
	if errors.As(err, &e) && e.StatusWord != 0 {
		return e.StatusWord, true
	}
	return 0, false
}
