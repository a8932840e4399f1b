// Package ai holds the error taxonomy shared by the VAD engine, the decoder
// and the injection player.
package ai

import (
	"context"
	"errors"
	"fmt"
)

// Classification sentinels.
var (
	// ErrRecoverable indicates a temporary failure that may succeed if retried.
	// Examples: network timeout, origin rejecting a request.
	ErrRecoverable = errors.New("recoverable error")

	// ErrFatal indicates a permanent failure that will not succeed if retried.
	// Examples: unknown VAD backend, malformed audio payload.
	ErrFatal = errors.New("fatal error")
)

// Error kinds.
var (
	// ErrConfiguration is a bad or missing VAD backend or option. The VAD
	// factory attempts one fallback before surfacing it.
	ErrConfiguration = errors.New("configuration error")

	// ErrTransientNetwork is a fetch failure. The player retries once against
	// the alternate origin before failing the playback.
	ErrTransientNetwork = errors.New("transient network error")

	// ErrDecode is a malformed or unsupported audio payload. It aborts the
	// current playback only.
	ErrDecode = errors.New("decode error")

	// ErrCancelled marks a controlled stop. It is not a failure.
	ErrCancelled = errors.New("cancelled")

	// ErrStateTimeout is raised when the coordinator failsafe clears a stuck
	// injection flag.
	ErrStateTimeout = errors.New("state timeout")
)

// Error carries a kind, the operation that failed and the cause.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	default:
		return e.Kind.Error()
	}
}

// Unwrap exposes the kind, the retry classification and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	errs := []error{e.Kind, classify(e.Kind)}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func classify(kind error) error {
	if kind == ErrTransientNetwork {
		return ErrRecoverable
	}
	return ErrFatal
}

// Configuration wraps err as a configuration error.
func Configuration(op string, err error) error {
	return &Error{Kind: ErrConfiguration, Op: op, Err: err}
}

// TransientNetwork wraps err as a transient network error.
func TransientNetwork(op string, err error) error {
	return &Error{Kind: ErrTransientNetwork, Op: op, Err: err}
}

// Decode wraps err as a decode error.
func Decode(op string, err error) error {
	return &Error{Kind: ErrDecode, Op: op, Err: err}
}

// StateTimeout reports a failsafe firing.
func StateTimeout(op string, err error) error {
	return &Error{Kind: ErrStateTimeout, Op: op, Err: err}
}

// IsRecoverable checks if an error is recoverable and should be retried
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrRecoverable)
}

// IsFatal checks if an error is fatal and should not be retried
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

// IsCancellation reports whether err is a controlled stop rather than a failure.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}
