package channel

import (
	"errors"
	"fmt"
)

// ErrAuthExpired means the stored credentials were invalidated and the account must be paired again.
var ErrAuthExpired = errors.New("authentication expired: re-pair required")

// TransportError wraps a transient network or protocol failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return "transport " + e.Op + " failed"
	}

	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

// NewTransportError wraps err for op. A nil err stays nil and ErrAuthExpired is kept unwrapped
// so callers can tell terminal failures apart.
func NewTransportError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrAuthExpired) {
		return err
	}

	return &TransportError{Op: op, Err: err}
}

// IsTransient reports whether err is a retryable transport failure.
func IsTransient(err error) bool {
	var transportErr *TransportError
	return errors.As(err, &transportErr)
}
