package serviceclient

import (
	"errors"
	"fmt"
)

// Kind classifies how a call ended.
type Kind int

const (
	KindNone Kind = iota
	// KindInterrupted: the node shut down or ctx ended while the service was
	// not yet available. No request was sent.
	KindInterrupted
	// KindRequestFailed: the request was sent (or sending failed) but no
	// response was obtained. The request has been retracted.
	KindRequestFailed
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindInterrupted:
		return "interrupted"
	case KindRequestFailed:
		return "request_failed"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

var (
	ErrInterrupted   = errors.New("interrupted while waiting for service")
	ErrRequestFailed = errors.New("async_send_request failed")
)

// Error is returned by Invoke and InvokeInto. It matches ErrInterrupted or
// ErrRequestFailed with errors.Is, and unwraps to the underlying cause.
type Error struct {
	Service string
	Kind    Kind
	Cause   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s service client: %s", e.Service, e.sentinel())
}

func (e *Error) sentinel() error {
	if e.Kind == KindInterrupted {
		return ErrInterrupted
	}
	return ErrRequestFailed
}

func (e *Error) Is(target error) bool {
	return target == e.sentinel()
}

func (e *Error) Unwrap() error {
	return e.Cause
}
