package conductor

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrClosed      = errors.New("conductor: connection closed")
	ErrAppNotFound = errors.New("conductor: app not found")
)

// ConnectionError reports that the endpoint could not be reached.
type ConnectionError struct {
	URL     string
	Timeout time.Duration
	Err     error
}

func (e *ConnectionError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("conductor: connect %s (timeout %s): %v", e.URL, e.Timeout, e.Err)
	}
	return fmt.Sprintf("conductor: connect %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

type NotFoundError struct {
	AppID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("conductor: app %q not found", e.AppID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrAppNotFound }

// RemoteError carries an error the conductor reported for a request.
type RemoteError struct {
	Op   string
	Type string
	Data any
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("conductor: %s failed: %s: %v", e.Op, e.Type, e.Data)
}

type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	if e.After > 0 {
		return fmt.Sprintf("conductor: %s timed out after %s", e.Op, e.After)
	}
	return fmt.Sprintf("conductor: %s timed out", e.Op)
}

func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

// DecodeError reports a frame or payload that could not be decoded.
type DecodeError struct {
	What string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("conductor: decode %s: %v", e.What, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

const (
	OutcomeOK         = "ok"
	OutcomeConnection = "connection"
	OutcomeNotFound   = "not_found"
	OutcomeRemote     = "remote"
	OutcomeTimeout    = "timeout"
	OutcomeDecode     = "decode"
	OutcomeCanceled   = "canceled"
	OutcomeError      = "error"
)

// Outcome classifies err for metrics labels.
func Outcome(err error) string {
	var (
		connErr    *ConnectionError
		notFound   *NotFoundError
		remoteErr  *RemoteError
		timeoutErr *TimeoutError
		decodeErr  *DecodeError
	)
	switch {
	case err == nil:
		return OutcomeOK
	case errors.As(err, &notFound):
		return OutcomeNotFound
	case errors.As(err, &remoteErr):
		return OutcomeRemote
	case errors.As(err, &timeoutErr):
		return OutcomeTimeout
	case errors.As(err, &decodeErr):
		return OutcomeDecode
	case errors.As(err, &connErr), errors.Is(err, ErrClosed):
		return OutcomeConnection
	case errors.Is(err, context.Canceled):
		return OutcomeCanceled
	default:
		return OutcomeError
	}
}
