// Package failure holds the error types shared by the bootstrapper, the
// dispatcher, the reply action and the message cache. Each type wraps its
// cause so callers can use errors.Is on the underlying error and
// errors.As on the category.
package failure

import (
	"errors"
	"fmt"
)

// ErrLoggedOut is returned by the supervisor after a permanent logout.
var ErrLoggedOut = errors.New("logged out")

// ErrReconnectLimit is returned by the supervisor once the configured
// number of reconnect attempts is exhausted.
var ErrReconnectLimit = errors.New("reconnect attempts exhausted")

// AuthLoadError means the durable credential storage could not be read.
// It is fatal at startup.
type AuthLoadError struct {
	Source string
	Err    error
}

func (e *AuthLoadError) Error() string {
	return fmt.Sprintf("load credentials from %s: %v", e.Source, e.Err)
}

func (e *AuthLoadError) Unwrap() error { return e.Err }

// VersionFetchError means the protocol-version descriptor could not be
// fetched.
type VersionFetchError struct {
	URL string
	Err error
}

func (e *VersionFetchError) Error() string {
	return fmt.Sprintf("fetch protocol version from %s: %v", e.URL, e.Err)
}

func (e *VersionFetchError) Unwrap() error { return e.Err }

// ConnectionClosed is returned by the supervisor when it stops
// reconnecting. Reason is the last disconnect reason; Err is
// ErrLoggedOut or ErrReconnectLimit.
type ConnectionClosed struct {
	Reason    string
	Permanent bool
	Err       error
}

func (e *ConnectionClosed) Error() string {
	msg := "connection closed: " + e.Reason
	if e.Permanent {
		msg = "connection closed permanently: " + e.Reason
	}
	if e.Err != nil && e.Err.Error() != e.Reason {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConnectionClosed) Unwrap() error { return e.Err }

// PersistError means credential state or a cache snapshot could not be
// written.
type PersistError struct {
	Op  string
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// SendFailure means one step of the reply sequence failed; Step names it.
type SendFailure struct {
	Step   string
	Target string
	Err    error
}

func (e *SendFailure) Error() string {
	return fmt.Sprintf("reply to %s failed at %s: %v", e.Target, e.Step, e.Err)
}

func (e *SendFailure) Unwrap() error { return e.Err }
