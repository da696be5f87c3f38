package failure

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorsUnwrapToCause(t *testing.T) {
	cases := []error{
		&AuthLoadError{Source: "auth_info.db", Err: io.ErrUnexpectedEOF},
		&VersionFetchError{URL: "http://x", Err: io.ErrUnexpectedEOF},
		&PersistError{Op: "credentials", Err: io.ErrUnexpectedEOF},
		&SendFailure{Step: "send", Target: "a@b", Err: io.ErrUnexpectedEOF},
	}
	for _, err := range cases {
		wrapped := fmt.Errorf("outer: %w", err)
		assert.ErrorIs(t, wrapped, io.ErrUnexpectedEOF, "%T", err)
	}
}

func TestErrorsAsCategory(t *testing.T) {
	err := fmt.Errorf("bootstrap: %w", &AuthLoadError{Source: "db", Err: errors.New("corrupt")})

	var authErr *AuthLoadError
	if assert.ErrorAs(t, err, &authErr) {
		assert.Equal(t, "db", authErr.Source)
	}
	assert.Contains(t, err.Error(), "load credentials from db: corrupt")
}

func TestConnectionClosedMessage(t *testing.T) {
	assert.Equal(t, "connection closed: connection lost", (&ConnectionClosed{Reason: "connection lost"}).Error())
	assert.Equal(t, "connection closed permanently: logged out",
		(&ConnectionClosed{Reason: "logged out", Permanent: true, Err: ErrLoggedOut}).Error())
	assert.Equal(t, "connection closed: connection lost: reconnect attempts exhausted",
		(&ConnectionClosed{Reason: "connection lost", Err: ErrReconnectLimit}).Error())
}

func TestConnectionClosedUnwraps(t *testing.T) {
	err := errors.Join(&ConnectionClosed{Reason: "connection lost", Err: ErrReconnectLimit})
	assert.ErrorIs(t, err, ErrReconnectLimit)

	var closed *ConnectionClosed
	if assert.ErrorAs(t, err, &closed) {
		assert.Equal(t, "connection lost", closed.Reason)
	}
}
