// Package session bootstraps protocol clients and supervises the
// connection, re-bootstrapping with backoff after transient closes.
package session

import (
	"context"
	"errors"

	"github.com/MardaOneli/WaBot/internal/events"
	"github.com/MardaOneli/WaBot/internal/reply"
	"github.com/MardaOneli/WaBot/internal/version"
)

// ErrNotConnected is returned when a send is attempted between clients.
var ErrNotConnected = errors.New("no active client")

// Client is one protocol session. A Client is used for a single
// bootstrap attempt and discarded on reconnect.
type Client interface {
	reply.Messenger

	// Events delivers batches in library order. The channel is closed
	// after Disconnect.
	Events() <-chan events.Batch
	Connect(ctx context.Context) error
	Disconnect()
	IsRegistered() bool
	// OwnAddress is the registered address, empty before pairing.
	OwnAddress() string
	// QRCodes must be called before Connect. The channel yields each
	// code to display and is closed once pairing ends.
	QRCodes(ctx context.Context) (<-chan string, error)
	// RequestPairingCode must be called after Connect.
	RequestPairingCode(ctx context.Context, phone string) (string, error)
}

// CredentialStore loads the durable credential state.
type CredentialStore interface {
	Load(ctx context.Context) error
}

// VersionFetcher looks up the current protocol version.
type VersionFetcher interface {
	Fetch(ctx context.Context) (version.Info, error)
}

// ClientParams are handed to the factory for every attempt. A zero
// Version selects the library default.
type ClientParams struct {
	Version   version.Version
	AttemptID string
}

// ClientFactory constructs clients around the loaded credentials.
type ClientFactory interface {
	NewClient(ctx context.Context, p ClientParams) (Client, error)
}

// PhoneSource supplies the phone number for pairing-code linking.
type PhoneSource interface {
	PhoneNumber(ctx context.Context) (string, error)
}
