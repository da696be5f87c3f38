package session

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MardaOneli/WaBot/internal/failure"
)

// BootstrapConfig selects the linking flow and the version policy.
type BootstrapConfig struct {
	UsePairingCode bool
	// StrictVersion aborts the bootstrap when the version lookup fails.
	StrictVersion bool
}

// Bootstrapper turns durable credentials into a connected Client.
type Bootstrapper struct {
	creds    CredentialStore
	versions VersionFetcher
	factory  ClientFactory
	phone    PhoneSource
	renderQR func(code string)
	out      io.Writer
	log      *zap.Logger
	cfg      BootstrapConfig
}

// NewBootstrapper wires a Bootstrapper. phone is only used with
// UsePairingCode; renderQR only without it. out receives the pairing
// code.
func NewBootstrapper(
	creds CredentialStore,
	versions VersionFetcher,
	factory ClientFactory,
	phone PhoneSource,
	renderQR func(code string),
	out io.Writer,
	log *zap.Logger,
	cfg BootstrapConfig,
) *Bootstrapper {
	return &Bootstrapper{
		creds:    creds,
		versions: versions,
		factory:  factory,
		phone:    phone,
		renderQR: renderQR,
		out:      out,
		log:      log,
		cfg:      cfg,
	}
}

// Bootstrap runs one attempt. A credential failure is an
// *failure.AuthLoadError.
func (b *Bootstrapper) Bootstrap(ctx context.Context) (Client, error) {
	attempt := uuid.NewString()
	log := b.log.With(zap.String("attempt", attempt))

	if err := b.creds.Load(ctx); err != nil {
		var ale *failure.AuthLoadError
		if !errors.As(err, &ale) {
			err = &failure.AuthLoadError{Source: "credential store", Err: err}
		}
		return nil, err
	}

	info, err := b.versions.Fetch(ctx)
	switch {
	case err != nil && b.cfg.StrictVersion:
		return nil, err
	case err != nil:
		log.Warn("protocol version lookup failed, using library default", zap.Error(err))
		log.Info("using WA library default version, isLatest: false")
	default:
		log.Info(fmt.Sprintf("using WA v%s, isLatest: %t", info.Version, info.IsLatest))
	}

	client, err := b.factory.NewClient(ctx, ClientParams{Version: info.Version, AttemptID: attempt})
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	// The QR channel must be opened before Connect. With a pairing code
	// its first item only signals that the handshake is done.
	registered := client.IsRegistered()
	var codes <-chan string
	if !registered {
		codes, err = client.QRCodes(ctx)
		if err != nil {
			client.Disconnect()
			return nil, fmt.Errorf("subscribe to qr codes: %w", err)
		}
		if !b.cfg.UsePairingCode {
			go b.showQR(codes)
		}
	}

	if err := client.Connect(ctx); err != nil {
		client.Disconnect()
		return nil, fmt.Errorf("connect: %w", err)
	}

	if !registered && b.cfg.UsePairingCode {
		if err := b.pair(ctx, client, codes); err != nil {
			client.Disconnect()
			return nil, err
		}
	}

	log.Info("client bootstrapped", zap.Bool("registered", registered))
	return client, nil
}

func (b *Bootstrapper) pair(ctx context.Context, client Client, codes <-chan string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case _, ok := <-codes:
		if !ok {
			return errors.New("qr channel closed before the handshake completed")
		}
	}
	go drain(codes)

	phone, err := b.phone.PhoneNumber(ctx)
	if err != nil {
		return fmt.Errorf("read phone number: %w", err)
	}
	code, err := client.RequestPairingCode(ctx, phone)
	if err != nil {
		return fmt.Errorf("request pairing code: %w", err)
	}
	fmt.Fprintf(b.out, "Pairing code: %s\n", code)
	return nil
}

func drain(codes <-chan string) {
	for range codes {
	}
}

func (b *Bootstrapper) showQR(codes <-chan string) {
	for code := range codes {
		if b.renderQR != nil {
			b.renderQR(code)
		}
	}
}
