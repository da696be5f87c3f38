package whatsapp

import (
	"context"
	"errors"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.uber.org/zap"

	"github.com/MardaOneli/WaBot/internal/session"
)

// DeviceSource provides the loaded credentials.
type DeviceSource interface {
	Device() *store.Device
}

// Factory builds whatsmeow clients for the bootstrapper.
type Factory struct {
	Devices DeviceSource
	Log     *zap.Logger
	Buffer  int
}

var _ session.ClientFactory = (*Factory)(nil)

// NewClient implements session.ClientFactory.
func (f *Factory) NewClient(_ context.Context, p session.ClientParams) (session.Client, error) {
	device := f.Devices.Device()
	if device == nil {
		return nil, errors.New("no device loaded")
	}
	if !p.Version.IsZero() {
		store.SetWAVersion(store.WAVersionContainer(p.Version))
	}
	log := f.Log.With(zap.String("attempt", p.AttemptID))
	cli := whatsmeow.NewClient(device, Logger(log.Named("whatsmeow")))
	cli.EnableAutoReconnect = false

	buffer := f.Buffer
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return newClient(cli, log, buffer), nil
}
