// Package authstate keeps the linked-device credentials in the protocol
// library's SQL store, on SQLite or PostgreSQL.
package authstate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	// SQL drivers for the two supported dialects.
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/MardaOneli/WaBot/internal/failure"
)

// ErrNotLoaded is returned when credentials are used before Load.
var ErrNotLoaded = errors.New("credentials not loaded")

// Store owns the sqlstore container and the current device.
type Store struct {
	dialect string
	dsn     string
	log     waLog.Logger

	mu        sync.Mutex
	container *sqlstore.Container
	device    *store.Device
}

// New returns an unopened Store.
func New(dialect, dsn string, log waLog.Logger) *Store {
	return &Store{dialect: dialect, dsn: dsn, log: log}
}

// Load opens the store on first use and reads the first device, creating
// an unregistered one when the store is empty. Failures are
// *failure.AuthLoadError.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.container == nil {
		switch s.dialect {
		case "sqlite3", "postgres":
		default:
			return &failure.AuthLoadError{Source: s.dialect, Err: fmt.Errorf("unsupported dialect %q", s.dialect)}
		}
		container, err := sqlstore.New(ctx, s.dialect, s.dsn, s.log)
		if err != nil {
			return &failure.AuthLoadError{Source: s.dialect, Err: err}
		}
		s.container = container
	}

	device, err := s.container.GetFirstDevice(ctx)
	if err != nil {
		return &failure.AuthLoadError{Source: s.dialect, Err: err}
	}
	s.device = device
	return nil
}

// Device returns the loaded device or nil.
func (s *Store) Device() *store.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device
}

// PersistCredentials writes the device row. An unregistered device has
// nothing to write yet.
func (s *Store) PersistCredentials(ctx context.Context) error {
	device := s.Device()
	if device == nil {
		return ErrNotLoaded
	}
	if device.ID == nil {
		return nil
	}
	if err := device.Save(ctx); err != nil {
		return fmt.Errorf("save device: %w", err)
	}
	return nil
}
