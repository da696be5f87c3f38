package msgcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"filippo.io/age"
	"github.com/klauspost/compress/zstd"

	"github.com/MardaOneli/WaBot/internal/codec"
)

const snapshotVersion = 1

type snapshot struct {
	Version int      `cbor:"v"`
	Records []Record `cbor:"records"`
}

// FileSnapshotter keeps the snapshot in a single file: CBOR, zstd
// compressed, and age-encrypted when a passphrase is set.
type FileSnapshotter struct {
	Path       string
	passphrase string
	workFactor int
}

// FileOption configures a FileSnapshotter.
type FileOption func(*FileSnapshotter)

// WithPassphrase encrypts the snapshot with an age scrypt recipient.
func WithPassphrase(passphrase string) FileOption {
	return func(f *FileSnapshotter) { f.passphrase = passphrase }
}

// WithWorkFactor overrides the scrypt work factor (log2 of N).
func WithWorkFactor(logN int) FileOption {
	return func(f *FileSnapshotter) { f.workFactor = logN }
}

// NewFileSnapshotter returns a snapshotter writing to path.
func NewFileSnapshotter(path string, opts ...FileOption) *FileSnapshotter {
	f := &FileSnapshotter{Path: path}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Load reads the snapshot. A missing file is an empty snapshot.
func (f *FileSnapshotter) Load(_ context.Context) ([]Record, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer file.Close()

	var src io.Reader = file
	if f.passphrase != "" {
		identity, err := age.NewScryptIdentity(f.passphrase)
		if err != nil {
			return nil, fmt.Errorf("snapshot identity: %w", err)
		}
		src, err = age.Decrypt(file, identity)
		if err != nil {
			return nil, fmt.Errorf("decrypt snapshot: %w", err)
		}
	}

	zr, err := zstd.NewReader(src)
	if err != nil {
		return nil, fmt.Errorf("snapshot decompressor: %w", err)
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snap snapshot
	if err := codec.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	return snap.Records, nil
}

// Save overwrites the snapshot atomically: it writes a temp file in the
// same directory and renames it over Path.
func (f *FileSnapshotter) Save(_ context.Context, records []Record) error {
	data, err := codec.Marshal(snapshot{Version: snapshotVersion, Records: records})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	dir := filepath.Dir(f.Path)
	tmp, err := os.CreateTemp(dir, filepath.Base(f.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := f.write(tmp, data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func (f *FileSnapshotter) write(dst io.Writer, data []byte) error {
	var sealer io.WriteCloser
	if f.passphrase != "" {
		recipient, err := age.NewScryptRecipient(f.passphrase)
		if err != nil {
			return fmt.Errorf("snapshot recipient: %w", err)
		}
		if f.workFactor > 0 {
			recipient.SetWorkFactor(f.workFactor)
		}
		sealer, err = age.Encrypt(dst, recipient)
		if err != nil {
			return fmt.Errorf("encrypt snapshot: %w", err)
		}
		dst = sealer
	}

	zw, err := zstd.NewWriter(dst)
	if err != nil {
		return fmt.Errorf("snapshot compressor: %w", err)
	}
	if _, err := zw.Write(data); err != nil {
		zw.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("flush snapshot: %w", err)
	}
	if sealer != nil {
		if err := sealer.Close(); err != nil {
			return fmt.Errorf("seal snapshot: %w", err)
		}
	}
	return nil
}
