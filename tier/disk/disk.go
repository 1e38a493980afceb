// Package disk is the per-key file tier. Each key lives in its own file under
// one of 256 subdirectories (00-ff) named after the first byte of the key's
// digest, similar to Go's build cache layout.
//
// File content is a CBOR record holding the clear-text key and the entry bytes.
// Writes go to a temp file first and are renamed into place, so readers never
// observe a partial file. A flock on <dir>/.lock coordinates processes sharing
// the directory: writers take it shared, DeletePrefix takes it exclusive.
package disk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gofrs/flock"

	"github.com/unkn0wn-root/tiercache/tier"
)

const (
	lockFile  = ".lock"
	tmpSuffix = ".tmp"
	lockRetry = 10 * time.Millisecond
	nameLen   = 32
)

type record struct {
	Key   string `cbor:"k"`
	Entry []byte `cbor:"e"`
}

// Disk stores one file per key under Dir.
type Disk struct {
	dir string
	enc cbor.EncMode
	dec cbor.DecMode

	// mu makes DeletePrefix atomic w.r.t. this process's Get/Set/Del.
	mu sync.RWMutex
}

var _ tier.Tier = (*Disk)(nil)

type Config struct {
	Dir string // required; created if missing
}

func New(cfg Config) (*Disk, error) {
	if cfg.Dir == "" {
		return nil, errors.New("disk tier: dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	abs, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	// Precreate all 256 subdirectories to avoid MkdirAll on the write path.
	for i := 0; i < 256; i++ {
		sub := filepath.Join(abs, fmt.Sprintf("%02x", i))
		if err := os.MkdirAll(sub, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create subdirectory %s: %w", sub, err)
		}
	}

	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, err
	}
	return &Disk{dir: abs, enc: enc, dec: dec}, nil
}

// Dir returns the absolute cache directory.
func (d *Disk) Dir() string { return d.dir }

func (d *Disk) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	h := hex.EncodeToString(sum[:16])
	return filepath.Join(d.dir, h[:2], h)
}

func (d *Disk) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	data, err := os.ReadFile(d.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache file: %w", err)
	}
	var rec record
	if err := d.dec.Unmarshal(data, &rec); err != nil {
		return nil, false, fmt.Errorf("%w: %v", tier.ErrCorrupt, err)
	}
	if rec.Key != key {
		// digest collision; the file belongs to another key
		return nil, false, nil
	}
	return rec.Entry, true, nil
}

func (d *Disk) Set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	data, err := d.enc.Marshal(record{Key: key, Entry: value})
	if err != nil {
		return err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	unlock, err := d.lock(ctx, false)
	if err != nil {
		return err
	}
	defer unlock()
	return writeAtomic(d.path(key), data)
}

func (d *Disk) Del(ctx context.Context, key string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	unlock, err := d.lock(ctx, false)
	if err != nil {
		return err
	}
	defer unlock()
	if err := os.Remove(d.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove cache file: %w", err)
	}
	return nil
}

// DeletePrefix reads the key of every record and removes the matching files.
// With an empty prefix every record is removed, including unreadable ones.
func (d *Disk) DeletePrefix(ctx context.Context, prefix string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	unlock, err := d.lock(ctx, true)
	if err != nil {
		return err
	}
	defer unlock()

	return d.walk(func(path string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if prefix != "" {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil // raced with a concurrent remove
			}
			var rec record
			if d.dec.Unmarshal(data, &rec) != nil || !strings.HasPrefix(rec.Key, prefix) {
				return nil
			}
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove cache file: %w", err)
		}
		return nil
	})
}

// Purge removes records not written for longer than maxAge and returns how
// many were removed. maxAge <= 0 is a no-op.
func (d *Disk) Purge(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	unlock, err := d.lock(ctx, true)
	if err != nil {
		return 0, err
	}
	defer unlock()

	removed := 0
	err = d.walk(func(path string) error {
		info, err := os.Stat(path)
		if err != nil || time.Since(info.ModTime()) <= maxAge {
			return nil
		}
		if os.Remove(path) == nil {
			removed++
		}
		return nil
	})
	return removed, err
}

func (d *Disk) Close(context.Context) error { return nil }

func (d *Disk) walk(fn func(path string) error) error {
	subs, err := os.ReadDir(d.dir)
	if err != nil {
		return fmt.Errorf("failed to list cache directory: %w", err)
	}
	for _, sub := range subs {
		if !sub.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(d.dir, sub.Name()))
		if err != nil {
			continue
		}
		for _, f := range files {
			name := f.Name()
			if f.IsDir() || len(name) != nameLen {
				continue
			}
			if err := fn(filepath.Join(d.dir, sub.Name(), name)); err != nil {
				return err
			}
		}
	}
	return nil
}

// lock takes the directory flock. Each call opens its own descriptor so that
// concurrent goroutines hold independent locks.
func (d *Disk) lock(ctx context.Context, exclusive bool) (func(), error) {
	fl := flock.New(filepath.Join(d.dir, lockFile))
	var (
		ok  bool
		err error
	)
	if exclusive {
		ok, err = fl.TryLockContext(ctx, lockRetry)
	} else {
		ok, err = fl.TryRLockContext(ctx, lockRetry)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock cache directory: %w", err)
	}
	if !ok {
		return nil, errors.New("failed to lock cache directory")
	}
	return func() { _ = fl.Close() }, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*"+tmpSuffix)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	_, err = tmp.Write(data)
	closeErr := tmp.Close()
	if err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close temp file: %w", closeErr)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to rename cache file: %w", err)
	}
	return nil
}
