// Package store persists the node address in a small TOML state file.
package store

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
)

type state struct {
	Address uint16 `toml:"address"`
}

// File is an h9.AddressStore backed by a state file. Writes go to a
// temporary file that is renamed over the old state.
type File struct {
	path string
	mu   sync.Mutex
}

// NewFile returns a store for path. The file is created on first write.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the state file location.
func (f *File) Path() string { return f.path }

// LoadAddress reads the stored address. A missing file is not an error.
func (f *File) LoadAddress() (uint16, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var s state
	meta, err := toml.DecodeFile(f.path, &s)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read state %s: %w", f.path, err)
	}
	if !meta.IsDefined("address") {
		return 0, false, nil
	}
	return s.Address, true, nil
}

// StoreAddress writes addr to the state file.
func (f *File) StoreAddress(addr uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(state{Address: addr}); err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".state-*")
	if err != nil {
		return fmt.Errorf("create state file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close state: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}
