package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

//go:generate moq -out mock_backend_test.go -skip-ensure -fmt goimports . Backend

// KnownSuffixes lists sibling files removed on repair, covers files left by other backend conventions
var KnownSuffixes = []string{"", ".db", ".dat", ".bak", ".dir"}

// Backend is the storage capability set used by Store. Load reports a missing file as an empty blob,
// Probe runs a cheap integrity check over loaded state, Persist replaces the whole stored state.
type Backend interface {
	Load() (*Blob, error)
	Probe(b *Blob) error
	Persist(b *Blob) error
	Files() []string // backend-specific files to remove on repair in addition to KnownSuffixes
	String() string
}

// backend kinds
const (
	BackendAuto   = "auto"
	BackendFile   = "file"
	BackendYAML   = "yaml"
	BackendSQLite = "sqlite"
)

// NewBackend makes backend of the given kind for path. Auto picks the kind by file extension.
func NewBackend(kind, path string) (Backend, error) {
	if kind == "" || kind == BackendAuto {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yml", ".yaml":
			kind = BackendYAML
		case ".sqlite", ".sqlite3":
			kind = BackendSQLite
		default:
			kind = BackendFile
		}
	}

	switch kind {
	case BackendFile:
		return &FileBackend{path: path, codec: BinaryCodec{}, name: BackendFile}, nil
	case BackendYAML:
		return &FileBackend{path: path, codec: YAMLCodec{}, name: BackendYAML}, nil
	case BackendSQLite:
		return &SQLiteBackend{path: path}, nil
	}
	return nil, fmt.Errorf("unknown backend %q", kind)
}

// FileBackend keeps the blob in a single flat file encoded by codec
type FileBackend struct {
	path  string
	codec Codec
	name  string
}

// NewFileBackend makes file backend with the given codec
func NewFileBackend(path string, codec Codec) *FileBackend {
	return &FileBackend{path: path, codec: codec, name: BackendFile}
}

// Load reads and decodes the file, missing file is an empty blob
func (f *FileBackend) Load() (*Blob, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewBlob(), nil
		}
		return nil, fmt.Errorf("can't read %s: %w", f.path, err)
	}
	return f.codec.Decode(data)
}

// Probe enumerates entries and checks each one is keyed by its own name
func (f *FileBackend) Probe(b *Blob) error {
	for name, e := range b.Entries {
		if e == nil {
			return fmt.Errorf("%w: nil entry %q", ErrBackendFault, name)
		}
		if e.Name != name {
			return fmt.Errorf("%w: entry %q keyed as %q", ErrBackendFault, e.Name, name)
		}
	}
	return nil
}

// Persist writes encoded blob to a temp file and renames it over the target
func (f *FileBackend) Persist(b *Blob) error {
	data, err := f.codec.Encode(b)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("can't make temp file for %s: %w", f.path, err)
	}
	defer os.Remove(tmp.Name()) // nolint no-op after successful rename

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("can't write %s: %w", tmp.Name(), err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("can't sync %s: %w", tmp.Name(), err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("can't close %s: %w", tmp.Name(), err)
	}
	if err = os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("can't replace %s: %w", f.path, err)
	}
	return nil
}

// Files returns nothing, flat file has no sidecars
func (f *FileBackend) Files() []string { return nil }

func (f *FileBackend) String() string { return f.name }
