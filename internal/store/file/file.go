// Package file stores the active session as a JSON document on a filesystem.
package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/loykin/invigil/internal/session"
	"github.com/loykin/invigil/internal/store"
)

// Store writes the session to path through an afero filesystem. Writes go to
// a temp file that is renamed over the target so readers never see a partial object.
type Store struct {
	fs   afero.Fs
	path string
}

// New stores the session at path on the OS filesystem.
func New(path string) (*Store, error) {
	return NewFs(afero.NewOsFs(), path)
}

// NewFs stores the session at path on fs.
func NewFs(fs afero.Fs, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("empty session file path")
	}
	return &Store{fs: fs, path: filepath.Clean(path)}, nil
}

func (s *Store) EnsureSchema(context.Context) error {
	return s.fs.MkdirAll(filepath.Dir(s.path), 0o755)
}

func (s *Store) Load(context.Context) (*session.State, error) {
	b, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return store.Decode(b)
}

func (s *Store) Save(_ context.Context, st *session.State) error {
	b, err := store.Encode(st)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, b, 0o600); err != nil {
		return err
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		_ = s.fs.Remove(tmp)
		return err
	}
	return nil
}

func (s *Store) Clear(context.Context) error {
	err := s.fs.Remove(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (s *Store) Close() error { return nil }
