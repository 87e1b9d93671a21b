package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"
)

// Store holds the files the app writes for humans to read later, such as
// the email outbox. Paths are relative to the store root.
type Store interface {
	Save(ctx context.Context, path string, reader io.Reader) (int64, error)
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, dir string) ([]string, error)
	Delete(ctx context.Context, path string) error
}

// AferoStore implements Store on an afero filesystem: the OS filesystem in
// production, a MemMapFs in tests.
type AferoStore struct {
	fs afero.Fs
}

var _ Store = (*AferoStore)(nil)

// NewAferoStore creates a new AferoStore.
func NewAferoStore(fs afero.Fs) *AferoStore {
	return &AferoStore{fs: fs}
}

// NewDiskStore roots a store at dir on the local disk.
func NewDiskStore(dir string) *AferoStore {
	return NewAferoStore(afero.NewBasePathFs(afero.NewOsFs(), dir))
}

// Save writes reader to path, creating parent directories as needed.
func (s *AferoStore) Save(ctx context.Context, path string, reader io.Reader) (int64, error) {
	if err := s.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	f, err := s.fs.Create(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return io.Copy(f, reader)
}

// Get opens path for reading.
func (s *AferoStore) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	return s.fs.OpenFile(path, os.O_RDONLY, 0)
}

// List returns the names of the regular files in dir, sorted. A missing
// directory is empty.
func (s *AferoStore) List(ctx context.Context, dir string) ([]string, error) {
	infos, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if !info.IsDir() {
			names = append(names, info.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes path.
func (s *AferoStore) Delete(ctx context.Context, path string) error {
	return s.fs.Remove(path)
}
