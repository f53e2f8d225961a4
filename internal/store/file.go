package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileBlob keeps one file per document under Dir.
type FileBlob struct {
	Dir string
}

func NewFileBlob(dir string) (*FileBlob, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &FileBlob{Dir: dir}, nil
}

func (f *FileBlob) path(name string) string {
	return filepath.Join(f.Dir, filepath.Base(name))
}

func (f *FileBlob) Get(_ context.Context, name string) ([]byte, error) {
	raw, err := os.ReadFile(f.path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotExist
		}
		return nil, err
	}
	if len(raw) == 0 {
		return nil, ErrNotExist
	}
	return raw, nil
}

// Put writes through a temp file and renames it over the target so a crash
// mid-write leaves the previous document intact.
func (f *FileBlob) Put(_ context.Context, name string, body []byte) error {
	target := f.path(name)
	tmp, err := os.CreateTemp(f.Dir, filepath.Base(name)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
