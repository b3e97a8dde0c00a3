package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStorage local file system storage
type LocalStorage struct {
	basePath string
}

// NewLocalStorage create local storage instance
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if basePath == "" {
		basePath = "./data/files"
	}

	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// path resolves key under basePath, rejecting keys that escape it
func (s *LocalStorage) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash("/" + key))
	p := filepath.Join(s.basePath, clean)
	base := filepath.Clean(s.basePath)
	if p != base && !strings.HasPrefix(p, base+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return p, nil
}

// Save save file
func (s *LocalStorage) Save(key string, data []byte) error {
	filePath, err := s.path(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	return s.writeAtomic(filePath, func(f *os.File) error {
		_, err := f.Write(data)
		return err
	})
}

// SaveStream save file from reader
func (s *LocalStorage) SaveStream(key string, r io.Reader) error {
	filePath, err := s.path(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	return s.writeAtomic(filePath, func(f *os.File) error {
		_, err := io.Copy(f, r)
		return err
	})
}

// writeAtomic writes through a unique temp file and renames it into place,
// so readers and concurrent writers of the same key never see a partial object
func (s *LocalStorage) writeAtomic(filePath string, write func(f *os.File) error) error {
	f, err := os.CreateTemp(filepath.Dir(filePath), filepath.Base(filePath)+".*.part")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	tmp := f.Name()

	if err := write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Chmod(tmp, 0644); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to chmod file: %w", err)
	}
	if err := os.Rename(tmp, filePath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move file into place: %w", err)
	}

	return nil
}

// Get get file
func (s *LocalStorage) Get(key string) ([]byte, error) {
	filePath, err := s.path(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return data, nil
}

// Open open file for streaming reads
func (s *LocalStorage) Open(key string) (io.ReadCloser, error) {
	filePath, err := s.path(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, nil
}

// Delete delete file
func (s *LocalStorage) Delete(key string) error {
	filePath, err := s.path(key)
	if err != nil {
		return err
	}

	err = os.Remove(filePath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	return nil
}

// DeletePrefix delete every file under prefix
func (s *LocalStorage) DeletePrefix(prefix string) error {
	dirPath, err := s.path(prefix)
	if err != nil {
		return err
	}
	if dirPath == filepath.Clean(s.basePath) {
		return fmt.Errorf("refusing to delete storage root")
	}

	if err := os.RemoveAll(dirPath); err != nil {
		return fmt.Errorf("failed to delete prefix: %w", err)
	}
	return nil
}

// Exists check if file exists
func (s *LocalStorage) Exists(key string) bool {
	filePath, err := s.path(key)
	if err != nil {
		return false
	}

	_, err = os.Stat(filePath)
	return err == nil
}
