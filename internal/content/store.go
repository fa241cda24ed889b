// internal/content/store.go
package content

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"waltz/shared/utils"
)

func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating content store directory: %w", err)
	}

	return &FileStore{root: root}, nil
}

// Root returns the directory holding the blobs.
func (s *FileStore) Root() string {
	return s.root
}

// Store handles storing content and returns its hash. Existing blobs are
// never rewritten.
func (s *FileStore) Store(content []byte) (string, error) {
	hash := utils.HashContent(content)

	exists, err := s.Exists(hash)
	if err != nil {
		return "", err
	}
	if exists {
		return hash, nil
	}

	if err := s.write(hash, content); err != nil {
		return "", err
	}
	return hash, nil
}

// Rewrite writes content under its hash even if a blob file is already
// present, replacing it atomically.
func (s *FileStore) Rewrite(content []byte) (string, error) {
	hash := utils.HashContent(content)
	if err := s.write(hash, content); err != nil {
		return "", err
	}
	return hash, nil
}

func (s *FileStore) write(hash string, content []byte) error {
	path := s.Path(hash)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating content directory: %w", err)
	}

	if err := utils.WriteFileAtomic(path, content, 0444); err != nil {
		return fmt.Errorf("writing content %s: %w", hash, err)
	}
	return nil
}

func (s *FileStore) Get(hash string) ([]byte, error) {
	if !utils.IsValidHash(hash) {
		return nil, fmt.Errorf("%w: invalid hash %q", ErrContentNotFound, hash)
	}

	contentBytes, err := os.ReadFile(s.Path(hash))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrContentNotFound, hash)
		}
		return nil, fmt.Errorf("reading content: %w", err)
	}
	return contentBytes, nil
}

// Exists checks if a blob file exists for hash.
func (s *FileStore) Exists(hash string) (bool, error) {
	if !utils.IsValidHash(hash) {
		return false, nil
	}

	_, err := os.Stat(s.Path(hash))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("checking content %s: %w", hash, err)
	}
}

// Path returns the blob location for hash.
func (s *FileStore) Path(hash string) string {
	return filepath.Join(s.root, hash[:2], hash[2:])
}
