package packing

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Subdirectories per document kind: staged source uploads on one side,
// generated packing lists on the other. Keeping them apart lets an operator
// sweep stale uploads without touching finished output.
const (
	uploadDir = "uploads"
	outputDir = "generated"
)

// Storage holds the session documents the pipeline works on. Keys are
// slash-separated relative paths; implementations decide where the bytes
// actually live.
type Storage interface {
	// Save stores a file under key and returns the key it is retrievable by
	Save(key string, data []byte) (string, error)

	// Get retrieves a file by key
	Get(key string) ([]byte, error)

	// Delete removes a file
	Delete(key string) error
}

// LocalStorage implements the Storage interface on the local filesystem,
// one subdirectory per document kind under a base directory.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a LocalStorage rooted at basePath, creating the
// kind subdirectories up front.
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	for _, dir := range []string{basePath, filepath.Join(basePath, uploadDir), filepath.Join(basePath, outputDir)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating storage directory: %w", err)
		}
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// resolve maps a storage key onto the base directory, refusing keys that
// would escape it. Upload keys embed user-supplied filenames, so the guard
// stays here rather than trusting upstream sanitizing.
func (l *LocalStorage) resolve(key string) (string, error) {
	fullPath := filepath.Join(l.basePath, filepath.FromSlash(key))
	rel, err := filepath.Rel(l.basePath, fullPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("key %q escapes storage root", key)
	}
	return fullPath, nil
}

// Save stores a file in local storage, creating intermediate directories
func (l *LocalStorage) Save(key string, data []byte) (string, error) {
	fullPath, err := l.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return "", fmt.Errorf("creating storage directory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return key, nil
}

// Get retrieves a file from local storage
func (l *LocalStorage) Get(key string) ([]byte, error) {
	fullPath, err := l.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes a file from local storage
func (l *LocalStorage) Delete(key string) error {
	fullPath, err := l.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}
