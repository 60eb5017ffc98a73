// Package storage holds blob bytes for file-type field values. The form
// engine stores only file metadata; the bytes live behind BlobStore.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// BlobStore stores and retrieves the content of uploaded files.
type BlobStore interface {
	// Upload writes the blob and returns its storage location.
	Upload(ctx context.Context, fileName string, r io.Reader) (string, error)
	// Open returns a reader over the blob at the given location.
	Open(ctx context.Context, location string) (io.ReadCloser, error)
	// Delete removes the blob at the given location. Deleting a missing
	// blob is not an error.
	Delete(ctx context.Context, location string) error
}

// DiskStore keeps blobs as flat files under a root directory. Locations
// are generated names, never caller-supplied paths.
type DiskStore struct {
	root string
}

// NewDiskStore creates a disk store rooted at the given directory,
// creating it if needed.
func NewDiskStore(root string) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &DiskStore{root: root}, nil
}

var _ BlobStore = (*DiskStore)(nil)

func (s *DiskStore) Upload(ctx context.Context, fileName string, r io.Reader) (string, error) {
	location := uuid.New().String() + strings.ToLower(filepath.Ext(fileName))

	f, err := os.Create(filepath.Join(s.root, location))
	if err != nil {
		return "", fmt.Errorf("failed to create blob file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	return location, nil
}

func (s *DiskStore) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	path, err := s.resolve(location)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	return f, nil
}

func (s *DiskStore) Delete(ctx context.Context, location string) error {
	path, err := s.resolve(location)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// resolve rejects locations that would escape the root.
func (s *DiskStore) resolve(location string) (string, error) {
	if location == "" || filepath.Base(location) != location {
		return "", fmt.Errorf("invalid blob location %q", location)
	}
	return filepath.Join(s.root, location), nil
}
