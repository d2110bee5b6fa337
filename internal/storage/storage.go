// Package storage is the document blob store collaborator. The engine only
// records the returned reference; file bytes never pass through the
// workflow tables.
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

// Store persists document blobs and returns stable storage references.
type Store interface {
	Save(ctx context.Context, dealID, guardKey, fileName string, r io.Reader) (string, error)
	Delete(ctx context.Context, ref string) error
}

// FileStore keeps blobs under Root, one directory per deal.
type FileStore struct {
	Root string
}

func NewFileStore(root string) (*FileStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("storage root required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{Root: root}, nil
}

// Save writes the blob and returns its reference relative to Root.
func (s *FileStore) Save(ctx context.Context, dealID, guardKey, fileName string, r io.Reader) (string, error) {
	ref := storageKey(dealID, guardKey, fileName)
	full := filepath.Join(s.Root, filepath.FromSlash(ref))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(full)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(full)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(full)
		return "", err
	}
	return ref, nil
}

// Delete removes a stored blob. Missing blobs are not an error so that the
// compensating delete after a failed record insert stays idempotent.
func (s *FileStore) Delete(ctx context.Context, ref string) error {
	if strings.TrimSpace(ref) == "" {
		return nil
	}
	full := filepath.Join(s.Root, filepath.FromSlash(ref))
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// storageKey builds a collision-free reference: <deal>/<guard>/<uuid>-<name>.
func storageKey(dealID, guardKey, fileName string) string {
	guard := sanitize(guardKey)
	if guard == "" {
		guard = "general"
	}
	name := sanitize(filepath.Base(fileName))
	if name == "" {
		name = "upload"
	}
	return fmt.Sprintf("%s/%s/%s-%s", sanitize(dealID), guard, uuid.New().String(), name)
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "._")
}
