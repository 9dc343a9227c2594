package selection

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileName is the file FileStore writes inside its directory.
const FileName = "active_organization.json"

type record struct {
	OrganizationID string `json:"organization_id"`
}

// FileStore implements Store using a JSON file.
type FileStore struct {
	mu   sync.Mutex
	path string
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a FileStore under dir, creating dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	return &FileStore{path: filepath.Join(dir, FileName)}, nil
}

// Path returns the file backing the store.
func (s *FileStore) Path() string { return s.path }

// Load returns the stored id. A missing file yields "", nil; an unreadable or
// malformed file yields ErrCorrupt.
func (s *FileStore) Load(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read selection file: %w", err)
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return strings.TrimSpace(rec.OrganizationID), nil
}

// Save writes orgID atomically via a temp file and rename.
func (s *FileStore) Save(ctx context.Context, orgID string) error {
	data, err := json.Marshal(record{OrganizationID: orgID})
	if err != nil {
		return fmt.Errorf("marshal selection: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tmp, err := os.CreateTemp(filepath.Dir(s.path), FileName+".*")
	if err != nil {
		return fmt.Errorf("create temp selection file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write selection: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close selection: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace selection file: %w", err)
	}
	return nil
}

// Erase deletes the selection file.
func (s *FileStore) Erase(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove selection file: %w", err)
	}
	return nil
}
