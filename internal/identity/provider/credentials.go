package provider

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const credentialsFile = "credentials.json"

// Credentials is the persisted form of a signed-in identity.
type Credentials struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	SessionID    string    `json:"session_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// CredentialStore persists credentials between process runs.
type CredentialStore interface {
	// LoadCredentials returns nil, nil when nothing is stored.
	LoadCredentials() (*Credentials, error)
	SaveCredentials(c *Credentials) error
	DeleteCredentials() error
}

// FileCredentialStore implements CredentialStore using a JSON file.
type FileCredentialStore struct {
	path string
}

var _ CredentialStore = (*FileCredentialStore)(nil)

// NewFileCredentialStore returns a store writing credentials.json under dir.
func NewFileCredentialStore(dir string) (*FileCredentialStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FileCredentialStore{path: filepath.Join(dir, credentialsFile)}, nil
}

// SaveCredentials saves the credentials to the file.
func (s *FileCredentialStore) SaveCredentials(c *Credentials) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	return os.WriteFile(s.path, data, 0o600)
}

// LoadCredentials loads the credentials from the file.
func (s *FileCredentialStore) LoadCredentials() (*Credentials, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}
	var c Credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credentials: %w", err)
	}
	return &c, nil
}

// DeleteCredentials deletes the credentials file.
func (s *FileCredentialStore) DeleteCredentials() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// MemoryCredentialStore keeps credentials in memory.
type MemoryCredentialStore struct {
	mu sync.Mutex
	c  *Credentials
}

func (s *MemoryCredentialStore) LoadCredentials() (*Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return nil, nil
	}
	c := *s.c
	return &c, nil
}

func (s *MemoryCredentialStore) SaveCredentials(c *Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.c = &cp
	return nil
}

func (s *MemoryCredentialStore) DeleteCredentials() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c = nil
	return nil
}
