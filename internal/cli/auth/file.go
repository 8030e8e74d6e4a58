package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStore persists the credential in a JSON file readable only by the owner.
// Used on hosts without a keyring daemon. The file records the API host the
// credential was issued by; a store for another host sees no credential.
type FileStore struct {
	path string
	host string
	mu   sync.Mutex
}

// savedCredential is the JSON structure written to disk
type savedCredential struct {
	Key     string    `json:"key"`
	Host    string    `json:"host"`
	Token   string    `json:"token"`
	SavedAt time.Time `json:"saved_at"`
}

// NewFileStore creates a store backed by the file at path, scoped to the
// host of apiURL
func NewFileStore(path, apiURL string) *FileStore {
	return &FileStore{path: path, host: apiHost(apiURL)}
}

// Path returns the backing file path
func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) SaveToken(token string) error {
	if token == "" {
		return errors.New("refusing to save empty token")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("failed to create credential directory: %w", err)
	}

	data, err := json.MarshalIndent(savedCredential{
		Key:     StorageKey,
		Host:    f.host,
		Token:   token,
		SavedAt: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}

	// Write to a temp file then rename so readers never see a partial file
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".credential-*")
	if err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to save token: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to save token: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

func (f *FileStore) LoadToken() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	saved, err := f.read()
	if err != nil {
		return "", err
	}
	if !f.owns(saved) {
		return "", ErrNoCredential
	}
	return saved.Token, nil
}

// DeleteToken removes the credential. A file holding another host's
// credential is left in place.
func (f *FileStore) DeleteToken() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	saved, err := f.read()
	switch {
	case errors.Is(err, ErrNoCredential):
		return nil
	case err == nil && !f.owns(saved):
		return nil
	}

	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

func (f *FileStore) read() (savedCredential, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return savedCredential{}, ErrNoCredential
		}
		return savedCredential{}, fmt.Errorf("failed to load token: %w", err)
	}

	var saved savedCredential
	if err := json.Unmarshal(data, &saved); err != nil {
		return savedCredential{}, fmt.Errorf("failed to parse credential file: %w", err)
	}
	return saved, nil
}

func (f *FileStore) owns(saved savedCredential) bool {
	return saved.Key == StorageKey && saved.Token != "" && saved.Host == f.host
}
