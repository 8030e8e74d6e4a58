package auth

import (
	"errors"
	"fmt"
	"sync"
)

// StorageKey is the fixed name the admin credential is stored under
const StorageKey = "admin_token"

// ErrNoCredential is returned by LoadToken when no credential is stored
var ErrNoCredential = errors.New("no stored credential")

// TokenStore defines the interface for credential storage operations.
// LoadToken returns ErrNoCredential when nothing is stored and DeleteToken
// succeeds when there is nothing to delete.
type TokenStore interface {
	SaveToken(token string) error
	LoadToken() (string, error)
	DeleteToken() error
}

// MemoryStore keeps the credential in process memory
type MemoryStore struct {
	mu    sync.Mutex
	token string
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) SaveToken(token string) error {
	if token == "" {
		return errors.New("refusing to save empty token")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return nil
}

func (m *MemoryStore) LoadToken() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == "" {
		return "", ErrNoCredential
	}
	return m.token, nil
}

func (m *MemoryStore) DeleteToken() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	return nil
}

// Store backends accepted by NewStore
const (
	BackendKeyring = "keyring"
	BackendFile    = "file"
	BackendMemory  = "memory"
)

// NewStore returns the credential store for backend. apiURL scopes the
// keyring entry and the file credential; file is the path used by the file
// backend.
func NewStore(backend, file, apiURL string) (TokenStore, error) {
	switch backend {
	case BackendKeyring, "":
		return NewKeyringStore(apiURL), nil
	case BackendFile:
		if file == "" {
			return nil, errors.New("credential file path is required for the file store")
		}
		return NewFileStore(file, apiURL), nil
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown credential store %q", backend)
	}
}
