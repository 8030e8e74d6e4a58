package auth

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/zalando/go-keyring"
)

const servicePrefix = "clinicadmin"

// KeyringStore persists the credential securely in the OS keychain/credential manager
type KeyringStore struct {
	service string
}

// NewKeyringStore returns a store scoped to the given API base URL, so that
// switching backends never sends one backend's token to another
func NewKeyringStore(apiURL string) *KeyringStore {
	return &KeyringStore{service: serviceName(apiURL)}
}

// serviceName returns a unique keyring service per API host
func serviceName(apiURL string) string {
	host := apiHost(apiURL)
	if host == "" {
		return servicePrefix
	}
	return fmt.Sprintf("%s:%s", servicePrefix, host)
}

// apiHost returns the host[:port] a credential belongs to, empty if apiURL
// has none
func apiHost(apiURL string) string {
	u, err := url.Parse(apiURL)
	if err != nil {
		return ""
	}
	return u.Host
}

// SaveToken persists the token in the OS keychain
func (k *KeyringStore) SaveToken(token string) error {
	if token == "" {
		return errors.New("refusing to save empty token")
	}
	if err := keyring.Set(k.service, StorageKey, token); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// LoadToken retrieves the token from the OS keychain
func (k *KeyringStore) LoadToken() (string, error) {
	token, err := keyring.Get(k.service, StorageKey)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNoCredential
		}
		return "", fmt.Errorf("failed to load token: %w", err)
	}
	if token == "" {
		return "", ErrNoCredential
	}
	return token, nil
}

// DeleteToken removes the token from the OS keychain
func (k *KeyringStore) DeleteToken() error {
	if err := keyring.Delete(k.service, StorageKey); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil // Already deleted
		}
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}
