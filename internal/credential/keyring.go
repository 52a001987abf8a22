package credential

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"

	"github.com/nhle/onebox/internal/model"
)

const serviceName = "onebox"

// Store reads and writes secrets.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// Keyring is a Store backed by the system keyring.
type Keyring struct {
	ring keyring.Keyring
}

// Open returns the onebox keyring, falling back to an encrypted file under
// ~/.config/onebox when no system backend is available.
func Open() (*Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/onebox/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("onebox-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &Keyring{ring: ring}, nil
}

// NewKeyring wraps an already opened keyring.
func NewKeyring(ring keyring.Keyring) *Keyring {
	return &Keyring{ring: ring}
}

// Get retrieves a credential value by key.
func (k *Keyring) Get(key string) (string, error) {
	item, err := k.ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

// Set stores a credential value by key.
func (k *Keyring) Set(key, value string) error {
	err := k.ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: serviceName + ": " + key,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

// Delete removes a credential by key.
func (k *Keyring) Delete(key string) error {
	if err := k.ring.Remove(key); err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}
	return nil
}

// ResolvePasswords fills in the password of every account that names a
// password_key instead of an inline password. Accounts whose key is
// missing from the store keep an empty password and are reported in the
// returned error; the engine then skips them.
func ResolvePasswords(store Store, accounts []model.AccountConfig) ([]model.AccountConfig, error) {
	resolved := make([]model.AccountConfig, len(accounts))
	copy(resolved, accounts)

	var errs []error
	for i := range resolved {
		acct := &resolved[i]
		if acct.Password != "" || acct.PasswordKey == "" {
			continue
		}
		if store == nil {
			errs = append(errs, fmt.Errorf("account %s: no credential store", acct.ID))
			continue
		}

		password, err := store.Get(acct.PasswordKey)
		if err != nil {
			errs = append(errs, fmt.Errorf("account %s: %w", acct.ID, err))
			continue
		}
		acct.Password = password
	}

	return resolved, errors.Join(errs...)
}
