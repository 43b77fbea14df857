package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	DefaultService = "cookiejar"

	tokenField      = "api_token"
	passphraseField = "passphrase"
)

var (
	keyringSet    = keyring.Set
	keyringGet    = keyring.Get
	keyringDelete = keyring.Delete
)

// KeyringStore keeps secrets in the operating system keyring.
type KeyringStore struct {
	Service string
}

// NewKeyringStore creates a KeyringStore. An empty service uses DefaultService.
func NewKeyringStore(service string) *KeyringStore {
	if service == "" {
		service = DefaultService
	}
	return &KeyringStore{Service: service}
}

func (k *KeyringStore) Load(_ context.Context) (Secrets, error) {
	token, err := k.get(tokenField)
	if err != nil {
		return Secrets{}, err
	}
	pass, err := k.get(passphraseField)
	if err != nil {
		return Secrets{}, err
	}
	return Secrets{Token: token, Passphrase: pass}, nil
}

func (k *KeyringStore) get(field string) (string, error) {
	v, err := keyringGet(k.Service, field)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading %s from keyring: %w", field, err)
	}
	return v, nil
}

// Save writes the non-empty fields of s.
func (k *KeyringStore) Save(_ context.Context, s Secrets) error {
	if s.Token != "" {
		if err := keyringSet(k.Service, tokenField, s.Token); err != nil {
			return fmt.Errorf("writing api token to keyring: %w", err)
		}
	}
	if s.Passphrase != "" {
		if err := keyringSet(k.Service, passphraseField, s.Passphrase); err != nil {
			return fmt.Errorf("writing passphrase to keyring: %w", err)
		}
	}
	return nil
}

func (k *KeyringStore) Clear(_ context.Context) error {
	var errs []error
	for _, field := range []string{tokenField, passphraseField} {
		if err := keyringDelete(k.Service, field); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			errs = append(errs, fmt.Errorf("deleting %s from keyring: %w", field, err))
		}
	}
	return errors.Join(errs...)
}
