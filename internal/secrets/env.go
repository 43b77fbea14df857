package secrets

import (
	"context"
	"os"
)

const (
	DefaultTokenEnv      = "COOKIEJAR_GITHUB_TOKEN"
	DefaultPassphraseEnv = "COOKIEJAR_PASSPHRASE"
)

// EnvStore reads secrets from environment variables. It cannot be written.
type EnvStore struct {
	TokenVar      string
	PassphraseVar string
	lookup        func(string) string
}

// NewEnvStore creates an EnvStore over the given variable names. Empty
// names use the defaults.
func NewEnvStore(tokenVar, passphraseVar string) *EnvStore {
	if tokenVar == "" {
		tokenVar = DefaultTokenEnv
	}
	if passphraseVar == "" {
		passphraseVar = DefaultPassphraseEnv
	}
	return &EnvStore{TokenVar: tokenVar, PassphraseVar: passphraseVar, lookup: os.Getenv}
}

func (e *EnvStore) Load(_ context.Context) (Secrets, error) {
	return Secrets{Token: e.lookup(e.TokenVar), Passphrase: e.lookup(e.PassphraseVar)}, nil
}

func (e *EnvStore) Save(context.Context, Secrets) error { return ErrReadOnly }

func (e *EnvStore) Clear(context.Context) error { return ErrReadOnly }
