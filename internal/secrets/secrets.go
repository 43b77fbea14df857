// Package secrets stores the API token and the encryption passphrase.
package secrets

import (
	"context"
	"errors"
	"log/slog"
)

// ErrReadOnly is returned when saving to a source that cannot be written.
var ErrReadOnly = errors.New("secret source is read-only")

// Secrets are the credentials the sync flows need. They are never logged.
type Secrets struct {
	Token      string
	Passphrase string
}

// Complete reports whether both values are present.
func (s Secrets) Complete() bool {
	return s.Token != "" && s.Passphrase != ""
}

// LogValue redacts both values.
func (s Secrets) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("token", redact(s.Token)),
		slog.String("passphrase", redact(s.Passphrase)),
	)
}

// String keeps secrets out of fmt output.
func (s Secrets) String() string {
	return "secrets{token:" + redact(s.Token) + " passphrase:" + redact(s.Passphrase) + "}"
}

func redact(v string) string {
	if v == "" {
		return "unset"
	}
	return "[redacted]"
}

// Store loads and saves secrets.
type Store interface {
	Load(ctx context.Context) (Secrets, error)
	Save(ctx context.Context, s Secrets) error
	Clear(ctx context.Context) error
}

// Chain reads from each store in order, taking each missing field from
// the first store that has it. Writes go to the first writable store.
type Chain []Store

func (c Chain) Load(ctx context.Context) (Secrets, error) {
	var out Secrets
	var errs []error
	for _, s := range c {
		got, err := s.Load(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if out.Token == "" {
			out.Token = got.Token
		}
		if out.Passphrase == "" {
			out.Passphrase = got.Passphrase
		}
		if out.Complete() {
			return out, nil
		}
	}
	if out.Token == "" && out.Passphrase == "" && len(errs) > 0 {
		return Secrets{}, errors.Join(errs...)
	}
	return out, nil
}

func (c Chain) Save(ctx context.Context, s Secrets) error {
	for _, st := range c {
		err := st.Save(ctx, s)
		if errors.Is(err, ErrReadOnly) {
			continue
		}
		return err
	}
	return ErrReadOnly
}

func (c Chain) Clear(ctx context.Context) error {
	var errs []error
	for _, st := range c {
		if err := st.Clear(ctx); err != nil && !errors.Is(err, ErrReadOnly) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// TokenSource adapts a Store to a token loader.
func TokenSource(s Store) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		sec, err := s.Load(ctx)
		if err != nil {
			return "", err
		}
		return sec.Token, nil
	}
}
