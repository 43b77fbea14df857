package secrets

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
)

// StorageKey is the local store key used by KVStore.
const StorageKey = "cookiejar_secrets"

// KV is the durable key-value slice KVStore needs.
type KV interface {
	GetItem(ctx context.Context, key string) (json.RawMessage, error)
	SetItem(ctx context.Context, key string, value any) error
	DeleteItem(ctx context.Context, key string) error
}

// KVStore keeps base64-encoded secrets in the local database, for hosts
// without a keyring service. The encoding only obfuscates.
type KVStore struct {
	kv KV
}

type storedSecrets struct {
	Token      string `json:"ghp,omitempty"`
	Passphrase string `json:"passPhrase,omitempty"`
}

// NewKVStore creates a KVStore.
func NewKVStore(kv KV) *KVStore {
	return &KVStore{kv: kv}
}

func (s *KVStore) Load(ctx context.Context) (Secrets, error) {
	raw, err := s.kv.GetItem(ctx, StorageKey)
	if err != nil {
		return Secrets{}, fmt.Errorf("loading secrets: %w", err)
	}
	if raw == nil {
		return Secrets{}, nil
	}
	var stored storedSecrets
	if err := json.Unmarshal(raw, &stored); err != nil {
		slog.Warn("ignoring unreadable stored secrets")
		return Secrets{}, nil
	}
	return Secrets{Token: decode(stored.Token), Passphrase: decode(stored.Passphrase)}, nil
}

// Save merges the non-empty fields of sec into the stored secrets.
func (s *KVStore) Save(ctx context.Context, sec Secrets) error {
	cur, err := s.Load(ctx)
	if err != nil {
		return err
	}
	if sec.Token != "" {
		cur.Token = sec.Token
	}
	if sec.Passphrase != "" {
		cur.Passphrase = sec.Passphrase
	}
	stored := storedSecrets{Token: encode(cur.Token), Passphrase: encode(cur.Passphrase)}
	if err := s.kv.SetItem(ctx, StorageKey, stored); err != nil {
		return fmt.Errorf("saving secrets: %w", err)
	}
	return nil
}

func (s *KVStore) Clear(ctx context.Context) error {
	return s.kv.DeleteItem(ctx, StorageKey)
}

func encode(v string) string {
	if v == "" {
		return ""
	}
	return base64.StdEncoding.EncodeToString([]byte(v))
}

func decode(v string) string {
	if v == "" {
		return ""
	}
	b, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return ""
	}
	return string(b)
}
