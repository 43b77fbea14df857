package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// Version is the only envelope format this package reads and writes.
	Version = 1

	SaltSize  = 16
	NonceSize = 12
	KeySize   = 32 // AES-256

	// MinIterations is the lowest accepted PBKDF2 iteration count and the
	// count assumed when an envelope does not record one.
	MinIterations = 200_000
	// MaxIterations bounds the count an envelope may ask Open to run.
	MaxIterations = 10_000_000
)

// Envelope is the wire form of a sealed payload. Binary fields are base64.
type Envelope struct {
	Version    int    `json:"v"`
	Salt       string `json:"salt"`
	IV         string `json:"iv"`
	Ciphertext string `json:"ct"`
	// Iterations is written only when it differs from MinIterations.
	Iterations int `json:"iter,omitempty"`
}

// Sealer encrypts and decrypts payloads. The zero value is not usable;
// construct with New.
type Sealer struct {
	iterations int
	random     io.Reader
}

// Option configures a Sealer.
type Option func(*Sealer)

// WithIterations raises the PBKDF2 iteration count used by Seal. Values
// outside [MinIterations, MaxIterations] are ignored. Open always uses the
// count recorded in the envelope.
func WithIterations(n int) Option {
	return func(s *Sealer) {
		if n >= MinIterations && n <= MaxIterations {
			s.iterations = n
		}
	}
}

// WithRandom replaces the entropy source used for salts and nonces.
func WithRandom(r io.Reader) Option {
	return func(s *Sealer) {
		if r != nil {
			s.random = r
		}
	}
}

// New returns a Sealer using MinIterations and crypto/rand.
func New(opts ...Option) *Sealer {
	s := &Sealer{iterations: MinIterations, random: rand.Reader}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Iterations reports the PBKDF2 iteration count in use.
func (s *Sealer) Iterations() int { return s.iterations }

// Seal marshals payload to JSON and encrypts it under passphrase.
// It returns the envelope serialized as a JSON string.
func (s *Sealer) Seal(payload any, passphrase string) (string, error) {
	if passphrase == "" {
		return "", ErrEmptyPassphrase
	}
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Join(ErrEncryptionFailed, fmt.Errorf("marshal payload: %w", err))
	}

	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(s.random, salt); err != nil {
		return "", errors.Join(ErrEncryptionFailed, err)
	}
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(s.random, nonce); err != nil {
		return "", errors.Join(ErrEncryptionFailed, err)
	}

	key := deriveKey(passphrase, salt, s.iterations)
	defer clearBytes(key)

	gcm, err := newGCM(key)
	if err != nil {
		return "", errors.Join(ErrEncryptionFailed, err)
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)
	clearBytes(plaintext)

	out, err := json.Marshal(Envelope{
		Version:    Version,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		IV:         base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		Iterations: recorded(s.iterations),
	})
	if err != nil {
		return "", errors.Join(ErrEncryptionFailed, err)
	}
	return string(out), nil
}

// Open decrypts a sealed envelope string and returns the raw JSON payload.
func (s *Sealer) Open(sealed, passphrase string) (json.RawMessage, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(sealed), &env); err != nil {
		return nil, errors.Join(ErrDecryptionFailed, ErrInvalidEnvelope, err)
	}
	if env.Version != Version {
		return nil, errors.Join(ErrDecryptionFailed, fmt.Errorf("%w: %d", ErrUnsupportedVersion, env.Version))
	}

	iterations := env.Iterations
	if iterations == 0 {
		iterations = MinIterations
	}
	if iterations < MinIterations || iterations > MaxIterations {
		return nil, errors.Join(ErrDecryptionFailed, fmt.Errorf("%w: iteration count %d", ErrInvalidEnvelope, env.Iterations))
	}

	salt, err := decodeField(env.Salt, SaltSize)
	if err != nil {
		return nil, errors.Join(ErrDecryptionFailed, fmt.Errorf("salt: %w", err))
	}
	nonce, err := decodeField(env.IV, NonceSize)
	if err != nil {
		return nil, errors.Join(ErrDecryptionFailed, fmt.Errorf("iv: %w", err))
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, errors.Join(ErrDecryptionFailed, ErrInvalidEnvelope, err)
	}

	key := deriveKey(passphrase, salt, iterations)
	defer clearBytes(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, errors.Join(ErrDecryptionFailed, err)
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.Join(ErrDecryptionFailed, ErrAuthentication)
	}
	if !json.Valid(plaintext) {
		return nil, errors.Join(ErrDecryptionFailed, ErrInvalidEnvelope)
	}
	return json.RawMessage(plaintext), nil
}

// OpenInto decrypts sealed and unmarshals the payload into out.
func (s *Sealer) OpenInto(sealed, passphrase string, out any) error {
	raw, err := s.Open(sealed, passphrase)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Join(ErrDecryptionFailed, ErrInvalidEnvelope, err)
	}
	return nil
}

func deriveKey(passphrase string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, iterations, KeySize, sha256.New)
}

func recorded(iterations int) int {
	if iterations == MinIterations {
		return 0
	}
	return iterations
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, NonceSize)
}

func decodeField(value string, size int) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, errors.Join(ErrInvalidEnvelope, err)
	}
	if len(b) != size {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidEnvelope, size, len(b))
	}
	return b, nil
}

func clearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

var defaultSealer = New()

// Encrypt seals payload with the default Sealer.
func Encrypt(payload any, passphrase string) (string, error) {
	return defaultSealer.Seal(payload, passphrase)
}

// Decrypt opens sealed with the default Sealer.
func Decrypt(sealed, passphrase string) (json.RawMessage, error) {
	return defaultSealer.Open(sealed, passphrase)
}
