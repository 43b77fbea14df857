package envelope

import "errors"

var (
	// ErrDecryptionFailed is returned for every failure to open an envelope.
	ErrDecryptionFailed = errors.New("decryption failed")

	// Causes joined with ErrDecryptionFailed.
	ErrUnsupportedVersion = errors.New("unsupported envelope version")
	ErrInvalidEnvelope    = errors.New("invalid envelope format")
	ErrAuthentication     = errors.New("message authentication failed")

	ErrEncryptionFailed = errors.New("encryption failed")
	ErrEmptyPassphrase  = errors.New("passphrase must not be empty")
)
