// Package envelope seals arbitrary JSON payloads under a user passphrase.
//
// A key is derived from the passphrase with PBKDF2-HMAC-SHA-256 (at least
// 200,000 iterations, 16-byte random salt) and used with AES-256-GCM under a
// fresh 12-byte nonce. Every call to Seal draws a new salt and nonce, so two
// seals of the same payload never produce the same ciphertext.
//
// The sealed form is a JSON object:
//
//	{"v":1,"salt":"<base64>","iv":"<base64>","ct":"<base64>"}
//
// A Sealer configured with a higher iteration count adds "iter":<n>; its
// absence means 200,000.
//
// Open re-derives the key from the embedded salt and iteration count. Any authentication failure,
// malformed field, or unknown version is reported as ErrDecryptionFailed so
// callers can treat all of them as "wrong passphrase or corrupted data".
package envelope
