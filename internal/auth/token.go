// Package auth manages the bearer token that guards the local control API
// and the MCP endpoint.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const tokenFileName = "api_token"

// LoadOrCreateToken reads the token from dataDir/api_token, or generates and
// persists a new 256-bit hex-encoded token if the file is missing or empty.
func LoadOrCreateToken(dataDir string) (string, error) {
	path := filepath.Join(dataDir, tokenFileName)

	data, err := os.ReadFile(path)
	if err == nil {
		if token := strings.TrimSpace(string(data)); token != "" {
			return token, nil
		}
	}

	token, err := generateToken()
	if err != nil {
		return "", err
	}

	if err := writeToken(dataDir, path, token); err != nil {
		return "", err
	}

	return token, nil
}

// RotateToken generates a new token, replacing the existing one. Clients
// holding the old token are rejected from then on.
func RotateToken(dataDir string) (string, error) {
	path := filepath.Join(dataDir, tokenFileName)

	token, err := generateToken()
	if err != nil {
		return "", err
	}

	if err := writeToken(dataDir, path, token); err != nil {
		return "", err
	}

	return token, nil
}

// TokenPath returns where the token of dataDir lives.
func TokenPath(dataDir string) string {
	return filepath.Join(dataDir, tokenFileName)
}

// Equal compares two tokens in constant time.
func Equal(expected, got string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func writeToken(dataDir, path, token string) error {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(token), 0600); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return nil
}
