package watcher

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadOrCreateToken loads the web API token from disk or creates a new one.
// Tokens are stored in <configDir>/dchealth/api.token with 0600 permissions.
// An empty configDir uses the user's config directory.
func LoadOrCreateToken(configDir string) (string, error) {
	if configDir == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("get config directory: %w", err)
		}
		configDir = dir
	}
	dir := filepath.Join(configDir, "dchealth")
	tokenPath := filepath.Join(dir, "api.token")

	if data, err := os.ReadFile(tokenPath); err == nil {
		if token := strings.TrimSpace(string(data)); token != "" {
			return token, nil
		}
	}

	// 32 bytes = 64 hex characters
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	token := hex.EncodeToString(tokenBytes)

	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(tokenPath, []byte(token), 0600); err != nil {
		return "", fmt.Errorf("write token file: %w", err)
	}
	return token, nil
}
