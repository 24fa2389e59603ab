package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// IssueKey generates a bearer token for userID and appends it to the keys
// file at keysPath, creating the file if needed.
func IssueKey(keysPath, userID string) (string, error) {
	keysPath = strings.TrimSpace(keysPath)
	userID = strings.TrimSpace(userID)
	if keysPath == "" {
		keysPath = ResolveKeysPath()
	}
	if userID == "" {
		return "", fmt.Errorf("user id required")
	}

	cfg, err := readKeysFile(keysPath)
	if err != nil {
		return "", err
	}
	if cfg.Users == nil {
		cfg.Users = make(map[string]userKeys)
	}
	key, err := generateKey()
	if err != nil {
		return "", err
	}
	uk := cfg.Users[userID]
	uk.Keys = append(uk.Keys, key)
	cfg.Users[userID] = uk

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return "", fmt.Errorf("marshal keys file: %w", err)
	}
	if dir := filepath.Dir(keysPath); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return "", fmt.Errorf("create keys dir: %w", err)
		}
	}
	// Write then rename so a watching server never reads a partial file.
	tmp := keysPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return "", fmt.Errorf("write keys file: %w", err)
	}
	if err := os.Rename(tmp, keysPath); err != nil {
		return "", fmt.Errorf("replace keys file: %w", err)
	}
	return key, nil
}

func generateKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
