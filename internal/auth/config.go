package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const defaultKeysFile = "miochat.keys.yaml"

// keysFile maps user ids to their bearer tokens:
//
//	users:
//	  <user-id>:
//	    keys: [<token>, ...]
type keysFile struct {
	Users map[string]userKeys `yaml:"users"`
}

type userKeys struct {
	Keys []string `yaml:"keys"`
}

// Keyring resolves bearer tokens to user ids. It is safe for concurrent use
// and can be swapped in place when the file changes.
type Keyring struct {
	mu        sync.RWMutex
	keyToUser map[string]string
}

func ResolveKeysPath() string {
	if v := strings.TrimSpace(os.Getenv("MIOCHAT_KEYS_FILE")); v != "" {
		return v
	}
	return filepath.Join(".", defaultKeysFile)
}

// LoadKeyring reads path. A missing file yields an empty keyring; users are
// added with IssueKey.
func LoadKeyring(path string) (*Keyring, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return NewKeyring(nil), nil
	}
	cfg, err := readKeysFile(path)
	if err != nil {
		return nil, err
	}
	m, err := cfg.index()
	if err != nil {
		return nil, err
	}
	return &Keyring{keyToUser: m}, nil
}

func readKeysFile(path string) (keysFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return keysFile{}, nil
		}
		return keysFile{}, fmt.Errorf("read keys file: %w", err)
	}
	var cfg keysFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return keysFile{}, fmt.Errorf("parse keys file: %w", err)
	}
	return cfg, nil
}

func (f keysFile) index() (map[string]string, error) {
	m := make(map[string]string)
	for user, keys := range f.Users {
		for _, key := range keys.Keys {
			key = strings.TrimSpace(key)
			if key == "" {
				continue
			}
			if existing, ok := m[key]; ok && existing != user {
				return nil, fmt.Errorf("key reused across users: %q", key)
			}
			m[key] = user
		}
	}
	return m, nil
}

func NewKeyring(keyToUser map[string]string) *Keyring {
	clone := make(map[string]string, len(keyToUser))
	for k, v := range keyToUser {
		clone[k] = v
	}
	return &Keyring{keyToUser: clone}
}

func (k *Keyring) UserForKey(key string) (string, bool) {
	if k == nil {
		return "", false
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	user, ok := k.keyToUser[key]
	return user, ok
}

// Reload re-reads path and swaps the mapping. On error the old mapping stays.
func (k *Keyring) Reload(path string) error {
	next, err := LoadKeyring(path)
	if err != nil {
		return err
	}
	k.mu.Lock()
	k.keyToUser = next.keyToUser
	k.mu.Unlock()
	return nil
}

func (k *Keyring) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.keyToUser)
}
