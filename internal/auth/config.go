package auth

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const defaultKeysFile = "laragates.keys.yaml"

type Keyring struct {
	AllowLocalhostWithoutAuth bool
	// TrustForwardedFor lets a loopback proxy vouch for the client address
	// in X-Forwarded-For. Off unless the keys file turns it on.
	TrustForwardedFor bool
	keyToAgent        map[string]string
}

func ResolveKeysPath() string {
	if v := strings.TrimSpace(os.Getenv("LARAGATES_KEYS_FILE")); v != "" {
		return v
	}
	return filepath.Join(".", defaultKeysFile)
}

func LoadKeyringFromEnv() (*Keyring, error) {
	return LoadKeyring(ResolveKeysPath())
}

// LoadKeyring reads the keys file at path, bootstrapping a dev key when the
// file does not exist yet.
func LoadKeyring(path string) (*Keyring, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return defaultKeyring(), nil
	}
	cfg, found, err := readKeysFile(path)
	if err != nil {
		return nil, err
	}
	if !found {
		res, err := BootstrapDevKey(path, "dev")
		if err != nil {
			return nil, fmt.Errorf("bootstrap dev key: %w", err)
		}
		if cfg, _, err = readKeysFile(res.KeysFile); err != nil {
			return nil, err
		}
	}
	ring := defaultKeyring()
	if cfg.DefaultPolicy.AllowLocalhostWithoutAuth != nil {
		ring.AllowLocalhostWithoutAuth = *cfg.DefaultPolicy.AllowLocalhostWithoutAuth
	}
	ring.TrustForwardedFor = cfg.DefaultPolicy.TrustForwardedFor
	for agentID, keys := range cfg.Agents {
		for _, key := range keys.Keys {
			key = strings.TrimSpace(key)
			if key == "" {
				continue
			}
			if existing, ok := ring.keyToAgent[key]; ok && existing != agentID {
				return nil, fmt.Errorf("key reused across agents: %q", key)
			}
			ring.keyToAgent[key] = agentID
		}
	}
	return ring, nil
}

func defaultKeyring() *Keyring {
	return &Keyring{AllowLocalhostWithoutAuth: true, keyToAgent: make(map[string]string)}
}

func NewKeyring(allowLocalhost bool, keyToAgent map[string]string) *Keyring {
	clone := make(map[string]string, len(keyToAgent))
	for k, v := range keyToAgent {
		clone[k] = v
	}
	return &Keyring{AllowLocalhostWithoutAuth: allowLocalhost, keyToAgent: clone}
}

// AgentForKey returns the agent an API key belongs to.
func (k *Keyring) AgentForKey(key string) (string, bool) {
	if k == nil {
		return "", false
	}
	agentID, ok := k.keyToAgent[key]
	return agentID, ok
}
