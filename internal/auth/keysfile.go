package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// keysFile is the on-disk keyring:
//
//	default_policy:
//	  allow_localhost_without_auth: true
//	  trust_forwarded_for: false
//	agents:
//	  agent-a:
//	    keys: [...]
type keysFile struct {
	DefaultPolicy struct {
		AllowLocalhostWithoutAuth *bool `yaml:"allow_localhost_without_auth"`
		TrustForwardedFor         bool  `yaml:"trust_forwarded_for,omitempty"`
	} `yaml:"default_policy"`
	Agents map[string]agentKeys `yaml:"agents"`
}

type agentKeys struct {
	Keys []string `yaml:"keys"`
}

// readKeysFile parses path. found is false when the file does not exist.
func readKeysFile(path string) (cfg keysFile, found bool, err error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return keysFile{}, false, nil
	}
	if err != nil {
		return keysFile{}, false, fmt.Errorf("read keys file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return keysFile{}, true, fmt.Errorf("parse keys file: %w", err)
	}
	return cfg, true, nil
}

func writeKeysFile(path string, cfg keysFile) error {
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("marshal keys file: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write keys file: %w", err)
	}
	return nil
}

// AddKey issues a new API key for agentID and stores it in the keys file at
// path, creating the file with localhost access enabled if it is missing.
// Existing keys and policy are kept.
func AddKey(path, agentID string) (string, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return "", errors.New("agent id required")
	}
	cfg, _, err := readKeysFile(path)
	if err != nil {
		return "", err
	}
	key, err := newAPIKey()
	if err != nil {
		return "", err
	}
	if cfg.Agents == nil {
		cfg.Agents = make(map[string]agentKeys)
	}
	entry := cfg.Agents[agentID]
	entry.Keys = append(entry.Keys, key)
	cfg.Agents[agentID] = entry
	if cfg.DefaultPolicy.AllowLocalhostWithoutAuth == nil {
		on := true
		cfg.DefaultPolicy.AllowLocalhostWithoutAuth = &on
	}
	if err := writeKeysFile(path, cfg); err != nil {
		return "", err
	}
	return key, nil
}

// newAPIKey returns 32 random bytes, URL-safe base64 without padding.
func newAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
