package cli

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/nusagates/laragates-sub001/internal/auth"
)

type testKeysFile struct {
	DefaultPolicy struct {
		AllowLocalhostWithoutAuth bool `yaml:"allow_localhost_without_auth"`
	} `yaml:"default_policy"`
	Agents map[string]struct {
		Keys []string `yaml:"keys"`
	} `yaml:"agents"`
}

func TestInitKeysFileCreatesAgentKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.yaml")
	key, err := InitKeysFile(path, "agent-a")
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if key == "" {
		t.Fatalf("expected generated key")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read keys file: %v", err)
	}
	var cfg testKeysFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("parse yaml: %v", err)
	}
	keys := cfg.Agents["agent-a"].Keys
	if len(keys) != 1 || keys[0] != key {
		t.Fatalf("expected agent-a key %q, got %+v", key, keys)
	}
	if !cfg.DefaultPolicy.AllowLocalhostWithoutAuth {
		t.Fatalf("expected localhost bypass to default on")
	}
}

func TestInitKeysFileAppendsAndLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.yaml")
	first, err := InitKeysFile(path, "agent-a")
	if err != nil {
		t.Fatalf("first init: %v", err)
	}
	second, err := InitKeysFile(path, "agent-a")
	if err != nil {
		t.Fatalf("second init: %v", err)
	}
	other, err := InitKeysFile(path, "sup-1")
	if err != nil {
		t.Fatalf("third init: %v", err)
	}

	ring, err := auth.LoadKeyring(path)
	if err != nil {
		t.Fatalf("load keyring: %v", err)
	}
	for key, want := range map[string]string{first: "agent-a", second: "agent-a", other: "sup-1"} {
		if got, ok := ring.AgentForKey(key); !ok || got != want {
			t.Fatalf("key for %s resolved to %q (ok=%v)", want, got, ok)
		}
	}
}

func TestInitKeysFileRequiresAgent(t *testing.T) {
	if _, err := InitKeysFile(filepath.Join(t.TempDir(), "k.yaml"), " "); err == nil {
		t.Fatal("expected error without agent id")
	}
}

func TestInitKeysFileKeepsPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.yaml")
	body := "default_policy:\n  allow_localhost_without_auth: false\n  trust_forwarded_for: true\nagents:\n  agent-a:\n    keys: [old]\n"
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	key, err := InitKeysFile(path, "agent-b")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	ring, err := auth.LoadKeyring(path)
	if err != nil {
		t.Fatalf("load keyring: %v", err)
	}
	if ring.AllowLocalhostWithoutAuth || !ring.TrustForwardedFor {
		t.Fatalf("policy changed by init: %+v", ring)
	}
	if got, ok := ring.AgentForKey("old"); !ok || got != "agent-a" {
		t.Fatalf("existing key lost, got %q", got)
	}
	if got, ok := ring.AgentForKey(key); !ok || got != "agent-b" {
		t.Fatalf("new key not stored, got %q", got)
	}
}
