package auth

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBootstrapDevKeyCreatesFile(t *testing.T) {
	keysPath := filepath.Join(t.TempDir(), "test-keys.yaml")

	result, err := BootstrapDevKey(keysPath, "agent-7")
	if err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	if !result.Created || result.Key == "" {
		t.Fatalf("expected a created key, got %+v", result)
	}
	if result.AgentID != "agent-7" {
		t.Fatalf("expected agent-7, got %s", result.AgentID)
	}

	ring, err := LoadKeyring(keysPath)
	if err != nil {
		t.Fatalf("load keyring: %v", err)
	}
	agentID, ok := ring.AgentForKey(result.Key)
	if !ok || agentID != "agent-7" {
		t.Fatalf("expected key to map to agent-7, got %s ok=%v", agentID, ok)
	}
	if !ring.AllowLocalhostWithoutAuth {
		t.Fatal("bootstrapped keyring should allow localhost")
	}
}

func TestBootstrapDevKeySkipsExisting(t *testing.T) {
	keysPath := filepath.Join(t.TempDir(), "test-keys.yaml")
	if err := os.WriteFile(keysPath, []byte("existing"), 0600); err != nil {
		t.Fatalf("write existing: %v", err)
	}

	result, err := BootstrapDevKey(keysPath, "agent-7")
	if err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	if result.Created {
		t.Fatalf("expected Created=false for existing file")
	}
	data, _ := os.ReadFile(keysPath)
	if string(data) != "existing" {
		t.Fatalf("file was modified")
	}
}

func TestBootstrapDevKeyDefaultAgent(t *testing.T) {
	result, err := BootstrapDevKey(filepath.Join(t.TempDir(), "test-keys.yaml"), "")
	if err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	if result.AgentID != "dev" {
		t.Fatalf("expected default agent=dev, got %s", result.AgentID)
	}
}

func TestLoadKeyringRejectsSharedKey(t *testing.T) {
	keysPath := filepath.Join(t.TempDir(), "keys.yaml")
	body := "agents:\n  a1:\n    keys: [shared]\n  a2:\n    keys: [shared]\n"
	if err := os.WriteFile(keysPath, []byte(body), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadKeyring(keysPath); err == nil {
		t.Fatal("expected error for key shared by two agents")
	}
}

func TestLoadKeyringForwardedPolicy(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "plain.yaml")
	if err := os.WriteFile(plain, []byte("agents:\n  a1:\n    keys: [k1]\n"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	ring, err := LoadKeyring(plain)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ring.TrustForwardedFor {
		t.Fatal("expected forwarded headers untrusted by default")
	}

	proxied := filepath.Join(dir, "proxied.yaml")
	body := "default_policy:\n  trust_forwarded_for: true\nagents:\n  a1:\n    keys: [k1]\n"
	if err := os.WriteFile(proxied, []byte(body), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	ring, err = LoadKeyring(proxied)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !ring.TrustForwardedFor {
		t.Fatal("expected trust_forwarded_for to be honoured")
	}
}
