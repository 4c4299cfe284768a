package auth

import (
	"fmt"
	"os"
)

// BootstrapResult reports the key issued on first start. Key is empty when
// the keys file was already there.
type BootstrapResult struct {
	KeysFile string
	AgentID  string
	Key      string
	Created  bool
}

// BootstrapDevKey gives a fresh install one usable key, for agentID or
// "dev". An existing keys file is never touched.
func BootstrapDevKey(keysPath, agentID string) (*BootstrapResult, error) {
	if keysPath == "" {
		keysPath = ResolveKeysPath()
	}
	if agentID == "" {
		agentID = "dev"
	}
	res := &BootstrapResult{KeysFile: keysPath, AgentID: agentID}
	switch _, err := os.Stat(keysPath); {
	case err == nil:
		return res, nil
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("check keys file: %w", err)
	}

	key, err := AddKey(keysPath, agentID)
	if err != nil {
		return nil, err
	}
	res.Key, res.Created = key, true
	return res, nil
}
