// Package cli holds helpers behind the laragates subcommands.
package cli

import (
	"fmt"
	"strings"

	"github.com/nusagates/laragates-sub001/internal/auth"
)

// InitKeysFile issues an API key for agentID in the keys file at path and
// returns it. The agent still has to be registered through the API before
// the key can act on sessions.
func InitKeysFile(path, agentID string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("keys file path required")
	}
	key, err := auth.AddKey(path, agentID)
	if err != nil {
		return "", fmt.Errorf("init keys file: %w", err)
	}
	return key, nil
}
