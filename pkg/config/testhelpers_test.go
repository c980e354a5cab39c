package config

import (
	"os"
	"path/filepath"
	"testing"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

// validConfig returns a defaulted configuration that passes Validate.
func validConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.Hop.Secret = testSecret
	return cfg
}
