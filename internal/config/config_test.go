package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadHub(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		cfg, err := LoadHub()
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Port)
		assert.Equal(t, ":3000", cfg.Addr())
		assert.Equal(t, "info", cfg.LogLevel)
	})

	t.Run("reads PORT from environment", func(t *testing.T) {
		t.Setenv("PORT", "4000")

		cfg, err := LoadHub()
		require.NoError(t, err)
		assert.Equal(t, ":4000", cfg.Addr())
	})

	t.Run("derives durations from seconds", func(t *testing.T) {
		t.Setenv("HEARTBEAT_SECONDS", "10")
		t.Setenv("PAIR_CODE_SECONDS", "60")

		cfg, err := LoadHub()
		require.NoError(t, err)
		assert.Equal(t, "10s", cfg.HeartbeatInterval().String())
		assert.Equal(t, "1m0s", cfg.PairCodeTTL().String())
	})
}

func TestLoadAgent(t *testing.T) {
	t.Run("splits allow-list on colon", func(t *testing.T) {
		t.Setenv("ALLOWED_DIRS", "/home/u/projects:/home/u/scratch")

		cfg, err := LoadAgent()
		require.NoError(t, err)
		assert.Equal(t, []string{"/home/u/projects", "/home/u/scratch"}, cfg.AllowedDirs)
	})

	t.Run("defaults device name to hostname", func(t *testing.T) {
		cfg, err := LoadAgent()
		require.NoError(t, err)
		assert.NotEmpty(t, cfg.DeviceName)
	})

	t.Run("expands home in CLI path", func(t *testing.T) {
		t.Setenv("HOME", "/home/u")
		t.Setenv("CLI_BIN", "~/.local/bin/claude")

		cfg, err := LoadAgent()
		require.NoError(t, err)
		assert.Equal(t, "/home/u/.local/bin/claude", cfg.CLIPath())
	})
}

func TestBridgeConfigValidate(t *testing.T) {
	t.Run("rejects short plaintext passwords", func(t *testing.T) {
		cfg := &BridgeConfig{Password: "short"}
		assert.Error(t, cfg.Validate())
	})

	t.Run("accepts bcrypt hashes of any length", func(t *testing.T) {
		cfg := &BridgeConfig{Password: "$2b$12$abcdefghijklmnopqrstuv"}
		assert.NoError(t, cfg.Validate())
	})

	t.Run("accepts long plaintext secrets", func(t *testing.T) {
		cfg := &BridgeConfig{Password: "a-long-shared-secret"}
		assert.NoError(t, cfg.Validate())
	})
}
