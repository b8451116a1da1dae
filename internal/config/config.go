package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/pairlink/pairlink/internal/util"
)

// HubConfig configures the cloud rendezvous hub.
type HubConfig struct {
	Port             int    `env:"PORT" envDefault:"3000"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"info"`
	StaticDir        string `env:"STATIC_DIR" envDefault:"static"`
	PublicBaseURL    string `env:"PUBLIC_BASE_URL" envDefault:""`
	HeartbeatSeconds int    `env:"HEARTBEAT_SECONDS" envDefault:"30"`
	PairCodeSeconds  int    `env:"PAIR_CODE_SECONDS" envDefault:"300"`
	RoomIdleHours    int    `env:"ROOM_IDLE_HOURS" envDefault:"24"`
}

func (c *HubConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *HubConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

func (c *HubConfig) PairCodeTTL() time.Duration {
	return time.Duration(c.PairCodeSeconds) * time.Second
}

func (c *HubConfig) RoomIdleTTL() time.Duration {
	return time.Duration(c.RoomIdleHours) * time.Hour
}

// AgentConfig configures the desktop agent.
type AgentConfig struct {
	HubURL          string   `env:"HUB_URL" envDefault:"ws://localhost:3000/ws"`
	HubAPIURL       string   `env:"HUB_API_URL" envDefault:"http://localhost:3000"`
	DeviceName      string   `env:"DEVICE_NAME" envDefault:""`
	StateDir        string   `env:"STATE_DIR" envDefault:""`
	CLIBin          string   `env:"CLI_BIN" envDefault:"~/.local/bin/claude"`
	AllowedDirs     []string `env:"ALLOWED_DIRS" envSeparator:":"`
	SessionCap      int      `env:"SESSION_CAP" envDefault:"10"`
	RestartDelayMs  int      `env:"WORKER_RESTART_DELAY_MS" envDefault:"3000"`
	PingSeconds     int      `env:"PING_SECONDS" envDefault:"30"`
	LogLevel        string   `env:"LOG_LEVEL" envDefault:"info"`
	ReconnectMaxSec int      `env:"RECONNECT_MAX_SECONDS" envDefault:"30"`
}

func (c *AgentConfig) RestartDelay() time.Duration {
	return time.Duration(c.RestartDelayMs) * time.Millisecond
}

func (c *AgentConfig) PingInterval() time.Duration {
	return time.Duration(c.PingSeconds) * time.Second
}

// CLIPath expands a leading ~ in the configured CLI binary path.
func (c *AgentConfig) CLIPath() string {
	return ExpandHome(c.CLIBin)
}

// BridgeConfig configures the single-operator chat-front-end variant.
type BridgeConfig struct {
	Password      string `env:"BRIDGE_PASSWORD,required"`
	MaxMessageLen int    `env:"MAX_MESSAGE_LEN" envDefault:"4000"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *BridgeConfig) Validate() error {
	// Bcrypt hashes pass regardless of length; plaintext secrets must not be trivial.
	if util.IsBcryptHash(c.Password) {
		return nil
	}
	if len(c.Password) < 8 {
		return fmt.Errorf("BRIDGE_PASSWORD must be at least 8 characters (or a bcrypt hash, generate with: go run scripts/hash-password.go <password>)")
	}
	return nil
}

// ExpandHome replaces a leading ~/ with the current user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}

func LoadHub() (*HubConfig, error) {
	var cfg HubConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse hub config: %w", err)
	}
	return &cfg, nil
}

func LoadAgent() (*AgentConfig, error) {
	var cfg AgentConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse agent config: %w", err)
	}
	if cfg.DeviceName == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "desktop"
		}
		cfg.DeviceName = host
	}
	if cfg.StateDir == "" {
		cfg.StateDir = ExpandHome("~/.pairlink")
	} else {
		cfg.StateDir = ExpandHome(cfg.StateDir)
	}
	for i, dir := range cfg.AllowedDirs {
		cfg.AllowedDirs[i] = ExpandHome(dir)
	}
	return &cfg, nil
}

func LoadBridge() (*BridgeConfig, error) {
	var cfg BridgeConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse bridge config: %w", err)
	}
	return &cfg, nil
}
