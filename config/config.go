package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the vaultd node configuration.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	ProgramID     string `toml:"ProgramID"`
	Environment   string `toml:"Environment"`
	AllowAirdrop  bool   `toml:"AllowAirdrop"`
	EventBacklog  int    `toml:"EventBacklog"`

	LogLevel      string `toml:"LogLevel"`
	LogFile       string `toml:"LogFile"`
	LogMaxSizeMB  int    `toml:"LogMaxSizeMB"`
	LogMaxBackups int    `toml:"LogMaxBackups"`
	LogMaxAgeDays int    `toml:"LogMaxAgeDays"`
}

const (
	DefaultListenAddress = ":8899"
	DefaultDataDir       = "./vault-data"
	DefaultEventBacklog  = 1024
)

// Default returns the configuration written for a fresh node.
func Default() *Config {
	return &Config{
		ListenAddress: DefaultListenAddress,
		DataDir:       DefaultDataDir,
		ProgramID:     DefaultProgramID,
		Environment:   "local",
		AllowAirdrop:  true,
		EventBacklog:  DefaultEventBacklog,
		LogLevel:      "info",
		LogMaxSizeMB:  100,
		LogMaxBackups: 5,
		LogMaxAgeDays: 28,
	}
}

// Load loads the configuration from the given path. A missing file is
// created with defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown key %q", path, undecoded[0].String())
	}

	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = DefaultListenAddress
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = DefaultDataDir
	}
	if strings.TrimSpace(cfg.ProgramID) == "" {
		cfg.ProgramID = DefaultProgramID
	}
	if cfg.EventBacklog <= 0 {
		cfg.EventBacklog = DefaultEventBacklog
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
