package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/csweichel/chainfs/pkg/chunkio"
)

const (
	defaultCallTimeout = 2 * time.Minute
	defaultMaxPayload  = 24 * 1024
	defaultTimeout     = time.Second
)

// Default returns the configuration used when nothing is configured.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero values.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Remote.CallTimeout == 0 {
		cfg.Remote.CallTimeout = defaultCallTimeout
	}
	if cfg.Remote.MaxPayload == 0 {
		cfg.Remote.MaxPayload = defaultMaxPayload
	}
	if cfg.IO.ChunkSize == 0 {
		cfg.IO.ChunkSize = chunkio.DefaultChunkSize
	}
	if cfg.State.Dir == "" {
		cfg.State.Dir = stateDir()
	}
	if cfg.Mount.AttrTimeout == 0 {
		cfg.Mount.AttrTimeout = defaultTimeout
	}
	if cfg.Mount.EntryTimeout == 0 {
		cfg.Mount.EntryTimeout = defaultTimeout
	}
}

func stateDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "chainfs")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "chainfs-state"
	}
	return filepath.Join(home, ".local", "share", "chainfs")
}
