package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal, with "did you mean?" suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables -> CLI flags.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	if env.ServerURL != "" {
		cfg.ServerURL = env.ServerURL
	}

	if env.StoragePath != "" {
		cfg.StoragePath = env.StoragePath
	}

	if env.Username != "" {
		cfg.Username = env.Username
	}

	if cli.ServerURL != nil {
		cfg.ServerURL = *cli.ServerURL
	}

	if cli.Username != nil {
		cfg.Username = *cli.Username
	}

	// Overrides can introduce bad values the file check never saw.
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return buildResolved(cfg, cfgPath, env.Password)
}

func buildResolved(cfg *Config, cfgPath, password string) (*Resolved, error) {
	storage, err := expandTilde(cfg.StoragePath)
	if err != nil {
		return nil, err
	}

	if storage == "" {
		storage = DefaultDataDir()
	}

	// Validate already checked these parse.
	connect, _ := time.ParseDuration(cfg.ConnectTimeout)
	read, _ := time.ParseDuration(cfg.ReadTimeout)
	chunk, _ := ParseSize(cfg.ChunkSize)

	return &Resolved{
		ConfigPath:      cfgPath,
		ServerURL:       strings.TrimRight(cfg.ServerURL, "/"),
		Username:        cfg.Username,
		Password:        password,
		StoragePath:     storage,
		ConnectTimeout:  connect,
		ReadTimeout:     read,
		UserAgent:       cfg.UserAgent,
		ChunkSize:       chunk,
		ParallelUploads: cfg.ParallelUploads,
		Logging:         cfg.LoggingConfig,
	}, nil
}

// expandTilde replaces a leading "~/" with the user's home directory.
func expandTilde(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expanding %q: %w", path, err)
	}

	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
