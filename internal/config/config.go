// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for the coretex CLI. Values are resolved
// through a four-layer override chain: defaults -> config file ->
// environment -> CLI flags.
package config

import (
	"path/filepath"
	"time"
)

// Config is the configuration parsed from a TOML file. All keys are flat;
// the embedded structs only group related settings.
type Config struct {
	ServerURL   string `toml:"server_url"`
	Username    string `toml:"username"`
	StoragePath string `toml:"storage_path"`

	NetworkConfig
	TransfersConfig
	LoggingConfig
}

// NetworkConfig controls HTTP client behavior.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	ReadTimeout    string `toml:"read_timeout"`
	UserAgent      string `toml:"user_agent"`
}

// TransfersConfig controls chunked uploads and upload parallelism.
type TransfersConfig struct {
	ChunkSize       string `toml:"chunk_size"`
	ParallelUploads int    `toml:"parallel_uploads"`
}

// LoggingConfig controls log output behavior: level, format, and rotation.
type LoggingConfig struct {
	LogLevel         string `toml:"log_level"`
	LogFile          string `toml:"log_file"`
	LogFormat        string `toml:"log_format"`
	LogRetentionDays int    `toml:"log_retention_days"`
}

// CLIOverrides holds values from CLI flags. Pointer fields distinguish "not
// specified" (nil) from "explicitly set to the zero value".
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	ServerURL  *string // --server flag
	Username   *string // --username flag
}

// Resolved is the effective configuration after all override layers, with
// durations and sizes parsed.
type Resolved struct {
	ConfigPath string

	ServerURL   string
	Username    string
	Password    string // environment only, never read from the file
	StoragePath string

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	UserAgent      string

	ChunkSize       int64
	ParallelUploads int

	Logging LoggingConfig
}

// TokenPath returns the token file location inside the storage directory.
func (r *Resolved) TokenPath() string {
	return filepath.Join(r.StoragePath, tokenFileName)
}
