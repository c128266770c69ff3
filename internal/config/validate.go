package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Validation range constants.
const (
	minChunkBytes      = 1
	maxChunkBytes      = 128 * mebibyte
	minParallelUploads = 1
	maxParallelUploads = 16
	minLogRetention    = 1
	minTimeout         = 1 * time.Second
)

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

var validLogFormats = map[string]bool{
	"auto": true, "text": true, "json": true,
}

// Validate checks all configuration values and returns every error found,
// so a user can fix the whole file in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateServerURL(cfg.ServerURL)...)
	errs = append(errs, validateNetwork(&cfg.NetworkConfig)...)
	errs = append(errs, validateTransfers(&cfg.TransfersConfig)...)
	errs = append(errs, validateLogging(&cfg.LoggingConfig)...)

	return errors.Join(errs...)
}

func validateServerURL(s string) []error {
	if s == "" {
		return []error{errors.New("server_url: must not be empty")}
	}

	u, err := url.Parse(s)
	if err != nil {
		return []error{fmt.Errorf("server_url: %w", err)}
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return []error{fmt.Errorf("server_url: must be an http(s) URL, got %q", s)}
	}

	return nil
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateTimeout("connect_timeout", n.ConnectTimeout)...)
	errs = append(errs, validateTimeout("read_timeout", n.ReadTimeout)...)

	return errs
}

func validateTimeout(key, s string) []error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", key, s, err)}
	}

	if d < minTimeout {
		return []error{fmt.Errorf("%s: must be at least %s, got %s", key, minTimeout, s)}
	}

	return nil
}

func validateTransfers(t *TransfersConfig) []error {
	var errs []error

	bytes, err := ParseSize(t.ChunkSize)

	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("chunk_size: %w", err))
	case bytes < minChunkBytes || bytes > maxChunkBytes:
		errs = append(errs, fmt.Errorf("chunk_size: must be between 1B and 128MiB, got %s", t.ChunkSize))
	}

	if t.ParallelUploads < minParallelUploads || t.ParallelUploads > maxParallelUploads {
		errs = append(errs, fmt.Errorf("parallel_uploads: must be between %d and %d, got %d",
			minParallelUploads, maxParallelUploads, t.ParallelUploads))
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	if l.LogRetentionDays < minLogRetention {
		errs = append(errs, fmt.Errorf("log_retention_days: must be >= %d, got %d",
			minLogRetention, l.LogRetentionDays))
	}

	return errs
}
