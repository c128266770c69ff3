package config

import (
	"fmt"
	"io"
)

// RenderEffective writes the resolved configuration as TOML-style lines to w.
// This powers "config show": it reveals the values after every override layer
// has been applied. The password is never printed.
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	if r.ConfigPath != "" {
		ew.printf("# Effective configuration (file: %s)\n\n", r.ConfigPath)
	}

	ew.printf("server_url         = %q\n", r.ServerURL)
	ew.printf("username           = %q\n", r.Username)
	ew.printf("storage_path       = %q\n", r.StoragePath)
	ew.printf("\n")

	ew.printf("connect_timeout    = %q\n", r.ConnectTimeout.String())
	ew.printf("read_timeout       = %q\n", r.ReadTimeout.String())

	if r.UserAgent != "" {
		ew.printf("user_agent         = %q\n", r.UserAgent)
	}

	ew.printf("\n")
	ew.printf("chunk_size         = %q\n", FormatSize(r.ChunkSize))
	ew.printf("parallel_uploads   = %d\n", r.ParallelUploads)
	ew.printf("\n")

	ew.printf("log_level          = %q\n", r.Logging.LogLevel)

	if r.Logging.LogFile != "" {
		ew.printf("log_file           = %q\n", r.Logging.LogFile)
	}

	ew.printf("log_format         = %q\n", r.Logging.LogFormat)
	ew.printf("log_retention_days = %d\n", r.Logging.LogRetentionDays)

	return ew.err
}

// errWriter wraps an io.Writer and keeps the first write error. Writes after
// an error are no-ops, so callers can chain printf calls.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
