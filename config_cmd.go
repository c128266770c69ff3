package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/coretexai/coretex-go/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	}
}

// configOutput is the JSON schema for `config show --json`. The password is
// never included.
type configOutput struct {
	ConfigPath       string `json:"config_path"`
	ServerURL        string `json:"server_url"`
	Username         string `json:"username,omitempty"`
	StoragePath      string `json:"storage_path"`
	ConnectTimeout   string `json:"connect_timeout"`
	ReadTimeout      string `json:"read_timeout"`
	UserAgent        string `json:"user_agent,omitempty"`
	ChunkSize        int64  `json:"chunk_size"`
	ParallelUploads  int    `json:"parallel_uploads"`
	LogLevel         string `json:"log_level"`
	LogFile          string `json:"log_file,omitempty"`
	LogFormat        string `json:"log_format"`
	LogRetentionDays int    `json:"log_retention_days"`
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if resolvedCfg == nil {
		return errors.New("no configuration loaded")
	}

	out := cmd.OutOrStdout()

	if flagJSON {
		r := resolvedCfg

		return printJSON(out, configOutput{
			ConfigPath:       r.ConfigPath,
			ServerURL:        r.ServerURL,
			Username:         r.Username,
			StoragePath:      r.StoragePath,
			ConnectTimeout:   r.ConnectTimeout.String(),
			ReadTimeout:      r.ReadTimeout.String(),
			UserAgent:        r.UserAgent,
			ChunkSize:        r.ChunkSize,
			ParallelUploads:  r.ParallelUploads,
			LogLevel:         r.Logging.LogLevel,
			LogFile:          r.Logging.LogFile,
			LogFormat:        r.Logging.LogFormat,
			LogRetentionDays: r.Logging.LogRetentionDays,
		})
	}

	return config.RenderEffective(resolvedCfg, out)
}
