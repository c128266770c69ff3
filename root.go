package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/coretexai/coretex-go/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagServerURL  string
	flagUsername   string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// resolvedCfg holds the effective configuration loaded by PersistentPreRunE.
var resolvedCfg *config.Resolved

// cliLogger is built once per invocation after config is loaded, so a
// rotating log file has exactly one writer.
var cliLogger *slog.Logger

// Log rotation size for log_file.
const logMaxSizeMB = 50

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "coretex",
		Short:   "Coretex platform CLI",
		Long:    "Command-line client for the Coretex platform API: authentication, uploads, downloads and raw requests.",
		Version: version,
		// Errors are printed by exitOnError.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadConfig(cmd); err != nil {
				return err
			}

			cliLogger = buildLogger()
			slog.SetDefault(cliLogger)

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagServerURL, "server", "", "API server URL (overrides server_url)")
	cmd.PersistentFlags().StringVarP(&flagUsername, "username", "u", "", "account username (overrides username)")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newRefreshCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newUploadCmd())
	cmd.AddCommand(newDownloadCmd())
	cmd.AddCommand(newDeleteCmd())
	cmd.AddCommand(newRequestCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the override chain
// and stores the result in resolvedCfg for use by subcommands.
func loadConfig(cmd *cobra.Command) error {
	cli := config.CLIOverrides{
		ConfigPath: flagConfigPath,
	}

	// Only pass flags the user explicitly set.
	if cmd.Flags().Changed("server") {
		cli.ServerURL = &flagServerURL
	}

	if cmd.Flags().Changed("username") {
		cli.Username = &flagUsername
	}

	resolved, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolvedCfg = resolved

	return nil
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. The config-file log level is the baseline; --verbose and
// --quiet override it.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo
	format := "auto"

	var w io.Writer = os.Stderr

	terminal := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())

	if resolvedCfg != nil {
		level = parseLogLevel(resolvedCfg.Logging.LogLevel)
		format = resolvedCfg.Logging.LogFormat

		if resolvedCfg.Logging.LogFile != "" {
			w = &lumberjack.Logger{
				Filename: resolvedCfg.Logging.LogFile,
				MaxSize:  logMaxSizeMB,
				MaxAge:   resolvedCfg.Logging.LogRetentionDays,
			}
			terminal = false
		}
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return slog.New(newLogHandler(w, format, terminal, level))
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newLogHandler picks text for terminals and JSON otherwise, unless the
// format is fixed by configuration.
func newLogHandler(w io.Writer, format string, terminal bool, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	if format == "json" || (format == "auto" && !terminal) {
		return slog.NewJSONHandler(w, opts)
	}

	return slog.NewTextHandler(w, opts)
}

// cmdLogger returns the invocation logger, falling back to the default logger
// when a command runs without the root pre-run (tests).
func cmdLogger() *slog.Logger {
	if cliLogger != nil {
		return cliLogger
	}

	return slog.Default()
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
