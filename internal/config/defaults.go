package config

// Default values for configuration options. These are layer 0 of the
// override chain and work without any config file.
const (
	defaultServerURL        = "https://api.coretex.ai"
	defaultConnectTimeout   = "20s"
	defaultReadTimeout      = "30s"
	defaultChunkSize        = "16MiB"
	defaultParallelUploads  = 1
	defaultLogLevel         = "info"
	defaultLogFormat        = "auto"
	defaultLogRetentionDays = 30
)

// DefaultConfig returns a Config populated with all default values.
// It is the starting point for TOML decoding, so unset keys keep defaults.
// StoragePath stays empty here and resolves to DefaultDataDir.
func DefaultConfig() *Config {
	return &Config{
		ServerURL: defaultServerURL,
		NetworkConfig: NetworkConfig{
			ConnectTimeout: defaultConnectTimeout,
			ReadTimeout:    defaultReadTimeout,
		},
		TransfersConfig: TransfersConfig{
			ChunkSize:       defaultChunkSize,
			ParallelUploads: defaultParallelUploads,
		},
		LoggingConfig: LoggingConfig{
			LogLevel:         defaultLogLevel,
			LogFormat:        defaultLogFormat,
			LogRetentionDays: defaultLogRetentionDays,
		},
	}
}
