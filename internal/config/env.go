package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig      = "CTX_CONFIG"
	EnvServerURL   = "CTX_API_URL"
	EnvStoragePath = "CTX_STORAGE_PATH"
	EnvUsername    = "CTX_USERNAME"
	EnvPassword    = "CTX_PASSWORD"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath  string // CTX_CONFIG: override config file path
	ServerURL   string // CTX_API_URL: API server URL
	StoragePath string // CTX_STORAGE_PATH: token and data directory
	Username    string // CTX_USERNAME: login user
	Password    string // CTX_PASSWORD: login password for non-interactive use
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify a Config; Resolve applies the fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:  os.Getenv(EnvConfig),
		ServerURL:   os.Getenv(EnvServerURL),
		StoragePath: os.Getenv(EnvStoragePath),
		Username:    os.Getenv(EnvUsername),
		Password:    os.Getenv(EnvPassword),
	}
}
