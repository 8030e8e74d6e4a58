package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// DefaultAPIURL is the production clinic backend
	DefaultAPIURL = "https://gulf-clinic-backend-production.up.railway.app"

	// Credential store backends
	StoreKeyring = "keyring"
	StoreFile    = "file"
	StoreMemory  = "memory"
)

// Config holds all configuration for the application
type Config struct {
	// Clinic API Configuration
	API APIConfig

	// Credential storage Configuration
	Credentials CredentialConfig

	// Session verification Configuration
	Session SessionConfig

	// Web console Configuration
	Console ConsoleConfig

	// Logging Configuration
	Logging LoggingConfig
}

// APIConfig holds the remote clinic API configuration
type APIConfig struct {
	// BaseURL is empty when CLINIC_API_URL is unset so callers can layer the
	// user config underneath the environment. Use ResolveAPIURL.
	BaseURL string
	Timeout time.Duration
}

// CredentialConfig selects where the bearer credential is persisted
type CredentialConfig struct {
	Store string // keyring, file, memory
	File  string
}

// SessionConfig holds session verification settings
type SessionConfig struct {
	VerifyTimeout    time.Duration
	ReverifySchedule string // cron expression, empty disables
}

// ConsoleConfig holds the web console configuration
type ConsoleConfig struct {
	ListenAddr     string
	AllowedOrigins []string
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level  string
	Format string // json, console
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env files (fails silently if files don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	httpTimeout, err := durationEnv("CLINIC_HTTP_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	verifyTimeout, err := durationEnv("CLINIC_VERIFY_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	store := strings.ToLower(os.Getenv("CLINIC_CREDENTIAL_STORE"))
	if store == "" {
		store = StoreKeyring
	}
	switch store {
	case StoreKeyring, StoreFile, StoreMemory:
	default:
		return nil, fmt.Errorf("invalid CLINIC_CREDENTIAL_STORE %q, must be one of: keyring, file, memory", store)
	}

	credFile := os.Getenv("CLINIC_CREDENTIAL_FILE")
	if credFile == "" {
		credFile = filepath.Join(configDir(), "credential.json")
	}

	// Re-verify the console session periodically; "off" disables it
	reverify, ok := os.LookupEnv("CLINIC_REVERIFY_SCHEDULE")
	if !ok {
		reverify = "@every 5m"
	}
	if strings.EqualFold(reverify, "off") {
		reverify = ""
	}

	listenAddr := os.Getenv("CONSOLE_LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = "127.0.0.1:8080"
	}

	origins := []string{"http://localhost:5173"}
	if v := os.Getenv("CONSOLE_ALLOWED_ORIGINS"); v != "" {
		origins = splitList(v)
	}

	// Logging configuration - defaults suitable for production
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	logFormat := os.Getenv("LOG_FORMAT")
	if logFormat == "" {
		logFormat = "json"
	}

	return &Config{
		API: APIConfig{
			BaseURL: strings.TrimRight(os.Getenv("CLINIC_API_URL"), "/"),
			Timeout: httpTimeout,
		},
		Credentials: CredentialConfig{
			Store: store,
			File:  credFile,
		},
		Session: SessionConfig{
			VerifyTimeout:    verifyTimeout,
			ReverifySchedule: reverify,
		},
		Console: ConsoleConfig{
			ListenAddr:     listenAddr,
			AllowedOrigins: origins,
		},
		Logging: LoggingConfig{
			Level:  logLevel,
			Format: logFormat,
		},
	}, nil
}

// ResolveAPIURL returns the API base URL by precedence: the first non-empty
// override (flag), CLINIC_API_URL, the remaining fallbacks (user config), then
// DefaultAPIURL.
func (c *Config) ResolveAPIURL(flag string, fallbacks ...string) string {
	candidates := append([]string{flag, c.API.BaseURL}, fallbacks...)
	for _, v := range candidates {
		if v = strings.TrimRight(strings.TrimSpace(v), "/"); v != "" {
			return v
		}
	}
	return DefaultAPIURL
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func configDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "clinicadmin")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "clinicadmin")
}
