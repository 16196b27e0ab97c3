// Package config provides application configuration management with support for environment variables, command-line flags, and .env files.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration.
type Config struct {
	App     AppConfig
	Logger  LoggerConfig
	Data    DataConfig
	Server  ServerConfig
	Records RecordsConfig
	Sync    SyncConfig
	Seed    SeedConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string
	// File enables rotating file output in addition to stdout.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// DataConfig holds local state storage configuration.
type DataConfig struct {
	// BasePath is the directory holding the registry database and any
	// derived state. Defaults to ~/Tandem/data.
	BasePath string
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Name         string
	Port         string        // Server port (default: 8080)
	ReadTimeout  time.Duration // HTTP read timeout (default: 15s)
	WriteTimeout time.Duration // HTTP write timeout (default: 15s)
	IdleTimeout  time.Duration // HTTP idle timeout (default: 60s)
	// AllowedOrigins lists the origins permitted by CORS. Defaults to "*".
	AllowedOrigins []string
}

// RecordsConfig holds remote records API configuration.
type RecordsConfig struct {
	// BaseURL is the root of the records API, e.g. https://api.records.example.com
	BaseURL string
	// Version is sent as the X-Records-Version header on every request.
	Version string
	// Timeout bounds each HTTP request to the records API.
	Timeout time.Duration
	// RPS and Burst configure the per-database token bucket. The records
	// API enforces roughly 3 requests/second per integration.
	RPS   float64
	Burst int
}

// SyncConfig holds synchronization behavior configuration.
type SyncConfig struct {
	// MaxRetries is the number of retries after the first attempt for
	// transient failures (default: 3, so up to 4 attempts total).
	MaxRetries int
	// InitialBackoff is the delay before the first retry (default: 1s).
	InitialBackoff time.Duration
	// BackoffFactor multiplies the delay after each attempt (default: 2).
	BackoffFactor float64
	// MaxBackoff caps a single computed delay (default: 2m).
	MaxBackoff time.Duration
	// Timeout bounds one attempt of a single-record sync, covering every
	// remote call the decision procedure makes (default: 30s).
	Timeout time.Duration
	// Schedule is the cron expression or @every interval for the periodic
	// reconciliation loop (default: every 6 hours).
	Schedule string
	// LoopEnabled turns the periodic loop on or off. One-shot runs via
	// the API or the reconcile command work either way.
	LoopEnabled bool
}

// SeedConfig holds user seed file configuration.
type SeedConfig struct {
	// Path is the YAML file users are imported from at startup.
	// Empty disables seeding.
	Path string
	// Watch reloads the seed file when it changes on disk.
	Watch bool
}

// flagValues collects the parsed command-line flags before precedence
// resolution.
type flagValues struct {
	env            *string
	logLevel       *string
	logFile        *string
	dataPath       *string
	serverName     *string
	serverPort     *string
	readTimeout    *string
	writeTimeout   *string
	idleTimeout    *string
	corsOrigins    *string
	recordsURL     *string
	recordsVersion *string
	recordsTimeout *string
	recordsRPS     *string
	recordsBurst   *string
	maxRetries     *string
	initialBackoff *string
	backoffFactor  *string
	maxBackoff     *string
	syncTimeout    *string
	schedule       *string
	loopEnabled    *string
	seedPath       *string
	seedWatch      *string
	envFile        *string
}

// FlagSet is the minimal flag-defining interface LoadConfig needs. The
// standard flag.CommandLine satisfies it; tests pass their own set.
type FlagSet interface {
	String(name, value, usage string) *string
	Parse(arguments []string) error
}

// LoadConfig loads configuration from multiple sources with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
func LoadConfig(fs FlagSet, args []string) (*Config, error) {
	fv := flagValues{
		env:            fs.String("env", "", "Environment (development, staging, production)"),
		logLevel:       fs.String("log-level", "", "Log level (debug, info, warn, error)"),
		logFile:        fs.String("log-file", "", "Rotating log file path (empty: stdout only)"),
		dataPath:       fs.String("data-path", "", "Base path for local state storage"),
		serverName:     fs.String("server-name", "", "Name for the server"),
		serverPort:     fs.String("port", "", "Server port (default: 8080)"),
		readTimeout:    fs.String("read-timeout", "", "HTTP read timeout (default: 15s)"),
		writeTimeout:   fs.String("write-timeout", "", "HTTP write timeout (default: 15s)"),
		idleTimeout:    fs.String("idle-timeout", "", "HTTP idle timeout (default: 60s)"),
		corsOrigins:    fs.String("cors-origins", "", "Comma-separated list of allowed CORS origins (default: *)"),
		recordsURL:     fs.String("records-url", "", "Base URL of the records API"),
		recordsVersion: fs.String("records-version", "", "Records API version header value"),
		recordsTimeout: fs.String("records-timeout", "", "Records API request timeout (default: 30s)"),
		recordsRPS:     fs.String("records-rps", "", "Records API requests per second per database (default: 3)"),
		recordsBurst:   fs.String("records-burst", "", "Records API burst size per database (default: 3)"),
		maxRetries:     fs.String("sync-max-retries", "", "Retries after the first attempt for transient failures (default: 3)"),
		initialBackoff: fs.String("sync-initial-backoff", "", "Delay before the first retry (default: 1s)"),
		backoffFactor:  fs.String("sync-backoff-factor", "", "Backoff multiplier per attempt (default: 2.0)"),
		maxBackoff:     fs.String("sync-max-backoff", "", "Cap for a single backoff delay (default: 2m)"),
		syncTimeout:    fs.String("sync-timeout", "", "Bound for one attempt of a single-record sync (default: 30s)"),
		schedule:       fs.String("sync-schedule", "", "Cron expression or @every interval for the reconciliation loop (default: @every 6h)"),
		loopEnabled:    fs.String("sync-loop", "", "Enable the periodic reconciliation loop (default: true)"),
		seedPath:       fs.String("seed-path", "", "YAML file to import users from (default: {data}/users.yaml if present)"),
		seedWatch:      fs.String("seed-watch", "", "Reload the seed file on change (default: true)"),
		envFile:        fs.String("env-file", ".env", "Path to .env file"),
	}

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	// Load .env file if it exists (silently ignore if not found).
	_ = loadEnvFile(*fv.envFile)

	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(*fv.env, "ENV", "development"),
		},
		Logger: LoggerConfig{
			Level:      getConfigValue(*fv.logLevel, "LOG_LEVEL", "info"),
			File:       getConfigValue(*fv.logFile, "LOG_FILE", ""),
			MaxSizeMB:  getIntConfigValue("", "LOG_MAX_SIZE_MB", 20),
			MaxBackups: getIntConfigValue("", "LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getIntConfigValue("", "LOG_MAX_AGE_DAYS", 30),
		},
		Data: DataConfig{
			BasePath: getConfigValue(*fv.dataPath, "DATA_PATH", ""),
		},
		Server: ServerConfig{
			Name:           getConfigValue(*fv.serverName, "SERVER_NAME", "Tandem Server"),
			Port:           getConfigValue(*fv.serverPort, "SERVER_PORT", "8080"),
			AllowedOrigins: splitList(getConfigValue(*fv.corsOrigins, "CORS_ORIGINS", "*")),
		},
		Records: RecordsConfig{
			BaseURL: getConfigValue(*fv.recordsURL, "RECORDS_URL", ""),
			Version: getConfigValue(*fv.recordsVersion, "RECORDS_VERSION", "2025-06-01"),
			RPS:     getFloatConfigValue(*fv.recordsRPS, "RECORDS_RPS", 3),
			Burst:   getIntConfigValue(*fv.recordsBurst, "RECORDS_BURST", 3),
		},
		Sync: SyncConfig{
			MaxRetries:    getIntConfigValue(*fv.maxRetries, "SYNC_MAX_RETRIES", 3),
			BackoffFactor: getFloatConfigValue(*fv.backoffFactor, "SYNC_BACKOFF_FACTOR", 2.0),
			Schedule:      getConfigValue(*fv.schedule, "SYNC_SCHEDULE", "@every 6h"),
			LoopEnabled:   getBoolConfigValue(*fv.loopEnabled, "SYNC_LOOP", true),
		},
		Seed: SeedConfig{
			Path:  getConfigValue(*fv.seedPath, "SEED_PATH", ""),
			Watch: getBoolConfigValue(*fv.seedWatch, "SEED_WATCH", true),
		},
	}

	// Parse durations.
	var err error
	if cfg.Server.ReadTimeout, err = parseDurationValue(*fv.readTimeout, "SERVER_READ_TIMEOUT", "15s"); err != nil {
		return nil, fmt.Errorf("invalid read timeout: %w", err)
	}
	if cfg.Server.WriteTimeout, err = parseDurationValue(*fv.writeTimeout, "SERVER_WRITE_TIMEOUT", "15s"); err != nil {
		return nil, fmt.Errorf("invalid write timeout: %w", err)
	}
	if cfg.Server.IdleTimeout, err = parseDurationValue(*fv.idleTimeout, "SERVER_IDLE_TIMEOUT", "60s"); err != nil {
		return nil, fmt.Errorf("invalid idle timeout: %w", err)
	}
	if cfg.Records.Timeout, err = parseDurationValue(*fv.recordsTimeout, "RECORDS_TIMEOUT", "30s"); err != nil {
		return nil, fmt.Errorf("invalid records timeout: %w", err)
	}
	if cfg.Sync.InitialBackoff, err = parseDurationValue(*fv.initialBackoff, "SYNC_INITIAL_BACKOFF", "1s"); err != nil {
		return nil, fmt.Errorf("invalid initial backoff: %w", err)
	}
	if cfg.Sync.MaxBackoff, err = parseDurationValue(*fv.maxBackoff, "SYNC_MAX_BACKOFF", "2m"); err != nil {
		return nil, fmt.Errorf("invalid max backoff: %w", err)
	}
	if cfg.Sync.Timeout, err = parseDurationValue(*fv.syncTimeout, "SYNC_TIMEOUT", "30s"); err != nil {
		return nil, fmt.Errorf("invalid sync timeout: %w", err)
	}

	// Expand and validate the data path.
	if err := cfg.expandDataPath(); err != nil {
		return nil, fmt.Errorf("invalid data path: %w", err)
	}

	// Default the seed path to {data}/users.yaml when the file exists.
	if cfg.Seed.Path == "" {
		candidate := filepath.Join(cfg.Data.BasePath, "users.yaml")
		if _, statErr := os.Stat(candidate); statErr == nil {
			cfg.Seed.Path = candidate
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	if c.App.Environment == "" {
		return errors.New("ENV is required")
	}

	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %s (must be development, staging, or production)", c.App.Environment)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	if c.Data.BasePath == "" {
		return errors.New("data base path cannot be empty after expansion")
	}

	if c.Records.BaseURL == "" {
		return errors.New("RECORDS_URL is required")
	}
	if u, err := url.Parse(c.Records.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid records URL: %s", c.Records.BaseURL)
	}
	if c.Records.RPS <= 0 {
		return fmt.Errorf("records RPS must be positive, got %v", c.Records.RPS)
	}
	if c.Records.Burst < 1 {
		return fmt.Errorf("records burst must be at least 1, got %d", c.Records.Burst)
	}

	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("sync max retries must not be negative, got %d", c.Sync.MaxRetries)
	}
	if c.Sync.BackoffFactor < 1 {
		return fmt.Errorf("sync backoff factor must be at least 1, got %v", c.Sync.BackoffFactor)
	}
	if c.Sync.InitialBackoff <= 0 {
		return fmt.Errorf("sync initial backoff must be positive, got %v", c.Sync.InitialBackoff)
	}
	if c.Sync.Timeout <= 0 {
		return fmt.Errorf("sync timeout must be positive, got %v", c.Sync.Timeout)
	}
	if c.Sync.Schedule == "" {
		return errors.New("sync schedule cannot be empty")
	}

	return nil
}

// expandPath expands ~ and makes the path absolute.
// If path is empty and defaultPath is provided, uses the default.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	// Expand tilde.
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	// Make absolute if needed.
	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

// expandDataPath expands ~ and makes the path absolute.
func (c *Config) expandDataPath() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	defaultPath := filepath.Join(homeDir, "Tandem", "data")

	expanded, err := expandPath(c.Data.BasePath, defaultPath)
	if err != nil {
		return err
	}
	c.Data.BasePath = expanded
	return nil
}

// splitList splits a comma-separated value into trimmed, non-empty entries.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	// Priority 1: Command-line flag.
	if flagValue != "" {
		return flagValue
	}

	// Priority 2: Environment variable.
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}

	// Priority 3: Default value.
	return defaultValue
}

// getBoolConfigValue returns a bool from flag, env var, or default.
// Accepts: "true", "1", "yes" (case-insensitive) as true; anything else is false.
func getBoolConfigValue(flagValue, envKey string, defaultValue bool) bool {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	strValue = strings.ToLower(strValue)
	return strValue == "true" || strValue == "1" || strValue == "yes"
}

// getIntConfigValue returns an int from flag, env var, or default.
func getIntConfigValue(flagValue, envKey string, defaultValue int) int {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	result, err := strconv.Atoi(strValue)
	if err != nil {
		return defaultValue
	}
	return result
}

// getFloatConfigValue returns a float64 from flag, env var, or default.
func getFloatConfigValue(flagValue, envKey string, defaultValue float64) float64 {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	result, err := strconv.ParseFloat(strValue, 64)
	if err != nil {
		return defaultValue
	}
	return result
}

// parseDurationValue resolves flag/env/default precedence and parses the
// result as a duration.
func parseDurationValue(flagValue, envKey, defaultValue string) (time.Duration, error) {
	strValue := getConfigValue(flagValue, envKey, defaultValue)
	d, err := time.ParseDuration(strValue)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", strValue, err)
	}
	return d, nil
}

// loadEnvFile loads environment variables from a .env file.
// Format: KEY=value (one per line, # for comments).
func loadEnvFile(path string) error {
	file, err := os.Open(path) //#nosec G304 -- Config file path from user input is expected
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments.
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=value.
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid format at line %d: %s", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Remove quotes if present.
		value = strings.Trim(value, `"'`)

		// Only set if not already set (env vars take precedence over .env file).
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("failed to set env var %s: %w", key, err)
			}
		}
	}

	return scanner.Err()
}
