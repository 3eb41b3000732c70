package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for immichporter
type Config struct {
	// Source service (Google Photos web UI) settings
	GPhotos GPhotosConfig `yaml:"gphotos" json:"gphotos"`

	// Destination service (Immich API) settings
	Immich ImmichConfig `yaml:"immich" json:"immich"`

	// Local store settings
	Store StoreConfig `yaml:"store" json:"store"`

	// Rate limiting configuration
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Retry/backoff policy shared by session manager, extractors and destination client
	Retry RetryConfig `yaml:"retry" json:"retry"`

	// Scrape traversal tuning
	Scrape ScrapeConfig `yaml:"scrape" json:"scrape"`

	// Reconciliation settings
	Reconcile ReconcileConfig `yaml:"reconcile" json:"reconcile"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// GPhotosConfig holds browser session settings for the source service
type GPhotosConfig struct {
	BaseURL     string `yaml:"base_url" json:"base_url"`
	UserDataDir string `yaml:"user_data_dir" json:"user_data_dir"`
	Headless    bool   `yaml:"headless" json:"headless"`
	UserAgent   string `yaml:"user_agent" json:"user_agent"`
}

// ImmichConfig holds destination API settings
type ImmichConfig struct {
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	APIKey   string `yaml:"api_key" json:"api_key"`
	Insecure bool   `yaml:"insecure" json:"insecure"`
}

// StoreConfig holds local store settings
type StoreConfig struct {
	Path string `yaml:"path" json:"path"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
	BurstSize         int `yaml:"burst_size" json:"burst_size"`
}

// RetryConfig holds the shared retry/backoff policy parameters
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" json:"max_attempts"`
	BaseDelay    time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" json:"max_delay"`
	Multiplier   float64       `yaml:"multiplier" json:"multiplier"`
	JitterFactor float64       `yaml:"jitter_factor" json:"jitter_factor"`
}

// ScrapeConfig holds traversal tuning for the extraction run
type ScrapeConfig struct {
	MaxAlbums          int           `yaml:"max_albums" json:"max_albums"`
	StartAlbum         int           `yaml:"start_album" json:"start_album"`
	PageLoadTimeout    time.Duration `yaml:"page_load_timeout" json:"page_load_timeout"`
	PollInterval       time.Duration `yaml:"poll_interval" json:"poll_interval"`
	StabilityPolls     int           `yaml:"stability_polls" json:"stability_polls"`
	DuplicateThreshold int           `yaml:"duplicate_threshold" json:"duplicate_threshold"`
}

// ReconcileConfig holds reconciliation settings
type ReconcileConfig struct {
	Concurrency int `yaml:"concurrency" json:"concurrency"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		GPhotos: GPhotosConfig{
			BaseURL:     "https://photos.google.com",
			UserDataDir: defaultUserDataDir(),
			Headless:    false,
			UserAgent:   "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
		},
		Immich: ImmichConfig{
			Endpoint: "http://localhost:2283",
		},
		Store: StoreConfig{
			Path: "photos.db",
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
			BurstSize:         10,
		},
		Retry: RetryConfig{
			MaxAttempts:  3,
			BaseDelay:    1 * time.Second,
			MaxDelay:     60 * time.Second,
			Multiplier:   2.0,
			JitterFactor: 0.1,
		},
		Scrape: ScrapeConfig{
			MaxAlbums:          0, // 0 means all
			StartAlbum:         1,
			PageLoadTimeout:    10 * time.Second,
			PollInterval:       250 * time.Millisecond,
			StabilityPolls:     4,
			DuplicateThreshold: 10,
		},
		Reconcile: ReconcileConfig{
			Concurrency: 4,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

func defaultUserDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".immichporter-profile"
	}
	return filepath.Join(home, ".local", "share", "immichporter", "profile")
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	if endpoint := os.Getenv("IMMICH_ENDPOINT"); endpoint != "" {
		c.Immich.Endpoint = endpoint
	}
	if apiKey := os.Getenv("IMMICH_API_KEY"); apiKey != "" {
		c.Immich.APIKey = apiKey
	}
	if insecure := os.Getenv("IMMICH_INSECURE"); insecure != "" {
		c.Immich.Insecure = insecure == "1" || strings.ToLower(insecure) == "true"
	}

	if dbPath := os.Getenv("IMMICHPORTER_DB_PATH"); dbPath != "" {
		c.Store.Path = dbPath
	}
	if userDataDir := os.Getenv("IMMICHPORTER_USER_DATA_DIR"); userDataDir != "" {
		c.GPhotos.UserDataDir = userDataDir
	}
	if headless := os.Getenv("IMMICHPORTER_HEADLESS"); headless != "" {
		c.GPhotos.Headless = headless == "1" || strings.ToLower(headless) == "true"
	}
	if rpm := os.Getenv("IMMICHPORTER_REQUESTS_PER_MINUTE"); rpm != "" {
		var val int
		fmt.Sscanf(rpm, "%d", &val)
		if val > 0 {
			c.RateLimit.RequestsPerMinute = val
		}
	}
	if logLevel := os.Getenv("IMMICHPORTER_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}

	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	locations := []string{
		".immichporter.yaml",
		".immichporter.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "immichporter", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".config", "immichporter", "config.yml"),
		filepath.Join(os.Getenv("HOME"), ".immichporter.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.GPhotos.BaseURL == "" {
		errs = append(errs, errors.New("source base URL is required"))
	}
	if c.Store.Path == "" {
		errs = append(errs, errors.New("store path is required"))
	}

	if c.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("requests per minute must be positive"))
	}
	if c.RateLimit.BurstSize <= 0 {
		errs = append(errs, errors.New("burst size must be positive"))
	}

	if c.Retry.MaxAttempts < 0 {
		errs = append(errs, errors.New("max retry attempts cannot be negative"))
	}
	if c.Retry.BaseDelay <= 0 {
		errs = append(errs, errors.New("retry base delay must be positive"))
	}

	if c.Scrape.StartAlbum < 1 {
		errs = append(errs, errors.New("start album must be 1 or higher"))
	}
	if c.Scrape.PageLoadTimeout <= 0 {
		errs = append(errs, errors.New("page load timeout must be positive"))
	}
	if c.Scrape.StabilityPolls <= 0 {
		errs = append(errs, errors.New("stability polls must be positive"))
	}

	if c.Reconcile.Concurrency <= 0 {
		errs = append(errs, errors.New("reconcile concurrency must be positive"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if endpoint, ok := flags["endpoint"].(string); ok && endpoint != "" {
		c.Immich.Endpoint = endpoint
	}
	if apiKey, ok := flags["api-key"].(string); ok && apiKey != "" {
		c.Immich.APIKey = apiKey
	}
	if insecure, ok := flags["insecure"].(bool); ok && insecure {
		c.Immich.Insecure = true
	}
	if dbPath, ok := flags["db-path"].(string); ok && dbPath != "" {
		c.Store.Path = dbPath
	}
	if userDataDir, ok := flags["user-data-dir"].(string); ok && userDataDir != "" {
		c.GPhotos.UserDataDir = userDataDir
	}
	if headless, ok := flags["headless"].(bool); ok && headless {
		c.GPhotos.Headless = true
	}
	if maxAlbums, ok := flags["max-albums"].(int); ok && maxAlbums > 0 {
		c.Scrape.MaxAlbums = maxAlbums
	}
	if startAlbum, ok := flags["start-album"].(int); ok && startAlbum > 1 {
		c.Scrape.StartAlbum = startAlbum
	}
	if concurrency, ok := flags["concurrency"].(int); ok && concurrency > 0 {
		c.Reconcile.Concurrency = concurrency
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".immichporter.env"))

	// Start with defaults
	config := DefaultConfig()

	// Load from config file
	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	// Override with environment variables (includes values from .env)
	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Override with command line flags
	config.MergeCommandLineFlags(flags)

	// Validate final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
