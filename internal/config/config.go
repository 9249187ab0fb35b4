package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"snapengine/internal/domain"
)

// Config holds all process-wide settings. Every recognized option is a named
// field here; Update rejects anything else.
type Config struct {
	// Browser settings.
	Headless       bool `mapstructure:"headless"`
	Timeout        int  `mapstructure:"timeout"` // navigation timeout in milliseconds
	ViewportWidth  int  `mapstructure:"viewport_width"`
	ViewportHeight int  `mapstructure:"viewport_height"`

	// Cache settings.
	CacheEnabled  bool   `mapstructure:"cache_enabled"`
	CacheDir      string `mapstructure:"cache_dir"`
	CacheTTLHours int    `mapstructure:"cache_ttl_hours"`

	// Resource limits.
	MaxContexts int `mapstructure:"max_contexts"`
	MaxRetries  int `mapstructure:"max_retries"`

	// Behavior.
	WaitUntil         string `mapstructure:"wait_until"` // load, domcontentloaded or networkidle
	IgnoreHTTPSErrors bool   `mapstructure:"ignore_https_errors"`

	// Paths.
	DownloadsDir     string `mapstructure:"downloads_dir"`
	DefaultOutputDir string `mapstructure:"default_output_dir"`

	// Engine launch flags.
	BrowserArgs []string `mapstructure:"browser_args"`

	// Serve mode.
	TelegramBotToken string `mapstructure:"telegram_bot_token"`
	HistoryDBPath    string `mapstructure:"history_db_path"`

	LogLevel string `mapstructure:"log_level"`
}

// envBindings maps config keys to their environment variables.
var envBindings = map[string]string{
	"headless":            "BROWSER_HEADLESS",
	"timeout":             "BROWSER_TIMEOUT",
	"viewport_width":      "VIEWPORT_WIDTH",
	"viewport_height":     "VIEWPORT_HEIGHT",
	"cache_enabled":       "SCREENSHOT_CACHE",
	"cache_dir":           "CACHE_DIR",
	"cache_ttl_hours":     "CACHE_TTL_HOURS",
	"max_contexts":        "MAX_BROWSER_CONTEXTS",
	"max_retries":         "MAX_RETRIES",
	"wait_until":          "WAIT_UNTIL",
	"ignore_https_errors": "IGNORE_HTTPS_ERRORS",
	"downloads_dir":       "DOWNLOADS_DIR",
	"default_output_dir":  "DEFAULT_OUTPUT_DIR",
	"browser_args":        "BROWSER_ARGS",
	"telegram_bot_token":  "TELEGRAM_BOT_TOKEN",
	"history_db_path":     "HISTORY_DB_PATH",
	"log_level":           "LOG_LEVEL",
}

// Load reads configuration from an optional config file and the environment.
// A missing config file is not an error; environment variables win over file
// values, defaults fill the rest.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("headless", true)
	v.SetDefault("timeout", 30000)
	v.SetDefault("viewport_width", 1920)
	v.SetDefault("viewport_height", 1080)
	v.SetDefault("cache_enabled", true)
	v.SetDefault("cache_dir", "cache/screenshots")
	v.SetDefault("cache_ttl_hours", 6)
	v.SetDefault("max_contexts", 3)
	v.SetDefault("max_retries", 2)
	v.SetDefault("wait_until", string(domain.WaitUntilNetworkIdle))
	v.SetDefault("ignore_https_errors", true)
	v.SetDefault("downloads_dir", "temp/downloads")
	v.SetDefault("default_output_dir", "screenshots")
	v.SetDefault("browser_args", []string{
		"--no-sandbox",
		"--disable-setuid-sandbox",
		"--disable-dev-shm-usage",
		"--disable-gpu",
		"--disable-web-security",
		"--disable-features=IsolateOrigins,site-per-process",
	})
	v.SetDefault("history_db_path", "")
	v.SetDefault("log_level", "info")
}

// Update applies a bulk override. Unknown keys are rejected with
// domain.ErrUnknownOption and leave the config untouched.
func (c *Config) Update(overrides map[string]any) error {
	updated := *c

	var md mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &updated,
		Metadata:         &md,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("building config decoder: %w", err)
	}
	if err := dec.Decode(overrides); err != nil {
		return fmt.Errorf("applying config overrides: %w", err)
	}
	if len(md.Unused) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrUnknownOption, strings.Join(md.Unused, ", "))
	}

	if err := updated.validate(); err != nil {
		return err
	}
	*c = updated
	return nil
}

func (c *Config) validate() error {
	switch domain.WaitUntil(c.WaitUntil) {
	case domain.WaitUntilLoad, domain.WaitUntilDOMContentLoaded, domain.WaitUntilNetworkIdle:
	default:
		return fmt.Errorf("%w: wait_until=%q", domain.ErrUnknownOption, c.WaitUntil)
	}
	if c.MaxContexts < 1 {
		return fmt.Errorf("max_contexts must be at least 1, got %d", c.MaxContexts)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1, got %d", c.MaxRetries)
	}
	return nil
}

// NavigationTimeout is the page navigation deadline.
func (c *Config) NavigationTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Millisecond
}

// CacheTTL is the cache entry expiry window.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLHours) * time.Hour
}
