// File: internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	Browser    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	Injector   InjectorConfig   `mapstructure:"injector" yaml:"injector"`
	Resource   ResourceConfig   `mapstructure:"resource" yaml:"resource"`
	Capability CapabilityConfig `mapstructure:"capability" yaml:"capability"`
	Storage    StorageConfig    `mapstructure:"storage" yaml:"storage"`
	Scripts    ScriptsConfig    `mapstructure:"scripts" yaml:"scripts"`
}

// LoggerConfig controls the global zap logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"` // "console" or "json"
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`

	// File sink, rotated by lumberjack. Empty disables the file core.
	LogFile    string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"` // days
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig controls how the Chrome instance is launched or attached.
type BrowserConfig struct {
	Headless bool   `mapstructure:"headless" yaml:"headless"`
	ExecPath string `mapstructure:"exec_path" yaml:"exec_path"`
	// RemoteURL attaches to an already running browser (ws:// or http://
	// devtools endpoint) instead of launching one.
	RemoteURL       string        `mapstructure:"remote_url" yaml:"remote_url"`
	UserAgent       string        `mapstructure:"user_agent" yaml:"user_agent"`
	IgnoreTLSErrors bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	StartupTimeout  time.Duration `mapstructure:"startup_timeout" yaml:"startup_timeout"`
}

// InjectorConfig tunes the injection coordinator.
type InjectorConfig struct {
	// PollInterval drives the refresh detection fallback for frames whose
	// documents cannot be observed through lifecycle events.
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	// RecheckEvery forces a marker re-verification every N polls even when
	// no change was detected.
	RecheckEvery int `mapstructure:"recheck_every" yaml:"recheck_every"`
	// MaxRetries bounds re-attempts of a single failed script injection
	// within one navigation epoch.
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`
	// IdleSettleDelay is the pause after the load event before
	// document-idle scripts run.
	IdleSettleDelay time.Duration `mapstructure:"idle_settle_delay" yaml:"idle_settle_delay"`
}

// ResourceConfig tunes the @require/@resource loader.
type ResourceConfig struct {
	FetchTimeout time.Duration `mapstructure:"fetch_timeout" yaml:"fetch_timeout"`
	// RatePerSecond caps outbound resource fetches across all scripts.
	RatePerSecond float64 `mapstructure:"rate_per_second" yaml:"rate_per_second"`
	RateBurst     int     `mapstructure:"rate_burst" yaml:"rate_burst"`
	MaxBodyBytes  int64   `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
}

// CapabilityConfig tunes the emulated GM_* surface.
type CapabilityConfig struct {
	// EnforceConnect hard-blocks GM_xmlhttpRequest targets outside the
	// script's @connect list. When false (the default, matching common
	// userscript manager behavior) a violation only logs a warning.
	EnforceConnect bool `mapstructure:"enforce_connect" yaml:"enforce_connect"`
	// RequestTimeout is the default GM_xmlhttpRequest timeout when the
	// script supplies none.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// StorageConfig selects the durable GM value store backend.
type StorageConfig struct {
	Backend     string `mapstructure:"backend" yaml:"backend"` // "memory" or "postgres"
	PostgresDSN string `mapstructure:"postgres_dsn" yaml:"postgres_dsn"`
}

// ScriptsConfig locates the userscript store.
type ScriptsConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
	// GitRemote, when set, is synced into the store cache by `scripts sync`.
	GitRemote string `mapstructure:"git_remote" yaml:"git_remote"`
	// GitHubToken authorizes `scripts add github:owner/repo/path` fetches
	// against private repositories. Optional for public content.
	GitHubToken string `mapstructure:"github_token" yaml:"github_token"`
}

// Default returns a configuration populated with sane defaults. The scripts
// directory lands under the user's home so a bare `greasewire run` works.
func Default() Config {
	home, err := homedir.Dir()
	if err != nil {
		home = "."
	}

	return Config{
		Logger: LoggerConfig{
			Level:       "info",
			Format:      "console",
			ServiceName: "greasewire",
			MaxSize:     50,
			MaxBackups:  3,
			MaxAge:      14,
		},
		Browser: BrowserConfig{
			Headless:       true,
			StartupTimeout: 30 * time.Second,
		},
		Injector: InjectorConfig{
			PollInterval:    2 * time.Second,
			RecheckEvery:    5,
			MaxRetries:      3,
			IdleSettleDelay: 250 * time.Millisecond,
		},
		Resource: ResourceConfig{
			FetchTimeout:  30 * time.Second,
			RatePerSecond: 8,
			RateBurst:     4,
			MaxBodyBytes:  8 << 20,
		},
		Capability: CapabilityConfig{
			EnforceConnect: false,
			RequestTimeout: 60 * time.Second,
		},
		Storage: StorageConfig{
			Backend: "memory",
		},
		Scripts: ScriptsConfig{
			Dir: filepath.Join(home, ".greasewire", "scripts"),
		},
	}
}

// Load reads configuration from the given file (or the standard search
// locations when empty), layers GREASEWIRE_* environment variables on top,
// and validates the result.
func Load(cfgFile string) (Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".greasewire"))
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("GREASEWIRE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and env vars carry the day.
	}

	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot possibly work.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage backend %q requires storage.postgres_dsn", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if c.Injector.MaxRetries < 0 {
		return fmt.Errorf("injector.max_retries must not be negative")
	}
	if c.Injector.PollInterval <= 0 {
		return fmt.Errorf("injector.poll_interval must be positive")
	}
	if c.Injector.RecheckEvery < 1 {
		return fmt.Errorf("injector.recheck_every must be at least 1")
	}
	if c.Resource.RatePerSecond <= 0 {
		return fmt.Errorf("resource.rate_per_second must be positive")
	}
	if c.Scripts.Dir == "" {
		return fmt.Errorf("scripts.dir must not be empty")
	}
	return nil
}
