package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sync"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

// Manager handles loading configuration from defaults, file, and environment.
type Manager struct {
	mu     sync.RWMutex
	config *Config
}

// envBindings maps viper keys to the environment variables the automation
// layer exports. Keys absent here bind to their uppercased form via
// AutomaticEnv (work_dir -> WORK_DIR, and so on).
var envBindings = map[string]string{
	"library_dir":           "NFS_OUTPUT_DIR",
	"cache_days":            "AUDNEXUS_CACHE_DAYS",
	"chapter_tolerance_pct": "CHAPTER_DURATION_TOLERANCE",
}

// NewManager creates a config manager and loads the initial config.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{}

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// initViper sets up viper with defaults, env bindings, and config file.
func (cm *Manager) initViper(cfgFile string) error {
	defaults := DefaultConfig()
	viper.SetDefault("work_dir", defaults.WorkDir)
	viper.SetDefault("manifest_dir", defaults.ManifestDir)
	viper.SetDefault("lock_dir", defaults.LockDir)
	viper.SetDefault("cache_dir", defaults.CacheDir)
	viper.SetDefault("library_dir", defaults.LibraryDir)
	viper.SetDefault("archive_dir", defaults.ArchiveDir)
	viper.SetDefault("failed_dir", defaults.FailedDir)
	viper.SetDefault("log_dir", defaults.LogDir)
	viper.SetDefault("max_bitrate", defaults.MaxBitrate)
	viper.SetDefault("channels", defaults.Channels)
	viper.SetDefault("metadata_source", defaults.MetadataSource)
	viper.SetDefault("audible_region", defaults.AudibleRegion)
	viper.SetDefault("audnexus_region", defaults.AudnexusRegion)
	viper.SetDefault("cache_days", defaults.CacheDays)
	viper.SetDefault("chapter_tolerance_pct", defaults.ChapterTolerancePct)
	viper.SetDefault("max_retries", defaults.MaxRetries)
	viper.SetDefault("failure_webhook_url", defaults.FailureWebhookURL)
	viper.SetDefault("file_owner", defaults.FileOwner)
	viper.SetDefault("file_mode", defaults.FileMode)
	viper.SetDefault("dir_mode", defaults.DirMode)
	viper.SetDefault("dry_run", defaults.DryRun)
	viper.SetDefault("force", defaults.Force)
	viper.SetDefault("verbose", defaults.Verbose)
	viper.SetDefault("cleanup_work_dir", defaults.CleanupWorkDir)
	viper.SetDefault("log_level", defaults.LogLevel)

	// Unprefixed environment variables: the automation front-ends export
	// WORK_DIR, MANIFEST_DIR, DRY_RUN, ... directly.
	viper.AutomaticEnv()
	for key, env := range envBindings {
		if err := viper.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.bindery")
	}

	// Config file is optional.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// load parses the current viper state into a Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	pattern := regexp.MustCompile(`\$\{([^}]+)\}`)
	return pattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# bindery configuration
# Every key can also be set via environment variable (WORK_DIR, MAX_BITRATE,
# NFS_OUTPUT_DIR, ...). Environment variables take precedence over this file.

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
