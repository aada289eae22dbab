// Package config loads pipeline configuration from defaults, a yaml config
// file, and environment variables (env wins).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Mode selects which stages a pipeline run executes.
type Mode string

const (
	ModeConvert  Mode = "convert"
	ModeEnrich   Mode = "enrich"
	ModeMetadata Mode = "metadata"
	ModeOrganize Mode = "organize"
)

// Valid reports whether m is a known pipeline mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeConvert, ModeEnrich, ModeMetadata, ModeOrganize:
		return true
	}
	return false
}

// Config holds all pipeline settings. Fields map 1:1 to the environment
// variables the automation layer sets (see BindEnv in manager.go).
type Config struct {
	// Directory layout.
	WorkDir     string `mapstructure:"work_dir" yaml:"work_dir"`
	ManifestDir string `mapstructure:"manifest_dir" yaml:"manifest_dir"`
	LockDir     string `mapstructure:"lock_dir" yaml:"lock_dir"`
	CacheDir    string `mapstructure:"cache_dir" yaml:"cache_dir"`
	LibraryDir  string `mapstructure:"library_dir" yaml:"library_dir"`
	ArchiveDir  string `mapstructure:"archive_dir" yaml:"archive_dir"`
	FailedDir   string `mapstructure:"failed_dir" yaml:"failed_dir"`
	LogDir      string `mapstructure:"log_dir" yaml:"log_dir"`

	// Encoding.
	MaxBitrate int `mapstructure:"max_bitrate" yaml:"max_bitrate"`
	Channels   int `mapstructure:"channels" yaml:"channels"`

	// Metadata.
	MetadataSource      string  `mapstructure:"metadata_source" yaml:"metadata_source"`
	AudibleRegion       string  `mapstructure:"audible_region" yaml:"audible_region"`
	AudnexusRegion      string  `mapstructure:"audnexus_region" yaml:"audnexus_region"`
	CacheDays           int     `mapstructure:"cache_days" yaml:"cache_days"`
	ChapterTolerancePct float64 `mapstructure:"chapter_tolerance_pct" yaml:"chapter_tolerance_pct"`

	// Failure handling.
	MaxRetries        int    `mapstructure:"max_retries" yaml:"max_retries"`
	FailureWebhookURL string `mapstructure:"failure_webhook_url" yaml:"failure_webhook_url"`

	// Permission policy for library deployment.
	FileOwner string `mapstructure:"file_owner" yaml:"file_owner"`
	FileMode  string `mapstructure:"file_mode" yaml:"file_mode"`
	DirMode   string `mapstructure:"dir_mode" yaml:"dir_mode"`

	// Behavior flags.
	DryRun         bool   `mapstructure:"dry_run" yaml:"dry_run"`
	Force          bool   `mapstructure:"force" yaml:"force"`
	Verbose        bool   `mapstructure:"verbose" yaml:"verbose"`
	CleanupWorkDir bool   `mapstructure:"cleanup_work_dir" yaml:"cleanup_work_dir"`
	LogLevel       string `mapstructure:"log_level" yaml:"log_level"`
}

// DefaultConfig returns the built-in defaults. All state directories live
// under ~/.bindery; the library dir must be configured by the deployment.
func DefaultConfig() *Config {
	base := defaultBaseDir()
	return &Config{
		WorkDir:     filepath.Join(base, "work"),
		ManifestDir: filepath.Join(base, "manifests"),
		LockDir:     filepath.Join(base, "lock"),
		CacheDir:    filepath.Join(base, "cache"),
		LibraryDir:  "",
		ArchiveDir:  filepath.Join(base, "archive"),
		FailedDir:   filepath.Join(base, "failed"),
		LogDir:      filepath.Join(base, "logs"),

		MaxBitrate: 128,
		Channels:   1,

		MetadataSource:      "primary",
		AudibleRegion:       "us",
		AudnexusRegion:      "us",
		CacheDays:           30,
		ChapterTolerancePct: 5,

		MaxRetries:        3,
		FailureWebhookURL: "",

		FileOwner: "",
		FileMode:  "0644",
		DirMode:   "0755",

		DryRun:         false,
		Force:          false,
		Verbose:        false,
		CleanupWorkDir: true,
		LogLevel:       "info",
	}
}

func defaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "bindery")
	}
	return filepath.Join(home, ".bindery")
}

// Validate checks settings that would otherwise fail deep inside a stage.
func (c *Config) Validate() error {
	if c.Channels != 1 && c.Channels != 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", c.Channels)
	}
	if c.MetadataSource != "primary" && c.MetadataSource != "fallback" {
		return fmt.Errorf("metadata_source must be primary or fallback, got %q", c.MetadataSource)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0, got %d", c.MaxRetries)
	}
	if c.ChapterTolerancePct < 0 || c.ChapterTolerancePct > 100 {
		return fmt.Errorf("chapter_tolerance_pct must be within [0,100], got %g", c.ChapterTolerancePct)
	}
	if _, err := c.FilePerm(); err != nil {
		return err
	}
	if _, err := c.DirPerm(); err != nil {
		return err
	}
	return nil
}

// FilePerm parses the configured file mode.
func (c *Config) FilePerm() (os.FileMode, error) {
	return parsePerm("file_mode", c.FileMode, 0o644)
}

// DirPerm parses the configured directory mode.
func (c *Config) DirPerm() (os.FileMode, error) {
	return parsePerm("dir_mode", c.DirMode, 0o755)
}

func parsePerm(name, value string, def os.FileMode) (os.FileMode, error) {
	if value == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(value, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	return os.FileMode(n), nil
}

// ChapterTolerance returns the chapter duration gate as a fraction (5% -> 0.05).
func (c *Config) ChapterTolerance() float64 {
	return c.ChapterTolerancePct / 100
}

// CacheTTL returns the metadata cache lifetime.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheDays) * 24 * time.Hour
}
