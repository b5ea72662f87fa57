package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"

	"github.com/tidegrove/galleria/internal/log"
)

// Config holds all engine configuration.
type Config struct {
	Cache     CacheConfig     `mapstructure:"cache"`
	Loader    LoaderConfig    `mapstructure:"loader"`
	Viewport  ViewportConfig  `mapstructure:"viewport"`
	Gallery   GalleryConfig   `mapstructure:"gallery"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Logging   log.Config      `mapstructure:"logging"`
}

// CacheConfig bounds the cache tiers.
type CacheConfig struct {
	Dir              string `mapstructure:"dir"`             // durable tier location
	FastCeilingMB    int    `mapstructure:"fast_ceiling_mb"` // resident tier ceiling
	DurableCeilingMB int    `mapstructure:"durable_ceiling_mb"`
	Version          int    `mapstructure:"version"` // bump to invalidate durable entries
}

// LoaderConfig bounds concurrent fetching.
type LoaderConfig struct {
	Concurrency  int           `mapstructure:"concurrency"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

// ViewportConfig drives layout and preload classification.
type ViewportConfig struct {
	MinItemWidth    float64 `mapstructure:"min_item_width"`
	Gap             float64 `mapstructure:"gap"`
	NearThresholdPx float64 `mapstructure:"near_threshold_px"`
	OverscanRows    int     `mapstructure:"overscan_rows"`
}

// GalleryConfig drives the orchestrator's batching and retry behavior.
type GalleryConfig struct {
	InitialBatchSize    int           `mapstructure:"initial_batch_size"`
	BatchSize           int           `mapstructure:"batch_size"`
	SettleDelay         time.Duration `mapstructure:"settle_delay"`
	MaxRetries          int           `mapstructure:"max_retries"`
	RetryBaseDelay      time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay       time.Duration `mapstructure:"retry_max_delay"`
	PositionStaleness   time.Duration `mapstructure:"position_staleness"`
	MemoryCeilingMB     int           `mapstructure:"memory_ceiling_mb"`
	MemoryCheckInterval time.Duration `mapstructure:"memory_check_interval"`
	CleanupThreshold    float64       `mapstructure:"cleanup_threshold"` // proportion of ceiling
}

// TelemetryConfig bounds the passive monitor.
type TelemetryConfig struct {
	SamplingRate   float64       `mapstructure:"sampling_rate"`
	ReportInterval time.Duration `mapstructure:"report_interval"`
	HistorySize    int           `mapstructure:"history_size"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Cache: CacheConfig{
			Dir:              defaultCachePath(),
			FastCeilingMB:    50,
			DurableCeilingMB: 200,
			Version:          1,
		},
		Loader: LoaderConfig{
			Concurrency:  6,
			FetchTimeout: 30 * time.Second,
		},
		Viewport: ViewportConfig{
			MinItemWidth:    220,
			Gap:             16,
			NearThresholdPx: 200,
			OverscanRows:    5,
		},
		Gallery: GalleryConfig{
			InitialBatchSize:    20,
			BatchSize:           10,
			SettleDelay:         150 * time.Millisecond,
			MaxRetries:          3,
			RetryBaseDelay:      time.Second,
			RetryMaxDelay:       10 * time.Second,
			PositionStaleness:   24 * time.Hour,
			MemoryCeilingMB:     100,
			MemoryCheckInterval: 5 * time.Second,
			CleanupThreshold:    0.8,
		},
		Telemetry: TelemetryConfig{
			SamplingRate:   1.0,
			ReportInterval: 30 * time.Second,
			HistorySize:    100,
		},
		Logging: log.Config{
			File:  defaultLogPath(),
			Level: "INFO",
		},
	}
}

func defaultLogPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "galleria", "galleria.log")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "galleria", "galleria.log")
	}
}

func defaultCachePath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("LOCALAPPDATA"), "galleria", "cache")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "galleria", "cache")
	}
}

func defaultConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "galleria")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "galleria")
	}
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	cfg := Default()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(defaultConfigPath())
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("GALLERIA")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	return cfg, nil
}

// FastCeilingBytes returns the fast-tier ceiling in bytes.
func (c CacheConfig) FastCeilingBytes() int64 { return int64(c.FastCeilingMB) << 20 }

// DurableCeilingBytes returns the durable-tier ceiling in bytes.
func (c CacheConfig) DurableCeilingBytes() int64 { return int64(c.DurableCeilingMB) << 20 }

// MemoryCeilingBytes returns the decode-buffer ceiling in bytes.
func (c GalleryConfig) MemoryCeilingBytes() int64 { return int64(c.MemoryCeilingMB) << 20 }
