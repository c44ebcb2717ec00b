package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	internal "github.com/ZanzyTHEbar/dirtyscan/dscan"

	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Scan     ScanConfig     `mapstructure:"scan"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Status   StatusConfig   `mapstructure:"status"`
	Watch    WatchConfig    `mapstructure:"watch"`
	Log      LogConfig      `mapstructure:"log"`
}

// ScanConfig controls tree construction and the parallel rescan.
type ScanConfig struct {
	RootDir         string `mapstructure:"rootDir"`
	UntrackedCache  bool   `mapstructure:"untrackedCache"`
	Workers         int    `mapstructure:"workers"`
	ShardMultiplier int    `mapstructure:"shardMultiplier"`
	MinShardWeight  int    `mapstructure:"minShardWeight"`
}

// SnapshotConfig locates the persisted tracked-record snapshot.
type SnapshotConfig struct {
	Path string `mapstructure:"path"`
}

// StatusConfig controls how candidates are classified and filtered.
type StatusConfig struct {
	RespectGitignore bool     `mapstructure:"respectGitignore"`
	Pathspec         []string `mapstructure:"pathspec"`
}

// WatchConfig controls how filesystem events are batched into rescans.
type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
	MaxDelay time.Duration `mapstructure:"maxDelay"`
}

// LogConfig stores logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("scan.rootDir", internal.DefaultRootDir)
	v.SetDefault("scan.untrackedCache", internal.DefaultUntrackedCache)
	v.SetDefault("scan.workers", 0)
	v.SetDefault("scan.shardMultiplier", internal.DefaultShardMultiplier)
	v.SetDefault("scan.minShardWeight", internal.DefaultMinShardWeight)
	v.SetDefault("snapshot.path", internal.DefaultSnapshotPath)
	v.SetDefault("status.respectGitignore", true)
	v.SetDefault("status.pathspec", []string{})
	v.SetDefault("watch.debounce", internal.DefaultWatchDebounce)
	v.SetDefault("watch.maxDelay", internal.DefaultWatchMaxDelay)
	v.SetDefault("log.level", internal.DefaultLogLevel)
}

// Load reads configuration into v. An explicit configPath must exist; without
// one, a missing config file is not an error and defaults apply.
func Load(v *viper.Viper, configPath string) (*Config, error) {
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("..")
		v.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	SetDefaults(v)

	v.SetEnvPrefix(internal.DefaultAppName)
	v.AutomaticEnv()                                   // DSCAN_SCAN_WORKERS etc.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // scan.workers -> SCAN_WORKERS

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the scanner cannot run with.
func (c *Config) Validate() error {
	if c.Scan.RootDir == "" {
		return fmt.Errorf("scan.rootDir cannot be empty")
	}
	if c.Scan.Workers < 0 {
		return fmt.Errorf("scan.workers must be >= 0, got %d", c.Scan.Workers)
	}
	if c.Scan.ShardMultiplier < 1 {
		return fmt.Errorf("scan.shardMultiplier must be >= 1, got %d", c.Scan.ShardMultiplier)
	}
	if c.Scan.MinShardWeight < 1 {
		return fmt.Errorf("scan.minShardWeight must be >= 1, got %d", c.Scan.MinShardWeight)
	}
	if c.Watch.Debounce <= 0 || c.Watch.MaxDelay < c.Watch.Debounce {
		return fmt.Errorf("watch.debounce must be > 0 and <= watch.maxDelay, got %s and %s", c.Watch.Debounce, c.Watch.MaxDelay)
	}
	return nil
}
