package internal

import (
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

var (
	// DefaultAppName is used for config discovery and the workspace dot directory
	DefaultAppName        = "dscan"
	DefaultConfigPath     = filepath.Join(getHomeDir(), ".config", DefaultAppName)
	DefaultWorkspaceDir   = "." + DefaultAppName
	DefaultSnapshotPath   = filepath.Join(DefaultWorkspaceDir, "snapshot.db")
	DefaultGlobalConfig   = filepath.Join(DefaultConfigPath, "config.yaml")
	DefaultLogLevel       = "info"
	DefaultRootDir        = "."
	DefaultUntrackedCache = true

	// Shard planning defaults. The shard target is ShardMultiplier times the
	// executor's worker count; no shard is cut below MinShardWeight.
	DefaultShardMultiplier = 16
	DefaultMinShardWeight  = 512

	DefaultWatchDebounce = 200 * time.Millisecond
	DefaultWatchMaxDelay = 2 * time.Second
)

func getHomeDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		cwd, cwdErr := os.Getwd()
		if cwdErr != nil {
			log.Printf("Unable to get home or working directory, using /tmp: %v", err)
			return "/tmp"
		}
		log.Printf("Unable to get home directory, using current working directory: %v", err)
		return cwd
	}
	return homeDir
}

// GetLogger returns a timestamped stderr logger at the given level.
// Unknown levels fall back to info.
func GetLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}
