// Package config loads settings from a YAML file overlaid with LFS_*
// environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"locutusfs/internal/lfs"
	"locutusfs/internal/logging"
)

const (
	envVarPrefix = "LFS"
	appName      = "locutusfs"
)

// Config holds every tunable. Keys absent from both the file and the
// environment keep their defaults.
type Config struct {
	StateFile   string `envconfig:"STATE_FILE"   yaml:"stateFile"`
	BackupCount int    `envconfig:"BACKUP_COUNT" yaml:"backupCount"`
	LogLevel    string `envconfig:"LOG_LEVEL"    yaml:"logLevel"`
	MountPoint  string `envconfig:"MOUNT_POINT"  yaml:"mountPoint"`
	AllowOther  bool   `envconfig:"ALLOW_OTHER"  yaml:"allowOther"`
	Keying      string `envconfig:"KEYING"       yaml:"keying"`

	DirectoryTableSize uint32 `envconfig:"DIRECTORY_TABLE_SIZE"  yaml:"directoryTableSize"`
	FileTableSize      uint32 `envconfig:"FILE_TABLE_SIZE"       yaml:"fileTableSize"`
	ForkTableSize      uint32 `envconfig:"FORK_TABLE_SIZE"       yaml:"forkTableSize"`
	MaxItemCount       int    `envconfig:"MAX_ITEM_COUNT"        yaml:"maxItemCount"`
	MaxShortNameLength int    `envconfig:"MAX_SHORT_NAME_LENGTH" yaml:"maxShortNameLength"`
	MaxLongNameLength  int    `envconfig:"MAX_LONG_NAME_LENGTH"  yaml:"maxLongNameLength"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	limits := lfs.DefaultLimits()
	return Config{
		StateFile:          filepath.Join(homeDir(), "."+appName, "layout.json"),
		BackupCount:        5,
		LogLevel:           logging.LevelInfo.String(),
		Keying:             lfs.KeyByNumber.String(),
		DirectoryTableSize: limits.DirectoryTableSize,
		FileTableSize:      limits.FileTableSize,
		ForkTableSize:      limits.ForkTableSize,
		MaxItemCount:       limits.MaxItemCount,
		MaxShortNameLength: limits.MaxShortNameLength,
		MaxLongNameLength:  limits.MaxLongNameLength,
	}
}

func homeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return "."
}

// File returns the configuration file path: $LFS_CONFIG_FILE, else
// ~/.config/locutusfs.yaml.
func File() string {
	if configFile := os.Getenv(envVarPrefix + "_CONFIG_FILE"); configFile != "" {
		return configFile
	}
	return filepath.Join(homeDir(), ".config", appName+".yaml")
}

// LoadConfig reads the configuration file, if any, then applies
// environment overrides and validates the result.
func LoadConfig() (*Config, error) {
	c := Default()

	data, err := os.ReadFile(File())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	} else if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshaling config file: %w", err)
	}

	if err := envconfig.Process(envVarPrefix, &c); err != nil {
		return nil, fmt.Errorf("parsing environment variables: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Limits returns the table capacities as the container expects them
func (c *Config) Limits() lfs.Limits {
	return lfs.Limits{
		DirectoryTableSize: c.DirectoryTableSize,
		FileTableSize:      c.FileTableSize,
		ForkTableSize:      c.ForkTableSize,
		MaxItemCount:       c.MaxItemCount,
		MaxShortNameLength: c.MaxShortNameLength,
		MaxLongNameLength:  c.MaxLongNameLength,
	}
}

// Level returns the parsed log level
func (c *Config) Level() logging.LogLevel {
	level, err := logging.ParseLevel(c.LogLevel)
	if err != nil {
		return logging.LevelInfo
	}
	return level
}

// DiffKeying returns the parsed keying mode
func (c *Config) DiffKeying() lfs.Keying {
	if c.Keying == lfs.KeyByPath.String() {
		return lfs.KeyByPath
	}
	return lfs.KeyByNumber
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if y, e := func() (string, string) {
		if c.StateFile == "" {
			return "stateFile", "STATE_FILE"
		}
		if c.BackupCount < 0 {
			return "backupCount", "BACKUP_COUNT"
		}
		if _, err := logging.ParseLevel(c.LogLevel); err != nil {
			return "logLevel", "LOG_LEVEL"
		}
		if c.Keying != lfs.KeyByNumber.String() && c.Keying != lfs.KeyByPath.String() {
			return "keying", "KEYING"
		}
		return "", ""
	}(); y != "" {
		return fmt.Errorf(
			"invalid configuration: %s / %s_%s",
			y,
			envVarPrefix,
			e,
		)
	}
	if err := c.Limits().Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
