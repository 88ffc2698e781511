package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the main configuration for the archive/compression service.
type Config struct {
	OutputDirectory string            `mapstructure:"output_directory"`
	Archive         ArchiveConfig     `mapstructure:"archive"`
	Compression     CompressionConfig `mapstructure:"compression"`
	Logging         LoggingConfig     `mapstructure:"logging"`
}

// ArchiveConfig configures the date-bucketed relocation run.
type ArchiveConfig struct {
	FolderName     string `mapstructure:"folder_name"`
	SkipHidden     bool   `mapstructure:"skip_hidden_files"`
	SkipExtensions string `mapstructure:"skip_extensions"`
}

// CompressionConfig configures the PNG re-encoding batch.
type CompressionConfig struct {
	TargetDirectory string `mapstructure:"target_directory"`
	Quality         int    `mapstructure:"quality"`
	OutputFormat    string `mapstructure:"output_format"`
	DeleteOriginal  bool   `mapstructure:"delete_original"`
	Recursive       bool   `mapstructure:"recursive"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Archive: ArchiveConfig{
			FolderName:     "Archive",
			SkipHidden:     true,
			SkipExtensions: ".py,.js,.bat,.sh,.json,.yaml,.yml",
		},
		Compression: CompressionConfig{
			Quality:      90,
			OutputFormat: "JPEG",
			Recursive:    true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			FilePath:   "archive-output.log",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		},
	}
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.comfyui-archive-output")
		viper.AddConfigPath("/etc/comfyui-archive-output")
	}

	viper.SetEnvPrefix("COMFY_ARCHIVE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Unmarshal only sees keys viper already knows about, so env-only
	// values need an explicit binding per key.
	for _, key := range []string{
		"output_directory",
		"archive.folder_name",
		"archive.skip_hidden_files",
		"archive.skip_extensions",
		"compression.target_directory",
		"compression.quality",
		"compression.output_format",
		"compression.delete_original",
		"compression.recursive",
		"logging.level",
		"logging.file_path",
		"logging.max_size",
		"logging.max_backups",
		"logging.max_age",
		"logging.compress",
	} {
		if err := viper.BindEnv(key); err != nil {
			return nil, fmt.Errorf("error binding environment key %s: %w", key, err)
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate validates and normalizes the configuration.
func (c *Config) Validate() error {
	if c.OutputDirectory == "" {
		return fmt.Errorf("output_directory is required")
	}
	if !isValidPath(c.OutputDirectory) {
		return fmt.Errorf("output_directory does not exist or is not accessible: %s", c.OutputDirectory)
	}

	if c.Archive.FolderName == "" {
		c.Archive.FolderName = "Archive"
	}
	if strings.ContainsAny(c.Archive.FolderName, `/\`) {
		return fmt.Errorf("archive folder_name must be a plain directory name: %s", c.Archive.FolderName)
	}

	if c.Compression.Quality < 1 || c.Compression.Quality > 100 {
		return fmt.Errorf("compression quality must be between 1 and 100, got %d", c.Compression.Quality)
	}

	format := strings.ToUpper(strings.TrimSpace(c.Compression.OutputFormat))
	if format == "" {
		format = "JPEG"
	}
	if format != "JPEG" && format != "WEBP" {
		return fmt.Errorf("invalid output_format: %s (valid: JPEG, WEBP)", c.Compression.OutputFormat)
	}
	c.Compression.OutputFormat = format

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	return nil
}

func isValidPath(path string) bool {
	if path == "" {
		return false
	}

	expandedPath := os.ExpandEnv(path)
	if strings.HasPrefix(expandedPath, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return false
		}
		expandedPath = filepath.Join(home, expandedPath[1:])
	}

	stat, err := os.Stat(expandedPath)
	return err == nil && stat.IsDir()
}
