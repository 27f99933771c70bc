package logging

import (
	"fmt"
	"time"
)

type LoggingConfig struct {
	Enabled      bool          `yaml:"enabled" json:"enabled"`
	Level        string        `yaml:"level" json:"level"`   // DEBUG|INFO|WARN|ERROR
	Format       string        `yaml:"format" json:"format"` // json|console
	Output       string        `yaml:"output" json:"output"` // stdout|stderr|file|<path>
	FileConfig   *FileConfig   `yaml:"file_config,omitempty" json:"file_config,omitempty"`
	RotateConfig *RotateConfig `yaml:"rotate_config,omitempty" json:"rotate_config,omitempty"`
}

type FileConfig struct {
	Dir      string `yaml:"dir" json:"dir"`
	Filename string `yaml:"filename" json:"filename"` // 文件名前缀，不含 .log
	MaxSize  int    `yaml:"max_size_mb" json:"max_size_mb"`
}

// RotateConfig: RotateInterval > 0 selects the interval writer, otherwise lumberjack rotates by size.
type RotateConfig struct {
	Enabled        bool          `yaml:"enabled" json:"enabled"`
	RotateInterval time.Duration `yaml:"rotate_interval" json:"rotate_interval"`
	MaxAge         time.Duration `yaml:"max_age" json:"max_age"`
	CleanupEnabled bool          `yaml:"cleanup_enabled" json:"cleanup_enabled"`
}

// Normalize 补齐缺省值并校验轮转参数。
func (c *LoggingConfig) Normalize() error {
	if c.Level == "" {
		c.Level = "INFO"
	}
	if c.Format == "" {
		c.Format = "json"
	}
	if c.Output == "" {
		c.Output = "stdout"
	}
	if c.Output == "file" && c.FileConfig == nil {
		c.FileConfig = &FileConfig{Dir: "./logs", Filename: "minidevops"}
	}
	if c.FileConfig != nil && c.FileConfig.MaxSize <= 0 {
		c.FileConfig.MaxSize = 100
	}
	if rc := c.RotateConfig; rc != nil && rc.Enabled {
		if rc.RotateInterval < 0 {
			return fmt.Errorf("logging.rotate_config.rotate_interval must be >= 0")
		}
		if rc.MaxAge < 0 {
			return fmt.Errorf("logging.rotate_config.max_age must be >= 0")
		}
	}
	return nil
}
