package config

import (
	"path/filepath"
	"time"

	appcfg "github.com/cabinet-fe/MiniDevOps/internal/application/config"
)

type ResultMirrorConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled"`
	ChannelPrefix string `yaml:"channel_prefix" json:"channel_prefix"`
}

// BuildHubConfig is the biz_config section.
type BuildHubConfig struct {
	WorkspaceDir       string        `yaml:"workspace_dir" json:"workspace_dir"`
	LogDir             string        `yaml:"log_dir" json:"log_dir"`
	BuildLogMaxSizeMB  int           `yaml:"build_log_max_size_mb" json:"build_log_max_size_mb"`
	MaxConcurrentBuild int           `yaml:"max_concurrent_builds" json:"max_concurrent_builds"` // 0 = 不限制
	StepTimeout        time.Duration `yaml:"step_timeout" json:"step_timeout"`                   // 0 = 不限制
	BuildTimeout       time.Duration `yaml:"build_timeout" json:"build_timeout"`                 // 0 = 不限制
	KillGracePeriod    time.Duration `yaml:"kill_grace_period" json:"kill_grace_period"`
	Shell              string        `yaml:"shell" json:"shell"`
	GitBinary          string        `yaml:"git_binary" json:"git_binary"`
	WSWriteTimeout     time.Duration `yaml:"ws_write_timeout" json:"ws_write_timeout"`
	WSPingInterval     time.Duration `yaml:"ws_ping_interval" json:"ws_ping_interval"`
	WSSendQueue        int           `yaml:"ws_send_queue" json:"ws_send_queue"` // 每个订阅者的待发送消息上限
	DataSource         string        `yaml:"data_source" json:"data_source"`
	AutoMigrate        bool          `yaml:"auto_migrate" json:"auto_migrate"`

	ResultMirror ResultMirrorConfig `yaml:"result_mirror" json:"result_mirror"`
}

var bizConfig = &BuildHubConfig{}

// GetBizConfig returns the pointer handed to the loader; it is filled once the app boots.
func GetBizConfig() *BuildHubConfig { return bizConfig }

// From returns the biz section of cfg with defaults applied.
func From(cfg *appcfg.AppConfig) *BuildHubConfig {
	bc, ok := cfg.BizConfig.(*BuildHubConfig)
	if !ok || bc == nil {
		bc = bizConfig
	}
	bc.ApplyDefaults()
	return bc
}

func (c *BuildHubConfig) ApplyDefaults() {
	if c.GitBinary == "" {
		c.GitBinary = "git"
	}
	if c.WorkspaceDir == "" {
		c.WorkspaceDir = "workspace"
	}
	if c.LogDir == "" {
		c.LogDir = filepath.Join("logs", "builds")
	}
	if c.BuildLogMaxSizeMB <= 0 {
		c.BuildLogMaxSizeMB = 50
	}
	if c.MaxConcurrentBuild < 0 {
		c.MaxConcurrentBuild = 0
	}
	if c.KillGracePeriod <= 0 {
		c.KillGracePeriod = 5 * time.Second
	}
	if c.Shell == "" {
		c.Shell = "sh"
	}
	if c.WSWriteTimeout <= 0 {
		c.WSWriteTimeout = 10 * time.Second
	}
	if c.WSPingInterval <= 0 {
		c.WSPingInterval = 30 * time.Second
	}
	if c.DataSource == "" {
		c.DataSource = "minidevops"
	}
	if c.ResultMirror.ChannelPrefix == "" {
		c.ResultMirror.ChannelPrefix = "minidevops"
	}
}
