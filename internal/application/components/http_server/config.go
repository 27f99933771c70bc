package http_server

import "time"

type HTTPServerConfig struct {
	Enabled         bool          `yaml:"enabled" json:"enabled"`
	Address         string        `yaml:"address" json:"address"` // e.g. ":5001"
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	GracefulTimeout time.Duration `yaml:"graceful_timeout" json:"graceful_timeout"`
	// RequestTimeout bounds ordinary requests; websocket upgrades are exempt.
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
	EnableHealth   bool          `yaml:"enable_health" json:"enable_health"`
	// ServiceName is injected from app_info.app_name.
	ServiceName string `yaml:"-" json:"-"`
}

func (c *HTTPServerConfig) applyDefaults() {
	if c.Address == "" {
		c.Address = ":5001"
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 15 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 15 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.GracefulTimeout == 0 {
		c.GracefulTimeout = 10 * time.Second
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 60 * time.Second
	}
}
