package redis

import "time"

// Mode: single | cluster | sentinel
type Config struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Mode    string `yaml:"mode" json:"mode"`

	Addresses      []string `yaml:"addresses" json:"addresses"`
	Username       string   `yaml:"username" json:"username"`
	Password       string   `yaml:"password" json:"password"`
	DB             int      `yaml:"db" json:"db"`
	SentinelMaster string   `yaml:"sentinel_master" json:"sentinel_master"`

	PoolSize     int `yaml:"pool_size" json:"pool_size"`
	MinIdleConns int `yaml:"min_idle_conns" json:"min_idle_conns"`

	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`

	DialTimeout  time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = "single"
	}
	if len(c.Addresses) == 0 {
		switch c.Mode {
		case "single":
			c.Addresses = []string{"127.0.0.1:6379"}
		case "sentinel":
			c.Addresses = []string{"127.0.0.1:26379"}
		case "cluster":
			c.Addresses = []string{"127.0.0.1:7000", "127.0.0.1:7001", "127.0.0.1:7002"}
		}
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 20
	}
	if c.MinIdleConns < 0 {
		c.MinIdleConns = 0
	} else if c.MinIdleConns > c.PoolSize {
		c.MinIdleConns = c.PoolSize / 2
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 3 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 3 * time.Second
	}
	if c.ConnMaxIdleTime < 0 {
		c.ConnMaxIdleTime = 0
	}
	if c.ConnMaxLifetime < 0 {
		c.ConnMaxLifetime = 0
	}
	if c.DB < 0 {
		c.DB = 0
	}
}
