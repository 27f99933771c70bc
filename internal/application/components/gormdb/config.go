package gormdb

import (
	"fmt"
	"strings"
	"time"
)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// Config supports multiple named data sources, each on its own driver.
type Config struct {
	Enabled       bool                         `yaml:"enabled" json:"enabled"`
	DataSources   map[string]*DataSourceConfig `yaml:"data_sources" json:"data_sources"`
	LogLevel      string                       `yaml:"log_level" json:"log_level"`           // silent|error|warn|info|debug
	SlowThreshold time.Duration                `yaml:"slow_threshold" json:"slow_threshold"` // e.g. 200ms
}

type DataSourceConfig struct {
	Driver string `yaml:"driver" json:"driver"` // mysql|postgres, default mysql
	DSN    string `yaml:"dsn" json:"dsn"`

	Host     string            `yaml:"host" json:"host"`
	Port     int               `yaml:"port" json:"port"`
	User     string            `yaml:"user" json:"user"`
	Password string            `yaml:"password" json:"password"`
	Database string            `yaml:"database" json:"database"`
	Params   map[string]string `yaml:"params" json:"params"`

	MaxOpenConns int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLife  time.Duration `yaml:"conn_max_life" json:"conn_max_life"`
	ConnMaxIdle  time.Duration `yaml:"conn_max_idle" json:"conn_max_idle"`
	PingOnStart  bool          `yaml:"ping_on_start" json:"ping_on_start"`

	SkipDefaultTransaction bool `yaml:"skip_default_tx" json:"skip_default_tx"`
	PrepareStmt            bool `yaml:"prepare_stmt" json:"prepare_stmt"`

	// .sql files in MigrateDir run in lexical order, non-recursively.
	MigrateEnabled bool   `yaml:"migrate_enabled" json:"migrate_enabled"`
	MigrateDir     string `yaml:"migrate_dir" json:"migrate_dir"`
}

// Validate 规范化每个数据源的 driver, 空值按 mysql 处理。
func (c *Config) Validate() error {
	if len(c.DataSources) == 0 {
		return fmt.Errorf("gorm component has no data_sources")
	}
	for name, ds := range c.DataSources {
		if ds == nil {
			return fmt.Errorf("datasource %s config is nil", name)
		}
		ds.Driver = strings.ToLower(strings.TrimSpace(ds.Driver))
		if ds.Driver == "" {
			ds.Driver = DriverMySQL
		}
		if ds.Driver != DriverMySQL && ds.Driver != DriverPostgres {
			return fmt.Errorf("datasource %s: unsupported driver %q", name, ds.Driver)
		}
	}
	return nil
}
