package config

import (
	"github.com/cabinet-fe/MiniDevOps/internal/application/components/gormdb"
	"github.com/cabinet-fe/MiniDevOps/internal/application/components/http_server"
	"github.com/cabinet-fe/MiniDevOps/internal/application/components/logging"
	"github.com/cabinet-fe/MiniDevOps/internal/application/components/prometheus"
	"github.com/cabinet-fe/MiniDevOps/internal/application/components/redis"
	"github.com/cabinet-fe/MiniDevOps/internal/application/components/telemetry"
)

// AppConfig 应用程序配置结构
type AppConfig struct {
	APPInfo    *APPInfo                      `yaml:"app_info" json:"app_info"`
	Logging    *logging.LoggingConfig        `yaml:"logging" json:"logging"`
	HTTPServer *http_server.HTTPServerConfig `yaml:"http_server" json:"http_server"`
	Prometheus *prometheus.Config            `yaml:"prometheus" json:"prometheus"`
	Telemetry  *telemetry.Config             `yaml:"telemetry" json:"telemetry"`
	GORM       *gormdb.Config                `yaml:"gorm" json:"gorm"`
	Redis      *redis.Config                 `yaml:"redis" json:"redis"`

	// BizConfig holds the project's own section; see Loader.SetBizConfig.
	BizConfig any `yaml:"biz_config" json:"biz_config"`
}

type APPInfo struct {
	APPName string `yaml:"app_name" json:"app_name"`
	ENV     string `yaml:"env" json:"env"`
}
