package registry

import (
	"fmt"

	"github.com/cabinet-fe/MiniDevOps/internal/application/components/gormdb"
	"github.com/cabinet-fe/MiniDevOps/internal/application/components/http_server"
	"github.com/cabinet-fe/MiniDevOps/internal/application/components/logging"
	"github.com/cabinet-fe/MiniDevOps/internal/application/components/prometheus"
	"github.com/cabinet-fe/MiniDevOps/internal/application/components/redis"
	"github.com/cabinet-fe/MiniDevOps/internal/application/components/telemetry"
	"github.com/cabinet-fe/MiniDevOps/internal/application/config"
	"github.com/cabinet-fe/MiniDevOps/internal/application/consts"
	"github.com/cabinet-fe/MiniDevOps/internal/application/core"
)

// 内置组件: 配置段缺失或 enabled=false 时跳过。
func init() {
	Register(consts.COMPONENT_LOGGING, func(cfg *config.AppConfig, _ *core.Container) (bool, core.Component, error) {
		if cfg.Logging == nil || !cfg.Logging.Enabled {
			return false, nil, nil
		}
		if err := cfg.Logging.Normalize(); err != nil {
			return true, nil, err
		}
		return true, logging.NewLoggerComponent(cfg.Logging), nil
	})

	Register(consts.COMPONENT_GORM, func(cfg *config.AppConfig, _ *core.Container) (bool, core.Component, error) {
		if cfg.GORM == nil || !cfg.GORM.Enabled {
			return false, nil, nil
		}
		if err := cfg.GORM.Validate(); err != nil {
			return true, nil, err
		}
		return true, gormdb.NewGormComponent(cfg.GORM), nil
	})

	Register(consts.COMPONENT_REDIS, func(cfg *config.AppConfig, _ *core.Container) (bool, core.Component, error) {
		if cfg.Redis == nil || !cfg.Redis.Enabled {
			return false, nil, nil
		}
		return true, redis.NewRedisComponent(cfg.Redis), nil
	})

	Register(consts.COMPONENT_PROMETHEUS, func(cfg *config.AppConfig, _ *core.Container) (bool, core.Component, error) {
		if cfg.Prometheus == nil || !cfg.Prometheus.Enabled {
			return false, nil, nil
		}
		return true, prometheus.NewComponent(cfg.Prometheus), nil
	})

	Register(consts.COMPONENT_TELEMETRY, func(cfg *config.AppConfig, _ *core.Container) (bool, core.Component, error) {
		if cfg.Telemetry == nil || !cfg.Telemetry.Enabled {
			return false, nil, nil
		}
		if cfg.Telemetry.ServiceName == "" {
			cfg.Telemetry.ServiceName = appName(cfg)
		}
		if cfg.Telemetry.ServiceName == "" {
			return false, nil, fmt.Errorf("telemetry.service_name empty and app_info.app_name not provided")
		}
		return true, telemetry.NewTelemetryComponent(cfg.Telemetry), nil
	})

	Register(consts.COMPONENT_HTTP_SERVER, func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		if cfg.HTTPServer == nil || !cfg.HTTPServer.Enabled {
			return false, nil, nil
		}
		if cfg.HTTPServer.ServiceName == "" {
			cfg.HTTPServer.ServiceName = appName(cfg)
		}
		return true, http_server.NewHTTPServerComponent(cfg.HTTPServer, c), nil
	})
	// otelchi 读取全局 tracer provider, telemetry 启用时需先于 http_server 启动
	ExtendRuntimeDependencies(consts.COMPONENT_HTTP_SERVER, consts.COMPONENT_TELEMETRY)
}

func appName(cfg *config.AppConfig) string {
	if cfg.APPInfo == nil {
		return ""
	}
	return cfg.APPInfo.APPName
}
