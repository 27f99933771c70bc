package telemetry

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

const defaultOTLPTimeout = 5 * time.Second

// Config 对应 telemetry 配置段, service_name 为空时由注册处回退为 app_info.app_name。
type Config struct {
	Enabled     bool    `yaml:"enabled" json:"enabled"`
	ServiceName string  `yaml:"service_name" json:"service_name"`
	Exporter    string  `yaml:"exporter" json:"exporter"`
	SampleRatio float64 `yaml:"sample_ratio" json:"sample_ratio"`

	OTLP *OTLPConfig `yaml:"otlp" json:"otlp"`

	// stdout 导出器: StdoutFile 非空时写入文件
	StdoutPretty bool   `yaml:"stdout_pretty" json:"stdout_pretty"`
	StdoutFile   string `yaml:"stdout_file" json:"stdout_file"`
}

type OTLPConfig struct {
	Endpoint string        `yaml:"endpoint" json:"endpoint"`
	Insecure bool          `yaml:"insecure" json:"insecure"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// normalize 补齐缺省值并校验导出器配置。
func (c *Config) normalize() error {
	if c.ServiceName == "" {
		return errors.New("telemetry service_name must be set (or app_info.app_name)")
	}
	if c.SampleRatio <= 0 || c.SampleRatio > 1 {
		c.SampleRatio = 1.0
	}
	c.Exporter = strings.ToLower(strings.TrimSpace(c.Exporter))
	switch c.Exporter {
	case "":
		c.Exporter = ExporterStdout
	case ExporterStdout:
	case ExporterOTLP:
		if c.OTLP == nil || c.OTLP.Endpoint == "" {
			return errors.New("otlp exporter selected but otlp.endpoint empty")
		}
		if c.OTLP.Timeout <= 0 {
			c.OTLP.Timeout = defaultOTLPTimeout
		}
	default:
		return fmt.Errorf("unsupported exporter: %s", c.Exporter)
	}
	return nil
}
