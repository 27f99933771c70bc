package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cabinet-fe/MiniDevOps/internal/application/consts"
)

// Loader 配置加载器
type Loader struct {
	env        string
	configPath string
	// bizConfig 业务方传入的指针, 用于填充 biz_config 小节
	bizConfig any
}

func NewLoader(env string, configPath string) *Loader {
	if env == "" {
		env = consts.ENV_DEVELOPMENT
	}
	if configPath == "" {
		configPath = consts.DEFAULT_CONFIG_PATH
	}
	return &Loader{env: env, configPath: configPath}
}

// SetBizConfig 注入业务配置指针 (例如 &MyBizConfig{}), 需在 LoadConfig 之前调用。
func (l *Loader) SetBizConfig(b any) {
	if b == nil {
		return
	}
	if reflect.TypeOf(b).Kind() != reflect.Ptr {
		panic("SetBizConfig expects a pointer, e.g. &MyBizConfig{}")
	}
	l.bizConfig = b
}

// LoadConfig 先整体解析 AppConfig, 再把 biz_config 子树二次解码到业务指针。
// yaml.v3 会把预先放进 interface{} 的指针替换成 map, 所以必须分两步。
func (l *Loader) LoadConfig() (*AppConfig, error) {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	ext := strings.ToLower(filepath.Ext(l.configPath))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	if l.bizConfig != nil {
		if cfg.BizConfig != nil {
			if err := decodeBizSection(ext, cfg.BizConfig, l.bizConfig); err != nil {
				return nil, fmt.Errorf("decode biz_config failed: %w", err)
			}
		}
		cfg.BizConfig = l.bizConfig
	}

	l.mergeEnv(&cfg)
	return &cfg, nil
}

// decodeBizSection re-encodes raw and decodes it over target, keeping target's preset defaults.
func decodeBizSection(ext string, raw any, target any) error {
	switch ext {
	case ".yaml", ".yml":
		b, err := yaml.Marshal(raw)
		if err != nil {
			return fmt.Errorf("re-marshal biz_config failed: %w", err)
		}
		return yaml.Unmarshal(b, target)
	case ".json":
		b, err := json.Marshal(raw)
		if err != nil {
			return fmt.Errorf("re-marshal biz_config failed: %w", err)
		}
		return json.Unmarshal(b, target)
	default:
		return fmt.Errorf("unsupported format: %s", ext)
	}
}

// mergeEnv 命令行 --env 优先于文件中的 app_info.env
func (l *Loader) mergeEnv(cfg *AppConfig) {
	if cfg.APPInfo == nil {
		cfg.APPInfo = &APPInfo{}
	}
	cfg.APPInfo.ENV = l.env
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}
