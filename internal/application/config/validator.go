package config

import (
	"fmt"

	"github.com/cabinet-fe/MiniDevOps/internal/application/consts"
)

// Validator 配置验证器
type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

func (v *Validator) ValidateAppConfig(config *AppConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if config.Logging == nil || !config.Logging.Enabled {
		return fmt.Errorf("logging section must be present and enabled")
	}
	return nil
}

func (v *Validator) validateConfigFilePath(env string, path string) error {
	if path == "" {
		return fmt.Errorf("config file path cannot be empty")
	}
	if len(path) > 255 {
		return fmt.Errorf("config file path is too long")
	}
	if !fileExists(path) {
		return fmt.Errorf("config file does not exist: %s", path)
	}
	return v.validateEnv(env)
}

func (v *Validator) validateEnv(env string) error {
	switch env {
	case consts.ENV_DEVELOPMENT, consts.ENV_PRODUCTION, consts.ENV_TEST:
		return nil
	default:
		return fmt.Errorf("running environment is not valid: %q", env)
	}
}
