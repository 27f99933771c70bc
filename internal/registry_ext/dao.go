package registry_ext

import (
	appcfg "github.com/cabinet-fe/MiniDevOps/internal/application/config"
	"github.com/cabinet-fe/MiniDevOps/internal/application/core"
	"github.com/cabinet-fe/MiniDevOps/internal/application/registry"
	"github.com/cabinet-fe/MiniDevOps/internal/config"
	"github.com/cabinet-fe/MiniDevOps/internal/dao"
)

func init() {
	registry.RegisterAuto(func(cfg *appcfg.AppConfig, c *core.Container) (bool, core.Component, error) {
		bc := config.From(cfg)
		return true, dao.NewRepoDao(bc.DataSource, bc.AutoMigrate), nil
	})
	registry.RegisterAuto(func(cfg *appcfg.AppConfig, c *core.Container) (bool, core.Component, error) {
		bc := config.From(cfg)
		return true, dao.NewTaskDao(bc.DataSource, bc.WorkspaceDir, bc.AutoMigrate), nil
	})
}
