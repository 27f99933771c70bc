package registry_ext

import (
	appcfg "github.com/cabinet-fe/MiniDevOps/internal/application/config"
	"github.com/cabinet-fe/MiniDevOps/internal/application/core"
	"github.com/cabinet-fe/MiniDevOps/internal/application/registry"
	"github.com/cabinet-fe/MiniDevOps/internal/config"
	"github.com/cabinet-fe/MiniDevOps/internal/consts"
	"github.com/cabinet-fe/MiniDevOps/internal/service"
)

func init() {
	// 结果镜像存在时, 编排器晚于它启动、早于它停止
	registry.ExtendRuntimeDependencies(consts.COMP_SVC_ORCHESTRATOR, consts.COMP_SVC_RESULT_MIRROR)

	registry.Register(consts.COMP_GIT_CLIENT, func(cfg *appcfg.AppConfig, c *core.Container) (bool, core.Component, error) {
		bc := config.From(cfg)
		return true, service.NewGitClient(bc.GitBinary, bc.KillGracePeriod), nil
	})

	registry.Register(consts.COMP_SVC_BUILD_HUB, func(cfg *appcfg.AppConfig, c *core.Container) (bool, core.Component, error) {
		hub, err := service.NewBuildHub()
		if err != nil {
			return true, nil, err
		}
		return true, hub, nil
	})

	registry.RegisterWithDeps(consts.COMP_SVC_RESULT_MIRROR, []string{consts.COMP_SVC_BUILD_HUB},
		func(cfg *appcfg.AppConfig, c *core.Container) (bool, core.Component, error) {
			bc := config.From(cfg)
			if !bc.ResultMirror.Enabled || cfg.Redis == nil || !cfg.Redis.Enabled {
				return false, nil, nil
			}
			return true, service.NewResultMirror(bc.ResultMirror.ChannelPrefix), nil
		})

	registry.RegisterWithDeps(consts.COMP_SVC_ORCHESTRATOR, []string{consts.COMP_DAO_TASK, consts.COMP_GIT_CLIENT, consts.COMP_SVC_BUILD_HUB},
		func(cfg *appcfg.AppConfig, c *core.Container) (bool, core.Component, error) {
			return true, service.NewBuildOrchestrator(config.From(cfg)), nil
		})
}
