package registry_ext

import (
	appcfg "github.com/cabinet-fe/MiniDevOps/internal/application/config"
	appconsts "github.com/cabinet-fe/MiniDevOps/internal/application/consts"
	"github.com/cabinet-fe/MiniDevOps/internal/application/core"
	"github.com/cabinet-fe/MiniDevOps/internal/application/registry"
	"github.com/cabinet-fe/MiniDevOps/internal/api"
	"github.com/cabinet-fe/MiniDevOps/internal/config"
	"github.com/cabinet-fe/MiniDevOps/internal/consts"
)

func init() {
	// http_server 在所有 controller 之后启动
	registry.ExtendRuntimeDependencies(appconsts.COMPONENT_HTTP_SERVER,
		consts.COMP_CTRL_BUILD, consts.COMP_CTRL_TASK, consts.COMP_CTRL_REPO, consts.COMP_CTRL_WS)

	registry.RegisterWithDeps(consts.COMP_CTRL_BUILD, []string{consts.COMP_SVC_ORCHESTRATOR, consts.COMP_SVC_BUILD_HUB},
		func(cfg *appcfg.AppConfig, c *core.Container) (bool, core.Component, error) {
			return true, api.NewBuildController(), nil
		})
	registry.RegisterWithDeps(consts.COMP_CTRL_TASK, []string{consts.COMP_DAO_TASK},
		func(cfg *appcfg.AppConfig, c *core.Container) (bool, core.Component, error) {
			return true, api.NewTaskController(), nil
		})
	registry.RegisterWithDeps(consts.COMP_CTRL_REPO, []string{consts.COMP_DAO_REPO, consts.COMP_GIT_CLIENT},
		func(cfg *appcfg.AppConfig, c *core.Container) (bool, core.Component, error) {
			return true, api.NewRepoController(config.From(cfg).WorkspaceDir), nil
		})
	registry.RegisterWithDeps(consts.COMP_CTRL_WS, []string{consts.COMP_SVC_BUILD_HUB},
		func(cfg *appcfg.AppConfig, c *core.Container) (bool, core.Component, error) {
			bc := config.From(cfg)
			return true, api.NewWSController(bc.WSWriteTimeout, bc.WSPingInterval, bc.WSSendQueue), nil
		})
}
