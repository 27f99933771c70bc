package service

import (
	"context"
	"time"

	appconsts "github.com/cabinet-fe/MiniDevOps/internal/application/consts"
	"github.com/cabinet-fe/MiniDevOps/internal/application/core"
	"github.com/cabinet-fe/MiniDevOps/internal/consts"
	"github.com/cabinet-fe/MiniDevOps/internal/gitops"
)

// GitClient exposes the git CLI wrapper as a container component.
type GitClient struct {
	*core.BaseComponent
	*gitops.Client
}

func NewGitClient(binary string, killGrace time.Duration) *GitClient {
	return &GitClient{
		BaseComponent: core.NewBaseComponent(consts.COMP_GIT_CLIENT, appconsts.COMPONENT_LOGGING),
		Client:        gitops.NewClient(binary, killGrace),
	}
}

func (g *GitClient) Start(ctx context.Context) error { return g.BaseComponent.Start(ctx) }
func (g *GitClient) Stop(ctx context.Context) error  { return g.BaseComponent.Stop(ctx) }
