package api

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/cabinet-fe/MiniDevOps/internal/application/components/logging"
	appconsts "github.com/cabinet-fe/MiniDevOps/internal/application/consts"
	"github.com/cabinet-fe/MiniDevOps/internal/application/core"
	"github.com/cabinet-fe/MiniDevOps/internal/consts"
	"github.com/cabinet-fe/MiniDevOps/internal/service"
)

type buildService interface {
	StartBuild(ctx context.Context, id uint) (string, error)
	StopBuild(ctx context.Context, id uint) error
}

// BuildController 构建触发/停止与状态查询
type BuildController struct {
	*core.BaseComponent
	Builds buildService      `infra:"dep:build_orchestrator"`
	Hub    *service.BuildHub `infra:"dep:build_hub"`
}

func NewBuildController() *BuildController {
	return &BuildController{BaseComponent: core.NewBaseComponent(consts.COMP_CTRL_BUILD, appconsts.COMPONENT_LOGGING)}
}

func (c *BuildController) Start(ctx context.Context) error { return c.BaseComponent.Start(ctx) }
func (c *BuildController) Stop(ctx context.Context) error  { return c.BaseComponent.Stop(ctx) }

// POST /api/tasks/{id}/build
func (c *BuildController) Build(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad request", err)
		return
	}
	buildID, err := c.Builds.StartBuild(r.Context(), id)
	if err != nil {
		code := statusOf(err)
		if code == http.StatusInternalServerError {
			logging.Error(r.Context(), "start build failed", zap.Uint("task_id", id), zap.Error(err))
		}
		writeErr(w, code, "build rejected", err)
		return
	}
	writeData(w, "accepted", map[string]string{"buildId": buildID})
}

// POST /api/tasks/{id}/stop-build
func (c *BuildController) StopBuild(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad request", err)
		return
	}
	if err := c.Builds.StopBuild(r.Context(), id); err != nil {
		if errors.Is(err, service.ErrNoActiveBuild) {
			writeMsg(w, "no active build")
			return
		}
		writeErr(w, statusOf(err), "stop failed", err)
		return
	}
	writeMsg(w, "stopping")
}

// GET /api/tasks/building
func (c *BuildController) Building(w http.ResponseWriter, _ *http.Request) {
	ids := c.Hub.Building()
	if ids == nil {
		ids = []uint{}
	}
	writeData(w, "ok", ids)
}

// GET /api/tasks/result
func (c *BuildController) LastResult(w http.ResponseWriter, _ *http.Request) {
	if rec := c.Hub.LastResult(); rec != nil {
		writeData(w, "ok", rec)
		return
	}
	writeData(w, "ok", struct{}{})
}

// GET /api/tasks/{id}/result
func (c *BuildController) TaskResult(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad request", err)
		return
	}
	rec, ok := c.Hub.TaskResult(id)
	if !ok {
		writeErr(w, http.StatusNotFound, "not found", errors.New("no result for task"))
		return
	}
	writeData(w, "ok", rec)
}
