package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/cabinet-fe/MiniDevOps/internal/application/components/http_server"
	"github.com/cabinet-fe/MiniDevOps/internal/application/core"
	"github.com/cabinet-fe/MiniDevOps/internal/consts"
)

func init() {
	http_server.RegisterRoutes(func(r chi.Router, c *core.Container) error {
		build, err := core.ResolveAs[*BuildController](c, consts.COMP_CTRL_BUILD)
		if err != nil {
			return err
		}
		task, err := core.ResolveAs[*TaskController](c, consts.COMP_CTRL_TASK)
		if err != nil {
			return err
		}
		repo, err := core.ResolveAs[*RepoController](c, consts.COMP_CTRL_REPO)
		if err != nil {
			return err
		}
		ws, err := core.ResolveAs[*WSController](c, consts.COMP_CTRL_WS)
		if err != nil {
			return err
		}
		Mount(r, build, task, repo, ws)
		return nil
	})
}

// Mount registers every build hub route on r.
func Mount(r chi.Router, build *BuildController, task *TaskController, repo *RepoController, ws *WSController) {
	r.Route("/api/tasks", func(r chi.Router) {
		r.Get("/building", build.Building)
		r.Get("/result", build.LastResult)
		r.Get("/page", task.Page)
		r.Post("/", task.Create)
		r.Get("/{id}", task.Get)
		r.Get("/{id}/result", build.TaskResult)
		r.Post("/{id}/build", build.Build)
		r.Post("/{id}/stop-build", build.StopBuild)
	})
	r.Route("/api/repos", func(r chi.Router) {
		r.Get("/page", repo.Page)
		r.Post("/", repo.Create)
		r.Post("/{id}/clone", repo.Clone)
	})
	r.Get("/ws/tasks/progress", ws.Progress)
}
