package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	appconsts "github.com/cabinet-fe/MiniDevOps/internal/application/consts"
	"github.com/cabinet-fe/MiniDevOps/internal/application/core"
	"github.com/cabinet-fe/MiniDevOps/internal/consts"
	"github.com/cabinet-fe/MiniDevOps/internal/dao"
	"github.com/cabinet-fe/MiniDevOps/internal/model"
)

type TaskController struct {
	*core.BaseComponent
	Tasks dao.TaskDao `infra:"dep:task_dao"`
}

func NewTaskController() *TaskController {
	return &TaskController{BaseComponent: core.NewBaseComponent(consts.COMP_CTRL_TASK, appconsts.COMPONENT_LOGGING)}
}

func (c *TaskController) Start(ctx context.Context) error { return c.BaseComponent.Start(ctx) }
func (c *TaskController) Stop(ctx context.Context) error  { return c.BaseComponent.Stop(ctx) }

type createTaskReq struct {
	Name       string   `json:"name"`
	RepoID     uint     `json:"repo_id"`
	BranchName string   `json:"branch_name"`
	Steps      []string `json:"steps"`
}

func (req *createTaskReq) validate() error {
	switch {
	case strings.TrimSpace(req.Name) == "":
		return errors.New("name is required")
	case req.RepoID == 0:
		return errors.New("repo_id is required")
	case strings.TrimSpace(req.BranchName) == "":
		return errors.New("branch_name is required")
	}
	return nil
}

// POST /api/tasks
func (c *TaskController) Create(w http.ResponseWriter, r *http.Request) {
	var req createTaskReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "bad request", err)
		return
	}
	if err := req.validate(); err != nil {
		writeErr(w, http.StatusBadRequest, "bad request", err)
		return
	}
	t := &model.Task{Name: req.Name, RepoID: req.RepoID, BranchName: req.BranchName, Steps: req.Steps}
	if err := c.Tasks.Create(r.Context(), t); err != nil {
		writeErr(w, statusOf(err), "create failed", err)
		return
	}
	writeData(w, "created", t)
}

// GET /api/tasks/{id}
func (c *TaskController) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad request", err)
		return
	}
	t, err := c.Tasks.Get(r.Context(), id)
	if err != nil {
		writeErr(w, statusOf(err), "query failed", err)
		return
	}
	writeData(w, "ok", t)
}

// GET /api/tasks/page?page=&size=
func (c *TaskController) Page(w http.ResponseWriter, r *http.Request) {
	p, err := c.Tasks.Page(r.Context(), queryInt(r, "page"), queryInt(r, "size"))
	if err != nil {
		writeErr(w, statusOf(err), "query failed", err)
		return
	}
	writeData(w, "ok", p)
}
