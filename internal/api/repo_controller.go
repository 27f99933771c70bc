package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/cabinet-fe/MiniDevOps/internal/application/components/logging"
	appconsts "github.com/cabinet-fe/MiniDevOps/internal/application/consts"
	"github.com/cabinet-fe/MiniDevOps/internal/application/core"
	"github.com/cabinet-fe/MiniDevOps/internal/consts"
	"github.com/cabinet-fe/MiniDevOps/internal/dao"
	"github.com/cabinet-fe/MiniDevOps/internal/model"
)

type cloner interface {
	Clone(ctx context.Context, address, username, password, dest string) error
}

type RepoController struct {
	*core.BaseComponent
	Repos dao.RepoDao `infra:"dep:repo_dao"`
	Git   cloner      `infra:"dep:git_client"`

	workspace string
}

func NewRepoController(workspace string) *RepoController {
	return &RepoController{
		BaseComponent: core.NewBaseComponent(consts.COMP_CTRL_REPO, appconsts.COMPONENT_LOGGING),
		workspace:     workspace,
	}
}

func (c *RepoController) Start(ctx context.Context) error { return c.BaseComponent.Start(ctx) }
func (c *RepoController) Stop(ctx context.Context) error  { return c.BaseComponent.Stop(ctx) }

type createRepoReq struct {
	Name      string `json:"name"`
	Address   string `json:"address"`
	Username  string `json:"username"`
	Pwd       string `json:"pwd"`
	LocalPath string `json:"local_path"`
}

// POST /api/repos
func (c *RepoController) Create(w http.ResponseWriter, r *http.Request) {
	var req createRepoReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "bad request", err)
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Address) == "" {
		writeErr(w, http.StatusBadRequest, "bad request", errors.New("name and address are required"))
		return
	}
	repo := &model.Repository{
		Name:      strings.TrimSpace(req.Name),
		Address:   strings.TrimSpace(req.Address),
		Username:  req.Username,
		Pwd:       req.Pwd,
		LocalPath: req.LocalPath,
	}
	if err := c.Repos.Create(r.Context(), repo); err != nil {
		writeErr(w, statusOf(err), "create failed", err)
		return
	}
	writeData(w, "created", repo)
}

// GET /api/repos/page?page=&size=
func (c *RepoController) Page(w http.ResponseWriter, r *http.Request) {
	p, err := c.Repos.Page(r.Context(), queryInt(r, "page"), queryInt(r, "size"))
	if err != nil {
		writeErr(w, statusOf(err), "query failed", err)
		return
	}
	writeData(w, "ok", p)
}

// POST /api/repos/{id}/clone
func (c *RepoController) Clone(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad request", err)
		return
	}
	repo, err := c.Repos.Get(r.Context(), id)
	if err != nil {
		writeErr(w, statusOf(err), "query failed", err)
		return
	}
	dest := dao.LocalPath(repo, c.workspace)
	if err := c.Git.Clone(r.Context(), repo.Address, repo.Username, repo.Pwd, dest); err != nil {
		logging.Warn(r.Context(), "clone failed", zap.Uint("repo_id", id), zap.Error(err))
		writeErr(w, statusOf(err), "clone failed", err)
		return
	}
	writeData(w, "cloned", map[string]string{"path": dest})
}
