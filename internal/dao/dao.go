package dao

import (
	"errors"
	"fmt"
	"path/filepath"

	"gorm.io/gorm"

	"github.com/cabinet-fe/MiniDevOps/internal/consts"
	"github.com/cabinet-fe/MiniDevOps/internal/gitops"
	"github.com/cabinet-fe/MiniDevOps/internal/model"
)

var ErrNotFound = errors.New("record not found")

// wrapNotFound maps gorm's not-found onto ErrNotFound.
func wrapNotFound(err error, what string, id uint) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
	}
	return err
}

// NormalizePage 规范化分页参数, 返回 page/size/offset
func NormalizePage(page, size int) (int, int, int) {
	if page < 1 {
		page = consts.DEFAULT_PAGE
	}
	if size < 1 {
		size = consts.DEFAULT_PAGE_SIZE
	}
	if size > consts.MAX_PAGE_SIZE {
		size = consts.MAX_PAGE_SIZE
	}
	return page, size, (page - 1) * size
}

// LocalPath is where the repository is cloned: the row's override or workspace/RepoName(address).
func LocalPath(repo *model.Repository, workspace string) string {
	if repo.LocalPath != "" {
		return repo.LocalPath
	}
	return filepath.Join(workspace, gitops.RepoName(repo.Address))
}

func buildSpec(t *model.Task, repo *model.Repository, workspace string) *model.BuildSpec {
	spec := &model.BuildSpec{
		ID:         t.ID,
		Name:       t.Name,
		BranchName: t.BranchName,
		Steps:      append([]string(nil), t.Steps...),
	}
	if repo != nil {
		spec.RepoAddress = repo.Address
		spec.RepoLocalPath = LocalPath(repo, workspace)
	}
	return spec
}
