package dao

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/cabinet-fe/MiniDevOps/internal/application/components/gormdb"
	appconsts "github.com/cabinet-fe/MiniDevOps/internal/application/consts"
	"github.com/cabinet-fe/MiniDevOps/internal/application/core"
	"github.com/cabinet-fe/MiniDevOps/internal/consts"
	"github.com/cabinet-fe/MiniDevOps/internal/model"
)

type TaskDao interface {
	core.Component
	Create(ctx context.Context, t *model.Task) error
	Get(ctx context.Context, id uint) (*model.Task, error)
	Page(ctx context.Context, page, size int) (*model.Page[*model.Task], error)
	// GetBuildSpec 读取任务及其仓库, 仓库缺失时 RepoLocalPath 为空
	GetBuildSpec(ctx context.Context, id uint) (*model.BuildSpec, error)
}

type taskDaoImpl struct {
	*core.BaseComponent
	GormComp    *gormdb.GormComponent `infra:"dep:gorm"`
	db          *gorm.DB
	dsName      string
	workspace   string
	autoMigrate bool
}

func NewTaskDao(dsName, workspace string, autoMigrate bool) TaskDao {
	return &taskDaoImpl{
		BaseComponent: core.NewBaseComponent(consts.COMP_DAO_TASK, appconsts.COMPONENT_LOGGING),
		dsName:        dsName,
		workspace:     workspace,
		autoMigrate:   autoMigrate,
	}
}

func (d *taskDaoImpl) Start(ctx context.Context) error {
	if err := d.BaseComponent.Start(ctx); err != nil {
		return err
	}
	db, err := d.GormComp.GetDB(d.dsName)
	if err != nil {
		return fmt.Errorf("get gorm db %s failed: %w", d.dsName, err)
	}
	if d.autoMigrate {
		if err := db.WithContext(ctx).AutoMigrate(&model.Task{}); err != nil {
			return fmt.Errorf("auto migrate tasks: %w", err)
		}
	}
	d.db = db
	return nil
}

func (d *taskDaoImpl) Stop(ctx context.Context) error { return d.BaseComponent.Stop(ctx) }

func (d *taskDaoImpl) Create(ctx context.Context, t *model.Task) error {
	t.Name = strings.TrimSpace(t.Name)
	if t.Steps == nil {
		t.Steps = []string{}
	}
	return d.db.WithContext(ctx).Create(t).Error
}

func (d *taskDaoImpl) Get(ctx context.Context, id uint) (*model.Task, error) {
	var t model.Task
	if err := d.db.WithContext(ctx).First(&t, id).Error; err != nil {
		return nil, wrapNotFound(err, "task", id)
	}
	return &t, nil
}

func (d *taskDaoImpl) Page(ctx context.Context, page, size int) (*model.Page[*model.Task], error) {
	_, size, offset := NormalizePage(page, size)
	out := &model.Page[*model.Task]{Rows: []*model.Task{}}
	if err := d.db.WithContext(ctx).Model(&model.Task{}).Count(&out.Total).Error; err != nil {
		return nil, err
	}
	if err := d.db.WithContext(ctx).Order("id DESC").Limit(size).Offset(offset).Find(&out.Rows).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (d *taskDaoImpl) GetBuildSpec(ctx context.Context, id uint) (*model.BuildSpec, error) {
	t, err := d.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	var repo model.Repository
	err = d.db.WithContext(ctx).First(&repo, t.RepoID).Error
	switch {
	case err == nil:
		return buildSpec(t, &repo, d.workspace), nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return buildSpec(t, nil, d.workspace), nil
	default:
		return nil, err
	}
}
