package dao

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/cabinet-fe/MiniDevOps/internal/application/components/gormdb"
	appconsts "github.com/cabinet-fe/MiniDevOps/internal/application/consts"
	"github.com/cabinet-fe/MiniDevOps/internal/application/core"
	"github.com/cabinet-fe/MiniDevOps/internal/consts"
	"github.com/cabinet-fe/MiniDevOps/internal/model"
)

type RepoDao interface {
	core.Component
	Create(ctx context.Context, r *model.Repository) error
	Get(ctx context.Context, id uint) (*model.Repository, error)
	Page(ctx context.Context, page, size int) (*model.Page[*model.Repository], error)
}

type repoDaoImpl struct {
	*core.BaseComponent
	GormComp    *gormdb.GormComponent `infra:"dep:gorm"`
	db          *gorm.DB
	dsName      string
	autoMigrate bool
}

func NewRepoDao(dsName string, autoMigrate bool) RepoDao {
	return &repoDaoImpl{
		BaseComponent: core.NewBaseComponent(consts.COMP_DAO_REPO, appconsts.COMPONENT_LOGGING),
		dsName:        dsName,
		autoMigrate:   autoMigrate,
	}
}

func (d *repoDaoImpl) Start(ctx context.Context) error {
	if err := d.BaseComponent.Start(ctx); err != nil {
		return err
	}
	db, err := d.GormComp.GetDB(d.dsName)
	if err != nil {
		return fmt.Errorf("get gorm db %s failed: %w", d.dsName, err)
	}
	if d.autoMigrate {
		if err := db.WithContext(ctx).AutoMigrate(&model.Repository{}); err != nil {
			return fmt.Errorf("auto migrate repos: %w", err)
		}
	}
	d.db = db
	return nil
}

func (d *repoDaoImpl) Stop(ctx context.Context) error { return d.BaseComponent.Stop(ctx) }

func (d *repoDaoImpl) Create(ctx context.Context, r *model.Repository) error {
	return d.db.WithContext(ctx).Create(r).Error
}

func (d *repoDaoImpl) Get(ctx context.Context, id uint) (*model.Repository, error) {
	var r model.Repository
	if err := d.db.WithContext(ctx).First(&r, id).Error; err != nil {
		return nil, wrapNotFound(err, "repo", id)
	}
	return &r, nil
}

func (d *repoDaoImpl) Page(ctx context.Context, page, size int) (*model.Page[*model.Repository], error) {
	_, size, offset := NormalizePage(page, size)
	out := &model.Page[*model.Repository]{Rows: []*model.Repository{}}
	if err := d.db.WithContext(ctx).Model(&model.Repository{}).Count(&out.Total).Error; err != nil {
		return nil, err
	}
	if err := d.db.WithContext(ctx).Order("id DESC").Limit(size).Offset(offset).Find(&out.Rows).Error; err != nil {
		return nil, err
	}
	return out, nil
}
