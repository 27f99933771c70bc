package gormdb

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/cabinet-fe/MiniDevOps/internal/application/components/logging"
	"github.com/cabinet-fe/MiniDevOps/internal/application/consts"
	"github.com/cabinet-fe/MiniDevOps/internal/application/core"
)

// GormComponent manages one *gorm.DB per named data source.
type GormComponent struct {
	*core.BaseComponent
	cfg   *Config
	dbs   map[string]*gorm.DB
	mutex sync.RWMutex
	log   *gormLogger
}

func NewGormComponent(cfg *Config) *GormComponent {
	return &GormComponent{
		BaseComponent: core.NewBaseComponent(consts.COMPONENT_GORM, consts.COMPONENT_LOGGING),
		cfg:           cfg,
		dbs:           make(map[string]*gorm.DB),
		log:           newGormLogger(cfg),
	}
}

func (c *GormComponent) Start(ctx context.Context) error {
	if err := c.BaseComponent.Start(ctx); err != nil {
		return err
	}
	if c.cfg == nil || !c.cfg.Enabled {
		return fmt.Errorf("gorm component disabled or nil config")
	}
	for _, name := range sortedKeys(c.cfg.DataSources) {
		if err := c.open(ctx, name, c.cfg.DataSources[name]); err != nil {
			c.closeAll(ctx)
			return err
		}
	}
	logging.Infof(ctx, "[gorm] started. data sources=%v", c.listNames())
	return nil
}

func (c *GormComponent) open(ctx context.Context, name string, ds *DataSourceConfig) error {
	if ds == nil {
		return fmt.Errorf("datasource %s config is nil", name)
	}
	dial, err := dialector(ds)
	if err != nil {
		return fmt.Errorf("build dialector for %s failed: %w", name, err)
	}
	gormDB, err := gorm.Open(dial, &gorm.Config{
		Logger:                                   c.log,
		SkipDefaultTransaction:                   ds.SkipDefaultTransaction,
		PrepareStmt:                              ds.PrepareStmt,
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return fmt.Errorf("open gorm db %s (%s) failed: %w", name, ds.Driver, err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return fmt.Errorf("get underlying sql.DB for %s failed: %w", name, err)
	}

	sqlDB.SetMaxOpenConns(orDefault(ds.MaxOpenConns, 50))
	sqlDB.SetMaxIdleConns(orDefault(ds.MaxIdleConns, 10))
	if ds.ConnMaxLife > 0 {
		sqlDB.SetConnMaxLifetime(ds.ConnMaxLife)
	} else {
		sqlDB.SetConnMaxLifetime(60 * time.Minute)
	}
	if ds.ConnMaxIdle > 0 {
		sqlDB.SetConnMaxIdleTime(ds.ConnMaxIdle)
	}

	if ds.PingOnStart {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := sqlDB.PingContext(pingCtx)
		cancel()
		if err != nil {
			_ = sqlDB.Close()
			return fmt.Errorf("ping gorm db %s failed: %w", name, err)
		}
	}

	if ds.MigrateEnabled {
		if strings.TrimSpace(ds.MigrateDir) == "" {
			_ = sqlDB.Close()
			return fmt.Errorf("datasource %s migrate_enabled=true but migrate_dir empty", name)
		}
		migStart := time.Now()
		if err := runMigrations(ctx, sqlDB, ds.MigrateDir); err != nil {
			_ = sqlDB.Close()
			return fmt.Errorf("datasource %s migrations failed: %w", name, err)
		}
		logging.Infof(ctx, "[gorm] datasource %s migrations completed dur=%s", name, time.Since(migStart))
	}

	c.mutex.Lock()
	c.dbs[name] = gormDB
	c.mutex.Unlock()
	logging.Infof(ctx, "[gorm] datasource %s (%s) initialized", name, ds.Driver)
	return nil
}

func (c *GormComponent) Stop(ctx context.Context) error {
	defer func() { _ = c.BaseComponent.Stop(ctx) }()
	c.closeAll(ctx)
	return nil
}

func (c *GormComponent) closeAll(ctx context.Context) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for name, gdb := range c.dbs {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
		delete(c.dbs, name)
		logging.Infof(ctx, "[gorm] datasource %s closed", name)
	}
}

func (c *GormComponent) HealthCheck() error {
	if err := c.BaseComponent.HealthCheck(); err != nil {
		return err
	}
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	for name, gdb := range c.dbs {
		sqlDB, err := gdb.DB()
		if err != nil {
			return fmt.Errorf("datasource %s get sql.DB failed: %w", name, err)
		}
		if err := sqlDB.Ping(); err != nil {
			return fmt.Errorf("datasource %s ping failed: %w", name, err)
		}
	}
	return nil
}

func (c *GormComponent) GetDB(name string) (*gorm.DB, error) {
	c.mutex.RLock()
	db, ok := c.dbs[name]
	c.mutex.RUnlock()
	if !ok {
		return nil, fmt.Errorf("gorm datasource %s not found", name)
	}
	return db, nil
}

func (c *GormComponent) listNames() []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return sortedKeys(c.dbs)
}

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
