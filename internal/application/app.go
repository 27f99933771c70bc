package application

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/cabinet-fe/MiniDevOps/internal/application/autowire"
	"github.com/cabinet-fe/MiniDevOps/internal/application/config"
	"github.com/cabinet-fe/MiniDevOps/internal/application/core"
	"github.com/cabinet-fe/MiniDevOps/internal/application/hooks"
	"github.com/cabinet-fe/MiniDevOps/internal/application/registry"
)

type App struct {
	container        *core.Container
	lifecycleManager *core.LifecycleManager
	configManager    *config.ConfigManager

	bootOnce sync.Once
	bootErr  error

	shutdownTimeout time.Duration
}

func NewApp(env string, configPath string) *App {
	abs := configPath
	if p, err := filepath.Abs(configPath); err == nil {
		abs = p
	}
	container := core.NewContainer()
	return &App{
		configManager:    config.NewConfigManager(env, abs),
		container:        container,
		lifecycleManager: core.NewLifecycleManager(container, hooks.GetGlobalHookManager()),
		shutdownTimeout:  30 * time.Second,
	}
}

// SetBizConfig 设置业务配置指针, 需在 Run 之前调用。
func (app *App) SetBizConfig(b any) { app.configManager.SetBizConfig(b) }

// SetShutdownTimeout 设置优雅退出的最长等待时间, 非正值保留默认 30s。
func (app *App) SetShutdownTimeout(d time.Duration) {
	if d > 0 {
		app.shutdownTimeout = d
	}
}

func (app *App) boot() error {
	app.bootOnce.Do(func() {
		if err := app.configManager.LoadConfig(); err != nil {
			app.bootErr = fmt.Errorf("load config failed: %w", err)
			return
		}
		cfg := app.configManager.GetConfig()
		if err := registry.BuildAndRegisterAll(cfg, app.container); err != nil {
			app.bootErr = fmt.Errorf("register components failed: %w", err)
			return
		}
		if err := autowire.InjectAll(app.container); err != nil {
			app.bootErr = fmt.Errorf("autowire failed: %w", err)
			return
		}
	})
	return app.bootErr
}

func (app *App) GetConfig() *config.AppConfig {
	return app.configManager.GetConfig()
}

func (app *App) AddHook(name string, phase hooks.Phase, fn hooks.HookFunc, priority int) error {
	return app.lifecycleManager.AddHook(name, phase, fn, priority)
}

// Run blocks until SIGINT/SIGTERM, then shuts down gracefully.
// A second signal, or a shutdown that outlives shutdownTimeout, exits the process with code 1.
func (app *App) Run() error {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- app.RunWithContext(ctx) }()

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Printf("received signal %s, initiating graceful shutdown (timeout %s)...", sig, app.shutdownTimeout)
	}
	cancel()

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Printf("[graceful] forcing exit on second signal %s", sig)
	case <-time.After(app.shutdownTimeout):
		log.Printf("[graceful] forcing exit after %s", app.shutdownTimeout)
	}
	os.Exit(1)
	return nil
}

// RunWithContext starts components and blocks until ctx is done, then stops them.
func (app *App) RunWithContext(ctx context.Context) error {
	if err := app.boot(); err != nil {
		return err
	}
	if err := app.lifecycleManager.StartAll(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	app.lifecycleManager.StopAll(context.Background())
	return nil
}

func (app *App) Shutdown(ctx context.Context) {
	app.lifecycleManager.StopAll(ctx)
}
