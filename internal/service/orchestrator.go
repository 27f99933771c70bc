package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/cabinet-fe/MiniDevOps/internal/application/components/logging"
	promcomp "github.com/cabinet-fe/MiniDevOps/internal/application/components/prometheus"
	appconsts "github.com/cabinet-fe/MiniDevOps/internal/application/consts"
	"github.com/cabinet-fe/MiniDevOps/internal/application/core"
	"github.com/cabinet-fe/MiniDevOps/internal/cancellation"
	"github.com/cabinet-fe/MiniDevOps/internal/config"
	"github.com/cabinet-fe/MiniDevOps/internal/consts"
	"github.com/cabinet-fe/MiniDevOps/internal/dao"
	"github.com/cabinet-fe/MiniDevOps/internal/model"
	"github.com/cabinet-fe/MiniDevOps/internal/runner"
)

var (
	ErrTaskNotFound            = errors.New("task not found")
	ErrRepositoryMissing       = errors.New("repository missing")
	ErrConflictAlreadyBuilding = errors.New("task is already building")
	ErrNoActiveBuild           = errors.New("no active build")
	ErrOrchestratorStopped     = errors.New("build orchestrator is not running")
)

// TaskLookup resolves everything a build needs about a task.
type TaskLookup interface {
	GetBuildSpec(ctx context.Context, id uint) (*model.BuildSpec, error)
}

// Checkouter discards local changes, switches to branch and pulls.
type Checkouter interface {
	Checkout(ctx context.Context, dir, branch string) error
}

// StepRunner runs the steps of one build.
type StepRunner interface {
	Run(ctx context.Context, steps []string, dir string, out io.Writer) runner.Outcome
}

// execution is one running build. It lives in running from register to completion.
type execution struct {
	id      uint
	spec    *model.BuildSpec
	buildID string
	handle  *cancellation.Handle
	started time.Time

	// progressCleared is set by whichever of stopBuild and completion removed the id first.
	progressCleared bool
}

// BuildOrchestrator starts, stops and completes builds. Every accepted build
// runs in a supervised goroutine and finishes through complete exactly once.
type BuildOrchestrator struct {
	*core.BaseComponent
	Tasks TaskLookup          `infra:"dep:task_dao"`
	Git   Checkouter          `infra:"dep:git_client"`
	Hub   *BuildHub           `infra:"dep:build_hub"`
	Prom  *promcomp.Component `infra:"dep:prometheus?"`

	cfg     *config.BuildHubConfig
	runner  StepRunner
	reg     *cancellation.Registry[uint]
	sem     *semaphore.Weighted
	metrics *buildMetrics
	dirOK   func(path string) bool

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	// mu serialises register+progress-add, stopBuild and completion so the
	// progress set always matches the registry.
	mu      sync.Mutex
	running map[uint]*execution
	closing bool
}

func NewBuildOrchestrator(cfg *config.BuildHubConfig) *BuildOrchestrator {
	cfg.ApplyDefaults()
	o := &BuildOrchestrator{
		BaseComponent: core.NewBaseComponent(consts.COMP_SVC_ORCHESTRATOR, appconsts.COMPONENT_LOGGING),
		cfg:           cfg,
		runner:        runner.New(cfg.Shell, cfg.KillGracePeriod, cfg.StepTimeout),
		reg:           cancellation.NewRegistry[uint](),
		dirOK:         isDir,
		running:       make(map[uint]*execution),
	}
	if cfg.MaxConcurrentBuild > 0 {
		o.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrentBuild))
	}
	return o
}

func isDir(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.IsDir()
}

func (o *BuildOrchestrator) Start(ctx context.Context) error {
	if err := o.BaseComponent.Start(ctx); err != nil {
		return err
	}
	// Start 的 ctx 在返回后即被取消, 构建需要独立的根 context
	o.baseCtx, o.baseCancel = context.WithCancel(context.Background())
	o.metrics = newBuildMetrics(o.Prom)
	o.mu.Lock()
	o.closing = false
	o.mu.Unlock()
	logging.Info(ctx, "build orchestrator started",
		zap.Int("max_concurrent_builds", o.cfg.MaxConcurrentBuild),
		zap.Duration("step_timeout", o.cfg.StepTimeout),
		zap.Duration("build_timeout", o.cfg.BuildTimeout))
	return nil
}

// Stop cancels every active build and waits for their completion paths.
func (o *BuildOrchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	o.closing = true
	o.mu.Unlock()

	if n := o.reg.CancelAll(); n > 0 {
		logging.Info(ctx, "cancelling active builds", zap.Int("count", n))
	}
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("wait for builds: %w", ctx.Err())
	}
	if o.baseCancel != nil {
		o.baseCancel()
	}
	_ = o.BaseComponent.Stop(ctx)
	return err
}

// StartBuild accepts a build for task id and returns its build id. The
// checkout and steps run asynchronously.
func (o *BuildOrchestrator) StartBuild(ctx context.Context, id uint) (string, error) {
	spec, err := o.Tasks.GetBuildSpec(ctx, id)
	if err != nil {
		if errors.Is(err, dao.ErrNotFound) {
			return "", fmt.Errorf("%w: %d", ErrTaskNotFound, id)
		}
		return "", fmt.Errorf("load task %d: %w", id, err)
	}
	if spec.RepoLocalPath == "" || !o.dirOK(spec.RepoLocalPath) {
		return "", fmt.Errorf("%w: %q", ErrRepositoryMissing, spec.RepoLocalPath)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closing || o.baseCtx == nil {
		return "", ErrOrchestratorStopped
	}
	ex := &execution{
		id:      id,
		spec:    spec,
		buildID: uuid.NewString(),
		handle:  cancellation.NewHandle(o.baseCtx),
		started: time.Now(),
	}
	if err := o.reg.Register(id, ex.handle); err != nil {
		ex.handle.Release()
		return "", fmt.Errorf("%w: %d", ErrConflictAlreadyBuilding, id)
	}
	o.running[id] = ex
	if err := o.Hub.AddProgress(id); err != nil {
		logging.Error(ctx, "publish progress failed", zap.Uint("task_id", id), zap.Error(err))
	}
	o.metrics.started()
	o.wg.Add(1)
	go o.execute(ex)

	logging.Info(ctx, "build accepted", zap.Uint("task_id", id), zap.String("build_id", ex.buildID))
	return ex.buildID, nil
}

// StopBuild cancels the live build of task id. The terminal result is still
// published by the build's own completion path.
func (o *BuildOrchestrator) StopBuild(ctx context.Context, id uint) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.reg.Cancel(id) {
		return ErrNoActiveBuild
	}
	if ex := o.running[id]; ex != nil && !ex.progressCleared {
		ex.progressCleared = true
		if err := o.Hub.RemoveProgress(id); err != nil {
			logging.Error(ctx, "publish progress failed", zap.Uint("task_id", id), zap.Error(err))
		}
	}
	logging.Info(ctx, "build stop requested", zap.Uint("task_id", id))
	return nil
}

// Building reports whether task id has a registered execution.
func (o *BuildOrchestrator) Building(id uint) bool { return o.reg.Active(id) }

func (o *BuildOrchestrator) execute(ex *execution) {
	defer o.wg.Done()

	ctx := ex.handle.Context()
	if d := o.cfg.BuildTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, d, fmt.Errorf("build %w after %s", runner.ErrTimeout, d))
		defer cancel()
	}
	ctx, span := otel.Tracer("minidevops/build").Start(ctx, "build",
		trace.WithAttributes(
			attribute.Int64("task.id", int64(ex.id)),
			attribute.String("task.name", ex.spec.Name),
			attribute.String("build.id", ex.buildID)))
	defer span.End()

	out := o.buildLog(ex)
	defer out.Close()

	outcome := o.run(ctx, ex, out)
	fmt.Fprintf(out, "== %s", outcome.Status)
	if d := outcome.Detail(); d != "" && outcome.Status != runner.Succeeded {
		fmt.Fprintf(out, ": %s", d)
	}
	fmt.Fprintf(out, " (%s) ==\n", time.Since(ex.started).Round(time.Millisecond))

	if outcome.Status != runner.Succeeded {
		span.SetStatus(codes.Error, outcome.Detail())
	}
	o.complete(ctx, ex, outcome)
}

func (o *BuildOrchestrator) run(ctx context.Context, ex *execution, out io.Writer) runner.Outcome {
	if o.sem != nil {
		if err := o.sem.Acquire(ctx, 1); err != nil {
			return runner.Interrupted(ctx, -1)
		}
		defer o.sem.Release(1)
	}
	fmt.Fprintf(out, "== build %s task %d %q branch %s ==\n", ex.buildID, ex.id, ex.spec.Name, ex.spec.BranchName)
	if err := o.Git.Checkout(ctx, ex.spec.RepoLocalPath, ex.spec.BranchName); err != nil {
		if ctx.Err() != nil {
			return runner.Interrupted(ctx, -1)
		}
		fmt.Fprintf(out, "checkout failed: %v\n", err)
		return runner.Outcome{Status: runner.Failed, StepIndex: -1, Err: fmt.Errorf("checkout: %w", err)}
	}
	return o.runner.Run(ctx, ex.spec.Steps, ex.spec.RepoLocalPath, out)
}

// complete is the single terminal path of an execution.
func (o *BuildOrchestrator) complete(ctx context.Context, ex *execution, outcome runner.Outcome) {
	id := ex.id
	rec := ResultRecord{TaskName: ex.spec.Name, Status: consts.ResultSuccess}
	if outcome.Status != runner.Succeeded {
		rec.Status = consts.ResultError
		rec.Error = outcome.Detail()
	}

	// 结果先于 progress 移除发布
	o.mu.Lock()
	if err := o.Hub.PublishResult(id, rec); err != nil {
		logging.Error(ctx, "publish result failed", zap.Uint("task_id", id), zap.Error(err))
	}
	if !ex.progressCleared {
		ex.progressCleared = true
		if err := o.Hub.RemoveProgress(id); err != nil {
			logging.Error(ctx, "publish progress failed", zap.Uint("task_id", id), zap.Error(err))
		}
	}
	o.reg.Unregister(id, ex.handle)
	if o.running[id] == ex {
		delete(o.running, id)
	}
	o.mu.Unlock()
	ex.handle.Release()

	elapsed := time.Since(ex.started)
	o.metrics.finished(outcome.Status.String(), elapsed.Seconds())
	fields := []zap.Field{
		zap.Uint("task_id", id),
		zap.String("build_id", ex.buildID),
		zap.String("status", outcome.Status.String()),
		zap.Duration("elapsed", elapsed),
	}
	if outcome.Status == runner.Succeeded {
		logging.Info(ctx, "build finished", fields...)
		return
	}
	fields = append(fields, zap.Int("step", outcome.StepIndex), zap.String("detail", rec.Error))
	logging.Warn(ctx, "build finished", fields...)
}

// buildLog opens <log_dir>/task_<id>/build_<build-id>.log. Failure to open it
// only loses the log, never the build.
func (o *BuildOrchestrator) buildLog(ex *execution) io.WriteCloser {
	path := filepath.Join(o.cfg.LogDir, fmt.Sprintf("task_%d", ex.id), fmt.Sprintf("build_%s.log", ex.buildID))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		logging.Warn(context.Background(), "build log unavailable", zap.String("path", path), zap.Error(err))
		return nopWriteCloser{}
	}
	return &lumberjack.Logger{Filename: path, MaxSize: o.cfg.BuildLogMaxSizeMB, LocalTime: true}
}

type nopWriteCloser struct{}

func (nopWriteCloser) Write(p []byte) (int, error) { return len(p), nil }
func (nopWriteCloser) Close() error                { return nil }
