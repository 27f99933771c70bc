//go:build !windows

package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	promcomp "github.com/cabinet-fe/MiniDevOps/internal/application/components/prometheus"
	"github.com/cabinet-fe/MiniDevOps/internal/config"
	"github.com/cabinet-fe/MiniDevOps/internal/dao"
	"github.com/cabinet-fe/MiniDevOps/internal/gitops"
	"github.com/cabinet-fe/MiniDevOps/internal/model"
	"github.com/cabinet-fe/MiniDevOps/internal/runner"
)

type stubTasks struct {
	specs map[uint]*model.BuildSpec
}

func (s *stubTasks) GetBuildSpec(_ context.Context, id uint) (*model.BuildSpec, error) {
	spec, ok := s.specs[id]
	if !ok {
		return nil, dao.ErrNotFound
	}
	cp := *spec
	return &cp, nil
}

type stubGit struct {
	mu       sync.Mutex
	err      error
	branches []string
}

func (g *stubGit) Checkout(_ context.Context, _, branch string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.branches = append(g.branches, branch)
	return g.err
}

type countingRunner struct {
	inner StepRunner
	calls atomic.Int32
}

func (c *countingRunner) Run(ctx context.Context, steps []string, dir string, out io.Writer) runner.Outcome {
	c.calls.Add(1)
	return c.inner.Run(ctx, steps, dir, out)
}

type recConn struct {
	id   string
	mu   sync.Mutex
	msgs []string
}

func (c *recConn) ID() string { return c.id }
func (c *recConn) Send(msg []byte) error {
	c.mu.Lock()
	c.msgs = append(c.msgs, string(msg))
	c.mu.Unlock()
	return nil
}
func (c *recConn) Close() error { return nil }

func (c *recConn) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.msgs...)
}

type wireMsg struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (c *recConn) ofType(t *testing.T, typ string) []string {
	t.Helper()
	var out []string
	for _, raw := range c.messages() {
		var m wireMsg
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			t.Fatalf("bad payload %q: %v", raw, err)
		}
		if m.Type == typ {
			out = append(out, string(m.Data))
		}
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

type fixture struct {
	o      *BuildOrchestrator
	hub    *BuildHub
	tasks  *stubTasks
	git    *stubGit
	runner *countingRunner
	conn   *recConn
	repo   string
	cfg    *config.BuildHubConfig
}

func newFixture(t *testing.T, cfg *config.BuildHubConfig) *fixture {
	t.Helper()
	if cfg == nil {
		cfg = &config.BuildHubConfig{}
	}
	cfg.LogDir = t.TempDir()
	if cfg.KillGracePeriod == 0 {
		cfg.KillGracePeriod = 300 * time.Millisecond
	}
	hub, err := NewBuildHub()
	if err != nil {
		t.Fatalf("hub: %v", err)
	}
	f := &fixture{
		hub:   hub,
		tasks: &stubTasks{specs: map[uint]*model.BuildSpec{}},
		git:   &stubGit{},
		conn:  &recConn{id: "observer"},
		repo:  t.TempDir(),
		cfg:   cfg,
	}
	f.o = NewBuildOrchestrator(cfg)
	f.runner = &countingRunner{inner: f.o.runner}
	f.o.runner = f.runner
	f.o.Tasks = f.tasks
	f.o.Git = f.git
	f.o.Hub = hub
	if err := hub.Pool().Add(f.conn); err != nil {
		t.Fatalf("add observer: %v", err)
	}
	if err := f.o.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = f.o.Stop(ctx)
	})
	return f
}

func (f *fixture) task(id uint, name string, steps ...string) {
	f.tasks.specs[id] = &model.BuildSpec{ID: id, Name: name, BranchName: "origin/main", Steps: steps, RepoLocalPath: f.repo}
}

func (f *fixture) waitResult(t *testing.T, id uint) ResultRecord {
	t.Helper()
	var rec ResultRecord
	waitFor(t, "result", func() bool {
		var ok bool
		rec, ok = f.hub.TaskResult(id)
		return ok
	})
	return rec
}

func TestStartBuildRejections(t *testing.T) {
	f := newFixture(t, nil)
	f.tasks.specs[2] = &model.BuildSpec{ID: 2, Name: "gone", RepoLocalPath: filepath.Join(f.repo, "missing")}

	if _, err := f.o.StartBuild(context.Background(), 9); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("unknown task err = %v", err)
	}
	if _, err := f.o.StartBuild(context.Background(), 2); !errors.Is(err, ErrRepositoryMissing) {
		t.Fatalf("missing repo err = %v", err)
	}
	if err := f.o.StopBuild(context.Background(), 2); !errors.Is(err, ErrNoActiveBuild) {
		t.Fatalf("stop idle err = %v", err)
	}
	if got := f.conn.messages(); len(got) != 2 {
		t.Fatalf("observer should only hold the join snapshot, got %v", got)
	}
	if len(f.hub.Building()) != 0 || f.runner.calls.Load() != 0 {
		t.Fatalf("state changed: building=%v runs=%d", f.hub.Building(), f.runner.calls.Load())
	}
}

func TestFailingStepStopsBuild(t *testing.T) {
	f := newFixture(t, nil)
	f.task(1, "web", "echo 1", "exit 1", "touch step3")

	if _, err := f.o.StartBuild(context.Background(), 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	rec := f.waitResult(t, 1)
	if rec.Status != "error" || !strings.Contains(rec.Error, "step 2") {
		t.Fatalf("result = %+v", rec)
	}
	waitFor(t, "progress cleared", func() bool { return len(f.hub.Building()) == 0 })

	if _, err := os.Stat(filepath.Join(f.repo, "step3")); !os.IsNotExist(err) {
		t.Fatalf("step 3 must not run, stat err = %v", err)
	}
	want := []string{
		`{"type":"progress","data":[]}`,
		`{"type":"result","data":{}}`,
		`{"type":"progress","data":[1]}`,
	}
	got := f.conn.messages()
	if len(got) != 5 {
		t.Fatalf("messages = %v", got)
	}
	for i, w := range want {
		if got[i] != w {
			t.Fatalf("message %d = %s, want %s", i, got[i], w)
		}
	}
	if !strings.HasPrefix(got[3], `{"type":"result","data":{"taskName":"web","status":"error"`) {
		t.Fatalf("message 3 = %s", got[3])
	}
	if got[4] != `{"type":"progress","data":[]}` {
		t.Fatalf("message 4 = %s", got[4])
	}
	if len(f.git.branches) != 1 || f.git.branches[0] != "origin/main" {
		t.Fatalf("checkout calls = %v", f.git.branches)
	}
}

func TestSuccessfulBuildWritesLog(t *testing.T) {
	f := newFixture(t, nil)
	f.task(4, "api", "echo hello-log")

	buildID, err := f.o.StartBuild(context.Background(), 4)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	rec := f.waitResult(t, 4)
	if rec.Status != "success" || rec.Error != "" {
		t.Fatalf("result = %+v", rec)
	}
	raw, err := os.ReadFile(filepath.Join(f.cfg.LogDir, "task_4", "build_"+buildID+".log"))
	if err != nil {
		t.Fatalf("read build log: %v", err)
	}
	for _, want := range []string{"$ echo hello-log", "hello-log\n", "== succeeded"} {
		if !strings.Contains(string(raw), want) {
			t.Fatalf("log missing %q:\n%s", want, raw)
		}
	}
}

func TestConflictAndStop(t *testing.T) {
	f := newFixture(t, nil)
	f.task(1, "slow", "sleep 5")

	if _, err := f.o.StartBuild(context.Background(), 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.o.StartBuild(context.Background(), 1); !errors.Is(err, ErrConflictAlreadyBuilding) {
		t.Fatalf("second start err = %v", err)
	}
	if got := f.hub.Building(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("building = %v", got)
	}
	waitFor(t, "step running", func() bool { return f.runner.calls.Load() == 1 })
	time.Sleep(100 * time.Millisecond)

	stopped := time.Now()
	if err := f.o.StopBuild(context.Background(), 1); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if len(f.hub.Building()) != 0 {
		t.Fatalf("stop should clear progress immediately")
	}
	if err := f.o.StopBuild(context.Background(), 1); !errors.Is(err, ErrNoActiveBuild) {
		t.Fatalf("second stop err = %v", err)
	}
	rec := f.waitResult(t, 1)
	if elapsed := time.Since(stopped); elapsed > 3*time.Second {
		t.Fatalf("cancel took %s", elapsed)
	}
	if rec.Status != "error" || rec.Error != "cancelled" {
		t.Fatalf("result = %+v", rec)
	}
	waitFor(t, "unregistered", func() bool { return !f.o.Building(1) })

	if n := len(f.conn.ofType(t, "result")); n != 2 {
		t.Fatalf("result publishes = %d, want snapshot + 1", n)
	}
	progress := f.conn.ofType(t, "progress")
	if len(progress) != 3 || progress[1] != "[1]" || progress[2] != "[]" {
		t.Fatalf("progress publishes = %v", progress)
	}
	if f.runner.calls.Load() != 1 {
		t.Fatalf("runner calls = %d", f.runner.calls.Load())
	}
}

func TestStopDuringCheckoutIsBounded(t *testing.T) {
	f := newFixture(t, nil)
	dir := t.TempDir()
	bin := filepath.Join(dir, "git")
	// pull hangs in a background child that keeps the stderr pipe open
	script := "#!/bin/sh\nif [ \"$1\" = pull ]; then sleep 20 & wait; fi\n"
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake git: %v", err)
	}
	f.o.Git = gitops.NewClient(bin, f.cfg.KillGracePeriod)
	f.task(1, "fetching", "touch built")

	if _, err := f.o.StartBuild(context.Background(), 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(500 * time.Millisecond)
	stopped := time.Now()
	if err := f.o.StopBuild(context.Background(), 1); err != nil {
		t.Fatalf("stop: %v", err)
	}
	rec := f.waitResult(t, 1)
	if elapsed := time.Since(stopped); elapsed > 3*time.Second {
		t.Fatalf("terminal result %s after stop", elapsed)
	}
	if rec.Status != "error" || rec.Error != "cancelled" {
		t.Fatalf("result = %+v", rec)
	}
	if f.runner.calls.Load() != 0 {
		t.Fatalf("steps must not run after a cancelled checkout")
	}
}

func TestCheckoutFailureIsReported(t *testing.T) {
	f := newFixture(t, nil)
	f.git.err = errors.New("git checkout dev: error: pathspec 'dev' did not match")
	f.task(3, "lib", "touch built")

	if _, err := f.o.StartBuild(context.Background(), 3); err != nil {
		t.Fatalf("start: %v", err)
	}
	rec := f.waitResult(t, 3)
	if rec.Status != "error" || !strings.Contains(rec.Error, "checkout") || !strings.Contains(rec.Error, "pathspec") {
		t.Fatalf("result = %+v", rec)
	}
	if f.runner.calls.Load() != 0 {
		t.Fatalf("steps must not run after a failed checkout")
	}
}

func TestBuildTimeout(t *testing.T) {
	f := newFixture(t, &config.BuildHubConfig{BuildTimeout: 300 * time.Millisecond})
	f.task(5, "hang", "sleep 5")

	if _, err := f.o.StartBuild(context.Background(), 5); err != nil {
		t.Fatalf("start: %v", err)
	}
	rec := f.waitResult(t, 5)
	if rec.Status != "error" || !strings.Contains(rec.Error, "build timed out") {
		t.Fatalf("result = %+v", rec)
	}
}

func TestConcurrencyBoundQueuesBuilds(t *testing.T) {
	f := newFixture(t, &config.BuildHubConfig{MaxConcurrentBuild: 1})
	f.task(1, "first", "sleep 5")
	f.task(2, "second", "echo done")

	if _, err := f.o.StartBuild(context.Background(), 1); err != nil {
		t.Fatalf("start 1: %v", err)
	}
	waitFor(t, "first running", func() bool { return f.runner.calls.Load() == 1 })
	if _, err := f.o.StartBuild(context.Background(), 2); err != nil {
		t.Fatalf("start 2: %v", err)
	}
	if got := f.hub.Building(); len(got) != 2 {
		t.Fatalf("both builds should be in progress, got %v", got)
	}
	time.Sleep(200 * time.Millisecond)
	if _, ok := f.hub.TaskResult(2); ok {
		t.Fatalf("second build ran past the bound")
	}
	if err := f.o.StopBuild(context.Background(), 1); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if rec := f.waitResult(t, 2); rec.Status != "success" {
		t.Fatalf("second result = %+v", rec)
	}
}

func TestStopCancelsEverythingAndWaits(t *testing.T) {
	f := newFixture(t, nil)
	f.task(1, "a", "sleep 5")
	f.task(2, "b", "sleep 5")
	for _, id := range []uint{1, 2} {
		if _, err := f.o.StartBuild(context.Background(), id); err != nil {
			t.Fatalf("start %d: %v", id, err)
		}
	}
	waitFor(t, "both running", func() bool { return f.runner.calls.Load() == 2 })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.o.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	for _, id := range []uint{1, 2} {
		rec, ok := f.hub.TaskResult(id)
		if !ok || rec.Error != "cancelled" {
			t.Fatalf("task %d result = %+v, %v", id, rec, ok)
		}
	}
	if len(f.hub.Building()) != 0 {
		t.Fatalf("building = %v", f.hub.Building())
	}
	if _, err := f.o.StartBuild(context.Background(), 1); !errors.Is(err, ErrOrchestratorStopped) {
		t.Fatalf("start after stop err = %v", err)
	}
}

func TestHubSnapshotAndIntrospection(t *testing.T) {
	hub, err := NewBuildHub()
	if err != nil {
		t.Fatalf("hub: %v", err)
	}
	if hub.LastResult() != nil {
		t.Fatalf("no result expected yet")
	}
	_ = hub.AddProgress(3)
	_ = hub.AddProgress(1)
	_ = hub.PublishResult(3, ResultRecord{TaskName: "x", Status: "success"})
	_ = hub.PublishResult(1, ResultRecord{TaskName: "y", Status: "error", Error: "boom"})

	late := &recConn{id: "late"}
	if err := hub.Pool().Add(late); err != nil {
		t.Fatalf("add: %v", err)
	}
	want := []string{
		`{"type":"progress","data":[1,3]}`,
		`{"type":"result","data":{"taskName":"y","status":"error","error":"boom"}}`,
	}
	got := late.messages()
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("snapshot = %v", got)
	}
	if rec, ok := hub.TaskResult(3); !ok || rec.TaskName != "x" {
		t.Fatalf("per-task result = %+v %v", rec, ok)
	}
	if last := hub.LastResult(); last == nil || last.TaskName != "y" {
		t.Fatalf("last = %+v", last)
	}
}

func TestResultMirrorForwardsBroadcasts(t *testing.T) {
	hub, err := NewBuildHub()
	if err != nil {
		t.Fatalf("hub: %v", err)
	}
	type write struct{ key, payload string }
	writes := make(chan write, 16)
	m := NewResultMirror("md")
	m.Hub = hub
	m.sink = func(_ context.Context, key string, payload []byte) error {
		writes <- write{key, string(payload)}
		return nil
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	_ = hub.AddProgress(5)
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	close(writes)

	var got []write
	for w := range writes {
		got = append(got, w)
	}
	want := []write{
		{"md:progress", `{"type":"progress","data":[]}`},
		{"md:result", `{"type":"result","data":{}}`},
		{"md:progress", `{"type":"progress","data":[5]}`},
	}
	if len(got) != len(want) {
		t.Fatalf("writes = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("write %d = %v, want %v", i, got[i], want[i])
		}
	}
	if hub.Pool().Len() != 0 {
		t.Fatalf("mirror must not join the websocket pool")
	}
}

func TestBuildMetrics(t *testing.T) {
	p := promcomp.NewComponent(&promcomp.Config{Enabled: true, Namespace: "minidevops"})
	m := newBuildMetrics(p)
	m.started()
	m.started()
	m.finished("succeeded", 1.5)

	var metric dto.Metric
	if err := m.running.WithLabelValues().Write(&metric); err != nil {
		t.Fatalf("write gauge: %v", err)
	}
	if metric.GetGauge().GetValue() != 1 {
		t.Fatalf("running = %v", metric.GetGauge().GetValue())
	}
	metric.Reset()
	if err := m.builds.WithLabelValues("succeeded").Write(&metric); err != nil {
		t.Fatalf("write counter: %v", err)
	}
	if metric.GetCounter().GetValue() != 1 {
		t.Fatalf("builds = %v", metric.GetCounter().GetValue())
	}
	var nilMetrics *buildMetrics
	nilMetrics.started()
	nilMetrics.finished("failed", 1)
}
