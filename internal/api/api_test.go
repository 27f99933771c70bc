package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/cabinet-fe/MiniDevOps/internal/application/core"
	"github.com/cabinet-fe/MiniDevOps/internal/dao"
	"github.com/cabinet-fe/MiniDevOps/internal/gitops"
	"github.com/cabinet-fe/MiniDevOps/internal/model"
	"github.com/cabinet-fe/MiniDevOps/internal/pubsub"
	"github.com/cabinet-fe/MiniDevOps/internal/service"
)

type stubBuilds struct {
	mu       sync.Mutex
	startErr error
	stopErr  error
}

func (s *stubBuilds) set(start, stop error) {
	s.mu.Lock()
	s.startErr, s.stopErr = start, stop
	s.mu.Unlock()
}

func (s *stubBuilds) StartBuild(_ context.Context, _ uint) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return "", s.startErr
	}
	return "b-1", nil
}

func (s *stubBuilds) StopBuild(_ context.Context, _ uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopErr
}

type stubTaskDao struct {
	*core.BaseComponent
	mu       sync.Mutex
	tasks    map[uint]*model.Task
	lastPage [2]int
}

func (d *stubTaskDao) Create(_ context.Context, t *model.Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t.ID = uint(len(d.tasks) + 1)
	d.tasks[t.ID] = t
	return nil
}

func (d *stubTaskDao) Get(_ context.Context, id uint) (*model.Task, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %d: %w", id, dao.ErrNotFound)
	}
	return t, nil
}

func (d *stubTaskDao) Page(_ context.Context, page, size int) (*model.Page[*model.Task], error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastPage = [2]int{page, size}
	out := &model.Page[*model.Task]{Rows: []*model.Task{}}
	for _, t := range d.tasks {
		out.Rows = append(out.Rows, t)
	}
	out.Total = int64(len(out.Rows))
	return out, nil
}

func (d *stubTaskDao) pageArgs() [2]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastPage
}

func (d *stubTaskDao) GetBuildSpec(context.Context, uint) (*model.BuildSpec, error) {
	return nil, dao.ErrNotFound
}

type stubRepoDao struct {
	*core.BaseComponent
	repos map[uint]*model.Repository
}

func (d *stubRepoDao) Create(_ context.Context, r *model.Repository) error {
	r.ID = uint(len(d.repos) + 1)
	d.repos[r.ID] = r
	return nil
}

func (d *stubRepoDao) Get(_ context.Context, id uint) (*model.Repository, error) {
	r, ok := d.repos[id]
	if !ok {
		return nil, dao.ErrNotFound
	}
	return r, nil
}

func (d *stubRepoDao) Page(context.Context, int, int) (*model.Page[*model.Repository], error) {
	return &model.Page[*model.Repository]{Rows: []*model.Repository{}}, nil
}

type stubCloner struct {
	mu    sync.Mutex
	err   error
	dests []string
	creds []string
}

func (c *stubCloner) Clone(_ context.Context, address, username, password, dest string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dests = append(c.dests, dest)
	c.creds = append(c.creds, username+":"+password+"@"+address)
	return c.err
}

func (c *stubCloner) failWith(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

func (c *stubCloner) first() (string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dests[0], c.creds[0]
}

type harness struct {
	srv    *httptest.Server
	builds *stubBuilds
	hub    *service.BuildHub
	tasks  *stubTaskDao
	repos  *stubRepoDao
	git    *stubCloner
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	hub, err := service.NewBuildHub()
	if err != nil {
		t.Fatalf("hub: %v", err)
	}
	h := &harness{
		builds: &stubBuilds{},
		hub:    hub,
		tasks:  &stubTaskDao{BaseComponent: core.NewBaseComponent("task_dao"), tasks: map[uint]*model.Task{}},
		repos:  &stubRepoDao{BaseComponent: core.NewBaseComponent("repo_dao"), repos: map[uint]*model.Repository{}},
		git:    &stubCloner{},
	}
	build := NewBuildController()
	build.Builds, build.Hub = h.builds, hub
	task := NewTaskController()
	task.Tasks = h.tasks
	repo := NewRepoController("/srv/workspace")
	repo.Repos, repo.Git = h.repos, h.git
	ws := NewWSController(time.Second, time.Second, 0)
	ws.Hub = hub

	r := chi.NewRouter()
	Mount(r, build, task, repo, ws)
	h.srv = httptest.NewServer(r)
	t.Cleanup(h.srv.Close)
	return h
}

func (h *harness) do(t *testing.T, method, path, body string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, h.srv.URL+path, bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, strings.TrimSpace(string(raw))
}

func TestBuildStatusMapping(t *testing.T) {
	h := newHarness(t)
	cases := []struct {
		err  error
		code int
	}{
		{nil, http.StatusOK},
		{fmt.Errorf("%w: 3", service.ErrTaskNotFound), http.StatusNotFound},
		{service.ErrRepositoryMissing, http.StatusUnprocessableEntity},
		{service.ErrConflictAlreadyBuilding, http.StatusConflict},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		h.builds.set(c.err, nil)
		code, body := h.do(t, http.MethodPost, "/api/tasks/3/build", "")
		if code != c.code {
			t.Errorf("err %v: status %d, want %d (%s)", c.err, code, c.code, body)
		}
		if c.err == nil && body != `{"msg":"accepted","data":{"buildId":"b-1"}}` {
			t.Errorf("accepted body = %s", body)
		}
	}
	if code, _ := h.do(t, http.MethodPost, "/api/tasks/abc/build", ""); code != http.StatusBadRequest {
		t.Fatalf("bad id status = %d", code)
	}
}

func TestStopBuildResponses(t *testing.T) {
	h := newHarness(t)
	if code, body := h.do(t, http.MethodPost, "/api/tasks/1/stop-build", ""); code != 200 || body != `{"msg":"stopping"}` {
		t.Fatalf("stop = %d %s", code, body)
	}
	h.builds.set(nil, service.ErrNoActiveBuild)
	if code, body := h.do(t, http.MethodPost, "/api/tasks/1/stop-build", ""); code != 200 || body != `{"msg":"no active build"}` {
		t.Fatalf("idle stop = %d %s", code, body)
	}
}

func TestIntrospection(t *testing.T) {
	h := newHarness(t)
	if _, body := h.do(t, http.MethodGet, "/api/tasks/building", ""); body != `{"msg":"ok","data":[]}` {
		t.Fatalf("empty building = %s", body)
	}
	_ = h.hub.AddProgress(5)
	_ = h.hub.AddProgress(2)
	if _, body := h.do(t, http.MethodGet, "/api/tasks/building", ""); body != `{"msg":"ok","data":[2,5]}` {
		t.Fatalf("building = %s", body)
	}
	if _, body := h.do(t, http.MethodGet, "/api/tasks/result", ""); body != `{"msg":"ok","data":{}}` {
		t.Fatalf("initial result = %s", body)
	}
	if code, _ := h.do(t, http.MethodGet, "/api/tasks/2/result", ""); code != http.StatusNotFound {
		t.Fatalf("missing task result status = %d", code)
	}
	_ = h.hub.PublishResult(2, service.ResultRecord{TaskName: "web", Status: "error", Error: "cancelled"})
	want := `{"msg":"ok","data":{"taskName":"web","status":"error","error":"cancelled"}}`
	if _, body := h.do(t, http.MethodGet, "/api/tasks/result", ""); body != want {
		t.Fatalf("result = %s", body)
	}
	if _, body := h.do(t, http.MethodGet, "/api/tasks/2/result", ""); body != want {
		t.Fatalf("task result = %s", body)
	}
}

func TestTaskEndpoints(t *testing.T) {
	h := newHarness(t)
	if code, _ := h.do(t, http.MethodPost, "/api/tasks", `{"name":"","repo_id":1}`); code != http.StatusBadRequest {
		t.Fatalf("invalid create status = %d", code)
	}
	code, body := h.do(t, http.MethodPost, "/api/tasks", `{"name":"web","repo_id":1,"branch_name":"main","steps":["make"]}`)
	if code != http.StatusOK || !strings.Contains(body, `"msg":"created"`) {
		t.Fatalf("create = %d %s", code, body)
	}
	if code, _ := h.do(t, http.MethodGet, "/api/tasks/42", ""); code != http.StatusNotFound {
		t.Fatalf("missing task status = %d", code)
	}
	_, body = h.do(t, http.MethodGet, "/api/tasks/page?page=2&size=5", "")
	var resp struct {
		Msg  string                  `json:"msg"`
		Data model.Page[*model.Task] `json:"data"`
	}
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatalf("decode page: %v (%s)", err, body)
	}
	if resp.Data.Total != 1 || resp.Data.Rows[0].Name != "web" || h.tasks.pageArgs() != [2]int{2, 5} {
		t.Fatalf("page = %+v, args = %v", resp.Data, h.tasks.pageArgs())
	}
}

func TestRepoCloneUsesLocalPath(t *testing.T) {
	h := newHarness(t)
	code, body := h.do(t, http.MethodPost, "/api/repos", `{"name":"app","address":"gitee.com/org/app.git","username":"bob","pwd":"s3"}`)
	if code != http.StatusOK || strings.Contains(body, "s3") {
		t.Fatalf("create = %d %s", code, body)
	}
	if code, body := h.do(t, http.MethodPost, "/api/repos/1/clone", ""); code != http.StatusOK {
		t.Fatalf("clone = %d %s", code, body)
	}
	if dest, creds := h.git.first(); dest != filepath.Join("/srv/workspace", "app") || creds != "bob:s3@gitee.com/org/app.git" {
		t.Fatalf("clone args = %s %s", dest, creds)
	}
	h.git.failWith(fmt.Errorf("%w: /srv/workspace/app", gitops.ErrDestinationExists))
	if code, _ := h.do(t, http.MethodPost, "/api/repos/1/clone", ""); code != http.StatusConflict {
		t.Fatalf("existing destination status = %d", code)
	}
	if code, _ := h.do(t, http.MethodPost, "/api/repos/9/clone", ""); code != http.StatusNotFound {
		t.Fatalf("unknown repo status = %d", code)
	}
}

func waitPool(t *testing.T, hub *service.BuildHub, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for hub.Pool().Len() != n {
		if time.Now().After(deadline) {
			t.Fatalf("pool size = %d, want %d", hub.Pool().Len(), n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWebsocketHandshakeAndPush(t *testing.T) {
	h := newHarness(t)
	_ = h.hub.AddProgress(7)

	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws/tasks/progress"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	if err := ws.WriteMessage(websocket.TextMessage, []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if h.hub.Pool().Len() != 0 {
		t.Fatalf("only the connect handshake may join the pool")
	}
	if err := ws.WriteMessage(websocket.TextMessage, []byte("connect")); err != nil {
		t.Fatalf("write: %v", err)
	}
	read := func() string {
		t.Helper()
		_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		return string(msg)
	}
	if got := read(); got != `{"type":"progress","data":[7]}` {
		t.Fatalf("progress snapshot = %s", got)
	}
	if got := read(); got != `{"type":"result","data":{}}` {
		t.Fatalf("result snapshot = %s", got)
	}
	waitPool(t, h.hub, 1)

	// a repeated handshake is ignored
	if err := ws.WriteMessage(websocket.TextMessage, []byte("connect")); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	_ = h.hub.AddProgress(8)
	if got := read(); got != `{"type":"progress","data":[7,8]}` {
		t.Fatalf("push = %s", got)
	}

	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = ws.Close()
	waitPool(t, h.hub, 0)
}

func TestStalledSubscriberIsEvictedWithoutBlocking(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	var closed atomic.Bool
	stalled := newQueuedConn("stalled", 2, func([]byte) error {
		<-release
		return nil
	}, func() error {
		closed.Store(true)
		return nil
	})

	topic, err := pubsub.NewTopic(0, func(n int) ([]byte, error) { return []byte(strconv.Itoa(n)), nil })
	if err != nil {
		t.Fatalf("topic: %v", err)
	}
	pool := pubsub.NewPool()
	topic.Subscribe(pool)
	if err := pool.Add(stalled); err != nil {
		t.Fatalf("add: %v", err)
	}

	start := time.Now()
	for i := 0; i < 10; i++ {
		if err := topic.Update(func(n int) int { return n + 1 }); err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("updates blocked for %s", elapsed)
	}
	if pool.Len() != 0 || !closed.Load() {
		t.Fatalf("stalled subscriber still in pool (len %d, closed %v)", pool.Len(), closed.Load())
	}
	if err := stalled.Send([]byte("late")); !errors.Is(err, errConnClosed) {
		t.Fatalf("send after close err = %v", err)
	}
}

func TestWriteFailureClosesConn(t *testing.T) {
	closedCh := make(chan struct{})
	c := newQueuedConn("broken", 4, func([]byte) error {
		return errors.New("broken pipe")
	}, func() error {
		close(closedCh)
		return nil
	})
	if err := c.Send([]byte("x")); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case <-closedCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("failed write did not close the connection")
	}
	_ = c.Close()
}
