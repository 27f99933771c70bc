package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	promcomp "github.com/cabinet-fe/MiniDevOps/internal/application/components/prometheus"
	appconsts "github.com/cabinet-fe/MiniDevOps/internal/application/consts"
	"github.com/cabinet-fe/MiniDevOps/internal/application/core"
	"github.com/cabinet-fe/MiniDevOps/internal/consts"
	"github.com/cabinet-fe/MiniDevOps/internal/pubsub"
)

// ResultRecord is the last observed build outcome.
type ResultRecord struct {
	TaskName string              `json:"taskName"`
	Status   consts.ResultStatus `json:"status"`
	Error    string              `json:"error,omitempty"`
}

type message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type progressSet map[uint]struct{}

func (s progressSet) sorted() []uint {
	ids := make([]uint, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func encodeProgress(s progressSet) ([]byte, error) {
	return json.Marshal(message{Type: consts.MSG_TYPE_PROGRESS, Data: s.sorted()})
}

func encodeResult(r *ResultRecord) ([]byte, error) {
	if r == nil {
		return json.Marshal(message{Type: consts.MSG_TYPE_RESULT, Data: struct{}{}})
	}
	return json.Marshal(message{Type: consts.MSG_TYPE_RESULT, Data: r})
}

// BuildHub owns the progress set, the result slot and the subscriber pool
// both are broadcast through.
type BuildHub struct {
	*core.BaseComponent
	Prom *promcomp.Component `infra:"dep:prometheus?"`

	pool     *pubsub.Pool
	progress *pubsub.Topic[progressSet]
	result   *pubsub.Topic[*ResultRecord]

	mu      sync.RWMutex
	perTask map[uint]ResultRecord
}

func NewBuildHub() (*BuildHub, error) {
	progress, err := pubsub.NewTopic(progressSet{}, encodeProgress)
	if err != nil {
		return nil, err
	}
	result, err := pubsub.NewTopic[*ResultRecord](nil, encodeResult)
	if err != nil {
		return nil, err
	}
	h := &BuildHub{
		BaseComponent: core.NewBaseComponent(consts.COMP_SVC_BUILD_HUB, appconsts.COMPONENT_LOGGING),
		pool:          pubsub.NewPool(),
		progress:      progress,
		result:        result,
		perTask:       make(map[uint]ResultRecord),
	}
	h.Attach(h.pool)
	return h, nil
}

func (h *BuildHub) Start(ctx context.Context) error {
	if err := h.BaseComponent.Start(ctx); err != nil {
		return err
	}
	if m := newBuildMetrics(h.Prom); m != nil {
		h.pool.OnResize(func(n int) { m.wsConnections.WithLabelValues().Set(float64(n)) })
	}
	return nil
}

func (h *BuildHub) Stop(ctx context.Context) error {
	for _, c := range h.pool.Connections() {
		h.pool.Remove(c)
		_ = c.Close()
	}
	return h.BaseComponent.Stop(ctx)
}

// Pool is the subscriber pool the websocket boundary adds connections to.
func (h *BuildHub) Pool() *pubsub.Pool { return h.pool }

// Attach subscribes both topics to p.
func (h *BuildHub) Attach(p *pubsub.Pool) {
	h.progress.Subscribe(p)
	h.result.Subscribe(p)
}

func (h *BuildHub) AddProgress(id uint) error {
	return h.progress.Update(func(s progressSet) progressSet {
		s[id] = struct{}{}
		return s
	})
}

func (h *BuildHub) RemoveProgress(id uint) error {
	return h.progress.Update(func(s progressSet) progressSet {
		delete(s, id)
		return s
	})
}

// PublishResult overwrites the single result slot and records rec for task id.
func (h *BuildHub) PublishResult(id uint, rec ResultRecord) error {
	h.mu.Lock()
	h.perTask[id] = rec
	h.mu.Unlock()
	if err := h.result.Update(func(*ResultRecord) *ResultRecord { return &rec }); err != nil {
		return fmt.Errorf("publish result for task %d: %w", id, err)
	}
	return nil
}

// Building returns the ids currently in progress, ascending.
func (h *BuildHub) Building() []uint {
	var ids []uint
	h.progress.View(func(s progressSet) { ids = s.sorted() })
	return ids
}

// LastResult returns nil before the first build finishes.
func (h *BuildHub) LastResult() *ResultRecord {
	var out *ResultRecord
	h.result.View(func(r *ResultRecord) {
		if r != nil {
			cp := *r
			out = &cp
		}
	})
	return out
}

func (h *BuildHub) TaskResult(id uint) (ResultRecord, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rec, ok := h.perTask[id]
	return rec, ok
}
