package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/cabinet-fe/MiniDevOps/internal/application/components/logging"
	rediscomp "github.com/cabinet-fe/MiniDevOps/internal/application/components/redis"
	appconsts "github.com/cabinet-fe/MiniDevOps/internal/application/consts"
	"github.com/cabinet-fe/MiniDevOps/internal/application/core"
	"github.com/cabinet-fe/MiniDevOps/internal/consts"
	"github.com/cabinet-fe/MiniDevOps/internal/pubsub"
)

const (
	mirrorQueueSize = 256
	mirrorTimeout   = 3 * time.Second
)

// mirrorSink writes one payload under key.
type mirrorSink func(ctx context.Context, key string, payload []byte) error

// ResultMirror republishes every hub broadcast to redis: PUBLISH on
// <prefix>:<type> and SET of the same key, so late readers can GET the latest.
// It joins its own pool so it also receives the snapshot on start.
type ResultMirror struct {
	*core.BaseComponent
	Redis *rediscomp.RedisComponent `infra:"dep:redis"`
	Hub   *BuildHub                 `infra:"dep:build_hub"`

	prefix string
	sink   mirrorSink
	pool   *pubsub.Pool
	queue  chan []byte
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewResultMirror(prefix string) *ResultMirror {
	return &ResultMirror{
		BaseComponent: core.NewBaseComponent(consts.COMP_SVC_RESULT_MIRROR, appconsts.COMPONENT_LOGGING),
		prefix:        prefix,
	}
}

func redisSink(client goredis.UniversalClient) mirrorSink {
	return func(ctx context.Context, key string, payload []byte) error {
		_, err := client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.Publish(ctx, key, payload)
			p.Set(ctx, key, payload, 0)
			return nil
		})
		return err
	}
}

func (m *ResultMirror) Start(ctx context.Context) error {
	if err := m.BaseComponent.Start(ctx); err != nil {
		return err
	}
	if m.sink == nil {
		if m.Redis == nil || m.Redis.Client() == nil {
			return fmt.Errorf("result_mirror requires a started redis component")
		}
		m.sink = redisSink(m.Redis.Client())
	}
	m.mu.Lock()
	m.closed = false
	m.queue = make(chan []byte, mirrorQueueSize)
	m.mu.Unlock()

	m.wg.Add(1)
	go m.loop(m.queue)

	m.pool = pubsub.NewPool()
	m.Hub.Attach(m.pool)
	if err := m.pool.Add(m); err != nil {
		return fmt.Errorf("result_mirror subscribe: %w", err)
	}
	logging.Info(ctx, "result mirror started", zap.String("prefix", m.prefix))
	return nil
}

func (m *ResultMirror) Stop(ctx context.Context) error {
	if m.pool != nil {
		m.pool.Remove(m)
	}
	m.mu.Lock()
	if !m.closed && m.queue != nil {
		m.closed = true
		close(m.queue)
	}
	m.mu.Unlock()
	m.wg.Wait()
	return m.BaseComponent.Stop(ctx)
}

func (m *ResultMirror) ID() string { return "redis-mirror" }

// Send queues msg; it never blocks the broadcasting topic. A full queue drops
// the payload, the next update carries the full state again.
func (m *ResultMirror) Send(msg []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.queue == nil {
		return nil
	}
	select {
	case m.queue <- append([]byte(nil), msg...):
	default:
		logging.Warn(context.Background(), "result mirror queue full, dropping payload")
	}
	return nil
}

// Close is a no-op: the mirror is detached in Stop.
func (m *ResultMirror) Close() error { return nil }

func (m *ResultMirror) key(msg []byte) string {
	typ := gjson.GetBytes(msg, "type").String()
	if typ == "" {
		typ = "unknown"
	}
	return m.prefix + ":" + typ
}

func (m *ResultMirror) loop(queue <-chan []byte) {
	defer m.wg.Done()
	for msg := range queue {
		key := m.key(msg)
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		if err := m.sink(ctx, key, msg); err != nil {
			logging.Warn(ctx, "result mirror write failed", zap.String("key", key), zap.Error(err))
		}
		cancel()
	}
}
