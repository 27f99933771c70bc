package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cabinet-fe/MiniDevOps/internal/application/components/logging"
	appconsts "github.com/cabinet-fe/MiniDevOps/internal/application/consts"
	"github.com/cabinet-fe/MiniDevOps/internal/application/core"
	"github.com/cabinet-fe/MiniDevOps/internal/consts"
	"github.com/cabinet-fe/MiniDevOps/internal/pubsub"
	"github.com/cabinet-fe/MiniDevOps/internal/service"
)

const (
	maxClientMessage = 512
	defaultSendQueue = 256
)

var (
	errSendQueueFull = errors.New("websocket send queue full")
	errConnClosed    = errors.New("websocket connection closed")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// WSController 订阅构建进度与结果. 客户端升级后发送 "connect" 才加入推送池.
type WSController struct {
	*core.BaseComponent
	Hub *service.BuildHub `infra:"dep:build_hub"`

	writeTimeout time.Duration
	pingInterval time.Duration
	sendQueue    int
}

func NewWSController(writeTimeout, pingInterval time.Duration, sendQueue int) *WSController {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	if sendQueue <= 0 {
		sendQueue = defaultSendQueue
	}
	return &WSController{
		BaseComponent: core.NewBaseComponent(consts.COMP_CTRL_WS, appconsts.COMPONENT_LOGGING),
		writeTimeout:  writeTimeout,
		pingInterval:  pingInterval,
		sendQueue:     sendQueue,
	}
}

func (c *WSController) Start(ctx context.Context) error { return c.BaseComponent.Start(ctx) }
func (c *WSController) Stop(ctx context.Context) error  { return c.BaseComponent.Stop(ctx) }

// wsConn adapts a websocket to pubsub.Conn. Send only queues; one writer
// goroutine owns data frames. A full queue or a failed write drops the
// subscriber instead of stalling the publishers.
type wsConn struct {
	id    string
	ws    *websocket.Conn
	queue chan []byte
	done  chan struct{}

	write     func(msg []byte) error
	closeFn   func() error
	closeOnce sync.Once
	closeErr  error
}

func newWSConn(id string, ws *websocket.Conn, writeTimeout time.Duration, queueSize int) *wsConn {
	c := newQueuedConn(id, queueSize, func(msg []byte) error {
		if err := ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			return err
		}
		return ws.WriteMessage(websocket.TextMessage, msg)
	}, ws.Close)
	c.ws = ws
	return c
}

func newQueuedConn(id string, queueSize int, write func([]byte) error, closeFn func() error) *wsConn {
	c := &wsConn{
		id:      id,
		queue:   make(chan []byte, queueSize),
		done:    make(chan struct{}),
		write:   write,
		closeFn: closeFn,
	}
	go c.writeLoop()
	return c
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(msg []byte) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.queue <- msg:
		return nil
	default:
		return errSendQueueFull
	}
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.closeErr = c.closeFn()
	})
	return c.closeErr
}

func (c *wsConn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.queue:
			if err := c.write(msg); err != nil {
				logging.Debug(context.Background(), "websocket write failed", zap.String("conn_id", c.id), zap.Error(err))
				_ = c.Close()
				return
			}
		}
	}
}

// GET /ws/tasks/progress
func (c *WSController) Progress(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 已经写回了错误响应
		logging.Warn(r.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}
	conn := newWSConn(uuid.NewString(), ws, c.writeTimeout, c.sendQueue)
	pool := c.Hub.Pool()
	ctx := context.Background()
	logging.Debug(ctx, "websocket opened", zap.String("conn_id", conn.id), zap.String("remote", r.RemoteAddr))

	done := make(chan struct{})
	defer func() {
		close(done)
		pool.Remove(conn)
		_ = conn.Close()
		logging.Debug(ctx, "websocket closed", zap.String("conn_id", conn.id))
	}()

	pongWait := 2 * c.pingInterval
	ws.SetReadLimit(maxClientMessage)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error { return ws.SetReadDeadline(time.Now().Add(pongWait)) })
	go c.keepAlive(conn, done)

	joined := false
	for {
		typ, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		if joined || typ != websocket.TextMessage || strings.TrimSpace(string(data)) != consts.WS_HANDSHAKE {
			continue
		}
		if err := pool.Add(conn); err != nil {
			logging.Warn(ctx, "websocket join failed", zap.String("conn_id", conn.id), zap.Error(err))
			return
		}
		joined = true
	}
}

func (c *WSController) keepAlive(conn *wsConn, done <-chan struct{}) {
	t := time.NewTicker(c.pingInterval)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			if err := conn.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

var _ pubsub.Conn = (*wsConn)(nil)
