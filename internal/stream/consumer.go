// Package stream 维护到 agent 后端的长连事件订阅 (WebSocket)。
//
// 断线自动重连, 并从 cursor store 记录的断点续订; 每收到一条信封,
// 先把 cursor 推进到 offset+1 再投递处理 — 处理途中崩溃不会导致
// 毒信封被无限重放。重复投递由下游按内容幂等消化, 这里不做去重。
package stream

import (
	"context"
	"encoding/json"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/multi-agent/runview/internal/cursor"
	"github.com/multi-agent/runview/internal/protocol"
	"github.com/multi-agent/runview/pkg/logger"
	"github.com/multi-agent/runview/pkg/util"
)

const (
	handshakeTimeout = 5 * time.Second
	readIdleTimeout  = 60 * time.Second
	pingInterval     = 20 * time.Second

	backoffBase = 500 * time.Millisecond
	backoffCap  = 15 * time.Second
)

// Consumer 单条逻辑流的订阅消费者。
type Consumer struct {
	url        string
	streamID   string
	cursors    *cursor.Store
	handler    func(protocol.Envelope)
	maxRetries int

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewConsumer 创建消费者。url 是订阅端点 (ws://.../events),
// handler 在读协程上同步调用, 必须自行保证快速返回。
// maxRetries <= 0 表示无限重连。
func NewConsumer(wsURL, streamID string, cursors *cursor.Store, maxRetries int, handler func(protocol.Envelope)) *Consumer {
	return &Consumer{
		url:        wsURL,
		streamID:   streamID,
		cursors:    cursors,
		handler:    handler,
		maxRetries: maxRetries,
	}
}

// Start 启动订阅循环。
func (c *Consumer) Start() {
	c.ctx, c.cancel = context.WithCancel(context.Background())
	util.SafeGo(c.run)
}

// Stop 终止订阅并关闭连接。
func (c *Consumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// run 连接-读取-重连主循环。
func (c *Consumer) run() {
	attempt := 0
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		from := c.cursors.Get(c.streamID)
		conn, err := c.dial(from)
		if err != nil {
			attempt++
			if c.maxRetries > 0 && attempt > c.maxRetries {
				logger.Error("stream: giving up after max retries",
					logger.FieldStream, c.streamID,
					logger.FieldAttempt, attempt,
					logger.FieldError, err)
				return
			}
			delay := backoffDelay(attempt)
			logger.Warn("stream: connect failed, retrying",
				logger.FieldStream, c.streamID,
				logger.FieldAttempt, attempt,
				logger.FieldError, err)
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		attempt = 0
		c.replaceConn(conn)
		logger.Info("stream: subscribed",
			logger.FieldStream, c.streamID, logger.FieldOffset, from)
		util.SafeGo(func() { c.pingLoop(conn) })
		c.readLoop(conn)
		// readLoop 返回即连接失效, 回到循环顶部重订
	}
}

func (c *Consumer) dial(fromOffset uint64) (*websocket.Conn, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("stream", c.streamID)
	q.Set("from", strconv.FormatUint(fromOffset, 10))
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		NetDialContext:   (&net.Dialer{Timeout: handshakeTimeout}).DialContext,
	}
	conn, _, err := dialer.DialContext(c.ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
		return nil
	})
	return conn, nil
}

func (c *Consumer) replaceConn(conn *websocket.Conn) {
	c.mu.Lock()
	prev := c.conn
	c.conn = conn
	c.mu.Unlock()
	if prev != nil && prev != conn {
		_ = prev.Close()
	}
}

// readLoop 按到达顺序消费信封, 直到连接出错。
func (c *Consumer) readLoop(conn *websocket.Conn) {
	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				logger.Warn("stream: read failed, will reconnect",
					logger.FieldStream, c.streamID, logger.FieldError, err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
		c.consume(data)
	}
}

// consume 处理一条原始信封。
//
// 解码失败只丢这一条, 不中断订阅; 只要能读出 offset 就照常推进
// cursor, 保证毒信封重连后不会再来一遍。
func (c *Consumer) consume(data []byte) {
	env, err := protocol.DecodeEnvelope(data)
	if err != nil {
		if off, ok := peekOffset(data); ok {
			c.cursors.Set(c.streamID, off+1)
		}
		logger.Warn("stream: dropped undecodable envelope",
			logger.FieldStream, c.streamID, logger.FieldError, err)
		return
	}
	c.cursors.Set(c.streamID, env.Offset+1)
	if c.handler != nil {
		c.handler(env)
	}
}

// peekOffset 从原始载荷里尽力读出 offset。
func peekOffset(data []byte) (uint64, bool) {
	var head struct {
		Offset *uint64 `json:"offset"`
	}
	if json.Unmarshal(data, &head) != nil || head.Offset == nil {
		return 0, false
	}
	return *head.Offset, true
}

// pingLoop 周期性发 ping 维持读超时刷新; 连接被替换或关闭后退出。
func (c *Consumer) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			current := c.conn
			c.mu.Unlock()
			if current != conn {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

// backoffDelay 指数退避: base * 2^(attempt-1), 封顶 backoffCap。
func backoffDelay(attempt int) time.Duration {
	d := backoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= backoffCap {
			return backoffCap
		}
	}
	return d
}
