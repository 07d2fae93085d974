package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("module", "pairlock.feed")

const defaultWSURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"

// WSConfig WebSocket 客户端配置
type WSConfig struct {
	URL                  string
	ProxyURL             string
	HandshakeTimeout     time.Duration
	PingInterval         time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectDelay    time.Duration
	MaxReconnectAttempts int
	BufferSize           int
}

// DefaultWSConfig 默认配置
func DefaultWSConfig() WSConfig {
	return WSConfig{
		URL:                  defaultWSURL,
		HandshakeTimeout:     10 * time.Second,
		PingInterval:         10 * time.Second,
		ReconnectDelay:       time.Second,
		MaxReconnectDelay:    30 * time.Second,
		MaxReconnectAttempts: 20,
		BufferSize:           256,
	}
}

// WSClient 市场数据 WebSocket 客户端。
// 只做一件事：订阅资产并把订单簿快照压缩成一档行情推到 Updates()。
type WSClient struct {
	cfg WSConfig

	conn   *websocket.Conn
	connMu sync.Mutex

	subs  map[string]bool
	subMu sync.RWMutex

	updates chan TopOfBook
	errs    chan error

	ctx       context.Context
	cancel    context.CancelFunc
	doneCh    chan struct{}
	attempts  int
	attemptMu sync.Mutex
}

// NewWSClient 创建客户端
func NewWSClient(cfg WSConfig) *WSClient {
	if cfg.URL == "" {
		cfg.URL = defaultWSURL
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	return &WSClient{
		cfg:     cfg,
		subs:    make(map[string]bool),
		updates: make(chan TopOfBook, cfg.BufferSize),
		errs:    make(chan error, 8),
	}
}

// Updates 一档行情流
func (c *WSClient) Updates() <-chan TopOfBook {
	return c.updates
}

// Errors 不可恢复的错误（达到最大重连次数等）
func (c *WSClient) Errors() <-chan error {
	return c.errs
}

// Start 建立连接并开始读取；ctx 取消即停止
func (c *WSClient) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.doneCh = make(chan struct{})

	if err := c.connect(); err != nil {
		return errors.Wrap(err, "初始连接失败")
	}

	go c.readLoop()
	go c.pingLoop()

	log.Infof("🔌 行情连接已建立: %s", c.cfg.URL)
	return nil
}

// Stop 优雅关闭
func (c *WSClient) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	select {
	case <-c.doneCh:
	case <-time.After(5 * time.Second):
		log.Warn("⏰ 行情连接关闭超时")
	}
}

// Subscribe 订阅资产（重连后自动恢复）
func (c *WSClient) Subscribe(assetIDs ...string) error {
	c.subMu.Lock()
	fresh := make([]string, 0, len(assetIDs))
	for _, id := range assetIDs {
		if !c.subs[id] {
			c.subs[id] = true
			fresh = append(fresh, id)
		}
	}
	c.subMu.Unlock()

	if len(fresh) == 0 {
		return nil
	}
	return c.sendSubscription(fresh)
}

func (c *WSClient) sendSubscription(assetIDs []string) error {
	msg := map[string]interface{}{
		"type":       "market",
		"assets_ids": assetIDs,
	}
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return errors.New("未连接")
	}
	return errors.Wrap(c.conn.WriteJSON(msg), "发送订阅失败")
}

func (c *WSClient) connect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		c.conn.Close()
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	if c.cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(c.cfg.ProxyURL)
		if err != nil {
			return errors.Wrap(err, "无效的代理 URL")
		}
		dialer.Proxy = http.ProxyURL(proxyURL)
	}

	conn, _, err := dialer.Dial(c.cfg.URL, nil)
	if err != nil {
		return err
	}
	c.conn = conn

	c.attemptMu.Lock()
	c.attempts = 0
	c.attemptMu.Unlock()
	return nil
}

func (c *WSClient) readLoop() {
	defer close(c.doneCh)

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()
		if conn == nil {
			if !c.reconnect() {
				return
			}
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.Close()
				c.conn = nil
			}
			c.connMu.Unlock()

			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			log.Warnf("📡 行情读取错误: %v，重连中", err)
			if !c.reconnect() {
				return
			}
			continue
		}

		c.handleMessage(data)
	}
}

func (c *WSClient) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.connMu.Lock()
			conn := c.conn
			c.connMu.Unlock()
			if conn == nil {
				continue
			}
			// 交易所用 "PING"/"PONG" 文本心跳，不是 WebSocket 标准帧
			if err := conn.WriteMessage(websocket.TextMessage, []byte("PING")); err != nil {
				log.Warnf("💔 PING 发送失败: %v", err)
			}
		}
	}
}

// reconnect 指数退避重连；达到上限返回 false
func (c *WSClient) reconnect() bool {
	c.attemptMu.Lock()
	c.attempts++
	attempts := c.attempts
	c.attemptMu.Unlock()

	if attempts > c.cfg.MaxReconnectAttempts {
		select {
		case c.errs <- errors.Errorf("达到最大重连次数 (%d)", c.cfg.MaxReconnectAttempts):
		default:
		}
		return false
	}

	delay := c.cfg.ReconnectDelay * time.Duration(attempts)
	if delay > c.cfg.MaxReconnectDelay {
		delay = c.cfg.MaxReconnectDelay
	}
	log.Infof("🔁 %v 后重连 (尝试 %d/%d)", delay, attempts, c.cfg.MaxReconnectAttempts)

	select {
	case <-c.ctx.Done():
		return false
	case <-time.After(delay):
	}

	if err := c.connect(); err != nil {
		log.Warnf("重连失败: %v", err)
		return true // 下一轮继续退避
	}

	c.subMu.RLock()
	assetIDs := make([]string, 0, len(c.subs))
	for id := range c.subs {
		assetIDs = append(assetIDs, id)
	}
	c.subMu.RUnlock()
	if len(assetIDs) > 0 {
		if err := c.sendSubscription(assetIDs); err != nil {
			log.Warnf("重新订阅失败: %v", err)
		}
	}
	return true
}

func (c *WSClient) handleMessage(data []byte) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return
	}
	// 心跳响应是裸文本
	if trimmed[0] != '{' && trimmed[0] != '[' {
		return
	}

	now := time.Now()
	if trimmed[0] == '[' {
		var batch []bookMessage
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			log.Debugf("丢弃无法解析的批量消息: %v", err)
			return
		}
		for i := range batch {
			c.dispatch(&batch[i], now)
		}
		return
	}

	var msg bookMessage
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		log.Debugf("丢弃无法解析的消息: %v", err)
		return
	}
	c.dispatch(&msg, now)
}

func (c *WSClient) dispatch(msg *bookMessage, now time.Time) {
	if msg.EventType != "book" || msg.AssetID == "" {
		return
	}
	select {
	case c.updates <- msg.topOfBook(now):
	default:
		// 消费方落后时丢最旧的留最新的
		select {
		case <-c.updates:
		default:
		}
		select {
		case c.updates <- msg.topOfBook(now):
		default:
		}
	}
}
