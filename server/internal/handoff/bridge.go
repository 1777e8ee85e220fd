package handoff

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"clear-talk/server/internal/model"

	"github.com/gorilla/websocket"
)

// OperatorHandler 处理人工客服发回的消息（给Orchestrator用）。
// 返回error表示处理失败，桥接器会记录但继续运行。
type OperatorHandler func(ctx context.Context, sessionID, text string) error

// Message 是桥接器与人工客服之间的 WebSocket 文本帧。
type Message struct {
	Type string `json:"type"` // handoff / user_message / operator_text / ping
	Text string `json:"text,omitempty"`
	// Signal 仅 handoff 帧携带：升级信号与对话快照。
	Signal   *model.HandoffSignal `json:"signal,omitempty"`
	ServerTS time.Time            `json:"server_ts,omitempty"`
}

// Bridge 是单个会话的人工客服桥接器。
// 职责：
// 1. 维护客服端 WebSocket 连接
// 2. 升级时把对话快照推给客服
// 3. 转发已升级会话的用户消息，客服回复交给 Orchestrator 落盘
type Bridge struct {
	sessionID string

	conn     *websocket.Conn
	connLock sync.Mutex

	// 事件处理器（由Orchestrator注入）
	handler OperatorHandler

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeChan chan struct{}

	pingInterval time.Duration
	writeTimeout time.Duration

	logger *log.Logger
}

// NewBridge 创建一个新的客服桥接器。
func NewBridge(sessionID string, conn *websocket.Conn, pingInterval time.Duration) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())

	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}

	return &Bridge{
		sessionID:    sessionID,
		conn:         conn,
		ctx:          ctx,
		cancel:       cancel,
		closeChan:    make(chan struct{}),
		pingInterval: pingInterval,
		writeTimeout: 10 * time.Second,
		logger:       log.Default(),
	}
}

// SetOperatorHandler 设置客服消息处理器（Orchestrator注入）。
func (b *Bridge) SetOperatorHandler(handler OperatorHandler) {
	b.handler = handler
}

// Start 启动桥接器：读取客服消息 + 保活 ping。
func (b *Bridge) Start() {
	go b.readLoop()
	go b.pingLoop()
}

// Done 返回关闭通知通道。
func (b *Bridge) Done() <-chan struct{} {
	return b.closeChan
}

// Close 关闭桥接器（幂等）。
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() {
		b.cancel()
		close(b.closeChan)
		_ = b.conn.Close()
	})
	return nil
}

// SendSignal 把升级信号与对话快照推给客服端。
func (b *Bridge) SendSignal(sig *model.HandoffSignal) error {
	return b.writeMessage(Message{
		Type:     "handoff",
		Signal:   sig,
		ServerTS: time.Now(),
	})
}

// SendUserText 转发已升级会话中的用户消息。
func (b *Bridge) SendUserText(text string) error {
	return b.writeMessage(Message{
		Type:     "user_message",
		Text:     text,
		ServerTS: time.Now(),
	})
}

func (b *Bridge) writeMessage(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal bridge message: %w", err)
	}

	b.connLock.Lock()
	defer b.connLock.Unlock()

	_ = b.conn.SetWriteDeadline(time.Now().Add(b.writeTimeout))
	if err := b.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write bridge message: %w", err)
	}
	return nil
}

// readLoop 持续读取客服端消息，operator_text 交给 Orchestrator 落盘。
func (b *Bridge) readLoop() {
	defer b.Close()

	for {
		select {
		case <-b.ctx.Done():
			return
		default:
		}

		_, data, err := b.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.logger.Printf("[HANDOFF] read error: session=%s err=%v", b.sessionID, err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			b.logger.Printf("[HANDOFF] bad frame: session=%s err=%v", b.sessionID, err)
			continue
		}

		switch msg.Type {
		case "operator_text":
			if b.handler == nil {
				continue
			}
			if err := b.handler(b.ctx, b.sessionID, msg.Text); err != nil {
				b.logger.Printf("[HANDOFF] handle operator text failed: session=%s err=%v", b.sessionID, err)
			}
		case "ping":
			// 客服端应用层保活，无需处理。
		default:
			b.logger.Printf("[HANDOFF] unhandled frame type: session=%s type=%s", b.sessionID, msg.Type)
		}
	}
}

// pingLoop 定期发送协议层 ping 保活。
func (b *Bridge) pingLoop() {
	ticker := time.NewTicker(b.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			b.connLock.Lock()
			_ = b.conn.SetWriteDeadline(time.Now().Add(b.writeTimeout))
			err := b.conn.WriteMessage(websocket.PingMessage, nil)
			b.connLock.Unlock()
			if err != nil {
				b.logger.Printf("[HANDOFF] ping failed: session=%s err=%v", b.sessionID, err)
				b.Close()
				return
			}
		}
	}
}
