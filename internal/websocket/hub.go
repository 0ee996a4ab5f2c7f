package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/wfunc/pd-classroom/internal/logger"
	"go.uber.org/zap"
)

// Hub WebSocket连接管理中心，按局ID分组推送
type Hub struct {
	// 客户端连接池
	clients   map[string]*Client
	clientsMu sync.RWMutex

	// 局ID到客户端的映射
	gameClients map[string][]*Client

	// 注册/注销通道
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once

	// 入站消息处理器
	messageHandler MessageHandler

	options Options
	logger  *zap.Logger
}

// MessageHandler 处理客户端上行消息
type MessageHandler interface {
	HandleClientMessage(client *Client, msg *Message)
}

// Options 连接参数
type Options struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

// DefaultOptions 默认连接参数
func DefaultOptions() Options {
	return Options{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
		MaxMessageSize: 64 * 1024,
		SendBuffer:     64,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.WriteWait <= 0 {
		o.WriteWait = d.WriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = d.PongWait
	}
	// ping 周期必须小于 pong 超时
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = d.MaxMessageSize
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = d.SendBuffer
	}
	return o
}

// Message WebSocket消息
type Message struct {
	Type      string          `json:"type"`
	GameID    string          `json:"game_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// 系统消息类型；游戏事件类型见 game.Push*
const (
	MessageTypeConnected     = "connected"
	MessageTypePing          = "ping"
	MessageTypePong          = "pong"
	MessageTypeError         = "error"
	MessageTypeChatMessage   = "chat_message"
	MessageTypeMessageResult = "message_result"
)

// NewHub 创建Hub
func NewHub(options Options, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:     make(map[string]*Client),
		gameClients: make(map[string][]*Client),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		done:        make(chan struct{}),
		options:     options.withDefaults(),
		logger:      logger,
	}
}

// SetMessageHandler 设置入站消息处理器
func (h *Hub) SetMessageHandler(handler MessageHandler) {
	h.messageHandler = handler
}

// Run 运行Hub，ctx 结束后断开所有客户端
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	h.stopOnce.Do(func() { close(h.done) })

	h.clientsMu.Lock()
	for id, client := range h.clients {
		close(client.Send)
		delete(h.clients, id)
	}
	h.gameClients = make(map[string][]*Client)
	h.clientsMu.Unlock()

	h.logger.Info("WebSocket Hub已停止")
}

// registerClient 注册客户端
func (h *Hub) registerClient(client *Client) {
	h.clientsMu.Lock()
	h.clients[client.ID] = client
	h.gameClients[client.GameID] = append(h.gameClients[client.GameID], client)
	h.clientsMu.Unlock()

	h.logger.Info("WebSocket客户端连接",
		zap.String("client_id", client.ID),
		zap.String("game_id", client.GameID))

	_ = h.SendToClient(client.ID, MessageTypeConnected, map[string]string{"client_id": client.ID})
}

// unregisterClient 注销客户端
func (h *Hub) unregisterClient(client *Client) {
	h.clientsMu.Lock()
	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)
		close(client.Send)

		clients := h.gameClients[client.GameID]
		for i, c := range clients {
			if c.ID == client.ID {
				h.gameClients[client.GameID] = append(clients[:i:i], clients[i+1:]...)
				break
			}
		}
		if len(h.gameClients[client.GameID]) == 0 {
			delete(h.gameClients, client.GameID)
		}
	}
	h.clientsMu.Unlock()

	h.logger.Info("WebSocket客户端断开",
		zap.String("client_id", client.ID),
		zap.String("game_id", client.GameID))
}

func encode(msgType, gameID string, data interface{}) ([]byte, error) {
	msg := &Message{
		Type:      msgType,
		GameID:    gameID,
		Timestamp: time.Now().Unix(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		msg.Data = raw
	}
	return json.Marshal(msg)
}

// Notify 推送事件给该局的所有连接（实现 game.Notifier）
// 没有连接时直接丢弃，推送只是页面刷新的补充
func (h *Hub) Notify(gameID, msgType string, data interface{}) {
	if err := h.SendToGame(gameID, msgType, data); err != nil && err != ErrGameNotConnected {
		h.logger.Warn("推送消息失败",
			zap.String("game_id", gameID),
			zap.String("type", msgType),
			zap.Error(err))
	}
}

// SendToGame 发送消息给指定局的所有客户端
func (h *Hub) SendToGame(gameID, msgType string, data interface{}) error {
	payload, err := encode(msgType, gameID, data)
	if err != nil {
		return err
	}

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()

	clients := h.gameClients[gameID]
	if len(clients) == 0 {
		return ErrGameNotConnected
	}

	for _, client := range clients {
		select {
		case client.Send <- payload:
			logger.LogWebSocketMessage("send", msgType, gameID)
		default:
			h.logger.Warn("客户端发送缓冲区满",
				zap.String("client_id", client.ID),
				zap.String("game_id", gameID))
		}
	}
	return nil
}

// SendToClient 发送消息给指定客户端
func (h *Hub) SendToClient(clientID, msgType string, data interface{}) error {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()

	client, ok := h.clients[clientID]
	if !ok {
		return ErrClientNotFound
	}

	payload, err := encode(msgType, client.GameID, data)
	if err != nil {
		return err
	}

	select {
	case client.Send <- payload:
		logger.LogWebSocketMessage("send", msgType, client.GameID)
		return nil
	default:
		return ErrSendBufferFull
	}
}

// GetOnlineCount 获取在线连接数
func (h *Hub) GetOnlineCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// GameConnections 获取指定局的连接数
func (h *Hub) GameConnections(gameID string) int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.gameClients[gameID])
}

// Register 注册客户端；Hub 已停止时返回 false
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister 注销客户端
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}
