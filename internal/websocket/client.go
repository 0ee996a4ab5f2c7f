package websocket

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/wfunc/pd-classroom/internal/logger"
	"go.uber.org/zap"
)

// 错误定义
var (
	ErrClientNotFound   = errors.New("客户端未找到")
	ErrGameNotConnected = errors.New("该局没有连接")
	ErrSendBufferFull   = errors.New("发送缓冲区已满")
)

// Client WebSocket客户端，一个连接只属于一局
type Client struct {
	ID     string
	GameID string
	Hub    *Hub
	Conn   *websocket.Conn
	Send   chan []byte
}

// NewClient 创建新客户端
func NewClient(hub *Hub, conn *websocket.Conn, gameID string) *Client {
	return &Client{
		ID:     uuid.New().String(),
		GameID: gameID,
		Hub:    hub,
		Conn:   conn,
		Send:   make(chan []byte, hub.options.SendBuffer),
	}
}

// ReadPump 读取消息
func (c *Client) ReadPump() {
	opts := c.Hub.options
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(opts.MaxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Error("WebSocket读取错误",
					zap.String("client_id", c.ID),
					zap.Error(err))
			}
			return
		}

		c.handleMessage(data)
	}
}

// WritePump 写入消息
func (c *Client) WritePump() {
	opts := c.Hub.options
	ticker := time.NewTicker(opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if !ok {
				// Hub关闭了通道
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// 每条消息一帧，前端按帧解析 JSON
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 处理接收到的消息；格式错误只回错误，不断开连接
func (c *Client) handleMessage(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.Hub.logger.Warn("解析WebSocket消息失败",
			zap.String("client_id", c.ID),
			zap.Error(err))
		c.SendError("invalid message format")
		return
	}
	if msg.Type == "" {
		c.SendError("message type is required")
		return
	}

	msg.GameID = c.GameID
	msg.Timestamp = time.Now().Unix()
	logger.LogWebSocketMessage("receive", msg.Type, c.GameID)

	switch msg.Type {
	case MessageTypePing:
		_ = c.SendMessage(MessageTypePong, nil)
	case MessageTypePong:
	default:
		if c.Hub.messageHandler == nil {
			c.SendError("unsupported message type: " + msg.Type)
			return
		}
		c.Hub.messageHandler.HandleClientMessage(c, &msg)
	}
}

// SendError 发送错误消息
func (c *Client) SendError(message string) {
	_ = c.SendMessage(MessageTypeError, map[string]string{"error": message})
}

// SendMessage 发送消息给客户端
func (c *Client) SendMessage(msgType string, data interface{}) error {
	return c.Hub.SendToClient(c.ID, msgType, data)
}
