package websocket

import (
	"context"
	"encoding/json"
	"time"

	apperrors "github.com/wfunc/pd-classroom/internal/errors"
	"github.com/wfunc/pd-classroom/internal/game"
	"go.uber.org/zap"
)

// ChatSender 聊天消息的处理方（回合流程服务）
type ChatSender interface {
	SendMessage(ctx context.Context, gameID, text string) (*game.MessageResult, error)
}

// GameMessageHandler 处理参与者通过 WebSocket 发送的聊天消息
type GameMessageHandler struct {
	chat    ChatSender
	timeout time.Duration
	logger  *zap.Logger
}

// NewGameMessageHandler 创建消息处理器；timeout 为单条消息处理的上限
func NewGameMessageHandler(chat ChatSender, timeout time.Duration, logger *zap.Logger) *GameMessageHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GameMessageHandler{
		chat:    chat,
		timeout: timeout,
		logger:  logger,
	}
}

type chatMessageData struct {
	Text string `json:"text"`
}

// messageResult 上行消息的处理结果
type messageResult struct {
	*game.MessageResult
	Notices []apperrors.Notice `json:"notices"`
}

// HandleClientMessage 实现 MessageHandler
func (h *GameMessageHandler) HandleClientMessage(client *Client, msg *Message) {
	switch msg.Type {
	case MessageTypeChatMessage:
		var data chatMessageData
		if len(msg.Data) == 0 || json.Unmarshal(msg.Data, &data) != nil {
			client.SendError("chat_message requires {\"text\": ...}")
			return
		}
		// 回复生成较慢，不阻塞读循环
		go h.handleChat(client, data.Text)

	default:
		h.logger.Warn("未知消息类型",
			zap.String("client_id", client.ID),
			zap.String("type", msg.Type))
		client.SendError("unsupported message type: " + msg.Type)
	}
}

func (h *GameMessageHandler) handleChat(client *Client, text string) {
	ctx := context.Background()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	res, err := h.chat.SendMessage(ctx, client.GameID, text)
	if err != nil {
		appErr, ok := apperrors.As(err)
		if !ok {
			appErr = apperrors.Wrap(err, apperrors.ErrUnknown)
		}
		h.logger.Info("聊天消息被拒绝",
			zap.String("game_id", client.GameID),
			zap.Int("code", int(appErr.Code)),
			zap.String("message", appErr.Message))
		_ = client.SendMessage(MessageTypeError, apperrors.NewErrorResponse(appErr, ""))
		return
	}

	notices := res.Notices
	if notices == nil {
		notices = []apperrors.Notice{}
	}
	_ = client.SendMessage(MessageTypeMessageResult, messageResult{MessageResult: res, Notices: notices})
}
