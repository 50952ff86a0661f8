package ws

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/z-scene/backend/internal/apperr"
	"github.com/zhouzirui/z-scene/backend/internal/model/chat"
	"github.com/zhouzirui/z-scene/backend/internal/service/roleplay"
	"github.com/zhouzirui/z-scene/backend/pkg/utils"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 << 10
)

// Service 是 WebSocket 对话所需的编排能力
type Service interface {
	ChatTurn(ctx context.Context, in roleplay.ChatTurnInput) (string, error)
	Transcript(ctx context.Context, sessionID string) ([]chat.Turn, error)
}

// Handler WebSocket 对话处理器。每个入站帧是一条用户消息，出站帧是完整回复或错误。
type Handler struct {
	svc      Service
	upgrader websocket.Upgrader
}

// New 创建 WebSocket 处理器
func New(svc Service) *Handler {
	return &Handler{
		svc: svc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	UserMessage string `json:"userMessage"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId"`
	Reply     string      `json:"reply,omitempty"`
	Error     string      `json:"error,omitempty"`
	Turns     []chat.Turn `json:"turns,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	// 会话不存在时在升级前直接返回 404
	turns, err := h.svc.Transcript(r.Context(), sessionID)
	if err != nil {
		utils.RespondErr(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed session=%s: %v", sessionID, err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)

	log.Printf("[ws] connected session=%s", sessionID)

	if err := h.write(conn, outgoingMessage{Type: "history", SessionID: sessionID, Turns: turns}); err != nil {
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[ws] read failed session=%s: %v", sessionID, err)
			}
			log.Printf("[ws] disconnected session=%s", sessionID)
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if h.write(conn, outgoingMessage{Type: "error", SessionID: sessionID, Error: "invalid message"}) != nil {
				return
			}
			continue
		}

		reply, err := h.svc.ChatTurn(r.Context(), roleplay.ChatTurnInput{SessionID: sessionID, UserMessage: msg.UserMessage})
		out := outgoingMessage{Type: "reply", SessionID: sessionID, Reply: reply}
		if err != nil {
			out = outgoingMessage{Type: "error", SessionID: sessionID, Error: apperr.PublicMessage(err)}
		}
		if err := h.write(conn, out); err != nil {
			return
		}
	}
}

func (h *Handler) write(conn *websocket.Conn, msg outgoingMessage) error {
	msg.Timestamp = time.Now().Unix()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("[ws] write failed session=%s: %v", msg.SessionID, err)
		return err
	}
	return nil
}
