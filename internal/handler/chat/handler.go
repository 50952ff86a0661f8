package chat

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/zhouzirui/z-scene/backend/internal/apperr"
	"github.com/zhouzirui/z-scene/backend/internal/model/chat"
	"github.com/zhouzirui/z-scene/backend/internal/service/roleplay"
	"github.com/zhouzirui/z-scene/backend/pkg/utils"
)

// Service 是聊天处理器依赖的会话编排能力
type Service interface {
	CreateSession(ctx context.Context, in roleplay.CreateSessionInput) (string, error)
	ChatTurn(ctx context.Context, in roleplay.ChatTurnInput) (string, error)
	Transcript(ctx context.Context, sessionID string) ([]chat.Turn, error)
}

// Handler 聊天服务的HTTP处理器
type Handler struct {
	svc Service
}

// New 创建聊天处理器
func New(svc Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes 注册会话与聊天路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/create-session", h.handleCreateSession)
	r.Post("/chat", h.handleChat)
}

// RegisterAPIRoutes 注册 /api 下的只读路由
func (h *Handler) RegisterAPIRoutes(r chi.Router) {
	r.Get("/sessions/{sessionID}/history", h.handleHistory)
}

// handleCreateSession 创建会话
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload roleplay.CreateSessionInput
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := h.svc.CreateSession(r.Context(), payload)
	if err != nil {
		utils.RespondErr(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"sessionId": id})
}

// handleChat 处理一轮对话并返回角色回复
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var payload roleplay.ChatTurnInput
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reply, err := h.svc.ChatTurn(r.Context(), payload)
	if err != nil {
		utils.RespondErr(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		utils.RespondErr(w, apperr.Missing("sessionId"))
		return
	}

	turns, err := h.svc.Transcript(r.Context(), sessionID)
	if err != nil {
		utils.RespondErr(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"sessionId": sessionID,
		"turns":     turns,
	})
}
