package image

import (
	"context"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	imagesvc "github.com/zhouzirui/z-scene/backend/internal/service/image"
	"github.com/zhouzirui/z-scene/backend/pkg/utils"
)

// Service 生成当前场景图像
type Service interface {
	FetchImage(ctx context.Context, sessionID string) (*imagesvc.Result, error)
}

// Handler 图像接口处理器
type Handler struct {
	svc Service
}

// New 创建图像处理器
func New(svc Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes 注册图像路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/get-image", h.handleGetImage)
}

// handleGetImage 将上游图像字节原样流式转发给客户端
func (h *Handler) handleGetImage(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")

	result, err := h.svc.FetchImage(r.Context(), sessionID)
	if err != nil {
		utils.RespondErr(w, err)
		return
	}
	defer result.Body.Close()

	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set("X-Image-Provider", result.Provider)
	w.WriteHeader(http.StatusOK)

	// 响应头已发送，中途失败只能记录日志
	if n, err := io.Copy(w, result.Body); err != nil {
		log.Printf("[image] session=%s stream interrupted after %d bytes: %v", sessionID, n, err)
	}
}
