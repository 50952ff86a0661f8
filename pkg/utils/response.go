package utils

import (
	"log"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/zhouzirui/z-scene/backend/internal/apperr"
)

// RespondJSON 发送JSON响应
func RespondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

// RespondError 发送错误响应
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, map[string]string{"error": message})
}

// RespondErr 按错误类型选择状态码，并只返回对客户端安全的错误信息
func RespondErr(w http.ResponseWriter, err error) {
	RespondError(w, apperr.HTTPStatus(err), apperr.PublicMessage(err))
}
