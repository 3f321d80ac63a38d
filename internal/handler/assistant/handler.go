package assistant

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/gyb-chat/backend/internal/model/assistant"
	"github.com/zhouzirui/gyb-chat/backend/pkg/utils"
)

// Handler assistant 信息与健康检查的HTTP处理器
type Handler struct {
	profiles assistant.Store
	features map[string]bool
}

// New 创建 assistant 处理器. features lists which upstream-backed
// capabilities are configured and is reported by /health.
func New(profiles assistant.Store, features map[string]bool) *Handler {
	return &Handler{
		profiles: profiles,
		features: features,
	}
}

// RegisterRoutes 注册 assistant 相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/assistant", h.handleGetAssistant)
	r.Get("/health", h.handleHealth)
}

func (h *Handler) handleGetAssistant(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.profiles.Default())
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"status":   "healthy",
		"features": h.features,
	})
}
