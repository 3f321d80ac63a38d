package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/gyb-chat/backend/internal/model/chat"
	aiService "github.com/zhouzirui/gyb-chat/backend/internal/service/ai"
	chatService "github.com/zhouzirui/gyb-chat/backend/internal/service/chat"
	"github.com/zhouzirui/gyb-chat/backend/pkg/utils"
)

// Replier produces the assistant reply for a user message.
type Replier interface {
	Reply(ctx context.Context, history []chat.Message, userText string) (string, error)
}

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
	ai      Replier
	log     *zap.Logger
}

// New 创建聊天处理器. A nil ai makes /chat answer 503.
func New(chatSvc *chatService.Service, ai Replier, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		chatSvc: chatSvc,
		ai:      ai,
		log:     log.With(zap.String("component", "chat_handler")),
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
	r.Post("/session", h.handleCreateSession)
	r.Get("/session/{sessionID}/messages", h.handleListMessages)
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId,omitempty"`
}

type chatResponse struct {
	Message string `json:"message"`
}

type sessionResponse struct {
	Session  chat.Session   `json:"session"`
	Messages []chat.Message `json:"messages"`
}

// handleChat 生成一条助手回复. With a sessionId the transcript of that
// session is used as context; the session itself is not modified.
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	if h.ai == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "chat service unavailable")
		return
	}

	var payload chatRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(payload.Message) == "" {
		utils.RespondError(w, http.StatusBadRequest, "message is required")
		return
	}

	var history []chat.Message
	if payload.SessionID != "" {
		transcript, err := h.chatSvc.LoadTranscript(r.Context(), payload.SessionID)
		if err != nil {
			if errors.Is(err, chatService.ErrSessionNotFound) {
				utils.RespondError(w, http.StatusNotFound, err.Error())
				return
			}
			utils.RespondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		history = transcript
	}

	reply, err := h.ai.Reply(r.Context(), history, payload.Message)
	if err != nil {
		if errors.Is(err, aiService.ErrEmptyMessage) {
			utils.RespondError(w, http.StatusBadRequest, "message is required")
			return
		}
		h.log.Error("chat completion failed", zap.Error(err), zap.String("session_id", payload.SessionID))
		utils.RespondError(w, http.StatusInternalServerError, "Failed to generate reply")
		return
	}

	utils.RespondJSON(w, http.StatusOK, chatResponse{Message: reply})
}

// handleCreateSession 创建会话, seeded with the greeting
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.chatSvc.CreateSession(r.Context())
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	messages, err := h.chatSvc.LoadTranscript(r.Context(), session.ID)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.log.Debug("session created", zap.String("session_id", session.ID))
	utils.RespondJSON(w, http.StatusCreated, sessionResponse{Session: session, Messages: messages})
}

// handleListMessages 返回会话记录
func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	messages, err := h.chatSvc.LoadTranscript(r.Context(), sessionID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, chatService.ErrSessionNotFound) {
			status = http.StatusNotFound
		}
		utils.RespondError(w, status, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, messages)
}
