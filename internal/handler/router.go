package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"

	"github.com/zhouzirui/gyb-chat/backend/internal/config"
	"github.com/zhouzirui/gyb-chat/backend/internal/handler/assistant"
	"github.com/zhouzirui/gyb-chat/backend/internal/handler/chat"
	"github.com/zhouzirui/gyb-chat/backend/internal/handler/session"
	"github.com/zhouzirui/gyb-chat/backend/internal/handler/speech"
	assistantModel "github.com/zhouzirui/gyb-chat/backend/internal/model/assistant"
	aiService "github.com/zhouzirui/gyb-chat/backend/internal/service/ai"
	chatService "github.com/zhouzirui/gyb-chat/backend/internal/service/chat"
	speechService "github.com/zhouzirui/gyb-chat/backend/internal/service/speech"
	"github.com/zhouzirui/gyb-chat/backend/pkg/logger"
)

// NewRouter wires HTTP routes to core services. aiSvc and speechSvc may be
// nil when their upstream is not configured; the affected routes then
// answer 503.
func NewRouter(serverCfg config.ServerConfig, profiles assistantModel.Store, chatSvc *chatService.Service, aiSvc *aiService.Service, speechSvc *speechService.Service, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: serverCfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	// typed nils would defeat the nil checks inside the handlers
	var replier chat.Replier
	var wsReplier session.Replier
	if aiSvc != nil {
		replier = aiSvc
		wsReplier = aiSvc
	}
	var speechHandlerSvc speech.SpeechService
	var wsSpeechSvc session.SpeechService
	if speechSvc != nil {
		speechHandlerSvc = speechSvc
		wsSpeechSvc = speechSvc
	}

	assistantHandler := assistant.New(profiles, map[string]bool{
		"chat":   aiSvc != nil,
		"speech": speechSvc != nil,
	})
	chatHandler := chat.New(chatSvc, replier, log)
	speechHandler := speech.New(speechHandlerSvc, serverCfg.MaxAudioBytes, log)
	wsHandler := session.NewWebSocketHandler(chatSvc, wsReplier, wsSpeechSvc, serverCfg.MaxAudioBytes, log)

	r.Route("/api", func(api chi.Router) {
		if serverCfg.RateLimitPerMinute > 0 {
			api.Use(httprate.LimitByIP(serverCfg.RateLimitPerMinute, time.Minute))
		}

		assistantHandler.RegisterRoutes(api)
		chatHandler.RegisterRoutes(api)
		speechHandler.RegisterRoutes(api)
		wsHandler.RegisterRoutes(api)
	})

	return r
}
