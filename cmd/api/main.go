package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/gyb-chat/backend/internal/config"
	"github.com/zhouzirui/gyb-chat/backend/internal/handler"
	"github.com/zhouzirui/gyb-chat/backend/internal/model/assistant"
	"github.com/zhouzirui/gyb-chat/backend/internal/service/ai"
	"github.com/zhouzirui/gyb-chat/backend/internal/service/chat"
	"github.com/zhouzirui/gyb-chat/backend/internal/service/speech"
	"github.com/zhouzirui/gyb-chat/backend/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	zap.ReplaceGlobals(log)

	if envErr != nil {
		log.Info("no .env file loaded, using process environment", zap.Error(envErr))
	}

	profiles := assistant.NewMemoryStore(assistant.Seed())
	chatService := chat.NewService(profiles)

	// Initialize AI service
	var aiService *ai.Service
	generator, err := ai.NewGeneratorFromConfig(ctx, cfg.AI, cfg.OpenAI)
	if err != nil {
		log.Warn("chat disabled", zap.String("provider", cfg.AI.Provider), zap.Error(err))
	} else {
		aiService = ai.NewService(generator, profiles.Default(), log)
		log.Info("chat service initialized", zap.String("provider", cfg.AI.Provider))
	}

	// Initialize Speech service
	var speechService *speech.Service
	stt, sttErr := speech.NewTranscriberFromConfig(cfg.Speech, cfg.OpenAI)
	tts, ttsErr := speech.NewSynthesizerFromConfig(cfg.Speech, cfg.OpenAI)
	if err := errors.Join(sttErr, ttsErr); err != nil {
		log.Warn("speech disabled", zap.Error(err))
	} else {
		speechService = speech.NewService(stt, tts, log)
		log.Info("speech service initialized",
			zap.String("stt", cfg.Speech.STTProvider),
			zap.String("tts", cfg.Speech.TTSProvider),
		)
	}

	router := handler.NewRouter(cfg.Server, profiles, chatService, aiService, speechService, log)

	startServer(ctx, cfg.Server, router, log)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, log *zap.Logger) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info("GYB chat backend listening", zap.String("addr", addr))
	if err := runServer(ctx, srv); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
