package speech

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/gyb-chat/backend/internal/model/speech"
	speechsvc "github.com/zhouzirui/gyb-chat/backend/internal/service/speech"
	"github.com/zhouzirui/gyb-chat/backend/pkg/utils"
)

// SpeechService 抽象语音业务，便于测试与替换实现
type SpeechService interface {
	TranscribeAudio(ctx context.Context, req *speech.TranscribeRequest) (*speech.TranscribeResponse, error)
	SynthesizeSpeech(ctx context.Context, req *speech.SynthesizeRequest) (*speech.SynthesizeResponse, error)
}

// Handler 语音服务的HTTP处理器
type Handler struct {
	speechSvc     SpeechService
	maxAudioBytes int64
	log           *zap.Logger
}

// New 创建语音处理器. A nil speechSvc answers 503 on every route.
func New(speechSvc SpeechService, maxAudioBytes int64, log *zap.Logger) *Handler {
	if maxAudioBytes <= 0 {
		maxAudioBytes = 32 << 20
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		speechSvc:     speechSvc,
		maxAudioBytes: maxAudioBytes,
		log:           log.With(zap.String("component", "speech_handler")),
	}
}

// RegisterRoutes 注册语音相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/transcribe", h.handleTranscribe)
	r.Post("/tts", h.handleSynthesize)
}

type transcribeResponse struct {
	Text string `json:"text"`
}

type synthesizeRequest struct {
	Text string `json:"text"`
}

// handleTranscribe 处理语音转文本请求
func (h *Handler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if h.speechSvc == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "speech service unavailable")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxAudioBytes)
	if err := r.ParseMultipartForm(h.maxAudioBytes); err != nil {
		h.log.Debug("parse multipart form failed", zap.Error(err))
		utils.RespondError(w, http.StatusBadRequest, "No audio file provided")
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "No audio file provided")
		return
	}
	defer file.Close()

	req := &speech.TranscribeRequest{
		AudioData: file,
		FileName:  header.Filename,
		Format:    speechsvc.InferAudioFormat(header.Filename),
		Language:  r.FormValue("language"),
	}

	resp, err := h.speechSvc.TranscribeAudio(r.Context(), req)
	if err != nil {
		h.log.Error("transcription failed", zap.Error(err), zap.String("file", header.Filename))
		utils.RespondError(w, http.StatusInternalServerError, "Failed to transcribe audio")
		return
	}

	utils.RespondJSON(w, http.StatusOK, transcribeResponse{Text: resp.Text})
}

// handleSynthesize 处理文本转语音请求
func (h *Handler) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	if h.speechSvc == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "speech service unavailable")
		return
	}

	var payload synthesizeRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(payload.Text) == "" {
		utils.RespondError(w, http.StatusBadRequest, "No text provided")
		return
	}

	resp, err := h.speechSvc.SynthesizeSpeech(r.Context(), &speech.SynthesizeRequest{Text: payload.Text})
	if err != nil {
		if errors.Is(err, speechsvc.ErrEmptyText) {
			utils.RespondError(w, http.StatusBadRequest, "No text provided")
			return
		}
		h.log.Error("speech synthesis failed", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "Failed to generate speech")
		return
	}

	w.Header().Set("Content-Type", speechsvc.ContentType(resp.Format))
	w.Header().Set("Content-Length", strconv.Itoa(len(resp.AudioData)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(resp.AudioData); err != nil {
		h.log.Warn("failed to write audio response", zap.Error(err))
	}
}
