package speech

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/gyb-chat/backend/internal/model/speech"
)

var (
	ErrEmptyAudio = errors.New("audio is required")
	ErrEmptyText  = errors.New("text is required")
)

// Transcriber turns recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, req *speech.TranscribeRequest) (*speech.TranscribeResponse, error)
}

// Synthesizer turns text into encoded audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req *speech.SynthesizeRequest) (*speech.SynthesizeResponse, error)
}

// Service 语音服务核心业务逻辑
type Service struct {
	stt Transcriber
	tts Synthesizer
	log *zap.Logger
}

// NewService 创建语音服务实例
func NewService(stt Transcriber, tts Synthesizer, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		stt: stt,
		tts: tts,
		log: log.With(zap.String("component", "speech")),
	}
}

// TranscribeAudio 语音转文字
func (s *Service) TranscribeAudio(ctx context.Context, req *speech.TranscribeRequest) (*speech.TranscribeResponse, error) {
	if req == nil || req.AudioData == nil {
		return nil, ErrEmptyAudio
	}
	if req.Format == "" {
		req.Format = InferAudioFormat(req.FileName)
	}
	if req.FileName == "" {
		req.FileName = "audio." + req.Format
	}

	start := time.Now()
	resp, err := s.stt.Transcribe(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}
	if resp.CreatedAt.IsZero() {
		resp.CreatedAt = time.Now()
	}

	s.log.Debug("transcribed audio",
		zap.String("format", req.Format),
		zap.Int("chars", len(resp.Text)),
		zap.Duration("took", time.Since(start)),
	)
	return resp, nil
}

// SynthesizeSpeech 文字转语音
func (s *Service) SynthesizeSpeech(ctx context.Context, req *speech.SynthesizeRequest) (*speech.SynthesizeResponse, error) {
	if req == nil || strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}
	if req.Format == "" {
		req.Format = "mp3"
	}

	start := time.Now()
	resp, err := s.tts.Synthesize(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}
	if len(resp.AudioData) == 0 {
		return nil, errors.New("synthesize: upstream returned empty audio")
	}
	if resp.Format == "" {
		resp.Format = req.Format
	}
	if resp.CreatedAt.IsZero() {
		resp.CreatedAt = time.Now()
	}

	s.log.Debug("synthesized speech",
		zap.Int("chars", len(req.Text)),
		zap.Int("bytes", len(resp.AudioData)),
		zap.Duration("took", time.Since(start)),
	)
	return resp, nil
}

// InferAudioFormat 从文件名推断音频格式，默认 wav
func InferAudioFormat(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".mp3", ".mpeg", ".mpga":
		return "mp3"
	case ".webm":
		return "webm"
	case ".ogg", ".oga":
		return "ogg"
	case ".m4a", ".mp4":
		return "m4a"
	case ".flac":
		return "flac"
	default:
		return "wav"
	}
}

// ContentType maps an audio format to its MIME type.
func ContentType(format string) string {
	switch strings.ToLower(format) {
	case "mp3", "mpeg", "":
		return "audio/mpeg"
	case "wav":
		return "audio/wav"
	case "opus", "ogg":
		return "audio/ogg"
	case "aac":
		return "audio/aac"
	case "flac":
		return "audio/flac"
	case "webm":
		return "audio/webm"
	case "m4a":
		return "audio/mp4"
	case "pcm":
		return "audio/pcm"
	default:
		return "application/octet-stream"
	}
}
