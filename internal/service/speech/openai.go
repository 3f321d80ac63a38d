package speech

import (
	"context"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/zhouzirui/gyb-chat/backend/internal/model/speech"
)

// OpenAITranscriber uses the audio transcriptions endpoint (whisper-1 by default).
type OpenAITranscriber struct {
	client   *openai.Client
	model    string
	language string
}

// NewOpenAITranscriber wraps an existing go-openai client.
func NewOpenAITranscriber(client *openai.Client, model, language string) *OpenAITranscriber {
	if model == "" {
		model = openai.Whisper1
	}
	return &OpenAITranscriber{client: client, model: model, language: language}
}

func (t *OpenAITranscriber) Transcribe(ctx context.Context, req *speech.TranscribeRequest) (*speech.TranscribeResponse, error) {
	language := req.Language
	if language == "" {
		language = t.language
	}

	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		Reader:   req.AudioData,
		FilePath: req.FileName,
		Language: language,
	})
	if err != nil {
		return nil, err
	}

	return &speech.TranscribeResponse{
		Text:     resp.Text,
		Language: resp.Language,
		Duration: resp.Duration,
	}, nil
}

// OpenAISynthesizer uses the audio speech endpoint (tts-1, voice alloy by default).
type OpenAISynthesizer struct {
	client *openai.Client
	model  string
	voice  string
	speed  float64
}

// NewOpenAISynthesizer wraps an existing go-openai client.
func NewOpenAISynthesizer(client *openai.Client, model, voice string, speed float64) *OpenAISynthesizer {
	if model == "" {
		model = string(openai.TTSModel1)
	}
	if voice == "" {
		voice = string(openai.VoiceAlloy)
	}
	return &OpenAISynthesizer{client: client, model: model, voice: voice, speed: speed}
}

func (s *OpenAISynthesizer) Synthesize(ctx context.Context, req *speech.SynthesizeRequest) (*speech.SynthesizeResponse, error) {
	voice := req.Voice
	if voice == "" {
		voice = s.voice
	}
	speed := req.Speed
	if speed <= 0 {
		speed = s.speed
	}
	format := req.Format
	if format == "" {
		format = string(openai.SpeechResponseFormatMp3)
	}

	audio, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.model),
		Input:          req.Text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormat(format),
		Speed:          speed,
	})
	if err != nil {
		return nil, err
	}
	defer audio.Close()

	data, err := io.ReadAll(audio)
	if err != nil {
		return nil, fmt.Errorf("read speech body: %w", err)
	}

	return &speech.SynthesizeResponse{
		AudioData: data,
		Format:    format,
	}, nil
}
