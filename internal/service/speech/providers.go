package speech

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/zhouzirui/gyb-chat/backend/internal/config"
)

var ErrNotConfigured = errors.New("speech provider not configured")

// NewTranscriberFromConfig picks the transcriber named by STT_PROVIDER.
func NewTranscriberFromConfig(speechCfg config.SpeechConfig, openAICfg config.OpenAIConfig) (Transcriber, error) {
	switch speechCfg.STTProvider {
	case config.ProviderDeepgram:
		if speechCfg.DeepgramAPIKey == "" {
			return nil, fmt.Errorf("%w: DEEPGRAM_API_KEY is not set", ErrNotConfigured)
		}
		return NewDeepgramTranscriber(speechCfg.DeepgramAPIKey, speechCfg.DeepgramModel, speechCfg.Language,
			&http.Client{Timeout: openAICfg.Timeout}), nil
	default:
		if !openAICfg.Enabled() {
			return nil, fmt.Errorf("%w: OPENAI_API_KEY is not set", ErrNotConfigured)
		}
		return NewOpenAITranscriber(openAICfg.NewClient(), speechCfg.TranscribeModel, speechCfg.Language), nil
	}
}

// NewSynthesizerFromConfig picks the synthesizer named by TTS_PROVIDER.
func NewSynthesizerFromConfig(speechCfg config.SpeechConfig, openAICfg config.OpenAIConfig) (Synthesizer, error) {
	switch speechCfg.TTSProvider {
	case config.ProviderElevenLabs:
		if speechCfg.ElevenLabsAPIKey == "" {
			return nil, fmt.Errorf("%w: ELEVENLABS_API_KEY is not set", ErrNotConfigured)
		}
		return NewElevenLabsSynthesizer(speechCfg.ElevenLabsAPIKey, speechCfg.ElevenLabsVoice, speechCfg.ElevenLabsModel,
			&http.Client{Timeout: openAICfg.Timeout}), nil
	default:
		if !openAICfg.Enabled() {
			return nil, fmt.Errorf("%w: OPENAI_API_KEY is not set", ErrNotConfigured)
		}
		return NewOpenAISynthesizer(openAICfg.NewClient(), speechCfg.TTSModel, speechCfg.TTSVoice, speechCfg.TTSSpeed), nil
	}
}
