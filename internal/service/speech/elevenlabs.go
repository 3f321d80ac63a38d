package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/zhouzirui/gyb-chat/backend/internal/model/speech"
)

const elevenLabsBaseURL = "https://api.elevenlabs.io/v1/text-to-speech/"

// ElevenLabsSynthesizer calls the ElevenLabs text-to-speech API. Output is mp3.
type ElevenLabsSynthesizer struct {
	apiKey  string
	voiceID string
	model   string
	baseURL string
	client  *http.Client
}

// NewElevenLabsSynthesizer creates an ElevenLabs client. A nil httpClient uses http.DefaultClient.
func NewElevenLabsSynthesizer(apiKey, voiceID, model string, httpClient *http.Client) *ElevenLabsSynthesizer {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &ElevenLabsSynthesizer{
		apiKey:  apiKey,
		voiceID: voiceID,
		model:   model,
		baseURL: elevenLabsBaseURL,
		client:  httpClient,
	}
}

type elevenLabsRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id,omitempty"`
}

func (e *ElevenLabsSynthesizer) Synthesize(ctx context.Context, req *speech.SynthesizeRequest) (*speech.SynthesizeResponse, error) {
	voiceID := e.voiceID
	if req.Voice != "" {
		voiceID = req.Voice
	}

	payload, err := json.Marshal(elevenLabsRequest{Text: req.Text, ModelID: e.model})
	if err != nil {
		return nil, fmt.Errorf("marshal elevenlabs request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+url.PathEscape(voiceID), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("xi-api-key", e.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/mpeg")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("elevenlabs error %d: %s", resp.StatusCode, body)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read elevenlabs body: %w", err)
	}

	return &speech.SynthesizeResponse{
		AudioData: audio,
		Format:    "mp3",
		RequestID: resp.Header.Get("request-id"),
	}, nil
}
