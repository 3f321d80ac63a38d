package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/zhouzirui/gyb-chat/backend/internal/model/speech"
)

const deepgramListenURL = "https://api.deepgram.com/v1/listen"

// DeepgramTranscriber calls the Deepgram pre-recorded listen API.
type DeepgramTranscriber struct {
	apiKey   string
	model    string
	language string
	endpoint string
	client   *http.Client
}

// NewDeepgramTranscriber creates a Deepgram client. A nil httpClient uses http.DefaultClient.
func NewDeepgramTranscriber(apiKey, model, language string, httpClient *http.Client) *DeepgramTranscriber {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if model == "" {
		model = "nova-2"
	}
	return &DeepgramTranscriber{
		apiKey:   apiKey,
		model:    model,
		language: language,
		endpoint: deepgramListenURL,
		client:   httpClient,
	}
}

type deepgramResponse struct {
	Metadata struct {
		RequestID string  `json:"request_id"`
		Duration  float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			DetectedLanguage string `json:"detected_language"`
			Alternatives     []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func (d *DeepgramTranscriber) Transcribe(ctx context.Context, req *speech.TranscribeRequest) (*speech.TranscribeResponse, error) {
	query := url.Values{}
	query.Set("model", d.model)
	query.Set("smart_format", "true")
	language := req.Language
	if language == "" {
		language = d.language
	}
	if language != "" {
		query.Set("language", language)
	} else {
		query.Set("detect_language", "true")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint+"?"+query.Encode(), req.AudioData)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Token "+d.apiKey)
	httpReq.Header.Set("Content-Type", ContentType(req.Format))

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("deepgram request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read deepgram body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("deepgram error %d: %s", resp.StatusCode, body)
	}

	var parsed deepgramResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode deepgram: %w", err)
	}

	if len(parsed.Results.Channels) == 0 || len(parsed.Results.Channels[0].Alternatives) == 0 {
		return nil, fmt.Errorf("deepgram returned no transcript")
	}

	channel := parsed.Results.Channels[0]
	return &speech.TranscribeResponse{
		Text:      channel.Alternatives[0].Transcript,
		Language:  channel.DetectedLanguage,
		Duration:  parsed.Metadata.Duration,
		RequestID: parsed.Metadata.RequestID,
	}, nil
}
