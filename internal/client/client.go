// Package client calls the chat backend over HTTP. Every call is a single
// request; nothing is retried.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/zhouzirui/gyb-chat/backend/internal/model/assistant"
	sessionsvc "github.com/zhouzirui/gyb-chat/backend/internal/service/session"
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: status %d: %s", e.Endpoint, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: status %d", e.Endpoint, e.StatusCode)
}

// Client talks to /api/chat, /api/transcribe and /api/tts.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New returns a client for the API rooted at baseURL (e.g.
// http://localhost:8080). A nil httpClient uses a 60s timeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Assistant fetches the assistant profile, including its greeting.
func (c *Client) Assistant(ctx context.Context) (assistant.Profile, error) {
	var out assistant.Profile
	if err := c.doJSON(ctx, http.MethodGet, "/api/assistant", nil, &out); err != nil {
		return assistant.Profile{}, err
	}
	return out, nil
}

// Chat sends text and returns the assistant reply.
func (c *Client) Chat(ctx context.Context, text string) (string, error) {
	var out struct {
		Message string `json:"message"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/chat", map[string]string{"message": text}, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

// Transcribe uploads audio as the multipart field "audio".
func (c *Client) Transcribe(ctx context.Context, audio sessionsvc.Audio) (string, error) {
	format := audio.Format
	if format == "" {
		format = "wav"
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("audio", "audio."+format)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(audio.Data); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/transcribe", body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var out struct {
		Text string `json:"text"`
	}
	if err := c.do(req, "/api/transcribe", func(resp *http.Response) error {
		return json.NewDecoder(resp.Body).Decode(&out)
	}); err != nil {
		return "", err
	}
	return out.Text, nil
}

// Synthesize returns the spoken form of text.
func (c *Client) Synthesize(ctx context.Context, text string) (sessionsvc.Audio, error) {
	buf, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return sessionsvc.Audio{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/tts", bytes.NewReader(buf))
	if err != nil {
		return sessionsvc.Audio{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var audio sessionsvc.Audio
	err = c.do(req, "/api/tts", func(resp *http.Response) error {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		audio = sessionsvc.Audio{Data: data, Format: formatFromContentType(resp.Header.Get("Content-Type"))}
		return nil
	})
	return audio, err
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload any, out any) error {
	var body io.Reader = http.NoBody
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.do(req, path, func(resp *http.Response) error {
		return json.NewDecoder(resp.Body).Decode(out)
	})
}

func (c *Client) do(req *http.Request, endpoint string, decode func(*http.Response) error) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&errBody)
		return &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode, Message: errBody.Error}
	}

	if err := decode(resp); err != nil {
		return fmt.Errorf("%s: decode response: %w", endpoint, err)
	}
	return nil
}

func formatFromContentType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "mp3"
	}
	switch mediaType {
	case "audio/wav", "audio/x-wav":
		return "wav"
	case "audio/ogg":
		return "ogg"
	case "audio/aac":
		return "aac"
	case "audio/flac":
		return "flac"
	case "audio/webm":
		return "webm"
	default:
		return "mp3"
	}
}
