package speech

import "time"

// TranscribeResponse 语音识别响应
type TranscribeResponse struct {
	Text      string    `json:"text"`
	Language  string    `json:"language,omitempty"`
	Duration  float64   `json:"duration,omitempty"` // seconds
	RequestID string    `json:"requestId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// SynthesizeResponse 语音合成响应
type SynthesizeResponse struct {
	AudioData []byte    `json:"-"`
	Format    string    `json:"format"`
	RequestID string    `json:"requestId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
