package speech

import (
	"io"
)

// TranscribeRequest 语音识别请求
type TranscribeRequest struct {
	AudioData io.Reader `json:"-"`
	FileName  string    `json:"fileName"` // 上传文件名，供上游推断容器格式
	Format    string    `json:"format"`   // wav, mp3, webm, etc.
	Language  string    `json:"language"` // en, zh, etc. 留空由上游自动识别
}

// SynthesizeRequest 语音合成请求
type SynthesizeRequest struct {
	Text   string  `json:"text"`
	Voice  string  `json:"voice,omitempty"`
	Speed  float64 `json:"speed,omitempty"`  // 语速倍率 0.25-4.0
	Format string  `json:"format,omitempty"` // mp3, opus, aac, etc.
}
