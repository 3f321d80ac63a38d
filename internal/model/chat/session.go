package chat

import "time"

// Session captures one page view. Nothing outlives it.
type Session struct {
	ID        string    `json:"id"`
	ProfileID string    `json:"profileId"`
	CreatedAt time.Time `json:"createdAt"`
}

// RecorderState is the microphone flow of a session.
type RecorderState string

const (
	RecorderIdle         RecorderState = "idle"
	RecorderRecording    RecorderState = "recording"
	RecorderTranscribing RecorderState = "transcribing"
)

// Snapshot is the render model pushed to the page after every change.
type Snapshot struct {
	SessionID    string        `json:"sessionId,omitempty"`
	Messages     []Message     `json:"messages"`
	Input        string        `json:"input"`
	IsLoading    bool          `json:"isLoading"`
	IsTyping     bool          `json:"isTyping"`
	IsRecording  bool          `json:"isRecording"`
	IsTTSEnabled bool          `json:"isTTSEnabled"`
	IsPlaying    bool          `json:"isPlaying"`
	Recorder     RecorderState `json:"recorder"`
	CanSend      bool          `json:"canSend"`
}
