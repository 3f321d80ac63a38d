package session

import (
	"context"

	"github.com/zhouzirui/gyb-chat/backend/internal/model/chat"
)

// Audio is an encoded audio payload, e.g. a finished recording or a
// synthesized reply.
type Audio struct {
	Data   []byte
	Format string
}

// ChatClient asks the text-generation service for a reply.
type ChatClient interface {
	Chat(ctx context.Context, text string) (string, error)
}

// Transcriber turns a recording into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio Audio) (string, error)
}

// Synthesizer turns reply text into audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (Audio, error)
}

// Player starts playback of synthesized audio.
type Player interface {
	Play(ctx context.Context, audio Audio) (Playback, error)
}

// Playback is the handle of audio currently playing. ID identifies it in
// end-of-playback reports.
type Playback interface {
	ID() string
	Stop()
}

// Microphone grants access to audio capture. Open returns
// ErrPermissionDenied (possibly wrapped) when the user refuses access.
type Microphone interface {
	Open(ctx context.Context) (Capture, error)
}

// Capture is an active recording. Stop ends it and yields the whole payload.
type Capture interface {
	Stop(ctx context.Context) (Audio, error)
}

// Conversation is the append-only message list the controller writes to.
type Conversation interface {
	Append(sender chat.Sender, content string) chat.Message
	Messages() []chat.Message
}
