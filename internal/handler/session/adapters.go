package session

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/zhouzirui/gyb-chat/backend/internal/model/speech"
	chatservice "github.com/zhouzirui/gyb-chat/backend/internal/service/chat"
	sessionsvc "github.com/zhouzirui/gyb-chat/backend/internal/service/session"
	speechsvc "github.com/zhouzirui/gyb-chat/backend/internal/service/speech"
)

var (
	errNotRecording = errors.New("not recording")
	errNoAudio      = errors.New("no audio captured")
	errAudioTooLong = errors.New("recording exceeds size limit")
)

// chatAdapter answers with the session conversation as context. The
// controller has already appended the pending user message.
type chatAdapter struct {
	ai           Replier
	conversation *chatservice.Conversation
}

func (a *chatAdapter) Chat(ctx context.Context, text string) (string, error) {
	return a.ai.Reply(ctx, a.conversation.Messages(), text)
}

type speechAdapter struct {
	svc SpeechService
}

func (a *speechAdapter) Transcribe(ctx context.Context, audio sessionsvc.Audio) (string, error) {
	resp, err := a.svc.TranscribeAudio(ctx, &speech.TranscribeRequest{
		AudioData: bytes.NewReader(audio.Data),
		Format:    audio.Format,
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (a *speechAdapter) Synthesize(ctx context.Context, text string) (sessionsvc.Audio, error) {
	resp, err := a.svc.SynthesizeSpeech(ctx, &speech.SynthesizeRequest{Text: text})
	if err != nil {
		return sessionsvc.Audio{}, err
	}
	return sessionsvc.Audio{Data: resp.AudioData, Format: resp.Format}, nil
}

// wsPlayer plays audio by handing it to the page.
type wsPlayer struct {
	ws *wsConn
}

// The page echoes playbackId in tts_ended; tts_stop names the audio to stop.
func (p *wsPlayer) Play(_ context.Context, audio sessionsvc.Audio) (sessionsvc.Playback, error) {
	pb := &wsPlayback{ws: p.ws, id: uuid.NewString()}
	p.ws.send("tts", map[string]any{
		"playbackId":  pb.id,
		"audioData":   base64.StdEncoding.EncodeToString(audio.Data),
		"format":      audio.Format,
		"contentType": speechsvc.ContentType(audio.Format),
	})
	return pb, nil
}

type wsPlayback struct {
	ws   *wsConn
	id   string
	once sync.Once
}

func (p *wsPlayback) ID() string { return p.id }

func (p *wsPlayback) Stop() {
	p.once.Do(func() {
		p.ws.send("tts_stop", map[string]string{"playbackId": p.id})
	})
}

// wsMicrophone records on the page. The page asks the user for access
// and reports the outcome with record_start, then streams audio chunks.
type wsMicrophone struct {
	limit int64

	mu      sync.Mutex
	granted bool
	reason  string
	current *wsCapture
}

func (m *wsMicrophone) grant(granted bool, reason string) {
	m.mu.Lock()
	m.granted, m.reason = granted, reason
	m.mu.Unlock()
}

func (m *wsMicrophone) Open(context.Context) (sessionsvc.Capture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.granted {
		if m.reason != "" {
			return nil, fmt.Errorf("%w: %s", sessionsvc.ErrPermissionDenied, m.reason)
		}
		return nil, sessionsvc.ErrPermissionDenied
	}
	m.current = &wsCapture{limit: m.limit}
	return m.current, nil
}

func (m *wsMicrophone) write(data []byte, format string) error {
	m.mu.Lock()
	capture := m.current
	m.mu.Unlock()
	if capture == nil {
		return errNotRecording
	}
	return capture.write(data, format)
}

// wsCapture buffers one recording. Once it would grow past limit the
// buffer is dropped and the recording fails on Stop.
type wsCapture struct {
	limit int64

	mu     sync.Mutex
	buf    bytes.Buffer
	format string
	done   bool
	err    error
}

func (c *wsCapture) write(data []byte, format string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return errNotRecording
	}
	if c.err != nil {
		return c.err
	}
	if c.limit > 0 && int64(c.buf.Len())+int64(len(data)) > c.limit {
		c.err = errAudioTooLong
		c.buf = bytes.Buffer{}
		return c.err
	}
	c.buf.Write(data)
	if format != "" {
		c.format = format
	}
	return nil
}

func (c *wsCapture) Stop(context.Context) (sessionsvc.Audio, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.done = true
	if c.err != nil {
		return sessionsvc.Audio{}, c.err
	}
	if c.buf.Len() == 0 {
		return sessionsvc.Audio{}, errNoAudio
	}
	format := c.format
	if format == "" {
		format = "wav"
	}
	return sessionsvc.Audio{Data: bytes.Clone(c.buf.Bytes()), Format: format}, nil
}
