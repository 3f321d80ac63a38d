package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/zhouzirui/gyb-chat/backend/internal/model/chat"
)

var (
	ErrEmptyMessage = errors.New("message is empty")
	// ErrSendDisabled is returned by Submit while the send control is disabled.
	ErrSendDisabled     = errors.New("send is disabled")
	ErrPermissionDenied = errors.New("microphone permission denied")
)

// Dependencies wires a Controller to its collaborators. TTS, Player and
// Microphone may be nil when the surface has no audio.
type Dependencies struct {
	SessionID    string
	Conversation Conversation
	Chat         ChatClient
	STT          Transcriber
	TTS          Synthesizer
	Player       Player
	Microphone   Microphone
}

// Controller coordinates one conversation: sends, TTS playback and the
// recorder. Its methods are safe for concurrent use.
type Controller struct {
	deps Dependencies
	log  *zap.Logger

	mu        sync.Mutex
	state     State
	playback  Playback
	capture   Capture
	listeners []func(chat.Snapshot)
}

func NewController(deps Dependencies, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{
		deps:  deps,
		log:   log.With(zap.String("component", "session"), zap.String("session_id", deps.SessionID)),
		state: NewState(),
	}
}

// OnChange registers fn to receive a snapshot after every state or
// conversation change. fn runs on the goroutine that made the change.
func (c *Controller) OnChange(fn func(chat.Snapshot)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Snapshot returns the current view of the session.
func (c *Controller) Snapshot() chat.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SendMessage appends text as a user message, asks the chat service for a
// reply and appends it as a bot message. When TTS is enabled at reply time
// the reply is also spoken. A failed chat request leaves only the user
// message. Loading is cleared on every exit path.
func (c *Controller) SendMessage(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	c.deps.Conversation.Append(chat.SenderUser, text)
	c.dispatch(Action{Type: ActionRequestStarted})
	defer c.dispatch(Action{Type: ActionRequestFinished})

	reply, err := c.deps.Chat.Chat(ctx, text)
	if err != nil {
		c.log.Error("chat request failed", zap.Error(err))
		return fmt.Errorf("chat: %w", err)
	}

	c.deps.Conversation.Append(chat.SenderBot, reply)
	c.publish()

	if c.State().TTSEnabled {
		c.speak(ctx, reply)
	}
	return nil
}

// Submit is the send control: it sends the current input and clears it.
// Taking the input and clearing it happen under one lock, so two submits
// never send the same text.
func (c *Controller) Submit(ctx context.Context) error {
	c.mu.Lock()
	if !c.state.CanSend() {
		c.mu.Unlock()
		return ErrSendDisabled
	}
	text := c.state.Input
	c.state, _ = Reduce(c.state, Action{Type: ActionSetInput})
	snap := c.snapshotLocked()
	listeners := c.listeners
	c.mu.Unlock()

	notify(listeners, snap)
	return c.SendMessage(ctx, text)
}

func (c *Controller) SetInput(text string) {
	c.dispatch(Action{Type: ActionSetInput, Text: text})
}

func (c *Controller) CanSend() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.CanSend()
}

// ToggleTTS flips TTS and returns the new value. Turning it off stops any
// playing reply and releases its handle.
func (c *Controller) ToggleTTS() bool {
	c.mu.Lock()
	next, _ := Reduce(c.state, Action{Type: ActionToggleTTS})
	c.state = next
	var stopped Playback
	if !next.TTSEnabled && c.playback != nil {
		stopped = c.playback
		c.playback = nil
	}
	snap := c.snapshotLocked()
	listeners := c.listeners
	c.mu.Unlock()

	if stopped != nil {
		stopped.Stop()
	}
	notify(listeners, snap)
	return next.TTSEnabled
}

// PlaybackFinished releases the playback handle once the player reports
// the end of the audio identified by id. Reports for an older playback are
// ignored.
func (c *Controller) PlaybackFinished(id string) {
	c.mu.Lock()
	if c.playback == nil || c.playback.ID() != id {
		c.mu.Unlock()
		return
	}
	c.playback = nil
	c.mu.Unlock()
	c.publish()
}

// Close stops playback and discards an unfinished recording.
func (c *Controller) Close(ctx context.Context) {
	c.mu.Lock()
	pb, capture := c.playback, c.capture
	c.playback, c.capture = nil, nil
	c.mu.Unlock()

	if pb != nil {
		pb.Stop()
	}
	if capture != nil {
		if _, err := capture.Stop(ctx); err != nil {
			c.log.Debug("discard capture", zap.Error(err))
		}
	}
}

func (c *Controller) speak(ctx context.Context, text string) {
	if c.deps.TTS == nil || c.deps.Player == nil {
		return
	}

	audio, err := c.deps.TTS.Synthesize(ctx, text)
	if err != nil {
		c.log.Error("speech synthesis failed", zap.Error(err))
		return
	}

	if !c.State().TTSEnabled {
		c.log.Debug("tts disabled during synthesis, audio discarded")
		return
	}

	pb, err := c.deps.Player.Play(ctx, audio)
	if err != nil {
		c.log.Error("playback failed", zap.Error(err))
		return
	}

	c.mu.Lock()
	if !c.state.TTSEnabled {
		c.mu.Unlock()
		pb.Stop()
		return
	}
	prev := c.playback
	c.playback = pb
	c.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}
	c.publish()
}

func (c *Controller) dispatch(a Action) error {
	c.mu.Lock()
	next, err := Reduce(c.state, a)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.state = next
	snap := c.snapshotLocked()
	listeners := c.listeners
	c.mu.Unlock()

	notify(listeners, snap)
	return nil
}

func (c *Controller) publish() {
	c.mu.Lock()
	snap := c.snapshotLocked()
	listeners := c.listeners
	c.mu.Unlock()
	notify(listeners, snap)
}

func (c *Controller) snapshotLocked() chat.Snapshot {
	return chat.Snapshot{
		SessionID:    c.deps.SessionID,
		Messages:     c.deps.Conversation.Messages(),
		Input:        c.state.Input,
		IsLoading:    c.state.Loading,
		IsTyping:     c.state.Typing(),
		IsRecording:  c.state.Recording(),
		IsTTSEnabled: c.state.TTSEnabled,
		IsPlaying:    c.playback != nil,
		Recorder:     c.state.Recorder,
		CanSend:      c.state.CanSend(),
	}
}

func notify(listeners []func(chat.Snapshot), snap chat.Snapshot) {
	for _, fn := range listeners {
		fn(snap)
	}
}
