package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/zhouzirui/gyb-chat/backend/internal/model/chat"
	chatsvc "github.com/zhouzirui/gyb-chat/backend/internal/service/chat"
)

const greeting = "Hello! I'm MR GYB AI Chatbot. How can I assist you today?"

type fakeChat struct {
	mu      sync.Mutex
	reply   string
	err     error
	calls   []string
	started chan struct{}
	release chan struct{}
}

func (f *fakeChat) Chat(ctx context.Context, text string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	return f.reply, f.err
}

func (f *fakeChat) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSTT struct {
	text  string
	err   error
	audio Audio
}

func (f *fakeSTT) Transcribe(_ context.Context, audio Audio) (string, error) {
	f.audio = audio
	return f.text, f.err
}

type fakeTTS struct {
	err    error
	texts  []string
	during func()
}

func (f *fakeTTS) Synthesize(_ context.Context, text string) (Audio, error) {
	f.texts = append(f.texts, text)
	if f.during != nil {
		f.during()
	}
	if f.err != nil {
		return Audio{}, f.err
	}
	return Audio{Data: []byte("mp3:" + text), Format: "mp3"}, nil
}

type fakePlayback struct {
	id      string
	stopped bool
}

func (p *fakePlayback) ID() string { return p.id }
func (p *fakePlayback) Stop()      { p.stopped = true }

type fakePlayer struct {
	err    error
	played []*fakePlayback
}

func (f *fakePlayer) Play(_ context.Context, _ Audio) (Playback, error) {
	if f.err != nil {
		return nil, f.err
	}
	pb := &fakePlayback{id: fmt.Sprintf("pb-%d", len(f.played)+1)}
	f.played = append(f.played, pb)
	return pb, nil
}

type fakeCapture struct {
	audio   Audio
	err     error
	stopped bool
}

func (c *fakeCapture) Stop(context.Context) (Audio, error) {
	c.stopped = true
	return c.audio, c.err
}

type fakeMic struct {
	capture *fakeCapture
	err     error
}

func (m *fakeMic) Open(context.Context) (Capture, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.capture, nil
}

type fixture struct {
	ctrl   *Controller
	conv   *chatsvc.Conversation
	chat   *fakeChat
	stt    *fakeSTT
	tts    *fakeTTS
	player *fakePlayer
	mic    *fakeMic
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conv := chatsvc.NewConversation(chatsvc.NewIDClock())
	conv.Append(chat.SenderBot, greeting)

	f := &fixture{
		conv:   conv,
		chat:   &fakeChat{reply: "hi there"},
		stt:    &fakeSTT{text: "test"},
		tts:    &fakeTTS{},
		player: &fakePlayer{},
		mic:    &fakeMic{capture: &fakeCapture{audio: Audio{Data: []byte("RIFF"), Format: "wav"}}},
	}
	f.ctrl = NewController(Dependencies{
		SessionID:    "s-1",
		Conversation: conv,
		Chat:         f.chat,
		STT:          f.stt,
		TTS:          f.tts,
		Player:       f.player,
		Microphone:   f.mic,
	}, zaptest.NewLogger(t))
	return f
}

func TestSendMessageAppendsUserThenBot(t *testing.T) {
	f := newFixture(t)

	if err := f.ctrl.SendMessage(context.Background(), "hello"); err != nil {
		t.Fatalf("SendMessage err: %v", err)
	}

	msgs := f.conv.Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	want := []struct {
		sender  chat.Sender
		content string
	}{
		{chat.SenderBot, greeting},
		{chat.SenderUser, "hello"},
		{chat.SenderBot, "hi there"},
	}
	for i, w := range want {
		if msgs[i].Sender != w.sender || msgs[i].Content != w.content {
			t.Fatalf("message %d = %+v, want %s %q", i, msgs[i], w.sender, w.content)
		}
	}
	if !(msgs[0].ID < msgs[1].ID && msgs[1].ID < msgs[2].ID) {
		t.Fatalf("ids not increasing: %d %d %d", msgs[0].ID, msgs[1].ID, msgs[2].ID)
	}
	if f.ctrl.State().Loading {
		t.Fatal("loading should be cleared")
	}
	if len(f.tts.texts) != 0 {
		t.Fatal("tts must not be called while disabled")
	}
}

func TestSendMessageIgnoresBlankText(t *testing.T) {
	f := newFixture(t)

	for _, text := range []string{"", "   ", "\n\t"} {
		if err := f.ctrl.SendMessage(context.Background(), text); !errors.Is(err, ErrEmptyMessage) {
			t.Fatalf("expected ErrEmptyMessage for %q, got %v", text, err)
		}
	}
	if f.conv.Len() != 1 {
		t.Fatalf("conversation changed: %d messages", f.conv.Len())
	}
	if f.chat.callCount() != 0 {
		t.Fatal("no request expected")
	}
}

func TestSendMessageFailureKeepsUserMessageOnly(t *testing.T) {
	f := newFixture(t)
	f.chat.err = errors.New("upstream 500")

	err := f.ctrl.SendMessage(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected error")
	}

	msgs := f.conv.Messages()
	if len(msgs) != 2 || msgs[1].Sender != chat.SenderUser {
		t.Fatalf("unexpected conversation: %+v", msgs)
	}
	snap := f.ctrl.Snapshot()
	if snap.IsLoading || snap.IsTyping {
		t.Fatalf("loading flags not cleared: %+v", snap)
	}
}

func TestSendMessageSpeaksReplyWhenTTSEnabled(t *testing.T) {
	f := newFixture(t)
	f.ctrl.ToggleTTS()

	if err := f.ctrl.SendMessage(context.Background(), "hello"); err != nil {
		t.Fatalf("SendMessage err: %v", err)
	}
	if len(f.tts.texts) != 1 || f.tts.texts[0] != "hi there" {
		t.Fatalf("unexpected tts calls: %v", f.tts.texts)
	}
	if len(f.player.played) != 1 {
		t.Fatalf("expected one playback, got %d", len(f.player.played))
	}
	if !f.ctrl.Snapshot().IsPlaying {
		t.Fatal("expected playback handle to be held")
	}
}

func TestNewPlaybackStopsPrevious(t *testing.T) {
	f := newFixture(t)
	f.ctrl.ToggleTTS()

	_ = f.ctrl.SendMessage(context.Background(), "one")
	_ = f.ctrl.SendMessage(context.Background(), "two")

	if len(f.player.played) != 2 {
		t.Fatalf("expected two playbacks, got %d", len(f.player.played))
	}
	if !f.player.played[0].stopped || f.player.played[1].stopped {
		t.Fatal("only the previous playback should be stopped")
	}
}

func TestTTSFailureKeepsBotMessage(t *testing.T) {
	f := newFixture(t)
	f.tts.err = errors.New("tts down")
	f.ctrl.ToggleTTS()

	if err := f.ctrl.SendMessage(context.Background(), "hello"); err != nil {
		t.Fatalf("SendMessage err: %v", err)
	}
	if f.conv.Len() != 3 {
		t.Fatalf("expected bot reply to stay, got %d messages", f.conv.Len())
	}
	if len(f.player.played) != 0 {
		t.Fatal("nothing should play")
	}
	if f.ctrl.State().Loading {
		t.Fatal("loading should be cleared")
	}
}

func TestToggleTTSOffStopsPlayback(t *testing.T) {
	f := newFixture(t)
	if !f.ctrl.ToggleTTS() {
		t.Fatal("expected tts enabled")
	}
	_ = f.ctrl.SendMessage(context.Background(), "hello")

	if f.ctrl.ToggleTTS() {
		t.Fatal("expected tts disabled")
	}
	if !f.player.played[0].stopped {
		t.Fatal("playback should be stopped")
	}
	if f.ctrl.Snapshot().IsPlaying {
		t.Fatal("playback handle should be released")
	}

	// a second toggle-off path with nothing playing is harmless
	f.ctrl.ToggleTTS()
	f.ctrl.ToggleTTS()
}

func TestPlaybackFinishedReleasesHandle(t *testing.T) {
	f := newFixture(t)
	f.ctrl.ToggleTTS()
	_ = f.ctrl.SendMessage(context.Background(), "hello")

	f.ctrl.PlaybackFinished(f.player.played[0].ID())
	if f.ctrl.Snapshot().IsPlaying {
		t.Fatal("expected handle released")
	}
}

func TestLateEndOfPreviousReplyKeepsCurrentHandle(t *testing.T) {
	f := newFixture(t)
	f.ctrl.ToggleTTS()
	_ = f.ctrl.SendMessage(context.Background(), "one")
	_ = f.ctrl.SendMessage(context.Background(), "two")

	f.ctrl.PlaybackFinished(f.player.played[0].ID())
	if !f.ctrl.Snapshot().IsPlaying {
		t.Fatal("end of the first reply must not release the second")
	}

	f.ctrl.ToggleTTS()
	if !f.player.played[1].stopped {
		t.Fatal("toggle-off should stop the second reply")
	}
}

func TestTTSDisabledDuringSynthesisDiscardsAudio(t *testing.T) {
	f := newFixture(t)
	f.ctrl.ToggleTTS()
	_ = f.ctrl.SendMessage(context.Background(), "one")

	f.tts.during = func() { f.ctrl.ToggleTTS() }
	if err := f.ctrl.SendMessage(context.Background(), "two"); err != nil {
		t.Fatalf("SendMessage err: %v", err)
	}
	if len(f.player.played) != 1 {
		t.Fatalf("audio should not reach the player, got %d playbacks", len(f.player.played))
	}
	if f.ctrl.Snapshot().IsPlaying {
		t.Fatal("nothing should be playing")
	}
}

func TestFailedPlayKeepsPreviousReply(t *testing.T) {
	f := newFixture(t)
	f.ctrl.ToggleTTS()
	_ = f.ctrl.SendMessage(context.Background(), "one")

	f.player.err = errors.New("device busy")
	_ = f.ctrl.SendMessage(context.Background(), "two")

	if f.player.played[0].stopped {
		t.Fatal("previous reply should keep playing when the new one cannot start")
	}
	if !f.ctrl.Snapshot().IsPlaying {
		t.Fatal("previous handle should still be held")
	}
}

func TestLoadingWhileRequestInFlight(t *testing.T) {
	f := newFixture(t)
	f.chat.started = make(chan struct{}, 2)
	f.chat.release = make(chan struct{})

	f.ctrl.SetInput("hello")
	done := make(chan error, 1)
	go func() { done <- f.ctrl.Submit(context.Background()) }()

	select {
	case <-f.chat.started:
	case <-time.After(time.Second):
		t.Fatal("request not started")
	}

	snap := f.ctrl.Snapshot()
	if !snap.IsLoading || !snap.IsTyping {
		t.Fatalf("expected loading during request: %+v", snap)
	}
	if snap.Input != "" {
		t.Fatalf("input should be cleared after submit, got %q", snap.Input)
	}

	f.ctrl.SetInput("again")
	if f.ctrl.CanSend() {
		t.Fatal("send control must be disabled while loading")
	}
	if err := f.ctrl.Submit(context.Background()); !errors.Is(err, ErrSendDisabled) {
		t.Fatalf("expected ErrSendDisabled, got %v", err)
	}

	close(f.chat.release)
	if err := <-done; err != nil {
		t.Fatalf("Submit err: %v", err)
	}
	if !f.ctrl.CanSend() {
		t.Fatal("send control should be enabled again")
	}
}

func TestConcurrentSubmitsSendInputOnce(t *testing.T) {
	f := newFixture(t)
	f.ctrl.SetInput("hello")

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() { errs <- f.ctrl.Submit(context.Background()) }()
	}

	var sent, disabled int
	for i := 0; i < 2; i++ {
		err := <-errs
		switch {
		case err == nil:
			sent++
		case errors.Is(err, ErrSendDisabled):
			disabled++
		default:
			t.Fatalf("unexpected Submit err: %v", err)
		}
	}
	if sent != 1 || disabled != 1 {
		t.Fatalf("expected one send and one refusal, got %d/%d", sent, disabled)
	}
	if f.chat.callCount() != 1 || f.chat.calls[0] != "hello" {
		t.Fatalf("unexpected chat calls: %v", f.chat.calls)
	}
}

func TestSendMessageHasNoInternalGuard(t *testing.T) {
	f := newFixture(t)
	f.chat.started = make(chan struct{}, 2)
	f.chat.release = make(chan struct{})

	var wg sync.WaitGroup
	for _, text := range []string{"a", "b"} {
		wg.Add(1)
		go func(text string) {
			defer wg.Done()
			_ = f.ctrl.SendMessage(context.Background(), text)
		}(text)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-f.chat.started:
		case <-time.After(time.Second):
			t.Fatal("both requests should be issued")
		}
	}
	close(f.chat.release)
	wg.Wait()

	if f.chat.callCount() != 2 {
		t.Fatalf("expected 2 requests, got %d", f.chat.callCount())
	}
	if f.conv.Len() != 5 {
		t.Fatalf("expected 5 messages, got %d", f.conv.Len())
	}
}

func TestRecordingTranscriptFillsInputOnly(t *testing.T) {
	f := newFixture(t)

	if err := f.ctrl.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording err: %v", err)
	}
	if snap := f.ctrl.Snapshot(); !snap.IsRecording || snap.Recorder != chat.RecorderRecording {
		t.Fatalf("expected recording: %+v", snap)
	}

	if err := f.ctrl.StopRecording(context.Background()); err != nil {
		t.Fatalf("StopRecording err: %v", err)
	}

	snap := f.ctrl.Snapshot()
	if snap.Input != "test" {
		t.Fatalf("expected input %q, got %q", "test", snap.Input)
	}
	if snap.IsRecording || snap.Recorder != chat.RecorderIdle {
		t.Fatalf("expected idle recorder: %+v", snap)
	}
	if f.conv.Len() != 1 || f.chat.callCount() != 0 {
		t.Fatal("transcription must not send a message")
	}
	if !f.mic.capture.stopped {
		t.Fatal("capture should be stopped")
	}
	if string(f.stt.audio.Data) != "RIFF" || f.stt.audio.Format != "wav" {
		t.Fatalf("unexpected audio sent to stt: %+v", f.stt.audio)
	}
}

func TestStartRecordingPermissionDenied(t *testing.T) {
	f := newFixture(t)
	f.mic.err = ErrPermissionDenied

	err := f.ctrl.StartRecording(context.Background())
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if snap := f.ctrl.Snapshot(); snap.IsRecording || snap.Recorder != chat.RecorderIdle {
		t.Fatalf("state changed after denial: %+v", snap)
	}
	if err := f.ctrl.StopRecording(context.Background()); err != nil {
		t.Fatalf("StopRecording err: %v", err)
	}
	if f.stt.audio.Data != nil {
		t.Fatal("nothing should be transcribed")
	}
}

func TestStartRecordingTwice(t *testing.T) {
	f := newFixture(t)
	if err := f.ctrl.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording err: %v", err)
	}
	if err := f.ctrl.StartRecording(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestTranscriptionFailureReturnsToIdle(t *testing.T) {
	f := newFixture(t)
	f.stt.err = errors.New("whisper down")
	f.ctrl.SetInput("draft")

	_ = f.ctrl.StartRecording(context.Background())
	if err := f.ctrl.StopRecording(context.Background()); err == nil {
		t.Fatal("expected error")
	}

	snap := f.ctrl.Snapshot()
	if snap.Recorder != chat.RecorderIdle || snap.Input != "draft" {
		t.Fatalf("unexpected state: %+v", snap)
	}
}

func TestOnChangeReceivesSnapshots(t *testing.T) {
	f := newFixture(t)

	var snaps []chat.Snapshot
	f.ctrl.OnChange(func(s chat.Snapshot) { snaps = append(snaps, s) })

	_ = f.ctrl.SendMessage(context.Background(), "hello")

	if len(snaps) < 3 {
		t.Fatalf("expected at least 3 snapshots, got %d", len(snaps))
	}
	if !snaps[0].IsLoading || len(snaps[0].Messages) != 2 {
		t.Fatalf("first snapshot should show the user message while loading: %+v", snaps[0])
	}
	last := snaps[len(snaps)-1]
	if last.IsLoading || len(last.Messages) != 3 || last.SessionID != "s-1" {
		t.Fatalf("unexpected final snapshot: %+v", last)
	}
}

func TestCloseStopsPlaybackAndCapture(t *testing.T) {
	f := newFixture(t)
	f.ctrl.ToggleTTS()
	_ = f.ctrl.SendMessage(context.Background(), "hello")
	_ = f.ctrl.StartRecording(context.Background())

	f.ctrl.Close(context.Background())

	if !f.player.played[0].stopped || !f.mic.capture.stopped {
		t.Fatal("close should stop playback and capture")
	}
}
