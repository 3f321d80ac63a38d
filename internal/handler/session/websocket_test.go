package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"github.com/zhouzirui/gyb-chat/backend/internal/model/assistant"
	"github.com/zhouzirui/gyb-chat/backend/internal/model/chat"
	"github.com/zhouzirui/gyb-chat/backend/internal/model/speech"
	chatservice "github.com/zhouzirui/gyb-chat/backend/internal/service/chat"
)

type fakeReplier struct {
	mu      sync.Mutex
	history []chat.Message
}

func (f *fakeReplier) Reply(_ context.Context, history []chat.Message, userText string) (string, error) {
	f.mu.Lock()
	f.history = history
	f.mu.Unlock()
	if userText == "fail" {
		return "", errors.New("upstream down")
	}
	return "hi there", nil
}

type fakeSpeech struct {
	mu    sync.Mutex
	audio []byte
}

func (f *fakeSpeech) TranscribeAudio(_ context.Context, req *speech.TranscribeRequest) (*speech.TranscribeResponse, error) {
	data, _ := io.ReadAll(req.AudioData)
	f.mu.Lock()
	f.audio = data
	f.mu.Unlock()
	return &speech.TranscribeResponse{Text: "test"}, nil
}

func (f *fakeSpeech) SynthesizeSpeech(_ context.Context, req *speech.SynthesizeRequest) (*speech.SynthesizeResponse, error) {
	return &speech.SynthesizeResponse{AudioData: []byte("ID3" + req.Text), Format: "mp3"}, nil
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type testServer struct {
	srv     *httptest.Server
	chatSvc *chatservice.Service
	speech  *fakeSpeech
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithLimit(t, 0)
}

func newTestServerWithLimit(t *testing.T, maxAudio int64) *testServer {
	t.Helper()
	chatSvc := chatservice.NewService(assistant.NewMemoryStore(assistant.Seed()))
	speechSvc := &fakeSpeech{}

	r := chi.NewRouter()
	NewWebSocketHandler(chatSvc, &fakeReplier{}, speechSvc, maxAudio, zaptest.NewLogger(t)).RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, chatSvc: chatSvc, speech: speechSvc}
}

func (s *testServer) wsURL(sessionID string) string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/session/" + sessionID + "/ws"
}

func (s *testServer) dial(t *testing.T) (*websocket.Conn, string) {
	t.Helper()
	session, err := s.chatSvc.CreateSession(context.Background())
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}
	conn, _, err := websocket.DefaultDialer.Dial(s.wsURL(session.ID), nil)
	if err != nil {
		t.Fatalf("Dial err: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, session.ID
}

func sendJSON(t *testing.T, conn *websocket.Conn, msgType string, data any) {
	t.Helper()
	msg := map[string]any{"type": msgType}
	if data != nil {
		msg["data"] = data
	}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("WriteJSON err: %v", err)
	}
}

// readUntil reads messages until match returns true.
func readUntil(t *testing.T, conn *websocket.Conn, match func(envelope) bool) envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("ReadJSON err: %v", err)
		}
		if match(env) {
			return env
		}
	}
}

func stateMatching(t *testing.T, pred func(chat.Snapshot) bool) func(envelope) bool {
	return func(env envelope) bool {
		if env.Type != "state" {
			return false
		}
		var snap chat.Snapshot
		if err := json.Unmarshal(env.Data, &snap); err != nil {
			t.Fatalf("decode state: %v", err)
		}
		return pred(snap)
	}
}

func TestWebSocketInitialStateHasGreeting(t *testing.T) {
	s := newTestServer(t)
	conn, sessionID := s.dial(t)

	env := readUntil(t, conn, func(e envelope) bool { return e.Type == "state" })
	var snap chat.Snapshot
	if err := json.Unmarshal(env.Data, &snap); err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if snap.SessionID != sessionID || len(snap.Messages) != 1 || snap.Messages[0].Sender != chat.SenderBot {
		t.Fatalf("unexpected initial state: %+v", snap)
	}
	if snap.IsLoading || snap.IsRecording || snap.IsTTSEnabled || snap.CanSend {
		t.Fatalf("unexpected flags: %+v", snap)
	}
}

func TestWebSocketSendAppendsReply(t *testing.T) {
	s := newTestServer(t)
	conn, _ := s.dial(t)

	sendJSON(t, conn, "send", map[string]string{"text": "hello"})

	readUntil(t, conn, stateMatching(t, func(snap chat.Snapshot) bool {
		return snap.IsLoading && snap.IsTyping && len(snap.Messages) == 2
	}))
	readUntil(t, conn, stateMatching(t, func(snap chat.Snapshot) bool {
		if snap.IsLoading || len(snap.Messages) != 3 {
			return false
		}
		if snap.Messages[1].Content != "hello" || snap.Messages[2].Content != "hi there" || snap.Messages[2].Sender != chat.SenderBot {
			t.Fatalf("unexpected messages: %+v", snap.Messages)
		}
		return true
	}))
}

func TestWebSocketBackToBackSendsKeepBothMessages(t *testing.T) {
	s := newTestServer(t)
	conn, _ := s.dial(t)

	sendJSON(t, conn, "send", map[string]string{"text": "first"})
	sendJSON(t, conn, "send", map[string]string{"text": "second"})

	readUntil(t, conn, stateMatching(t, func(snap chat.Snapshot) bool {
		if snap.IsLoading || len(snap.Messages) != 5 {
			return false
		}
		var users []string
		for _, m := range snap.Messages {
			if m.Sender == chat.SenderUser {
				users = append(users, m.Content)
			}
		}
		if len(users) != 2 {
			t.Fatalf("expected both user messages, got %v", users)
		}
		seen := map[string]bool{users[0]: true, users[1]: true}
		if !seen["first"] || !seen["second"] {
			t.Fatalf("unexpected user messages: %v", users)
		}
		return true
	}))
}

func TestWebSocketFailedReplyKeepsUserMessage(t *testing.T) {
	s := newTestServer(t)
	conn, _ := s.dial(t)

	sendJSON(t, conn, "input", map[string]string{"text": "fail"})
	sendJSON(t, conn, "send", nil)

	readUntil(t, conn, stateMatching(t, func(snap chat.Snapshot) bool {
		return !snap.IsLoading && len(snap.Messages) == 2 && snap.Messages[1].Content == "fail"
	}))
}

func TestWebSocketTTSPlaysAndStops(t *testing.T) {
	s := newTestServer(t)
	conn, _ := s.dial(t)

	sendJSON(t, conn, "toggle_tts", nil)
	sendJSON(t, conn, "send", map[string]string{"text": "hello"})

	env := readUntil(t, conn, func(e envelope) bool { return e.Type == "tts" })
	var tts struct {
		PlaybackID  string `json:"playbackId"`
		AudioData   string `json:"audioData"`
		ContentType string `json:"contentType"`
	}
	if err := json.Unmarshal(env.Data, &tts); err != nil {
		t.Fatalf("decode tts: %v", err)
	}
	audio, _ := base64.StdEncoding.DecodeString(tts.AudioData)
	if string(audio) != "ID3hi there" || tts.ContentType != "audio/mpeg" || tts.PlaybackID == "" {
		t.Fatalf("unexpected tts payload: %q %s %q", audio, tts.ContentType, tts.PlaybackID)
	}

	readUntil(t, conn, stateMatching(t, func(snap chat.Snapshot) bool { return snap.IsPlaying && !snap.IsLoading }))

	sendJSON(t, conn, "toggle_tts", nil)
	stop := readUntil(t, conn, func(e envelope) bool { return e.Type == "tts_stop" })
	if !strings.Contains(string(stop.Data), tts.PlaybackID) {
		t.Fatalf("tts_stop should name the playback: %s", stop.Data)
	}
	readUntil(t, conn, stateMatching(t, func(snap chat.Snapshot) bool {
		return !snap.IsTTSEnabled && !snap.IsPlaying
	}))
}

func TestWebSocketRecordingFillsInput(t *testing.T) {
	s := newTestServer(t)
	conn, _ := s.dial(t)

	sendJSON(t, conn, "record_start", map[string]any{"granted": true})
	readUntil(t, conn, stateMatching(t, func(snap chat.Snapshot) bool { return snap.IsRecording }))

	sendJSON(t, conn, "audio", map[string]any{"audioData": []byte("RI"), "format": "webm"})
	sendJSON(t, conn, "record_stop", map[string]any{"audioData": []byte("FF")})

	readUntil(t, conn, stateMatching(t, func(snap chat.Snapshot) bool {
		if snap.Recorder != chat.RecorderIdle || snap.Input != "test" {
			return false
		}
		if len(snap.Messages) != 1 {
			t.Fatalf("transcription must not send: %+v", snap.Messages)
		}
		return true
	}))

	s.speech.mu.Lock()
	defer s.speech.mu.Unlock()
	if string(s.speech.audio) != "RIFF" {
		t.Fatalf("unexpected audio: %q", s.speech.audio)
	}
}

func TestWebSocketTTSEndedMatchesPlayback(t *testing.T) {
	s := newTestServer(t)
	conn, _ := s.dial(t)

	sendJSON(t, conn, "toggle_tts", nil)
	sendJSON(t, conn, "send", map[string]string{"text": "hello"})

	env := readUntil(t, conn, func(e envelope) bool { return e.Type == "tts" })
	var tts struct {
		PlaybackID string `json:"playbackId"`
	}
	if err := json.Unmarshal(env.Data, &tts); err != nil {
		t.Fatalf("decode tts: %v", err)
	}
	readUntil(t, conn, stateMatching(t, func(snap chat.Snapshot) bool { return snap.IsPlaying && !snap.IsLoading }))

	sendJSON(t, conn, "tts_ended", map[string]string{"playbackId": "older"})
	sendJSON(t, conn, "input", map[string]string{"text": "marker"})
	readUntil(t, conn, stateMatching(t, func(snap chat.Snapshot) bool {
		if snap.Input != "marker" {
			return false
		}
		if !snap.IsPlaying {
			t.Fatal("end of another playback released the current one")
		}
		return true
	}))

	sendJSON(t, conn, "tts_ended", map[string]string{"playbackId": tts.PlaybackID})
	readUntil(t, conn, stateMatching(t, func(snap chat.Snapshot) bool { return !snap.IsPlaying }))
}

func TestWebSocketRecordingOverLimitFails(t *testing.T) {
	s := newTestServerWithLimit(t, 4)
	conn, _ := s.dial(t)

	sendJSON(t, conn, "record_start", map[string]any{"granted": true})
	readUntil(t, conn, stateMatching(t, func(snap chat.Snapshot) bool { return snap.IsRecording }))

	sendJSON(t, conn, "audio", map[string]any{"audioData": []byte("RIFF"), "format": "wav"})
	sendJSON(t, conn, "audio", map[string]any{"audioData": []byte("more")})
	env := readUntil(t, conn, func(e envelope) bool { return e.Type == "error" })
	if !strings.Contains(string(env.Data), "size limit") {
		t.Fatalf("unexpected error: %s", env.Data)
	}

	sendJSON(t, conn, "record_stop", nil)
	readUntil(t, conn, stateMatching(t, func(snap chat.Snapshot) bool {
		if snap.Recorder != chat.RecorderIdle || snap.IsRecording {
			return false
		}
		if snap.Input != "" {
			t.Fatalf("oversized recording must not fill input: %q", snap.Input)
		}
		return true
	}))

	s.speech.mu.Lock()
	defer s.speech.mu.Unlock()
	if s.speech.audio != nil {
		t.Fatalf("oversized recording reached transcription: %q", s.speech.audio)
	}
}

func TestWebSocketRejectsOversizedFrame(t *testing.T) {
	s := newTestServerWithLimit(t, 4)
	conn, _ := s.dial(t)
	readUntil(t, conn, func(e envelope) bool { return e.Type == "state" })

	big := strings.Repeat("x", int(frameOverhead)+64)
	sendJSON(t, conn, "input", map[string]string{"text": big})

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				t.Fatal("connection stayed open after an oversized frame")
			}
			return
		}
		if env.Type == "state" && strings.Contains(string(env.Data), big) {
			t.Fatal("oversized frame was accepted")
		}
	}
}

func TestWebSocketRecordingDenied(t *testing.T) {
	s := newTestServer(t)
	conn, _ := s.dial(t)

	sendJSON(t, conn, "record_start", map[string]any{"granted": false, "error": "NotAllowedError"})
	sendJSON(t, conn, "input", map[string]string{"text": "typed"})

	readUntil(t, conn, stateMatching(t, func(snap chat.Snapshot) bool {
		if snap.Input != "typed" {
			return false
		}
		if snap.IsRecording || snap.Recorder != chat.RecorderIdle {
			t.Fatalf("denied recording changed state: %+v", snap)
		}
		return true
	}))

	sendJSON(t, conn, "audio", map[string]any{"audioData": []byte("x")})
	readUntil(t, conn, func(e envelope) bool { return e.Type == "error" })
}

func TestWebSocketUnsupportedType(t *testing.T) {
	s := newTestServer(t)
	conn, _ := s.dial(t)

	sendJSON(t, conn, "dance", nil)
	env := readUntil(t, conn, func(e envelope) bool { return e.Type == "error" })
	if !strings.Contains(string(env.Data), "unsupported message type") {
		t.Fatalf("unexpected error: %s", env.Data)
	}
}

func TestWebSocketUnknownSession(t *testing.T) {
	s := newTestServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(s.wsURL("missing"), nil)
	if err == nil {
		t.Fatal("expected dial error")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %+v", resp)
	}
}

func TestWebSocketSecondAttachRejected(t *testing.T) {
	s := newTestServer(t)
	_, sessionID := s.dial(t)

	_, resp, err := websocket.DefaultDialer.Dial(s.wsURL(sessionID), nil)
	if err == nil {
		t.Fatal("expected dial error")
	}
	if resp == nil || resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %+v", resp)
	}
}

func TestWebSocketCloseEndsSession(t *testing.T) {
	s := newTestServer(t)
	conn, sessionID := s.dial(t)
	readUntil(t, conn, func(e envelope) bool { return e.Type == "state" })

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := s.chatSvc.GetSession(context.Background(), sessionID); errors.Is(err, chatservice.ErrSessionNotFound) {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("session still present after close")
}
