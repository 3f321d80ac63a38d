package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/gyb-chat/backend/internal/model/chat"
	"github.com/zhouzirui/gyb-chat/backend/internal/model/speech"
	chatservice "github.com/zhouzirui/gyb-chat/backend/internal/service/chat"
	sessionsvc "github.com/zhouzirui/gyb-chat/backend/internal/service/session"
	"github.com/zhouzirui/gyb-chat/backend/pkg/utils"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second

	defaultMaxAudioBytes int64 = 32 << 20
	// frameOverhead covers the JSON envelope around a base64 audio chunk.
	frameOverhead int64 = 4 << 10
)

// Replier produces the assistant reply for a user message.
type Replier interface {
	Reply(ctx context.Context, history []chat.Message, userText string) (string, error)
}

// SpeechService 抽象语音业务，便于测试与替换实现
type SpeechService interface {
	TranscribeAudio(ctx context.Context, req *speech.TranscribeRequest) (*speech.TranscribeResponse, error)
	SynthesizeSpeech(ctx context.Context, req *speech.SynthesizeRequest) (*speech.SynthesizeResponse, error)
}

// WebSocketHandler attaches a page to its session. Each connection runs
// one session controller; closing the connection ends the session.
type WebSocketHandler struct {
	chatSvc   *chatservice.Service
	ai        Replier
	speechSvc SpeechService
	maxAudio  int64
	upgrader  websocket.Upgrader
	log       *zap.Logger

	mu       sync.Mutex
	attached map[string]struct{}
}

// NewWebSocketHandler 创建WebSocket处理器. speechSvc may be nil, in which
// case recording and TTS are unavailable on the socket. maxAudioBytes caps
// one recording; non-positive means 32MB.
func NewWebSocketHandler(chatSvc *chatservice.Service, ai Replier, speechSvc SpeechService, maxAudioBytes int64, log *zap.Logger) *WebSocketHandler {
	if log == nil {
		log = zap.NewNop()
	}
	if maxAudioBytes <= 0 {
		maxAudioBytes = defaultMaxAudioBytes
	}
	return &WebSocketHandler{
		chatSvc:   chatSvc,
		ai:        ai,
		speechSvc: speechSvc,
		maxAudio:  maxAudioBytes,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log:      log.With(zap.String("component", "websocket")),
		attached: make(map[string]struct{}),
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/session/{sessionID}/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
}

type textMessage struct {
	Text string `json:"text"`
}

type playbackMessage struct {
	PlaybackID string `json:"playbackId"`
}

type recordStartMessage struct {
	Granted bool   `json:"granted"`
	Error   string `json:"error"`
}

// AudioMessage carries a recorded chunk; AudioData is base64 in JSON.
type AudioMessage struct {
	AudioData []byte `json:"audioData"`
	Format    string `json:"format"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// handleWebSocket 处理WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if h.ai == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "chat service unavailable")
		return
	}

	conversation, err := h.chatSvc.Conversation(r.Context(), sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}

	if !h.attach(sessionID) {
		utils.RespondError(w, http.StatusConflict, "session already attached")
		return
	}
	defer h.detach(sessionID)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	log := h.log.With(zap.String("session_id", sessionID))
	log.Info("connection opened")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ws := &wsConn{conn: conn, sessionID: sessionID, log: log}
	mic := &wsMicrophone{limit: h.maxAudio}

	deps := sessionsvc.Dependencies{
		SessionID:    sessionID,
		Conversation: conversation,
		Chat:         &chatAdapter{ai: h.ai, conversation: conversation},
	}
	if h.speechSvc != nil {
		adapter := &speechAdapter{svc: h.speechSvc}
		deps.STT = adapter
		deps.TTS = adapter
		deps.Player = &wsPlayer{ws: ws}
		deps.Microphone = mic
	}

	ctrl := sessionsvc.NewController(deps, h.log)
	ctrl.OnChange(func(s chat.Snapshot) {
		ws.send("state", s)
	})

	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		ctrl.Close(context.Background())
		h.chatSvc.EndSession(context.Background(), sessionID)
		log.Info("connection closed, session ended")
	}()

	// one frame holds at most a whole recording, base64 encoded
	conn.SetReadLimit(base64Len(h.maxAudio) + frameOverhead)
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	go ws.pingLoop(ctx)

	ws.send("state", ctrl.Snapshot())

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("read error", zap.Error(err))
			}
			return
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))

		if msg.SessionID != "" && msg.SessionID != sessionID {
			ws.sendError("session mismatch")
			continue
		}

		h.handleMessage(ctx, ws, ctrl, mic, &wg, &msg)
	}
}

// handleMessage runs quick state updates inline and anything that waits on
// an upstream service in its own goroutine, so toggles and input keep
// flowing while a reply or transcription is pending.
func (h *WebSocketHandler) handleMessage(ctx context.Context, ws *wsConn, ctrl *sessionsvc.Controller, mic *wsMicrophone, wg *sync.WaitGroup, msg *inboundMessage) {
	switch msg.Type {
	case "input":
		var text textMessage
		if err := decodeData(msg.Data, &text); err != nil {
			ws.sendError("invalid input payload")
			return
		}
		ctrl.SetInput(text.Text)

	case "send":
		var text textMessage
		if err := decodeData(msg.Data, &text); err != nil {
			ws.sendError("invalid send payload")
			return
		}
		goAsync(wg, func() {
			var err error
			if text.Text != "" {
				err = ctrl.SendMessage(ctx, text.Text)
			} else {
				err = ctrl.Submit(ctx)
			}
			if err != nil {
				ws.log.Debug("send finished with error", zap.Error(err))
			}
		})

	case "toggle_tts":
		ctrl.ToggleTTS()

	case "tts_ended":
		var ended playbackMessage
		if err := decodeData(msg.Data, &ended); err != nil {
			ws.sendError("invalid tts_ended payload")
			return
		}
		ctrl.PlaybackFinished(ended.PlaybackID)

	case "record_start":
		var start recordStartMessage
		if err := decodeData(msg.Data, &start); err != nil {
			ws.sendError("invalid record_start payload")
			return
		}
		mic.grant(start.Granted, start.Error)
		if err := ctrl.StartRecording(ctx); err != nil {
			ws.log.Debug("recording not started", zap.Error(err))
		}

	case "audio":
		if !h.handleAudioMessage(ws, mic, msg.Data) {
			return
		}

	case "record_stop":
		// a rejected final chunk still ends the recording, which then fails
		if len(msg.Data) > 0 {
			h.handleAudioMessage(ws, mic, msg.Data)
		}
		goAsync(wg, func() {
			if err := ctrl.StopRecording(ctx); err != nil {
				ws.log.Debug("recording finished with error", zap.Error(err))
			}
		})

	default:
		ws.sendError("unsupported message type: " + msg.Type)
	}
}

func (h *WebSocketHandler) handleAudioMessage(ws *wsConn, mic *wsMicrophone, raw json.RawMessage) bool {
	var audio AudioMessage
	if err := decodeData(raw, &audio); err != nil {
		ws.sendError("invalid audio payload")
		return false
	}
	if err := mic.write(audio.AudioData, audio.Format); err != nil {
		ws.sendError(err.Error())
		return false
	}
	return true
}

func (h *WebSocketHandler) attach(sessionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.attached[sessionID]; ok {
		return false
	}
	h.attached[sessionID] = struct{}{}
	return true
}

func (h *WebSocketHandler) detach(sessionID string) {
	h.mu.Lock()
	delete(h.attached, sessionID)
	h.mu.Unlock()
}

func decodeData(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func base64Len(n int64) int64 {
	return (n + 2) / 3 * 4
}

func goAsync(wg *sync.WaitGroup, fn func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		fn()
	}()
}

// wsConn serialises writes; gorilla connections allow one writer at a time.
type wsConn struct {
	mu        sync.Mutex
	conn      *websocket.Conn
	sessionID string
	log       *zap.Logger
}

func (c *wsConn) send(msgType string, data interface{}) {
	c.write(outgoingMessage{
		Type:      msgType,
		SessionID: c.sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
}

func (c *wsConn) sendError(message string) {
	c.write(outgoingMessage{
		Type:      "error",
		Data:      map[string]string{"message": message},
		Timestamp: time.Now().Unix(),
	})
}

func (c *wsConn) write(msg outgoingMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(msg); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		c.log.Debug("write failed", zap.String("type", msg.Type), zap.Error(err))
	}
}

// pingLoop 定期发送ping消息
func (c *wsConn) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
