// chatconsole drives a chat session from the terminal against a running
// backend. Recording reads an audio file; playback writes the reply audio
// to a temp file.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/gyb-chat/backend/internal/client"
	"github.com/zhouzirui/gyb-chat/backend/internal/model/chat"
	chatsvc "github.com/zhouzirui/gyb-chat/backend/internal/service/chat"
	"github.com/zhouzirui/gyb-chat/backend/internal/service/session"
	"github.com/zhouzirui/gyb-chat/backend/internal/service/speech"
	"github.com/zhouzirui/gyb-chat/backend/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	baseURL := flag.String("api", envOr("GYB_API_URL", "http://localhost:8080"), "backend base URL")
	timeout := flag.Duration("timeout", 60*time.Second, "per request timeout")
	logLevel := flag.String("log", "warn", "log level")
	flag.Parse()

	log, err := logger.New(*logLevel, "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	api := client.New(*baseURL, nil)

	ctx := context.Background()
	profileCtx, cancel := context.WithTimeout(ctx, *timeout)
	profile, err := api.Assistant(profileCtx)
	cancel()
	if err != nil {
		log.Fatal("backend unreachable", zap.String("api", *baseURL), zap.Error(err))
	}

	conversation := chatsvc.NewConversation(chatsvc.NewIDClock())
	conversation.Append(chat.SenderBot, profile.Greeting)

	mic := &fileMicrophone{}
	ctrl := session.NewController(session.Dependencies{
		SessionID:    "console",
		Conversation: conversation,
		Chat:         api,
		STT:          api,
		TTS:          api,
		Player:       &tempFilePlayer{},
		Microphone:   mic,
	}, log)

	view := &consoleView{botName: profile.Name}
	ctrl.OnChange(view.render)
	view.render(ctrl.Snapshot())

	fmt.Println("commands: /tts  /record <audio file>  /send  /quit   (anything else is sent as a message)")

	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)

		reqCtx, cancel := context.WithTimeout(ctx, *timeout)
		switch {
		case line == "/quit":
			cancel()
			ctrl.Close(ctx)
			return
		case line == "/tts":
			fmt.Printf("text-to-speech: %v\n", ctrl.ToggleTTS())
		case strings.HasPrefix(line, "/record"):
			mic.path = strings.TrimSpace(strings.TrimPrefix(line, "/record"))
			if err := ctrl.StartRecording(reqCtx); err != nil {
				fmt.Printf("recording failed: %v\n", err)
				break
			}
			if err := ctrl.StopRecording(reqCtx); err != nil {
				fmt.Printf("transcription failed: %v\n", err)
				break
			}
			fmt.Printf("input: %q  (/send to send it)\n", ctrl.State().Input)
		case line == "/send":
			submit(reqCtx, ctrl)
		default:
			ctrl.SetInput(line)
			submit(reqCtx, ctrl)
		}
		cancel()
	}
}

func submit(ctx context.Context, ctrl *session.Controller) {
	err := ctrl.Submit(ctx)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrSendDisabled):
		fmt.Println("nothing to send")
	default:
		fmt.Printf("request failed: %v\n", err)
	}
}

type consoleView struct {
	mu      sync.Mutex
	botName string
	shown   int
	typing  bool
}

func (v *consoleView) render(s chat.Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, msg := range s.Messages[v.shown:] {
		name := "you"
		if msg.Sender == chat.SenderBot {
			name = v.botName
		}
		fmt.Printf("[%s] %s\n", name, msg.Content)
	}
	v.shown = len(s.Messages)

	if s.IsTyping && !v.typing {
		fmt.Printf("%s is typing...\n", v.botName)
	}
	v.typing = s.IsTyping
}

// fileMicrophone "records" by reading the file named in the last /record.
type fileMicrophone struct {
	path string
}

func (m *fileMicrophone) Open(context.Context) (session.Capture, error) {
	if m.path == "" {
		return nil, fmt.Errorf("%w: no audio file given", session.ErrPermissionDenied)
	}
	if _, err := os.Stat(m.path); err != nil {
		return nil, err
	}
	return fileCapture(m.path), nil
}

type fileCapture string

func (c fileCapture) Stop(context.Context) (session.Audio, error) {
	data, err := os.ReadFile(string(c))
	if err != nil {
		return session.Audio{}, err
	}
	return session.Audio{Data: data, Format: speech.InferAudioFormat(string(c))}, nil
}

type tempFilePlayer struct{}

func (tempFilePlayer) Play(_ context.Context, audio session.Audio) (session.Playback, error) {
	f, err := os.CreateTemp("", "gyb-reply-*."+audio.Format)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if _, err := f.Write(audio.Data); err != nil {
		return nil, err
	}
	fmt.Printf("(reply audio: %s)\n", f.Name())
	return tempFilePlayback(f.Name()), nil
}

type tempFilePlayback string

func (p tempFilePlayback) ID() string { return string(p) }

func (p tempFilePlayback) Stop() {
	_ = os.Remove(string(p))
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
