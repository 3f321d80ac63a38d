package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/zhouzirui/gyb-chat/backend/internal/model/assistant"
	"github.com/zhouzirui/gyb-chat/backend/internal/model/chat"
)

const historyLimit = 10

var ErrEmptyMessage = errors.New("message is required")

// Turn is one history entry handed to a Generator.
type Turn struct {
	Role    Role
	Content string
}

// Role is the generator-side speaker of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Generator produces the assistant reply for a user message.
type Generator interface {
	Generate(ctx context.Context, systemPrompt string, history []Turn, userText string) (string, error)
}

// Service encapsulates assistant text generation.
type Service struct {
	generator Generator
	profile   assistant.Profile
	log       *zap.Logger
}

// NewService creates a new AI service instance.
func NewService(generator Generator, profile assistant.Profile, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		generator: generator,
		profile:   profile,
		log:       log.With(zap.String("component", "ai")),
	}
}

// Reply generates the assistant answer to userText with history as context.
func (s *Service) Reply(ctx context.Context, history []chat.Message, userText string) (string, error) {
	if strings.TrimSpace(userText) == "" {
		return "", ErrEmptyMessage
	}

	turns := buildHistory(history, userText)

	reply, err := s.generator.Generate(ctx, s.profile.SystemPrompt, turns, userText)
	if err != nil {
		return "", fmt.Errorf("generate reply: %w", err)
	}

	s.log.Debug("generated reply", zap.Int("history", len(turns)), zap.Int("length", len(reply)))
	return reply, nil
}

// buildHistory converts the conversation into generator turns. A trailing
// user turn equal to the pending message is dropped since the caller
// usually appended it before asking for a reply.
func buildHistory(messages []chat.Message, userText string) []Turn {
	if hasPendingUserMessage(messages, userText) {
		messages = messages[:len(messages)-1]
	}
	if len(messages) == 0 {
		return nil
	}

	startIdx := 0
	if len(messages) > historyLimit {
		startIdx = len(messages) - historyLimit
	}

	turns := make([]Turn, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		switch msg.Sender {
		case chat.SenderUser:
			turns = append(turns, Turn{Role: RoleUser, Content: msg.Content})
		case chat.SenderBot:
			turns = append(turns, Turn{Role: RoleAssistant, Content: msg.Content})
		}
	}
	return turns
}

func hasPendingUserMessage(messages []chat.Message, content string) bool {
	if len(messages) == 0 {
		return false
	}
	last := messages[len(messages)-1]
	return last.Sender == chat.SenderUser && last.Content == content
}
