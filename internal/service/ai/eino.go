package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
)

// EinoGenerator runs a prompt-template + chat-model chain, used with the
// ark model.
type EinoGenerator struct {
	chain compose.Runnable[map[string]any, *schema.Message]
}

// NewEinoGenerator compiles the chat chain around chatModel.
func NewEinoGenerator(ctx context.Context, chatModel model.ChatModel) (*EinoGenerator, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &EinoGenerator{chain: runnable}, nil
}

func (g *EinoGenerator) Generate(ctx context.Context, systemPrompt string, history []Turn, userText string) (string, error) {
	response, err := g.chain.Invoke(ctx, chainInput(systemPrompt, history, userText))
	if err != nil {
		return "", fmt.Errorf("failed to run chat chain: %w", err)
	}
	return response.Content, nil
}

func chainInput(systemPrompt string, history []Turn, userText string) map[string]any {
	return map[string]any{
		"system":  systemPrompt,
		"history": schemaHistory(history),
		"query":   userText,
	}
}

func schemaHistory(history []Turn) []*schema.Message {
	if len(history) == 0 {
		return nil
	}

	messages := make([]*schema.Message, 0, len(history))
	for _, turn := range history {
		switch turn.Role {
		case RoleUser:
			messages = append(messages, schema.UserMessage(turn.Content))
		case RoleAssistant:
			messages = append(messages, schema.AssistantMessage(turn.Content, nil))
		}
	}
	return messages
}
