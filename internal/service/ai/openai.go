package ai

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIGenerator calls the chat completions endpoint.
type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	temperature *float64
	maxTokens   *int
}

// NewOpenAIGenerator wraps an existing go-openai client.
func NewOpenAIGenerator(client *openai.Client, model string, temperature *float64, maxTokens *int) *OpenAIGenerator {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIGenerator{
		client:      client,
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
	}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, systemPrompt string, history []Turn, userText string) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	if systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	for _, turn := range history {
		role := openai.ChatMessageRoleUser
		if turn.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userText,
	})

	req := openai.ChatCompletionRequest{
		Model:    g.model,
		Messages: messages,
	}
	if g.temperature != nil {
		req.Temperature = float32(*g.temperature)
	}
	if g.maxTokens != nil {
		req.MaxTokens = *g.maxTokens
	}

	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
