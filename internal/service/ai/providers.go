package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/zhouzirui/gyb-chat/backend/internal/config"
)

var ErrNotConfigured = errors.New("chat provider not configured")

// NewGeneratorFromConfig picks the generator named by CHAT_PROVIDER.
func NewGeneratorFromConfig(ctx context.Context, aiCfg config.AIConfig, openAICfg config.OpenAIConfig) (Generator, error) {
	switch aiCfg.Provider {
	case config.ProviderArk:
		if !aiCfg.Ark.Enabled() {
			return nil, fmt.Errorf("%w: ark needs ARK_MODEL and ARK_API_KEY or an AK/SK pair", ErrNotConfigured)
		}
		chatModel, err := aiCfg.Ark.NewChatModel(ctx)
		if err != nil {
			return nil, fmt.Errorf("create ark chat model: %w", err)
		}
		return NewEinoGenerator(ctx, chatModel)
	default:
		if !openAICfg.Enabled() {
			return nil, fmt.Errorf("%w: OPENAI_API_KEY is not set", ErrNotConfigured)
		}
		return NewOpenAIGenerator(openAICfg.NewClient(), aiCfg.OpenAIModel, aiCfg.Temperature, aiCfg.MaxTokens), nil
	}
}
