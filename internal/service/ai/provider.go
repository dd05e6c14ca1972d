package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"

	"medihelp/internal/config"
)

// ErrProviderNotConfigured is returned when a provider has no API key.
var ErrProviderNotConfigured = errors.New("provider not configured")

const claudeMaxTokens = 3000

// NewChatModel builds the eino chat model for provider. modelName overrides
// the provider's configured model.
func NewChatModel(ctx context.Context, provider string, prov config.ProviderConfig, modelName string) (model.ToolCallingChatModel, error) {
	if prov.APIKey == "" {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotConfigured, provider)
	}
	if modelName == "" {
		modelName = prov.Model
	}

	switch provider {
	case "openai":
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: prov.BaseURL,
			Model:   modelName,
			APIKey:  prov.APIKey,
		})
	case "gemini":
		client, err := newGenaiClient(ctx, prov)
		if err != nil {
			return nil, err
		}
		return gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  modelName,
		})
	case "claude":
		var baseURLPtr *string
		if prov.BaseURL != "" {
			baseURLPtr = &prov.BaseURL
		}
		return claude.NewChatModel(ctx, &claude.Config{
			APIKey:    prov.APIKey,
			Model:     modelName,
			BaseURL:   baseURLPtr,
			MaxTokens: claudeMaxTokens,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
}

func newGenaiClient(ctx context.Context, prov config.ProviderConfig) (*genai.Client, error) {
	cc := &genai.ClientConfig{
		APIKey:  prov.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if prov.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: prov.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("new gemini client: %w", err)
	}
	return client, nil
}
