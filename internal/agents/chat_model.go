package agents

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/deepseek"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"github.com/dyike/cortexflow/config"
)

const deepseekBaseURL = "https://api.deepseek.com/v1"

// Models holds the two chat model tiers: deep for the managers and judges, quick
// for analysts, debaters and the trader.
type Models struct {
	Deep  model.ChatModel
	Quick model.ChatModel
}

func NewModels(ctx context.Context, cfg *config.Config) (*Models, error) {
	deep, err := NewChatModel(ctx, cfg, cfg.DeepThinkLLM)
	if err != nil {
		return nil, fmt.Errorf("deep think model: %w", err)
	}
	quick := deep
	if cfg.QuickThinkLLM != cfg.DeepThinkLLM {
		quick, err = NewChatModel(ctx, cfg, cfg.QuickThinkLLM)
		if err != nil {
			return nil, fmt.Errorf("quick think model: %w", err)
		}
	}
	return &Models{Deep: deep, Quick: quick}, nil
}

// NewChatModel creates a chat model of the configured provider.
func NewChatModel(ctx context.Context, cfg *config.Config, name string) (model.ChatModel, error) {
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	switch cfg.LLMProvider {
	case "deepseek", "":
		if cfg.DeepSeekAPIKey == "" {
			return nil, fmt.Errorf("deepseek_api_key is not configured")
		}
		cm, err := deepseek.NewChatModel(ctx, &deepseek.ChatModelConfig{
			APIKey:    cfg.DeepSeekAPIKey,
			Model:     name,
			BaseURL:   cfg.BackendURL,
			MaxTokens: maxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create DeepSeek model: %w", err)
		}
		return cm, nil
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai_api_key is not configured")
		}
		return newOpenAIModel(ctx, cfg.BackendURL, cfg.OpenAIAPIKey, name, maxTokens)
	case "openai-compatible":
		// DeepSeek through its OpenAI-compatible endpoint
		baseURL := cfg.BackendURL
		if baseURL == "" {
			baseURL = deepseekBaseURL
		}
		return newOpenAIModel(ctx, baseURL, cfg.DeepSeekAPIKey, name, maxTokens)
	default:
		return nil, fmt.Errorf("unknown llm_provider %q", cfg.LLMProvider)
	}
}

func newOpenAIModel(ctx context.Context, baseURL, apiKey, name string, maxTokens int) (model.ChatModel, error) {
	cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		BaseURL:   baseURL,
		APIKey:    apiKey,
		Model:     name,
		MaxTokens: &maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI model: %w", err)
	}
	return cm, nil
}
