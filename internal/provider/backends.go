package provider

import (
	"context"
	"fmt"

	einoark "github.com/cloudwego/eino-ext/components/model/ark"
	einogemini "github.com/cloudwego/eino-ext/components/model/gemini"
	einoollama "github.com/cloudwego/eino-ext/components/model/ollama"
	einoopenai "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"

	"github.com/clinrag/clinrag-go/internal/rag"
)

// newOllama constructs a ChatModel backed by a local Ollama instance.
func newOllama(ctx context.Context, cfg *Config) (model.BaseChatModel, error) {
	v, err := einoollama.NewChatModel(ctx, &einoollama.ChatModelConfig{
		BaseURL: cfg.Ollama.Host,
		Model:   cfg.Ollama.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: ollama chat model: %w", err)
	}
	return v, nil
}

// newOpenAI constructs a ChatModel backed by the OpenAI API.
func newOpenAI(ctx context.Context, cfg *Config) (model.BaseChatModel, error) {
	mcfg := &einoopenai.ChatModelConfig{
		Model:  cfg.OpenAI.Model,
		APIKey: cfg.OpenAI.APIKey,
	}
	applyTuning(mcfg, cfg.Tuning)

	v, err := einoopenai.NewChatModel(ctx, mcfg)
	if err != nil {
		return nil, fmt.Errorf("provider: openai chat model: %w", err)
	}
	return v, nil
}

// newAzure constructs a ChatModel backed by Azure OpenAI Service.
func newAzure(ctx context.Context, cfg *Config) (model.BaseChatModel, error) {
	mcfg := &einoopenai.ChatModelConfig{
		Model:      cfg.AzureOpenAI.Deployment,
		APIKey:     cfg.AzureOpenAI.APIKey,
		BaseURL:    cfg.AzureOpenAI.Endpoint,
		ByAzure:    true,
		APIVersion: cfg.AzureOpenAI.APIVersion,
		// Use the deployment name as-is — the default mapper strips dots/colons
		// which breaks deployment names like "gpt-4.1".
		AzureModelMapperFunc: func(model string) string { return model },
	}
	// o-series and codex deployments reject max_tokens and temperature.
	if !isAzureReasoningModel(cfg.AzureOpenAI.Deployment) {
		applyTuning(mcfg, cfg.Tuning)
	}

	v, err := einoopenai.NewChatModel(ctx, mcfg)
	if err != nil {
		return nil, fmt.Errorf("provider: azure chat model: %w", err)
	}
	return v, nil
}

// newBedrock constructs a ChatModel backed by AWS Bedrock through an
// Ark-compatible runtime endpoint.
// TODO: Replace with a dedicated Bedrock implementation when available in eino-ext.
func newBedrock(ctx context.Context, cfg *Config) (model.BaseChatModel, error) {
	endpoint := cfg.Bedrock.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com", cfg.Bedrock.AWSRegion)
	}

	maxTokens := cfg.Tuning.MaxTokens
	temp := cfg.Tuning.Temperature
	mcfg := &einoark.ChatModelConfig{
		Model:   cfg.Bedrock.ModelID,
		APIKey:  cfg.Bedrock.APIKey,
		BaseURL: endpoint,
	}
	if maxTokens > 0 {
		mcfg.MaxTokens = &maxTokens
	}
	if temp > 0 {
		mcfg.Temperature = &temp
	}

	v, err := einoark.NewChatModel(ctx, mcfg)
	if err != nil {
		return nil, fmt.Errorf("provider: bedrock chat model: %w", err)
	}
	return v, nil
}

// newGemini constructs a ChatModel backed by Google Gemini (AI Studio).
func newGemini(ctx context.Context, cfg *Config) (model.BaseChatModel, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.Gemini.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, rag.Errorf(rag.KindConfiguration, "provider: create gemini client: %w", err)
	}

	v, err := einogemini.NewChatModel(ctx, &einogemini.Config{
		Client: client,
		Model:  cfg.Gemini.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: gemini chat model: %w", err)
	}
	return v, nil
}

// applyTuning copies the shared generation parameters onto an OpenAI-shaped
// config. Zero values are left unset so provider defaults apply.
func applyTuning(mcfg *einoopenai.ChatModelConfig, tuning SharedTuning) {
	if tuning.MaxTokens > 0 {
		maxTokens := tuning.MaxTokens
		mcfg.MaxTokens = &maxTokens
	}
	if tuning.Temperature > 0 {
		temp := tuning.Temperature
		mcfg.Temperature = &temp
	}
}
