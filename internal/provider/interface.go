// Package provider selects and constructs the LLM generation backend at
// runtime. Supported backends: Ollama, OpenAI, Azure OpenAI, AWS Bedrock
// (via an Ark-compatible runtime endpoint), Google Gemini.
package provider

import (
	"strings"

	"github.com/clinrag/clinrag-go/internal/rag"
)

// Backend enumerates the supported LLM inference providers.
type Backend string

const (
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendBedrock selects AWS Bedrock.
	BackendBedrock Backend = "bedrock"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
)

// ProviderOllama holds Ollama-specific settings.
type ProviderOllama struct {
	// Host is the Ollama server base URL.
	Host string
	// Model is the model name to run (e.g. "llama3").
	Model string
}

// ProviderOpenAI holds OpenAI-specific settings.
type ProviderOpenAI struct {
	// APIKey is the OpenAI API key.
	APIKey string
	// Model is the model name (e.g. "gpt-4o").
	Model string
}

// ProviderAzureOpenAI holds Azure OpenAI Service settings.
type ProviderAzureOpenAI struct {
	// APIKey is the Azure OpenAI API key.
	APIKey string
	// Endpoint is the resource endpoint URL.
	Endpoint string
	// Deployment is the deployment name to address.
	Deployment string
	// APIVersion is the REST API version (e.g. "2024-02-01").
	APIVersion string
}

// ProviderBedrock holds AWS Bedrock settings. Inference goes through a
// Bedrock runtime endpoint speaking the Ark-compatible protocol.
type ProviderBedrock struct {
	// AWSRegion is the region hosting the runtime endpoint.
	AWSRegion string
	// ModelID is the Bedrock model identifier.
	ModelID string
	// Endpoint overrides the region-derived runtime endpoint URL.
	Endpoint string
	// APIKey authenticates against the runtime endpoint.
	APIKey string
}

// ProviderGemini holds Google Gemini settings.
type ProviderGemini struct {
	// APIKey is the AI Studio API key.
	APIKey string
	// Model is the model name (e.g. "gemini-2.5-flash").
	Model string
}

// SharedTuning holds generation parameters shared by every backend.
type SharedTuning struct {
	// MaxTokens caps the number of tokens generated per response. Zero
	// leaves the provider default in place.
	MaxTokens int
	// Temperature controls response randomness (0.0-2.0).
	Temperature float32
}

// Config holds all provider-level configuration resolved from environment
// variables or explicit caller-supplied values. Only the section matching
// Backend is consulted.
type Config struct {
	// Backend identifies which inference provider to use.
	Backend Backend

	Ollama      ProviderOllama
	OpenAI      ProviderOpenAI
	AzureOpenAI ProviderAzureOpenAI
	Bedrock     ProviderBedrock
	Gemini      ProviderGemini
	Tuning      SharedTuning
}

// Validate checks that the selected backend's section is complete. Error
// messages name the environment variable that resolves the missing field so
// startup failures are directly actionable.
func (c *Config) Validate() error {
	if c.Tuning.MaxTokens < 0 {
		return rag.Errorf(rag.KindConfiguration, "provider: MODEL_MAX_TOKENS must not be negative, got %d", c.Tuning.MaxTokens)
	}
	if c.Tuning.Temperature < 0 || c.Tuning.Temperature > 2 {
		return rag.Errorf(rag.KindConfiguration, "provider: MODEL_TEMPERATURE must be between 0 and 2, got %g", c.Tuning.Temperature)
	}

	switch c.Backend {
	case BackendOllama:
		if c.Ollama.Host == "" {
			return rag.Errorf(rag.KindConfiguration, "provider: OLLAMA_HOST is required for ollama backend")
		}
		if c.Ollama.Model == "" {
			return rag.Errorf(rag.KindConfiguration, "provider: OLLAMA_MODEL is required for ollama backend")
		}
	case BackendOpenAI:
		if c.OpenAI.APIKey == "" {
			return rag.Errorf(rag.KindConfiguration, "provider: OPENAI_API_KEY is required for openai backend")
		}
		if c.OpenAI.Model == "" {
			return rag.Errorf(rag.KindConfiguration, "provider: OPENAI_MODEL is required for openai backend")
		}
	case BackendAzure:
		if c.AzureOpenAI.APIKey == "" {
			return rag.Errorf(rag.KindConfiguration, "provider: AZURE_OPENAI_API_KEY is required for azure backend")
		}
		if c.AzureOpenAI.Endpoint == "" {
			return rag.Errorf(rag.KindConfiguration, "provider: AZURE_OPENAI_ENDPOINT is required for azure backend")
		}
		if c.AzureOpenAI.Deployment == "" {
			return rag.Errorf(rag.KindConfiguration, "provider: AZURE_OPENAI_DEPLOYMENT is required for azure backend")
		}
	case BackendBedrock:
		if c.Bedrock.ModelID == "" {
			return rag.Errorf(rag.KindConfiguration, "provider: BEDROCK_MODEL_ID is required for bedrock backend")
		}
		if c.Bedrock.AWSRegion == "" && c.Bedrock.Endpoint == "" {
			return rag.Errorf(rag.KindConfiguration, "provider: AWS_REGION or BEDROCK_ENDPOINT is required for bedrock backend")
		}
	case BackendGemini:
		if c.Gemini.APIKey == "" {
			return rag.Errorf(rag.KindConfiguration, "provider: GOOGLE_API_KEY (or GEMINI_API_KEY) is required for gemini backend")
		}
		if c.Gemini.Model == "" {
			return rag.Errorf(rag.KindConfiguration, "provider: GEMINI_MODEL is required for gemini backend")
		}
	default:
		return rag.Errorf(rag.KindConfiguration, "provider: unknown backend %q — valid values: ollama, openai, azure, bedrock, gemini", c.Backend)
	}
	return nil
}

// isAzureReasoningModel reports whether an Azure deployment addresses an
// o-series or codex-class reasoning model. Those deployments reject the
// max_tokens and temperature parameters, so the constructor must omit them.
func isAzureReasoningModel(deployment string) bool {
	d := strings.ToLower(deployment)
	for _, prefix := range []string{"o1", "o3", "o4", "codex"} {
		if strings.HasPrefix(d, prefix) {
			return true
		}
	}
	return false
}
