// Package llm provides the language-model providers behind the completion gateway.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/mockprep/interview-server/internal/config"
)

// ErrConfiguration is returned when required provider settings are absent.
var ErrConfiguration = errors.New("LLM provider configuration is missing")

// Mode identifies which conversation a request belongs to.
type Mode string

const (
	ModeInterviewer Mode = "interviewer"
	ModeCandidate   Mode = "candidate"
	ModeFeedback    Mode = "feedback"
)

// Chat roles understood by every provider.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string
	Content string
}

// Request is one completion call: a system instruction plus the message history.
type Request struct {
	Mode              Mode
	SystemInstruction string
	Messages          []Message
	MaxOutputTokens   int
	Temperature       float32
}

type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Response is a complete provider answer. Refusal is non-empty when the model
// declined to answer.
type Response struct {
	Text         string
	FinishReason string
	Refusal      string
	Usage        *Usage
}

type Provider interface {
	Name() string
	Generate(ctx context.Context, req *Request) (*Response, error)
	Close() error
}

// NewProvider builds the provider selected by cfg.LLMProvider. Missing
// credentials yield an error wrapping ErrConfiguration.
func NewProvider(ctx context.Context, cfg *config.Config) (Provider, error) {
	switch cfg.LLMProvider {
	case "", "azure":
		if cfg.AzureOpenAIEndpoint == "" || cfg.AzureOpenAIAPIKey == "" || cfg.AzureOpenAIDeployment == "" {
			return nil, fmt.Errorf("%w: AZURE_OPENAI_ENDPOINT, AZURE_OPENAI_API_KEY and AZURE_OPENAI_DEPLOYMENT_NAME are required", ErrConfiguration)
		}
		return NewAzureClient(cfg.AzureOpenAIEndpoint, cfg.AzureOpenAIAPIKey, cfg.AzureOpenAIDeployment,
			cfg.AzureOpenAIAPIVersion, cfg.AzureOpenAIOrganization, cfg.LLMTimeout), nil
	case "openai":
		if cfg.OpenAIBaseURL == "" || cfg.OpenAIAPIKey == "" || cfg.OpenAIModel == "" {
			return nil, fmt.Errorf("%w: OPENAI_BASE_URL, OPENAI_API_KEY and OPENAI_MODEL are required", ErrConfiguration)
		}
		return NewOpenAIClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.LLMTimeout), nil
	case "gemini":
		if cfg.GeminiAPIKey == "" || cfg.GeminiModel == "" {
			return nil, fmt.Errorf("%w: GEMINI_API_KEY and GEMINI_MODEL are required", ErrConfiguration)
		}
		return NewGeminiProvider(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.LLMTimeout)
	case "mock":
		log.Println("LLM_PROVIDER=mock, using scripted mock provider")
		return NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("%w: unknown LLM_PROVIDER %q", ErrConfiguration, cfg.LLMProvider)
	}
}
