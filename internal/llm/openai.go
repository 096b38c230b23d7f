package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// OpenAIClient speaks the chat-completions wire format, either against an
// OpenAI-compatible base URL or an Azure OpenAI deployment.
type OpenAIClient struct {
	endpoint   string
	apiKey     string
	model      string
	azure      bool
	org        string
	httpClient *http.Client
}

// NewOpenAIClient targets {baseURL}/v1/chat/completions with bearer auth.
func NewOpenAIClient(baseURL, apiKey, model string, timeout time.Duration) *OpenAIClient {
	return &OpenAIClient{
		endpoint:   strings.TrimSuffix(baseURL, "/") + "/v1/chat/completions",
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// NewAzureClient targets an Azure OpenAI deployment with api-key auth.
func NewAzureClient(endpoint, apiKey, deployment, apiVersion, organization string, timeout time.Duration) *OpenAIClient {
	q := url.Values{}
	q.Set("api-version", apiVersion)
	return &OpenAIClient{
		endpoint: fmt.Sprintf("%s/openai/deployments/%s/chat/completions?%s",
			strings.TrimSuffix(endpoint, "/"), url.PathEscape(deployment), q.Encode()),
		apiKey:     apiKey,
		model:      deployment,
		azure:      true,
		org:        organization,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *OpenAIClient) Name() string {
	if c.azure {
		return "azure"
	}
	return "openai"
}

func (c *OpenAIClient) Close() error { return nil }

type chatCompletionRequest struct {
	Model               string        `json:"model"`
	Messages            []chatMessage `json:"messages"`
	Temperature         *float32      `json:"temperature,omitempty"`
	MaxCompletionTokens *int          `json:"max_completion_tokens,omitempty"`
}

type chatMessage struct {
	Role    string  `json:"role"`
	Content string  `json:"content"`
	Refusal *string `json:"refusal,omitempty"`
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int          `json:"index"`
		Message      *chatMessage `json:"message,omitempty"`
		FinishReason string       `json:"finish_reason,omitempty"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
}

type errorResponse struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
	} `json:"error"`
}

func (c *OpenAIClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	messages := make([]chatMessage, 0, len(req.Messages)+1)
	messages = append(messages, chatMessage{Role: "system", Content: req.SystemInstruction})
	for _, m := range req.Messages {
		messages = append(messages, chatMessage{Role: m.Role, Content: m.Content})
	}

	payload := chatCompletionRequest{Model: c.model, Messages: messages}
	if req.MaxOutputTokens > 0 {
		payload.MaxCompletionTokens = &req.MaxOutputTokens
	}
	if req.Temperature > 0 {
		payload.Temperature = &req.Temperature
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error != nil {
			return nil, fmt.Errorf("LLM API error [%d]: %s (type: %s)", resp.StatusCode, errResp.Error.Message, errResp.Error.Type)
		}
		return nil, fmt.Errorf("LLM API error [%d]: %s", resp.StatusCode, string(respBody))
	}

	var result chatCompletionResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("LLM API returned no choices")
	}

	choice := result.Choices[0]
	out := &Response{FinishReason: choice.FinishReason}
	if choice.Message != nil {
		out.Text = choice.Message.Content
		if choice.Message.Refusal != nil {
			out.Refusal = *choice.Message.Refusal
		}
	}
	if result.Usage != nil {
		out.Usage = &Usage{
			PromptTokens:     result.Usage.PromptTokens,
			CompletionTokens: result.Usage.CompletionTokens,
			TotalTokens:      result.Usage.TotalTokens,
		}
	}
	return out, nil
}

// setHeaders sets common request headers.
func (c *OpenAIClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.azure {
		req.Header.Set("api-key", c.apiKey)
		if c.org != "" {
			req.Header.Set("OpenAI-Organization", c.org)
		}
		return
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
