package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIClientGenerate(t *testing.T) {
	var got chatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","model":"gpt","choices":[{"index":0,"message":{"role":"assistant","content":"Tell me about yourself."},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`)
	}))
	defer server.Close()

	client := NewOpenAIClient(server.URL, "sk-test", "gpt", time.Second)
	resp, err := client.Generate(context.Background(), &Request{
		Mode:              ModeInterviewer,
		SystemInstruction: "You are an interviewer.",
		Messages:          []Message{{Role: RoleUser, Content: "hello"}},
		MaxOutputTokens:   1000,
		Temperature:       0.7,
	})
	require.NoError(t, err)

	assert.Equal(t, "Tell me about yourself.", resp.Text)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Empty(t, resp.Refusal)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 15, resp.Usage.TotalTokens)

	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "You are an interviewer.", got.Messages[0].Content)
	assert.Equal(t, "user", got.Messages[1].Role)
	require.NotNil(t, got.MaxCompletionTokens)
	assert.Equal(t, 1000, *got.MaxCompletionTokens)
	require.NotNil(t, got.Temperature)
	assert.InDelta(t, 0.7, *got.Temperature, 0.001)
}

func TestOpenAIClientError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited","type":"rate_limit_error"}}`)
	}))
	defer server.Close()

	client := NewOpenAIClient(server.URL, "sk-test", "gpt", time.Second)
	_, err := client.Generate(context.Background(), &Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
	assert.Contains(t, err.Error(), "429")
}

func TestOpenAIClientNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"c1","choices":[]}`)
	}))
	defer server.Close()

	client := NewOpenAIClient(server.URL, "", "gpt", time.Second)
	_, err := client.Generate(context.Background(), &Request{})
	assert.Error(t, err)
}

func TestOpenAIClientRefusal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"","refusal":"I can't help with that."},"finish_reason":"stop"}]}`)
	}))
	defer server.Close()

	client := NewOpenAIClient(server.URL, "", "gpt", time.Second)
	resp, err := client.Generate(context.Background(), &Request{Mode: ModeFeedback})
	require.NoError(t, err)
	assert.Empty(t, resp.Text)
	assert.Equal(t, "I can't help with that.", resp.Refusal)
	assert.Nil(t, resp.Usage)
}

func TestAzureClientPathAndHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/openai/deployments/interview-gpt/chat/completions", r.URL.Path)
		assert.Equal(t, "2024-02-15-preview", r.URL.Query().Get("api-version"))
		assert.Equal(t, "azure-key", r.Header.Get("api-key"))
		assert.Equal(t, "org-1", r.Header.Get("OpenAI-Organization"))
		assert.Empty(t, r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`)
	}))
	defer server.Close()

	client := NewAzureClient(server.URL+"/", "azure-key", "interview-gpt", "2024-02-15-preview", "org-1", time.Second)
	assert.Equal(t, "azure", client.Name())

	resp, err := client.Generate(context.Background(), &Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
}

func TestOpenAIClientContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"late"}}]}`)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewOpenAIClient(server.URL, "", "gpt", time.Second)
	_, err := client.Generate(ctx, &Request{})
	assert.Error(t, err)
}
