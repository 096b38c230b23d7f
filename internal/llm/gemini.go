package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const geminiKickoff = "Please begin."

type GeminiProvider struct {
	client    *genai.Client
	modelName string
	timeout   time.Duration
}

func NewGeminiProvider(ctx context.Context, apiKey, modelName string, timeout time.Duration) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiProvider{client: client, modelName: modelName, timeout: timeout}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) Close() error {
	if p.client == nil {
		return nil
	}
	if err := p.client.Close(); err != nil {
		log.Printf("Error closing GenAI client: %v", err)
		return err
	}
	log.Println("GenAI client closed.")
	return nil
}

// geminiContents splits messages into chat history and the turn to send.
// Gemini expects the history to open with a user turn and the sent turn to be
// the user's, so the kickoff prompt fills in whichever is missing.
func geminiContents(messages []Message) (history []*genai.Content, last *genai.Content) {
	history = make([]*genai.Content, 0, len(messages)+1)
	for _, m := range messages {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}

	if n := len(history); n > 0 && history[n-1].Role == "user" {
		last = history[n-1]
		history = history[:n-1]
	} else {
		last = &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(geminiKickoff)}}
	}

	if len(history) > 0 && history[0].Role == "model" {
		kickoff := &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(geminiKickoff)}}
		history = append([]*genai.Content{kickoff}, history...)
	}
	return history, last
}

func (p *GeminiProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	model := p.client.GenerativeModel(p.modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(req.SystemInstruction)},
	}
	maxTokens := int32(req.MaxOutputTokens)
	temp := req.Temperature
	model.GenerationConfig = genai.GenerationConfig{
		MaxOutputTokens: &maxTokens,
		Temperature:     &temp,
	}

	history, last := geminiContents(req.Messages)

	chatSession := model.StartChat()
	chatSession.History = history

	resp, err := chatSession.SendMessage(ctx, last.Parts...)
	if err != nil {
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			return &Response{FinishReason: "content_filter", Refusal: blocked.Error()}, nil
		}
		return nil, fmt.Errorf("gemini chat SendMessage failed: %w", err)
	}

	out := &Response{}
	if resp.UsageMetadata != nil {
		out.Usage = &Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		log.Println("Gemini response was empty or had no valid candidates/parts.")
		return out, nil
	}

	candidate := resp.Candidates[0]
	out.FinishReason = strings.ToLower(candidate.FinishReason.String())
	if candidate.FinishReason == genai.FinishReasonSafety {
		out.Refusal = "response blocked by safety filters"
	}

	var responseText strings.Builder
	for _, part := range candidate.Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			responseText.WriteString(string(txt))
		} else {
			log.Printf("Gemini response part was not text: %T", part)
		}
	}
	out.Text = responseText.String()
	return out, nil
}
