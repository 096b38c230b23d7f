package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mockprep/interview-server/internal/llm"
	"github.com/mockprep/interview-server/internal/store"
)

const tracerName = "github.com/mockprep/interview-server/internal/core"

// Generation parameters per conversation mode.
const (
	interviewerMaxTokens   = 1000
	interviewerTemperature = 0.7
	candidateMaxTokens     = 500
	candidateTemperature   = 0.8
	feedbackMaxTokens      = 4000
	feedbackTemperature    = 0.5
)

// Gateway is the stateless Completion Gateway. It builds the system instruction
// for each mode and hands the request to the configured provider.
type Gateway struct {
	provider  llm.Provider
	configErr error
	tracer    trace.Tracer
	debug     bool
}

// NewGateway wraps provider. When the provider could not be built, pass its
// error as configErr: every call then fails with it instead of the process
// refusing to start.
func NewGateway(provider llm.Provider, configErr error) *Gateway {
	if provider == nil && configErr == nil {
		configErr = ErrConfiguration
	}
	return &Gateway{
		provider:  provider,
		configErr: configErr,
		tracer:    otel.Tracer(tracerName),
	}
}

// SetDebug enables prompt-size debug logging.
func (g *Gateway) SetDebug(debug bool) { g.debug = debug }

// InterviewerReply is one interviewer turn with the completion marker removed.
type InterviewerReply struct {
	Text       string
	IsComplete bool
}

// FeedbackReply is the raw feedback text plus provider diagnostics.
type FeedbackReply struct {
	Text         string
	FinishReason string
	Refusal      string
	Usage        *llm.Usage
}

// InterviewerTurn asks for the next interviewer message given the transcript so
// far. An empty history yields the opening message.
func (g *Gateway) InterviewerTurn(ctx context.Context, cfg InterviewConfig, history []store.Message) (*InterviewerReply, error) {
	msgs := make([]llm.Message, 0, len(history))
	for _, m := range history {
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	resp, err := g.generate(ctx, &llm.Request{
		Mode:              llm.ModeInterviewer,
		SystemInstruction: interviewerInstruction(cfg),
		Messages:          msgs,
		MaxOutputTokens:   interviewerMaxTokens,
		Temperature:       interviewerTemperature,
	})
	if err != nil {
		return nil, err
	}
	if resp.Refusal != "" || strings.TrimSpace(resp.Text) == "" {
		return nil, fmt.Errorf("%w: interviewer returned no text (finish reason %q)", ErrGenerationFailed, resp.FinishReason)
	}
	text, complete := StripCompletionMarker(resp.Text)
	if text == "" {
		text = "Thank you for your time today."
	}
	return &InterviewerReply{Text: text, IsComplete: complete}, nil
}

// CandidateTurn role-plays the candidate answering the latest interviewer message.
func (g *Gateway) CandidateTurn(ctx context.Context, cfg InterviewConfig, history []store.Message) (string, error) {
	if !hasInterviewerMessage(history) {
		return "", ErrNoInterviewerQuestion
	}
	resp, err := g.generate(ctx, &llm.Request{
		Mode:              llm.ModeCandidate,
		SystemInstruction: candidateSystemInstruction,
		Messages:          []llm.Message{{Role: llm.RoleUser, Content: candidatePrompt(cfg, history)}},
		MaxOutputTokens:   candidateMaxTokens,
		Temperature:       candidateTemperature,
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text)
	if resp.Refusal != "" || text == "" {
		return "", fmt.Errorf("%w: candidate returned no text (finish reason %q)", ErrGenerationFailed, resp.FinishReason)
	}
	return text, nil
}

// FeedbackAnalysis asks for a JSON assessment of the whole transcript. The text
// is returned unparsed.
func (g *Gateway) FeedbackAnalysis(ctx context.Context, cfg InterviewConfig, history []store.Message) (*FeedbackReply, error) {
	resp, err := g.generate(ctx, &llm.Request{
		Mode:              llm.ModeFeedback,
		SystemInstruction: feedbackSystemInstruction,
		Messages:          []llm.Message{{Role: llm.RoleUser, Content: feedbackPrompt(cfg, history)}},
		MaxOutputTokens:   feedbackMaxTokens,
		Temperature:       feedbackTemperature,
	})
	if err != nil {
		return nil, err
	}
	return &FeedbackReply{
		Text:         resp.Text,
		FinishReason: resp.FinishReason,
		Refusal:      resp.Refusal,
		Usage:        resp.Usage,
	}, nil
}

func (g *Gateway) generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if g.configErr != nil {
		return nil, g.configErr
	}

	ctx, span := g.tracer.Start(ctx, "llm.generate", trace.WithAttributes(
		attribute.String("llm.mode", string(req.Mode)),
		attribute.String("llm.provider", g.provider.Name()),
		attribute.Int("llm.history_length", len(req.Messages)),
	))
	defer span.End()

	if g.debug {
		size := len(req.SystemInstruction)
		for _, m := range req.Messages {
			size += len(m.Content)
		}
		log.Printf("DEBUG: %s request to %s, %d messages, %d prompt chars", req.Mode, g.provider.Name(), len(req.Messages), size)
	}

	resp, err := g.provider.Generate(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		if errors.Is(err, ErrConfiguration) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrGenerationFailed, req.Mode, err)
	}
	if resp == nil {
		span.SetStatus(codes.Error, "empty response")
		return nil, fmt.Errorf("%w: %s: provider returned no response", ErrGenerationFailed, req.Mode)
	}

	span.SetAttributes(
		attribute.String("llm.finish_reason", resp.FinishReason),
		attribute.Bool("llm.refusal", resp.Refusal != ""),
	)
	if resp.Usage != nil {
		span.SetAttributes(
			attribute.Int("llm.usage.prompt_tokens", resp.Usage.PromptTokens),
			attribute.Int("llm.usage.completion_tokens", resp.Usage.CompletionTokens),
		)
	}
	return resp, nil
}

// StripCompletionMarker removes every completion marker from text and reports
// whether one was present.
func StripCompletionMarker(text string) (string, bool) {
	if !strings.Contains(text, CompletionMarker) {
		return text, false
	}
	return strings.TrimSpace(strings.ReplaceAll(text, CompletionMarker, "")), true
}

func hasInterviewerMessage(history []store.Message) bool {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == store.SenderAssistant {
			return true
		}
	}
	return false
}
