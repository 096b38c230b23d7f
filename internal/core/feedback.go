package core

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/mockprep/interview-server/internal/store"
)

const maxRawSummary = 4000

// DegradeReason says why structured feedback could not be produced.
type DegradeReason string

const (
	DegradeRefused     DegradeReason = "refused"
	DegradeEmpty       DegradeReason = "empty"
	DegradeUnparseable DegradeReason = "unparseable"
	DegradeUnavailable DegradeReason = "unavailable"
)

// DegradedFeedback is the well-formed, low-information feedback used when
// extraction fails. For an unparseable reply the raw text becomes the summary
// so the candidate still sees what was generated.
func DegradedFeedback(reason DegradeReason, raw string) *store.Feedback {
	fb := &store.Feedback{
		OverallScore:     defaultScore,
		Strengths:        []string{"Interview completed"},
		QuestionFeedback: []store.QuestionFeedback{},
	}
	switch reason {
	case DegradeRefused:
		fb.AreasToImprove = []string{"Feedback temporarily unavailable"}
		fb.Summary = "The AI was unable to generate feedback at this time. Please try again."
	case DegradeEmpty:
		fb.AreasToImprove = []string{"Feedback generation returned empty response"}
		fb.Summary = "The feedback service returned an empty response. This may be a temporary issue - please try again."
	case DegradeUnparseable:
		fb.AreasToImprove = []string{"Feedback format was unexpected"}
		fb.Summary = truncate(raw, maxRawSummary)
		if fb.Summary == "" {
			fb.Summary = "Feedback generation encountered an error. Please try again."
		}
	default:
		fb.AreasToImprove = []string{"Feedback temporarily unavailable"}
		fb.Summary = "Feedback generation encountered an error. Please try again."
	}
	return fb
}

// FeedbackRequest asks for feedback on a transcript. SessionID and UserID are
// optional; when both are set and the user owns the session the result is stored.
type FeedbackRequest struct {
	Config    InterviewConfig
	History   []store.Message
	SessionID string
	UserID    string
}

// FeedbackService runs the feedback pipeline: generate, extract, degrade, persist.
type FeedbackService struct {
	gateway *Gateway
	store   TranscriptStore
	events  EventSink
}

func NewFeedbackService(gateway *Gateway, transcripts TranscriptStore, events EventSink) *FeedbackService {
	return &FeedbackService{gateway: gateway, store: transcripts, events: events}
}

// Generate always returns feedback unless the input is invalid or the provider
// is not configured.
func (s *FeedbackService) Generate(ctx context.Context, req FeedbackRequest) (*store.Feedback, error) {
	if len(req.History) == 0 {
		return nil, newValidationError("messages", "No interview messages to analyze")
	}
	if req.Config.RoleType == "" {
		req.Config.RoleType = store.RoleGeneral
	}

	log.Printf("Feedback request - messages count: %d", len(req.History))
	reply, err := s.gateway.FeedbackAnalysis(ctx, req.Config, req.History)

	var fb *store.Feedback
	if err != nil {
		if errors.Is(err, ErrConfiguration) {
			return nil, err
		}
		log.Printf("Feedback generation failed: %v", err)
		fb = DegradedFeedback(DegradeUnavailable, "")
	} else {
		fb = feedbackFromReply(reply)
	}

	s.persist(ctx, req, fb)
	if s.events != nil && req.SessionID != "" {
		s.events.Publish(Event{Type: EventFeedback, SessionID: req.SessionID, Feedback: fb, At: time.Now().UTC()})
	}
	return fb, nil
}

func feedbackFromReply(reply *FeedbackReply) *store.Feedback {
	hasUsage := reply.Usage != nil
	log.Printf("Feedback response details: finishReason=%q contentLength=%d hasRefusal=%t hasUsage=%t",
		reply.FinishReason, len(reply.Text), reply.Refusal != "", hasUsage)
	if hasUsage {
		log.Printf("Feedback token usage: prompt=%d completion=%d total=%d",
			reply.Usage.PromptTokens, reply.Usage.CompletionTokens, reply.Usage.TotalTokens)
	}

	if reply.Refusal != "" {
		log.Printf("Model refused to respond: %s", reply.Refusal)
		return DegradedFeedback(DegradeRefused, "")
	}

	result := ExtractFeedback(reply.Text)
	if result.Failure == FailureEmptyText {
		log.Printf("Empty response from model. Finish reason: %s", reply.FinishReason)
		return DegradedFeedback(DegradeEmpty, "")
	}
	log.Printf("Feedback content (first 500 chars): %s", truncate(reply.Text, 500))

	if !result.Found() {
		log.Printf("Failed to parse feedback JSON (%s). Raw content: %s", result.Failure, truncate(reply.Text, 1000))
		return DegradedFeedback(DegradeUnparseable, reply.Text)
	}
	log.Printf("Successfully parsed feedback JSON via %s", result.Strategy)
	return result.Feedback
}

func (s *FeedbackService) persist(ctx context.Context, req FeedbackRequest, fb *store.Feedback) {
	if s.store == nil || req.SessionID == "" || req.UserID == "" {
		return
	}
	ctx = context.WithoutCancel(ctx)

	details, err := s.store.GetSession(ctx, req.SessionID, req.UserID)
	if err != nil {
		log.Printf("WARN: failed to look up session %s for feedback: %v", req.SessionID, err)
		return
	}
	if details == nil {
		log.Printf("WARN: session %s not found for user %s, feedback not stored", req.SessionID, req.UserID)
		return
	}
	if err := s.store.AttachFeedback(ctx, req.SessionID, fb); err != nil {
		log.Printf("WARN: failed to store feedback for session %s: %v", req.SessionID, err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Back off to a rune boundary.
	for n > 0 && n < len(s) && s[n]&0xC0 == 0x80 {
		n--
	}
	return s[:n]
}
