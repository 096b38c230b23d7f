package core

import (
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/mockprep/interview-server/internal/store"
)

const (
	defaultScore   = 5
	minScore       = 1
	maxScore       = 10
	defaultSummary = "Feedback generated successfully."
)

// ParseStrategy names the extraction attempt that recovered the feedback object.
type ParseStrategy string

const (
	StrategyWholeText   ParseStrategy = "whole_text"
	StrategyFencedBlock ParseStrategy = "fenced_block"
	StrategyBraceSpan   ParseStrategy = "brace_span"
)

// Extraction failure reasons.
const (
	FailureEmptyText = "empty text"
	FailureNoObject  = "no structured object found"
)

var fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

var errNotObject = errors.New("not a JSON object")

// ExtractionResult is the outcome of ExtractFeedback: either a defaulted
// Feedback and the strategy that found it, or the reason nothing was found.
type ExtractionResult struct {
	Feedback *store.Feedback
	Strategy ParseStrategy
	Failure  string
}

// Found reports whether a structured object was recovered.
func (r ExtractionResult) Found() bool { return r.Feedback != nil }

// ExtractFeedback recovers a Feedback value from model output that may wrap the
// JSON in prose or code fences. Strategies run in order and the first that
// yields a JSON object wins. Missing or malformed fields are defaulted.
func ExtractFeedback(text string) ExtractionResult {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ExtractionResult{Failure: FailureEmptyText}
	}

	if fb, err := parseFeedbackObject(trimmed); err == nil {
		return ExtractionResult{Feedback: fb, Strategy: StrategyWholeText}
	}

	if m := fencedBlockRe.FindStringSubmatch(trimmed); m != nil {
		if fb, err := parseFeedbackObject(strings.TrimSpace(m[1])); err == nil {
			return ExtractionResult{Feedback: fb, Strategy: StrategyFencedBlock}
		}
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		if fb, err := parseFeedbackObject(trimmed[start : end+1]); err == nil {
			return ExtractionResult{Feedback: fb, Strategy: StrategyBraceSpan}
		}
	}

	return ExtractionResult{Failure: FailureNoObject}
}

// parseFeedbackObject decodes candidate as a JSON object and fills every
// Feedback field independently, so one bad field never rejects the rest.
func parseFeedbackObject(candidate string) (*store.Feedback, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(candidate), &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errNotObject
	}

	fb := &store.Feedback{
		OverallScore:     normalizeScore(raw["overallScore"]),
		Strengths:        stringList(raw["strengths"]),
		AreasToImprove:   stringList(raw["areasToImprove"]),
		QuestionFeedback: questionList(raw["questionFeedback"]),
		Summary:          stringField(raw["summary"]),
	}
	if strings.TrimSpace(fb.Summary) == "" {
		fb.Summary = defaultSummary
	}
	return fb, nil
}

// normalizeScore accepts a number or numeric string. Missing, zero and
// unparseable values become the default; the rest are clamped to 1..10.
func normalizeScore(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return defaultScore
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return defaultScore
		}
		if n, err = strconv.ParseFloat(strings.TrimSpace(s), 64); err != nil {
			return defaultScore
		}
	}
	switch {
	case n == 0:
		return defaultScore
	case n < minScore:
		return minScore
	case n > maxScore:
		return maxScore
	}
	return n
}

func stringField(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

// stringList keeps the string items of a JSON array. A bare string becomes a
// one-item list.
func stringList(raw json.RawMessage) []string {
	out := []string{}
	if len(raw) == 0 {
		return out
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		if s := stringField(raw); s != "" {
			out = append(out, s)
		}
		return out
	}
	for _, item := range items {
		if s := stringField(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func questionList(raw json.RawMessage) []store.QuestionFeedback {
	out := []store.QuestionFeedback{}
	if len(raw) == 0 {
		return out
	}
	var items []json.RawMessage
	if json.Unmarshal(raw, &items) != nil {
		return out
	}
	for _, item := range items {
		var fields map[string]json.RawMessage
		if json.Unmarshal(item, &fields) != nil || fields == nil {
			continue
		}
		qf := store.QuestionFeedback{
			Question:   stringField(fields["question"]),
			UserAnswer: stringField(fields["userAnswer"]),
			Feedback:   stringField(fields["feedback"]),
			Score:      normalizeScore(fields["score"]),
		}
		if better := stringField(fields["betterAnswer"]); better != "" {
			qf.BetterAnswer = &better
		}
		out = append(out, qf)
	}
	return out
}
