package core

import (
	"errors"
	"sort"
	"strings"

	"github.com/mockprep/interview-server/internal/llm"
)

var (
	// ErrConfiguration is returned when the completion provider is not configured.
	ErrConfiguration = llm.ErrConfiguration
	// ErrGenerationFailed wraps any transport or provider failure.
	ErrGenerationFailed = errors.New("generation failed")
	// ErrSessionCompleted rejects turns on a completed interview.
	ErrSessionCompleted = errors.New("session already completed")
	ErrSessionNotFound  = errors.New("session not found")
	ErrAlreadyStarted   = errors.New("interview already started")
	ErrNotStarted       = errors.New("interview not started")
	// ErrInterviewClosed is returned by an in-memory copy that the session
	// manager has retired; the session must be looked up again.
	ErrInterviewClosed = errors.New("interview copy closed")
	// ErrNoInterviewerQuestion is returned when a candidate turn is requested
	// before the interviewer has said anything.
	ErrNoInterviewerQuestion = errors.New("no interviewer question to respond to")
)

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

func (v *ValidationError) Error() string {
	if v == nil || len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(v.FieldErrors))
	for field, msg := range v.FieldErrors {
		parts = append(parts, field+": "+msg)
	}
	sort.Strings(parts)
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

func newValidationError(field, message string) *ValidationError {
	v := &ValidationError{}
	v.add(field, message)
	return v
}
