package store

import "time"

// RoleType selects the interview persona and the system instruction content.
type RoleType string

const (
	RoleDirectorPharmacyAnalytics RoleType = "director-pharmacy-analytics"
	RoleSoftwareEngineer          RoleType = "software-engineer"
	RoleProductManager            RoleType = "product-manager"
	RoleDataAnalyst               RoleType = "data-analyst"
	RoleGeneral                   RoleType = "general"
)

// RoleTypes lists every supported role type in display order.
var RoleTypes = []RoleType{
	RoleDirectorPharmacyAnalytics,
	RoleSoftwareEngineer,
	RoleProductManager,
	RoleDataAnalyst,
	RoleGeneral,
}

// Valid reports whether r is one of the known role types.
func (r RoleType) Valid() bool {
	for _, known := range RoleTypes {
		if r == known {
			return true
		}
	}
	return false
}

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

func (s Status) Valid() bool {
	return s == StatusActive || s == StatusCompleted
}

// Message sender roles. Assistant is the interviewer, user is the candidate.
const (
	SenderAssistant = "assistant"
	SenderUser      = "user"
)

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"user_id"`
	PasswordHash string    `json:"-"` // Do not expose this in JSON responses
	CreatedAt    time.Time `json:"created_at"`
}

type Session struct {
	ID             string     `json:"id"` // Using UUID for external ID
	UserID         *string    `json:"userId,omitempty"`
	RoleType       RoleType   `json:"roleType"`
	JobDescription *string    `json:"jobDescription,omitempty"`
	Status         Status     `json:"status"`
	StartedAt      time.Time  `json:"startedAt"`
	EndedAt        *time.Time `json:"endedAt,omitempty"`
}

type Message struct {
	ID        string    `json:"id"` // Using UUID for external ID
	SessionID string    `json:"sessionId,omitempty"`
	Role      string    `json:"role"` // "assistant" or "user"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type QuestionFeedback struct {
	Question     string  `json:"question"`
	UserAnswer   string  `json:"userAnswer"`
	Feedback     string  `json:"feedback"`
	BetterAnswer *string `json:"betterAnswer,omitempty"`
	Score        float64 `json:"score"`
}

type Feedback struct {
	ID               string             `json:"id,omitempty"`
	SessionID        string             `json:"sessionId,omitempty"`
	OverallScore     float64            `json:"overallScore"`
	Strengths        []string           `json:"strengths"`
	AreasToImprove   []string           `json:"areasToImprove"`
	QuestionFeedback []QuestionFeedback `json:"questionFeedback"`
	Summary          string             `json:"summary"`
	CreatedAt        *time.Time         `json:"createdAt,omitempty"`
}

// SessionDetails is a session together with its ordered transcript and feedback.
type SessionDetails struct {
	Session
	Messages []Message `json:"messages"`
	Feedback *Feedback `json:"feedback"`
}

type SessionSummary struct {
	Session
	MessageCount int      `json:"messageCount"`
	OverallScore *float64 `json:"overallScore,omitempty"`
}
