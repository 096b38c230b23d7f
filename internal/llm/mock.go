package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Must match the marker the interviewer instruction asks for.
const mockMarker = "[INTERVIEW_COMPLETE]"

var mockQuestions = []string{
	"Hi, thanks for joining me today. To start us off, could you walk me through your background and what draws you to this role?",
	"Tell me about a time you had to deliver results under a tight deadline. How did you approach it?",
	"Describe a situation where you disagreed with a colleague. What happened and how was it resolved?",
	"What is a project you are particularly proud of, and what was your specific contribution?",
	"Where do you see the biggest opportunity to grow in your next role?",
}

var mockAnswers = []string{
	"I've spent about five years in roles that mix analysis and delivery, most recently leading a small team. What draws me here is the chance to own outcomes end to end.",
	"Last quarter we had two weeks to ship a reporting pipeline. I cut scope to the essentials, set up daily check-ins, and we launched on time with a follow-up plan for the rest.",
	"A teammate and I disagreed on a rollout plan. I suggested we list the risks together, we ran a small pilot, and the data settled it without any hard feelings.",
	"I'm proud of a migration I led that cut infrastructure costs by around 30 percent. I designed the cutover plan and wrote most of the validation tooling.",
	"I'd like to get better at influencing strategy earlier, before decisions are locked in, and at mentoring people more deliberately.",
}

const mockFeedbackJSON = `{
  "overallScore": 7,
  "strengths": ["Clear structure in answers", "Concrete examples with outcomes"],
  "areasToImprove": ["Quantify impact more consistently", "Keep answers a little shorter"],
  "questionFeedback": [],
  "summary": "A solid interview with well-organised answers. Adding more measurable results would make the responses stronger."
}`

// MockProvider is a scripted provider for demos and tests. It asks a fixed
// list of questions, closes with the completion marker, answers as a canned
// candidate and returns canned feedback JSON.
type MockProvider struct {
	mu sync.Mutex

	// Questions is the number of interviewer questions before the closing turn.
	Questions int
	// Replies, when set, are returned in order regardless of mode.
	Replies []*Response
	// Err, when set, is returned from every call.
	Err error

	calls []Request
}

func NewMockProvider() *MockProvider {
	return &MockProvider{Questions: len(mockQuestions)}
}

func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) Close() error { return nil }

// Calls returns a copy of every request received so far.
func (m *MockProvider) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many requests of the given mode were received.
func (m *MockProvider) CallCount(mode Mode) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Mode == mode {
			n++
		}
	}
	return n
}

func (m *MockProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.calls = append(m.calls, *req)
	if m.Err != nil {
		err := m.Err
		m.mu.Unlock()
		return nil, err
	}
	if len(m.Replies) > 0 {
		resp := m.Replies[0]
		m.Replies = m.Replies[1:]
		m.mu.Unlock()
		if resp == nil {
			return nil, errors.New("mock provider: scripted failure")
		}
		copied := *resp
		return &copied, nil
	}
	questions := m.Questions
	m.mu.Unlock()

	var text string
	switch req.Mode {
	case ModeInterviewer:
		text = mockInterviewerTurn(req.Messages, questions)
	case ModeCandidate:
		// The candidate prompt carries the transcript as "Candidate: ..." lines.
		answered := 0
		for _, msg := range req.Messages {
			answered += strings.Count(msg.Content, "\nCandidate: ")
			if strings.HasPrefix(msg.Content, "Candidate: ") {
				answered++
			}
		}
		text = mockAnswers[answered%len(mockAnswers)]
	case ModeFeedback:
		text = mockFeedbackJSON
	default:
		return nil, fmt.Errorf("mock provider: unknown mode %q", req.Mode)
	}

	return &Response{
		Text:         text,
		FinishReason: "stop",
		Usage: &Usage{
			PromptTokens:     estimateTokens(req),
			CompletionTokens: len(text) / 4,
			TotalTokens:      estimateTokens(req) + len(text)/4,
		},
	}, nil
}

func mockInterviewerTurn(history []Message, questions int) string {
	answered := countRole(history, RoleUser)
	if answered >= questions {
		return "Thank you for your time today, that concludes our interview. " + mockMarker
	}
	return mockQuestions[answered%len(mockQuestions)]
}

func countRole(messages []Message, role string) int {
	n := 0
	for _, m := range messages {
		if m.Role == role {
			n++
		}
	}
	return n
}

// estimateTokens provides a rough token count estimate.
func estimateTokens(req *Request) int {
	total := len(req.SystemInstruction) / 4
	for _, msg := range req.Messages {
		total += len(msg.Content) / 4
	}
	return total
}
