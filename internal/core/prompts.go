package core

import (
	"fmt"
	"strings"

	"github.com/mockprep/interview-server/internal/store"
)

// CompletionMarker is emitted by the interviewer model in the message that
// ends the interview. It is never shown to the candidate.
const CompletionMarker = "[INTERVIEW_COMPLETE]"

// RoleOption describes one selectable interview role.
type RoleOption struct {
	ID          store.RoleType `json:"id"`
	Label       string         `json:"label"`
	Description string         `json:"description"`
}

var RoleOptions = []RoleOption{
	{
		ID:          store.RoleDirectorPharmacyAnalytics,
		Label:       "Director of Pharmacy Analytics",
		Description: "Healthcare analytics leadership role focusing on pharmacy operations and data-driven decisions",
	},
	{
		ID:          store.RoleSoftwareEngineer,
		Label:       "Software Engineer",
		Description: "Technical role focusing on coding, system design, and problem-solving",
	},
	{
		ID:          store.RoleProductManager,
		Label:       "Product Manager",
		Description: "Product strategy, user research, and cross-functional leadership",
	},
	{
		ID:          store.RoleDataAnalyst,
		Label:       "Data Analyst",
		Description: "Data analysis, visualization, and business intelligence",
	},
	{
		ID:          store.RoleGeneral,
		Label:       "General Interview",
		Description: "Broad interview covering common behavioral and situational questions",
	},
}

var interviewerContexts = map[store.RoleType]string{
	store.RoleDirectorPharmacyAnalytics: "You are interviewing for a Director of Pharmacy Analytics position. Focus on healthcare analytics experience, leadership skills, pharmacy operations knowledge, data-driven decision making, and team management.",
	store.RoleSoftwareEngineer:          "You are interviewing for a Software Engineer position. Focus on coding skills, system design, problem-solving abilities, collaboration, and technical knowledge relevant to the role.",
	store.RoleProductManager:            "You are interviewing for a Product Manager position. Focus on product strategy, user research, stakeholder management, prioritization frameworks, and cross-functional leadership.",
	store.RoleDataAnalyst:               "You are interviewing for a Data Analyst position. Focus on data analysis skills, SQL/Python proficiency, visualization experience, business acumen, and communication of insights.",
	store.RoleGeneral:                   "You are conducting a general interview. Focus on common behavioral questions, situational scenarios, and assessing the candidate's overall communication and problem-solving skills.",
}

var candidatePersonas = map[store.RoleType]string{
	store.RoleDirectorPharmacyAnalytics: "You are a candidate with 8+ years in healthcare analytics, experience leading teams, and expertise in pharmacy operations data.",
	store.RoleSoftwareEngineer:          "You are a software engineer candidate with 5 years experience in Python, TypeScript, and cloud technologies.",
	store.RoleProductManager:            "You are a product manager candidate with experience in B2B SaaS, user research, and cross-functional leadership.",
	store.RoleDataAnalyst:               "You are a data analyst candidate skilled in SQL, Python, Tableau, and business intelligence.",
	store.RoleGeneral:                   "You are a professional candidate with relevant experience for the role being discussed.",
}

const interviewerGuidelines = `

Guidelines:
- Start with a brief introduction and a warm-up question
- Ask follow-up questions based on the candidate's responses
- Mix behavioral, situational, and role-specific questions
- Be professional but conversational
- Conduct 5-7 questions total
- Ask ONE question at a time, then wait for the response

IMPORTANT - Ending the interview:
- When you ask your FINAL question, just ask the question and wait for the response
- Do NOT say "this concludes the interview" or similar when asking a question
- Only AFTER the candidate has answered the final question, in your NEXT response, thank them and conclude
- Add "` + CompletionMarker + `" ONLY in the response where you're thanking them and ending (not when asking questions)

Begin the interview with a friendly introduction.`

const candidateSystemInstruction = `You are simulating a job candidate in a mock interview. Generate realistic, thoughtful responses as if you were the candidate being interviewed.

Guidelines:
- Give substantive answers (2-4 sentences typically)
- Include specific examples when appropriate
- Sound natural and conversational
- Vary your response style - some answers can be brief, others more detailed
- For technical questions, demonstrate competence but don't be perfect
- For behavioral questions, use the STAR method loosely

Respond ONLY with what the candidate would say. No quotation marks, no "Candidate:" prefix, just the response.`

const feedbackSystemInstruction = "You are an expert interview coach analyzing a mock interview. Provide constructive feedback in JSON format."

// InterviewConfig is the role selection that travels with every generation request.
type InterviewConfig struct {
	RoleType       store.RoleType `json:"roleType"`
	JobDescription string         `json:"jobDescription,omitempty"`
}

// Validate rejects unknown role types. An empty role type means general.
func (c *InterviewConfig) Validate() error {
	if c.RoleType == "" {
		c.RoleType = store.RoleGeneral
	}
	if !c.RoleType.Valid() {
		return newValidationError("roleType", fmt.Sprintf("unknown role type %q", c.RoleType))
	}
	c.JobDescription = strings.TrimSpace(c.JobDescription)
	return nil
}

// RoleLabel returns the display label for a role, falling back to "General".
func RoleLabel(rt store.RoleType) string {
	for _, opt := range RoleOptions {
		if opt.ID == rt && rt != store.RoleGeneral {
			return opt.Label
		}
	}
	return "General"
}

func interviewerInstruction(cfg InterviewConfig) string {
	roleContext, ok := interviewerContexts[cfg.RoleType]
	if !ok {
		roleContext = interviewerContexts[store.RoleGeneral]
	}
	var jobContext string
	if cfg.JobDescription != "" {
		jobContext = "\n\nThe candidate is applying for a position with the following job description:\n" + cfg.JobDescription
	}
	return "You are an experienced interviewer conducting a job interview. " + roleContext + jobContext + interviewerGuidelines
}

// formatTranscript renders history as "Interviewer:"/"Candidate:" paragraphs.
func formatTranscript(history []store.Message) string {
	lines := make([]string, 0, len(history))
	for _, m := range history {
		speaker := "Candidate"
		if m.Role == store.SenderAssistant {
			speaker = "Interviewer"
		}
		lines = append(lines, speaker+": "+m.Content)
	}
	return strings.Join(lines, "\n\n")
}

func candidatePrompt(cfg InterviewConfig, history []store.Message) string {
	persona, ok := candidatePersonas[cfg.RoleType]
	if !ok {
		persona = candidatePersonas[store.RoleGeneral]
	}
	return persona + "\n\nInterview so far:\n" + formatTranscript(history) +
		"\n\nGenerate the candidate's response to the interviewer's last message. Be natural and conversational."
}

func feedbackPrompt(cfg InterviewConfig, history []store.Message) string {
	return fmt.Sprintf(`Analyze this %s mock interview and provide feedback.

INTERVIEW TRANSCRIPT:
%s

Respond with a JSON object containing:
- overallScore: number 1-10
- strengths: array of 3-5 specific strengths shown
- areasToImprove: array of 3-5 areas needing improvement
- questionFeedback: array with objects containing question, userAnswer (summary), feedback, betterAnswer, score (1-10)
- summary: 2-3 paragraph overall assessment

Output only valid JSON, starting with { and ending with }`, RoleLabel(cfg.RoleType), formatTranscript(history))
}
