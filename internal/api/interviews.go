package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mockprep/interview-server/internal/core"
	"github.com/mockprep/interview-server/internal/store"
)

type startInterviewResponse struct {
	SessionID  string          `json:"sessionId"`
	Status     store.Status    `json:"status"`
	Message    store.Message   `json:"message"`
	IsComplete bool            `json:"isComplete"`
	Messages   []store.Message `json:"messages"`
}

func (h *APIHandler) StartInterviewHandler(w http.ResponseWriter, r *http.Request) {
	var req interviewConfigBody
	if !decodeJSON(w, r, &req) {
		return
	}

	iv, res, err := h.manager.StartInterview(r.Context(), userIDFrom(r.Context()), req.config())
	if err != nil {
		status, body := errorBody(err, "Failed to start interview session")
		if iv != nil && iv.Persisted() {
			// The stored session survives; the client can retry the opening turn.
			body.SessionID = iv.ID()
		}
		writeJSON(w, status, body)
		return
	}

	writeJSON(w, http.StatusCreated, startInterviewResponse{
		SessionID:  iv.ID(),
		Status:     res.Status,
		Message:    res.Message,
		IsComplete: res.IsComplete,
		Messages:   iv.Transcript(),
	})
}

// ResumeInterviewHandler retries the opening turn of a session whose start failed.
func (h *APIHandler) ResumeInterviewHandler(w http.ResponseWriter, r *http.Request) {
	res, err := h.manager.ResumeInterview(r.Context(), chi.URLParam(r, "id"), userIDFrom(r.Context()))
	if err != nil {
		writeError(w, err, "Failed to start interview session")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type interviewResponse struct {
	Session  store.Session   `json:"session"`
	State    core.State      `json:"state"`
	Messages []store.Message `json:"messages"`
}

func (h *APIHandler) GetInterviewHandler(w http.ResponseWriter, r *http.Request) {
	iv, err := h.manager.Get(r.Context(), chi.URLParam(r, "id"), userIDFrom(r.Context()))
	if err != nil {
		writeError(w, err, "Failed to fetch interview session")
		return
	}
	writeJSON(w, http.StatusOK, interviewResponse{Session: iv.Session(), State: iv.State(), Messages: iv.Transcript()})
}

type submitTurnRequest struct {
	Content string `json:"content"`
}

func (h *APIHandler) SubmitTurnHandler(w http.ResponseWriter, r *http.Request) {
	var req submitTurnRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.manager.SubmitTurn(r.Context(), chi.URLParam(r, "id"), userIDFrom(r.Context()), req.Content)
	if err != nil {
		writeError(w, err, "Failed to generate response")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *APIHandler) StartSelfPlayHandler(w http.ResponseWriter, r *http.Request) {
	st, err := h.manager.StartSelfPlay(r.Context(), chi.URLParam(r, "id"), userIDFrom(r.Context()))
	if err != nil {
		writeError(w, err, "Failed to start self-play")
		return
	}
	writeJSON(w, http.StatusAccepted, st)
}

func (h *APIHandler) StopSelfPlayHandler(w http.ResponseWriter, r *http.Request) {
	st, err := h.manager.StopSelfPlay(r.Context(), chi.URLParam(r, "id"), userIDFrom(r.Context()))
	if err != nil {
		writeError(w, err, "Failed to stop self-play")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *APIHandler) SelfPlayStatusHandler(w http.ResponseWriter, r *http.Request) {
	st, err := h.manager.SelfPlayStatus(r.Context(), chi.URLParam(r, "id"), userIDFrom(r.Context()))
	if err != nil {
		writeError(w, err, "Failed to fetch self-play state")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *APIHandler) InterviewFeedbackHandler(w http.ResponseWriter, r *http.Request) {
	fb, err := h.manager.GenerateFeedback(r.Context(), chi.URLParam(r, "id"), userIDFrom(r.Context()))
	if err != nil {
		writeError(w, err, "Failed to generate feedback")
		return
	}
	writeJSON(w, http.StatusOK, fb)
}

// EventsHandler upgrades to a websocket streaming the interview's events.
func (h *APIHandler) EventsHandler(w http.ResponseWriter, r *http.Request) {
	iv, err := h.manager.Get(r.Context(), chi.URLParam(r, "id"), userIDFrom(r.Context()))
	if err != nil {
		writeError(w, err, "Failed to subscribe to interview events")
		return
	}
	// Upgrade failures are answered by the upgrader itself.
	_ = h.events.ServeSession(w, r, iv.ID())
}

type interviewConfigBody struct {
	RoleType       store.RoleType `json:"roleType"`
	JobDescription string         `json:"jobDescription,omitempty"`
}

func (c interviewConfigBody) config() core.InterviewConfig {
	return core.InterviewConfig{RoleType: c.RoleType, JobDescription: c.JobDescription}
}

type statelessRequest struct {
	Messages  []store.Message     `json:"messages"`
	Config    interviewConfigBody `json:"config"`
	SessionID string              `json:"sessionId,omitempty"`
}

type chatResponse struct {
	Message    string `json:"message"`
	IsComplete bool   `json:"isComplete"`
}

// ChatHandler generates the next interviewer message for a client-held history.
func (h *APIHandler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	var req statelessRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.chat.Reply(r.Context(), core.ChatRequest{
		Messages:  req.Messages,
		Config:    req.Config.config(),
		SessionID: req.SessionID,
		UserID:    userIDFrom(r.Context()),
	})
	if err != nil {
		writeError(w, err, "Failed to generate response")
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Message: res.Message.Content, IsComplete: res.IsComplete})
}

// DemoResponseHandler generates a candidate answer for self-play clients.
func (h *APIHandler) DemoResponseHandler(w http.ResponseWriter, r *http.Request) {
	var req statelessRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	answer, err := h.chat.CandidateReply(r.Context(), req.Messages, req.Config.config())
	if err != nil {
		writeError(w, err, "Failed to generate demo response")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"response": answer})
}

// FeedbackHandler analyses a client-held transcript.
func (h *APIHandler) FeedbackHandler(w http.ResponseWriter, r *http.Request) {
	var req statelessRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	fb, err := h.chat.Feedback(r.Context(), core.FeedbackRequest{
		Config:    req.Config.config(),
		History:   req.Messages,
		SessionID: req.SessionID,
		UserID:    userIDFrom(r.Context()),
	})
	if err != nil {
		writeError(w, err, "Failed to generate feedback")
		return
	}
	writeJSON(w, http.StatusOK, fb)
}
