package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mockprep/interview-server/internal/store"
)

func (h *APIHandler) ListSessionsHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())

	sessions, err := h.history.List(r.Context(), userID)
	if err != nil {
		writeError(w, err, "Failed to fetch interview sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (h *APIHandler) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	details, err := h.history.Get(r.Context(), chi.URLParam(r, "id"), userIDFrom(r.Context()))
	if err != nil {
		writeError(w, err, "Failed to fetch interview session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": details})
}

type updateSessionRequest struct {
	Status store.Status `json:"status"`
}

// UpdateSessionHandler changes a session's status. Completing stamps ended-at.
func (h *APIHandler) UpdateSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req updateSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	session, err := h.history.SetStatus(r.Context(), chi.URLParam(r, "id"), userIDFrom(r.Context()), req.Status)
	if err != nil {
		writeError(w, err, "Failed to update interview session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": session})
}
