package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/mockprep/interview-server/internal/auth"
	"github.com/mockprep/interview-server/internal/core"
	"github.com/mockprep/interview-server/internal/store"
	"github.com/mockprep/interview-server/internal/stream"
)

// UserStore is the part of the store the auth handlers need.
type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash string) (*store.User, error)
	GetUserByUsername(ctx context.Context, username string) (*store.User, error)
	GetUserByID(ctx context.Context, id string) (*store.User, error)
}

type APIHandler struct {
	users      UserStore
	jwt        *auth.JWTManager
	bcryptCost int

	manager *core.SessionManager
	chat    *core.ChatService
	history *core.HistoryService
	events  *stream.Server
}

// Services groups the collaborators of APIHandler.
type Services struct {
	Users      UserStore
	JWT        *auth.JWTManager
	BcryptCost int
	Manager    *core.SessionManager
	Chat       *core.ChatService
	History    *core.HistoryService
	Events     *stream.Server
}

func NewAPIHandler(s Services) *APIHandler {
	return &APIHandler{
		users:      s.Users,
		jwt:        s.JWT,
		bcryptCost: s.BcryptCost,
		manager:    s.Manager,
		chat:       s.Chat,
		history:    s.History,
		events:     s.Events,
	}
}

type ctxKey string

const userIDKey ctxKey = "userID"

// userIDFrom returns the authenticated user id, or "" for anonymous requests.
func userIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// RequireAuth rejects requests without a valid bearer token.
func (h *APIHandler) RequireAuth(next http.Handler) http.Handler {
	return h.authenticate(next, false)
}

// OptionalAuth lets anonymous requests through but still rejects a bad token.
func (h *APIHandler) OptionalAuth(next http.Handler) http.Handler {
	return h.authenticate(next, true)
}

func (h *APIHandler) authenticate(next http.Handler, allowAnonymous bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if allowAnonymous {
				next.ServeHTTP(w, r)
				return
			}
			writeErrorMessage(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		userID, err := h.jwt.ValidateJWT(tokenString)
		if err != nil {
			writeErrorMessage(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		user, err := h.users.GetUserByID(r.Context(), userID)
		if err != nil {
			log.Printf("Error loading user %s during authentication: %v", userID, err)
			writeErrorMessage(w, http.StatusInternalServerError, "Failed to process user identity")
			return
		}
		if user == nil {
			writeErrorMessage(w, http.StatusUnauthorized, "User not found")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, user.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type credentialsRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

func (h *APIHandler) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" || req.Password == "" {
		writeErrorMessage(w, http.StatusBadRequest, "User ID and password are required")
		return
	}

	existing, err := h.users.GetUserByUsername(r.Context(), req.UserID)
	if err != nil {
		log.Printf("Error checking user %s: %v", req.UserID, err)
		writeErrorMessage(w, http.StatusInternalServerError, "Failed to create user")
		return
	}
	if existing != nil {
		writeErrorMessage(w, http.StatusConflict, "User already exists")
		return
	}

	hashedPassword, err := auth.HashPassword(req.Password, h.bcryptCost)
	if err != nil {
		log.Printf("Error hashing password for user %s: %v", req.UserID, err)
		writeErrorMessage(w, http.StatusInternalServerError, "Failed to process password")
		return
	}

	user, err := h.users.CreateUser(r.Context(), req.UserID, hashedPassword)
	if err != nil {
		log.Printf("Error creating user %s: %v", req.UserID, err)
		writeErrorMessage(w, http.StatusInternalServerError, "Failed to create user")
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UserID == "" || req.Password == "" {
		writeErrorMessage(w, http.StatusBadRequest, "User ID and password are required")
		return
	}

	user, err := h.users.GetUserByUsername(r.Context(), strings.TrimSpace(req.UserID))
	if err != nil {
		log.Printf("Error getting user %s: %v", req.UserID, err)
		writeErrorMessage(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if user == nil || !auth.CheckPasswordHash(req.Password, user.PasswordHash) {
		writeErrorMessage(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	token, err := h.jwt.GenerateJWT(user.ID)
	if err != nil {
		log.Printf("Error generating JWT for user %s: %v", req.UserID, err)
		writeErrorMessage(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *APIHandler) RolesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"roles": core.RoleOptions})
}

type errorResponse struct {
	Error     string            `json:"error"`
	Fields    map[string]string `json:"fields,omitempty"`
	SessionID string            `json:"sessionId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeError maps domain errors onto HTTP responses. fallback is the message
// used for unexpected failures.
func writeError(w http.ResponseWriter, err error, fallback string) {
	status, body := errorBody(err, fallback)
	writeJSON(w, status, body)
}

func errorBody(err error, fallback string) (int, errorResponse) {
	var verr *core.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, errorResponse{Error: "Invalid input", Fields: verr.FieldErrors}
	case errors.Is(err, core.ErrNoInterviewerQuestion):
		return http.StatusBadRequest, errorResponse{Error: "No interviewer question to respond to"}
	case errors.Is(err, core.ErrSessionNotFound):
		return http.StatusNotFound, errorResponse{Error: "Interview session not found"}
	case errors.Is(err, core.ErrSessionCompleted):
		return http.StatusConflict, errorResponse{Error: "Interview session is already completed"}
	case errors.Is(err, core.ErrAlreadyStarted):
		return http.StatusConflict, errorResponse{Error: "Interview has already started"}
	case errors.Is(err, core.ErrNotStarted):
		return http.StatusConflict, errorResponse{Error: "Interview has not started"}
	case errors.Is(err, core.ErrInterviewClosed):
		return http.StatusConflict, errorResponse{Error: "Interview session was updated, please retry"}
	case errors.Is(err, core.ErrConfiguration):
		return http.StatusInternalServerError, errorResponse{Error: core.ErrConfiguration.Error()}
	default:
		log.Printf("Request failed: %v", err)
		return http.StatusInternalServerError, errorResponse{Error: fallback}
	}
}

// decodeJSON reads the request body into v and answers 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}
