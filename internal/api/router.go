package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)       // Basic request logging
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	// All API routes will be under /api
	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Get("/health", apiHandler.HealthHandler)
		r.Get("/roles", apiHandler.RolesHandler)
		r.Post("/signup", apiHandler.SignupHandler)
		r.Post("/login", apiHandler.LoginHandler)

		// Anonymous interviews are allowed but not persisted.
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.OptionalAuth)

			r.Post("/interviews", apiHandler.StartInterviewHandler)
			r.Route("/interviews/{id}", func(r chi.Router) {
				r.Get("/", apiHandler.GetInterviewHandler)
				r.Post("/start", apiHandler.ResumeInterviewHandler)
				r.Post("/turns", apiHandler.SubmitTurnHandler)
				r.Post("/selfplay", apiHandler.StartSelfPlayHandler)
				r.Delete("/selfplay", apiHandler.StopSelfPlayHandler)
				r.Get("/selfplay", apiHandler.SelfPlayStatusHandler)
				r.Post("/feedback", apiHandler.InterviewFeedbackHandler)
				r.Get("/events", apiHandler.EventsHandler)
			})

			// Client-held history
			r.Post("/chat", apiHandler.ChatHandler)
			r.Post("/demo-response", apiHandler.DemoResponseHandler)
			r.Post("/feedback", apiHandler.FeedbackHandler)
		})

		// User-authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.RequireAuth)

			r.Get("/sessions", apiHandler.ListSessionsHandler)
			r.Get("/sessions/{id}", apiHandler.GetSessionHandler)
			r.Patch("/sessions/{id}", apiHandler.UpdateSessionHandler)
		})
	})

	return r
}
