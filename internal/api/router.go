package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)       // Basic request logging
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))

	// Unauthenticated health/info endpoint
	r.Get("/", apiHandler.RootHandler)

	r.Route("/auth", func(r chi.Router) {
		// Public routes
		r.Post("/register", apiHandler.RegisterHandler)
		r.Post("/login", apiHandler.LoginHandler)

		// Token-protected routes
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.JWTAuthMiddleware)

			r.Get("/get-chat", apiHandler.GetChatHandler)
			r.Get("/get-conversations-list", apiHandler.GetConversationsListHandler)
			r.Post("/chat", apiHandler.ChatHandler)
			r.Get("/get-latest-id", apiHandler.GetLatestIDHandler)
			r.Post("/verify-token", apiHandler.VerifyTokenHandler)
		})
	})

	return r
}
