package api

import (
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sjsunlp/leetcode-assistant/internal/logger"
)

func NewRouter(log *logger.Logger, apiHandler *APIHandler, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc: func(r *http.Request, origin string) bool {
			return originAllowed(origin, allowedOrigins)
		},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// All API routes are under /api
	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Get("/health", apiHandler.HealthHandler)
		r.Post("/auth/register", apiHandler.RegisterHandler)
		r.Post("/auth/login", apiHandler.LoginHandler)
		r.Post("/auth/logout", apiHandler.LogoutHandler)
		r.Get("/auth/verify", apiHandler.VerifyHandler)

		// Session or bearer token required
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.RequireAuth)

			r.Get("/auth/token", apiHandler.TokenHandler)
			r.Post("/auth/token/rotate", apiHandler.RotateTokenHandler)

			r.Post("/messages/send", apiHandler.SendMessageHandler)
			r.Get("/messages/history", apiHandler.HistoryHandler)

			r.Post("/rag/search", apiHandler.SearchHandler)
		})
	})

	return r
}

// originAllowed admits browser-extension pages, any localhost port and the
// configured origins.
func originAllowed(origin string, allowed []string) bool {
	if origin == "" {
		return false
	}
	if strings.HasPrefix(origin, "chrome-extension://") {
		return true
	}
	if slices.Contains(allowed, origin) {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1"
}
