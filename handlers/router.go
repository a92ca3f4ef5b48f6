package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/justbri/shelfmark/middleware"
	"github.com/justbri/shelfmark/services"
	sharedmw "github.com/justbri/shelfmark/shared/middleware"
)

// Server bundles what the HTTP handlers need.
type Server struct {
	Requests      *services.RequestService
	Auth          *services.AuthService
	Sessions      *services.SessionStore
	Library       *services.LibraryCache
	Hub           *services.Hub
	Authn         *middleware.Auth
	CreateLimiter *middleware.RateLimiter
}

// NewRouter wires every route.
func NewRouter(s *Server) http.Handler {
	r := chi.NewRouter()
	r.Use(sharedmw.Logging)
	r.Use(s.Authn.Identify)

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pong"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/login", s.Login)
	r.Post("/logout", s.Logout)
	r.Post("/register", s.Register)

	r.Route("/requests", func(r chi.Router) {
		// The fetch pipeline authenticates with the shared token, not a session.
		r.With(s.Authn.RequirePipelineToken).Post("/{id}/status", s.UpdateRequestStatus)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth)
			r.Get("/", s.ListRequests)
			r.With(s.CreateLimiter.Limit).Post("/", s.CreateRequest)
			r.Get("/counts", s.RequestCounts)
			r.Post("/mark-viewed", s.MarkViewed)
			r.Get("/{id}", s.GetRequest)
			r.Delete("/{id}", s.DeleteRequest)
			r.Post("/{id}/approve", s.ApproveRequest)
			r.Post("/{id}/deny", s.DenyRequest)
			r.Post("/{id}/retry", s.RetryRequest)
			r.Post("/{id}/complete", s.CompleteRequest)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth)
		r.Get("/me", s.Me)
		r.Get("/events", s.Events)
		r.Get("/catalog/check", s.CatalogCheck)
		r.With(middleware.RequireAdmin).Post("/catalog/refresh", s.CatalogRefresh)
		r.With(middleware.RequireAdmin).Get("/catalog/status", s.CatalogStatus)
	})

	return r
}
