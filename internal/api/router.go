package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/termboard/internal/termservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events behind the same auth.
func NewRouter(svc *termservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Queries.
	r.Get("/terms", h.ListTerms)
	r.Get("/terms/{term}", h.GetTerm)
	r.Post("/match", h.Match)
	r.Get("/search", h.Search)

	// Books and their cards.
	r.Get("/books", h.ListBooks)
	r.Put("/books", h.SetBooks)
	r.Get("/documents", h.ListDocuments)
	r.Route("/books/{book}", func(r chi.Router) {
		r.Get("/terms", h.BookTerms)
		r.Post("/terms", h.AddTerm)
		r.Put("/terms/{node}", h.EditTerm)
		r.Delete("/terms/{node}", h.DeleteTerm)
		r.Get("/pending", h.Pending)
		r.Get("/unsynced", h.Unsynced)
		r.Post("/retry", h.RetryUnsynced)
		r.Post("/reload", h.ReloadBook)
		r.Post("/document", h.CreateBook)
	})

	// Maintenance.
	r.Post("/rebuild", h.Rebuild)
	r.Post("/flush", h.Flush)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
