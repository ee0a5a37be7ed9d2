package api

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/termboard/internal/matcher"
	"github.com/starford/termboard/internal/termservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *termservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *termservice.Service) *Handler {
	return &Handler{svc: svc}
}

// pathParam returns a decoded URL parameter. Book ids are vault-relative paths
// and arrive path-escaped (sub%2Fwords.canvas).
func pathParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// ListTerms handles GET /terms.
//
//	@Summary		List known term and alias keys
//	@Tags			terms
//	@Produce		json
//	@Param			book		query		string	false	"Restrict to one book"
//	@Param			highlight	query		bool	false	"Only keys eligible for highlighting"
//	@Success		200			{object}	TermsResponse
//	@Security		BearerAuth
//	@Router			/terms [get]
func (h *Handler) ListTerms(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	highlight, _ := strconv.ParseBool(q.Get("highlight"))

	var terms []string
	switch {
	case q.Get("book") != "":
		terms = h.svc.TermsForBook(q.Get("book"))
	case highlight:
		terms = h.svc.TermsForHighlighting()
	default:
		terms = h.svc.AllTerms()
	}
	writeJSON(w, http.StatusOK, TermsResponse{Terms: nonNil(terms)})
}

// GetTerm handles GET /terms/{term}.
//
//	@Summary		Look up a term or alias
//	@Tags			terms
//	@Produce		json
//	@Param			term	path		string	true	"Term or alias"
//	@Success		200		{object}	TermResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/terms/{term} [get]
func (h *Handler) GetTerm(w http.ResponseWriter, r *http.Request) {
	term := pathParam(r, "term")
	def, ok := h.svc.Lookup(term)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	writeJSON(w, http.StatusOK, TermResponse{TermDefinition: def, Highlighted: h.svc.Highlighted(term)})
}

// Match handles POST /match.
//
//	@Summary		Find known terms in a text
//	@Tags			terms
//	@Accept			json
//	@Produce		json
//	@Param			body	body		MatchRequest	true	"Text to scan"
//	@Success		200		{object}	MatchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/match [post]
func (h *Handler) Match(w http.ResponseWriter, r *http.Request) {
	var req MatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	policy, err := matcher.ParsePolicy(req.Policy)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	ms := h.svc.Match(req.Text, policy, req.Highlight)
	writeJSON(w, http.StatusOK, MatchResponse{Matches: toMatchResults(ms)})
}

// ListBooks handles GET /books.
//
//	@Summary		List configured books
//	@Tags			books
//	@Produce		json
//	@Success		200	{object}	BooksResponse
//	@Security		BearerAuth
//	@Router			/books [get]
func (h *Handler) ListBooks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, BooksResponse{Books: nonNil(h.svc.Books())})
}

// SetBooks handles PUT /books.
//
//	@Summary		Replace the book list and reload every book
//	@Tags			books
//	@Accept			json
//	@Produce		json
//	@Param			body	body		BooksRequest	true	"Books in precedence order"
//	@Success		200		{object}	BooksResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/books [put]
func (h *Handler) SetBooks(w http.ResponseWriter, r *http.Request) {
	var req BooksRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.svc.SetBooks(r.Context(), req.Books); err != nil {
		writeError(w, "set books", err)
		return
	}
	writeJSON(w, http.StatusOK, BooksResponse{Books: nonNil(h.svc.Books())})
}

// BookTerms handles GET /books/{book}/terms.
//
//	@Summary		List a book's definitions in card order
//	@Tags			books
//	@Produce		json
//	@Param			book	path		string	true	"Book path (escaped)"
//	@Success		200		{object}	DefinitionsResponse
//	@Security		BearerAuth
//	@Router			/books/{book}/terms [get]
func (h *Handler) BookTerms(w http.ResponseWriter, r *http.Request) {
	defs := h.svc.Definitions(pathParam(r, "book"))
	writeJSON(w, http.StatusOK, DefinitionsResponse{Definitions: nonNil(defs)})
}

// AddTerm handles POST /books/{book}/terms.
//
//	@Summary		Add a term card
//	@Description	The term is visible at once under a temporary node id; the card is written after the debounce window.
//	@Tags			books
//	@Accept			json
//	@Produce		json
//	@Param			book	path		string		true	"Book path (escaped)"
//	@Param			body	body		TermRequest	true	"Card content"
//	@Success		202		{object}	models.TermDefinition
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/books/{book}/terms [post]
func (h *Handler) AddTerm(w http.ResponseWriter, r *http.Request) {
	var req TermRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	def, err := h.svc.AddTerm(pathParam(r, "book"), req.input())
	if err != nil {
		writeError(w, "add term", err)
		return
	}
	writeJSON(w, http.StatusAccepted, def)
}

// ListDocuments handles GET /documents.
//
//	@Summary		List board documents in the vault
//	@Tags			books
//	@Produce		json
//	@Param			dir	query		string	false	"Directory relative to the vault root"
//	@Success		200	{object}	DocumentsResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents [get]
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.svc.Documents(r.URL.Query().Get("dir"))
	if err != nil {
		writeError(w, "list documents", err)
		return
	}
	if docs == nil {
		docs = []termservice.DocumentInfo{}
	}
	writeJSON(w, http.StatusOK, DocumentsResponse{Documents: docs})
}

// CreateBook handles POST /books/{book}/document.
//
//	@Summary		Create an empty document for an enabled book
//	@Tags			books
//	@Param			book	path	string	true	"Book path (escaped)"
//	@Success		201		"Document created"
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Failure		503		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/books/{book}/document [post]
func (h *Handler) CreateBook(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.CreateBook(r.Context(), pathParam(r, "book")); err != nil {
		writeError(w, "create book", err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// EditTerm handles PUT /books/{book}/terms/{node}.
//
//	@Summary		Rewrite a term card
//	@Tags			books
//	@Accept			json
//	@Produce		json
//	@Param			book	path		string		true	"Book path (escaped)"
//	@Param			node	path		string		true	"Node id"
//	@Param			body	body		TermRequest	true	"Card content"
//	@Success		200		{object}	models.TermDefinition
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/books/{book}/terms/{node} [put]
func (h *Handler) EditTerm(w http.ResponseWriter, r *http.Request) {
	var req TermRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	def, err := h.svc.EditTerm(pathParam(r, "book"), pathParam(r, "node"), req.input())
	if err != nil {
		writeError(w, "edit term", err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

// DeleteTerm handles DELETE /books/{book}/terms/{node}.
//
//	@Summary		Delete a term card
//	@Tags			books
//	@Param			book	path	string	true	"Book path (escaped)"
//	@Param			node	path	string	true	"Node id"
//	@Success		204		"Card deleted"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/books/{book}/terms/{node} [delete]
func (h *Handler) DeleteTerm(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteTerm(pathParam(r, "book"), pathParam(r, "node")); err != nil {
		writeError(w, "delete term", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Pending handles GET /books/{book}/pending.
//
//	@Summary		List adds waiting to be written
//	@Tags			books
//	@Produce		json
//	@Param			book	path		string	true	"Book path (escaped)"
//	@Success		200		{object}	DefinitionsResponse
//	@Security		BearerAuth
//	@Router			/books/{book}/pending [get]
func (h *Handler) Pending(w http.ResponseWriter, r *http.Request) {
	defs := h.svc.Pending(pathParam(r, "book"))
	writeJSON(w, http.StatusOK, DefinitionsResponse{Definitions: nonNil(defs)})
}

// Unsynced handles GET /books/{book}/unsynced.
//
//	@Summary		List adds whose write failed
//	@Tags			books
//	@Produce		json
//	@Param			book	path		string	true	"Book path (escaped)"
//	@Success		200		{object}	DefinitionsResponse
//	@Security		BearerAuth
//	@Router			/books/{book}/unsynced [get]
func (h *Handler) Unsynced(w http.ResponseWriter, r *http.Request) {
	defs := h.svc.Unsynced(pathParam(r, "book"))
	writeJSON(w, http.StatusOK, DefinitionsResponse{Definitions: nonNil(defs)})
}

// RetryUnsynced handles POST /books/{book}/retry.
//
//	@Summary		Write a book's unsynced adds again
//	@Tags			books
//	@Produce		json
//	@Param			book	path		string	true	"Book path (escaped)"
//	@Success		200		{object}	RetryResponse
//	@Failure		503		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/books/{book}/retry [post]
func (h *Handler) RetryUnsynced(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.RetryUnsynced(r.Context(), pathParam(r, "book"))
	if err != nil {
		writeError(w, "retry unsynced", err)
		return
	}
	writeJSON(w, http.StatusOK, RetryResponse{Retried: n})
}

// ReloadBook handles POST /books/{book}/reload.
//
//	@Summary		Re-read one book from disk
//	@Tags			books
//	@Param			book	path	string	true	"Book path (escaped)"
//	@Success		204		"Book reloaded"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/books/{book}/reload [post]
func (h *Handler) ReloadBook(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.LoadBook(r.Context(), pathParam(r, "book")); err != nil {
		writeError(w, "reload book", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Rebuild handles POST /rebuild.
//
//	@Summary		Recompute every lookup view
//	@Tags			books
//	@Success		204	"Rebuilt"
//	@Security		BearerAuth
//	@Router			/rebuild [post]
func (h *Handler) Rebuild(w http.ResponseWriter, _ *http.Request) {
	h.svc.RebuildAll()
	w.WriteHeader(http.StatusNoContent)
}

// Flush handles POST /flush.
//
//	@Summary		Write every queued add now
//	@Tags			books
//	@Success		204	"Flushed"
//	@Security		BearerAuth
//	@Router			/flush [post]
func (h *Handler) Flush(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Flush(r.Context()); err != nil {
		writeError(w, "flush", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Search handles GET /search.
//
//	@Summary		Full-text search across definitions
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: nonNil(results)})
}
