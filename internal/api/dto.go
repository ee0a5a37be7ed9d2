package api

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/termboard/internal/catalog"
	"github.com/starford/termboard/internal/matcher"
	"github.com/starford/termboard/internal/models"
	"github.com/starford/termboard/internal/termservice"
	"github.com/starford/termboard/internal/termsync"
)

// TermRequest is the request body for adding or editing a term card.
type TermRequest struct {
	Term    string   `json:"term" example:"ubiquitous" validate:"required"`
	Body    string   `json:"body" example:"Present, appearing, or found everywhere."`
	Color   int      `json:"color,omitempty" example:"2"`
	Aliases []string `json:"aliases,omitempty" example:"everywhere,omnipresent"`
}

// Validate checks the request before it reaches the coordinator.
func (r TermRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Term, validation.Required, validation.By(singleLine)),
		validation.Field(&r.Color, validation.Min(0), validation.Max(6)),
		validation.Field(&r.Aliases, validation.Each(validation.By(singleLine))),
	)
}

func (r TermRequest) input() termsync.Input {
	return termsync.Input{
		Term:    r.Term,
		Body:    r.Body,
		Color:   models.ColorTag(r.Color),
		Aliases: r.Aliases,
	}
}

// MatchRequest is the request body for POST /match.
type MatchRequest struct {
	Text      string `json:"text" example:"It is ubiquitous." validate:"required"`
	Policy    string `json:"policy,omitempty" example:"longest" enums:"all,longest"`
	Highlight bool   `json:"highlight,omitempty"`
}

// Validate checks the request.
func (r MatchRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Text, validation.Required, validation.Length(1, 1<<20)),
		validation.Field(&r.Policy, validation.In(string(matcher.PolicyAll), string(matcher.PolicyLongest))),
	)
}

// BooksRequest is the request body for PUT /books.
type BooksRequest struct {
	Books []models.Book `json:"books" validate:"required"`
}

// Validate checks every book entry.
func (r BooksRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Books, validation.NotNil, validation.Each(validation.By(func(v any) error {
			b, _ := v.(models.Book)
			return validation.Validate(b.Path, validation.Required)
		}))),
	)
}

// MatchResult is one occurrence of a known term. From and To are byte offsets.
type MatchResult struct {
	Term       string                `json:"term" example:"ubiquitous" validate:"required"`
	From       int                   `json:"from" example:"6" validate:"required"`
	To         int                   `json:"to" example:"16" validate:"required"`
	Definition models.TermDefinition `json:"definition" validate:"required"`
}

// MatchResponse wraps match results.
type MatchResponse struct {
	Matches []MatchResult `json:"matches" validate:"required"`
}

// TermsResponse lists term keys.
type TermsResponse struct {
	Terms []string `json:"terms" validate:"required"`
}

// DefinitionsResponse lists definitions.
type DefinitionsResponse struct {
	Definitions []models.TermDefinition `json:"definitions" validate:"required"`
}

// BooksResponse lists the configured books.
type BooksResponse struct {
	Books []termservice.BookInfo `json:"books" validate:"required"`
}

// DocumentsResponse lists the board documents found in the vault.
type DocumentsResponse struct {
	Documents []termservice.DocumentInfo `json:"documents" validate:"required"`
}

// TermResponse is a definition and whether text scans highlight it.
type TermResponse struct {
	models.TermDefinition
	Highlighted bool `json:"highlighted"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []catalog.SearchResult `json:"results" validate:"required"`
}

// RetryResponse reports how many unsynced definitions were written again.
type RetryResponse struct {
	Retried int `json:"retried" example:"2"`
}

func toMatchResults(ms []termservice.Match) []MatchResult {
	out := make([]MatchResult, len(ms))
	for i, m := range ms {
		out[i] = MatchResult{Term: m.Term, From: m.From, To: m.To, Definition: m.Payload}
	}
	return out
}

func singleLine(v any) error {
	s, _ := v.(string)
	if strings.ContainsAny(s, "\r\n") {
		return validation.NewError("validation_single_line", "must be a single line")
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
