// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Termboard tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/termboard/internal/matcher"
	"github.com/starford/termboard/internal/models"
	"github.com/starford/termboard/internal/termservice"
	"github.com/starford/termboard/internal/termsync"
)

const formatURI = "termboard://board-format"

// Server wraps the MCP server with Termboard tools.
type Server struct {
	mcp *server.MCPServer
	svc *termservice.Service
}

// New creates a new MCP server with all Termboard tools registered.
func New(svc *termservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Termboard",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("lookup_term",
		mcp.WithDescription("Look up the definition of a term or alias (case-insensitive)."),
		mcp.WithString("term", mcp.Required(), mcp.Description("Term or alias to look up")),
	), s.lookupTerm)

	s.mcp.AddTool(mcp.NewTool("match_text",
		mcp.WithDescription("Find every known term in a text. Returns byte offsets and definitions."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Text to scan")),
		mcp.WithString("policy", mcp.Description("Overlap policy: all (default) or longest"), mcp.Enum("all", "longest")),
		mcp.WithBoolean("highlight", mcp.Description("Skip mastered terms")),
	), s.matchText)

	s.mcp.AddTool(mcp.NewTool("add_term",
		mcp.WithDescription("Add a term card to a book. The term is visible at once and written "+
			"to the board shortly after. Read the contract first via the get_board_contract "+
			"tool or the "+formatURI+" resource."),
		mcp.WithString("book", mcp.Required(), mcp.Description("Book path (e.g. words.canvas)")),
		mcp.WithString("term", mcp.Required(), mcp.Description("Single-line term")),
		mcp.WithString("body", mcp.Description("Definition body")),
		mcp.WithString("aliases", mcp.Description("Comma-separated aliases")),
		mcp.WithNumber("color", mcp.Description("Optional color tag 1..6")),
	), s.addTerm)

	s.mcp.AddTool(mcp.NewTool("list_terms",
		mcp.WithDescription("List known term and alias keys, optionally for one book."),
		mcp.WithString("book", mcp.Description("Optional book path")),
	), s.listTerms)

	s.mcp.AddTool(mcp.NewTool("search_definitions",
		mcp.WithDescription("Full-text search through terms, aliases and definition bodies."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchDefinitions)

	s.mcp.AddTool(mcp.NewTool("list_documents",
		mcp.WithDescription("List the board documents in the vault and whether each one is a configured book."),
		mcp.WithString("dir", mcp.Description("Optional directory relative to the vault root")),
	), s.listDocuments)

	s.mcp.AddTool(mcp.NewTool("get_board_contract",
		mcp.WithDescription("Returns the Termboard card format contract. "+
			"Call this before adding terms to ensure correct structure."),
	), s.getBoardContract)

	// Resource: board format contract.
	s.mcp.AddResource(
		mcp.NewResource(formatURI, "Board Format Contract",
			mcp.WithResourceDescription("How vocabulary cards are written on board documents."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readBoardFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) lookupTerm(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	term, err := req.RequireString("term")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	def, ok := s.svc.Lookup(term)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", term)), nil
	}
	return jsonResult(def), nil
}

type matchOut struct {
	Term     string `json:"term"`
	From     int    `json:"from"`
	To       int    `json:"to"`
	BookID   string `json:"book_id"`
	Body     string `json:"body"`
	Mastered bool   `json:"mastered"`
}

func (s *Server) matchText(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	policy, err := matcher.ParsePolicy(req.GetString("policy", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ms := s.svc.Match(text, policy, req.GetBool("highlight", false))
	out := make([]matchOut, len(ms))
	for i, m := range ms {
		out[i] = matchOut{
			Term:     text[m.From:m.To],
			From:     m.From,
			To:       m.To,
			BookID:   m.Payload.BookID,
			Body:     m.Payload.Body,
			Mastered: m.Payload.Mastered,
		}
	}
	return jsonResult(out), nil
}

func (s *Server) addTerm(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	book, err := req.RequireString("book")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	term, err := req.RequireString("term")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	in := termsync.Input{
		Term:  term,
		Body:  req.GetString("body", ""),
		Color: models.ColorTag(req.GetInt("color", 0)),
	}
	if raw := req.GetString("aliases", ""); raw != "" {
		for _, a := range strings.Split(raw, ",") {
			if a = strings.TrimSpace(a); a != "" {
				in.Aliases = append(in.Aliases, a)
			}
		}
	}
	def, err := s.svc.AddTerm(book, in)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(def), nil
}

func (s *Server) listTerms(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var terms []string
	if book := req.GetString("book", ""); book != "" {
		terms = s.svc.TermsForBook(book)
	} else {
		terms = s.svc.AllTerms()
	}
	if len(terms) == 0 {
		return mcp.NewToolResultText("no terms found"), nil
	}
	return mcp.NewToolResultText(strings.Join(terms, "\n")), nil
}

func (s *Server) searchDefinitions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(results), nil
}

func (s *Server) listDocuments(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docs, err := s.svc.Documents(req.GetString("dir", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(docs) == 0 {
		return mcp.NewToolResultText("no documents found"), nil
	}
	return jsonResult(docs), nil
}

func (s *Server) getBoardContract(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(BoardFormatContract), nil
}

func (s *Server) readBoardFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      formatURI,
			MIMEType: "text/markdown",
			Text:     BoardFormatContract,
		},
	}, nil
}

func jsonResult(v any) *mcp.CallToolResult {
	out, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(out))
}
