package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/termboard/internal/models"
	"github.com/starford/termboard/internal/termservice"
	"github.com/starford/termboard/internal/testutil"
)

func testServer(t *testing.T) (*Server, *termservice.Service) {
	t.Helper()

	vaultDir, store := testutil.TestVault(t)
	testutil.WriteBoard(t, vaultDir, "words.canvas", "Apple\n*pomme*\n\nA round fruit.", "Banana\n\nA long fruit.")

	svc, err := termservice.New(store, testutil.TestDB(t), termservice.Config{
		Books:          []models.Book{{Path: "words.canvas", Enabled: true}},
		DebounceWindow: time.Hour,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(svc.Close)
	if err := svc.LoadAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	return New(svc, "test"), svc
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no direct "call tool" test helper, so the handlers are
	// invoked directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "lookup_term":
		result, err = srv.lookupTerm(ctx, req)
	case "match_text":
		result, err = srv.matchText(ctx, req)
	case "add_term":
		result, err = srv.addTerm(ctx, req)
	case "list_terms":
		result, err = srv.listTerms(ctx, req)
	case "search_definitions":
		result, err = srv.searchDefinitions(ctx, req)
	case "list_documents":
		result, err = srv.listDocuments(ctx, req)
	case "get_board_contract":
		result, err = srv.getBoardContract(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestLookupTerm(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "lookup_term", map[string]interface{}{"term": "Pomme"})
	if r.IsError {
		t.Fatalf("lookup error: %s", resultText(r))
	}
	var def models.TermDefinition
	if err := json.Unmarshal([]byte(resultText(r)), &def); err != nil {
		t.Fatal(err)
	}
	if def.Term != "Apple" || def.Body != "A round fruit." {
		t.Errorf("def = %+v", def)
	}

	r = callTool(t, srv, "lookup_term", map[string]interface{}{"term": "durian"})
	if !r.IsError {
		t.Error("expected error for unknown term")
	}
}

func TestMatchText(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "match_text", map[string]interface{}{
		"text":   "One Apple, two bananas, a banana.",
		"policy": "longest",
	})
	if r.IsError {
		t.Fatalf("match error: %s", resultText(r))
	}
	var out []matchOut
	if err := json.Unmarshal([]byte(resultText(r)), &out); err != nil {
		t.Fatal(err)
	}
	// "bananas" is not a whole-word match.
	if len(out) != 2 || out[0].Term != "Apple" || out[1].Term != "banana" {
		t.Errorf("matches = %+v", out)
	}

	r = callTool(t, srv, "match_text", map[string]interface{}{"text": "x", "policy": "widest"})
	if !r.IsError {
		t.Error("expected error for unknown policy")
	}
}

func TestAddTerm(t *testing.T) {
	srv, svc := testServer(t)

	r := callTool(t, srv, "add_term", map[string]interface{}{
		"book":    "words.canvas",
		"term":    "Cherry",
		"body":    "Small stone fruit.",
		"aliases": "griotte, merise",
		"color":   float64(2),
	})
	if r.IsError {
		t.Fatalf("add error: %s", resultText(r))
	}
	def, ok := svc.Lookup("merise")
	if !ok || def.Term != "Cherry" || def.Color != 2 || def.SyncState != models.SyncPending {
		t.Errorf("def = %+v, %v", def, ok)
	}

	r = callTool(t, srv, "add_term", map[string]interface{}{"book": "other.canvas", "term": "x"})
	if !r.IsError {
		t.Error("expected error for unknown book")
	}
	r = callTool(t, srv, "add_term", map[string]interface{}{"book": "words.canvas"})
	if !r.IsError {
		t.Error("expected error for missing term")
	}
}

func TestListTerms(t *testing.T) {
	srv, _ := testServer(t)

	text := resultText(callTool(t, srv, "list_terms", map[string]interface{}{}))
	for _, want := range []string{"apple", "pomme", "banana"} {
		if !strings.Contains(text, want) {
			t.Errorf("list missing %q: %q", want, text)
		}
	}
	text = resultText(callTool(t, srv, "list_terms", map[string]interface{}{"book": "none.canvas"}))
	if text != "no terms found" {
		t.Errorf("list for unknown book = %q", text)
	}
}

func TestSearchDefinitions(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "search_definitions", map[string]interface{}{"query": "round"})
	if r.IsError {
		t.Fatalf("search error: %s", resultText(r))
	}
	if !strings.Contains(resultText(r), `"Apple"`) {
		t.Errorf("search result = %s", resultText(r))
	}
}

func TestListDocuments(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "list_documents", map[string]interface{}{})
	if r.IsError {
		t.Fatalf("list error: %s", resultText(r))
	}
	var docs []termservice.DocumentInfo
	if err := json.Unmarshal([]byte(resultText(r)), &docs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(docs) != 1 || docs[0].Path != "words.canvas" || !docs[0].Configured {
		t.Errorf("documents = %+v", docs)
	}
	if r := callTool(t, srv, "list_documents", map[string]interface{}{"dir": "nowhere"}); !r.IsError {
		t.Error("missing directory should be a tool error")
	}
}

func TestBoardContract(t *testing.T) {
	srv, _ := testServer(t)

	if got := resultText(callTool(t, srv, "get_board_contract", nil)); got != BoardFormatContract {
		t.Error("contract tool returned unexpected text")
	}
	contents, err := srv.readBoardFormatResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil || len(contents) != 1 {
		t.Fatalf("resource = %v, %v", contents, err)
	}
	if tc, ok := contents[0].(mcp.TextResourceContents); !ok || tc.URI != formatURI {
		t.Errorf("resource contents = %+v", contents[0])
	}
}
