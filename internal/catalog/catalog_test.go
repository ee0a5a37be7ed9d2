package catalog

import (
	"os"
	"testing"

	"github.com/starford/termboard/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "termboard-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func defs(book string, terms ...string) []models.TermDefinition {
	out := make([]models.TermDefinition, len(terms))
	for i, term := range terms {
		out[i] = models.TermDefinition{
			Term:   term,
			Body:   "about " + term,
			BookID: book,
			NodeID: term + "-node",
		}
	}
	return out
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM books`).Scan(&count); err != nil {
		t.Fatalf("books table missing: %v", err)
	}
	if err := db.conn.QueryRow(`SELECT count(*) FROM terms`).Scan(&count); err != nil {
		t.Fatalf("terms table missing: %v", err)
	}
}

func TestReplaceBookAndChecksum(t *testing.T) {
	db := testDB(t)
	if err := db.ReplaceBook("a.canvas", "abc123", defs("a.canvas", "alpha", "beta")); err != nil {
		t.Fatalf("ReplaceBook: %v", err)
	}
	cs, err := db.BookChecksum("a.canvas")
	if err != nil {
		t.Fatalf("BookChecksum: %v", err)
	}
	if cs != "abc123" {
		t.Errorf("checksum = %q, want %q", cs, "abc123")
	}

	books, err := db.Books()
	if err != nil {
		t.Fatalf("Books: %v", err)
	}
	if len(books) != 1 || books[0].TermCount != 2 {
		t.Errorf("books = %+v", books)
	}
}

func TestReplaceBookDropsOldTerms(t *testing.T) {
	db := testDB(t)
	_ = db.ReplaceBook("a.canvas", "1", defs("a.canvas", "obsolete"))
	_ = db.ReplaceBook("a.canvas", "2", defs("a.canvas", "current"))

	results, _ := db.Search("obsolete", 10)
	if len(results) != 0 {
		t.Errorf("old term still searchable: %+v", results)
	}
	results, _ = db.Search("current", 10)
	if len(results) != 1 || results[0].Term != "current" {
		t.Errorf("search = %+v", results)
	}
}

func TestDeleteBook(t *testing.T) {
	db := testDB(t)
	_ = db.ReplaceBook("del.canvas", "x", defs("del.canvas", "gone"))

	if err := db.DeleteBook("del.canvas"); err != nil {
		t.Fatalf("DeleteBook: %v", err)
	}
	cs, _ := db.BookChecksum("del.canvas")
	if cs != "" {
		t.Errorf("deleted book still has checksum %q", cs)
	}
	results, _ := db.Search("gone", 10)
	if len(results) != 0 {
		t.Errorf("deleted terms still searchable: %+v", results)
	}
}

func TestAllChecksums(t *testing.T) {
	db := testDB(t)
	_ = db.ReplaceBook("a.canvas", "1", nil)
	_ = db.ReplaceBook("b.canvas", "2", defs("b.canvas", "bee"))

	all, err := db.AllChecksums()
	if err != nil {
		t.Fatalf("AllChecksums: %v", err)
	}
	if len(all) != 2 || all["a.canvas"] != "1" || all["b.canvas"] != "2" {
		t.Errorf("checksums = %v", all)
	}
}

func TestBookChecksum_NotFound(t *testing.T) {
	db := testDB(t)
	cs, err := db.BookChecksum("nonexistent.canvas")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cs != "" {
		t.Errorf("expected empty checksum, got %q", cs)
	}
}

func TestSearch_MatchesBodyAndAliases(t *testing.T) {
	db := testDB(t)
	d := []models.TermDefinition{
		{Term: "ephemeral", Aliases: []string{"fleeting"}, Body: "lasting a very short time", NodeID: "n1"},
		{Term: "durable", Body: "able to withstand wear", NodeID: "n2"},
	}
	_ = db.ReplaceBook("w.canvas", "1", d)

	results, err := db.Search("withstand", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].NodeID != "n2" || results[0].BookID != "w.canvas" {
		t.Errorf("body search = %+v", results)
	}
	results, _ = db.Search("fleeting", 10)
	if len(results) != 1 || results[0].Term != "ephemeral" {
		t.Errorf("alias search = %+v", results)
	}
}
