package board

import (
	"fmt"

	"github.com/starford/termboard/internal/apperr"
	"github.com/starford/termboard/internal/models"
)

// Options control how text nodes become term definitions.
type Options struct {
	MasteredMode  MasteredMode
	MasteredLabel string
	MaxAliases    int
}

// Parse decodes a board document and returns one definition per vocabulary
// card, in document order. Text nodes whose first line is empty are skipped.
func Parse(bookID string, data []byte, opts Options) ([]models.TermDefinition, error) {
	doc, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return Definitions(bookID, doc, opts), nil
}

// Definitions extracts the term definitions of an already decoded document.
func Definitions(bookID string, doc *Document, opts Options) []models.TermDefinition {
	cls := NewClassifier(doc, opts.MasteredMode, opts.MasteredLabel)
	var out []models.TermDefinition
	for i := range doc.Nodes {
		n := &doc.Nodes[i]
		if n.Type != KindText {
			continue
		}
		tt, ok := ParseTermText(n.Text, opts.MaxAliases)
		if !ok {
			continue
		}
		out = append(out, models.TermDefinition{
			Term:      tt.Term,
			Aliases:   tt.Aliases,
			Body:      tt.Body,
			BookID:    bookID,
			NodeID:    n.ID,
			Color:     ParseColor(n.Color),
			Mastered:  cls.Mastered(n),
			SyncState: models.SyncSynced,
		})
	}
	return out
}

// Card is a term card to be written to a board.
type Card struct {
	Term    string
	Aliases []string
	Body    string
	Color   models.ColorTag
}

// Placed is a card that was appended to a board.
type Placed struct {
	NodeID   string
	Mastered bool
}

// AppendCards appends one text node per card, in order, placing each in the
// next free slot. It returns the new document and the id and mastered state
// assigned to each card.
func AppendCards(data []byte, cards []Card, opts Options) ([]byte, []Placed, error) {
	doc, err := Decode(data)
	if err != nil {
		return nil, nil, err
	}
	cls := NewClassifier(doc, opts.MasteredMode, opts.MasteredLabel)
	placed := make([]Placed, 0, len(cards))
	for _, c := range cards {
		x, y := Place(doc, CardWidth, CardHeight, opts.MasteredLabel)
		doc.Nodes = append(doc.Nodes, Node{
			ID:     NewNodeID(doc),
			Type:   KindText,
			X:      x,
			Y:      y,
			Width:  CardWidth,
			Height: CardHeight,
			Text:   FormatTermText(c.Term, c.Aliases, c.Body),
			Color:  FormatColor(c.Color),
		})
		n := &doc.Nodes[len(doc.Nodes)-1]
		placed = append(placed, Placed{NodeID: n.ID, Mastered: cls.Mastered(n)})
	}
	out, err := doc.Encode()
	if err != nil {
		return nil, nil, err
	}
	return out, placed, nil
}

// ReplaceCard rewrites the text and color of the text node nodeID. Position and
// size are kept. It returns the new document and the node's mastered state.
func ReplaceCard(data []byte, nodeID string, c Card, opts Options) ([]byte, bool, error) {
	doc, err := Decode(data)
	if err != nil {
		return nil, false, err
	}
	i := doc.NodeByID(nodeID)
	if i < 0 || doc.Nodes[i].Type != KindText {
		return nil, false, fmt.Errorf("board: replace %s: %w", nodeID, apperr.ErrNodeNotFound)
	}
	n := &doc.Nodes[i]
	n.Text = FormatTermText(c.Term, c.Aliases, c.Body)
	n.Color = FormatColor(c.Color)
	mastered := NewClassifier(doc, opts.MasteredMode, opts.MasteredLabel).Mastered(n)

	out, err := doc.Encode()
	if err != nil {
		return nil, false, err
	}
	return out, mastered, nil
}

// RemoveCard deletes the node nodeID and its edges.
func RemoveCard(data []byte, nodeID string) ([]byte, error) {
	doc, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if !doc.RemoveNode(nodeID) {
		return nil, fmt.Errorf("board: remove %s: %w", nodeID, apperr.ErrNodeNotFound)
	}
	return doc.Encode()
}
