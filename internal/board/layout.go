package board

import (
	"encoding/hex"
	"math"

	"github.com/google/uuid"
)

// Card geometry used for new vocabulary cards.
const (
	CardWidth   = 260
	CardHeight  = 140
	CardGap     = 20
	GridColumns = 6
)

// Place returns the top-left corner of the first free w×h slot on a grid
// anchored at the top-left of the existing text cards. Slots are scanned
// row-major; a slot is free when it overlaps no node and would not classify
// as a member of the mastered group.
func Place(doc *Document, w, h float64, masteredLabel string) (float64, float64) {
	originX, originY := 0.0, 0.0
	first := true
	for i := range doc.Nodes {
		n := &doc.Nodes[i]
		if n.Type != KindText {
			continue
		}
		if first {
			originX, originY = n.X, n.Y
			first = false
			continue
		}
		originX = math.Min(originX, n.X)
		originY = math.Min(originY, n.Y)
	}

	var mastered *Box
	if g := doc.MasteredGroup(masteredLabel); g != nil {
		b := g.Box()
		mastered = &b
	}

	stepX, stepY := w+CardGap, h+CardGap
	for slot := 0; ; slot++ {
		x := originX + float64(slot%GridColumns)*stepX
		y := originY + float64(slot/GridColumns)*stepY
		candidate := Box{X: x, Y: y, Width: w, Height: h}
		if mastered != nil && IsMember(candidate, *mastered) {
			continue
		}
		if !overlapsAny(doc, candidate) {
			return x, y
		}
	}
}

func overlapsAny(doc *Document, b Box) bool {
	for i := range doc.Nodes {
		if doc.Nodes[i].Box().Intersects(b) {
			return true
		}
	}
	return false
}

// NewNodeID returns a 16 character hex id not yet used in doc.
func NewNodeID(doc *Document) string {
	for {
		u := uuid.New()
		id := hex.EncodeToString(u[:8])
		if doc == nil || doc.NodeByID(id) < 0 {
			return id
		}
	}
}
