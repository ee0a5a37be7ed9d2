package board

import (
	"strconv"
	"strings"

	"github.com/starford/termboard/internal/models"
)

// Box is an axis-aligned bounding box in board coordinates (y grows downwards).
type Box struct {
	X, Y, Width, Height float64
}

func (b Box) Left() float64   { return b.X }
func (b Box) Top() float64    { return b.Y }
func (b Box) Right() float64  { return b.X + b.Width }
func (b Box) Bottom() float64 { return b.Y + b.Height }

// Area returns the box area; degenerate boxes have zero area.
func (b Box) Area() float64 {
	if b.Width <= 0 || b.Height <= 0 {
		return 0
	}
	return b.Width * b.Height
}

// Contains reports whether o lies entirely inside b, edges included.
func (b Box) Contains(o Box) bool {
	return o.Left() >= b.Left() && o.Right() <= b.Right() &&
		o.Top() >= b.Top() && o.Bottom() <= b.Bottom()
}

// Intersection returns the overlap area of b and o.
func (b Box) Intersection(o Box) float64 {
	w := min(b.Right(), o.Right()) - max(b.Left(), o.Left())
	h := min(b.Bottom(), o.Bottom()) - max(b.Top(), o.Top())
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Intersects reports whether the two boxes share a positive area.
func (b Box) Intersects(o Box) bool {
	return b.Intersection(o) > 0
}

// MemberThreshold is the share of a node's own area that must overlap a group
// for the node to count as inside it.
const MemberThreshold = 0.5

// IsMember reports whether node belongs to group: fully contained, or at least
// half of the node's area overlapping the group.
func IsMember(node, group Box) bool {
	if group.Contains(node) {
		return true
	}
	area := node.Area()
	if area == 0 {
		return false
	}
	return node.Intersection(group) >= MemberThreshold*area
}

// DefaultMasteredLabel is the reserved label of the mastered container group.
const DefaultMasteredLabel = "Mastered"

// MasteredMode selects how mastered terms are detected.
type MasteredMode string

const (
	MasteredByGroup MasteredMode = "group"
	MasteredByColor MasteredMode = "color"
)

// MasteredGroup returns the first group node whose label matches label
// (case-insensitively), or nil.
func (d *Document) MasteredGroup(label string) *Node {
	if label == "" {
		label = DefaultMasteredLabel
	}
	for i := range d.Nodes {
		n := &d.Nodes[i]
		if n.Type == KindGroup && strings.EqualFold(strings.TrimSpace(n.Label), label) {
			return n
		}
	}
	return nil
}

// ParseColor maps a board color value to a tag. Preset colors are the strings
// "1".."6"; custom hex colors carry no tag.
func ParseColor(s string) models.ColorTag {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	c := models.ColorTag(v)
	if !c.Valid() {
		return 0
	}
	return c
}

// FormatColor is the inverse of ParseColor.
func FormatColor(c models.ColorTag) string {
	if !c.Valid() {
		return ""
	}
	return strconv.Itoa(int(c))
}

// Classifier decides whether a node is mastered according to the active mode.
type Classifier struct {
	Mode  MasteredMode
	group *Box
}

// NewClassifier prepares a classifier for doc.
func NewClassifier(doc *Document, mode MasteredMode, label string) Classifier {
	c := Classifier{Mode: mode}
	if mode != MasteredByColor {
		if g := doc.MasteredGroup(label); g != nil {
			box := g.Box()
			c.group = &box
		}
	}
	return c
}

// Mastered classifies a node.
func (c Classifier) Mastered(n *Node) bool {
	if c.Mode == MasteredByColor {
		return ParseColor(n.Color) == models.MasteredColor
	}
	return c.group != nil && IsMember(n.Box(), *c.group)
}
