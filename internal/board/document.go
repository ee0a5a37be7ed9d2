// Package board reads and writes board documents: JSON files holding a spatial
// collection of nodes (text cards and groups) and the edges between them.
//
// Only the fields this engine needs are modelled. Every other field, on the
// document and on each node, is carried through a decode/encode round trip
// unchanged.
package board

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/starford/termboard/internal/apperr"
)

// Node kinds.
const (
	KindText  = "text"
	KindGroup = "group"
)

// Node is a single board node.
type Node struct {
	ID     string
	Type   string
	X      float64
	Y      float64
	Width  float64
	Height float64
	Text   string
	Color  string
	Label  string

	keys  []string
	extra map[string]json.RawMessage
}

// nodeFields is also the key order of nodes created here.
var nodeFields = []string{"id", "type", "text", "label", "x", "y", "width", "height", "color"}

// Box returns the node's bounding box.
func (n *Node) Box() Box {
	return Box{X: n.X, Y: n.Y, Width: n.Width, Height: n.Height}
}

// UnmarshalJSON decodes the known fields and stashes the rest, remembering the
// order the keys appeared in.
func (n *Node) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var known struct {
		ID     string  `json:"id"`
		Type   string  `json:"type"`
		X      float64 `json:"x"`
		Y      float64 `json:"y"`
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
		Text   string  `json:"text"`
		Color  string  `json:"color"`
		Label  string  `json:"label"`
	}
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	keys, err := objectKeys(data)
	if err != nil {
		return err
	}
	*n = Node{
		ID: known.ID, Type: known.Type,
		X: known.X, Y: known.Y, Width: known.Width, Height: known.Height,
		Text: known.Text, Color: known.Color, Label: known.Label,
		keys: keys,
	}
	for _, f := range nodeFields {
		delete(raw, f)
	}
	if len(raw) > 0 {
		n.extra = raw
	}
	return nil
}

// MarshalJSON writes the node's keys in their decoded order. Keys the node did
// not have before follow in nodeFields order.
func (n Node) MarshalJSON() ([]byte, error) {
	fields := make(map[string]json.RawMessage, len(n.extra)+len(nodeFields))
	for k, v := range n.extra {
		fields[k] = v
	}
	set := func(k string, v any) error {
		b, err := marshal(v)
		if err != nil {
			return err
		}
		fields[k] = b
		return nil
	}
	known := []struct {
		key  string
		val  any
		keep bool
	}{
		{"id", n.ID, true},
		{"type", n.Type, true},
		{"text", n.Text, n.Text != "" || n.Type == KindText},
		{"label", n.Label, n.Label != ""},
		{"x", n.X, true},
		{"y", n.Y, true},
		{"width", n.Width, true},
		{"height", n.Height, true},
		{"color", n.Color, n.Color != ""},
	}
	for _, f := range known {
		if !f.keep {
			continue
		}
		if err := set(f.key, f.val); err != nil {
			return nil, err
		}
	}
	return writeObject(n.keys, nodeFields, fields)
}

// Document is a decoded board file.
type Document struct {
	Nodes []Node
	Edges []json.RawMessage

	keys  []string
	extra map[string]json.RawMessage
}

var documentFields = []string{"nodes", "edges"}

// Decode parses a board document. A document without a "nodes" array is malformed.
func Decode(data []byte) (*Document, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("board: decode: %w: %v", apperr.ErrMalformedBoard, err)
	}
	nodesRaw, ok := raw["nodes"]
	if !ok || bytes.Equal(bytes.TrimSpace(nodesRaw), []byte("null")) {
		return nil, fmt.Errorf("board: decode: %w: missing nodes array", apperr.ErrMalformedBoard)
	}
	keys, err := objectKeys(data)
	if err != nil {
		return nil, fmt.Errorf("board: decode: %w: %v", apperr.ErrMalformedBoard, err)
	}
	doc := &Document{keys: keys}
	if err := json.Unmarshal(nodesRaw, &doc.Nodes); err != nil {
		return nil, fmt.Errorf("board: decode nodes: %w: %v", apperr.ErrMalformedBoard, err)
	}
	if edgesRaw, ok := raw["edges"]; ok {
		if err := json.Unmarshal(edgesRaw, &doc.Edges); err != nil {
			return nil, fmt.Errorf("board: decode edges: %w: %v", apperr.ErrMalformedBoard, err)
		}
	}
	delete(raw, "nodes")
	delete(raw, "edges")
	if len(raw) > 0 {
		doc.extra = raw
	}
	return doc, nil
}

// Encode serializes the document with tab indentation, matching what board
// editors write. Keys keep the order they were decoded in.
func (d *Document) Encode() ([]byte, error) {
	fields := make(map[string]json.RawMessage, len(d.extra)+2)
	for k, v := range d.extra {
		fields[k] = v
	}
	nodes := d.Nodes
	if nodes == nil {
		nodes = []Node{}
	}
	edges := d.Edges
	if edges == nil {
		edges = []json.RawMessage{}
	}
	var err error
	if fields["nodes"], err = marshal(nodes); err != nil {
		return nil, fmt.Errorf("board: encode: %w", err)
	}
	if fields["edges"], err = marshal(edges); err != nil {
		return nil, fmt.Errorf("board: encode: %w", err)
	}
	compact, err := writeObject(d.keys, documentFields, fields)
	if err != nil {
		return nil, fmt.Errorf("board: encode: %w", err)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, compact, "", "\t"); err != nil {
		return nil, fmt.Errorf("board: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// objectKeys returns the keys of a JSON object in document order.
func objectKeys(data []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := tok.(string)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// writeObject encodes fields as a compact JSON object. Keys listed in order
// come first, then those in fallback, then any others sorted.
func writeObject(order, fallback []string, fields map[string]json.RawMessage) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	seen := make(map[string]bool, len(fields))
	write := func(k string) error {
		v, ok := fields[k]
		if !ok || seen[k] {
			return nil
		}
		if len(seen) > 0 {
			buf.WriteByte(',')
		}
		seen[k] = true
		kb, err := marshal(k)
		if err != nil {
			return err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(v)
		return nil
	}
	for _, k := range order {
		if err := write(k); err != nil {
			return nil, err
		}
	}
	for _, k := range fallback {
		if err := write(k); err != nil {
			return nil, err
		}
	}
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		if err := write(k); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// marshal is json.Marshal without HTML escaping, so card text keeps its
// angle brackets and ampersands as written.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// NodeByID returns the index of the node with the given id, or -1.
func (d *Document) NodeByID(id string) int {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return i
		}
	}
	return -1
}

// RemoveNode deletes the node with the given id together with every edge that
// references it. It reports whether the node existed.
func (d *Document) RemoveNode(id string) bool {
	i := d.NodeByID(id)
	if i < 0 {
		return false
	}
	d.Nodes = append(d.Nodes[:i], d.Nodes[i+1:]...)

	kept := d.Edges[:0]
	for _, e := range d.Edges {
		var ends struct {
			FromNode string `json:"fromNode"`
			ToNode   string `json:"toNode"`
		}
		if err := json.Unmarshal(e, &ends); err == nil && (ends.FromNode == id || ends.ToNode == id) {
			continue
		}
		kept = append(kept, e)
	}
	d.Edges = kept
	return true
}

// Empty returns the encoding of a board with no nodes.
func Empty() []byte {
	data, _ := (&Document{}).Encode()
	return data
}
