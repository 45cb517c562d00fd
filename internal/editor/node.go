// Package editor implements the rich-text document model used by care notes
// and the serialization bridge between that model and its JSON, HTML,
// Markdown, and plain-text representations.
//
// The document is a tree of nodes rooted at a single "doc" node. The tree is
// only ever walked by this package; callers hold serialized content (a JSON
// string) and treat it as opaque.
package editor

// Node is a node in the rich-text document tree.
type Node struct {
	Type    string         `json:"type"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Content []*Node        `json:"content,omitempty"`
	Text    string         `json:"text,omitempty"`
	Marks   []Mark         `json:"marks,omitempty"`
}

// Mark is a formatting mark applied to a text node.
type Mark struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// RootType is the required type of every document root node.
const RootType = "doc"

// NewDocument returns an empty document: a doc root with a single empty
// paragraph, matching what the editor produces before any input.
func NewDocument() *Node {
	return &Node{
		Type:    RootType,
		Content: []*Node{{Type: "paragraph"}},
	}
}

// attrInt reads an integer attribute, tolerating the float64 values that
// encoding/json produces for numbers.
func (n *Node) attrInt(key string, fallback int) int {
	if n.Attrs == nil {
		return fallback
	}
	switch v := n.Attrs[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}

// attrString reads a string attribute.
func (n *Node) attrString(key string) string {
	if n.Attrs == nil {
		return ""
	}
	s, _ := n.Attrs[key].(string)
	return s
}

func (m Mark) attrString(key string) string {
	if m.Attrs == nil {
		return ""
	}
	s, _ := m.Attrs[key].(string)
	return s
}
