package editor

import "strings"

// ToPlainText converts serialized content to plain text: marks are dropped,
// block nodes are separated by newlines. Malformed input yields "".
func ToPlainText(raw string) string {
	doc := Deserialize(raw)
	if doc == nil {
		return ""
	}
	var b strings.Builder
	writePlain(&b, doc)
	return strings.TrimRight(b.String(), "\n")
}

func writePlain(b *strings.Builder, node *Node) {
	if node == nil {
		return
	}
	switch node.Type {
	case "text":
		b.WriteString(node.Text)
	case "hardBreak":
		b.WriteString("\n")
	case "paragraph", "heading", "codeBlock", "listItem":
		for _, child := range node.Content {
			writePlain(b, child)
		}
		b.WriteString("\n")
	default:
		for _, child := range node.Content {
			writePlain(b, child)
		}
	}
}

// plainContent flattens child nodes to their raw text. Used for code blocks
// where markup inside the block is meaningless.
func plainContent(content []*Node) string {
	var b strings.Builder
	for _, child := range content {
		writePlain(&b, child)
	}
	return strings.TrimRight(b.String(), "\n")
}
