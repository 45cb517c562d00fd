package editor

import "encoding/json"

// emptyDocumentJSON is what Serialize falls back to if marshaling ever fails.
// With the Node type that cannot happen for trees built from JSON input, but
// Serialize promises to always return valid JSON.
const emptyDocumentJSON = `{"type":"doc","content":[{"type":"paragraph"}]}`

// Serialize encodes a document tree as a JSON string. The encoding is
// deterministic: encoding/json emits struct fields in declaration order and
// sorts map keys, so equivalent trees always produce identical output.
// A nil document serializes as the empty document.
func Serialize(doc *Node) string {
	if doc == nil {
		return emptyDocumentJSON
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return emptyDocumentJSON
	}
	return string(raw)
}

// Deserialize decodes serialized content back into a document tree. It
// returns nil for malformed JSON or for JSON that lacks the expected doc
// root; callers must treat nil as "no prior content". It never panics.
func Deserialize(raw string) *Node {
	var doc Node
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil
	}
	if doc.Type != RootType {
		return nil
	}
	return &doc
}

// IsValidContent reports whether raw is structurally valid serialized
// content: a well-formed JSON object carrying a root type key. It does not
// validate node-level schema.
func IsValidContent(raw string) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return false
	}
	_, ok := probe["type"]
	return ok
}
