package editor

import (
	md "github.com/JohannesKaufmann/html-to-markdown"
)

// ToMarkdown converts serialized content to Markdown by rendering it to HTML
// first and converting the result. Best-effort: any failure yields "".
func ToMarkdown(raw string) string {
	htmlText := ToHTML(raw)
	if htmlText == "" {
		return ""
	}
	converter := md.NewConverter("", true, nil)
	out, err := converter.ConvertString(htmlText)
	if err != nil {
		return ""
	}
	return out
}
