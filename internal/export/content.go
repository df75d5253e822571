package export

import (
	"html"
	"strings"
)

// BodyToHTML turns plain proposal text into paragraph HTML. Blank lines
// separate paragraphs; single newlines become <br> within one.
func BodyToHTML(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	blocks := strings.Split(body, "\n\n")

	var builder strings.Builder
	for _, block := range blocks {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		lines := strings.Split(block, "\n")
		for i, line := range lines {
			lines[i] = html.EscapeString(line)
		}
		builder.WriteString("<p>")
		builder.WriteString(strings.Join(lines, "<br>"))
		builder.WriteString("</p>\n")
	}
	return builder.String()
}
