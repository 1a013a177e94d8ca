package adapter

import (
	"html"
	"regexp"
	"strings"
)

var (
	htmlTagRegex   = regexp.MustCompile(`<[^>]*>`)
	htmlBreakRegex = regexp.MustCompile(`(?i)<br\s*/?>|</(p|li|div|h[1-6]|ul|ol)>`)
)

// extractText converts an HTML or HTML-encoded string to plain text.
// Block-level closing tags and <br> become line breaks; other tags are
// stripped and whitespace inside each line is collapsed.
func extractText(content string) string {
	unescaped := html.UnescapeString(content)
	broken := htmlBreakRegex.ReplaceAllString(unescaped, "\n")
	plain := htmlTagRegex.ReplaceAllString(broken, "")

	var lines []string
	for _, line := range strings.Split(plain, "\n") {
		if l := strings.Join(strings.Fields(line), " "); l != "" {
			lines = append(lines, l)
		}
	}
	return strings.Join(lines, "\n")
}
