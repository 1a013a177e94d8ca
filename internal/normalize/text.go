package normalize

import (
	"strings"
	"unicode"
)

// CleanText replaces non-breaking spaces and collapses all whitespace runs
// into single spaces.
func CleanText(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.Join(strings.Fields(s), " ")
}

// CleanMultiline collapses whitespace inside each line, drops leading and
// trailing blank lines and squeezes runs of blank lines into one.
func CleanMultiline(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = CleanText(line)
		if line == "" {
			if len(out) > 0 {
				blank = true
			}
			continue
		}
		if blank {
			out = append(out, "")
			blank = false
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// TitleLine returns the first line of s that reads like a title. Lines made
// only of hashtags, emoji or punctuation are skipped, and such tokens are
// trimmed from both ends of the chosen line.
func TitleLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		words := strings.Fields(strings.ReplaceAll(line, "\u00a0", " "))
		start, end := 0, len(words)
		for start < end && decorative(words[start]) {
			start++
		}
		for end > start && decorative(words[end-1]) {
			end--
		}
		if start < end {
			return strings.Join(words[start:end], " ")
		}
	}
	return ""
}

// decorative reports whether a word carries no title text: a hashtag or a
// run of symbols without letters or digits.
func decorative(word string) bool {
	if strings.HasPrefix(word, "#") {
		return true
	}
	return strings.IndexFunc(word, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	}) < 0
}
