package text

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var headerRe = regexp.MustCompile(`(?m)^(#+)\s+(.+)$`)

// Stats describes a chunk for storage-side filtering and display.
type Stats struct {
	Headers   string
	CharCount int
	WordCount int
	LineCount int
	HasCode   bool
	HasLinks  bool
}

// ExtractMetadata computes Stats for a chunk.
func ExtractMetadata(chunk string) Stats {
	var headers []string
	for _, m := range headerRe.FindAllStringSubmatch(chunk, -1) {
		headers = append(headers, m[1]+" "+m[2])
	}

	lines := 0
	if chunk != "" {
		lines = strings.Count(strings.TrimRight(chunk, "\n"), "\n") + 1
	}

	return Stats{
		Headers:   strings.Join(headers, "; "),
		CharCount: utf8.RuneCountInString(chunk),
		WordCount: CountWords(chunk),
		LineCount: lines,
		HasCode:   strings.Contains(chunk, "```"),
		HasLinks:  strings.Contains(chunk, "http") || strings.Contains(chunk, "www."),
	}
}

// CountWords counts whitespace-separated words.
func CountWords(s string) int {
	return len(strings.Fields(s))
}
