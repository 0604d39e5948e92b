package text

import (
	"fmt"
	"strings"
	"unicode"
)

// FullDocumentSuffix marks an aggregated documentation file that is stored
// one page per section instead of one page per document.
const FullDocumentSuffix = "llms-full.txt"

// Section is one top-level part of a multi-section document.
type Section struct {
	URL       string
	Title     string
	Order     int
	Content   string
	WordCount int
}

// ParseSections splits an aggregated markdown document on top-level "# "
// headings. Headings inside fenced code blocks are ignored. Text before the
// first heading becomes its own untitled section. Every section receives a
// synthetic URL derived from baseURL so it can be addressed as a page.
func ParseSections(content, baseURL string) []Section {
	var sections []Section
	var title string
	var body strings.Builder
	inFence := false

	flush := func() {
		c := strings.TrimSpace(body.String())
		body.Reset()
		if c == "" {
			return
		}
		order := len(sections)
		sections = append(sections, Section{
			URL:       sectionURL(baseURL, order, title),
			Title:     title,
			Order:     order,
			Content:   c,
			WordCount: len(strings.Fields(c)),
		})
	}

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
		}

		if !inFence && strings.HasPrefix(line, "# ") {
			flush()
			title = strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}

		body.WriteString(line)
		body.WriteString("\n")
	}
	flush()

	return sections
}

func sectionURL(baseURL string, order int, title string) string {
	if slug := slugify(title); slug != "" {
		return fmt.Sprintf("%s#section-%d-%s", baseURL, order, slug)
	}
	return fmt.Sprintf("%s#section-%d", baseURL, order)
}

func slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
