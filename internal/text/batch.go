package text

import (
	"regexp"
	"strings"
)

const (
	// MinCharsPerBatch is the smallest character window the splitter accepts.
	MinCharsPerBatch = 10_000

	// DefaultCharsPerBatch and DefaultPagesPerBatch match the ingestion defaults.
	DefaultCharsPerBatch = 200_000
	DefaultPagesPerBatch = 75

	paragraphPullbackThreshold = 0.6
)

var pageMarkerRe = regexp.MustCompile(`(?m)^--- Page \d+ ---\n?`)

// SplitForIncrementalChunking pre-divides a large document into ordered
// batches so that chunking never has to hold more than one batch at a time.
//
// Text carrying extracted-PDF page markers ("--- Page N ---" at line start)
// is grouped by whole pages, at most pagesPerBatch pages and maxCharsPerBatch
// characters per batch. Other text is cut into character windows, pulled back
// to the last paragraph break when that break lies past 60% of the window.
func SplitForIncrementalChunking(text string, maxCharsPerBatch, pagesPerBatch int) []string {
	if strings.TrimSpace(text) == "" {
		return []string{}
	}

	if maxCharsPerBatch < MinCharsPerBatch {
		maxCharsPerBatch = MinCharsPerBatch
	}
	if pagesPerBatch < 1 {
		pagesPerBatch = 1
	}

	if markers := pageMarkerRe.FindAllStringIndex(text, -1); len(markers) > 0 {
		return batchPages(text, markers, maxCharsPerBatch, pagesPerBatch)
	}
	return batchWindows(text, maxCharsPerBatch)
}

func batchPages(text string, markers [][]int, maxChars, maxPages int) []string {
	pages := make([]string, 0, len(markers)+1)
	// Text ahead of the first marker travels as its own leading page.
	if preamble := strings.TrimSpace(text[:markers[0][0]]); preamble != "" {
		pages = append(pages, preamble)
	}
	for i, m := range markers {
		end := len(text)
		if i+1 < len(markers) {
			end = markers[i+1][0]
		}
		if page := strings.TrimSpace(text[m[0]:end]); page != "" {
			pages = append(pages, page)
		}
	}

	var batches []string
	var current []string
	currentChars := 0

	for _, page := range pages {
		reachedPages := len(current) >= maxPages
		reachedChars := len(current) > 0 && currentChars+len(page) > maxChars

		if reachedPages || reachedChars {
			batches = append(batches, strings.Join(current, "\n\n"))
			current = nil
			currentChars = 0
		}

		current = append(current, page)
		currentChars += len(page)
	}
	if len(current) > 0 {
		batches = append(batches, strings.Join(current, "\n\n"))
	}

	return batches
}

func batchWindows(text string, maxChars int) []string {
	var batches []string
	start := 0
	textLen := len(text)

	for start < textLen {
		end := start + maxChars
		if end > textLen {
			end = textLen
		}

		if end < textLen {
			window := text[start:end]
			if pos := strings.LastIndex(window, "\n\n"); pos != -1 && float64(pos) > paragraphPullbackThreshold*float64(maxChars) {
				end = start + pos
			} else {
				end = alignToRune(text, start, end)
			}
		}

		if section := strings.TrimSpace(text[start:end]); section != "" {
			batches = append(batches, section)
		}

		if end >= textLen {
			break
		}
		start = end
	}

	return batches
}
