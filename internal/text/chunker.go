package text

import (
	"strings"
	"unicode/utf8"
)

const (
	// DefaultChunkSize is the window size used when callers pass a non-positive size.
	DefaultChunkSize = 5000

	// MinChunkSize is the size below which a chunk is fused with its successor.
	MinChunkSize = 200

	// breakThreshold is the fraction of the window a preferred break must reach.
	breakThreshold = 0.3

	codeFence = "```"
)

// SmartChunk splits text into ordered chunks of at most chunkSize bytes,
// preferring code fences, then paragraph breaks, then sentence breaks as cut
// points. A preferred break is only taken when it lies at least 30% into the
// current window; otherwise the window is cut hard. Chunks shorter than
// MinChunkSize are fused with the following chunk(s).
//
// Empty or whitespace-only input yields an empty slice.
func SmartChunk(text string, chunkSize int) []string {
	if strings.TrimSpace(text) == "" {
		return []string{}
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	var chunks []string
	start := 0
	textLen := len(text)

	for start < textLen {
		end := start + chunkSize

		if end >= textLen {
			if chunk := strings.TrimSpace(text[start:]); chunk != "" {
				chunks = append(chunks, chunk)
			}
			break
		}

		end = start + findBreak(text[start:end], chunkSize)
		end = alignToRune(text, start, end)

		if chunk := strings.TrimSpace(text[start:end]); chunk != "" {
			chunks = append(chunks, chunk)
		}
		start = end
	}

	return fuseSmallChunks(chunks)
}

// findBreak returns the offset inside window at which the current chunk ends.
func findBreak(window string, chunkSize int) int {
	minPos := breakThreshold * float64(chunkSize)

	if pos, ok := fenceBreak(window, minPos); ok {
		return pos
	}
	// A paragraph break too early in the window forces a hard cut; sentence
	// breaks are only considered when the window has no paragraph break.
	if pos := strings.LastIndex(window, "\n\n"); pos != -1 {
		if float64(pos) >= minPos {
			return pos
		}
		return len(window)
	}
	if pos := strings.LastIndex(window, ". "); pos != -1 && float64(pos) >= minPos {
		// Keep the period with the sentence it terminates.
		return pos + 1
	}
	return len(window)
}

// fenceBreak cuts before the last code fence in the window. When that fence
// closes a block opened inside the same window, the cut moves to the opening
// fence so the block stays whole, unless the opening fence sits too early in
// the window.
func fenceBreak(window string, minPos float64) (int, bool) {
	last := strings.LastIndex(window, codeFence)
	if last == -1 || float64(last) < minPos {
		return 0, false
	}
	if strings.Count(window[:last], codeFence)%2 == 0 {
		return last, true
	}
	if open := strings.LastIndex(window[:last], codeFence); float64(open) >= minPos {
		return open, true
	}
	return last, true
}

// alignToRune moves a hard cut back so it never lands inside a UTF-8 sequence.
func alignToRune(text string, start, end int) int {
	if end >= len(text) {
		return end
	}
	aligned := end
	for aligned > start && !utf8.RuneStart(text[aligned]) {
		aligned--
	}
	if aligned == start {
		return end
	}
	return aligned
}

func fuseSmallChunks(chunks []string) []string {
	if len(chunks) == 0 {
		return []string{}
	}

	combined := make([]string, 0, len(chunks))
	for i := 0; i < len(chunks); i++ {
		current := chunks[i]
		for len(current) < MinChunkSize && i+1 < len(chunks) {
			i++
			current = current + "\n\n" + chunks[i]
		}
		combined = append(combined, current)
	}
	return combined
}
