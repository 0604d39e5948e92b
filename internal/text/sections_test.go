package text

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSections(t *testing.T) {
	base := "https://docs.example.com/llms-full.txt"

	t.Run("Splits On Top Level Headings", func(t *testing.T) {
		content := "Intro text before anything.\n" +
			"# Getting Started\nInstall it.\n```sh\n# not a heading\n```\n" +
			"## Sub heading stays\nMore.\n" +
			"# API Reference!\nCall it."

		sections := ParseSections(content, base)
		require.Len(t, sections, 3)

		assert.Equal(t, "", sections[0].Title)
		assert.Equal(t, base+"#section-0", sections[0].URL)
		assert.Equal(t, "Intro text before anything.", sections[0].Content)

		assert.Equal(t, "Getting Started", sections[1].Title)
		assert.Equal(t, base+"#section-1-getting-started", sections[1].URL)
		assert.Contains(t, sections[1].Content, "# not a heading")
		assert.Contains(t, sections[1].Content, "## Sub heading stays")
		assert.Equal(t, 1, sections[1].Order)

		assert.Equal(t, "API Reference!", sections[2].Title)
		assert.Equal(t, base+"#section-2-api-reference", sections[2].URL)
		assert.Equal(t, "# API Reference!\nCall it.", sections[2].Content)
		assert.Equal(t, 5, sections[2].WordCount)
	})

	t.Run("No Headings", func(t *testing.T) {
		sections := ParseSections("just one body of text", base)
		require.Len(t, sections, 1)
		assert.Equal(t, base+"#section-0", sections[0].URL)
	})

	t.Run("Empty", func(t *testing.T) {
		assert.Empty(t, ParseSections("  \n", base))
	})

	t.Run("Empty Sections Skipped And Orders Contiguous", func(t *testing.T) {
		sections := ParseSections("\n\n# One\nbody\n# Two\nbody", base)
		require.Len(t, sections, 2)
		assert.Equal(t, 0, sections[0].Order)
		assert.Equal(t, 1, sections[1].Order)
	})
}

func TestExtractMetadata(t *testing.T) {
	stats := ExtractMetadata("# Title\nSee https://example.com\n## Usage\n```go\nx := 1\n```")
	assert.Equal(t, "# Title; ## Usage", stats.Headers)
	assert.True(t, stats.HasCode)
	assert.True(t, stats.HasLinks)
	assert.Equal(t, 6, stats.LineCount)
	assert.Equal(t, 11, stats.WordCount)

	empty := ExtractMetadata("")
	assert.Equal(t, 0, empty.LineCount)
	assert.False(t, empty.HasCode)
}
