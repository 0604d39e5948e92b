package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
)

const (
	DefaultSummaryModel = "gemini-2.0-flash"
	maxSummaryInput     = 25000
)

var ErrEmptySummary = errors.New("empty summary received")

type DynamicSummarizer struct {
	clients *Clients
	model   string
}

func NewDynamicSummarizer(c *Clients, model string) *DynamicSummarizer {
	if model == "" {
		model = DefaultSummaryModel
	}
	return &DynamicSummarizer{clients: c, model: model}
}

// Summarize asks the model for a short description of a source from sample
// content. Content beyond 25000 characters is dropped.
func (s *DynamicSummarizer) Summarize(ctx context.Context, sourceID, content string) (string, error) {
	client, set, err := s.clients.current(ctx)
	if err != nil {
		return "", err
	}

	name := s.model
	if set.SummaryModel != "" {
		name = set.SummaryModel
	}

	model := client.GenerativeModel(name)
	resp, err := model.GenerateContent(ctx, genai.Text(summaryPrompt(sourceID, content)))
	if err != nil {
		return "", fmt.Errorf("generate summary: %w", err)
	}

	summary := strings.TrimSpace(responseText(resp))
	if summary == "" {
		return "", ErrEmptySummary
	}
	return summary, nil
}

func summaryPrompt(sourceID, content string) string {
	if r := []rune(content); len(r) > maxSummaryInput {
		content = string(r[:maxSummaryInput])
	}
	return fmt.Sprintf(`<source_content>
%s
</source_content>

The above content is from the documentation for %q. Write a 3-5 sentence summary that describes what this library, tool or framework is and what it is used for. Reply with the summary only.`, content, sourceID)
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		break
	}
	return b.String()
}
