package gemini

import (
	"context"
	"errors"

	"github.com/google/generative-ai-go/genai"
)

const DefaultEmbeddingModel = "gemini-embedding-001"

type DynamicEmbedder struct {
	clients *Clients
	model   string
}

func NewDynamicEmbedder(c *Clients, model string) *DynamicEmbedder {
	if model == "" {
		model = DefaultEmbeddingModel
	}
	return &DynamicEmbedder{clients: c, model: model}
}

func (e *DynamicEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	client, s, err := e.clients.current(ctx)
	if err != nil {
		return nil, err
	}

	name := e.model
	if s.EmbeddingModel != "" {
		name = s.EmbeddingModel
	}

	res, err := client.EmbeddingModel(name).EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, err
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, errors.New("empty embedding received")
	}
	return res.Embedding.Values, nil
}
