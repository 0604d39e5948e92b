package vector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/weaviate/weaviate/entities/models"
)

// ChunkClass is the Weaviate class holding stored chunks.
const ChunkClass = "DocumentChunk"

// SchemaClient defines the interface for Weaviate schema operations
type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
}

func chunkProperties() []*models.Property {
	return []*models.Property{
		{Name: "content", DataType: []string{"text"}},
		{Name: "url", DataType: []string{"string"}}, // exact match for deletes
		{Name: "sourceId", DataType: []string{"string"}},
		{Name: "pageId", DataType: []string{"string"}},
		{Name: "chunkIndex", DataType: []string{"int"}},
		{Name: "title", DataType: []string{"text"}},
		{Name: "description", DataType: []string{"text"}},
		{Name: "knowledgeType", DataType: []string{"string"}},
		{Name: "crawlType", DataType: []string{"string"}},
		{Name: "tags", DataType: []string{"string[]"}},
		{Name: "headers", DataType: []string{"text"}},
		{Name: "hasCode", DataType: []string{"boolean"}},
		{Name: "wordCount", DataType: []string{"int"}},
		{Name: "charCount", DataType: []string{"int"}},
	}
}

// EnsureSchema creates the chunk class, or adds properties missing from an
// existing one.
func EnsureSchema(ctx context.Context, client SchemaClient) error {
	exists, err := client.ClassExists(ctx, ChunkClass)
	if err != nil {
		return err
	}

	properties := chunkProperties()

	if !exists {
		return client.CreateClass(ctx, &models.Class{
			Class:       ChunkClass,
			Description: "A chunk of an ingested document",
			Vectorizer:  "none",
			Properties:  properties,
		})
	}

	class, err := client.GetClass(ctx, ChunkClass)
	if err != nil {
		return err
	}

	existing := make(map[string]bool)
	for _, p := range class.Properties {
		existing[p.Name] = true
	}

	for _, p := range properties {
		if existing[p.Name] {
			continue
		}
		if err := client.AddProperty(ctx, ChunkClass, p); err != nil {
			return fmt.Errorf("add property %s: %w", p.Name, err)
		}
	}

	return nil
}

// EnsureSchemaWithRetry retries EnsureSchema while Weaviate is starting up.
func EnsureSchemaWithRetry(ctx context.Context, client SchemaClient, attempts int, delay time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = EnsureSchema(ctx, client); err == nil {
			return nil
		}
		slog.WarnContext(ctx, "weaviate schema not ready, retrying", "attempt", i+1, "error", err)
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
