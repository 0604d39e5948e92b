package weaviate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"kbingest/internal/ingestion"
	"kbingest/internal/vector"
	"kbingest/internal/worker"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

type Store struct {
	client *weaviate.Client
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	return vector.EnsureSchema(ctx, vector.NewSchemaAdapter(s.client))
}

// StoreChunks writes chunks in one batch request and returns how many
// objects Weaviate accepted. Per-object failures are joined into the error.
func (s *Store) StoreChunks(ctx context.Context, chunks []worker.EmbeddedChunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	objects := make([]*models.Object, 0, len(chunks))
	for _, c := range chunks {
		objects = append(objects, &models.Object{
			Class:      vector.ChunkClass,
			Properties: chunkProperties(c.Chunk),
			Vector:     c.Vector,
		})
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("batch store: %w", err)
	}

	stored := 0
	var errs []error
	for _, obj := range resp {
		if obj.Result != nil && obj.Result.Errors != nil && len(obj.Result.Errors.Error) > 0 {
			msgs := make([]string, 0, len(obj.Result.Errors.Error))
			for _, e := range obj.Result.Errors.Error {
				msgs = append(msgs, e.Message)
			}
			errs = append(errs, errors.New(strings.Join(msgs, "; ")))
			continue
		}
		stored++
	}
	if len(errs) > 0 {
		return stored, fmt.Errorf("batch store: %d of %d objects failed: %w", len(errs), len(chunks), errors.Join(errs...))
	}
	return stored, nil
}

func chunkProperties(c ingestion.Chunk) map[string]interface{} {
	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}
	return map[string]interface{}{
		"content":       c.Content,
		"url":           c.URL,
		"sourceId":      c.SourceID,
		"pageId":        c.PageID,
		"chunkIndex":    c.ChunkIndex,
		"title":         c.Title,
		"description":   c.Description,
		"knowledgeType": c.KnowledgeType,
		"crawlType":     c.CrawlType,
		"tags":          tags,
		"headers":       c.Headers,
		"hasCode":       c.HasCode,
		"wordCount":     c.WordCount,
		"charCount":     c.CharCount,
	}
}

// DeleteChunksByURLs removes every stored chunk whose url is in urls.
func (s *Store) DeleteChunksByURLs(ctx context.Context, urls []string) error {
	if len(urls) == 0 {
		return nil
	}

	operands := make([]*filters.WhereBuilder, 0, len(urls))
	for _, u := range urls {
		operands = append(operands, filters.Where().
			WithPath([]string{"url"}).
			WithOperator(filters.Equal).
			WithValueString(u))
	}

	where := operands[0]
	if len(operands) > 1 {
		where = filters.Where().WithOperator(filters.Or).WithOperands(operands)
	}

	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(vector.ChunkClass).
		WithOutput("minimal").
		WithWhere(where).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("batch delete %d urls: %w", len(urls), err)
	}
	return nil
}

// ChunksByURL returns the chunks stored for url, ordered by chunk index.
func (s *Store) ChunksByURL(ctx context.Context, url string, limit int) ([]ingestion.Chunk, error) {
	fields := []graphql.Field{
		{Name: "content"},
		{Name: "url"},
		{Name: "sourceId"},
		{Name: "pageId"},
		{Name: "chunkIndex"},
		{Name: "title"},
	}

	where := filters.Where().
		WithOperator(filters.Equal).
		WithPath([]string{"url"}).
		WithValueString(url)

	res, err := s.client.GraphQL().Get().
		WithClassName(vector.ChunkClass).
		WithWhere(where).
		WithSort(graphql.Sort{Path: []string{"chunkIndex"}, Order: graphql.Asc}).
		WithLimit(limit).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	var chunks []ingestion.Chunk
	data, _ := res.Data["Get"].(map[string]interface{})
	raw, _ := data[vector.ChunkClass].([]interface{})
	for _, r := range raw {
		props, ok := r.(map[string]interface{})
		if !ok {
			continue
		}
		c := ingestion.Chunk{}
		c.Content, _ = props["content"].(string)
		c.URL, _ = props["url"].(string)
		c.SourceID, _ = props["sourceId"].(string)
		c.PageID, _ = props["pageId"].(string)
		c.Title, _ = props["title"].(string)
		if idx, ok := props["chunkIndex"].(float64); ok {
			c.ChunkIndex = int(idx)
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// CountChunks returns how many chunks are stored for sourceID.
func (s *Store) CountChunks(ctx context.Context, sourceID string) (int, error) {
	where := filters.Where().
		WithOperator(filters.Equal).
		WithPath([]string{"sourceId"}).
		WithValueString(sourceID)

	res, err := s.client.GraphQL().Aggregate().
		WithClassName(vector.ChunkClass).
		WithWhere(where).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	agg, _ := res.Data["Aggregate"].(map[string]interface{})
	groups, _ := agg[vector.ChunkClass].([]interface{})
	if len(groups) == 0 {
		return 0, nil
	}
	group, _ := groups[0].(map[string]interface{})
	meta, _ := group["meta"].(map[string]interface{})
	count, _ := meta["count"].(float64)
	return int(count), nil
}
