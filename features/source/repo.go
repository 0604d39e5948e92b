package source

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"kbingest/internal/database"
	"kbingest/internal/ingestion"
)

const (
	tableSources = "sources"
	tablePages   = "source_pages"

	rpcSourceStats = "source_page_stats"
	rpcTotals      = "ingestion_totals"
)

// Repo persists sources and pages through a database.Client. It implements
// ingestion.SourceStore and ingestion.PageStore.
type Repo struct {
	db database.Client
}

func NewRepo(db database.Client) *Repo {
	return &Repo{db: db}
}

var (
	_ ingestion.SourceStore = (*Repo)(nil)
	_ ingestion.PageStore   = (*Repo)(nil)
)

func (r *Repo) UpsertSource(ctx context.Context, rec ingestion.SourceRecord) error {
	row := database.Row{
		"source_id":           rec.SourceID,
		"title":               rec.Title,
		"summary":             rec.Summary,
		"total_word_count":    rec.TotalWordCount,
		"metadata":            rec.Metadata,
		"tags":                tagsOrEmpty(rec.Tags),
		"knowledge_type":      rec.KnowledgeType,
		"original_url":        rec.OriginalURL,
		"source_url":          rec.SourceURL,
		"source_display_name": rec.SourceDisplayName,
		"updated_at":          time.Now().UTC(),
	}
	if _, err := r.db.Table(tableSources).Upsert([]database.Row{row}, "source_id").Execute(ctx); err != nil {
		return fmt.Errorf("upsert source %s: %w", rec.SourceID, err)
	}
	return nil
}

// UpsertSourceFallback writes only the columns every schema revision has.
func (r *Repo) UpsertSourceFallback(ctx context.Context, rec ingestion.SourceRecord) error {
	row := database.Row{
		"source_id":        rec.SourceID,
		"title":            rec.Title,
		"summary":          rec.Summary,
		"total_word_count": rec.TotalWordCount,
		"metadata":         rec.Metadata,
	}
	if rec.SourceURL != "" {
		row["source_url"] = rec.SourceURL
	}
	if rec.SourceDisplayName != "" {
		row["source_display_name"] = rec.SourceDisplayName
	}
	if _, err := r.db.Table(tableSources).Upsert([]database.Row{row}, "source_id").Execute(ctx); err != nil {
		return fmt.Errorf("fallback upsert source %s: %w", rec.SourceID, err)
	}
	return nil
}

func (r *Repo) SourceExists(ctx context.Context, sourceID string) (bool, error) {
	resp, err := r.db.Table(tableSources).Select("source_id").Eq("source_id", sourceID).Limit(1).Execute(ctx)
	if err != nil {
		return false, err
	}
	return len(resp.Data) > 0, nil
}

// StorePages upserts pages on url. A page that already exists keeps its ID,
// so the returned map always holds the stored IDs.
func (r *Repo) StorePages(ctx context.Context, pages []ingestion.PageRecord) (map[string]string, error) {
	rows := make([]database.Row, len(pages))
	for i, p := range pages {
		rows[i] = database.Row{
			"id":            p.ID,
			"source_id":     p.SourceID,
			"url":           p.URL,
			"section_title": p.SectionTitle,
			"section_order": p.SectionOrder,
			"word_count":    p.WordCount,
			"char_count":    p.CharCount,
			"crawl_type":    p.CrawlType,
		}
	}

	resp, err := r.db.Table(tablePages).Upsert(rows, "url").Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("store pages: %w", err)
	}

	ids := make(map[string]string, len(resp.Data))
	for _, row := range resp.Data {
		ids[row.String("url")] = row.String("id")
	}
	return ids, nil
}

func (r *Repo) List(ctx context.Context, f ListFilter) ([]Source, error) {
	q := r.db.Table(tableSources).Select()
	if f.KnowledgeType != "" {
		q = q.Eq("knowledge_type", f.KnowledgeType)
	}
	if f.Query != "" {
		q = q.ILike("title", "%"+f.Query+"%")
	}
	q = q.Order("created_at", true)
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	resp, err := q.Execute(ctx)
	if err != nil {
		return nil, err
	}
	sources := make([]Source, 0, len(resp.Data))
	for _, row := range resp.Data {
		sources = append(sources, sourceFromRow(row))
	}
	return sources, nil
}

func (r *Repo) Get(ctx context.Context, id string) (*Source, error) {
	resp, err := r.db.Table(tableSources).Select().Eq("source_id", id).Limit(1).Execute(ctx)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, ErrNotFound
	}
	src := sourceFromRow(resp.Data[0])
	return &src, nil
}

func (r *Repo) Pages(ctx context.Context, sourceID string) ([]Page, error) {
	resp, err := r.db.Table(tablePages).Select().
		Eq("source_id", sourceID).
		Order("section_order", false).
		Order("url", false).
		Execute(ctx)
	if err != nil {
		return nil, err
	}
	pages := make([]Page, 0, len(resp.Data))
	for _, row := range resp.Data {
		pages = append(pages, Page{
			ID:           row.String("id"),
			SourceID:     row.String("source_id"),
			URL:          row.String("url"),
			SectionTitle: row.String("section_title"),
			SectionOrder: intValue(row["section_order"]),
			WordCount:    intValue(row["word_count"]),
			CharCount:    intValue(row["char_count"]),
			CrawlType:    row.String("crawl_type"),
		})
	}
	return pages, nil
}

func (r *Repo) Stats(ctx context.Context, sourceID string) (*Stats, error) {
	resp, err := r.db.RPC(rpcSourceStats, map[string]any{"p_source_id": sourceID}).Execute(ctx)
	if err != nil {
		return nil, err
	}
	st := &Stats{SourceID: sourceID}
	if len(resp.Data) == 0 {
		return st, nil
	}
	row := resp.Data[0]
	st.PageCount = intValue(row["page_count"])
	st.WordCount = intValue(row["word_count"])
	st.CharCount = intValue(row["char_count"])
	st.SectionCount = intValue(row["section_count"])
	return st, nil
}

// Totals returns the number of stored sources and pages.
func (r *Repo) Totals(ctx context.Context) (sources, pages int, err error) {
	resp, err := r.db.RPC(rpcTotals, nil).Execute(ctx)
	if err != nil {
		return 0, 0, err
	}
	if len(resp.Data) == 0 {
		return 0, 0, nil
	}
	row := resp.Data[0]
	return intValue(row["source_count"]), intValue(row["page_count"]), nil
}

func (r *Repo) Delete(ctx context.Context, id string) error {
	resp, err := r.db.Table(tableSources).Delete().Eq("source_id", id).Execute(ctx)
	if err != nil {
		return err
	}
	if len(resp.Data) == 0 {
		return ErrNotFound
	}
	return nil
}

func sourceFromRow(row database.Row) Source {
	s := Source{
		ID:                row.String("source_id"),
		Title:             row.String("title"),
		Summary:           row.String("summary"),
		TotalWordCount:    intValue(row["total_word_count"]),
		KnowledgeType:     row.String("knowledge_type"),
		OriginalURL:       row.String("original_url"),
		SourceURL:         row.String("source_url"),
		SourceDisplayName: row.String("source_display_name"),
		Tags:              []string{},
		Metadata:          map[string]any{},
	}
	if raw := row.String("tags"); raw != "" {
		_ = json.Unmarshal([]byte(raw), &s.Tags)
	}
	if raw := row.String("metadata"); raw != "" {
		_ = json.Unmarshal([]byte(raw), &s.Metadata)
	}
	if t, ok := row["created_at"].(time.Time); ok {
		s.CreatedAt = t
	}
	if t, ok := row["updated_at"].(time.Time); ok {
		s.UpdatedAt = t
	}
	return s
}

func intValue(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case int32:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
