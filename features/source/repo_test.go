package source_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbingest/features/source"
	"kbingest/internal/database"
	"kbingest/internal/ingestion"
)

func newRepo(t *testing.T) (*source.Repo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return source.NewRepo(database.NewPostgresClient(db)), mock
}

func TestRepo_UpsertSource(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "sources" ("knowledge_type", "metadata", "original_url", "source_display_name", "source_id", "source_url", "summary", "tags", "title", "total_word_count", "updated_at") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) ON CONFLICT ("source_id") DO UPDATE SET "knowledge_type" = EXCLUDED."knowledge_type"`)).
		WithArgs("documentation", `{"auto_generated":true}`, "https://docs.example.com", "Docs", "docs.example.com", "https://docs.example.com", "A summary", `["go"]`, "Docs", 200, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"source_id"}).AddRow("docs.example.com"))

	err := repo.UpsertSource(context.Background(), ingestion.SourceRecord{
		SourceID:          "docs.example.com",
		Title:             "Docs",
		Summary:           "A summary",
		TotalWordCount:    200,
		Metadata:          map[string]any{"auto_generated": true},
		Tags:              []string{"go"},
		KnowledgeType:     "documentation",
		OriginalURL:       "https://docs.example.com",
		SourceURL:         "https://docs.example.com",
		SourceDisplayName: "Docs",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepo_UpsertSourceFallback(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "sources" ("metadata", "source_id", "summary", "title", "total_word_count") VALUES ($1, $2, $3, $4, $5) ON CONFLICT ("source_id") DO UPDATE SET "metadata" = EXCLUDED."metadata", "summary" = EXCLUDED."summary", "title" = EXCLUDED."title", "total_word_count" = EXCLUDED."total_word_count" RETURNING *`)).
		WithArgs(`{"fallback_creation":true}`, "src", "s", "src", 5).
		WillReturnError(errors.New("connection reset"))

	err := repo.UpsertSourceFallback(context.Background(), ingestion.SourceRecord{
		SourceID:       "src",
		Title:          "src",
		Summary:        "s",
		TotalWordCount: 5,
		Metadata:       map[string]any{"fallback_creation": true},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fallback upsert source src")
}

func TestRepo_UpsertSourceFallback_KeepsSourceURL(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "sources" ("metadata", "source_display_name", "source_id", "source_url", "summary", "title", "total_word_count") VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT ("source_id") DO UPDATE SET "metadata" = EXCLUDED."metadata", "source_display_name" = EXCLUDED."source_display_name", "source_url" = EXCLUDED."source_url", "summary" = EXCLUDED."summary", "title" = EXCLUDED."title", "total_word_count" = EXCLUDED."total_word_count" RETURNING *`)).
		WithArgs(`{"fallback_creation":true}`, "Go Docs", "src", "https://go.dev", "s", "src", 5).
		WillReturnRows(sqlmock.NewRows([]string{"source_id"}).AddRow("src"))

	err := repo.UpsertSourceFallback(context.Background(), ingestion.SourceRecord{
		SourceID:          "src",
		Title:             "src",
		Summary:           "s",
		TotalWordCount:    5,
		Metadata:          map[string]any{"fallback_creation": true},
		SourceURL:         "https://go.dev",
		SourceDisplayName: "Go Docs",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepo_SourceExists(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "source_id" FROM "sources" WHERE "source_id" = $1 LIMIT 1`)).
		WithArgs("present").
		WillReturnRows(sqlmock.NewRows([]string{"source_id"}).AddRow("present"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "source_id" FROM "sources" WHERE "source_id" = $1 LIMIT 1`)).
		WithArgs("absent").
		WillReturnRows(sqlmock.NewRows([]string{"source_id"}))

	ok, err := repo.SourceExists(context.Background(), "present")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.SourceExists(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRepo_StorePages(t *testing.T) {
	repo, mock := newRepo(t)

	// The second page already existed and keeps its old id.
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "source_pages" ("char_count", "crawl_type", "id", "section_order", "section_title", "source_id", "url", "word_count") VALUES ($1, $2, $3, $4, $5, $6, $7, $8), ($9, $10, $11, $12, $13, $14, $15, $16) ON CONFLICT ("url") DO UPDATE SET "char_count" = EXCLUDED."char_count", "crawl_type" = EXCLUDED."crawl_type", "section_order" = EXCLUDED."section_order", "section_title" = EXCLUDED."section_title", "source_id" = EXCLUDED."source_id", "word_count" = EXCLUDED."word_count" RETURNING *`)).
		WithArgs(10, "page", "p-1", 0, "", "src", "https://a", 2, 20, "page", "p-2", 0, "", "src", "https://b", 4).
		WillReturnRows(sqlmock.NewRows([]string{"id", "url"}).
			AddRow("p-1", "https://a").
			AddRow("old-2", "https://b"))

	ids, err := repo.StorePages(context.Background(), []ingestion.PageRecord{
		{ID: "p-1", SourceID: "src", URL: "https://a", WordCount: 2, CharCount: 10, CrawlType: "page"},
		{ID: "p-2", SourceID: "src", URL: "https://b", WordCount: 4, CharCount: 20, CrawlType: "page"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"https://a": "p-1", "https://b": "old-2"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepo_ListWithFilters(t *testing.T) {
	repo, mock := newRepo(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "sources" WHERE "knowledge_type" = $1 AND "title" ILIKE $2 ORDER BY "created_at" DESC LIMIT 10`)).
		WithArgs("technical", "%go%").
		WillReturnRows(sqlmock.NewRows([]string{"source_id", "title", "total_word_count", "tags", "metadata", "created_at"}).
			AddRow("go.dev", "Go Docs", int64(1200), []byte(`["go","lang"]`), []byte(`{"auto_generated":true}`), now))

	sources, err := repo.List(context.Background(), source.ListFilter{KnowledgeType: "technical", Query: "go", Limit: 10})
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "go.dev", sources[0].ID)
	assert.Equal(t, 1200, sources[0].TotalWordCount)
	assert.Equal(t, []string{"go", "lang"}, sources[0].Tags)
	assert.Equal(t, true, sources[0].Metadata["auto_generated"])
	assert.Equal(t, now, sources[0].CreatedAt)
}

func TestRepo_GetNotFound(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "sources" WHERE "source_id" = $1 LIMIT 1`)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"source_id"}))

	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, source.ErrNotFound)
}

func TestRepo_Pages(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "source_pages" WHERE "source_id" = $1 ORDER BY "section_order" ASC, "url" ASC`)).
		WithArgs("src").
		WillReturnRows(sqlmock.NewRows([]string{"id", "source_id", "url", "section_title", "section_order", "word_count", "char_count", "crawl_type"}).
			AddRow("p-1", "src", "https://a#section-0", nil, int64(0), int64(3), int64(12), "llms_full").
			AddRow("p-2", "src", "https://a#section-1-intro", "Intro", int64(1), int64(5), int64(30), "llms_full"))

	pages, err := repo.Pages(context.Background(), "src")
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, "", pages[0].SectionTitle)
	assert.Equal(t, "Intro", pages[1].SectionTitle)
	assert.Equal(t, 1, pages[1].SectionOrder)
	assert.Equal(t, 30, pages[1].CharCount)
}

func TestRepo_Stats(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "source_page_stats"("p_source_id" => $1)`)).
		WithArgs("src").
		WillReturnRows(sqlmock.NewRows([]string{"page_count", "word_count", "char_count", "section_count"}).
			AddRow(int64(4), int64(900), int64(5400), int64(2)))

	st, err := repo.Stats(context.Background(), "src")
	require.NoError(t, err)
	assert.Equal(t, &source.Stats{SourceID: "src", PageCount: 4, WordCount: 900, CharCount: 5400, SectionCount: 2}, st)
}

func TestRepo_Totals(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "ingestion_totals"()`)).
		WillReturnRows(sqlmock.NewRows([]string{"source_count", "page_count"}).AddRow(int64(3), int64(17)))

	sources, pages, err := repo.Totals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, sources)
	assert.Equal(t, 17, pages)
}

func TestRepo_Delete(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta(`DELETE FROM "sources" WHERE "source_id" = $1 RETURNING *`)).
		WithArgs("src").
		WillReturnRows(sqlmock.NewRows([]string{"source_id"}).AddRow("src"))
	mock.ExpectQuery(regexp.QuoteMeta(`DELETE FROM "sources" WHERE "source_id" = $1 RETURNING *`)).
		WithArgs("gone").
		WillReturnRows(sqlmock.NewRows([]string{"source_id"}))

	require.NoError(t, repo.Delete(context.Background(), "src"))
	assert.ErrorIs(t, repo.Delete(context.Background(), "gone"), source.ErrNotFound)
}
