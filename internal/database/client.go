// Package database defines the table/RPC persistence interface the
// ingestion core writes source and page records through, plus its Postgres
// implementation.
package database

import (
	"context"
	"errors"
)

var ErrNoOperation = errors.New("no operation set on query")

// Row is one record keyed by column name.
type Row map[string]any

// Response carries the rows returned by a statement (RETURNING * for writes).
type Response struct {
	Data []Row
}

// Client is a persistence backend. Each backend ships one implementation.
type Client interface {
	Table(name string) TableQuery
	RPC(name string, params map[string]any) RPCQuery
}

// TableQuery is a fluent single-statement builder. Exactly one of Select,
// Insert, Update, Delete or Upsert must be called before Execute.
type TableQuery interface {
	Select(columns ...string) TableQuery
	Insert(rows ...Row) TableQuery
	Update(values Row) TableQuery
	Delete() TableQuery
	// Upsert inserts rows, updating on conflict. An empty onConflict lets
	// the backend infer the conflict target from the table.
	Upsert(rows []Row, onConflict string) TableQuery

	Eq(column string, value any) TableQuery
	Neq(column string, value any) TableQuery
	In(column string, values []any) TableQuery
	Gte(column string, value any) TableQuery
	Lte(column string, value any) TableQuery
	ILike(column string, pattern string) TableQuery

	Order(column string, desc bool) TableQuery
	Limit(n int) TableQuery

	Execute(ctx context.Context) (*Response, error)
}

// RPCQuery invokes a stored function.
type RPCQuery interface {
	Execute(ctx context.Context) (*Response, error)
}

// String returns the column as a string, or "" when absent or not a string.
func (r Row) String(column string) string {
	if v, ok := r[column].(string); ok {
		return v
	}
	return ""
}
