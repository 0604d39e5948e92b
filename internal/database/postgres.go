package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"

	"github.com/lib/pq"
)

// conflictTargets maps tables to the column used for upserts when the
// caller does not name one.
var conflictTargets = map[string]string{
	"sources":      "source_id",
	"source_pages": "url",
	"settings":     "id",
}

type operation int

const (
	opNone operation = iota
	opSelect
	opInsert
	opUpdate
	opDelete
	opUpsert
)

func (o operation) String() string {
	switch o {
	case opSelect:
		return "select"
	case opInsert:
		return "insert"
	case opUpdate:
		return "update"
	case opDelete:
		return "delete"
	case opUpsert:
		return "upsert"
	}
	return "none"
}

type filter struct {
	kind   string
	column string
	value  any
}

type ordering struct {
	column string
	desc   bool
}

// PostgresClient implements Client over database/sql with lib/pq.
type PostgresClient struct {
	db *sql.DB
}

func NewPostgresClient(db *sql.DB) *PostgresClient {
	return &PostgresClient{db: db}
}

func (c *PostgresClient) Table(name string) TableQuery {
	return &postgresQuery{db: c.db, table: name}
}

func (c *PostgresClient) RPC(name string, params map[string]any) RPCQuery {
	return &postgresRPC{db: c.db, fn: name, params: params}
}

type postgresQuery struct {
	db         *sql.DB
	table      string
	op         operation
	columns    []string
	rows       []Row
	values     Row
	onConflict string
	filters    []filter
	orders     []ordering
	limit      int
}

func (q *postgresQuery) Select(columns ...string) TableQuery {
	q.op = opSelect
	q.columns = columns
	return q
}

func (q *postgresQuery) Insert(rows ...Row) TableQuery {
	q.op = opInsert
	q.rows = rows
	return q
}

func (q *postgresQuery) Update(values Row) TableQuery {
	q.op = opUpdate
	q.values = values
	return q
}

func (q *postgresQuery) Delete() TableQuery {
	q.op = opDelete
	return q
}

func (q *postgresQuery) Upsert(rows []Row, onConflict string) TableQuery {
	q.op = opUpsert
	q.rows = rows
	q.onConflict = onConflict
	return q
}

func (q *postgresQuery) Eq(column string, value any) TableQuery {
	q.filters = append(q.filters, filter{"=", column, value})
	return q
}

func (q *postgresQuery) Neq(column string, value any) TableQuery {
	q.filters = append(q.filters, filter{"!=", column, value})
	return q
}

func (q *postgresQuery) In(column string, values []any) TableQuery {
	q.filters = append(q.filters, filter{"in", column, values})
	return q
}

func (q *postgresQuery) Gte(column string, value any) TableQuery {
	q.filters = append(q.filters, filter{">=", column, value})
	return q
}

func (q *postgresQuery) Lte(column string, value any) TableQuery {
	q.filters = append(q.filters, filter{"<=", column, value})
	return q
}

func (q *postgresQuery) ILike(column string, pattern string) TableQuery {
	q.filters = append(q.filters, filter{"ILIKE", column, pattern})
	return q
}

func (q *postgresQuery) Order(column string, desc bool) TableQuery {
	q.orders = append(q.orders, ordering{column, desc})
	return q
}

func (q *postgresQuery) Limit(n int) TableQuery {
	q.limit = n
	return q
}

func (q *postgresQuery) Execute(ctx context.Context) (*Response, error) {
	query, args, err := q.build()
	if err != nil {
		return nil, err
	}
	if query == "" {
		return &Response{}, nil
	}

	slog.DebugContext(ctx, "postgres execute", "table", q.table, "op", q.op.String(), "args", len(args))
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", q.op, q.table, err)
	}
	data, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", q.op, q.table, err)
	}
	return &Response{Data: data}, nil
}

// build renders the statement. An empty query with a nil error means there
// is nothing to execute (e.g. an insert of zero rows).
func (q *postgresQuery) build() (string, []any, error) {
	table := pq.QuoteIdentifier(q.table)
	args := &argList{}

	switch q.op {
	case opSelect:
		cols := "*"
		if len(q.columns) > 0 && !(len(q.columns) == 1 && q.columns[0] == "*") {
			cols = quoteAll(q.columns)
		}
		var b strings.Builder
		fmt.Fprintf(&b, "SELECT %s FROM %s", cols, table)
		b.WriteString(q.where(args))
		if len(q.orders) > 0 {
			parts := make([]string, len(q.orders))
			for i, o := range q.orders {
				dir := "ASC"
				if o.desc {
					dir = "DESC"
				}
				parts[i] = pq.QuoteIdentifier(o.column) + " " + dir
			}
			b.WriteString(" ORDER BY " + strings.Join(parts, ", "))
		}
		if q.limit > 0 {
			fmt.Fprintf(&b, " LIMIT %d", q.limit)
		}
		return b.String(), args.values, nil

	case opInsert, opUpsert:
		if len(q.rows) == 0 {
			return "", nil, nil
		}
		cols := sortedColumns(q.rows)
		var b strings.Builder
		fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", table, quoteAll(cols))
		for i, row := range q.rows {
			if i > 0 {
				b.WriteString(", ")
			}
			placeholders := make([]string, len(cols))
			for j, col := range cols {
				placeholders[j] = args.add(row[col])
			}
			b.WriteString("(" + strings.Join(placeholders, ", ") + ")")
		}
		if q.op == opUpsert {
			b.WriteString(q.conflictClause(cols))
		}
		b.WriteString(" RETURNING *")
		return b.String(), args.values, nil

	case opUpdate:
		if len(q.values) == 0 {
			return "", nil, fmt.Errorf("update %s: no values", q.table)
		}
		cols := make([]string, 0, len(q.values))
		for col := range q.values {
			cols = append(cols, col)
		}
		sort.Strings(cols)
		sets := make([]string, len(cols))
		for i, col := range cols {
			sets[i] = pq.QuoteIdentifier(col) + " = " + args.add(q.values[col])
		}
		query := fmt.Sprintf("UPDATE %s SET %s%s RETURNING *", table, strings.Join(sets, ", "), q.where(args))
		return query, args.values, nil

	case opDelete:
		return fmt.Sprintf("DELETE FROM %s%s RETURNING *", table, q.where(args)), args.values, nil
	}

	return "", nil, fmt.Errorf("%w for table %s", ErrNoOperation, q.table)
}

func (q *postgresQuery) conflictClause(cols []string) string {
	target := q.onConflict
	if target == "" {
		target = conflictTargets[q.table]
	}
	if target == "" {
		return " ON CONFLICT DO NOTHING"
	}

	var updates []string
	for _, col := range cols {
		if col == target || col == "id" || col == "created_at" {
			continue
		}
		c := pq.QuoteIdentifier(col)
		updates = append(updates, c+" = EXCLUDED."+c)
	}
	if len(updates) == 0 {
		return " ON CONFLICT DO NOTHING"
	}
	return fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", pq.QuoteIdentifier(target), strings.Join(updates, ", "))
}

func (q *postgresQuery) where(args *argList) string {
	if len(q.filters) == 0 {
		return ""
	}
	clauses := make([]string, 0, len(q.filters))
	for _, f := range q.filters {
		col := pq.QuoteIdentifier(f.column)
		if f.kind == "in" {
			values, _ := f.value.([]any)
			if len(values) == 0 {
				clauses = append(clauses, "FALSE")
				continue
			}
			placeholders := make([]string, len(values))
			for i, v := range values {
				placeholders[i] = args.add(v)
			}
			clauses = append(clauses, fmt.Sprintf("%s IN (%s)", col, strings.Join(placeholders, ", ")))
			continue
		}
		clauses = append(clauses, fmt.Sprintf("%s %s %s", col, f.kind, args.add(f.value)))
	}
	return " WHERE " + strings.Join(clauses, " AND ")
}

type postgresRPC struct {
	db     *sql.DB
	fn     string
	params map[string]any
}

func (r *postgresRPC) Execute(ctx context.Context) (*Response, error) {
	query, args := r.build()
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("rpc %s: %w", r.fn, err)
	}
	data, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("rpc %s: %w", r.fn, err)
	}
	return &Response{Data: data}, nil
}

func (r *postgresRPC) build() (string, []any) {
	names := make([]string, 0, len(r.params))
	for k := range r.params {
		names = append(names, k)
	}
	sort.Strings(names)

	args := &argList{}
	named := make([]string, len(names))
	for i, k := range names {
		named[i] = pq.QuoteIdentifier(k) + " => " + args.add(r.params[k])
	}
	return fmt.Sprintf("SELECT * FROM %s(%s)", pq.QuoteIdentifier(r.fn), strings.Join(named, ", ")), args.values
}

type argList struct {
	values []any
}

// add appends v and returns its positional placeholder. Maps and slices
// are sent as JSON text so they land in jsonb columns.
func (a *argList) add(v any) string {
	a.values = append(a.values, adaptValue(v))
	return fmt.Sprintf("$%d", len(a.values))
}

func adaptValue(v any) any {
	if v == nil {
		return nil
	}
	if _, ok := v.([]byte); ok {
		return v
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		b, err := json.Marshal(v)
		if err != nil {
			return v
		}
		return string(b)
	}
	return v
}

func sortedColumns(rows []Row) []string {
	seen := map[string]struct{}{}
	var cols []string
	for _, row := range rows {
		for col := range row {
			if _, ok := seen[col]; !ok {
				seen[col] = struct{}{}
				cols = append(cols, col)
			}
		}
	}
	sort.Strings(cols)
	return cols
}

func quoteAll(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pq.QuoteIdentifier(c)
	}
	return strings.Join(quoted, ", ")
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
