package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across notes, forum_threads, and resources
// using plainto_tsquery and ts_rank, with ts_headline for snippets. The
// tsvector expressions match the GIN expression indexes from the migrations.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	// Notes sub-query
	if q.FilterType == "" || q.FilterType == ResultNote {
		noteVec := "to_tsvector('english', n.title || ' ' || n.content)"
		noteWhere := noteVec + " @@ " + tsQuery
		if q.FilterFamilyID != "" {
			noteWhere += fmt.Sprintf(" AND n.family_id = $%d", argN)
			args = append(args, q.FilterFamilyID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'note'::text AS type, n.id, n.title,
				ts_headline('english', n.content, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				n.family_id, ''::text AS category,
				ts_rank(%s, %s) AS rank
			FROM notes n
			WHERE %s`, tsQuery, noteVec, tsQuery, noteWhere))
	}

	// Forum threads sub-query
	if q.FilterType == "" || q.FilterType == ResultThread {
		threadVec := "to_tsvector('english', t.title || ' ' || t.body)"
		threadWhere := threadVec + " @@ " + tsQuery
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'thread'::text AS type, t.id, t.title,
				ts_headline('english', t.body, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				''::text AS family_id, t.category,
				ts_rank(%s, %s) AS rank
			FROM forum_threads t
			WHERE %s`, tsQuery, threadVec, tsQuery, threadWhere))
	}

	// Resources sub-query
	if q.FilterType == "" || q.FilterType == ResultResource {
		resourceVec := "to_tsvector('english', r.title || ' ' || r.content)"
		resourceWhere := resourceVec + " @@ " + tsQuery
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'resource'::text AS type, r.id, r.title,
				ts_headline('english', r.content, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				''::text AS family_id, r.category,
				ts_rank(%s, %s) AS rank
			FROM resources r
			WHERE %s`, tsQuery, resourceVec, tsQuery, resourceWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	// Count query
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	// Data query
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, family_id, category
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.FamilyID, &r.Category); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]NoteRecord, []ThreadRecord, []ResourceRecord, error) {
	noteRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, content, family_id
		FROM notes
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load notes: %w", err)
	}
	defer noteRows.Close()

	notes := make([]NoteRecord, 0)
	for noteRows.Next() {
		var n NoteRecord
		if err := noteRows.Scan(&n.ID, &n.Title, &n.Body, &n.FamilyID); err != nil {
			return nil, nil, nil, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, n)
	}
	if err := noteRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate notes: %w", err)
	}

	threadRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, body, category
		FROM forum_threads
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load threads: %w", err)
	}
	defer threadRows.Close()

	threads := make([]ThreadRecord, 0)
	for threadRows.Next() {
		var t ThreadRecord
		if err := threadRows.Scan(&t.ID, &t.Title, &t.Body, &t.Category); err != nil {
			return nil, nil, nil, fmt.Errorf("scan thread: %w", err)
		}
		threads = append(threads, t)
	}
	if err := threadRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate threads: %w", err)
	}

	resourceRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, content, category
		FROM resources
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load resources: %w", err)
	}
	defer resourceRows.Close()

	resources := make([]ResourceRecord, 0)
	for resourceRows.Next() {
		var r ResourceRecord
		if err := resourceRows.Scan(&r.ID, &r.Title, &r.Body, &r.Category); err != nil {
			return nil, nil, nil, fmt.Errorf("scan resource: %w", err)
		}
		resources = append(resources, r)
	}
	if err := resourceRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate resources: %w", err)
	}

	return notes, threads, resources, nil
}
