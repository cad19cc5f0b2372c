package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
// Membership scoping comes from a join rather than an indexed members list.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search matches document titles with plainto_tsquery, restricted to the
// caller's memberships, ranked by ts_rank with ts_headline snippets.
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

	const where = `
		m.user_id = $2
		AND to_tsvector('simple', d.title) @@ plainto_tsquery('simple', $1)`

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, `
		SELECT count(*)
		FROM documents d
		JOIN memberships m ON m.room_id = d.id
		WHERE`+where, q.Text, q.UserID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT d.id, d.title, d.owner,
			ts_headline('simple', d.title, plainto_tsquery('simple', $1), 'MaxFragments=1,MaxWords=20') AS snippet
		FROM documents d
		JOIN memberships m ON m.room_id = d.id
		WHERE%s
		ORDER BY ts_rank(to_tsvector('simple', d.title), plainto_tsquery('simple', $1)) DESC
		LIMIT %d OFFSET %d`, where, limit, offset), q.Text, q.UserID)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Owner, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns every document with its member list, for full
// reindexing into Meilisearch.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]DocumentRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT d.id, d.title, d.owner, COALESCE(array_agg(m.user_id) FILTER (WHERE m.user_id IS NOT NULL), '{}')
		FROM documents d
		LEFT JOIN memberships m ON m.room_id = d.id
		GROUP BY d.id, d.title, d.owner
	`)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	defer rows.Close()

	documents := make([]DocumentRecord, 0)
	for rows.Next() {
		var d DocumentRecord
		var members []byte
		if err := rows.Scan(&d.ID, &d.Title, &d.Owner, &members); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		d.Members = parsePgTextArray(string(members))
		documents = append(documents, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return documents, nil
}

// parsePgTextArray decodes a Postgres text[] literal such as
// {a@x.com,"b c@y.com"} into its elements. Good enough for user ids, which
// never contain braces or backslashes.
func parsePgTextArray(s string) []string {
	s = strings.TrimPrefix(s, "{")
	s = strings.TrimSuffix(s, "}")
	if s == "" {
		return []string{}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		out = append(out, strings.Trim(part, `"`))
	}
	return out
}
