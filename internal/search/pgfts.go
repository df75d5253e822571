package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs a UNION ALL over proposals and workflows using
// plainto_tsquery with ts_rank ordering and ts_headline snippets.
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
	if q.FilterType == "" || q.FilterType == ResultProposal {
		where := fmt.Sprintf("to_tsvector('english', p.title || ' ' || p.content) @@ %s AND NOT p.page_deleted AND NOT p.is_template", tsQuery)
		if q.FilterSpaceID != "" {
			where += fmt.Sprintf(" AND p.space_id = $%d", argN)
			args = append(args, q.FilterSpaceID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'proposal'::text AS type, p.id, p.title,
				ts_headline('english', p.content, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				p.space_id, p.status,
				ts_rank(to_tsvector('english', p.title || ' ' || p.content), %s) AS rank
			FROM proposals p
			WHERE %s`, tsQuery, tsQuery, where))
	}
	if q.FilterType == "" || q.FilterType == ResultWorkflow {
		where := fmt.Sprintf("to_tsvector('english', w.title) @@ %s AND NOT w.archived", tsQuery)
		if q.FilterSpaceID != "" {
			where += fmt.Sprintf(" AND w.space_id = $%d", argN)
			args = append(args, q.FilterSpaceID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'workflow'::text AS type, w.id, w.title,
				''::text AS snippet,
				w.space_id, ''::text AS status,
				ts_rank(to_tsvector('english', w.title), %s) AS rank
			FROM workflows w
			WHERE %s`, tsQuery, where))
	}
	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	query := fmt.Sprintf(`
		SELECT type, id, title, snippet, space_id, status
		FROM (%s) hits
		ORDER BY rank DESC
		LIMIT %d OFFSET %d
	`, strings.Join(subQueries, " UNION ALL "), limit, offset)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts search: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0)
	for rows.Next() {
		var r Result
		var rtyp string
		if err := rows.Scan(&rtyp, &r.ID, &r.Title, &r.Snippet, &r.SpaceID, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("scan pgfts hit: %w", err)
		}
		r.Type = ResultType(rtyp)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate pgfts hits: %w", err)
	}
	return results, len(results), nil
}
