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

// Search executes a UNION ALL query across projects and users using
// plainto_tsquery and ts_rank, with ts_headline for snippets.
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

	if q.FilterType == "" || q.FilterType == ResultProject {
		where := "p.fts @@ " + tsQuery
		if q.FilterTag != "" {
			where += fmt.Sprintf(" AND $%d = ANY(p.tags)", argN)
			args = append(args, q.FilterTag)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'project'::text AS type, p.id, p.title,
				ts_headline('english', coalesce(p.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				p.author_id, p.language,
				ts_rank(p.fts, %s) AS rank
			FROM projects p
			WHERE %s`, tsQuery, tsQuery, where))
	}

	if q.FilterType == "" || q.FilterType == ResultUser {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'user'::text AS type, u.id, u.display_name AS title,
				ts_headline('english', coalesce(u.bio, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				''::text AS author_id, ''::text AS language,
				ts_rank(u.fts, %s) AS rank
			FROM users u
			WHERE u.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, author_id, language
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
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.AuthorID, &r.Language); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ProjectRecord, []UserRecord, error) {
	projectRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, description, array_to_string(tags, ','), language, author_id
		FROM projects
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load projects: %w", err)
	}
	defer projectRows.Close()

	projects := make([]ProjectRecord, 0)
	for projectRows.Next() {
		var rec ProjectRecord
		var tags string
		if err := projectRows.Scan(&rec.ID, &rec.Title, &rec.Description, &tags, &rec.Language, &rec.AuthorID); err != nil {
			return nil, nil, fmt.Errorf("scan project: %w", err)
		}
		if tags != "" {
			rec.Tags = strings.Split(tags, ",")
		}
		projects = append(projects, rec)
	}
	if err := projectRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate projects: %w", err)
	}

	userRows, err := p.db.QueryContext(ctx, `
		SELECT id, handle, display_name, coalesce(bio, '')
		FROM users
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load users: %w", err)
	}
	defer userRows.Close()

	users := make([]UserRecord, 0)
	for userRows.Next() {
		var rec UserRecord
		if err := userRows.Scan(&rec.ID, &rec.Handle, &rec.DisplayName, &rec.Bio); err != nil {
			return nil, nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, rec)
	}
	if err := userRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate users: %w", err)
	}

	return projects, users, nil
}
