package feed

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"devshare/api/internal/store"
)

// Querier is the slice of the project store the engine depends on.
type Querier interface {
	CountProjects(ctx context.Context, filter store.ProjectFilter) (int, error)
	ProjectCursorAt(ctx context.Context, filter store.ProjectFilter, skip int) (*store.ProjectCursor, error)
	ListProjectsPage(ctx context.Context, filter store.ProjectFilter, after *store.ProjectCursor, limit int) ([]store.Project, error)
	GetAuthorCards(ctx context.Context, ids []string) (map[string]store.AuthorCard, error)
	GetProject(ctx context.Context, projectID string) (store.Project, error)
}

// Engine translates filter state and a page number into store queries and
// commits the results into the entity state. The backend has no offset
// support, so page N is reached by discovering the cursor after the first
// (N-1)*pageSize rows and reading the next pageSize rows after it.
type Engine struct {
	querier Querier
	state   *State
}

func NewEngine(querier Querier, pageSize int) *Engine {
	return &Engine{
		querier: querier,
		state:   NewState(pageSize),
	}
}

// State exposes the entity store for filter/page intents and snapshots.
func (e *Engine) State() *State {
	return e.state
}

// Refresh fetches the page the current filter and pagination state selects
// and commits it. On any query error nothing is committed and the state
// reports a failed status with the error message.
func (e *Engine) Refresh(ctx context.Context) error {
	filters, pagination := e.state.beginLoad()

	projects, total, err := e.fetchPage(ctx, filters, pagination.CurrentPage, pagination.PageSize)
	if err != nil {
		e.state.fail(err.Error())
		return err
	}

	e.state.commitPage(projects, total)
	return nil
}

func (e *Engine) fetchPage(ctx context.Context, filters Filters, page, pageSize int) ([]Project, int, error) {
	filter := filters.storeFilter()

	total, err := e.querier.CountProjects(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count feed: %w", err)
	}

	// Page 1 needs no cursor discovery.
	var cursor *store.ProjectCursor
	if skip := (page - 1) * pageSize; skip > 0 {
		cursor, err = e.querier.ProjectCursorAt(ctx, filter, skip)
		if err != nil {
			return nil, 0, fmt.Errorf("feed cursor: %w", err)
		}
	}

	rows, err := e.querier.ListProjectsPage(ctx, filter, cursor, pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("feed page: %w", err)
	}

	projects, err := e.enrich(ctx, rows)
	if err != nil {
		return nil, 0, err
	}
	return projects, total, nil
}

// enrich joins each row with its author's display record. Authors missing
// from the lookup stay nil; the view falls back to the raw author id.
func (e *Engine) enrich(ctx context.Context, rows []store.Project) ([]Project, error) {
	ids := make([]string, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		if row.AuthorID == "" {
			continue
		}
		if _, dup := seen[row.AuthorID]; dup {
			continue
		}
		seen[row.AuthorID] = struct{}{}
		ids = append(ids, row.AuthorID)
	}

	authors, err := ResolveAuthors(ctx, e.querier, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve authors: %w", err)
	}

	projects := make([]Project, 0, len(rows))
	for _, row := range rows {
		item := Project{Project: row}
		if card, ok := authors[row.AuthorID]; ok {
			item.Author = &Author{ID: card.ID, Handle: card.Handle, AvatarURL: card.AvatarURL}
		}
		projects = append(projects, item)
	}
	return projects, nil
}

// FetchProject loads a single project by id, enriches it and upserts it into
// the entity store as the selected project.
func (e *Engine) FetchProject(ctx context.Context, projectID string) (Project, error) {
	e.state.beginLoad()

	row, err := e.querier.GetProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			e.state.fail("project not found")
		} else {
			e.state.fail(err.Error())
		}
		return Project{}, err
	}

	enriched, err := e.enrich(ctx, []store.Project{row})
	if err != nil {
		e.state.fail(err.Error())
		return Project{}, err
	}

	project := enriched[0]
	e.state.commitOne(project)
	return project, nil
}
