// Package feed implements the project feed: filter state, cursor-based
// pagination against the project store, author enrichment and the normalized
// entity cache the view layer reads from.
package feed

import (
	"math"
	"sort"
	"strings"
	"sync"

	"devshare/api/internal/store"
)

// Status is the request lifecycle shared by feed and detail fetches.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusLoading   Status = "loading"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// StaticTags is the fixed tag list offered by the filter bar; it does not
// shrink as filters narrow the feed.
var StaticTags = []string{"Front-End", "React", "Accessibility"}

// Filters is the active filter state. Tags match any-of; Search is a
// case-insensitive title prefix.
type Filters struct {
	Tags   []string
	Search string
}

// Equal compares filter states: tag sets (order-insensitive) and the
// lowercased search term.
func (f Filters) Equal(other Filters) bool {
	if !strings.EqualFold(f.Search, other.Search) {
		return false
	}
	if len(f.Tags) != len(other.Tags) {
		return false
	}
	a := append([]string(nil), f.Tags...)
	b := append([]string(nil), other.Tags...)
	sort.Strings(a)
	sort.Strings(b)
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (f Filters) storeFilter() store.ProjectFilter {
	return store.ProjectFilter{
		Tags:        f.Tags,
		TitlePrefix: strings.ToLower(f.Search),
	}
}

// Pagination is 1-based. TotalItems comes from the authoritative count query.
type Pagination struct {
	CurrentPage int
	PageSize    int
	TotalItems  int
}

// TotalPages is ceil(TotalItems/PageSize), 0 when PageSize is 0.
func (p Pagination) TotalPages() int {
	if p.PageSize <= 0 {
		return 0
	}
	return int(math.Ceil(float64(p.TotalItems) / float64(p.PageSize)))
}

// Author is the display data joined onto a project row.
type Author struct {
	ID        string `json:"id"`
	Handle    string `json:"handle"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// Project is a project entity enriched with its author's display data.
// Author is nil when the lookup had no record; callers show AuthorID then.
type Project struct {
	store.Project
	Author *Author
}

// Snapshot is the tuple the view layer renders.
type Snapshot struct {
	Status     Status
	Error      string
	Projects   []Project
	Filters    Filters
	Pagination Pagination
	SelectedID string
}

// State is the normalized entity store: projects keyed by id plus request
// status, error and pagination metadata. It is mutated only by the engine's
// fulfillment handlers.
type State struct {
	mu         sync.Mutex
	ids        []string
	entities   map[string]Project
	status     Status
	err        string
	filters    Filters
	pagination Pagination
	selectedID string
}

func NewState(pageSize int) *State {
	return &State{
		entities: make(map[string]Project),
		status:   StatusIdle,
		pagination: Pagination{
			CurrentPage: 1,
			PageSize:    pageSize,
		},
	}
}

// SetFilters replaces the filter state. A change resets pagination to page 1.
func (s *State) SetFilters(filters Filters) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.filters.Equal(filters) {
		return
	}
	s.filters = filters
	s.pagination.CurrentPage = 1
}

// ToggleTag adds or removes a tag from the active set; any change resets to
// page 1.
func (s *State) ToggleTag(tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make([]string, 0, len(s.filters.Tags)+1)
	removed := false
	for _, existing := range s.filters.Tags {
		if existing == tag {
			removed = true
			continue
		}
		next = append(next, existing)
	}
	if !removed {
		next = append(next, tag)
	}
	s.filters.Tags = next
	s.pagination.CurrentPage = 1
}

// ClearFilters drops all tags and the search term and resets to page 1.
func (s *State) ClearFilters() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = Filters{}
	s.pagination.CurrentPage = 1
}

// SetPage moves to a page without touching filters. Pages below 1 clamp.
func (s *State) SetPage(page int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if page < 1 {
		page = 1
	}
	s.pagination.CurrentPage = page
}

// Snapshot returns a copy of the current state for rendering.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	projects := make([]Project, 0, len(s.ids))
	for _, id := range s.ids {
		projects = append(projects, s.entities[id])
	}
	return Snapshot{
		Status:     s.status,
		Error:      s.err,
		Projects:   projects,
		Filters:    s.filters,
		Pagination: s.pagination,
		SelectedID: s.selectedID,
	}
}

func (s *State) beginLoad() (Filters, Pagination) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusLoading
	s.err = ""
	return s.filters, s.pagination
}

// commitPage atomically replaces the store's content with exactly the
// fetched page and records the authoritative total.
func (s *State) commitPage(projects []Project, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusSucceeded
	s.err = ""
	s.ids = s.ids[:0]
	s.entities = make(map[string]Project, len(projects))
	for _, p := range projects {
		s.ids = append(s.ids, p.ID)
		s.entities[p.ID] = p
	}
	s.pagination.TotalItems = total
}

func (s *State) commitOne(project Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusSucceeded
	s.err = ""
	if _, known := s.entities[project.ID]; !known {
		s.ids = append(s.ids, project.ID)
	}
	s.entities[project.ID] = project
	s.selectedID = project.ID
}

// fail records the error; previously committed entities stay as they were.
func (s *State) fail(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusFailed
	s.err = message
}
