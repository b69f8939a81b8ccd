package feed

import "testing"

func TestSetFiltersResetsPage(t *testing.T) {
	state := NewState(4)
	state.SetPage(3)

	state.SetFilters(Filters{Tags: []string{"React"}})
	if page := state.Snapshot().Pagination.CurrentPage; page != 1 {
		t.Fatalf("filter change must reset to page 1, got %d", page)
	}
}

func TestSetFiltersSameValueKeepsPage(t *testing.T) {
	state := NewState(4)
	state.SetFilters(Filters{Tags: []string{"React", "Front-End"}, Search: "app"})
	state.SetPage(3)

	// Equivalent filters, different tag order and search casing.
	state.SetFilters(Filters{Tags: []string{"Front-End", "React"}, Search: "App"})
	if page := state.Snapshot().Pagination.CurrentPage; page != 3 {
		t.Fatalf("unchanged filters must keep the page, got %d", page)
	}
}

func TestToggleTag(t *testing.T) {
	state := NewState(4)
	state.SetPage(2)

	state.ToggleTag("React")
	snap := state.Snapshot()
	if len(snap.Filters.Tags) != 1 || snap.Filters.Tags[0] != "React" {
		t.Fatalf("expected [React], got %v", snap.Filters.Tags)
	}
	if snap.Pagination.CurrentPage != 1 {
		t.Fatalf("toggle must reset to page 1, got %d", snap.Pagination.CurrentPage)
	}

	state.ToggleTag("React")
	if tags := state.Snapshot().Filters.Tags; len(tags) != 0 {
		t.Fatalf("second toggle must remove the tag, got %v", tags)
	}
}

func TestClearFilters(t *testing.T) {
	state := NewState(4)
	state.SetFilters(Filters{Tags: []string{"React"}, Search: "todo"})
	state.SetPage(2)

	state.ClearFilters()
	snap := state.Snapshot()
	if len(snap.Filters.Tags) != 0 || snap.Filters.Search != "" {
		t.Fatalf("expected empty filters, got %+v", snap.Filters)
	}
	if snap.Pagination.CurrentPage != 1 {
		t.Fatalf("clear must reset to page 1, got %d", snap.Pagination.CurrentPage)
	}
}

func TestSetPageClampsBelowOne(t *testing.T) {
	state := NewState(4)
	state.SetPage(0)
	if page := state.Snapshot().Pagination.CurrentPage; page != 1 {
		t.Fatalf("expected clamp to 1, got %d", page)
	}
	state.SetPage(-3)
	if page := state.Snapshot().Pagination.CurrentPage; page != 1 {
		t.Fatalf("expected clamp to 1, got %d", page)
	}
}

func TestTotalPages(t *testing.T) {
	cases := []struct {
		name     string
		total    int
		pageSize int
		want     int
	}{
		{"even split", 8, 4, 2},
		{"remainder rounds up", 10, 4, 3},
		{"single short page", 3, 4, 1},
		{"empty", 0, 4, 0},
		{"zero page size", 10, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := Pagination{TotalItems: tc.total, PageSize: tc.pageSize}
			if got := p.TotalPages(); got != tc.want {
				t.Fatalf("TotalPages() = %d, want %d", got, tc.want)
			}
		})
	}
}
