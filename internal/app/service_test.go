package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"testing"
	"time"

	"devshare/api/internal/auth"
	"devshare/api/internal/comments"
	"devshare/api/internal/config"
	"devshare/api/internal/live"
	"devshare/api/internal/store"
)

type fakeStore struct {
	users    map[string]store.User
	projects []store.Project
	comments []store.Comment
	sessions map[string]refreshEntry

	insertedProjects []store.Project
	updatedProjects  []store.Project
	profileUpdates   []string

	getProjectFn    func(ctx context.Context, id string) (store.Project, error)
	listCommentsFn  func(ctx context.Context, projectID string) ([]store.Comment, error)
	insertCommentFn func(ctx context.Context, c store.Comment) error
}

type refreshEntry struct {
	userID    string
	expiresAt time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    map[string]store.User{},
		sessions: map[string]refreshEntry{},
	}
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	if user, ok := f.users[id]; ok {
		return user, nil
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	for _, user := range f.users {
		if user.Email == email {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) FindUserIDByEmail(_ context.Context, email string) (string, error) {
	for _, user := range f.users {
		if user.Email == email {
			return user.ID, nil
		}
	}
	return "", sql.ErrNoRows
}

func (f *fakeStore) GetPublicProfile(_ context.Context, id string) (store.PublicProfile, error) {
	user, ok := f.users[id]
	if !ok {
		return store.PublicProfile{}, sql.ErrNoRows
	}
	return store.PublicProfile{
		ID:          user.ID,
		Handle:      user.Handle,
		DisplayName: user.DisplayName,
		AvatarURL:   user.AvatarURL,
		Bio:         user.Bio,
	}, nil
}

func (f *fakeStore) UpdateUserProfile(_ context.Context, userID, displayName, bio, avatarURL string) error {
	user, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.DisplayName = displayName
	user.Bio = bio
	user.AvatarURL = avatarURL
	f.users[userID] = user
	f.profileUpdates = append(f.profileUpdates, userID)
	return nil
}

func (f *fakeStore) matching(filter store.ProjectFilter) []store.Project {
	var out []store.Project
	for _, p := range f.projects {
		if filter.TitlePrefix != "" && !strings.HasPrefix(strings.ToLower(p.Title), filter.TitlePrefix) {
			continue
		}
		if len(filter.Tags) > 0 && !hasOverlap(p.Tags, filter.Tags) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := strings.ToLower(out[i].Title), strings.ToLower(out[j].Title)
		if ti != tj {
			return ti < tj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func hasOverlap(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

func (f *fakeStore) CountProjects(_ context.Context, filter store.ProjectFilter) (int, error) {
	return len(f.matching(filter)), nil
}

func (f *fakeStore) ProjectCursorAt(_ context.Context, filter store.ProjectFilter, skip int) (*store.ProjectCursor, error) {
	rows := f.matching(filter)
	if skip <= 0 || skip > len(rows) {
		return nil, nil
	}
	last := rows[skip-1]
	return &store.ProjectCursor{Title: strings.ToLower(last.Title), ID: last.ID}, nil
}

func (f *fakeStore) ListProjectsPage(_ context.Context, filter store.ProjectFilter, after *store.ProjectCursor, limit int) ([]store.Project, error) {
	rows := f.matching(filter)
	if after != nil {
		for i, p := range rows {
			if strings.ToLower(p.Title) == after.Title && p.ID == after.ID {
				rows = rows[i+1:]
				break
			}
		}
	}
	if limit < len(rows) {
		rows = rows[:limit]
	}
	return rows, nil
}

func (f *fakeStore) GetProject(ctx context.Context, id string) (store.Project, error) {
	if f.getProjectFn != nil {
		return f.getProjectFn(ctx, id)
	}
	for _, p := range f.projects {
		if p.ID == id {
			return p, nil
		}
	}
	return store.Project{}, sql.ErrNoRows
}

func (f *fakeStore) InsertProject(_ context.Context, p store.Project) error {
	f.projects = append(f.projects, p)
	f.insertedProjects = append(f.insertedProjects, p)
	return nil
}

func (f *fakeStore) UpdateProject(_ context.Context, p store.Project) error {
	for i := range f.projects {
		if f.projects[i].ID == p.ID {
			f.projects[i] = p
		}
	}
	f.updatedProjects = append(f.updatedProjects, p)
	return nil
}

func (f *fakeStore) ListProjectsByAuthor(_ context.Context, authorID string) ([]store.Project, error) {
	var out []store.Project
	for _, p := range f.projects {
		if p.AuthorID == authorID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) GetAuthorCards(_ context.Context, ids []string) (map[string]store.AuthorCard, error) {
	out := make(map[string]store.AuthorCard)
	for _, id := range ids {
		if user, ok := f.users[id]; ok {
			out[id] = store.AuthorCard{ID: user.ID, Handle: user.Handle, AvatarURL: user.AvatarURL}
		}
	}
	return out, nil
}

func (f *fakeStore) ListProjectComments(ctx context.Context, projectID string) ([]store.Comment, error) {
	if f.listCommentsFn != nil {
		return f.listCommentsFn(ctx, projectID)
	}
	var out []store.Comment
	for _, c := range f.comments {
		if c.ProjectID == projectID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) InsertComment(ctx context.Context, c store.Comment) error {
	if f.insertCommentFn != nil {
		return f.insertCommentFn(ctx, c)
	}
	f.comments = append(f.comments, c)
	return nil
}

func (f *fakeStore) UpdateProjectCommentMetric(_ context.Context, projectID string, count int) error {
	for i := range f.projects {
		if f.projects[i].ID == projectID {
			f.projects[i].Metrics.Comments = count
		}
	}
	return nil
}

func (f *fakeStore) IncrementProjectShares(_ context.Context, projectID string) error {
	for i := range f.projects {
		if f.projects[i].ID == projectID {
			f.projects[i].Metrics.Shares++
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) IncrementProjectCodeViews(_ context.Context, projectID string) error {
	for i := range f.projects {
		if f.projects[i].ID == projectID {
			f.projects[i].Metrics.CodeViews++
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, expiresAt time.Time) error {
	f.sessions[tokenHash] = refreshEntry{userID: userID, expiresAt: expiresAt}
	return nil
}

func (f *fakeStore) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	entry, ok := f.sessions[tokenHash]
	if !ok || entry.expiresAt.Before(time.Now()) {
		return store.User{}, sql.ErrNoRows
	}
	user, ok := f.users[entry.userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	delete(f.sessions, tokenHash)
	return nil
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func newTestService(fs *fakeStore) *Service {
	hub := live.NewHub(nil, time.Minute)
	cfg := config.Config{
		JWTSecret:    "test-secret",
		AccessTTL:    15 * time.Minute,
		RefreshTTL:   time.Hour,
		FeedPageSize: 4,
		CORSOrigin:   "http://localhost:3000",
	}
	return &Service{
		cfg:      cfg,
		store:    fs,
		sessions: fs,
		comments: comments.NewService(fs, hub),
		hub:      hub,
	}
}

func seedUser(fs *fakeStore, id, handle, displayName, email string) {
	fs.users[id] = store.User{ID: id, Handle: handle, DisplayName: displayName, Email: email}
}

func seedProjects(fs *fakeStore, n int) {
	for i := 0; i < n; i++ {
		fs.projects = append(fs.projects, store.Project{
			ID:       fmt.Sprintf("p%02d", i),
			Title:    fmt.Sprintf("Project %02d", i),
			Tags:     []string{"React"},
			AuthorID: "u1",
		})
	}
}

func TestCreateSessionRoundTrip(t *testing.T) {
	fs := newFakeStore()
	seedUser(fs, "u1", "mia", "", "mia@example.com")
	svc := newTestService(fs)

	session, err := svc.CreateSession(context.Background(), "u1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if session.UserName != "mia" {
		t.Fatalf("UserName = %q, want handle fallback %q", session.UserName, "mia")
	}
	if session.RefreshToken == "" {
		t.Fatal("expected a refresh token")
	}
	if len(fs.sessions) != 1 {
		t.Fatalf("stored %d refresh sessions, want 1", len(fs.sessions))
	}

	parsed, err := svc.SessionFromToken(context.Background(), session.Token)
	if err != nil {
		t.Fatalf("SessionFromToken: %v", err)
	}
	if parsed.UserID != "u1" || parsed.Email != "mia@example.com" {
		t.Fatalf("parsed session = %+v", parsed)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	fs := newFakeStore()
	seedUser(fs, "u1", "mia", "Mia", "mia@example.com")
	svc := newTestService(fs)

	first, err := svc.CreateSession(context.Background(), "u1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	second, err := svc.Refresh(context.Background(), first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}
	if _, err := svc.Refresh(context.Background(), first.RefreshToken); err == nil {
		t.Fatal("expected the old refresh token to be revoked")
	}
}

func TestLogoutRevokesRefreshToken(t *testing.T) {
	fs := newFakeStore()
	seedUser(fs, "u1", "mia", "Mia", "mia@example.com")
	svc := newTestService(fs)

	session, err := svc.CreateSession(context.Background(), "u1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := svc.Logout(context.Background(), session.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := svc.Refresh(context.Background(), session.RefreshToken); err == nil {
		t.Fatal("expected refresh to fail after logout")
	}
}

func TestSessionFromTokenRejectsGarbage(t *testing.T) {
	svc := newTestService(newFakeStore())
	if _, err := svc.SessionFromToken(context.Background(), "not-a-token"); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestResolveIdentityPrefersAccountEmail(t *testing.T) {
	fs := newFakeStore()
	seedUser(fs, "u1", "mia", "Mia", "mia@example.com")
	svc := newTestService(fs)

	got := svc.ResolveIdentity(context.Background(), Session{UserID: "token-sub", Email: "mia@example.com"})
	if got != "u1" {
		t.Fatalf("ResolveIdentity = %q, want %q", got, "u1")
	}

	got = svc.ResolveIdentity(context.Background(), Session{UserID: "token-sub", Email: "nobody@example.com"})
	if got != "token-sub" {
		t.Fatalf("ResolveIdentity fallback = %q, want token subject", got)
	}

	if got := svc.ResolveIdentity(context.Background(), Session{}); got != "" {
		t.Fatalf("ResolveIdentity for empty session = %q, want empty", got)
	}
}

func TestFeedPayloadShape(t *testing.T) {
	fs := newFakeStore()
	seedUser(fs, "u1", "mia", "Mia", "mia@example.com")
	seedProjects(fs, 10)
	svc := newTestService(fs)

	payload := svc.Feed(context.Background(), 0, nil, "")

	pagination, ok := payload["pagination"].(map[string]any)
	if !ok {
		t.Fatalf("pagination missing from payload: %v", payload)
	}
	if pagination["currentPage"] != 1 || pagination["totalItems"] != 10 || pagination["totalPages"] != 3 {
		t.Fatalf("pagination = %v", pagination)
	}
	projects := payload["projects"].([]map[string]any)
	if len(projects) != 4 {
		t.Fatalf("page has %d projects, want 4", len(projects))
	}
	author, ok := projects[0]["author"].(map[string]any)
	if !ok || author["handle"] != "mia" {
		t.Fatalf("author not enriched: %v", projects[0])
	}
}

func TestFeedLaterPage(t *testing.T) {
	fs := newFakeStore()
	seedUser(fs, "u1", "mia", "Mia", "mia@example.com")
	seedProjects(fs, 10)
	svc := newTestService(fs)

	payload := svc.Feed(context.Background(), 3, nil, "")

	projects := payload["projects"].([]map[string]any)
	if len(projects) != 2 {
		t.Fatalf("last page has %d projects, want 2", len(projects))
	}
	if projects[0]["id"] != "p08" || projects[1]["id"] != "p09" {
		t.Fatalf("last page ids = %v, %v", projects[0]["id"], projects[1]["id"])
	}
}

func TestFeedFilterChangeResetsPage(t *testing.T) {
	fs := newFakeStore()
	seedUser(fs, "u1", "mia", "Mia", "mia@example.com")
	seedProjects(fs, 10)
	svc := newTestService(fs)

	svc.Feed(context.Background(), 3, nil, "")
	payload := svc.Feed(context.Background(), 0, []string{"React"}, "")

	pagination := payload["pagination"].(map[string]any)
	if pagination["currentPage"] != 1 {
		t.Fatalf("currentPage = %v after filter change, want 1", pagination["currentPage"])
	}
}

func TestFeedRequestsDoNotShareFilterState(t *testing.T) {
	fs := newFakeStore()
	seedUser(fs, "u1", "mia", "Mia", "mia@example.com")
	seedProjects(fs, 10)
	svc := newTestService(fs)

	// One client narrows the feed to a single title on a later page.
	svc.Feed(context.Background(), 2, nil, "Project 03")

	// Another client's plain request must see the whole corpus from page 1.
	payload := svc.Feed(context.Background(), 0, nil, "")
	pagination := payload["pagination"].(map[string]any)
	if pagination["currentPage"] != 1 {
		t.Fatalf("currentPage = %v, want 1", pagination["currentPage"])
	}
	if pagination["totalItems"] != 10 {
		t.Fatalf("totalItems = %v, want 10", pagination["totalItems"])
	}
}

func TestCreateProjectRequiresTitle(t *testing.T) {
	fs := newFakeStore()
	seedUser(fs, "u1", "mia", "Mia", "mia@example.com")
	svc := newTestService(fs)

	_, err := svc.CreateProject(context.Background(), Session{UserID: "u1", Email: "mia@example.com"}, CreateProjectInput{Title: "   "})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusUnprocessableEntity {
		t.Fatalf("err = %v, want 422 domain error", err)
	}
	if len(fs.insertedProjects) != 0 {
		t.Fatal("nothing should be written for an invalid project")
	}
}

func TestCreateProjectRequiresIdentity(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)

	_, err := svc.CreateProject(context.Background(), Session{}, CreateProjectInput{Title: "Weather app"})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusUnauthorized {
		t.Fatalf("err = %v, want 401 domain error", err)
	}
	if len(fs.insertedProjects) != 0 {
		t.Fatal("nothing should be written without an identity")
	}
}

func TestCreateProjectNormalizesTags(t *testing.T) {
	fs := newFakeStore()
	seedUser(fs, "u1", "mia", "Mia", "mia@example.com")
	svc := newTestService(fs)

	_, err := svc.CreateProject(context.Background(), Session{UserID: "u1", Email: "mia@example.com"}, CreateProjectInput{
		Title: "Weather app",
		Tags:  []string{" React ", "React", "", "Front-End"},
	})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	got := fs.insertedProjects[0].Tags
	want := []string{"React", "Front-End"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("tags = %v, want %v", got, want)
	}
}

func TestUpdateProjectOwnerOnly(t *testing.T) {
	fs := newFakeStore()
	seedUser(fs, "u1", "mia", "Mia", "mia@example.com")
	seedUser(fs, "u2", "sam", "Sam", "sam@example.com")
	fs.projects = append(fs.projects, store.Project{ID: "p1", Title: "Weather app", AuthorID: "u1"})
	svc := newTestService(fs)

	title := "Hijacked"
	_, err := svc.UpdateProject(context.Background(), Session{UserID: "u2", Email: "sam@example.com"}, "p1", UpdateProjectInput{Title: &title})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusForbidden {
		t.Fatalf("err = %v, want 403 domain error", err)
	}
	if len(fs.updatedProjects) != 0 {
		t.Fatal("project must not be updated by a non-owner")
	}
}

func TestPostCommentRequiresIdentity(t *testing.T) {
	fs := newFakeStore()
	fs.projects = append(fs.projects, store.Project{ID: "p1", Title: "Weather app", AuthorID: "u1"})
	svc := newTestService(fs)

	_, err := svc.PostComment(context.Background(), Session{}, "p1", "nice one", nil)
	if !errors.Is(err, comments.ErrNoIdentity) {
		t.Fatalf("err = %v, want ErrNoIdentity", err)
	}
	if len(fs.comments) != 0 {
		t.Fatal("no comment should be written without an identity")
	}
}

func TestPostCommentWritesAndReturnsComment(t *testing.T) {
	fs := newFakeStore()
	seedUser(fs, "u1", "mia", "Mia", "mia@example.com")
	fs.projects = append(fs.projects, store.Project{ID: "p1", Title: "Weather app", AuthorID: "u1"})
	svc := newTestService(fs)

	payload, err := svc.PostComment(context.Background(), Session{UserID: "u1", Email: "mia@example.com"}, "p1", "nice one", nil)
	if err != nil {
		t.Fatalf("PostComment: %v", err)
	}
	if payload["text"] != "nice one" || payload["authorId"] != "u1" {
		t.Fatalf("payload = %v", payload)
	}
	if len(fs.comments) != 1 {
		t.Fatalf("stored %d comments, want 1", len(fs.comments))
	}
}

func TestProjectDetailIncludesCommentTree(t *testing.T) {
	fs := newFakeStore()
	seedUser(fs, "u1", "mia", "Mia", "mia@example.com")
	fs.projects = append(fs.projects, store.Project{ID: "p1", Title: "Weather app", AuthorID: "u1"})
	parent := "c1"
	fs.comments = []store.Comment{
		{ID: "c1", ProjectID: "p1", AuthorID: "u1", Text: "root"},
		{ID: "c2", ProjectID: "p1", AuthorID: "u1", Text: "reply", ParentID: &parent},
	}
	svc := newTestService(fs)

	payload, err := svc.ProjectDetail(context.Background(), "p1")
	if err != nil {
		t.Fatalf("ProjectDetail: %v", err)
	}
	tree := payload["comments"].(map[string]any)
	roots := tree["roots"].([]map[string]any)
	if len(roots) != 1 || roots[0]["id"] != "c1" {
		t.Fatalf("roots = %v", roots)
	}
	replies := tree["repliesByParent"].(map[string][]map[string]any)
	if len(replies["c1"]) != 1 || replies["c1"][0]["id"] != "c2" {
		t.Fatalf("replies = %v", replies)
	}
}

func TestProjectDetailNotFound(t *testing.T) {
	svc := newTestService(newFakeStore())
	_, err := svc.ProjectDetail(context.Background(), "missing")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusNotFound {
		t.Fatalf("err = %v, want 404 domain error", err)
	}
}

func TestProjectDetailQueryFailureIsNot404(t *testing.T) {
	fs := newFakeStore()
	fs.getProjectFn = func(context.Context, string) (store.Project, error) {
		return store.Project{}, errors.New("connection refused")
	}
	svc := newTestService(fs)

	_, err := svc.ProjectDetail(context.Background(), "p1")
	if err == nil {
		t.Fatal("expected the store failure to surface")
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) && domainErr.Status == http.StatusNotFound {
		t.Fatalf("store failure must not read as a missing project, got %v", err)
	}
}

func TestShareProjectBumpsMetric(t *testing.T) {
	fs := newFakeStore()
	fs.projects = append(fs.projects, store.Project{ID: "p1", Title: "Weather app", AuthorID: "u1"})
	svc := newTestService(fs)

	payload, err := svc.ShareProject(context.Background(), "p1")
	if err != nil {
		t.Fatalf("ShareProject: %v", err)
	}
	metrics := payload["metrics"].(map[string]any)
	if metrics["shares"] != 1 {
		t.Fatalf("shares = %v, want 1", metrics["shares"])
	}
}

func TestProfileListsOwnProjects(t *testing.T) {
	fs := newFakeStore()
	seedUser(fs, "u1", "mia", "Mia", "mia@example.com")
	fs.projects = append(fs.projects,
		store.Project{ID: "p1", Title: "Weather app", AuthorID: "u1"},
		store.Project{ID: "p2", Title: "Other", AuthorID: "u2"},
	)
	svc := newTestService(fs)

	payload, err := svc.Profile(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if payload["handle"] != "mia" {
		t.Fatalf("handle = %v", payload["handle"])
	}
	projects := payload["projects"].([]map[string]any)
	if len(projects) != 1 || projects[0]["id"] != "p1" {
		t.Fatalf("projects = %v", projects)
	}
}

func TestProfileNotFound(t *testing.T) {
	svc := newTestService(newFakeStore())
	_, err := svc.Profile(context.Background(), "missing")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("err = %v, want sql.ErrNoRows", err)
	}
}

func TestUpdateProfile(t *testing.T) {
	fs := newFakeStore()
	seedUser(fs, "u1", "mia", "Mia", "mia@example.com")
	svc := newTestService(fs)

	payload, err := svc.UpdateProfile(context.Background(), Session{UserID: "u1", Email: "mia@example.com"}, "Mia R.", "Front-end tinkerer")
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if payload["displayName"] != "Mia R." || payload["bio"] != "Front-end tinkerer" {
		t.Fatalf("payload = %v", payload)
	}
	if len(fs.profileUpdates) != 1 {
		t.Fatalf("profile updated %d times, want 1", len(fs.profileUpdates))
	}
}
