package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"devshare/api/internal/auth"
	"devshare/api/internal/authpw"
	"devshare/api/internal/comments"
	"devshare/api/internal/config"
	"devshare/api/internal/email"
	"devshare/api/internal/feed"
	"devshare/api/internal/live"
	"devshare/api/internal/media"
	"devshare/api/internal/search"
	"devshare/api/internal/session"
	"devshare/api/internal/snippets"
	"devshare/api/internal/store"
	"devshare/api/internal/util"
)

// feedTopic carries change wakeups for the project feed.
const feedTopic = "feed"

// profileTopic carries change wakeups for one author's project list.
func profileTopic(userID string) string {
	return "projects:" + userID
}

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Handle       string
	Email        string
	JTI          string
	ExpiresAt    time.Time
}

type CreateProjectInput struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Code        string   `json:"code"`
	Language    string   `json:"language"`
}

type UpdateProjectInput struct {
	Title       *string  `json:"title"`
	Description *string  `json:"description"`
	Tags        []string `json:"tags"`
	Code        *string  `json:"code"`
	Language    *string  `json:"language"`
}

type dataStore interface {
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	FindUserIDByEmail(context.Context, string) (string, error)
	GetPublicProfile(context.Context, string) (store.PublicProfile, error)
	UpdateUserProfile(context.Context, string, string, string, string) error

	CountProjects(context.Context, store.ProjectFilter) (int, error)
	ProjectCursorAt(context.Context, store.ProjectFilter, int) (*store.ProjectCursor, error)
	ListProjectsPage(context.Context, store.ProjectFilter, *store.ProjectCursor, int) ([]store.Project, error)
	GetProject(context.Context, string) (store.Project, error)
	InsertProject(context.Context, store.Project) error
	UpdateProject(context.Context, store.Project) error
	ListProjectsByAuthor(context.Context, string) ([]store.Project, error)
	GetAuthorCards(context.Context, []string) (map[string]store.AuthorCard, error)

	ListProjectComments(context.Context, string) ([]store.Comment, error)
	InsertComment(context.Context, store.Comment) error
	UpdateProjectCommentMetric(context.Context, string, int) error
	IncrementProjectShares(context.Context, string) error
	IncrementProjectCodeViews(context.Context, string) error

	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error

	Ping(ctx context.Context) error
}

// sessionStore holds refresh sessions. Redis when configured, Postgres otherwise.
type sessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
}

type snippetService interface {
	EnsureProjectRepo(string, snippets.Snippet, string) error
	CommitSnippet(string, snippets.Snippet, string, string) (snippets.Revision, error)
	Head(string) (snippets.Snippet, snippets.Revision, error)
	AtRevision(string, string) (snippets.Snippet, error)
	History(string, int) ([]snippets.Revision, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	authpw   *authpw.Service
	comments *comments.Service
	search   *search.Service
	media    *media.Service
	snippets snippetService
	mailer   *email.Service
	hub      *live.Hub
}

func New(cfg config.Config, dataStore *store.PostgresStore, hub *live.Hub, snippetSvc *snippets.Service, searchSvc *search.Service, mediaSvc *media.Service, mailer *email.Service) *Service {
	return newService(cfg, dataStore, dataStore, hub, snippetSvc, searchSvc, mediaSvc, mailer)
}

func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions *session.RedisStore, hub *live.Hub, snippetSvc *snippets.Service, searchSvc *search.Service, mediaSvc *media.Service, mailer *email.Service) *Service {
	return newService(cfg, dataStore, sessions, hub, snippetSvc, searchSvc, mediaSvc, mailer)
}

func newService(cfg config.Config, ds dataStore, sessions sessionStore, hub *live.Hub, snippetSvc snippetService, searchSvc *search.Service, mediaSvc *media.Service, mailer *email.Service) *Service {
	svc := &Service{
		cfg:      cfg,
		store:    ds,
		sessions: sessions,
		comments: comments.NewService(ds, hub),
		search:   searchSvc,
		media:    mediaSvc,
		snippets: snippetSvc,
		mailer:   mailer,
		hub:      hub,
	}
	if pg, ok := ds.(*store.PostgresStore); ok {
		svc.authpw = authpw.NewService(pg)
	}
	return svc
}

// AuthPasswordService exposes email/password auth to the HTTP layer.
func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.mailer != nil && s.mailer.IsConfigured()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Tags returns the fixed tag vocabulary offered as feed filters.
func (s *Service) Tags() []string {
	return feed.StaticTags
}

// SendVerificationEmail delivers the signup verification mail when SMTP is up.
func (s *Service) SendVerificationEmail(to, userName, token string) {
	if !s.SMTPConfigured() {
		return
	}
	url := fmt.Sprintf("%s/verify-email?token=%s", strings.TrimSuffix(s.cfg.CORSOrigin, "/"), token)
	go func() {
		if err := s.mailer.SendVerificationEmail(to, userName, url); err != nil {
			log.Printf("app: send verification email: %v", err)
		}
	}()
}

// SendPasswordResetEmail delivers the reset mail when SMTP is up.
func (s *Service) SendPasswordResetEmail(to, userName, token string) {
	if !s.SMTPConfigured() {
		return
	}
	url := fmt.Sprintf("%s/reset-password?token=%s", strings.TrimSuffix(s.cfg.CORSOrigin, "/"), token)
	go func() {
		if err := s.mailer.SendPasswordResetEmail(to, userName, url); err != nil {
			log.Printf("app: send reset email: %v", err)
		}
	}()
}

// CreateSession issues access and refresh tokens for a signed-in user.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")
	name := firstNonBlank(user.DisplayName, user.Handle, "User")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Name:  name,
		Email: user.Email,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     name,
		Handle:       user.Handle,
		Email:        user.Email,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  firstNonBlank(user.DisplayName, user.Handle, claims.Name),
		Handle:    user.Handle,
		Email:     user.Email,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// ResolveIdentity maps a session onto the user id comments and projects are
// written under. The account email is authoritative; the token subject is the
// fallback when no account matches. An empty result means nobody is signed in.
func (s *Service) ResolveIdentity(ctx context.Context, session Session) string {
	if session.Email != "" {
		if id, err := s.store.FindUserIDByEmail(ctx, session.Email); err == nil && id != "" {
			return id
		}
	}
	return session.UserID
}

// feedEngine builds a fresh engine over the store. Each request gets its own
// filter and page state, so concurrent clients never see each other's intents.
func (s *Service) feedEngine() *feed.Engine {
	return feed.NewEngine(s.store, s.cfg.FeedPageSize)
}

// Feed applies the requested filters and page, loads that page and returns
// the resulting snapshot. Passing page 0 means page 1.
func (s *Service) Feed(ctx context.Context, page int, tags []string, searchTerm string) map[string]any {
	engine := s.feedEngine()
	state := engine.State()
	state.SetFilters(feed.Filters{Tags: tags, Search: searchTerm})
	if page > 0 {
		state.SetPage(page)
	}
	if err := engine.Refresh(ctx); err != nil {
		log.Printf("app: feed refresh: %v", err)
	}
	return feedPayload(state.Snapshot())
}

// ProjectDetail loads one project with its comment tree and code head.
func (s *Service) ProjectDetail(ctx context.Context, projectID string) (map[string]any, error) {
	project, err := s.feedEngine().FetchProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Project not found", nil)
		}
		return nil, err
	}

	tree, err := s.comments.Tree(ctx, projectID)
	if err != nil {
		return nil, err
	}

	payload := projectPayload(project)
	payload["comments"] = commentTreePayload(tree)

	if s.snippets != nil {
		if snip, rev, err := s.snippets.Head(projectID); err == nil {
			payload["code"] = map[string]any{
				"language": snip.Language,
				"code":     snip.Code,
				"revision": revisionPayload(rev),
			}
		}
	}

	if s.media != nil && project.ImageURL != "" {
		if url, err := s.media.URL(ctx, project.ImageURL); err == nil {
			payload["imageUrl"] = url
		}
	}
	return payload, nil
}

// CreateProject publishes a project under the session's resolved identity.
func (s *Service) CreateProject(ctx context.Context, session Session, input CreateProjectInput) (map[string]any, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	authorID := s.ResolveIdentity(ctx, session)
	if authorID == "" {
		return nil, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Sign in to publish a project", nil)
	}

	item := store.Project{
		ID:          util.NewID("prj"),
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		Tags:        normalizeTags(input.Tags),
		Code:        input.Code,
		Language:    strings.TrimSpace(input.Language),
		AuthorID:    authorID,
	}
	if err := s.store.InsertProject(ctx, item); err != nil {
		return nil, err
	}

	if s.snippets != nil {
		initial := snippets.Snippet{Language: item.Language, Code: item.Code}
		if err := s.snippets.EnsureProjectRepo(item.ID, initial, session.UserName); err != nil {
			return nil, err
		}
	}

	s.indexProject(item)
	s.hub.Notify(ctx, feedTopic)
	s.hub.Notify(ctx, profileTopic(item.AuthorID))

	return s.ProjectDetail(ctx, item.ID)
}

// UpdateProject edits a project. Only the author may edit; code changes are
// committed to the project's snippet history.
func (s *Service) UpdateProject(ctx context.Context, session Session, projectID string, input UpdateProjectInput) (map[string]any, error) {
	item, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if item.AuthorID != s.ResolveIdentity(ctx, session) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Only the author can edit this project", nil)
	}

	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if title == "" {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title must not be empty", nil)
		}
		item.Title = title
	}
	if input.Description != nil {
		item.Description = strings.TrimSpace(*input.Description)
	}
	if input.Tags != nil {
		item.Tags = normalizeTags(input.Tags)
	}
	if input.Language != nil {
		item.Language = strings.TrimSpace(*input.Language)
	}

	codeChanged := input.Code != nil && *input.Code != item.Code
	if input.Code != nil {
		item.Code = *input.Code
	}

	if err := s.store.UpdateProject(ctx, item); err != nil {
		return nil, err
	}

	if codeChanged && s.snippets != nil {
		next := snippets.Snippet{Language: item.Language, Code: item.Code}
		if err := s.snippets.EnsureProjectRepo(projectID, next, session.UserName); err != nil {
			return nil, err
		}
		if _, err := s.snippets.CommitSnippet(projectID, next, session.UserName, "Update code"); err != nil {
			return nil, err
		}
	}

	s.indexProject(item)
	s.hub.Notify(ctx, feedTopic)
	s.hub.Notify(ctx, profileTopic(item.AuthorID))

	return s.ProjectDetail(ctx, projectID)
}

// PostComment appends a comment under the session's resolved identity and
// notifies the project author by email, best-effort.
func (s *Service) PostComment(ctx context.Context, session Session, projectID, text string, parentID *string) (map[string]any, error) {
	authorID := s.ResolveIdentity(ctx, session)
	item, err := s.comments.Post(ctx, projectID, authorID, text, parentID)
	if err != nil {
		return nil, err
	}

	s.notifyProjectAuthor(projectID, authorID, session.UserName)

	return commentPayload(item), nil
}

func (s *Service) notifyProjectAuthor(projectID, commenterID, commenterName string) {
	if !s.SMTPConfigured() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		project, err := s.store.GetProject(ctx, projectID)
		if err != nil || project.AuthorID == commenterID {
			return
		}
		author, err := s.store.GetUserByID(ctx, project.AuthorID)
		if err != nil || author.Email == "" {
			return
		}
		url := fmt.Sprintf("%s/projects/%s", strings.TrimSuffix(s.cfg.CORSOrigin, "/"), projectID)
		name := firstNonBlank(author.DisplayName, author.Handle, "there")
		if err := s.mailer.SendCommentNotification(author.Email, name, commenterName, project.Title, url); err != nil {
			log.Printf("app: comment notification for %s: %v", projectID, err)
		}
	}()
}

// CommentTree returns the current full comment snapshot for a project.
func (s *Service) CommentTree(ctx context.Context, projectID string) (map[string]any, error) {
	tree, err := s.comments.Tree(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return commentTreePayload(tree), nil
}

// WatchComments subscribes to live wakeups for a project's comments.
func (s *Service) WatchComments(projectID string) *live.Subscription {
	return s.comments.Watch(projectID)
}

// WatchProfile subscribes to live wakeups for a user's project list.
func (s *Service) WatchProfile(userID string) *live.Subscription {
	return s.hub.Subscribe(profileTopic(userID))
}

// ShareProject bumps the share metric and returns the updated counts.
func (s *Service) ShareProject(ctx context.Context, projectID string) (map[string]any, error) {
	if err := s.store.IncrementProjectShares(ctx, projectID); err != nil {
		return nil, err
	}
	return s.projectMetrics(ctx, projectID)
}

// RecordCodeView bumps the code view metric and returns the updated counts.
func (s *Service) RecordCodeView(ctx context.Context, projectID string) (map[string]any, error) {
	if err := s.store.IncrementProjectCodeViews(ctx, projectID); err != nil {
		return nil, err
	}
	return s.projectMetrics(ctx, projectID)
}

func (s *Service) projectMetrics(ctx context.Context, projectID string) (map[string]any, error) {
	item, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": item.ID, "metrics": metricsPayload(item.Metrics)}, nil
}

// Profile returns a user's public profile with their published projects.
func (s *Service) Profile(ctx context.Context, userID string) (map[string]any, error) {
	profile, err := s.store.GetPublicProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	projects, err := s.store.ListProjectsByAuthor(ctx, userID)
	if err != nil {
		return nil, err
	}

	avatarURL := profile.AvatarURL
	if s.media != nil && avatarURL != "" {
		if url, err := s.media.URL(ctx, avatarURL); err == nil {
			avatarURL = url
		}
	}

	items := make([]map[string]any, 0, len(projects))
	for _, item := range projects {
		items = append(items, projectPayload(feed.Project{Project: item}))
	}
	return map[string]any{
		"id":          profile.ID,
		"handle":      profile.Handle,
		"displayName": profile.DisplayName,
		"avatarUrl":   avatarURL,
		"bio":         profile.Bio,
		"projects":    items,
	}, nil
}

// UpdateProfile edits the signed-in user's display name and bio.
func (s *Service) UpdateProfile(ctx context.Context, session Session, displayName, bio string) (map[string]any, error) {
	userID := s.ResolveIdentity(ctx, session)
	if userID == "" {
		return nil, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Sign in to edit your profile", nil)
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateUserProfile(ctx, userID, strings.TrimSpace(displayName), strings.TrimSpace(bio), user.AvatarURL); err != nil {
		return nil, err
	}
	s.indexUser(userID)
	return s.Profile(ctx, userID)
}

// UploadProjectImage stores a cover image and records its object key.
func (s *Service) UploadProjectImage(ctx context.Context, session Session, projectID, contentType string, body io.Reader, size int64) (map[string]any, error) {
	if s.media == nil {
		return nil, domainError(http.StatusServiceUnavailable, "MEDIA_UNAVAILABLE", "Image storage not configured", nil)
	}
	item, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if item.AuthorID != s.ResolveIdentity(ctx, session) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Only the author can change the image", nil)
	}

	key, err := s.media.UploadProjectImage(ctx, projectID, contentType, body, size)
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "UPLOAD_FAILED", err.Error(), nil)
	}
	item.ImageURL = key
	if err := s.store.UpdateProject(ctx, item); err != nil {
		return nil, err
	}

	url, err := s.media.URL(ctx, key)
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": projectID, "imageUrl": url}, nil
}

// UploadAvatar stores the signed-in user's avatar.
func (s *Service) UploadAvatar(ctx context.Context, session Session, contentType string, body io.Reader, size int64) (map[string]any, error) {
	if s.media == nil {
		return nil, domainError(http.StatusServiceUnavailable, "MEDIA_UNAVAILABLE", "Image storage not configured", nil)
	}
	userID := s.ResolveIdentity(ctx, session)
	if userID == "" {
		return nil, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Sign in to change your avatar", nil)
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	key, err := s.media.UploadAvatar(ctx, userID, contentType, body, size)
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "UPLOAD_FAILED", err.Error(), nil)
	}
	if err := s.store.UpdateUserProfile(ctx, userID, user.DisplayName, user.Bio, key); err != nil {
		return nil, err
	}

	url, err := s.media.URL(ctx, key)
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": userID, "avatarUrl": url}, nil
}

// Search runs a full-text search across projects and profiles.
func (s *Service) Search(q, filterType, filterTag string, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q}, nil
	}
	return s.search.Search(search.Query{
		Text:       q,
		FilterType: search.ResultType(filterType),
		FilterTag:  filterTag,
		Limit:      limit,
		Offset:     offset,
	}), nil
}

// CodeHistory lists a project's snippet revisions, newest first.
func (s *Service) CodeHistory(ctx context.Context, projectID string, limit int) (map[string]any, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	history, err := s.snippets.History(projectID, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(history))
	for _, rev := range history {
		items = append(items, revisionPayload(rev))
	}
	return map[string]any{"projectId": projectID, "revisions": items}, nil
}

// CodeAt returns the snippet as of a given revision.
func (s *Service) CodeAt(ctx context.Context, projectID, hash string) (map[string]any, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	snip, err := s.snippets.AtRevision(projectID, hash)
	if err != nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Revision not found", nil)
	}
	return map[string]any{
		"projectId": projectID,
		"hash":      hash,
		"language":  snip.Language,
		"code":      snip.Code,
	}, nil
}

func (s *Service) indexProject(item store.Project) {
	if s.search == nil {
		return
	}
	s.search.IndexProject(search.ProjectRecord{
		ID:          item.ID,
		Title:       item.Title,
		Description: item.Description,
		Tags:        item.Tags,
		Language:    item.Language,
		AuthorID:    item.AuthorID,
	})
}

func (s *Service) indexUser(userID string) {
	if s.search == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	profile, err := s.store.GetPublicProfile(ctx, userID)
	if err != nil {
		return
	}
	s.search.IndexUser(search.UserRecord{
		ID:          profile.ID,
		Handle:      profile.Handle,
		DisplayName: profile.DisplayName,
		Bio:         profile.Bio,
	})
}

func feedPayload(snap feed.Snapshot) map[string]any {
	items := make([]map[string]any, 0, len(snap.Projects))
	for _, item := range snap.Projects {
		items = append(items, projectPayload(item))
	}
	return map[string]any{
		"status":   string(snap.Status),
		"error":    snap.Error,
		"projects": items,
		"filters": map[string]any{
			"tags":   nonNilStrings(snap.Filters.Tags),
			"search": snap.Filters.Search,
		},
		"pagination": map[string]any{
			"currentPage": snap.Pagination.CurrentPage,
			"pageSize":    snap.Pagination.PageSize,
			"totalItems":  snap.Pagination.TotalItems,
			"totalPages":  snap.Pagination.TotalPages(),
		},
	}
}

func projectPayload(item feed.Project) map[string]any {
	payload := map[string]any{
		"id":          item.ID,
		"title":       item.Title,
		"description": item.Description,
		"imageUrl":    item.ImageURL,
		"tags":        nonNilStrings(item.Tags),
		"language":    item.Language,
		"authorId":    item.AuthorID,
		"metrics":     metricsPayload(item.Metrics),
		"createdAt":   item.CreatedAt,
		"updatedAt":   item.UpdatedAt,
	}
	if item.Author != nil {
		payload["author"] = map[string]any{
			"id":        item.Author.ID,
			"handle":    item.Author.Handle,
			"avatarUrl": item.Author.AvatarURL,
		}
	}
	return payload
}

func metricsPayload(m store.ProjectMetrics) map[string]any {
	return map[string]any{
		"codeViews": m.CodeViews,
		"comments":  m.Comments,
		"shares":    m.Shares,
	}
}

func commentTreePayload(tree comments.Tree) map[string]any {
	roots := make([]map[string]any, 0, len(tree.Roots))
	for _, item := range tree.Roots {
		roots = append(roots, commentPayload(item))
	}
	replies := make(map[string][]map[string]any, len(tree.RepliesByParent))
	for parent, group := range tree.RepliesByParent {
		items := make([]map[string]any, 0, len(group))
		for _, item := range group {
			items = append(items, commentPayload(item))
		}
		replies[parent] = items
	}
	return map[string]any{
		"roots":           roots,
		"repliesByParent": replies,
		"total":           tree.Total(),
	}
}

func commentPayload(item store.Comment) map[string]any {
	payload := map[string]any{
		"id":        item.ID,
		"projectId": item.ProjectID,
		"authorId":  item.AuthorID,
		"text":      item.Text,
		"createdAt": item.CreatedAt,
	}
	if item.ParentID != nil {
		payload["parentId"] = *item.ParentID
	}
	return payload
}

func revisionPayload(rev snippets.Revision) map[string]any {
	return map[string]any{
		"hash":      rev.Hash,
		"message":   rev.Message,
		"author":    rev.Author,
		"createdAt": rev.CreatedAt,
	}
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	result := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		result = append(result, tag)
	}
	return result
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
