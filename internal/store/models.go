package store

import "time"

type User struct {
	ID                    string
	Handle                string
	DisplayName           string
	Email                 string
	PasswordHash          string
	AvatarURL             string
	Bio                   string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// PublicProfile is the read-only projection of a user shown on profile pages.
type PublicProfile struct {
	ID          string
	Handle      string
	DisplayName string
	AvatarURL   string
	Bio         string
}

// AuthorCard is the minimal author record joined onto feed rows and comments.
type AuthorCard struct {
	ID        string
	Handle    string
	AvatarURL string
}

type ProjectMetrics struct {
	CodeViews int
	Comments  int
	Shares    int
}

type Project struct {
	ID          string
	Title       string
	Description string
	ImageURL    string
	Tags        []string
	Code        string
	Language    string
	AuthorID    string
	Metrics     ProjectMetrics
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Comment struct {
	ID        string
	ProjectID string
	AuthorID  string
	Text      string
	ParentID  *string
	CreatedAt time.Time
}

// ProjectFilter is the predicate set shared by the feed page, cursor and
// count queries. Tags match with any-of semantics; TitlePrefix is matched
// case-insensitively as an inclusive-exclusive range on the title.
type ProjectFilter struct {
	Tags        []string
	TitlePrefix string
}

// ProjectCursor marks the last row of a previous page. Pages are ordered by
// lower(title), id, so the pair identifies a unique position.
type ProjectCursor struct {
	Title string
	ID    string
}
