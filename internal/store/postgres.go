package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// maxAuthorBatch is the backend limit on identifier-membership lookups.
const maxAuthorBatch = 10

var ErrAuthorBatchTooLarge = errors.New("author batch exceeds 10 ids")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- users ----

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, handle, display_name, email, password_hash, avatar_url, bio, is_email_verified, verification_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, user.ID, user.Handle, user.DisplayName, user.Email, user.PasswordHash, user.AvatarURL, user.Bio, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return s.getUser(ctx, `WHERE id=$1`, userID)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.getUser(ctx, `WHERE LOWER(email)=LOWER($1)`, email)
}

func (s *PostgresStore) getUser(ctx context.Context, where string, arg any) (User, error) {
	query := `
		SELECT id, handle, display_name, email, password_hash, avatar_url, bio,
		       is_email_verified, created_at, updated_at
		FROM users ` + where
	var user User
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID,
		&user.Handle,
		&user.DisplayName,
		&user.Email,
		&user.PasswordHash,
		&user.AvatarURL,
		&user.Bio,
		&user.IsEmailVerified,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// FindUserIDByEmail resolves an authenticated identity to the users row it
// belongs to. Returns sql.ErrNoRows when no row matches; callers fall back
// to the identity provider's subject id.
func (s *PostgresStore) FindUserIDByEmail(ctx context.Context, email string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM users WHERE LOWER(email)=LOWER($1) LIMIT 1`, email).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *PostgresStore) GetPublicProfile(ctx context.Context, userID string) (PublicProfile, error) {
	var profile PublicProfile
	err := s.db.QueryRowContext(ctx, `
		SELECT id, handle, display_name, avatar_url, bio
		FROM users
		WHERE id=$1
	`, userID).Scan(&profile.ID, &profile.Handle, &profile.DisplayName, &profile.AvatarURL, &profile.Bio)
	if err != nil {
		return PublicProfile{}, err
	}
	return profile, nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW()
		WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token='', verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateUserProfile(ctx context.Context, userID, displayName, bio, avatarURL string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET display_name=$2, bio=$3, avatar_url=$4, updated_at=NOW()
		WHERE id=$1
	`, userID, displayName, bio, avatarURL)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update profile rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// ---- refresh sessions (Postgres fallback when Redis is not configured) ----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.handle, u.display_name, u.email
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.Handle, &user.DisplayName, &user.Email)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

// ---- projects ----

const projectColumns = `
	id, title, description, image_url, array_to_string(tags, ','), code, language,
	author_id, code_views, comment_count, share_count, created_at, updated_at
`

func scanProject(row interface{ Scan(...any) error }) (Project, error) {
	var item Project
	var tags string
	err := row.Scan(
		&item.ID,
		&item.Title,
		&item.Description,
		&item.ImageURL,
		&tags,
		&item.Code,
		&item.Language,
		&item.AuthorID,
		&item.Metrics.CodeViews,
		&item.Metrics.Comments,
		&item.Metrics.Shares,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return Project{}, err
	}
	if tags != "" {
		item.Tags = strings.Split(tags, ",")
	} else {
		item.Tags = []string{}
	}
	return item, nil
}

// filterClause renders the shared predicate set. The title range uses the
// prefix-sentinel trick: lower bound inclusive, upper bound is the prefix
// with U+F8FF appended, exclusive.
func filterClause(filter ProjectFilter, args []any) (string, []any) {
	var clauses []string
	if len(filter.Tags) > 0 {
		args = append(args, filter.Tags)
		clauses = append(clauses, fmt.Sprintf("tags && $%d::text[]", len(args)))
	}
	if filter.TitlePrefix != "" {
		prefix := strings.ToLower(filter.TitlePrefix)
		args = append(args, prefix)
		clauses = append(clauses, fmt.Sprintf("LOWER(title) >= $%d", len(args)))
		args = append(args, prefix+"")
		clauses = append(clauses, fmt.Sprintf("LOWER(title) < $%d", len(args)))
	}
	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func (s *PostgresStore) CountProjects(ctx context.Context, filter ProjectFilter) (int, error) {
	where, args := filterClause(filter, nil)
	var total int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects `+where, args...).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("count projects: %w", err)
	}
	return total, nil
}

// ProjectCursorAt returns the position of the skip-th row under the filter,
// discovered the way the backend paginates: read the first skip rows in page
// order and take the last one. Returns nil when fewer rows exist.
func (s *PostgresStore) ProjectCursorAt(ctx context.Context, filter ProjectFilter, skip int) (*ProjectCursor, error) {
	if skip <= 0 {
		return nil, nil
	}
	where, args := filterClause(filter, nil)
	args = append(args, skip)
	query := fmt.Sprintf(`
		SELECT title, id FROM projects %s
		ORDER BY LOWER(title) ASC, id ASC
		LIMIT $%d
	`, where, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("discover cursor: %w", err)
	}
	defer rows.Close()

	var cursor *ProjectCursor
	for rows.Next() {
		var c ProjectCursor
		if err := rows.Scan(&c.Title, &c.ID); err != nil {
			return nil, fmt.Errorf("scan cursor row: %w", err)
		}
		cursor = &c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cursor rows: %w", err)
	}
	return cursor, nil
}

// pageClause extends the filter predicate with the keyset cursor: rows
// strictly after (LOWER(title), id) in page order.
func pageClause(filter ProjectFilter, after *ProjectCursor) (string, []any) {
	where, args := filterClause(filter, nil)
	if after == nil {
		return where, args
	}
	args = append(args, strings.ToLower(after.Title))
	titleArg := len(args)
	args = append(args, after.ID)
	idArg := len(args)
	clause := fmt.Sprintf("(LOWER(title), id) > ($%d, $%d)", titleArg, idArg)
	if where == "" {
		return "WHERE " + clause, args
	}
	return where + " AND " + clause, args
}

// ListProjectsPage returns up to limit projects in page order, strictly
// after the cursor when one is given.
func (s *PostgresStore) ListProjectsPage(ctx context.Context, filter ProjectFilter, after *ProjectCursor, limit int) ([]Project, error) {
	where, args := pageClause(filter, after)
	args = append(args, limit)
	query := fmt.Sprintf(`
		SELECT %s FROM projects %s
		ORDER BY LOWER(title) ASC, id ASC
		LIMIT $%d
	`, projectColumns, where, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list projects page: %w", err)
	}
	defer rows.Close()

	items := make([]Project, 0, limit)
	for rows.Next() {
		item, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=$1`, projectID)
	return scanProject(row)
}

func (s *PostgresStore) InsertProject(ctx context.Context, item Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, title, description, image_url, tags, code, language, author_id, code_views, comment_count, share_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, item.ID, item.Title, item.Description, item.ImageURL, item.Tags, item.Code, item.Language,
		item.AuthorID, item.Metrics.CodeViews, item.Metrics.Comments, item.Metrics.Shares)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateProject(ctx context.Context, item Project) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE projects
		SET title=$2, description=$3, image_url=$4, tags=$5, code=$6, language=$7, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Title, item.Description, item.ImageURL, item.Tags, item.Code, item.Language)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListProjectsByAuthor(ctx context.Context, authorID string) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+projectColumns+` FROM projects
		WHERE author_id=$1
		ORDER BY LOWER(title) ASC, id ASC
	`, authorID)
	if err != nil {
		return nil, fmt.Errorf("list projects by author: %w", err)
	}
	defer rows.Close()

	items := make([]Project, 0)
	for rows.Next() {
		item, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate author projects: %w", err)
	}
	return items, nil
}

// UpdateProjectCommentMetric corrects the denormalized comment count.
func (s *PostgresStore) UpdateProjectCommentMetric(ctx context.Context, projectID string, count int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE projects SET comment_count=$2 WHERE id=$1`, projectID, count)
	if err != nil {
		return fmt.Errorf("update comment metric: %w", err)
	}
	return nil
}

func (s *PostgresStore) IncrementProjectShares(ctx context.Context, projectID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE projects SET share_count=share_count+1 WHERE id=$1`, projectID)
	if err != nil {
		return fmt.Errorf("increment shares: %w", err)
	}
	return nil
}

func (s *PostgresStore) IncrementProjectCodeViews(ctx context.Context, projectID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE projects SET code_views=code_views+1 WHERE id=$1`, projectID)
	if err != nil {
		return fmt.Errorf("increment code views: %w", err)
	}
	return nil
}

// ---- author lookup ----

// GetAuthorCards fetches the public display records for up to 10 author ids
// in one identifier-membership query. Missing ids are absent from the map.
func (s *PostgresStore) GetAuthorCards(ctx context.Context, ids []string) (map[string]AuthorCard, error) {
	result := make(map[string]AuthorCard, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	if len(ids) > maxAuthorBatch {
		return nil, ErrAuthorBatchTooLarge
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, handle, avatar_url FROM users WHERE id = ANY($1::text[])
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("lookup authors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var card AuthorCard
		if err := rows.Scan(&card.ID, &card.Handle, &card.AvatarURL); err != nil {
			return nil, fmt.Errorf("scan author card: %w", err)
		}
		result[card.ID] = card
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate author cards: %w", err)
	}
	return result, nil
}

// ---- comments ----

func (s *PostgresStore) ListProjectComments(ctx context.Context, projectID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, author_id, text, parent_id, created_at
		FROM comments
		WHERE project_id=$1
		ORDER BY created_at ASC, id ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		var item Comment
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.AuthorID, &item.Text, &item.ParentID, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

// InsertComment appends a comment; created_at is assigned by the database.
func (s *PostgresStore) InsertComment(ctx context.Context, item Comment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (id, project_id, author_id, text, parent_id)
		VALUES ($1, $2, $3, $4, $5)
	`, item.ID, item.ProjectID, item.AuthorID, item.Text, item.ParentID)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}
