package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrVersionConflict is returned by UpdateNoteContent when the supplied base
// version no longer matches the stored row. The caller fetches the remote
// copy and surfaces it to the editor's conflict handling.
var ErrVersionConflict = errors.New("note version conflict")

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
		INSERT INTO users (id, display_name, email, password_hash, role, is_email_verified, verification_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.Role, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, is_email_verified
		FROM users
		WHERE email = $1 AND deactivated_at IS NULL
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, role, is_email_verified
		FROM users
		WHERE id = $1 AND deactivated_at IS NULL
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, email, role, is_email_verified, created_at
		FROM users
		WHERE deactivated_at IS NULL
		ORDER BY display_name
	`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		var item User
		if err := rows.Scan(&item.ID, &item.DisplayName, &item.Email, &item.Role, &item.IsEmailVerified, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) SetUserRole(ctx context.Context, userID, role string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET role=$2, updated_at=NOW() WHERE id=$1`, userID, role)
	if err != nil {
		return fmt.Errorf("set user role: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW() WHERE id=$1
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
		return errors.New("invalid or expired verification token")
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

// ---- refresh sessions (PostgreSQL fallback when Redis is not configured) ----

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
		SELECT u.id, u.display_name, u.role
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Role)
	if err != nil {
		return User{}, err
	}
	if user.Role == "" {
		user.Role = "member"
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

// ---- families ----

func (s *PostgresStore) InsertFamily(ctx context.Context, item Family) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO families (id, name, guardian_user_id, guardian_name)
		VALUES ($1, $2, $3, $4)
	`, item.ID, item.Name, item.GuardianUserID, item.GuardianName)
	if err != nil {
		return fmt.Errorf("insert family: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetFamily(ctx context.Context, familyID string) (Family, error) {
	var item Family
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, guardian_user_id, guardian_name, created_at, updated_at
		FROM families WHERE id=$1
	`, familyID).Scan(&item.ID, &item.Name, &item.GuardianUserID, &item.GuardianName, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Family{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListFamilies(ctx context.Context) ([]Family, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, guardian_user_id, guardian_name, created_at, updated_at
		FROM families ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list families: %w", err)
	}
	defer rows.Close()

	items := make([]Family, 0)
	for rows.Next() {
		var item Family
		if err := rows.Scan(&item.ID, &item.Name, &item.GuardianUserID, &item.GuardianName, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan family: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate families: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertFamilyMember(ctx context.Context, item FamilyMember) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO family_members (id, family_id, full_name, relationship, notes)
		VALUES ($1, $2, $3, $4, $5)
	`, item.ID, item.FamilyID, item.FullName, item.Relationship, item.Notes)
	if err != nil {
		return fmt.Errorf("insert family member: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListFamilyMembers(ctx context.Context, familyID string) ([]FamilyMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, family_id, full_name, relationship, notes, created_at
		FROM family_members WHERE family_id=$1 ORDER BY full_name
	`, familyID)
	if err != nil {
		return nil, fmt.Errorf("list family members: %w", err)
	}
	defer rows.Close()

	items := make([]FamilyMember, 0)
	for rows.Next() {
		var item FamilyMember
		if err := rows.Scan(&item.ID, &item.FamilyID, &item.FullName, &item.Relationship, &item.Notes, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan family member: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate family members: %w", err)
	}
	return items, nil
}

// ---- notes ----

func (s *PostgresStore) InsertNote(ctx context.Context, item Note) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notes (id, family_id, title, content, version, author_id, author_name, updated_by_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, item.ID, item.FamilyID, item.Title, item.Content, item.Version, item.AuthorID, item.AuthorName)
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetNote(ctx context.Context, noteID string) (Note, error) {
	var item Note
	err := s.db.QueryRowContext(ctx, `
		SELECT id, family_id, title, content, version, author_id, author_name, updated_by_name, updated_at, created_at
		FROM notes WHERE id=$1
	`, noteID).Scan(&item.ID, &item.FamilyID, &item.Title, &item.Content, &item.Version,
		&item.AuthorID, &item.AuthorName, &item.UpdatedBy, &item.UpdatedAt, &item.CreatedAt)
	if err != nil {
		return Note{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListNotesByFamily(ctx context.Context, familyID string) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, family_id, title, version, author_id, author_name, updated_by_name, updated_at, created_at
		FROM notes WHERE family_id=$1 ORDER BY updated_at DESC
	`, familyID)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	items := make([]Note, 0)
	for rows.Next() {
		var item Note
		if err := rows.Scan(&item.ID, &item.FamilyID, &item.Title, &item.Version,
			&item.AuthorID, &item.AuthorName, &item.UpdatedBy, &item.UpdatedAt, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notes: %w", err)
	}
	return items, nil
}

// UpdateNoteContent persists serialized editor content on top of baseVersion
// using optimistic concurrency. When the base version is stale it returns
// ErrVersionConflict; the caller then reads the current row for the remote
// side of the conflict.
func (s *PostgresStore) UpdateNoteContent(ctx context.Context, noteID, content string, baseVersion int64, updatedBy string) (int64, error) {
	var newVersion int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE notes
		SET content=$3, version=version+1, updated_by_name=$4, updated_at=NOW()
		WHERE id=$1 AND version=$2
		RETURNING version
	`, noteID, baseVersion, content, updatedBy).Scan(&newVersion)
	if errors.Is(err, sql.ErrNoRows) {
		// Either the note is gone or the version moved. Distinguish the two.
		var exists bool
		if checkErr := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM notes WHERE id=$1)`, noteID).Scan(&exists); checkErr != nil {
			return 0, fmt.Errorf("check note: %w", checkErr)
		}
		if !exists {
			return 0, sql.ErrNoRows
		}
		return 0, ErrVersionConflict
	}
	if err != nil {
		return 0, fmt.Errorf("update note content: %w", err)
	}
	return newVersion, nil
}

func (s *PostgresStore) UpdateNoteTitle(ctx context.Context, noteID, title, updatedBy string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notes SET title=$2, updated_by_name=$3, updated_at=NOW() WHERE id=$1
	`, noteID, title, updatedBy)
	if err != nil {
		return fmt.Errorf("update note title: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteNote(ctx context.Context, noteID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id=$1`, noteID)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	return nil
}

// ---- forum ----

func (s *PostgresStore) InsertForumThread(ctx context.Context, item ForumThread) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO forum_threads (id, title, category, body, author_id, author_name)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.Title, item.Category, item.Body, item.AuthorID, item.AuthorName)
	if err != nil {
		return fmt.Errorf("insert forum thread: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetForumThread(ctx context.Context, threadID string) (ForumThread, error) {
	var item ForumThread
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, category, body, author_id, author_name, created_at
		FROM forum_threads WHERE id=$1
	`, threadID).Scan(&item.ID, &item.Title, &item.Category, &item.Body, &item.AuthorID, &item.AuthorName, &item.CreatedAt)
	if err != nil {
		return ForumThread{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListForumThreads(ctx context.Context, category string) ([]ForumThread, error) {
	query := `
		SELECT id, title, category, body, author_id, author_name, created_at
		FROM forum_threads
	`
	args := []any{}
	if category != "" {
		query += ` WHERE category=$1`
		args = append(args, category)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list forum threads: %w", err)
	}
	defer rows.Close()

	items := make([]ForumThread, 0)
	for rows.Next() {
		var item ForumThread
		if err := rows.Scan(&item.ID, &item.Title, &item.Category, &item.Body, &item.AuthorID, &item.AuthorName, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan forum thread: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate forum threads: %w", err)
	}
	return items, nil
}

// DeleteForumThread removes a thread; replies go with it via ON DELETE CASCADE.
func (s *PostgresStore) DeleteForumThread(ctx context.Context, threadID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM forum_threads WHERE id=$1`, threadID)
	if err != nil {
		return fmt.Errorf("delete forum thread: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertForumReply(ctx context.Context, item ForumReply) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO forum_replies (id, thread_id, body, author_id, author_name)
		VALUES ($1, $2, $3, $4, $5)
	`, item.ID, item.ThreadID, item.Body, item.AuthorID, item.AuthorName)
	if err != nil {
		return fmt.Errorf("insert forum reply: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListForumReplies(ctx context.Context, threadID string) ([]ForumReply, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, body, author_id, author_name, created_at
		FROM forum_replies WHERE thread_id=$1 ORDER BY created_at
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list forum replies: %w", err)
	}
	defer rows.Close()

	items := make([]ForumReply, 0)
	for rows.Next() {
		var item ForumReply
		if err := rows.Scan(&item.ID, &item.ThreadID, &item.Body, &item.AuthorID, &item.AuthorName, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan forum reply: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate forum replies: %w", err)
	}
	return items, nil
}

// ---- resources ----

func (s *PostgresStore) InsertResource(ctx context.Context, item Resource) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resources (id, title, category, content, updated_by_name)
		VALUES ($1, $2, $3, $4, $5)
	`, item.ID, item.Title, item.Category, item.Content, item.UpdatedBy)
	if err != nil {
		return fmt.Errorf("insert resource: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetResource(ctx context.Context, resourceID string) (Resource, error) {
	var item Resource
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, category, content, updated_by_name, updated_at, created_at
		FROM resources WHERE id=$1
	`, resourceID).Scan(&item.ID, &item.Title, &item.Category, &item.Content, &item.UpdatedBy, &item.UpdatedAt, &item.CreatedAt)
	if err != nil {
		return Resource{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListResources(ctx context.Context, category string) ([]Resource, error) {
	query := `
		SELECT id, title, category, content, updated_by_name, updated_at, created_at
		FROM resources
	`
	args := []any{}
	if category != "" {
		query += ` WHERE category=$1`
		args = append(args, category)
	}
	query += ` ORDER BY title`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	defer rows.Close()

	items := make([]Resource, 0)
	for rows.Next() {
		var item Resource
		if err := rows.Scan(&item.ID, &item.Title, &item.Category, &item.Content, &item.UpdatedBy, &item.UpdatedAt, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan resource: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resources: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateResource(ctx context.Context, resourceID, title, category, content, updatedBy string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE resources
		SET title=$2, category=$3, content=$4, updated_by_name=$5, updated_at=NOW()
		WHERE id=$1
	`, resourceID, title, category, content, updatedBy)
	if err != nil {
		return fmt.Errorf("update resource: %w", err)
	}
	return nil
}

// ---- attachments ----

func (s *PostgresStore) InsertAttachment(ctx context.Context, item Attachment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attachments (id, note_id, filename, object_key, content_type, size, uploaded_by_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.NoteID, item.Filename, item.ObjectKey, item.ContentType, item.Size, item.UploadedBy)
	if err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListNoteAttachments(ctx context.Context, noteID string) ([]Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, note_id, filename, object_key, content_type, size, uploaded_by_name, created_at
		FROM attachments WHERE note_id=$1 ORDER BY created_at
	`, noteID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	items := make([]Attachment, 0)
	for rows.Next() {
		var item Attachment
		if err := rows.Scan(&item.ID, &item.NoteID, &item.Filename, &item.ObjectKey, &item.ContentType, &item.Size, &item.UploadedBy, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments: %w", err)
	}
	return items, nil
}

// ---- dashboard ----

// SummaryCounts returns the totals shown on the admin dashboard.
func (s *PostgresStore) SummaryCounts(ctx context.Context) (families, notes, threads int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM families),
			(SELECT COUNT(*) FROM notes),
			(SELECT COUNT(*) FROM forum_threads)
	`).Scan(&families, &notes, &threads)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("summary counts: %w", err)
	}
	return families, notes, threads, nil
}
