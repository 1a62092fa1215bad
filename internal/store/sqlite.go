package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3" // SQLite driver
)

// ErrDuplicate is returned when a unique column (username, email, api_token)
// already holds the value being written.
var ErrDuplicate = errors.New("duplicate value")

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", withDefaultParams(dataSourceName))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err = store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// withDefaultParams turns on foreign keys (for the message cascade) and a
// busy timeout unless the DSN already sets its own parameters.
func withDefaultParams(dsn string) string {
	if strings.Contains(dsn, "?") {
		return dsn
	}
	return dsn + "?_foreign_keys=on&_busy_timeout=5000"
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping is used by the health endpoint.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        username TEXT UNIQUE NOT NULL,
        email TEXT UNIQUE NOT NULL,
        password_hash TEXT NOT NULL,
        api_token TEXT UNIQUE,
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS messages (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        user_id INTEGER NOT NULL,
        role TEXT NOT NULL,
        content TEXT NOT NULL,
        problem_slug TEXT,
        problem_id TEXT,
        problem_url TEXT,
        code_context TEXT,
        model_used TEXT,
        embedding_id TEXT,
        created_at DATETIME NOT NULL,
        FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE
    );

    CREATE INDEX IF NOT EXISTS idx_messages_user_created ON messages (user_id, created_at);
    CREATE INDEX IF NOT EXISTS idx_messages_problem_slug ON messages (problem_slug);
    `
	_, err := s.db.Exec(schema)
	return err
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

// User methods

const userColumns = "id, username, email, password_hash, api_token, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var user User
	var token sql.NullString
	if err := row.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &token, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return nil, err
	}
	user.APIToken = ptrFromNull(token)
	return &user, nil
}

func (s *SQLiteStore) getUser(ctx context.Context, where string, args ...any) (*User, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE "+where, args...)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // User not found
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, username, email, passwordHash string, apiToken *string) (*User, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO users (username, email, password_hash, api_token, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		username, email, passwordHash, nullableString(apiToken), now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read user id: %w", err)
	}
	user, err := s.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %d vanished after insert", id)
	}
	return user, nil
}

// UserExists reports whether the username or the email is already taken.
func (s *SQLiteStore) UserExists(ctx context.Context, username, email string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM users WHERE username = ? OR email = ?", username, email).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check user existence: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*User, error) {
	return s.getUser(ctx, "id = ?", id)
}

// GetUserByLogin matches the identifier against username or email.
func (s *SQLiteStore) GetUserByLogin(ctx context.Context, identifier string) (*User, error) {
	return s.getUser(ctx, "username = ? OR email = ? ORDER BY id LIMIT 1", identifier, strings.ToLower(identifier))
}

// GetUserByAPIToken compares the stored token byte for byte.
func (s *SQLiteStore) GetUserByAPIToken(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, nil
	}
	return s.getUser(ctx, "api_token = ?", token)
}

// SetAPITokenIfEmpty stores token only when the user has none yet and
// reports whether it was written. Concurrent issuers therefore agree on a
// single token.
func (s *SQLiteStore) SetAPITokenIfEmpty(ctx context.Context, userID int64, token string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET api_token = ?, updated_at = ? WHERE id = ? AND (api_token IS NULL OR api_token = '')",
		token, s.now(), userID)
	if err != nil {
		if isUniqueViolation(err) {
			return false, ErrDuplicate
		}
		return false, fmt.Errorf("failed to set api token: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// SetAPIToken overwrites the user's token, invalidating the previous one.
func (s *SQLiteStore) SetAPIToken(ctx context.Context, userID int64, token string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE users SET api_token = ?, updated_at = ? WHERE id = ?", token, s.now(), userID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to set api token: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("user %d not found, token not updated", userID)
	}
	return nil
}

// Message methods

const messageColumns = "id, user_id, role, content, problem_slug, problem_id, problem_url, code_context, model_used, embedding_id, created_at"

func scanMessage(row rowScanner) (*Message, error) {
	var msg Message
	var slug, problemID, problemURL, code, model, embeddingID sql.NullString
	if err := row.Scan(&msg.ID, &msg.UserID, &msg.Role, &msg.Content, &slug, &problemID, &problemURL, &code, &model, &embeddingID, &msg.CreatedAt); err != nil {
		return nil, err
	}
	msg.ProblemSlug = ptrFromNull(slug)
	msg.ProblemID = ptrFromNull(problemID)
	msg.ProblemURL = ptrFromNull(problemURL)
	msg.CodeContext = ptrFromNull(code)
	msg.ModelUsed = ptrFromNull(model)
	msg.EmbeddingID = ptrFromNull(embeddingID)
	return &msg, nil
}

// CreateMessage inserts msg and fills in its ID and CreatedAt.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *Message) error {
	msg.CreatedAt = s.now()

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (user_id, role, content, problem_slug, problem_id, problem_url, code_context, model_used, embedding_id, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		msg.UserID, msg.Role, msg.Content,
		nullableString(msg.ProblemSlug), nullableString(msg.ProblemID), nullableString(msg.ProblemURL),
		nullableString(msg.CodeContext), nullableString(msg.ModelUsed), nullableString(msg.EmbeddingID),
		msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to execute message insert: %w", err)
	}
	msg.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read message id: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetMessageEmbeddingID(ctx context.Context, messageID int64, embeddingID string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE messages SET embedding_id = ? WHERE id = ?", embeddingID, messageID)
	if err != nil {
		return fmt.Errorf("failed to execute embedding id update: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("message %d not found, embedding id not updated", messageID)
	}
	return nil
}

func (s *SQLiteStore) GetMessageByID(ctx context.Context, id int64) (*Message, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+messageColumns+" FROM messages WHERE id = ?", id)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

func filterClause(f MessageFilter) (string, []any) {
	where := "user_id = ?"
	args := []any{f.UserID}
	if f.ProblemSlug != "" {
		where += " AND problem_slug = ?"
		args = append(args, f.ProblemSlug)
	}
	return where, args
}

// ListMessages returns newest first; id breaks ties between equal timestamps.
func (s *SQLiteStore) ListMessages(ctx context.Context, f MessageFilter, limit, offset int) ([]Message, error) {
	where, args := filterClause(f)
	query := "SELECT " + messageColumns + " FROM messages WHERE " + where + " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

func (s *SQLiteStore) CountMessages(ctx context.Context, f MessageFilter) (int, error) {
	where, args := filterClause(f)
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM messages WHERE "+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

// ListUnembeddedMessages pages through messages of the given role that have
// no embedding id, in ascending id order starting after afterID.
func (s *SQLiteStore) ListUnembeddedMessages(ctx context.Context, role string, afterID int64, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE role = ? AND (embedding_id IS NULL OR embedding_id = '') AND id > ? ORDER BY id ASC LIMIT ?",
		role, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unembedded messages: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

func collectMessages(rows *sql.Rows) ([]Message, error) {
	messages := []Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	return messages, nil
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func ptrFromNull(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
