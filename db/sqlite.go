package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"

	"parlor/models"
)

// DefaultHistoryLimit bounds list queries when no limit is configured.
const DefaultHistoryLimit = 200

var _ Store = (*SQLite)(nil)

// SQLite is the default Store, a single database file in WAL mode.
type SQLite struct {
	conn         *sql.DB
	historyLimit int

	// sqlite allows one writer at a time; serializing appends here keeps id
	// order equal to commit order without leaning on busy retries
	writeMu sync.Mutex
}

func NewSQLite(path string, historyLimit int) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db := &SQLite{conn: conn, historyLimit: resolveLimit(historyLimit, DefaultHistoryLimit)}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return db, nil
}

func (db *SQLite) Close() error {
	return db.conn.Close()
}

func (db *SQLite) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *SQLite) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			is_admin INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sender TEXT NOT NULL,
			receiver TEXT NOT NULL,
			body TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_receiver ON messages(receiver, id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender, receiver, id)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

// Message methods

func (db *SQLite) Append(ctx context.Context, sender, receiver, body string) (int64, error) {
	if err := models.ValidateBody(body); err != nil {
		return 0, err
	}
	if sender == "" {
		return 0, errors.New("append: sender required")
	}
	receiver = models.NormalizeReceiver(receiver)

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		"INSERT INTO messages (sender, receiver, body, created_at) VALUES (?, ?, ?, ?)",
		sender, receiver, body, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("message id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit append: %w", err)
	}
	return id, nil
}

func (db *SQLite) ListBroadcastAndInbox(ctx context.Context, user string, limit int) ([]models.Entry, error) {
	query := `
		SELECT sender, body FROM (
			SELECT id, sender, body FROM messages
			WHERE receiver = ? OR receiver = ?
			ORDER BY id DESC
			LIMIT ?
		) AS recent
		ORDER BY id ASC
	`
	return db.queryEntries(ctx, query, models.Broadcast, user, resolveLimit(limit, db.historyLimit))
}

func (db *SQLite) ListConversation(ctx context.Context, a, b string, limit int) ([]models.Entry, error) {
	query := `
		SELECT sender, body FROM (
			SELECT id, sender, body FROM messages
			WHERE (sender = ? AND receiver = ?) OR (sender = ? AND receiver = ?)
			ORDER BY id DESC
			LIMIT ?
		) AS recent
		ORDER BY id ASC
	`
	return db.queryEntries(ctx, query, a, b, b, a, resolveLimit(limit, db.historyLimit))
}

func (db *SQLite) queryEntries(ctx context.Context, query string, args ...any) ([]models.Entry, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	entries := []models.Entry{}
	for rows.Next() {
		var e models.Entry
		if err := rows.Scan(&e.Sender, &e.Body); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// User methods

func (db *SQLite) CreateUser(ctx context.Context, username, password string) (*models.User, error) {
	if err := ValidateCredentials(username, password); err != nil {
		return nil, err
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	result, err := db.conn.ExecContext(ctx,
		"INSERT INTO users (username, password_hash) VALUES (?, ?)",
		username, string(hashed),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("user id: %w", err)
	}
	return &models.User{ID: id, Username: username, PasswordHash: string(hashed)}, nil
}

func (db *SQLite) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	user, err := db.GetUser(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

func (db *SQLite) GetUser(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	err := db.conn.QueryRowContext(ctx,
		"SELECT id, username, password_hash, is_admin FROM users WHERE username = ?",
		username,
	).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.IsAdmin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

func (db *SQLite) Usernames(ctx context.Context) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT username FROM users ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query usernames: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan username: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (db *SQLite) SetAdmin(ctx context.Context, username string, admin bool) error {
	result, err := db.conn.ExecContext(ctx, "UPDATE users SET is_admin = ? WHERE username = ?", admin, username)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
