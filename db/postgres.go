package db

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"parlor/config"
	"parlor/models"
)

// appendLockKey is the advisory lock taken by every append transaction.
const appendLockKey = 0x7061726c6f72 // "parlor"

const pgUniqueViolation = "23505"

var _ Store = (*Postgres)(nil)

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	pool         *pgxpool.Pool
	historyLimit int
}

// NewPostgres connects, pings and creates the schema.
func NewPostgres(ctx context.Context, cfg config.PostgresConfig, historyLimit int) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(postgresURL(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db := &Postgres{pool: pool, historyLimit: resolveLimit(historyLimit, DefaultHistoryLimit)}
	if err := db.init(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return db, nil
}

// postgresURL turns the connection settings into a libpq URL. ssl_mode is
// already defaulted by config, an empty one leaves pgx's own default.
func postgresURL(cfg config.PostgresConfig) string {
	query := url.Values{"application_name": {"parlor"}}
	if cfg.SSLMode != "" {
		query.Set("sslmode", cfg.SSLMode)
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Name,
		RawQuery: query.Encode(),
	}
	return u.String()
}

func (db *Postgres) Close() error {
	db.pool.Close()
	return nil
}

func (db *Postgres) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

func (db *Postgres) init(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			is_admin BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id BIGSERIAL PRIMARY KEY,
			sender TEXT NOT NULL,
			receiver TEXT NOT NULL,
			body TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_receiver ON messages(receiver, id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender, receiver, id)`,
	}

	for _, query := range queries {
		if _, err := db.pool.Exec(ctx, query); err != nil {
			return err
		}
	}
	return nil
}

func (db *Postgres) Append(ctx context.Context, sender, receiver, body string) (int64, error) {
	if err := models.ValidateBody(body); err != nil {
		return 0, err
	}
	if sender == "" {
		return 0, errors.New("append: sender required")
	}
	receiver = models.NormalizeReceiver(receiver)

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback(ctx)

	// sequences hand out ids before commit; holding the lock until commit
	// keeps concurrent appends from becoming visible out of id order
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", int64(appendLockKey)); err != nil {
		return 0, fmt.Errorf("lock append: %w", err)
	}

	var id int64
	err = tx.QueryRow(ctx,
		"INSERT INTO messages (sender, receiver, body) VALUES ($1, $2, $3) RETURNING id",
		sender, receiver, body,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit append: %w", err)
	}
	return id, nil
}

func (db *Postgres) ListBroadcastAndInbox(ctx context.Context, user string, limit int) ([]models.Entry, error) {
	query := `
		SELECT sender, body FROM (
			SELECT id, sender, body FROM messages
			WHERE receiver = $1 OR receiver = $2
			ORDER BY id DESC
			LIMIT $3
		) AS recent
		ORDER BY id ASC
	`
	return db.queryEntries(ctx, query, models.Broadcast, user, resolveLimit(limit, db.historyLimit))
}

func (db *Postgres) ListConversation(ctx context.Context, a, b string, limit int) ([]models.Entry, error) {
	query := `
		SELECT sender, body FROM (
			SELECT id, sender, body FROM messages
			WHERE (sender = $1 AND receiver = $2) OR (sender = $2 AND receiver = $1)
			ORDER BY id DESC
			LIMIT $3
		) AS recent
		ORDER BY id ASC
	`
	return db.queryEntries(ctx, query, a, b, resolveLimit(limit, db.historyLimit))
}

func (db *Postgres) queryEntries(ctx context.Context, query string, args ...any) ([]models.Entry, error) {
	rows, err := db.pool.Query(ctx, query, args...)
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

func (db *Postgres) CreateUser(ctx context.Context, username, password string) (*models.User, error) {
	if err := ValidateCredentials(username, password); err != nil {
		return nil, err
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := models.User{Username: username, PasswordHash: string(hashed)}
	err = db.pool.QueryRow(ctx,
		"INSERT INTO users (username, password_hash) VALUES ($1, $2) RETURNING id",
		username, user.PasswordHash,
	).Scan(&user.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return &user, nil
}

func (db *Postgres) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
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

func (db *Postgres) GetUser(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	err := db.pool.QueryRow(ctx,
		"SELECT id, username, password_hash, is_admin FROM users WHERE username = $1",
		username,
	).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.IsAdmin)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

func (db *Postgres) Usernames(ctx context.Context) ([]string, error) {
	rows, err := db.pool.Query(ctx, "SELECT username FROM users ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query usernames: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan usernames: %w", err)
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

func (db *Postgres) SetAdmin(ctx context.Context, username string, admin bool) error {
	tag, err := db.pool.Exec(ctx, "UPDATE users SET is_admin = $1 WHERE username = $2", admin, username)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
