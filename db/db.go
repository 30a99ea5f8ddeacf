// Package db is the persistence layer: the append-only message log and the
// user table backing registration and login. Two backends implement Store,
// SQLite (default) and PostgreSQL.
package db

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"parlor/config"
	"parlor/models"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidUsername    = errors.New("invalid username")
	ErrInvalidPassword    = errors.New("invalid password")
)

// Store is implemented by every message store backend.
type Store interface {
	// Append validates and durably stores one message, returning its id.
	// Ids are strictly increasing in commit order.
	Append(ctx context.Context, sender, receiver, body string) (int64, error)
	// ListBroadcastAndInbox returns broadcast messages and messages addressed
	// to user, oldest first. Messages user sent to others are not included.
	ListBroadcastAndInbox(ctx context.Context, user string, limit int) ([]models.Entry, error)
	// ListConversation returns the messages exchanged between a and b, oldest first.
	ListConversation(ctx context.Context, a, b string, limit int) ([]models.Entry, error)

	CreateUser(ctx context.Context, username, password string) (*models.User, error)
	Authenticate(ctx context.Context, username, password string) (*models.User, error)
	GetUser(ctx context.Context, username string) (*models.User, error)
	Usernames(ctx context.Context) ([]string, error)
	SetAdmin(ctx context.Context, username string, admin bool) error

	Ping(ctx context.Context) error
	Close() error
}

// Open connects the backend selected by cfg.Driver. historyLimit bounds list
// queries that pass a non-positive limit.
func Open(ctx context.Context, cfg config.DatabaseConfig, historyLimit int) (Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		return NewSQLite(cfg.Path, historyLimit)
	case config.DriverPostgres:
		return NewPostgres(ctx, cfg.Postgres, historyLimit)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

var validUsername = regexp.MustCompile(`^[\p{L}\p{N}_.@-]{1,32}$`)

// bcrypt ignores everything past 72 bytes
const maxPasswordLen = 72

// ValidateCredentials checks the shape of registration credentials. The
// broadcast sentinel can never be a username.
func ValidateCredentials(username, password string) error {
	if !validUsername.MatchString(username) {
		return fmt.Errorf("%w: use 1-32 letters, digits or _ . @ -", ErrInvalidUsername)
	}
	if username == models.Broadcast {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidUsername, models.Broadcast)
	}
	if len(password) == 0 {
		return fmt.Errorf("%w: empty password", ErrInvalidPassword)
	}
	if len(password) > maxPasswordLen {
		return fmt.Errorf("%w: must be %d bytes or less", ErrInvalidPassword, maxPasswordLen)
	}
	return nil
}

func resolveLimit(limit, fallback int) int {
	if limit > 0 {
		return limit
	}
	return fallback
}
