package models

import (
	"errors"
	"strings"
	"time"
)

// Broadcast is the receiver sentinel for messages addressed to everyone.
const Broadcast = "all"

// ErrEmptyBody is returned when a message body is empty after trimming.
var ErrEmptyBody = errors.New("message body is empty")

type User struct {
	ID           int64
	Username     string
	PasswordHash string
	IsAdmin      bool
}

// Message is one row of the append-only message log.
type Message struct {
	ID        int64
	Sender    string
	Receiver  string // Broadcast or a username
	Body      string
	CreatedAt time.Time
}

// Entry is the (sender, body) pair returned by history queries.
type Entry struct {
	Sender string `json:"sender"`
	Body   string `json:"body"`
}

// ValidateBody rejects bodies that contain only whitespace.
func ValidateBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return ErrEmptyBody
	}
	return nil
}

// NormalizeReceiver maps an empty receiver to Broadcast.
func NormalizeReceiver(receiver string) string {
	receiver = strings.TrimSpace(receiver)
	if receiver == "" {
		return Broadcast
	}
	return receiver
}
