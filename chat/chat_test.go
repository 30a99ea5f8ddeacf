package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"parlor/protocol"
)

// fakeConn records pushes. A non-nil err fails every push; block makes
// pushes wait for ctx.
type fakeConn struct {
	id    uuid.UUID
	err   error
	block bool

	mu     sync.Mutex
	events []protocol.MessageEvent
}

func newFakeConn() *fakeConn {
	return &fakeConn{id: uuid.New()}
}

func (c *fakeConn) ID() uuid.UUID { return c.id }

func (c *fakeConn) Push(ctx context.Context, ev protocol.MessageEvent) error {
	if c.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if c.err != nil {
		return c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *fakeConn) received() []protocol.MessageEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.MessageEvent(nil), c.events...)
}

type appended struct {
	sender, receiver, body string
}

// memStore is an in-memory Appender.
type memStore struct {
	mu     sync.Mutex
	err    error
	nextID int64
	rows   []appended
}

func (s *memStore) Append(_ context.Context, sender, receiver, body string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	s.nextID++
	s.rows = append(s.rows, appended{sender, receiver, body})
	return s.nextID, nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

var errStoreDown = errors.New("store down")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
