package chat

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"parlor/models"
	"parlor/protocol"
)

const (
	DefaultPushTimeout = 5 * time.Second
	DefaultConcurrency = 32
)

// Appender is the part of the message store the router writes to.
type Appender interface {
	Append(ctx context.Context, sender, receiver, body string) (int64, error)
}

// Sender is the authenticated author of a message.
type Sender struct {
	Username string
	IsAdmin  bool
}

// DeliveryResult reports a persisted message and how its fan-out went.
type DeliveryResult struct {
	MessageID  int64 `json:"messageId"`
	Recipients int   `json:"recipients"`
	Delivered  int   `json:"delivered"`
	Failed     int   `json:"failed"`
}

type Options struct {
	// PushTimeout bounds each push to a single connection.
	PushTimeout time.Duration
	// Concurrency bounds pushes in flight for one send.
	Concurrency int
}

// Router persists messages and pushes them to live connections.
type Router struct {
	store    Appender
	registry *Registry
	opts     Options
	logger   *slog.Logger
}

func NewRouter(store Appender, registry *Registry, opts Options, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.PushTimeout <= 0 {
		opts.PushTimeout = DefaultPushTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Router{
		store:    store,
		registry: registry,
		opts:     opts,
		logger:   logger,
	}
}

// Send validates, persists and fans out one message. It fails only before
// anything was pushed: with models.ErrEmptyBody, or a *PersistenceError.
// Push failures are logged and counted in the result.
func (r *Router) Send(ctx context.Context, from Sender, receiver, body string) (DeliveryResult, error) {
	if err := models.ValidateBody(body); err != nil {
		return DeliveryResult{}, err
	}
	receiver = models.NormalizeReceiver(receiver)

	id, err := r.store.Append(ctx, from.Username, receiver, body)
	if err != nil {
		return DeliveryResult{}, &PersistenceError{Err: err}
	}

	audience := r.audience(receiver)
	ev := protocol.NewMessageEvent(from.Username, receiver, body, from.IsAdmin)
	delivered, failed := r.fanOut(ctx, audience, ev)

	r.logger.Debug("message delivered",
		"id", id,
		"sender", from.Username,
		"receiver", receiver,
		"recipients", len(audience),
		"delivered", delivered,
		"failed", failed,
	)

	return DeliveryResult{
		MessageID:  id,
		Recipients: len(audience),
		Delivered:  delivered,
		Failed:     failed,
	}, nil
}

// audience is every connected user for a broadcast, otherwise the receiver
// alone. The sender of a direct message gets no echo.
func (r *Router) audience(receiver string) []string {
	if receiver == models.Broadcast {
		return r.registry.Users()
	}
	return []string{receiver}
}

func (r *Router) fanOut(ctx context.Context, audience []string, ev protocol.MessageEvent) (int, int) {
	// the message is already stored, a caller going away must not stop delivery
	ctx = context.WithoutCancel(ctx)

	var delivered, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(r.opts.Concurrency)

	for _, user := range audience {
		for _, conn := range r.registry.ConnectionsFor(user) {
			g.Go(func() error {
				pushCtx, cancel := context.WithTimeout(ctx, r.opts.PushTimeout)
				defer cancel()

				if err := conn.Push(pushCtx, ev); err != nil {
					failed.Add(1)
					r.logger.Warn("push failed", "user", user, "conn", conn.ID(), "error", err)
					return nil
				}
				delivered.Add(1)
				return nil
			})
		}
	}
	g.Wait()

	return int(delivered.Load()), int(failed.Load())
}
