package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"parlor/chat"
	"parlor/protocol"
)

const (
	// Maximum frame size accepted from a client.
	maxFrameSize = 16 << 10
	// Queued outbound frames per connection.
	outboxSize = 64
)

var errConnClosed = errors.New("connection closed")

// wsConn is one WebSocket push channel. All writes happen on writePump.
type wsConn struct {
	id           uuid.UUID
	conn         *websocket.Conn
	send         chan []byte
	closed       chan struct{}
	closeOnce    sync.Once
	closeReason  string
	writeTimeout time.Duration
	pingPeriod   time.Duration
	logger       *slog.Logger
}

func newWSConn(conn *websocket.Conn, writeTimeout, pongWait time.Duration, logger *slog.Logger) *wsConn {
	return &wsConn{
		id:           uuid.New(),
		conn:         conn,
		send:         make(chan []byte, outboxSize),
		closed:       make(chan struct{}),
		writeTimeout: writeTimeout,
		pingPeriod:   (pongWait * 9) / 10,
		logger:       logger,
	}
}

func (c *wsConn) ID() uuid.UUID { return c.id }

func (c *wsConn) Push(ctx context.Context, ev protocol.MessageEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, data)
}

func (c *wsConn) pushError(msg string) {
	data, err := json.Marshal(protocol.NewErrorEvent(msg))
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
	defer cancel()
	if err := c.enqueue(ctx, data); err != nil {
		c.logger.Debug("error event dropped", "error", err)
	}
}

func (c *wsConn) enqueue(ctx context.Context, data []byte) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.closed:
		return errConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the connection after flushing queued frames. reason goes out
// in the close frame.
func (c *wsConn) Close(reason string) {
	c.closeOnce.Do(func() {
		c.closeReason = reason
		close(c.closed)
	})
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			if err := c.write(data); err != nil {
				c.Close("")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close("")
				return
			}
		case <-c.closed:
			c.flush()
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, c.closeReason)
			if c.closeReason == "" {
				msg = websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			}
			c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
			return
		}
	}
}

func (c *wsConn) write(data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// flush writes whatever is still queued, best effort.
func (c *wsConn) flush() {
	for {
		select {
		case data := <-c.send:
			if err := c.write(data); err != nil {
				return
			}
		default:
			return
		}
	}
}

// handleWebSocket upgrades an authenticated request and reads send requests
// until the client goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	pongWait := s.cfg.Server.ReadTimeout
	c := newWSConn(ws, s.cfg.Server.WriteTimeout, pongWait, s.logger.With("conn", "ws", "user", sess.Username))
	go c.writePump()

	s.addClient(c)
	s.registry.Register(sess.Username, c)
	c.logger.Info("websocket connected", "remote", r.RemoteAddr)

	defer func() {
		s.registry.Unregister(c)
		s.removeClient(c)
		c.Close("")
		c.logger.Info("websocket disconnected")
	}()

	ws.SetReadLimit(maxFrameSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	sender := chat.Sender{Username: sess.Username, IsAdmin: sess.IsAdmin}
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(pongWait))

		req, err := protocol.DecodeSendRequest(data)
		if err != nil {
			c.pushError(err.Error())
			continue
		}
		if _, err := s.router.Send(r.Context(), sender, req.Receiver, req.Body); err != nil {
			c.pushError(sendErrorMessage(err))
		}
	}
}

// sendErrorMessage is the client-facing text for a failed send.
func sendErrorMessage(err error) string {
	var perr *chat.PersistenceError
	if errors.As(err, &perr) {
		return "message could not be stored"
	}
	return err.Error()
}
