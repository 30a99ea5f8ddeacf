package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"parlor/models"
	"parlor/protocol"
)

// lineConn is one line protocol client. Replies and pushes share the outbox
// so a client sees them in the order they were produced.
type lineConn struct {
	id           uuid.UUID
	conn         net.Conn
	outbox       chan string
	closed       chan struct{}
	closeOnce    sync.Once
	closeReason  string
	writeTimeout time.Duration
	logger       *slog.Logger

	// user is set by auth and only touched by the reading goroutine
	user *models.User
}

func newLineConn(conn net.Conn, writeTimeout time.Duration, logger *slog.Logger) *lineConn {
	id := uuid.New()
	return &lineConn{
		id:           id,
		conn:         conn,
		outbox:       make(chan string, outboxSize),
		closed:       make(chan struct{}),
		writeTimeout: writeTimeout,
		logger:       logger.With("conn", id, "remote", conn.RemoteAddr().String()),
	}
}

func (c *lineConn) ID() uuid.UUID { return c.id }

func (c *lineConn) Push(ctx context.Context, ev protocol.MessageEvent) error {
	return c.enqueue(ctx, protocol.FormatPush(ev))
}

// reply queues a response to the client's own command.
func (c *lineConn) reply(line string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
	defer cancel()
	if err := c.enqueue(ctx, line); err != nil {
		c.logger.Debug("reply dropped", "error", err)
	}
}

func (c *lineConn) enqueue(ctx context.Context, line string) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}

	select {
	case c.outbox <- line:
		return nil
	case <-c.closed:
		return errConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes queued lines, sends bye with reason when one is given and
// closes the socket.
func (c *lineConn) Close(reason string) {
	c.closeOnce.Do(func() {
		c.closeReason = reason
		close(c.closed)
	})
}

func (c *lineConn) writePump() {
	defer c.conn.Close()

	for {
		select {
		case line := <-c.outbox:
			if err := c.write(line); err != nil {
				c.Close("")
				return
			}
		case <-c.closed:
			c.flush()
			if c.closeReason != "" {
				c.write(protocol.FormatPacket(protocol.ReplyBye, c.closeReason))
			}
			return
		}
	}
}

func (c *lineConn) write(line string) error {
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	_, err := io.WriteString(c.conn, line)
	return err
}

func (c *lineConn) flush() {
	for {
		select {
		case line := <-c.outbox:
			if err := c.write(line); err != nil {
				return
			}
		default:
			return
		}
	}
}

var errLineTooLong = errors.New("line too long")

// readLine reads one newline-terminated line of at most the reader's buffer
// size. A longer line is consumed up to its newline and reported as
// errLineTooLong.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadSlice('\n')
	if !errors.Is(err, bufio.ErrBufferFull) {
		return string(line), err
	}
	for errors.Is(err, bufio.ErrBufferFull) {
		_, err = r.ReadSlice('\n')
	}
	if err != nil {
		return "", err
	}
	return "", errLineTooLong
}

func (s *Server) acceptLines(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("error accepting connection", "error", err)
			continue
		}

		go s.handleConnection(ctx, conn)
	}
}

// handleConnection serves one line protocol client until it says bye, goes
// quiet for longer than the read timeout, or disconnects.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	c := newLineConn(conn, s.cfg.Server.WriteTimeout, s.logger)
	go c.writePump()

	s.addClient(c)
	c.logger.Info("client connected")

	reason := ""
	defer func() {
		s.registry.Unregister(c)
		s.removeClient(c)
		c.Close(reason)
		if c.user != nil {
			c.logger.Info("client disconnected", "user", c.user.Username)
		} else {
			c.logger.Info("client disconnected")
		}
	}()

	reader := bufio.NewReaderSize(conn, maxFrameSize)
	for {
		conn.SetReadDeadline(time.Now().Add(s.cfg.Server.ReadTimeout))
		line, err := readLine(reader)
		if errors.Is(err, errLineTooLong) {
			c.logger.Warn("oversized line dropped")
			c.reply(protocol.Fail("", "Invalid packet format"))
			continue
		}
		if err != nil {
			var netErr net.Error
			switch {
			case errors.As(err, &netErr) && netErr.Timeout():
				reason = "timeout"
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
			default:
				c.logger.Warn("read failed", "error", err)
			}
			return
		}

		if strings.TrimSpace(line) == "" {
			continue
		}

		pkt, err := protocol.ParsePacket(line)
		if err != nil {
			c.reply(protocol.Fail("", "Invalid packet format"))
			continue
		}

		// never log credentials
		if pkt.Type != protocol.CmdAuth && pkt.Type != protocol.CmdRegister {
			c.logger.Debug("packet received", "type", pkt.Type, "args", len(pkt.Args))
		}

		if !s.handlePacket(ctx, c, pkt) {
			return
		}
	}
}
