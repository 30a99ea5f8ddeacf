package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Control socket commands.
const (
	ControlStats    = "stats"
	ControlShutdown = "shutdown"
)

const controlTimeout = 5 * time.Second

func listenControl(path string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create socket dir: %w", err)
	}
	// a stale socket from a crashed run blocks Listen
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}
	return net.Listen("unix", path)
}

func (s *Server) acceptControl(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("control accept failed", "error", err)
			continue
		}

		go s.handleControlCommand(conn)
	}
}

// handleControlCommand answers one command per connection.
func (s *Server) handleControlCommand(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(controlTimeout))

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return
	}

	switch cmd := strings.TrimSpace(line); cmd {
	case ControlStats:
		io.WriteString(conn, "OK|"+s.Stats()+"\n")
	case ControlShutdown:
		io.WriteString(conn, "OK|Shutting down\n")
		s.logger.Info("shutdown requested over control socket")
		s.Stop()
	default:
		io.WriteString(conn, "ERROR|Unknown command\n")
	}
}

// SendControl runs one control command against a running server and returns
// its reply line.
func SendControl(path, cmd string) (string, error) {
	conn, err := net.DialTimeout("unix", path, controlTimeout)
	if err != nil {
		return "", fmt.Errorf("connect control socket: %w", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(controlTimeout))

	if _, err := io.WriteString(conn, cmd+"\n"); err != nil {
		return "", fmt.Errorf("send command: %w", err)
	}
	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && reply == "" {
		return "", fmt.Errorf("read reply: %w", err)
	}

	reply = strings.TrimSpace(reply)
	if msg, ok := strings.CutPrefix(reply, "ERROR|"); ok {
		return "", errors.New(msg)
	}
	return strings.TrimPrefix(reply, "OK|"), nil
}
