package server

import (
	"context"
	"errors"

	"parlor/chat"
	"parlor/db"
	"parlor/models"
	"parlor/protocol"
)

var lineCommands = []string{
	protocol.CmdPing,
	protocol.CmdRegister,
	protocol.CmdAuth,
	protocol.CmdMessage,
	protocol.CmdInbox,
	protocol.CmdConversation,
	protocol.CmdSearch,
	protocol.CmdUsers,
	protocol.CmdHelp,
	protocol.CmdBye,
}

// handlePacket runs one command. It returns false when the connection
// should be closed.
func (s *Server) handlePacket(ctx context.Context, c *lineConn, pkt *protocol.Packet) bool {
	switch pkt.Type {
	case protocol.CmdPing:
		c.reply(protocol.FormatPacket(protocol.ReplyPong))
	case protocol.CmdRegister:
		s.handleLineRegister(ctx, c, pkt)
	case protocol.CmdAuth:
		s.handleLineAuth(ctx, c, pkt)
	case protocol.CmdMessage:
		s.handleLineMessage(ctx, c, pkt)
	case protocol.CmdInbox:
		s.handleLineInbox(ctx, c)
	case protocol.CmdConversation:
		s.handleLineConversation(ctx, c, pkt)
	case protocol.CmdSearch:
		s.handleLineSearch(ctx, c, pkt)
	case protocol.CmdUsers:
		s.handleLineUsers(ctx, c)
	case protocol.CmdHelp:
		c.reply(protocol.FormatPacket(protocol.CmdHelp, lineCommands...))
	case protocol.CmdBye:
		c.reply(protocol.FormatPacket(protocol.ReplyBye))
		return false
	default:
		c.reply(protocol.Fail("", "Unknown packet type"))
	}
	return true
}

// tooManyArgs replies with a failure for op when pkt carries more fields
// than op takes. A stray | in a body must be escaped, not dropped.
func tooManyArgs(c *lineConn, op string, pkt *protocol.Packet, n int) bool {
	if len(pkt.Args) > n {
		c.reply(protocol.Fail(op, "Invalid data"))
		return true
	}
	return false
}

// requireAuth replies with a failure for op when the connection has not
// logged in yet.
func requireAuth(c *lineConn, op string) bool {
	if c.user == nil {
		c.reply(protocol.Fail(op, "Not authenticated"))
		return false
	}
	return true
}

func (s *Server) handleLineRegister(ctx context.Context, c *lineConn, pkt *protocol.Packet) {
	if tooManyArgs(c, protocol.CmdRegister, pkt, 2) {
		return
	}
	username, password := pkt.Arg(0), pkt.Arg(1)
	if username == "" || password == "" {
		c.reply(protocol.Fail(protocol.CmdRegister, "Invalid data"))
		return
	}

	user, err := s.store.CreateUser(ctx, username, password)
	switch {
	case errors.Is(err, db.ErrUsernameTaken):
		c.reply(protocol.Fail(protocol.CmdRegister, "User already exists"))
		return
	case errors.Is(err, db.ErrInvalidUsername), errors.Is(err, db.ErrInvalidPassword):
		c.reply(protocol.Fail(protocol.CmdRegister, "Invalid data"))
		return
	case err != nil:
		c.logger.Error("register failed", "error", err)
		c.reply(protocol.Fail(protocol.CmdRegister, "Internal error"))
		return
	}

	c.logger.Info("user registered", "user", user.Username)
	c.reply(protocol.OK(protocol.CmdRegister))
}

func (s *Server) handleLineAuth(ctx context.Context, c *lineConn, pkt *protocol.Packet) {
	if tooManyArgs(c, protocol.CmdAuth, pkt, 2) {
		return
	}
	username, password := pkt.Arg(0), pkt.Arg(1)
	if username == "" || password == "" {
		c.reply(protocol.Fail(protocol.CmdAuth, "Invalid credentials"))
		return
	}

	if c.user != nil {
		if c.user.Username == username {
			c.reply(protocol.OK(protocol.CmdAuth))
		} else {
			c.reply(protocol.Fail(protocol.CmdAuth, "Already authenticated"))
		}
		return
	}

	user, err := s.store.Authenticate(ctx, username, password)
	if errors.Is(err, db.ErrInvalidCredentials) {
		c.reply(protocol.Fail(protocol.CmdAuth, "Invalid credentials"))
		return
	}
	if err != nil {
		c.logger.Error("auth failed", "error", err)
		c.reply(protocol.Fail(protocol.CmdAuth, "Internal error"))
		return
	}

	// registered before the reply so a client that saw ok|auth is reachable
	c.user = user
	s.registry.Register(user.Username, c)
	c.reply(protocol.OK(protocol.CmdAuth))
	c.logger.Info("client authenticated", "user", user.Username)
}

func (s *Server) handleLineMessage(ctx context.Context, c *lineConn, pkt *protocol.Packet) {
	if !requireAuth(c, protocol.CmdMessage) || tooManyArgs(c, protocol.CmdMessage, pkt, 2) {
		return
	}

	sender := chat.Sender{Username: c.user.Username, IsAdmin: c.user.IsAdmin}
	_, err := s.router.Send(ctx, sender, pkt.Arg(0), pkt.Arg(1))
	switch {
	case errors.Is(err, models.ErrEmptyBody):
		c.reply(protocol.Fail(protocol.CmdMessage, "Message text required"))
	case err != nil:
		c.logger.Error("send failed", "error", err)
		c.reply(protocol.Fail(protocol.CmdMessage, "Internal error"))
	default:
		c.reply(protocol.OK(protocol.CmdMessage))
	}
}

func (s *Server) handleLineInbox(ctx context.Context, c *lineConn) {
	if !requireAuth(c, protocol.CmdInbox) {
		return
	}

	entries, err := s.store.ListBroadcastAndInbox(ctx, c.user.Username, 0)
	if err != nil {
		c.logger.Error("list inbox failed", "error", err)
		c.reply(protocol.Fail(protocol.CmdInbox, "Internal error"))
		return
	}
	s.replyEntries(c, protocol.CmdInbox, entries)
}

func (s *Server) handleLineConversation(ctx context.Context, c *lineConn, pkt *protocol.Packet) {
	if !requireAuth(c, protocol.CmdConversation) {
		return
	}

	peer := pkt.Arg(0)
	if peer == "" {
		c.reply(protocol.Fail(protocol.CmdConversation, "User required"))
		return
	}

	entries, err := s.store.ListConversation(ctx, c.user.Username, peer, 0)
	if err != nil {
		c.logger.Error("list conversation failed", "error", err)
		c.reply(protocol.Fail(protocol.CmdConversation, "Internal error"))
		return
	}
	s.replyEntries(c, protocol.CmdConversation, entries)
}

// replyEntries sends entry|sender|body per row, oldest first, then ok|op.
func (s *Server) replyEntries(c *lineConn, op string, entries []models.Entry) {
	for _, e := range entries {
		c.reply(protocol.FormatPacket(protocol.ReplyEntry, e.Sender, e.Body))
	}
	c.reply(protocol.OK(op))
}

func (s *Server) handleLineSearch(ctx context.Context, c *lineConn, pkt *protocol.Packet) {
	if !requireAuth(c, protocol.CmdSearch) {
		return
	}

	matches, err := s.searchUsers(ctx, pkt.Arg(0))
	if err != nil {
		c.logger.Error("search users failed", "error", err)
		c.reply(protocol.Fail(protocol.CmdSearch, "Internal error"))
		return
	}
	c.reply(protocol.FormatPacket(protocol.CmdSearch, matches...))
}

func (s *Server) handleLineUsers(ctx context.Context, c *lineConn) {
	if !requireAuth(c, protocol.CmdUsers) {
		return
	}

	names, err := s.store.Usernames(ctx)
	if err != nil {
		c.logger.Error("list users failed", "error", err)
		c.reply(protocol.Fail(protocol.CmdUsers, "Internal error"))
		return
	}
	c.reply(protocol.FormatPacket(protocol.CmdUsers, names...))
}
