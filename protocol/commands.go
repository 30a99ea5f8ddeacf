package protocol

// Line protocol commands sent by clients.
const (
	CmdPing         = "ping"
	CmdRegister     = "reg"
	CmdAuth         = "auth"
	CmdMessage      = "msg"
	CmdInbox        = "inbox"
	CmdConversation = "conv"
	CmdSearch       = "search"
	CmdUsers        = "users"
	CmdHelp         = "help"
	CmdBye          = "bye"
)

// Line protocol replies sent by the server.
const (
	ReplyOK    = "ok"
	ReplyFail  = "fail"
	ReplyPong  = "pong"
	ReplyEntry = "entry"
	ReplyBye   = "bye"
)

func OK(op string) string {
	return FormatPacket(ReplyOK, op)
}

func Fail(op, reason string) string {
	if op == "" {
		return FormatPacket(ReplyFail, reason)
	}
	return FormatPacket(ReplyFail, op, reason)
}
