package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Event types carried in the "type" field of every WebSocket frame.
const (
	EventMessage = "message"
	EventError   = "error"
)

var ErrUnknownEvent = errors.New("unknown event type")

// MessageEvent is pushed to every live connection in a message's audience.
type MessageEvent struct {
	Type          string `json:"type"`
	Sender        string `json:"sender"`
	Body          string `json:"body"`
	Receiver      string `json:"receiver"`
	IsAdminSender bool   `json:"isAdminSender"`
}

func NewMessageEvent(sender, receiver, body string, isAdmin bool) MessageEvent {
	return MessageEvent{
		Type:          EventMessage,
		Sender:        sender,
		Body:          body,
		Receiver:      receiver,
		IsAdminSender: isAdmin,
	}
}

// ErrorEvent goes only to the connection whose frame failed.
type ErrorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func NewErrorEvent(msg string) ErrorEvent {
	return ErrorEvent{Type: EventError, Error: msg}
}

// SendRequest is the only frame a client sends. Sender identity never comes
// from the payload.
type SendRequest struct {
	Type     string `json:"type"`
	Body     string `json:"body"`
	Receiver string `json:"receiver"`
}

// DecodeSendRequest parses one inbound WebSocket frame. A missing type is
// treated as "message".
func DecodeSendRequest(data []byte) (SendRequest, error) {
	var req SendRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return SendRequest{}, fmt.Errorf("decode frame: %w", err)
	}
	if req.Type == "" {
		req.Type = EventMessage
	}
	if req.Type != EventMessage {
		return SendRequest{}, fmt.Errorf("%w %q", ErrUnknownEvent, req.Type)
	}
	return req, nil
}

// FormatPush renders a message event for the line protocol:
// msg|sender|receiver|admin|body
func FormatPush(ev MessageEvent) string {
	return FormatPacket(CmdMessage, ev.Sender, ev.Receiver, strconv.FormatBool(ev.IsAdminSender), ev.Body)
}
