package protocol

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestParsePacket(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		wantType string
		wantArgs []string
	}{
		{"bare command", "ping\n", "ping", nil},
		{"crlf", "inbox\r\n", "inbox", nil},
		{"two args", "auth|alice|secret\n", "auth", []string{"alice", "secret"}},
		{"escaped pipe stays in field", `msg|bob|a\|b` + "\n", "msg", []string{"bob", "a|b"}},
		{"escaped newline", `msg|all|line1\nline2`, "msg", []string{"all", "line1\nline2"}},
		{"escaped backslash", `msg|all|c:\\dir`, "msg", []string{"all", `c:\dir`}},
		{"unknown escape kept", `msg|all|\q`, "msg", []string{"all", `\q`}},
		{"empty field", "msg||hello", "msg", []string{"", "hello"}},
		{"commas are plain text", "msg|all|a, b", "msg", []string{"all", "a, b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkt, err := ParsePacket(tt.line)
			if err != nil {
				t.Fatalf("ParsePacket(%q) failed: %v", tt.line, err)
			}
			if pkt.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", pkt.Type, tt.wantType)
			}
			if !reflect.DeepEqual(pkt.Args, tt.wantArgs) {
				t.Errorf("Args = %q, want %q", pkt.Args, tt.wantArgs)
			}
		})
	}
}

func TestParsePacketInvalid(t *testing.T) {
	for _, line := range []string{"", "\n", "|alice"} {
		if _, err := ParsePacket(line); !errors.Is(err, ErrInvalidPacket) {
			t.Errorf("ParsePacket(%q) error = %v, want ErrInvalidPacket", line, err)
		}
	}
}

func TestPacketArg(t *testing.T) {
	pkt := &Packet{Type: "conv", Args: []string{"bob"}}
	if got := pkt.Arg(0); got != "bob" {
		t.Errorf("Arg(0) = %q, want bob", got)
	}
	if got := pkt.Arg(1); got != "" {
		t.Errorf("Arg(1) = %q, want empty", got)
	}
}

func TestFormatPacketRoundTrip(t *testing.T) {
	body := "pipes | commas, slashes \\ and\nnewlines"
	line := FormatPacket(CmdMessage, "bob", body)

	if strings.Count(line, "\n") != 1 || !strings.HasSuffix(line, "\n") {
		t.Fatalf("formatted packet must be a single line: %q", line)
	}

	pkt, err := ParsePacket(line)
	if err != nil {
		t.Fatalf("ParsePacket failed: %v", err)
	}
	if pkt.Arg(0) != "bob" || pkt.Arg(1) != body {
		t.Errorf("round trip = %q, want [bob %q]", pkt.Args, body)
	}
}

func TestEscapeLeavesCommas(t *testing.T) {
	if got, want := Escape("a,b|c"), `a,b\|c`; got != want {
		t.Errorf("Escape = %q, want %q", got, want)
	}
}

func TestReplies(t *testing.T) {
	if got := OK("auth"); got != "ok|auth\n" {
		t.Errorf("OK = %q", got)
	}
	if got := Fail("msg", "Not authenticated"); got != "fail|msg|Not authenticated\n" {
		t.Errorf("Fail = %q", got)
	}
	if got := Fail("", "Unknown command"); got != "fail|Unknown command\n" {
		t.Errorf("Fail without op = %q", got)
	}
}
