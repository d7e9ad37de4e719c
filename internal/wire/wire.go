// Package wire implements the line-level codec for the IRC subset the
// chat core speaks: CR-LF framing over a byte stream, classification of
// raw lines into typed events and control signals, and outbound message
// cutting. The package never touches a socket, so both agents share it
// and tests drive it directly.
package wire

import (
	"bytes"
	"strconv"
	"strings"
)

// Kind labels a classified chat event.
type Kind string

const (
	KindMessage Kind = "message"
	KindJoin    Kind = "join"
	KindPart    Kind = "part"
	KindQuit    Kind = "quit"
)

// Message is a classified traffic line: a directed message or a
// presence change. Text is synthesized for presence kinds.
type Message struct {
	Kind    Kind
	Sender  string
	Channel string
	Text    string
}

// ListEntry is one channel from a LIST reply fragment (numeric 322).
type ListEntry struct {
	Name  string
	Users int
	Topic string
}

// Result is the classification of a single line. At most one of the
// fields is populated; a zero Result means the line was unrecognized
// and must be ignored.
type Result struct {
	Msg        *Message   // PRIVMSG / JOIN / PART / QUIT
	PongToken  string     // PING received; reply PONG with this token
	HasPong    bool       // distinguishes an empty token from no PING
	Registered bool       // numeric 001 or 376
	JoinDone   bool       // numeric 366; also ends a NAMES query
	ListEntry  *ListEntry // numeric 322
	ListDone   bool       // numeric 323
	Names      []string   // numeric 353 fragment
}

// LineBuffer accumulates socket reads and yields complete CR-LF
// terminated lines. A terminator split across two reads is handled by
// retaining the unterminated remainder between calls.
type LineBuffer struct {
	rem []byte
}

// Feed appends data and returns every complete line received so far,
// terminators stripped. Malformed UTF-8 is replaced, never rejected: a
// single bad line must not take the connection down.
func (b *LineBuffer) Feed(data []byte) []string {
	b.rem = append(b.rem, data...)
	var lines []string
	for {
		i := bytes.IndexByte(b.rem, '\n')
		if i < 0 {
			break
		}
		line := b.rem[:i]
		if n := len(line); n > 0 && line[n-1] == '\r' {
			line = line[:n-1]
		}
		lines = append(lines, strings.ToValidUTF8(string(line), "�"))
		b.rem = b.rem[i+1:]
	}
	if len(b.rem) == 0 {
		b.rem = nil
	}
	return lines
}

// Classify parses one protocol line. selfNick is the agent's own
// identity: presence changes it caused itself are suppressed, since
// they carry no information the agent doesn't already have. Unknown
// commands and numerics yield a zero Result.
func Classify(line, selfNick string) Result {
	if strings.HasPrefix(line, "PING") {
		return Result{HasPong: true, PongToken: pingToken(line)}
	}

	prefix, rest := splitPrefix(line)
	cmd, params, trailing := splitCommand(rest)
	sender := senderNick(prefix)

	switch cmd {
	case "001", "376":
		return Result{Registered: true}
	case "366":
		return Result{JoinDone: true}
	case "322":
		return Result{ListEntry: parseListEntry(params, trailing)}
	case "323":
		return Result{ListDone: true}
	case "353":
		return Result{Names: strings.Fields(trailing)}
	case "PRIVMSG":
		return Result{Msg: parsePrivmsg(sender, params, trailing)}
	case "JOIN":
		if IsSelf(sender, selfNick) {
			return Result{}
		}
		channel := trailing
		if len(params) > 0 {
			channel = params[0]
		}
		if channel == "" {
			return Result{}
		}
		return Result{Msg: &Message{Kind: KindJoin, Sender: sender, Channel: channel, Text: "joined the channel"}}
	case "PART":
		if IsSelf(sender, selfNick) {
			return Result{}
		}
		channel := ""
		if len(params) > 0 {
			channel = params[0]
		}
		return Result{Msg: &Message{Kind: KindPart, Sender: sender, Channel: channel, Text: "left the channel"}}
	case "QUIT":
		if IsSelf(sender, selfNick) {
			return Result{}
		}
		return Result{Msg: &Message{Kind: KindQuit, Sender: sender, Text: "left the channel"}}
	}
	return Result{}
}

// IsSelf reports whether sender is the agent's own nick. IRC nicks are
// case-insensitive.
func IsSelf(sender, nick string) bool {
	return strings.EqualFold(sender, nick)
}

func pingToken(line string) string {
	if i := strings.Index(line, ":"); i >= 0 {
		return line[i+1:]
	}
	if len(line) > 5 {
		return line[5:]
	}
	return ""
}

// splitPrefix strips the leading ":source" token, if present.
func splitPrefix(line string) (prefix, rest string) {
	if !strings.HasPrefix(line, ":") {
		return "", line
	}
	i := strings.IndexByte(line, ' ')
	if i < 0 {
		return line[1:], ""
	}
	return line[1:i], strings.TrimLeft(line[i+1:], " ")
}

// splitCommand separates the command, its middle params and the
// trailing argument (everything after " :", which may contain spaces).
func splitCommand(rest string) (cmd string, params []string, trailing string) {
	if i := strings.Index(rest, " :"); i >= 0 {
		trailing = rest[i+2:]
		rest = rest[:i]
	} else if strings.HasPrefix(rest, ":") {
		return "", nil, rest[1:]
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", nil, trailing
	}
	return fields[0], fields[1:], trailing
}

func senderNick(prefix string) string {
	if i := strings.IndexByte(prefix, '!'); i >= 0 {
		return prefix[:i]
	}
	return prefix
}

func parsePrivmsg(sender string, params []string, trailing string) *Message {
	msg := &Message{Kind: KindMessage, Sender: sender, Text: trailing}
	if len(params) > 0 {
		msg.Channel = params[0]
	}
	// No trailing marker: fall back to the next positional token, or
	// an empty body. A malformed line still yields a usable event.
	if trailing == "" && len(params) > 1 {
		msg.Text = params[1]
	}
	return msg
}

func parseListEntry(params []string, trailing string) *ListEntry {
	entry := &ListEntry{Topic: trailing}
	if len(params) > 1 {
		entry.Name = params[1]
	}
	if len(params) > 2 {
		if n, err := strconv.Atoi(params[2]); err == nil {
			entry.Users = n
		}
	}
	if entry.Name == "" {
		return nil
	}
	return entry
}
