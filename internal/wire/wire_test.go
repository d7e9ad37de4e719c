package wire

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineBufferSplitsAnyChunking(t *testing.T) {
	lines := []string{
		":alice!u@h PRIVMSG #room :hello there",
		"PING :12345",
		":server 001 astro :Welcome",
		":bob!u@h JOIN #room",
	}
	raw := strings.Join(lines, "\r\n") + "\r\n"

	// Every chunk size, including ones that split the CR-LF terminator
	// across two reads, must reassemble the same lines in order.
	for size := 1; size <= len(raw); size++ {
		var buf LineBuffer
		var got []string
		for i := 0; i < len(raw); i += size {
			end := i + size
			if end > len(raw) {
				end = len(raw)
			}
			got = append(got, buf.Feed([]byte(raw[i:end]))...)
		}
		require.Equal(t, lines, got, "chunk size %d", size)
	}
}

func TestLineBufferRetainsPartialLine(t *testing.T) {
	var buf LineBuffer
	assert.Empty(t, buf.Feed([]byte("PING :to")))
	got := buf.Feed([]byte("ken\r\nPART"))
	assert.Equal(t, []string{"PING :token"}, got)
	got = buf.Feed([]byte(" #x\r\n"))
	assert.Equal(t, []string{"PART #x"}, got)
}

func TestLineBufferToleratesBareLF(t *testing.T) {
	var buf LineBuffer
	got := buf.Feed([]byte("one\ntwo\r\n"))
	assert.Equal(t, []string{"one", "two"}, got)
}

func TestLineBufferReplacesInvalidUTF8(t *testing.T) {
	var buf LineBuffer
	got := buf.Feed([]byte("he\xffllo\r\n"))
	require.Len(t, got, 1)
	assert.Equal(t, "he�llo", got[0])
}

func TestClassifyPrivmsg(t *testing.T) {
	res := Classify(":alice!u@h PRIVMSG #room :hello there", "astro")
	require.NotNil(t, res.Msg)
	assert.Equal(t, KindMessage, res.Msg.Kind)
	assert.Equal(t, "alice", res.Msg.Sender)
	assert.Equal(t, "#room", res.Msg.Channel)
	assert.Equal(t, "hello there", res.Msg.Text)
}

func TestClassifyPrivmsgWithoutTrailing(t *testing.T) {
	res := Classify(":alice!u@h PRIVMSG #room hi", "astro")
	require.NotNil(t, res.Msg)
	assert.Equal(t, "hi", res.Msg.Text)

	// No body at all still yields an event, with an empty body.
	res = Classify(":alice!u@h PRIVMSG #room", "astro")
	require.NotNil(t, res.Msg)
	assert.Equal(t, "#room", res.Msg.Channel)
	assert.Equal(t, "", res.Msg.Text)
}

func TestClassifyPrivmsgColonInBody(t *testing.T) {
	res := Classify(":alice!u@h PRIVMSG #room :note: see here", "astro")
	require.NotNil(t, res.Msg)
	assert.Equal(t, "note: see here", res.Msg.Text)
}

func TestClassifyPing(t *testing.T) {
	res := Classify("PING :12345", "astro")
	assert.True(t, res.HasPong)
	assert.Equal(t, "12345", res.PongToken)

	res = Classify("PING server1", "astro")
	assert.True(t, res.HasPong)
	assert.Equal(t, "server1", res.PongToken)
}

func TestClassifyRegistrationNumerics(t *testing.T) {
	assert.True(t, Classify(":server 001 astro :Welcome", "astro").Registered)
	assert.True(t, Classify(":server 376 astro :End of MOTD", "astro").Registered)
	assert.True(t, Classify(":server 366 astro #astro :End of /NAMES list", "astro").JoinDone)
}

func TestClassifyListReplies(t *testing.T) {
	res := Classify(":server 322 astro #general 3 :General chat", "astro")
	require.NotNil(t, res.ListEntry)
	assert.Equal(t, "#general", res.ListEntry.Name)
	assert.Equal(t, 3, res.ListEntry.Users)
	assert.Equal(t, "General chat", res.ListEntry.Topic)

	assert.True(t, Classify(":server 323 astro :End of /LIST", "astro").ListDone)
}

func TestClassifyListEntryWithoutTopic(t *testing.T) {
	res := Classify(":server 322 astro #quiet 0 :", "astro")
	require.NotNil(t, res.ListEntry)
	assert.Equal(t, "#quiet", res.ListEntry.Name)
	assert.Equal(t, 0, res.ListEntry.Users)
	assert.Equal(t, "", res.ListEntry.Topic)
}

func TestClassifyNames(t *testing.T) {
	res := Classify(":server 353 astro = #astro :alice bob @carol", "astro")
	assert.Equal(t, []string{"alice", "bob", "@carol"}, res.Names)
}

func TestClassifyPresence(t *testing.T) {
	res := Classify(":bob!u@h JOIN #room", "astro")
	require.NotNil(t, res.Msg)
	assert.Equal(t, KindJoin, res.Msg.Kind)
	assert.Equal(t, "bob", res.Msg.Sender)
	assert.Equal(t, "#room", res.Msg.Channel)
	assert.Equal(t, "joined the channel", res.Msg.Text)

	// JOIN with the channel as trailing argument.
	res = Classify(":bob!u@h JOIN :#room", "astro")
	require.NotNil(t, res.Msg)
	assert.Equal(t, "#room", res.Msg.Channel)

	res = Classify(":bob!u@h PART #room :bye", "astro")
	require.NotNil(t, res.Msg)
	assert.Equal(t, KindPart, res.Msg.Kind)
	assert.Equal(t, "left the channel", res.Msg.Text)

	res = Classify(":bob!u@h QUIT :Quit: leaving", "astro")
	require.NotNil(t, res.Msg)
	assert.Equal(t, KindQuit, res.Msg.Kind)
	assert.Equal(t, "", res.Msg.Channel)
}

func TestClassifySuppressesOwnPresence(t *testing.T) {
	for _, line := range []string{
		":astro!u@h JOIN #room",
		":Astro!u@h PART #room",
		":ASTRO!u@h QUIT :bye",
	} {
		res := Classify(line, "astro")
		assert.Nil(t, res.Msg, "line %q", line)
	}
}

func TestClassifyIgnoresUnknownLines(t *testing.T) {
	for _, line := range []string{
		"",
		":server 372 astro :- motd line",
		":server NOTICE astro :hi",
		":bob!u@h MODE #room +o alice",
		"garbage without structure",
		":",
	} {
		res := Classify(line, "astro")
		assert.Equal(t, Result{}, res, "line %q", line)
	}
}
