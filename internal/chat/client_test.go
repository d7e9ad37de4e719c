package chat

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astrohq/astrochat-go/internal/wire"
)

// scriptServer plays the server side of a net.Pipe connection. Its
// reader goroutine drains everything the agent writes into a channel
// so pipe writes never block the agent.
type scriptServer struct {
	conn  net.Conn
	lines chan string
}

func newScriptServer(conn net.Conn) *scriptServer {
	s := &scriptServer{conn: conn, lines: make(chan string, 100)}
	go func() {
		sc := bufio.NewScanner(conn)
		for sc.Scan() {
			s.lines <- sc.Text()
		}
		close(s.lines)
	}()
	return s
}

func (s *scriptServer) send(line string) {
	s.conn.Write([]byte(line + "\r\n"))
}

// expect waits for the next agent line starting with prefix, skipping
// unrelated traffic such as keep-alive pings.
func (s *scriptServer) expect(t *testing.T, prefix string) string {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case line, ok := <-s.lines:
			if !ok {
				t.Fatalf("connection closed while waiting for %q", prefix)
			}
			if strings.HasPrefix(line, prefix) {
				return line
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", prefix)
		}
	}
}

// respondOnce answers the next line starting with prefix from a
// background goroutine, for requests issued by a blocking caller.
func (s *scriptServer) respondOnce(prefix string, replies ...string) {
	go func() {
		for line := range s.lines {
			if strings.HasPrefix(line, prefix) {
				for _, r := range replies {
					s.send(r)
				}
				return
			}
		}
	}()
}

func pipeDialer() (Dialer, chan *scriptServer) {
	servers := make(chan *scriptServer, 4)
	dial := func(ctx context.Context) (net.Conn, error) {
		clientEnd, serverEnd := net.Pipe()
		servers <- newScriptServer(serverEnd)
		return clientEnd, nil
	}
	return dial, servers
}

func TestClientLifecycle(t *testing.T) {
	dial, servers := pipeDialer()
	c := NewClient(ClientConfig{Dial: dial, ReconnectDelay: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Start(ctx)
	defer c.Stop()

	srv := <-servers
	srv.expect(t, "NICK astro")
	srv.expect(t, "USER astro")
	srv.send(":server 001 astro :Welcome")
	srv.expect(t, "JOIN #astro")
	srv.send(":server 366 astro #astro :End of /NAMES list")

	require.Eventually(t, func() bool { return c.Status().Connected },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, StateActive, c.State())

	// Live push and pull both observe the same event.
	sub := c.Subscribe()
	defer c.Unsubscribe(sub)
	srv.send(":alice!u@h PRIVMSG #astro :hello there")

	select {
	case ev := <-sub.Events():
		assert.Equal(t, wire.KindMessage, ev.Kind)
		assert.Equal(t, "alice", ev.Sender)
		assert.Equal(t, "hello there", ev.Text)
		assert.False(t, ev.Self)
		assert.Equal(t, int64(1), ev.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("no event pushed to subscriber")
	}
	require.Len(t, c.Events(0), 1)

	// Synchronous channel listing over the async stream.
	srv.respondOnce("LIST",
		":server 322 astro #astro 2 :Main",
		":server 322 astro #dev 1 :Dev chat",
		":server 323 astro :End of /LIST")
	entries := c.ListChannels()
	require.Len(t, entries, 2)
	assert.Equal(t, "#astro", entries[0].Name)
	assert.Equal(t, 2, entries[0].Users)

	// Name listing terminates on end-of-names.
	srv.respondOnce("NAMES",
		":server 353 astro = #astro :alice astro",
		":server 366 astro #astro :End of /NAMES list")
	users := c.ListUsers()
	assert.Equal(t, []string{"alice", "astro"}, users)
}

func TestClientSwitchChannelWhileConnected(t *testing.T) {
	dial, servers := pipeDialer()
	c := NewClient(ClientConfig{Dial: dial, ReconnectDelay: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Start(ctx)
	defer c.Stop()

	srv := <-servers
	srv.expect(t, "NICK")
	srv.send(":server 001 astro :Welcome")
	srv.expect(t, "JOIN #astro")
	srv.send(":server 366 astro #astro :End of /NAMES list")
	require.Eventually(t, func() bool { return c.Status().Connected },
		2*time.Second, 10*time.Millisecond)

	srv.send(":alice!u@h PRIVMSG #astro :old channel talk")
	require.Eventually(t, func() bool { return len(c.Events(0)) == 1 },
		2*time.Second, 10*time.Millisecond)

	srv.respondOnce("JOIN #dev", ":server 366 astro #dev :End of /NAMES list")
	require.NoError(t, c.SwitchChannel("#dev"))

	assert.Equal(t, "#dev", c.Status().Channel)
	assert.Empty(t, c.Events(0))

	// The first event in the new channel restarts the sequence.
	srv.send(":bob!u@h PRIVMSG #dev :fresh start")
	require.Eventually(t, func() bool {
		evs := c.Events(0)
		return len(evs) == 1 && evs[0].ID == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClientSwitchChannelWhileDisconnected(t *testing.T) {
	c := NewClient(ClientConfig{})
	c.append("alice", "hi", wire.KindMessage)

	require.NoError(t, c.SwitchChannel("dev"))
	assert.Equal(t, "#dev", c.Status().Channel)
	assert.Empty(t, c.Events(0))

	c.append("bob", "first", wire.KindMessage)
	evs := c.Events(0)
	require.Len(t, evs, 1)
	assert.Equal(t, int64(1), evs[0].ID)
}

func TestClientIdleTimeoutSendsPing(t *testing.T) {
	dial, servers := pipeDialer()
	c := NewClient(ClientConfig{
		Dial:           dial,
		ReconnectDelay: 10 * time.Millisecond,
		IdleTimeout:    30 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Start(ctx)
	defer c.Stop()

	srv := <-servers
	srv.expect(t, "NICK")
	srv.send(":server 001 astro :Welcome")
	srv.expect(t, "JOIN #astro")
	srv.send(":server 366 astro #astro :End of /NAMES list")
	require.Eventually(t, func() bool { return c.Status().Connected },
		2*time.Second, 10*time.Millisecond)

	// A quiet connection is probed, not torn down.
	srv.expect(t, "PING :")
	srv.expect(t, "PING :")
	assert.Equal(t, StateActive, c.State())
	assert.True(t, c.Status().Connected)
}

func TestClientRegistrationTimeoutRetries(t *testing.T) {
	var nicks atomic.Int32
	dial := func(ctx context.Context) (net.Conn, error) {
		clientEnd, serverEnd := net.Pipe()
		go func() {
			sc := bufio.NewScanner(serverEnd)
			for sc.Scan() {
				if strings.HasPrefix(sc.Text(), "NICK ") {
					nicks.Add(1)
				}
			}
		}()
		return clientEnd, nil
	}
	c := NewClient(ClientConfig{
		Dial:                dial,
		RegistrationTimeout: 80 * time.Millisecond,
		ReconnectDelay:      20 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Start(ctx)
	defer c.Stop()

	// No registration reply ever arrives: the client must tear down
	// and retry the whole handshake.
	require.Eventually(t, func() bool { return nicks.Load() >= 2 },
		3*time.Second, 10*time.Millisecond)
	assert.False(t, c.Status().Connected)
}

func TestClientSwitchChannelAbortsOnDisconnect(t *testing.T) {
	clientEnd, serverEnd := net.Pipe()
	newScriptServer(serverEnd) // drains the PART and JOIN writes

	c := NewClient(ClientConfig{JoinTimeout: 2 * time.Second})
	c.mu.Lock()
	c.sess = newSession(clientEnd)
	c.state = StateActive
	c.mu.Unlock()

	errCh := make(chan error, 1)
	go func() { errCh <- c.SwitchChannel("#dev") }()

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.pending != nil
	}, time.Second, 5*time.Millisecond)

	// Connection loss before the 366 must not report a confirmed join.
	c.teardown()

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not confirmed")
	case <-time.After(time.Second):
		t.Fatal("switch did not return after disconnect")
	}
	// The target sticks; the next connection cycle joins it.
	assert.Equal(t, "#dev", c.Status().Channel)
}

func TestClientSendNotConnected(t *testing.T) {
	c := NewClient(ClientConfig{})
	err := c.Send("hello")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestClientSendSplitsLongLine(t *testing.T) {
	clientEnd, serverEnd := net.Pipe()
	srv := newScriptServer(serverEnd)

	c := NewClient(ClientConfig{})
	c.mu.Lock()
	c.sess = newSession(clientEnd)
	c.state = StateActive
	c.mu.Unlock()

	require.NoError(t, c.Send(strings.Repeat("x", 900)))

	for i := 0; i < 3; i++ {
		line := srv.expect(t, "PRIVMSG #astro :")
		payload := strings.TrimPrefix(line, "PRIVMSG #astro :")
		assert.LessOrEqual(t, len(payload), 400)
	}

	// One locally buffered self-event per transmitted fragment.
	evs := c.Events(0)
	require.Len(t, evs, 3)
	for _, ev := range evs {
		assert.True(t, ev.Self)
		assert.Equal(t, wire.KindMessage, ev.Kind)
		assert.LessOrEqual(t, len(ev.Text), 400)
	}
}

func TestClientSendSkipsBlankLines(t *testing.T) {
	clientEnd, serverEnd := net.Pipe()
	srv := newScriptServer(serverEnd)

	c := NewClient(ClientConfig{})
	c.mu.Lock()
	c.sess = newSession(clientEnd)
	c.state = StateActive
	c.mu.Unlock()

	require.NoError(t, c.Send("one\n\n  \ntwo"))
	assert.Equal(t, "PRIVMSG #astro :one", srv.expect(t, "PRIVMSG"))
	assert.Equal(t, "PRIVMSG #astro :two", srv.expect(t, "PRIVMSG"))
	require.Len(t, c.Events(0), 2)
}

func TestClientSequenceMonotonic(t *testing.T) {
	c := NewClient(ClientConfig{})
	for i := 0; i < 10; i++ {
		c.append("alice", fmt.Sprintf("m%d", i), wire.KindMessage)
	}

	evs := c.Events(0)
	require.Len(t, evs, 10)
	for i, ev := range evs {
		assert.Equal(t, int64(i+1), ev.ID)
		assert.Equal(t, fmt.Sprintf("m%d", i), ev.Text)
	}

	assert.Len(t, c.Events(5), 5)
	assert.Empty(t, c.Events(10))
}

func TestClientRingBufferBound(t *testing.T) {
	c := NewClient(ClientConfig{})
	for i := 0; i < 600; i++ {
		c.append("alice", fmt.Sprintf("m%d", i), wire.KindMessage)
	}

	evs := c.Events(0)
	require.Len(t, evs, ringCapacity)
	assert.Equal(t, int64(101), evs[0].ID)
	assert.Equal(t, int64(600), evs[len(evs)-1].ID)
}

func TestClientFanoutPrunesFullSubscriber(t *testing.T) {
	c := NewClient(ClientConfig{})

	healthy := c.Subscribe()
	stuck := NewQueueSubscriber(1)
	c.subsMu.Lock()
	c.subs = append(c.subs, stuck)
	c.subsMu.Unlock()

	// The stuck subscriber fills after one event; later deliveries
	// must still reach the healthy one without blocking.
	for i := 0; i < 3; i++ {
		c.append("alice", fmt.Sprintf("m%d", i), wire.KindMessage)
	}

	for i := 0; i < 3; i++ {
		select {
		case ev := <-healthy.Events():
			assert.Equal(t, fmt.Sprintf("m%d", i), ev.Text)
		default:
			t.Fatalf("healthy subscriber missing event %d", i)
		}
	}

	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	require.Len(t, c.subs, 1)
	assert.Same(t, healthy, c.subs[0].(*QueueSubscriber))
}

func TestClientUnsubscribeIdempotent(t *testing.T) {
	c := NewClient(ClientConfig{})
	sub := c.Subscribe()
	c.Unsubscribe(sub)
	c.Unsubscribe(sub)

	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	assert.Empty(t, c.subs)
}

func TestClientStopTerminatesWorker(t *testing.T) {
	dial, servers := pipeDialer()
	c := NewClient(ClientConfig{
		Dial:                dial,
		RegistrationTimeout: 100 * time.Millisecond,
		ReconnectDelay:      20 * time.Millisecond,
	})

	go c.Start(context.Background())
	<-servers
	require.Eventually(t, func() bool { return c.IsRunning() },
		time.Second, 5*time.Millisecond)

	c.Stop()
	require.Eventually(t, func() bool { return !c.IsRunning() },
		2*time.Second, 10*time.Millisecond)
}
