package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/astrohq/astrochat-go/internal/wire"
)

// ErrNotConnected is returned by Send when the client has no active
// registered-and-joined connection. Messages are never queued.
var ErrNotConnected = errors.New("not connected to chat server")

const (
	// DefaultNick is the interactive client's identity.
	DefaultNick = "astro"
	// DefaultChannel is joined when no channel is configured.
	DefaultChannel = "#astro"

	maxLineBytes = 400
	ringCapacity = 500
)

// ClientConfig configures an interactive Client. Zero durations get
// production defaults; tests shrink them.
type ClientConfig struct {
	Nick     string
	RealName string
	Channel  string
	Dial     Dialer

	ReconnectDelay      time.Duration // default 3s
	RegistrationTimeout time.Duration // default 15s
	JoinTimeout         time.Duration // default 10s
	ListTimeout         time.Duration // default 10s
	NamesTimeout        time.Duration // default 5s
	IdleTimeout         time.Duration // default 300s; expiry sends a PING probe
}

func (c *ClientConfig) fillDefaults() {
	if c.Nick == "" {
		c.Nick = DefaultNick
	}
	if c.RealName == "" {
		c.RealName = "Astro UI"
	}
	if c.Channel == "" {
		c.Channel = DefaultChannel
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 3 * time.Second
	}
	if c.RegistrationTimeout == 0 {
		c.RegistrationTimeout = 15 * time.Second
	}
	if c.JoinTimeout == 0 {
		c.JoinTimeout = 10 * time.Second
	}
	if c.ListTimeout == 0 {
		c.ListTimeout = 10 * time.Second
	}
	if c.NamesTimeout == 0 {
		c.NamesTimeout = 5 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 300 * time.Second
	}
}

type queryKind int

const (
	queryList queryKind = iota
	queryNames
	queryJoin
)

// pendingQuery is the one-shot wait/signal bridge between a caller
// blocked on a synchronous operation and the worker goroutine that
// observes the terminating reply. One query at a time; callers are
// serialized by Client.queryMu.
type pendingQuery struct {
	kind    queryKind
	entries []wire.ListEntry
	names   []string
	done    chan struct{}
}

// Client maintains the local user's presence in one channel: it owns a
// persistent connection driven by a single worker goroutine, buffers
// observed events in a bounded ring, and fans them out to subscribers.
// Construct with NewClient and inject it where needed; it has no
// global instance.
type Client struct {
	cfg ClientConfig

	mu         sync.Mutex
	state      ConnState
	sess       *session
	channel    string
	registered bool
	joined     bool
	events     []Event
	seq        int64
	pending    *pendingQuery
	running    bool
	cancel     context.CancelFunc

	subsMu sync.Mutex
	subs   []Subscriber

	// queryMu serializes synchronous request/response callers (LIST,
	// NAMES, channel switch) so two queries never share a scan buffer.
	queryMu sync.Mutex
}

// NewClient creates a stopped client. Call Start to connect.
func NewClient(cfg ClientConfig) *Client {
	cfg.fillDefaults()
	return &Client{cfg: cfg, channel: cfg.Channel}
}

// Start runs the connect/read/reconnect loop until ctx is cancelled or
// Stop is called. Connection failures are contained here: they are
// logged and retried after a fixed delay, never surfaced to callers.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("client already running")
	}
	c.running = true
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	for {
		err := c.runOnce(ctx)
		c.teardown()
		if ctx.Err() != nil {
			c.mu.Lock()
			c.running = false
			c.mu.Unlock()
			return nil
		}
		if err != nil {
			log.Printf("[Client] Connection lost: %v", err)
		}
		select {
		case <-ctx.Done():
			c.mu.Lock()
			c.running = false
			c.mu.Unlock()
			return nil
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}

// Stop cancels the worker and closes the socket, unblocking any
// in-flight read.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	sess := c.sess
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if sess != nil {
		sess.close()
	}
}

// IsRunning reports whether the worker loop is active.
func (c *Client) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// runOnce performs one full connection cycle: dial, register, join,
// then read until the connection fails.
func (c *Client) runOnce(ctx context.Context) error {
	c.setState(StateConnecting)

	conn, err := c.cfg.Dial(ctx)
	if err != nil {
		return err
	}
	sess := newSession(conn)

	c.mu.Lock()
	c.sess = sess
	c.registered = false
	c.joined = false
	channel := c.channel
	c.mu.Unlock()

	if err := sess.send("NICK " + c.cfg.Nick); err != nil {
		return err
	}
	if err := sess.send(fmt.Sprintf("USER %s 0 * :%s", c.cfg.Nick, c.cfg.RealName)); err != nil {
		return err
	}

	process := func(line string) { c.handleLine(sess, line) }
	err = sess.await(c.cfg.RegistrationTimeout, process, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.registered
	})
	if err != nil {
		return fmt.Errorf("registration not confirmed: %w", err)
	}
	c.setState(StateRegistered)

	if err := sess.send("JOIN " + channel); err != nil {
		return err
	}
	err = sess.await(c.cfg.JoinTimeout, process, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.joined
	})
	if err != nil {
		return fmt.Errorf("join %s not confirmed: %w", channel, err)
	}
	c.setState(StateJoined)

	c.setState(StateActive)
	log.Printf("[Client] Connected as %s to %s", c.cfg.Nick, channel)

	return c.readLoop(ctx, sess)
}

// readLoop processes traffic until a hard I/O error. An idle timeout
// is not a failure: the client probes the server with a PING instead.
func (c *Client) readLoop(ctx context.Context, sess *session) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		lines, err := sess.readLines(c.cfg.IdleTimeout)
		if errors.Is(err, errReadTimeout) {
			sess.send(fmt.Sprintf("PING :%d", time.Now().Unix()))
			continue
		}
		if err != nil {
			return err
		}
		for _, line := range lines {
			c.handleLine(sess, line)
		}
	}
}

// handleLine classifies one line and routes it: control signals feed
// the state machine and pending queries, traffic becomes events.
func (c *Client) handleLine(sess *session, line string) {
	res := wire.Classify(line, c.cfg.Nick)
	switch {
	case res.HasPong:
		sess.send("PONG :" + res.PongToken)
	case res.Registered:
		c.mu.Lock()
		c.registered = true
		c.mu.Unlock()
	case res.JoinDone:
		c.mu.Lock()
		c.joined = true
		if p := c.pending; p != nil && (p.kind == queryNames || p.kind == queryJoin) {
			c.pending = nil
			close(p.done)
		}
		c.mu.Unlock()
	case res.ListEntry != nil:
		c.mu.Lock()
		if p := c.pending; p != nil && p.kind == queryList {
			p.entries = append(p.entries, *res.ListEntry)
		}
		c.mu.Unlock()
	case res.ListDone:
		c.mu.Lock()
		if p := c.pending; p != nil && p.kind == queryList {
			c.pending = nil
			close(p.done)
		}
		c.mu.Unlock()
	case len(res.Names) > 0:
		c.mu.Lock()
		if p := c.pending; p != nil && p.kind == queryNames {
			p.names = append(p.names, res.Names...)
		}
		c.mu.Unlock()
	case res.Msg != nil:
		c.append(res.Msg.Sender, res.Msg.Text, res.Msg.Kind)
	}
}

// append records an event in the ring buffer and offers it to every
// subscriber. Subscribers that cannot accept are pruned so a slow
// consumer never blocks ingestion.
func (c *Client) append(sender, text string, kind wire.Kind) {
	c.mu.Lock()
	c.seq++
	ev := Event{
		ID:        c.seq,
		Sender:    sender,
		Text:      text,
		Kind:      kind,
		Timestamp: now(),
		Self:      wire.IsSelf(sender, c.cfg.Nick),
	}
	c.events = append(c.events, ev)
	if len(c.events) > ringCapacity {
		c.events = append([]Event(nil), c.events[len(c.events)-ringCapacity:]...)
	}
	c.mu.Unlock()

	c.subsMu.Lock()
	kept := c.subs[:0]
	for _, s := range c.subs {
		if s.TryDeliver(ev) {
			kept = append(kept, s)
		}
	}
	c.subs = kept
	c.subsMu.Unlock()
}

// Send transmits text to the current channel. Newlines split it into
// separate messages; lines over the wire-safe limit are hard-split into
// fragments. Every fragment is echoed into the local buffer immediately
// so the sender sees it without a server round trip.
func (c *Client) Send(text string) error {
	c.mu.Lock()
	sess := c.sess
	active := c.state == StateActive
	channel := c.channel
	c.mu.Unlock()
	if !active || sess == nil {
		return ErrNotConnected
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, " \t\r")
		if line == "" {
			continue
		}
		for _, frag := range wire.CutMessage(line, maxLineBytes) {
			if err := sess.send("PRIVMSG " + channel + " :" + frag); err != nil {
				return err
			}
			c.append(c.cfg.Nick, frag, wire.KindMessage)
		}
	}
	return nil
}

// Events returns buffered events with ID greater than afterID, in
// order. The ring holds the most recent 500; older history lives in
// the durable log, not here.
func (c *Client) Events(afterID int64) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Event
	for _, ev := range c.events {
		if ev.ID > afterID {
			out = append(out, ev)
		}
	}
	return out
}

// Subscribe registers a new live delivery queue.
func (c *Client) Subscribe() *QueueSubscriber {
	q := NewQueueSubscriber(64)
	c.subsMu.Lock()
	c.subs = append(c.subs, q)
	c.subsMu.Unlock()
	return q
}

// Unsubscribe removes a subscriber. Idempotent.
func (c *Client) Unsubscribe(sub Subscriber) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for i, s := range c.subs {
		if s == sub {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			return
		}
	}
}

// SwitchChannel moves the client to a different channel. The event
// buffer and sequence counter reset: history belongs to the old
// channel. When connected, the switch parts, joins and waits for join
// confirmation; an unconfirmed join (timeout or connection loss) is an
// error, though the target sticks and the next connection cycle joins
// it. When not connected, only the tracked target changes.
func (c *Client) SwitchChannel(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("channel name required")
	}
	if !strings.HasPrefix(name, "#") {
		name = "#" + name
	}

	c.queryMu.Lock()
	defer c.queryMu.Unlock()

	c.mu.Lock()
	old := c.channel
	c.channel = name
	c.events = nil
	c.seq = 0
	sess := c.sess
	active := c.state == StateActive
	var p *pendingQuery
	if active && sess != nil {
		c.joined = false
		p = &pendingQuery{kind: queryJoin, done: make(chan struct{})}
		c.pending = p
	}
	c.mu.Unlock()

	if p == nil {
		return nil
	}
	if old != "" && old != name {
		sess.send("PART " + old)
	}
	if err := sess.send("JOIN " + name); err != nil {
		c.clearPending(p)
		return err
	}
	select {
	case <-p.done:
		// Teardown also closes done; only a real 366 sets joined.
		c.mu.Lock()
		joined := c.joined
		c.mu.Unlock()
		if !joined {
			return fmt.Errorf("join %s not confirmed", name)
		}
		return nil
	case <-time.After(c.cfg.JoinTimeout):
		c.clearPending(p)
		return fmt.Errorf("join %s not confirmed", name)
	}
}

// ListChannels asks the server for its channel list and blocks until
// the end-of-list reply or a timeout, returning whatever entries
// accumulated. Returns nil when not connected.
func (c *Client) ListChannels() []wire.ListEntry {
	c.queryMu.Lock()
	defer c.queryMu.Unlock()

	p := c.beginQuery(queryList, "LIST")
	if p == nil {
		return nil
	}
	select {
	case <-p.done:
	case <-time.After(c.cfg.ListTimeout):
		c.clearPending(p)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return p.entries
}

// ListUsers returns the nicks present in the current channel, or nil
// when not connected.
func (c *Client) ListUsers() []string {
	c.queryMu.Lock()
	defer c.queryMu.Unlock()

	c.mu.Lock()
	channel := c.channel
	c.mu.Unlock()

	p := c.beginQuery(queryNames, "NAMES "+channel)
	if p == nil {
		return nil
	}
	select {
	case <-p.done:
	case <-time.After(c.cfg.NamesTimeout):
		c.clearPending(p)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return p.names
}

// Status is a non-blocking connection snapshot.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Connected: c.state == StateActive,
		Nick:      c.cfg.Nick,
		Channel:   c.channel,
	}
}

// State returns the current lifecycle state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) beginQuery(kind queryKind, request string) *pendingQuery {
	c.mu.Lock()
	sess := c.sess
	if c.state != StateActive || sess == nil {
		c.mu.Unlock()
		return nil
	}
	p := &pendingQuery{kind: kind, done: make(chan struct{})}
	c.pending = p
	c.mu.Unlock()

	if err := sess.send(request); err != nil {
		c.clearPending(p)
		return nil
	}
	return p
}

func (c *Client) clearPending(p *pendingQuery) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == p {
		c.pending = nil
	}
}

func (c *Client) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// teardown closes the socket and resets handshake state. A pending
// query is completed with whatever it has so its caller unblocks
// early instead of riding out the full timeout.
func (c *Client) teardown() {
	c.mu.Lock()
	if c.sess != nil {
		c.sess.close()
		c.sess = nil
	}
	c.state = StateDisconnected
	c.registered = false
	c.joined = false
	if p := c.pending; p != nil {
		c.pending = nil
		close(p.done)
	}
	c.mu.Unlock()
}
