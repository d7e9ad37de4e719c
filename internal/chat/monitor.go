package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/astrohq/astrochat-go/internal/wire"
)

// MonitorNick is the passive monitor's default identity, distinct from
// the interactive client so both connections can coexist.
const MonitorNick = "astro-log"

// EventStore is the durable sink the monitor writes through. Satisfied
// by store.Store; kept narrow here so tests can hand the monitor a
// recording fake.
type EventStore interface {
	Append(ctx context.Context, ev Event) error
	AddMonitored(ctx context.Context, channel string) error
	Monitored(ctx context.Context) ([]string, error)
}

// MonitorConfig configures a passive Monitor.
type MonitorConfig struct {
	Nick     string
	RealName string
	Dial     Dialer
	Store    EventStore

	ReconnectDelay      time.Duration // default 5s
	RegistrationTimeout time.Duration // default 15s
	ReadTimeout         time.Duration // default 5s
	ScanInterval        time.Duration // default 10s
}

func (c *MonitorConfig) fillDefaults() {
	if c.Nick == "" {
		c.Nick = MonitorNick
	}
	if c.RealName == "" {
		c.RealName = "Astro Chat Monitor"
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.RegistrationTimeout == 0 {
		c.RegistrationTimeout = 15 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 5 * time.Second
	}
	if c.ScanInterval == 0 {
		c.ScanInterval = 10 * time.Second
	}
}

// Monitor observes every channel on the server under its own identity
// and persists all traffic to the durable log. On connect it rejoins
// the persisted channel set (which re-creates channels the server
// dropped when empty), then rescans the server's channel list on a
// fixed interval, joining and persisting anything new.
type Monitor struct {
	cfg MonitorConfig

	mu          sync.Mutex
	sess        *session
	registered  bool
	connected   bool
	joined      map[string]bool
	scanEntries map[string]wire.ListEntry
	directory   []ChannelInfo
	running     bool
	cancel      context.CancelFunc
}

// NewMonitor creates a stopped monitor. Call Start to connect.
func NewMonitor(cfg MonitorConfig) *Monitor {
	cfg.fillDefaults()
	return &Monitor{
		cfg:    cfg,
		joined: make(map[string]bool),
	}
}

// Start runs the connect/scan/read loop until ctx is cancelled or Stop
// is called.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("monitor already running")
	}
	m.running = true
	ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	for {
		err := m.runOnce(ctx)
		m.teardown()
		if ctx.Err() != nil {
			m.mu.Lock()
			m.running = false
			m.mu.Unlock()
			return nil
		}
		if err != nil {
			log.Printf("[Monitor] Connection lost: %v", err)
		}
		select {
		case <-ctx.Done():
			m.mu.Lock()
			m.running = false
			m.mu.Unlock()
			return nil
		case <-time.After(m.cfg.ReconnectDelay):
		}
	}
}

// Stop cancels the worker and closes the socket.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	sess := m.sess
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if sess != nil {
		sess.close()
	}
}

// IsRunning reports whether the worker loop is active.
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Directory returns the channel set from the most recent discovery
// scan, merged with the durable monitored set, sorted by name.
func (m *Monitor) Directory() []ChannelInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ChannelInfo, len(m.directory))
	copy(out, m.directory)
	return out
}

// Status is a non-blocking connection snapshot.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{Connected: m.connected, Nick: m.cfg.Nick}
}

func (m *Monitor) runOnce(ctx context.Context) error {
	conn, err := m.cfg.Dial(ctx)
	if err != nil {
		return err
	}
	sess := newSession(conn)

	m.mu.Lock()
	m.sess = sess
	m.registered = false
	m.joined = make(map[string]bool)
	m.mu.Unlock()

	if err := sess.send("NICK " + m.cfg.Nick); err != nil {
		return err
	}
	if err := sess.send(fmt.Sprintf("USER %s 0 * :%s", m.cfg.Nick, m.cfg.RealName)); err != nil {
		return err
	}

	err = sess.await(m.cfg.RegistrationTimeout,
		func(line string) { m.handleLine(ctx, sess, line) },
		func() bool {
			m.mu.Lock()
			defer m.mu.Unlock()
			return m.registered
		})
	if err != nil {
		return fmt.Errorf("registration not confirmed: %w", err)
	}

	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()
	log.Printf("[Monitor] Connected as %s", m.cfg.Nick)

	m.rejoinPersisted(ctx, sess)
	return m.mainLoop(ctx, sess)
}

// mainLoop interleaves normal traffic with periodic discovery scans.
// LIST requests are fire-and-forget; their replies are consumed on the
// same read path as everything else, so a scan never blocks logging.
func (m *Monitor) mainLoop(ctx context.Context, sess *session) error {
	m.beginScan(sess)
	lastScan := time.Now()

	for {
		if ctx.Err() != nil {
			return nil
		}
		lines, err := sess.readLines(m.cfg.ReadTimeout)
		if errors.Is(err, errReadTimeout) {
			if time.Since(lastScan) > m.cfg.ScanInterval {
				m.beginScan(sess)
				lastScan = time.Now()
			}
			sess.send(fmt.Sprintf("PING :%d", time.Now().Unix()))
			continue
		}
		if err != nil {
			return err
		}
		for _, line := range lines {
			m.handleLine(ctx, sess, line)
		}
		if time.Since(lastScan) > m.cfg.ScanInterval {
			m.beginScan(sess)
			lastScan = time.Now()
		}
	}
}

// rejoinPersisted joins every channel recorded in the durable set, so
// a restart resumes coverage before the first scan completes.
func (m *Monitor) rejoinPersisted(ctx context.Context, sess *session) {
	channels, err := m.cfg.Store.Monitored(ctx)
	if err != nil {
		log.Printf("[Monitor] Loading monitored channels failed: %v", err)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range channels {
		if !m.joined[ch] {
			sess.send("JOIN " + ch)
			m.joined[ch] = true
			log.Printf("[Monitor] Rejoined persisted %s", ch)
		}
	}
}

func (m *Monitor) beginScan(sess *session) {
	m.mu.Lock()
	m.scanEntries = make(map[string]wire.ListEntry)
	m.mu.Unlock()
	sess.send("LIST")
}

// finishScan merges scan results with the durable set, refreshes the
// directory snapshot, and joins and persists anything new.
func (m *Monitor) finishScan(ctx context.Context, sess *session) {
	persisted, err := m.cfg.Store.Monitored(ctx)
	if err != nil {
		log.Printf("[Monitor] Loading monitored channels failed: %v", err)
	}

	m.mu.Lock()
	merged := make(map[string]ChannelInfo, len(m.scanEntries)+len(persisted))
	for name, entry := range m.scanEntries {
		merged[name] = ChannelInfo{Name: name, Users: entry.Users, Topic: entry.Topic}
	}
	for _, name := range persisted {
		if _, ok := merged[name]; !ok {
			merged[name] = ChannelInfo{Name: name}
		}
	}

	directory := make([]ChannelInfo, 0, len(merged))
	var newJoins []string
	for name, info := range merged {
		directory = append(directory, info)
		if !m.joined[name] {
			m.joined[name] = true
			newJoins = append(newJoins, name)
		}
	}
	sort.Slice(directory, func(i, j int) bool { return directory[i].Name < directory[j].Name })
	sort.Strings(newJoins)
	m.directory = directory
	m.scanEntries = nil
	m.mu.Unlock()

	for _, name := range newJoins {
		sess.send("JOIN " + name)
		if err := m.cfg.Store.AddMonitored(ctx, name); err != nil {
			log.Printf("[Monitor] Persisting channel %s failed: %v", name, err)
		}
		log.Printf("[Monitor] Joined %s", name)
	}
}

func (m *Monitor) handleLine(ctx context.Context, sess *session, line string) {
	res := wire.Classify(line, m.cfg.Nick)
	switch {
	case res.HasPong:
		sess.send("PONG :" + res.PongToken)
	case res.Registered:
		m.mu.Lock()
		m.registered = true
		m.mu.Unlock()
	case res.ListEntry != nil:
		m.mu.Lock()
		if m.scanEntries != nil {
			m.scanEntries[res.ListEntry.Name] = *res.ListEntry
		}
		m.mu.Unlock()
	case res.ListDone:
		m.finishScan(ctx, sess)
	case res.Msg != nil:
		m.persistMessage(ctx, res.Msg)
	}
}

// persistMessage writes one observed event to the durable log. A QUIT
// has no channel of its own, so it fans out to every channel the
// monitor has joined. Write failures are logged and skipped: the next
// event gets a fresh attempt.
func (m *Monitor) persistMessage(ctx context.Context, msg *wire.Message) {
	if wire.IsSelf(msg.Sender, m.cfg.Nick) {
		return
	}
	ts := now()
	var channels []string
	if msg.Kind == wire.KindQuit {
		m.mu.Lock()
		for ch := range m.joined {
			channels = append(channels, ch)
		}
		m.mu.Unlock()
		sort.Strings(channels)
	} else {
		if msg.Channel == "" {
			return
		}
		channels = []string{msg.Channel}
	}
	for _, ch := range channels {
		ev := Event{
			Channel:   ch,
			Sender:    msg.Sender,
			Text:      msg.Text,
			Kind:      msg.Kind,
			Timestamp: ts,
		}
		if err := m.cfg.Store.Append(ctx, ev); err != nil {
			log.Printf("[Monitor] Persist failed (%s): %v", ch, err)
		}
	}
}

// teardown closes the socket and resets per-connection state. The
// directory snapshot survives so readers keep the last known view
// while the monitor reconnects.
func (m *Monitor) teardown() {
	m.mu.Lock()
	if m.sess != nil {
		m.sess.close()
		m.sess = nil
	}
	m.connected = false
	m.registered = false
	m.joined = make(map[string]bool)
	m.scanEntries = nil
	m.mu.Unlock()
}
