package chat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/astrohq/astrochat-go/internal/wire"
)

// Dialer opens the raw transport. Injected so tests can hand the
// agents a scripted net.Pipe end instead of a live server.
type Dialer func(ctx context.Context) (net.Conn, error)

// TCPDialer returns a Dialer for a plain TCP connection with Nagle
// disabled, matching the latency profile a chat UI wants.
func TCPDialer(host string, port int) Dialer {
	addr := fmt.Sprintf("%s:%d", host, port)
	return func(ctx context.Context) (net.Conn, error) {
		d := net.Dialer{Timeout: 10 * time.Second}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		if tcp, ok := conn.(*net.TCPConn); ok {
			tcp.SetNoDelay(true)
		}
		return conn, nil
	}
}

// errReadTimeout marks a read deadline expiry, which is a routine
// wakeup for the worker loop, not a connection failure.
var errReadTimeout = errors.New("read timed out")

// session owns one live socket and its framing state. Only the agent's
// worker goroutine ever touches it.
type session struct {
	conn net.Conn
	buf  wire.LineBuffer
}

func newSession(conn net.Conn) *session {
	return &session{conn: conn}
}

// send writes one protocol line, appending the CR-LF terminator.
func (s *session) send(line string) error {
	_, err := s.conn.Write([]byte(line + "\r\n"))
	return err
}

// readLines blocks up to timeout for socket data and returns the
// complete lines it produced. A deadline expiry returns errReadTimeout;
// any other error (including a clean EOF) means the connection is gone.
func (s *session) readLines(timeout time.Duration) ([]string, error) {
	s.conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 8192)
	n, err := s.conn.Read(buf)
	if n > 0 {
		return s.buf.Feed(buf[:n]), nil
	}
	if err == nil {
		return nil, nil
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return nil, errReadTimeout
	}
	return nil, err
}

// await pumps lines through process until done reports true or the
// deadline passes. Used for the bounded registration and join phases
// of the handshake.
func (s *session) await(timeout time.Duration, process func(string), done func() bool) error {
	deadline := time.Now().Add(timeout)
	for {
		if done() {
			return nil
		}
		wait := time.Until(deadline)
		if wait <= 0 {
			break
		}
		if wait > 2*time.Second {
			wait = 2 * time.Second
		}
		lines, err := s.readLines(wait)
		if err != nil && !errors.Is(err, errReadTimeout) {
			return err
		}
		for _, line := range lines {
			process(line)
		}
	}
	if done() {
		return nil
	}
	return errors.New("timed out")
}

func (s *session) close() {
	if s.conn != nil {
		s.conn.Close()
	}
}
