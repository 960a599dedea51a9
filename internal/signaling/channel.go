package signaling

import (
	"encoding/json"
	"log/slog"
	"net"
	"regexp"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clipcast/clipcast-cli/internal/dns"
)

const (
	writeWait      = 10 * time.Second
	readWait       = 60 * time.Second
	pingPeriod     = (readWait * 9) / 10
	maxMessageSize = 256 * 1024
)

// State is the connectivity state of the Channel.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// conn is the slice of *websocket.Conn the Channel uses. Tests substitute
// an in-memory fake.
type conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Channel maintains exactly one persistent connection to a room-scoped
// signaling endpoint, carrying JSON text frames in both directions.
// There is no automatic reconnect: a drop is reported through the state
// callback only, and the orchestration layer decides whether to dial
// again with a freshly built URL.
type Channel struct {
	dial func(rawURL string) (conn, error)

	mu       sync.Mutex
	conn     conn
	state    State
	onState  func(State)
	pingDone chan struct{}

	// deliverMu serializes listener calls and guards listener teardown,
	// so Disconnect can guarantee no delivery happens after it returns
	// without blocking writers behind a slow listener.
	deliverMu sync.Mutex
	listener  func(Event)
}

// NewChannel creates a disconnected channel. The listener receives every
// non-keepalive inbound event in arrival order; onState observes
// connectivity transitions. Both may be nil.
func NewChannel(listener func(Event), onState func(State)) *Channel {
	return &Channel{
		dial:     dialWebsocket,
		listener: listener,
		onState:  onState,
		state:    StateClosed,
	}
}

// dialWebsocket opens the underlying transport, resolving the host
// through the fallback DNS path first.
func dialWebsocket(rawURL string) (conn, error) {
	dialer := *websocket.DefaultDialer
	dialer.NetDial = func(network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		resolved, err := dns.Lookup(host)
		if err != nil {
			return nil, err
		}
		return net.Dial(network, net.JoinHostPort(resolved, port))
	}

	c, _, err := dialer.Dial(rawURL, nil)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// State reports the current connectivity state.
func (ch *Channel) State() State {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

// Connect opens the transport. While a connection exists or is pending
// the call is a no-op. The bearer token inside url is never logged.
func (ch *Channel) Connect(rawURL string) error {
	ch.mu.Lock()
	if ch.state != StateClosed {
		ch.mu.Unlock()
		slog.Debug("signaling connect skipped, channel busy", "state", ch.state.String())
		return nil
	}
	ch.state = StateConnecting
	ch.mu.Unlock()
	ch.notifyState(StateConnecting)

	slog.Debug("connecting signaling channel", "url", RedactURL(rawURL))

	c, err := ch.dial(rawURL)
	if err != nil {
		ch.mu.Lock()
		ch.state = StateClosed
		ch.mu.Unlock()
		ch.notifyState(StateClosed)
		return err
	}

	c.SetReadLimit(maxMessageSize)
	c.SetReadDeadline(time.Now().Add(readWait))

	ch.mu.Lock()
	ch.conn = c
	ch.pingDone = make(chan struct{})
	ch.state = StateOpen
	ch.mu.Unlock()
	ch.notifyState(StateOpen)

	go ch.readPump(c)
	go ch.pingLoop(c, ch.pingDone)
	return nil
}

// Send serializes msg and writes it if the channel is open. A false
// return means the message was not transmitted and will not be; callers
// surface a not-connected condition instead of retrying.
func (ch *Channel) Send(msg Message) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshal outbound message", "action", msg.Action, "err", err)
		return false
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.state != StateOpen || ch.conn == nil {
		slog.Warn("signaling send while not connected", "action", msg.Action)
		return false
	}
	ch.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ch.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Warn("signaling write failed", "action", msg.Action, "err", err)
		return false
	}
	return true
}

// Disconnect closes the transport if open. No inbound events are
// delivered after it returns. Safe to call more than once.
func (ch *Channel) Disconnect() {
	ch.mu.Lock()
	c := ch.conn
	ch.conn = nil
	if ch.pingDone != nil {
		close(ch.pingDone)
		ch.pingDone = nil
	}
	wasOpen := ch.state != StateClosed
	ch.state = StateClosed
	ch.mu.Unlock()
	if wasOpen {
		ch.notifyState(StateClosed)
	}

	// Dropping the listener under deliverMu means a concurrent delivery
	// either completed before this point or never happens.
	ch.deliverMu.Lock()
	ch.listener = nil
	ch.deliverMu.Unlock()

	if c != nil {
		c.Close()
	}
}

// readPump decodes inbound frames and forwards them in arrival order.
// Malformed frames are logged and dropped; keepalives are swallowed.
func (ch *Channel) readPump(c conn) {
	defer ch.closeFromPump(c)

	for {
		_, frame, err := c.ReadMessage()
		if err != nil {
			return
		}
		c.SetReadDeadline(time.Now().Add(readWait))

		event, err := ParseEvent(frame)
		if err != nil {
			slog.Warn("dropping malformed signaling frame", "err", err)
			continue
		}
		if _, ok := event.(Keepalive); ok {
			continue
		}

		ch.deliverMu.Lock()
		if ch.listener != nil {
			ch.listener(event)
		}
		ch.deliverMu.Unlock()
	}
}

// closeFromPump handles a transport drop discovered by the read pump.
// Disconnect may already have run; in that case everything below no-ops.
func (ch *Channel) closeFromPump(c conn) {
	c.Close()
	ch.mu.Lock()
	if ch.conn != c {
		ch.mu.Unlock()
		return
	}
	ch.conn = nil
	if ch.pingDone != nil {
		close(ch.pingDone)
		ch.pingDone = nil
	}
	ch.state = StateClosed
	ch.mu.Unlock()
	ch.notifyState(StateClosed)
}

// pingLoop keeps the server-side liveness timer fed. The server answers
// with a pong-tagged frame, which the read pump swallows.
func (ch *Channel) pingLoop(c conn, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	ping, _ := json.Marshal(newPing())
	for {
		select {
		case <-ticker.C:
			ch.mu.Lock()
			if ch.conn != c {
				ch.mu.Unlock()
				return
			}
			c.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.WriteMessage(websocket.TextMessage, ping)
			ch.mu.Unlock()
			if err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// notifyState runs the state callback outside ch.mu, so a callback may
// reenter the channel (State, Send) without deadlocking. onState is set
// once at construction and never mutated.
func (ch *Channel) notifyState(s State) {
	if ch.onState != nil {
		ch.onState(s)
	}
}

var tokenPattern = regexp.MustCompile(`token=[^&]+`)

// RedactURL masks the bearer credential in a signaling URL so it can be
// logged safely.
func RedactURL(rawURL string) string {
	return tokenPattern.ReplaceAllString(rawURL, "token=***")
}
