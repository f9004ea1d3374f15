package agentlink

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

const (
	maxReconnectAttempts = 15
	initialBackoff       = 1 * time.Second
	maxBackoff           = 10 * time.Second
	connectTimeout       = 5 * time.Second

	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10
)

// Conn is the minimal surface Link needs from a WebSocket connection,
// narrowed from *websocket.Conn so tests can substitute a fake.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

// Dialer opens a Conn to url. The production Dialer wraps
// gorilla/websocket's DefaultDialer (teacher: internal/ws, which uses
// the same library on the accept side); Link uses it on the dial
// side, reconnecting to the in-container agent instead of accepting
// browser-UI clients.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

type gorillaDialer struct{}

// NewDialer returns the production gorilla/websocket-backed Dialer.
func NewDialer() Dialer { return gorillaDialer{} }

func (gorillaDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d := websocket.Dialer{HandshakeTimeout: connectTimeout}
	conn, _, err := d.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Link is the per-slot reconnecting event channel to a single
// in-container agent (spec.md §4.2).
type Link struct {
	slotName string
	url      string
	dialer   Dialer
	logger   *log.Logger

	events chan<- Event

	// OnConnect and OnDisconnect are invoked by the read loop.
	// OnConnect is a logging hook only (spec.md: "On connect, log
	// only"); OnDisconnect is where the supervisor cancels the lease
	// timer, marks the slot non-Ready, and (in full-lifecycle mode)
	// schedules container re-creation.
	OnConnect    func(slotName string)
	OnDisconnect func(slotName string)

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Link for the given slot. url is the ws:// endpoint
// to the in-container agent's event channel (see BuildURL).
func New(slotName, url string, dialer Dialer, events chan<- Event, logger *log.Logger) *Link {
	if logger == nil {
		logger = log.Default()
	}
	return &Link{
		slotName: slotName,
		url:      url,
		dialer:   dialer,
		logger:   logger,
		events:   events,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// BuildURL constructs the ws:// URL for a slot's agent, per spec.md
// §4.2: localhost in full-lifecycle mode, the configured connection
// host when set, or the container's own name in manage-only mode.
func BuildURL(host string, appPort int) string {
	return fmt.Sprintf("ws://%s:%d/browser:container:event", host, appPort)
}

// Start begins connecting in the background. It returns immediately;
// call Stop to tear the link down.
func (l *Link) Start(ctx context.Context) {
	go l.run(ctx)
}

// Stop tears the link down and waits for its goroutine to exit.
func (l *Link) Stop() {
	close(l.stopCh)
	<-l.doneCh
}

func (l *Link) run(ctx context.Context) {
	defer close(l.doneCh)

	for {
		conn, connected := l.connectWithRetry(ctx)
		if !connected {
			return // context cancelled or Stop called mid-retry
		}

		if l.OnConnect != nil {
			l.OnConnect(l.slotName)
		}

		// ReadMessage blocks until the peer sends, errors, or the conn
		// is closed; watch stopCh/ctx alongside it so Stop() can
		// unblock a read in progress instead of waiting on it forever.
		// The same goroutine sends a ping every pingEvery; the peer's
		// pongs extend the read deadline readLoop sets.
		unblock := make(chan struct{})
		go func() {
			ping := time.NewTicker(pingEvery)
			defer ping.Stop()
			for {
				select {
				case <-l.stopCh:
					conn.Close()
					return
				case <-ctx.Done():
					conn.Close()
					return
				case <-unblock:
					return
				case <-ping.C:
					if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
						conn.Close()
						return
					}
				}
			}
		}()

		l.readLoop(ctx, conn)
		close(unblock)
		conn.Close()

		stopping := false
		select {
		case <-l.stopCh:
			stopping = true
		case <-ctx.Done():
			stopping = true
		default:
		}

		// OnDisconnect signals an unplanned drop; an intentional Stop
		// or context cancellation is not one.
		if !stopping && l.OnDisconnect != nil {
			l.OnDisconnect(l.slotName)
		}
		if stopping {
			return
		}
	}
}

// connectWithRetry dials up to maxReconnectAttempts times with
// exponential backoff (spec.md §4.2: "up to 15 attempts, 1-second
// initial backoff, 5-second connect timeout").
func (l *Link) connectWithRetry(ctx context.Context) (Conn, bool) {
	backoff := initialBackoff
	for attempt := 0; attempt < maxReconnectAttempts; attempt++ {
		dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		conn, err := l.dialer.Dial(dialCtx, l.url)
		cancel()
		if err == nil {
			return conn, true
		}
		l.logger.Printf("agentlink[%s]: connect attempt %d/%d failed: %v", l.slotName, attempt+1, maxReconnectAttempts, err)

		select {
		case <-l.stopCh:
			return nil, false
		case <-ctx.Done():
			return nil, false
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
	l.logger.Printf("agentlink[%s]: giving up after %d attempts", l.slotName, maxReconnectAttempts)
	return nil, false
}

func (l *Link) readLoop(ctx context.Context, conn Conn) {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		ev, ok := decodeEvent(l.slotName, msg)
		if !ok {
			// unknown event kind; logged and ignored per spec.md §7
			l.logger.Printf("agentlink[%s]: ignoring unrecognized event: %s", l.slotName, msg)
			continue
		}
		select {
		case l.events <- ev:
		case <-l.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}
