// Package agentsim simulates the in-container browser agent from the
// accept side of an internal/agentlink.Link: it upgrades one WebSocket
// connection per slot and lets a caller push the four-event vocabulary
// (spec.md §6) down it, the way a real agent would as CDP and the
// browser process change state. Adapted from the teacher's
// internal/harness, which drives the real agent process; harness's
// git-clone-and-execute steps have no analogue here, so only its
// daemon/reporter shape (report state over HTTP, one process per unit
// of work) survives, repurposed onto the WebSocket wire.
package agentsim

import (
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oddstack/browserpool/internal/agentlink"
)

// Agent is a single simulated in-container agent. It serves the same
// "/browser:container:event" path a real agent exposes, and exports
// methods to emit each of the four event kinds once a Link dials in.
type Agent struct {
	id     string
	logger *log.Logger

	upgrader websocket.Upgrader

	mu          sync.Mutex
	conn        *websocket.Conn
	connectedCh chan struct{}
}

// New constructs an Agent identified by id (used only in log lines).
func New(id string, logger *log.Logger) *Agent {
	if logger == nil {
		logger = log.Default()
	}
	return &Agent{
		id:     id,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		connectedCh: make(chan struct{}),
	}
}

// Handler returns the HTTP handler a container's app port would serve.
func (a *Agent) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/browser:container:event", a.handleConnect)
	return mux
}

func (a *Agent) handleConnect(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Printf("agentsim[%s]: upgrade failed: %v", a.id, err)
		return
	}

	a.mu.Lock()
	a.conn = conn
	close(a.connectedCh)
	a.mu.Unlock()

	go a.drain(conn)
}

// drain discards anything the Link writes to us (it sends only pings,
// which the connection's default ping handler answers while drain
// reads) and notices the socket going away so a later reconnect
// re-arms WaitConnected.
func (a *Agent) drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			a.mu.Lock()
			if a.conn == conn {
				a.conn = nil
				a.connectedCh = make(chan struct{})
			}
			a.mu.Unlock()
			return
		}
	}
}

// WaitConnected blocks until a Link has dialed in, or timeout elapses.
func (a *Agent) WaitConnected(timeout time.Duration) bool {
	a.mu.Lock()
	ch := a.connectedCh
	a.mu.Unlock()
	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (a *Agent) send(data []byte) error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("agentsim[%s]: not connected", a.id)
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// SetState announces the CDP target id and reachable IP, the event a
// real agent sends once the browser process is up (spec.md §6).
func (a *Agent) SetState(id, ip string) error {
	return a.send(agentlink.EncodeSetState(id, ip))
}

// SetLabel attaches a label, e.g. the session's client id.
func (a *Agent) SetLabel(name, value string) error {
	return a.send(agentlink.EncodeSetLabel(name, value))
}

// SetParam is semantically identical to SetLabel (spec.md §4.2).
func (a *Agent) SetParam(param, value string) error {
	return a.send(agentlink.EncodeSetParam(param, value))
}

// Deleted announces session teardown, optionally carrying session
// data to forward to a webhook.
func (a *Agent) Deleted(isError bool, message string, sessionData *string) error {
	return a.send(agentlink.EncodeDeleted(isError, message, sessionData))
}
