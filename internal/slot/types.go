// Package slot defines the pool's core data model: one record per pool
// position, its port assignments, and the indexed table that owns the
// full set of slots.
package slot

import "time"

// State is one of the five positions a slot occupies in its lifecycle.
type State string

const (
	Empty    State = "empty"
	Creating State = "creating"
	Ready    State = "ready"
	Leased   State = "leased"
	Expiring State = "expiring"
)

// Ports holds the three external ports leased alongside a browser.
type Ports struct {
	App      int
	Debugger int
	VNC      int
}

// Viewport is the browser's rendered window size.
type Viewport struct {
	Width  int
	Height int
}

// Session describes the client-visible lease attached to a Leased slot.
// Every field is the zero value when the slot is not leased.
type Session struct {
	SessionID     string
	ClientID      string
	FingerprintID string
	Driver        string
	Webhook       string
	ReportKey     string
	SessionUUID   string
}

// Empty reports whether every field of the session is unset.
func (s Session) Empty() bool {
	return s == Session{}
}

// Slot is one pool position. A Slot is created at pool init and never
// reparented or renamed; its Name, Index, and Ports are fixed for its
// lifetime.
type Slot struct {
	Name  string
	Index int
	Ports Ports

	State State

	CreatedAt     time.Time
	LastUsed      time.Time
	LeaseDeadline time.Time

	Viewport Viewport
	Labels   map[string]string
	Session  Session

	VNCPassword string
	Debug       bool

	// IsRemoving is set for the duration of a release so that concurrent
	// observers (a reserve racing a release) can skip the slot even
	// though its State field hasn't yet settled back to Empty.
	IsRemoving bool
}

// clone returns a deep copy safe to hand to callers outside the Table's
// lock.
func (s Slot) clone() Slot {
	out := s
	if s.Labels != nil {
		out.Labels = make(map[string]string, len(s.Labels))
		for k, v := range s.Labels {
			out.Labels[k] = v
		}
	}
	return out
}

// Available reports whether the slot can be handed out by a reserve
// call (invariant 4 in spec.md §3).
func (s Slot) Available() bool {
	return s.State == Ready && !s.IsRemoving
}
