// Package pool is the external-facing Pool Facade: the operations an
// HTTP layer or CLI calls, with no protocol encoding of its own. It
// owns construction of the Slot Table and Lifecycle Supervisor and
// exposes only the read/write surface those callers need.
package pool

import (
	"context"
	"log"

	"github.com/oddstack/browserpool/internal/agentlink"
	"github.com/oddstack/browserpool/internal/driver"
	"github.com/oddstack/browserpool/internal/lifecycle"
	"github.com/oddstack/browserpool/internal/slot"
)

// Pool is the single entry point wired up by cmd/browserpoold. It
// deliberately holds no package-level singleton — construct one per
// process and pass it through.
type Pool struct {
	table *slot.Table
	sup   *lifecycle.Supervisor
}

// New wires a Pool over a fresh Slot Table.
func New(cfg lifecycle.Config, runner driver.Runner, dialer agentlink.Dialer, logger *log.Logger) *Pool {
	table := slot.NewTable()
	sup := lifecycle.NewSupervisor(cfg, runner, dialer, table, logger)
	return &Pool{table: table, sup: sup}
}

// Init brings every slot up (full mode) or discovers existing
// containers (manage-only mode), optionally pulling the image first.
func (p *Pool) Init(ctx context.Context, pullOnStart bool) error {
	return p.sup.Init(ctx, pullOnStart)
}

// Browsers returns a snapshot of the in-memory Slot Table, index order.
func (p *Pool) Browsers() []slot.Slot {
	return p.table.Snapshot()
}

// BrowsersFromRuntime is the read-only inspect-from-runtime view,
// independent of in-memory state.
func (p *Pool) BrowsersFromRuntime(ctx context.Context) ([]slot.Slot, error) {
	return p.sup.BrowsersFromRuntime(ctx)
}

// FindById looks a slot up by the agent-assigned labels["id"].
func (p *Pool) FindById(id string) (slot.Slot, bool) {
	return p.table.FindByLabelID(id)
}

// FindBySession looks a slot up by its session ID.
func (p *Pool) FindBySession(sessionID string) (slot.Slot, bool) {
	return p.table.FindBySessionID(sessionID)
}

// Reserve hands out a Ready slot for leaseMinutes. ok=false means the
// pool is at capacity.
func (p *Pool) Reserve(leaseMinutes int) (slot.Slot, bool) {
	return p.sup.Reserve(leaseMinutes)
}

// Extend resets a Leased slot's timer.
func (p *Pool) Extend(name string, leaseMinutes int) error {
	return p.sup.Extend(name, leaseMinutes)
}

// SetInternals replaces a slot's session record wholesale — the entry
// point for a client attaching session/client/fingerprint/webhook
// metadata to a freshly-reserved slot.
func (p *Pool) SetInternals(name string, session slot.Session) (slot.Slot, error) {
	return p.table.Mutate(name, func(s *slot.Slot) { s.Session = session })
}

// SetVncPassword sets the opaque VNC password recorded after a
// successful launch.
func (p *Pool) SetVncPassword(name, password string) (slot.Slot, error) {
	return p.table.Mutate(name, func(s *slot.Slot) { s.VNCPassword = password })
}

// SetDebug toggles a slot's debug flag.
func (p *Pool) SetDebug(name string, debug bool) (slot.Slot, error) {
	return p.table.Mutate(name, func(s *slot.Slot) { s.Debug = debug })
}

// SetViewport records a slot's current viewport without touching its
// container (use ReInitWithResolution to actually resize the browser).
func (p *Pool) SetViewport(name string, vp slot.Viewport) (slot.Slot, error) {
	return p.table.Mutate(name, func(s *slot.Slot) { s.Viewport = vp })
}

// SetDefaultViewport changes the viewport newly-created slots receive.
func (p *Pool) SetDefaultViewport(vp slot.Viewport) {
	p.sup.SetDefaultViewport(vp)
}

// ReInitWithResolution is an atomic release-then-create of name with a
// new whitelisted viewport.
func (p *Pool) ReInitWithResolution(name, resolutionKey string) error {
	return p.sup.ReInitWithResolution(name, resolutionKey)
}

// Release explicitly terminates a lease.
func (p *Pool) Release(name string) error {
	return p.sup.Release(name)
}

// Shutdown suppresses re-creation and releases every slot.
func (p *Pool) Shutdown() {
	p.sup.Shutdown()
}
