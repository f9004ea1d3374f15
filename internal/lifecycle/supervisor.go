// Package lifecycle is the pool's state-machine core: it drives each
// slot from Empty through Creating/Ready/Leased/Expiring and back,
// owns the per-slot lease timers and agent links, and makes every
// slot state transition. The Pool Facade also writes to the Slot
// Table directly, for session, VNC password, debug, and viewport
// fields only.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oddstack/browserpool/internal/agentlink"
	"github.com/oddstack/browserpool/internal/driver"
	"github.com/oddstack/browserpool/internal/slot"
)

// Supervisor owns every state transition of a Table's slots. The Pool
// Facade also calls Table.Mutate, but only to set a slot's session,
// VNC password, debug flag, or viewport; every other caller observes
// through Get/Snapshot copies.
type Supervisor struct {
	cfg    Config
	runner driver.Runner
	dialer agentlink.Dialer
	table  *slot.Table
	logger *log.Logger
	client *http.Client

	events chan agentlink.Event

	linksMu sync.Mutex
	links   map[string]*agentlink.Link

	timersMu sync.Mutex
	timers   map[string]*time.Timer

	// resMu guards cfg.Resolution alone: every other Config field is
	// fixed at construction, but SetDefaultViewport lets the operator
	// change the viewport newly-created slots get.
	resMu sync.RWMutex

	shuttingDown atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSupervisor wires a Supervisor over an already-constructed Table.
// The event dispatch loop starts immediately; it has nothing to
// consume until Init opens the first Agent Link.
func NewSupervisor(cfg Config, runner driver.Runner, dialer agentlink.Dialer, table *slot.Table, logger *log.Logger) *Supervisor {
	if logger == nil {
		logger = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		cfg:    cfg,
		runner: runner,
		dialer: dialer,
		table:  table,
		logger: logger,
		client: &http.Client{},
		events: make(chan agentlink.Event, 64),
		links:  make(map[string]*agentlink.Link),
		timers: make(map[string]*time.Timer),
		ctx:    ctx,
		cancel: cancel,
	}
	go s.eventLoop()
	return s
}

// Init brings the pool up: ensureAvailable, optionally pullImage, then
// per-slot creation (full mode) or discovery (manage-only).
func (s *Supervisor) Init(ctx context.Context, pullOnStart bool) error {
	if err := s.runner.EnsureAvailable(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
	}
	if pullOnStart {
		if err := s.runner.PullImage(ctx, s.cfg.Image); err != nil {
			return fmt.Errorf("%w: %v", ErrImagePullFailed, err)
		}
	}
	if s.cfg.Mode == ModeManageOnly {
		return s.discover(ctx)
	}

	for i := 0; i < s.cfg.N; i++ {
		if err := s.createSlot(ctx, i); err != nil {
			if i == 0 {
				return fmt.Errorf("%w: %v", ErrFirstSlotCreateFailed, err)
			}
			s.logger.Printf("lifecycle: slot %d failed to start after %d attempts, leaving empty: %v", i, s.cfg.MaxRetries, err)
		}
	}
	return nil
}

// createSlot seeds a Slot record in state Empty, kills any stale
// container of the same name (errors ignored — it may not exist), and
// drives it through Creating.
func (s *Supervisor) createSlot(ctx context.Context, index int) error {
	name := s.cfg.nameFor(index)
	ports := s.cfg.portsFor(index)

	vp := s.defaultViewport()
	s.table.Put(slot.Slot{
		Name:     name,
		Index:    index,
		Ports:    ports,
		State:    slot.Empty,
		Viewport: vp,
		Labels:   map[string]string{},
	})

	_ = s.runner.Kill(ctx, name)

	return s.runAndTrackCreating(ctx, name, index, ports, vp)
}

// runAndTrackCreating launches the container up to MaxRetries times,
// killWaitTime apart, and on success moves the slot to Creating and
// opens its Agent Link. The slot stays Ready-eligible only once
// node:setState arrives.
func (s *Supervisor) runAndTrackCreating(ctx context.Context, name string, index int, ports slot.Ports, vp slot.Viewport) error {
	var lastErr error
	killWait := time.Duration(s.cfg.KillWaitTime) * time.Millisecond

	for attempt := 0; attempt < s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(killWait):
			}
		}

		if err := s.runContainer(ctx, name, ports, vp); err != nil {
			lastErr = err
			continue
		}

		s.table.Mutate(name, func(sl *slot.Slot) {
			sl.State = slot.Creating
			sl.CreatedAt = time.Now()
			sl.Viewport = vp
		})
		s.openLink(name, ports.App)
		return nil
	}
	return lastErr
}

func (s *Supervisor) runContainer(ctx context.Context, name string, ports slot.Ports, vp slot.Viewport) error {
	envs := make(map[string]string, len(s.cfg.LaunchArgs)+1)
	for k, v := range s.cfg.LaunchArgs {
		envs[k] = v
	}
	envs["XVFB_RESOLUTION"] = fmt.Sprintf("%dx%d", vp.Width, vp.Height)

	portMap := driver.PortMap{
		ports.App:      driver.InternalAppPort,
		ports.Debugger: driver.InternalDebuggerPort,
		ports.VNC:      driver.InternalVNCPort,
	}

	return s.runner.Run(ctx, name, s.cfg.Image, envs, portMap, s.cfg.AdditionalDockerArgs)
}

// openLink starts a reconnecting Agent Link for name, replacing any
// prior entry in the links table (the caller is responsible for
// having stopped it first, via closeLink).
func (s *Supervisor) openLink(name string, appPort int) {
	var host string
	switch {
	case s.cfg.Mode == ModeManageOnly:
		host = name // the container's own name, reachable on the runtime's network
	case s.cfg.ConnectionHost != "":
		host = s.cfg.ConnectionHost
	default:
		host = "localhost"
	}

	link := agentlink.New(name, agentlink.BuildURL(host, appPort), s.dialer, s.events, s.logger)
	link.OnDisconnect = s.handleDisconnect

	s.linksMu.Lock()
	s.links[name] = link
	s.linksMu.Unlock()

	link.Start(s.ctx)
}

// closeLink stops and forgets name's link. Safe to call from any
// goroutine except the link's own read loop (its OnDisconnect handler
// must not call this synchronously — see handleDisconnect).
func (s *Supervisor) closeLink(name string) {
	s.linksMu.Lock()
	l, ok := s.links[name]
	if ok {
		delete(s.links, name)
	}
	s.linksMu.Unlock()
	if ok {
		l.Stop()
	}
}

// handleDisconnect runs on the Link's own goroutine. It must return
// promptly: cancel the lease timer, mark the slot non-Ready, and (full
// mode, not shutting down) schedule a recreate. closeLink is deferred
// to a separate goroutine since it blocks on the calling link's own
// exit.
func (s *Supervisor) handleDisconnect(name string) {
	s.cancelTimer(name)
	s.table.Mutate(name, func(sl *slot.Slot) {
		if sl.State == slot.Ready || sl.State == slot.Leased {
			sl.State = slot.Creating
		}
	})
	go s.closeLink(name)

	if s.cfg.Mode == ModeManageOnly {
		return
	}
	if s.shuttingDown.Load() {
		return
	}
	go s.recreateAfterDelay(name)
}

const recreateDelay = 2 * time.Second

func (s *Supervisor) recreateAfterDelay(name string) {
	select {
	case <-time.After(recreateDelay):
	case <-s.ctx.Done():
		return
	}
	if s.shuttingDown.Load() {
		return
	}
	cur, ok := s.table.Get(name)
	if !ok {
		return
	}
	if err := s.runAndTrackCreating(s.ctx, name, cur.Index, cur.Ports, cur.Viewport); err != nil {
		s.logger.Printf("lifecycle: recreate for %s failed: %v", name, err)
	}
}

// eventLoop is the single consumer of agent events; it moves slots to
// Ready and maintains their labels. Reserve, Extend, release, container
// creation, and disconnect handling make the other state changes.
func (s *Supervisor) eventLoop() {
	for ev := range s.events {
		switch ev.Kind {
		case agentlink.KindSetState:
			s.handleSetState(ev)
		case agentlink.KindSetLabel, agentlink.KindSetParam:
			s.handleLabelUpsert(ev)
		case agentlink.KindDeleted:
			s.handleDeleted(ev)
		}
	}
}

func (s *Supervisor) handleSetState(ev agentlink.Event) {
	if _, ok := s.table.Get(ev.Slot); !ok {
		s.logger.Printf("lifecycle: setState for unknown slot %q ignored", ev.Slot)
		return
	}
	s.table.Mutate(ev.Slot, func(sl *slot.Slot) {
		sl.State = slot.Ready
		if sl.Labels == nil {
			sl.Labels = map[string]string{}
		}
		sl.Labels["id"] = ev.ID
		sl.Labels["ip"] = ev.IP
	})
}

func (s *Supervisor) handleLabelUpsert(ev agentlink.Event) {
	if _, ok := s.table.Get(ev.Slot); !ok {
		s.logger.Printf("lifecycle: setLabel for unknown slot %q ignored", ev.Slot)
		return
	}
	s.table.Mutate(ev.Slot, func(sl *slot.Slot) {
		if sl.Labels == nil {
			sl.Labels = map[string]string{}
		}
		sl.Labels[ev.LabelName] = ev.LabelValue
	})
}

func (s *Supervisor) handleDeleted(ev agentlink.Event) {
	sl, ok := s.table.Get(ev.Slot)
	if !ok {
		s.logger.Printf("lifecycle: deleted for unknown slot %q ignored", ev.Slot)
		return
	}
	go dispatchWebhook(s.logger, s.client, sl.Session, ev.IsError, ev.Message, ev.SessionData, ev.HasSessionData)
	if err := s.release(ev.Slot); err != nil {
		s.logger.Printf("lifecycle: release of %s on node:deleted failed: %v", ev.Slot, err)
	}
}

// Reserve hands out the first Ready slot (index order) and arms its
// lease timer. ok=false means the pool is at capacity — not an error.
func (s *Supervisor) Reserve(leaseMinutes int) (slot.Slot, bool) {
	deadline := time.Now().Add(time.Duration(leaseMinutes) * time.Minute)
	now := time.Now()
	updated, ok := s.table.ReserveFirstReady(func(sl *slot.Slot) {
		sl.State = slot.Leased
		sl.LeaseDeadline = deadline
		sl.LastUsed = now
	})
	if !ok {
		return slot.Slot{}, false
	}
	s.armTimer(updated.Name, time.Duration(leaseMinutes)*time.Minute)
	return updated, true
}

// Extend resets a Leased slot's timer without touching session state.
func (s *Supervisor) Extend(name string, leaseMinutes int) error {
	deadline := time.Now().Add(time.Duration(leaseMinutes) * time.Minute)
	updated, err := s.table.Mutate(name, func(sl *slot.Slot) {
		if sl.State != slot.Leased {
			return
		}
		sl.LeaseDeadline = deadline
	})
	if err != nil {
		return ErrSlotNotFound
	}
	if updated.State != slot.Leased || !updated.LeaseDeadline.Equal(deadline) {
		return ErrSlotNotLeased
	}
	s.armTimer(name, time.Duration(leaseMinutes)*time.Minute)
	return nil
}

// Release is the externally-triggered release path (explicit client
// request). It is idempotent: releasing an already-Empty slot is a
// no-op.
func (s *Supervisor) Release(name string) error {
	return s.release(name)
}

func (s *Supervisor) release(name string) error {
	cur, ok := s.table.Get(name)
	if !ok {
		return ErrSlotNotFound
	}
	if cur.State == slot.Empty || cur.IsRemoving {
		return nil
	}

	s.cancelTimer(name)
	s.table.Mutate(name, func(sl *slot.Slot) {
		sl.IsRemoving = true
		if sl.State == slot.Leased {
			sl.State = slot.Expiring
		}
	})
	s.closeLink(name)

	if s.cfg.Mode == ModeManageOnly {
		return s.releaseManageOnly(name, cur)
	}
	return s.releaseFull(name, cur)
}

func (s *Supervisor) releaseFull(name string, cur slot.Slot) error {
	killWait := time.Duration(s.cfg.KillWaitTime) * time.Millisecond
	var lastErr error
	stopped := false

	for attempt := 0; attempt < s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-s.ctx.Done():
				return s.ctx.Err()
			case <-time.After(killWait):
			}
		}
		err := s.runner.Stop(s.ctx, name)
		if err == nil || errors.Is(err, driver.ErrAlreadyGone) {
			stopped = true
			break
		}
		lastErr = err
	}
	if !stopped {
		return fmt.Errorf("lifecycle: stop %s: %w", name, lastErr)
	}

	s.table.Mutate(name, func(sl *slot.Slot) {
		sl.State = slot.Empty
		sl.Session = slot.Session{}
		sl.Labels = map[string]string{}
		sl.LeaseDeadline = time.Time{}
		sl.LastUsed = time.Time{}
		sl.IsRemoving = false
	})

	// A released slot is a hole in the pool: the container is torn
	// down and replaced (spec: releasing a lease never leaves a slot
	// permanently empty while the pool is up).
	if s.shuttingDown.Load() {
		return nil
	}
	return s.runAndTrackCreating(s.ctx, name, cur.Index, cur.Ports, cur.Viewport)
}

func (s *Supervisor) releaseManageOnly(name string, cur slot.Slot) error {
	if err := s.runner.Restart(s.ctx, name); err != nil && !errors.Is(err, driver.ErrAlreadyGone) {
		s.logger.Printf("lifecycle: restart %s failed: %v", name, err)
	}

	select {
	case <-time.After(recreateDelay):
	case <-s.ctx.Done():
	}

	s.table.Mutate(name, func(sl *slot.Slot) {
		sl.State = slot.Creating
		sl.Session = slot.Session{}
		sl.Labels = map[string]string{}
		sl.LeaseDeadline = time.Time{}
		sl.LastUsed = time.Time{}
		sl.IsRemoving = false
		// CreatedAt is deliberately untouched: manage-only release
		// restarts the existing container, it does not replace it.
	})

	if s.shuttingDown.Load() {
		return nil
	}
	s.openLink(name, cur.Ports.App)
	return nil
}

// ReInitWithResolution is an atomic release-then-create using a new
// whitelisted viewport.
func (s *Supervisor) ReInitWithResolution(name, resolutionKey string) error {
	vp, ok := WhitelistedResolutions[resolutionKey]
	if !ok {
		return ErrInvalidResolution
	}
	cur, ok := s.table.Get(name)
	if !ok {
		return ErrSlotNotFound
	}
	// Record the new viewport first: a full-mode release re-creates the
	// container from the slot's recorded viewport.
	s.table.Mutate(name, func(sl *slot.Slot) { sl.Viewport = vp })
	if err := s.release(name); err != nil {
		return err
	}
	if s.cfg.Mode == ModeFull && cur.State != slot.Empty {
		return nil // release has already re-created the container at vp
	}
	return s.runAndTrackCreating(s.ctx, name, cur.Index, cur.Ports, vp)
}

// Shutdown suppresses further re-creation, releases every slot, and
// stops background work.
func (s *Supervisor) Shutdown() {
	s.shuttingDown.Store(true)
	for _, name := range s.table.Names() {
		if err := s.release(name); err != nil {
			s.logger.Printf("lifecycle: shutdown release of %s failed: %v", name, err)
		}
	}
	s.cancel()
}

func (s *Supervisor) defaultViewport() slot.Viewport {
	s.resMu.RLock()
	defer s.resMu.RUnlock()
	return s.cfg.Resolution
}

// SetDefaultViewport changes the viewport newly-created slots receive.
// It does not touch any slot already up; use ReInitWithResolution for
// that.
func (s *Supervisor) SetDefaultViewport(vp slot.Viewport) {
	s.resMu.Lock()
	defer s.resMu.Unlock()
	s.cfg.Resolution = vp
}

func (s *Supervisor) armTimer(name string, d time.Duration) {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	if t, ok := s.timers[name]; ok {
		t.Stop()
	}
	s.timers[name] = time.AfterFunc(d, func() {
		if err := s.release(name); err != nil {
			s.logger.Printf("lifecycle: lease-expiry release of %s failed: %v", name, err)
		}
	})
}

func (s *Supervisor) cancelTimer(name string) {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	if t, ok := s.timers[name]; ok {
		t.Stop()
		delete(s.timers, name)
	}
}

// discover enumerates pre-existing containers sharing the configured
// prefix (manage-only mode init). Extras beyond N are ignored.
func (s *Supervisor) discover(ctx context.Context) error {
	names, err := s.runner.ListByPrefix(ctx, s.cfg.Prefix)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
	}
	sort.Strings(names)

	for i, name := range names {
		if i >= s.cfg.N {
			s.logger.Printf("lifecycle: discovered container %q beyond pool size %d, ignoring", name, s.cfg.N)
			break
		}
		index := s.indexFromName(name, i)

		insp, err := s.runner.Inspect(ctx, name)
		if err != nil {
			s.logger.Printf("lifecycle: inspect %q failed, skipping: %v", name, err)
			continue
		}

		s.table.Put(slot.Slot{
			Name:      name,
			Index:     index,
			Ports:     portsFromInspection(insp, s.cfg, index),
			State:     slot.Creating,
			CreatedAt: insp.CreatedAt,
			Viewport:  s.defaultViewport(),
			Labels:    map[string]string{},
		})
		s.openLink(name, portsFromInspection(insp, s.cfg, index).App)
	}
	return nil
}

// indexFromName derives a slot's pool index from the trailing numeric
// suffix of its container name (prefix-<basePort+index>); out-of-range
// or unparseable suffixes fall back to positional order.
func (s *Supervisor) indexFromName(name string, positional int) int {
	trimmed := strings.TrimPrefix(name, s.cfg.Prefix+"-")
	suffix, err := strconv.Atoi(trimmed)
	if err != nil {
		return positional
	}
	idx := suffix - s.cfg.BaseBrowserPort
	if idx < 0 || idx >= s.cfg.N {
		return positional
	}
	return idx
}

// portsFromInspection maps a container's published ports back onto
// {app, debugger, vnc} using the fixed internal port numbers (run-side
// constants are authoritative; see driver.ParsePortsLine for why these
// differ from the ps-column table). Any port inspect didn't report
// falls back to its configured formula.
func portsFromInspection(insp *driver.Inspection, cfg Config, index int) slot.Ports {
	p := slot.Ports{}
	for host, internal := range insp.Ports {
		switch internal {
		case driver.InternalAppPort:
			p.App = host
		case driver.InternalDebuggerPort:
			p.Debugger = host
		case driver.InternalVNCPort:
			p.VNC = host
		}
	}
	if p.App == 0 {
		p.App = cfg.BaseAppPort + index
	}
	if p.Debugger == 0 {
		p.Debugger = cfg.BaseBrowserPort + index
	}
	if p.VNC == 0 {
		p.VNC = cfg.BaseVNCPort + index
	}
	return p
}

// BrowsersFromRuntime is the read-only inspect-from-runtime side
// channel: it reconstructs Slot-shaped records directly from the
// runtime, independent of the in-memory table, for diagnostics.
func (s *Supervisor) BrowsersFromRuntime(ctx context.Context) ([]slot.Slot, error) {
	names, err := s.runner.ListByPrefix(ctx, s.cfg.Prefix)
	if err != nil {
		return nil, err
	}

	out := make([]slot.Slot, 0, len(names))
	for i, name := range names {
		insp, err := s.runner.Inspect(ctx, name)
		if err != nil {
			s.logger.Printf("lifecycle: inspect %q failed during runtime scan, skipping: %v", name, err)
			continue
		}
		state := slot.Empty
		if insp.Running {
			state = slot.Ready
		}
		out = append(out, slot.Slot{
			Name:      name,
			Index:     s.indexFromName(name, i),
			Ports:     portsFromInspection(insp, s.cfg, i),
			State:     state,
			CreatedAt: insp.CreatedAt,
			Labels:    insp.Labels,
		})
	}
	return out, nil
}
