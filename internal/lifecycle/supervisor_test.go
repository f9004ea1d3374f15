package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddstack/browserpool/internal/agentlink"
	"github.com/oddstack/browserpool/internal/driver"
	"github.com/oddstack/browserpool/internal/slot"
)

// testConn is a minimal in-memory agentlink.Conn driven by a test.
type testConn struct {
	mu       sync.Mutex
	messages chan []byte
	closed   bool
}

func newTestConn() *testConn { return &testConn{messages: make(chan []byte, 16)} }

func (c *testConn) ReadMessage() (int, []byte, error) {
	msg, ok := <-c.messages
	if !ok {
		return 0, nil, errors.New("closed")
	}
	return 1, msg, nil
}
func (c *testConn) WriteMessage(int, []byte) error  { return nil }
func (c *testConn) SetReadDeadline(time.Time) error { return nil }
func (c *testConn) SetPongHandler(func(string) error) {}
func (c *testConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		close(c.messages)
		c.closed = true
	}
	return nil
}
func (c *testConn) send(t *testing.T, msg []byte) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		t.Fatalf("send on closed test conn")
	}
	c.messages <- msg
}

// testDialer hands out a fresh testConn per URL dialed and lets the
// test retrieve it once the Link has connected.
type testDialer struct {
	mu    sync.Mutex
	byURL map[string]*testConn
}

func newTestDialer() *testDialer { return &testDialer{byURL: map[string]*testConn{}} }

func (d *testDialer) Dial(ctx context.Context, url string) (agentlink.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := newTestConn()
	d.byURL[url] = c
	return c, nil
}

func (d *testDialer) conn(t *testing.T, url string) *testConn {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		d.mu.Lock()
		c := d.byURL[url]
		d.mu.Unlock()
		if c != nil {
			return c
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no connection dialed for %s", url)
	return nil
}

func testConfig() Config {
	return Config{
		Image:           "browser:latest",
		Prefix:          "bx",
		N:               2,
		BaseBrowserPort: 10222,
		BaseAppPort:     7070,
		BaseVNCPort:     15900,
		Resolution:      slot.Viewport{Width: 1280, Height: 720},
		MaxRetries:      3,
		KillWaitTime:    10,
		Mode:            ModeFull,
	}
}

func slotURL(cfg Config, index int) string {
	return agentlink.BuildURL("localhost", cfg.BaseAppPort+index)
}

func newTestSupervisor(t *testing.T, cfg Config) (*Supervisor, *driver.MockRunner, *testDialer) {
	t.Helper()
	runner := driver.NewMockRunner()
	dialer := newTestDialer()
	table := slot.NewTable()
	sup := NewSupervisor(cfg, runner, dialer, table, nil)
	return sup, runner, dialer
}

func TestSupervisor_HappyLeaseAndCapacityExhaustion(t *testing.T) {
	cfg := testConfig()
	sup, _, dialer := newTestSupervisor(t, cfg)

	require.NoError(t, sup.Init(context.Background(), false))

	conn0 := dialer.conn(t, slotURL(cfg, 0))
	conn1 := dialer.conn(t, slotURL(cfg, 1))
	conn0.send(t, agentlink.EncodeSetState("agent-A", "10.0.0.1"))
	conn1.send(t, agentlink.EncodeSetState("agent-B", "10.0.0.2"))

	require.Eventually(t, func() bool {
		s, _ := sup.table.Get("bx-10222")
		return s.State == slot.Ready
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		s, _ := sup.table.Get("bx-10223")
		return s.State == slot.Ready
	}, 2*time.Second, 5*time.Millisecond)

	first, ok := sup.Reserve(5)
	require.True(t, ok)
	assert.Equal(t, "bx-10222", first.Name)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), first.LeaseDeadline, 2*time.Second)

	second, ok := sup.Reserve(5)
	require.True(t, ok)
	assert.Equal(t, "bx-10223", second.Name)

	_, ok = sup.Reserve(5)
	assert.False(t, ok, "pool is at capacity, third reserve must report absence")
}

func TestSupervisor_LeaseExpiryRecreatesSlot(t *testing.T) {
	cfg := testConfig()
	cfg.N = 1
	sup, runner, dialer := newTestSupervisor(t, cfg)

	require.NoError(t, sup.Init(context.Background(), false))
	conn := dialer.conn(t, slotURL(cfg, 0))
	conn.send(t, agentlink.EncodeSetState("agent-A", "10.0.0.1"))

	require.Eventually(t, func() bool {
		s, _ := sup.table.Get("bx-10222")
		return s.State == slot.Ready
	}, 2*time.Second, 5*time.Millisecond)

	_, ok := sup.Reserve(1) // the timer itself is armed for real wall-clock minutes; exercise expiry directly
	require.True(t, ok)

	// Fire the expiry path directly rather than waiting 60 real seconds:
	// this exercises exactly the code path the timer invokes.
	require.NoError(t, sup.release("bx-10222"))

	require.Eventually(t, func() bool {
		return runner.Running("bx-10222")
	}, 2*time.Second, 5*time.Millisecond, "slot should have been stopped then re-run")

	s, _ := sup.table.Get("bx-10222")
	assert.Equal(t, slot.Creating, s.State)
}

func TestSupervisor_DisconnectRecoveryFullMode(t *testing.T) {
	cfg := testConfig()
	cfg.N = 1
	sup, runner, dialer := newTestSupervisor(t, cfg)

	require.NoError(t, sup.Init(context.Background(), false))
	conn := dialer.conn(t, slotURL(cfg, 0))
	conn.send(t, agentlink.EncodeSetState("agent-A", "10.0.0.1"))

	require.Eventually(t, func() bool {
		s, _ := sup.table.Get("bx-10222")
		return s.State == slot.Ready
	}, 2*time.Second, 5*time.Millisecond)

	initialRuns := len(runner.RunCalls)
	conn.Close() // simulate the agent connection dropping

	require.Eventually(t, func() bool {
		return len(runner.RunCalls) > initialRuns
	}, 4*time.Second, 10*time.Millisecond, "disconnect should trigger a container recreate")

	// Ports must stay disjoint across the transition: only one record
	// exists for this slot name throughout.
	snap := sup.table.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "bx-10222", snap[0].Name)
}

func TestSupervisor_ManageOnlyReleasePreservesCreatedAt(t *testing.T) {
	cfg := testConfig()
	cfg.N = 1
	cfg.Mode = ModeManageOnly
	runner := driver.NewMockRunner()
	require.NoError(t, runner.Run(context.Background(), "bx-10222", cfg.Image, nil, driver.PortMap{7070: driver.InternalAppPort}, nil))

	dialer := newTestDialer()
	table := slot.NewTable()
	sup := NewSupervisor(cfg, runner, dialer, table, nil)

	require.NoError(t, sup.Init(context.Background(), false))

	before, ok := sup.table.Get("bx-10222")
	require.True(t, ok)
	require.False(t, before.CreatedAt.IsZero())

	require.NoError(t, sup.Release("bx-10222"))

	after, ok := sup.table.Get("bx-10222")
	require.True(t, ok)
	assert.Equal(t, before.CreatedAt, after.CreatedAt)
	assert.True(t, after.Session.Empty())
}

func TestSupervisor_ReleaseIsIdempotent(t *testing.T) {
	cfg := testConfig()
	cfg.N = 1
	sup, _, dialer := newTestSupervisor(t, cfg)
	require.NoError(t, sup.Init(context.Background(), false))
	conn := dialer.conn(t, slotURL(cfg, 0))
	conn.send(t, agentlink.EncodeSetState("agent-A", "10.0.0.1"))

	require.Eventually(t, func() bool {
		s, _ := sup.table.Get("bx-10222")
		return s.State == slot.Ready
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, sup.Release("bx-10222"))
	require.NoError(t, sup.Release("bx-10222")) // second call is a no-op, not an error
}

func TestSupervisor_WebhookEligibility(t *testing.T) {
	var hits int
	var bodyMu sync.Mutex
	var gotBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		bodyMu.Lock()
		json.NewDecoder(r.Body).Decode(&gotBody)
		bodyMu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.N = 1
	sup, _, dialer := newTestSupervisor(t, cfg)
	require.NoError(t, sup.Init(context.Background(), false))
	conn := dialer.conn(t, slotURL(cfg, 0))
	conn.send(t, agentlink.EncodeSetState("agent-A", "10.0.0.1"))

	require.Eventually(t, func() bool {
		s, _ := sup.table.Get("bx-10222")
		return s.State == slot.Ready
	}, 2*time.Second, 5*time.Millisecond)

	_, ok := sup.table.Mutate("bx-10222", func(s *slot.Slot) {
		s.State = slot.Leased
		s.Session = slot.Session{
			ClientID:      "client-1",
			FingerprintID: "f",
			Webhook:       server.URL,
			ReportKey:     "k",
			SessionUUID:   "u",
		}
	})
	require.NoError(t, ok)

	sessionData := "S"
	conn.send(t, agentlink.EncodeDeleted(true, "boom", &sessionData))

	require.Eventually(t, func() bool {
		bodyMu.Lock()
		defer bodyMu.Unlock()
		return gotBody != nil
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, hits)
	bodyMu.Lock()
	assert.Equal(t, "S", gotBody["sessionData"])
	assert.Equal(t, true, gotBody["isError"])
	bodyMu.Unlock()
}

func TestSupervisor_WebhookSessionDataEmptyWithoutFingerprintID(t *testing.T) {
	var bodyMu sync.Mutex
	var gotBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bodyMu.Lock()
		json.NewDecoder(r.Body).Decode(&gotBody)
		bodyMu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.N = 1
	sup, _, dialer := newTestSupervisor(t, cfg)
	require.NoError(t, sup.Init(context.Background(), false))
	conn := dialer.conn(t, slotURL(cfg, 0))
	conn.send(t, agentlink.EncodeSetState("agent-A", "10.0.0.1"))

	require.Eventually(t, func() bool {
		s, _ := sup.table.Get("bx-10222")
		return s.State == slot.Ready
	}, 2*time.Second, 5*time.Millisecond)

	sup.table.Mutate("bx-10222", func(s *slot.Slot) {
		s.State = slot.Leased
		s.Session = slot.Session{Webhook: server.URL, ReportKey: "k", SessionUUID: "u"} // no FingerprintID
	})

	sessionData := "S"
	conn.send(t, agentlink.EncodeDeleted(false, "", &sessionData))

	require.Eventually(t, func() bool {
		bodyMu.Lock()
		defer bodyMu.Unlock()
		return gotBody != nil
	}, 2*time.Second, 5*time.Millisecond)

	bodyMu.Lock()
	assert.Equal(t, "", gotBody["sessionData"])
	bodyMu.Unlock()
}

func TestSupervisor_ReInitWithResolutionRejectsUnlisted(t *testing.T) {
	cfg := testConfig()
	cfg.N = 1
	sup, _, dialer := newTestSupervisor(t, cfg)
	require.NoError(t, sup.Init(context.Background(), false))
	_ = dialer.conn(t, slotURL(cfg, 0))

	err := sup.ReInitWithResolution("bx-10222", "800x600")
	assert.ErrorIs(t, err, ErrInvalidResolution)
}

func TestSupervisor_FirstSlotFailureIsFatal(t *testing.T) {
	cfg := testConfig()
	cfg.N = 2
	cfg.KillWaitTime = 1
	runner := driver.NewMockRunner()
	runner.RunErr = errors.New("boom")
	dialer := newTestDialer()
	table := slot.NewTable()
	sup := NewSupervisor(cfg, runner, dialer, table, nil)

	err := sup.Init(context.Background(), false)
	assert.ErrorIs(t, err, ErrFirstSlotCreateFailed)
}
