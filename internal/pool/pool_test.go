package pool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddstack/browserpool/internal/agentlink"
	"github.com/oddstack/browserpool/internal/driver"
	"github.com/oddstack/browserpool/internal/lifecycle"
	"github.com/oddstack/browserpool/internal/slot"
)

// nullDialer never succeeds; enough for tests that only exercise
// table-level operations and don't need a live agent connection.
type nullDialer struct{}

func (nullDialer) Dial(ctx context.Context, url string) (agentlink.Conn, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func testCfg() lifecycle.Config {
	return lifecycle.Config{
		Image:           "browser:latest",
		Prefix:          "bx",
		N:               1,
		BaseBrowserPort: 10222,
		BaseAppPort:     7070,
		BaseVNCPort:     15900,
		Resolution:      slot.Viewport{Width: 1280, Height: 720},
		MaxRetries:      1,
		KillWaitTime:    1,
		Mode:            lifecycle.ModeFull,
	}
}

func TestPool_SetInternalsAndFind(t *testing.T) {
	runner := driver.NewMockRunner()
	p := New(testCfg(), runner, nullDialer{}, nil)
	require.NoError(t, p.Init(context.Background(), false))

	_, err := p.SetInternals("bx-10222", slot.Session{SessionID: "s1", ClientID: "c1"})
	require.NoError(t, err)

	found, ok := p.FindBySession("s1")
	require.True(t, ok)
	assert.Equal(t, "c1", found.Session.ClientID)
}

func TestPool_ReserveReportsCapacity(t *testing.T) {
	runner := driver.NewMockRunner()
	p := New(testCfg(), runner, nullDialer{}, nil)
	require.NoError(t, p.Init(context.Background(), false))

	_, ok := p.Reserve(5)
	assert.False(t, ok, "no slot has reached Ready without a setState event")
}

func TestPool_BrowsersReflectsTable(t *testing.T) {
	runner := driver.NewMockRunner()
	p := New(testCfg(), runner, nullDialer{}, nil)
	require.NoError(t, p.Init(context.Background(), false))

	browsers := p.Browsers()
	require.Len(t, browsers, 1)
	assert.Equal(t, "bx-10222", browsers[0].Name)
}
