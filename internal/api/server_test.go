package api

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddstack/browserpool/internal/slot"
)

// fakeFacade is a minimal in-memory stand-in for the Pool Facade,
// enough to exercise request parsing and response shaping without a
// container runtime.
type fakeFacade struct {
	browsers []slot.Slot
}

func (f *fakeFacade) Init(ctx context.Context, pullOnStart bool) error { return nil }
func (f *fakeFacade) Browsers() []slot.Slot                            { return f.browsers }
func (f *fakeFacade) BrowsersFromRuntime(ctx context.Context) ([]slot.Slot, error) {
	return f.browsers, nil
}
func (f *fakeFacade) FindById(id string) (slot.Slot, bool) {
	for _, s := range f.browsers {
		if s.Labels["id"] == id {
			return s, true
		}
	}
	return slot.Slot{}, false
}
func (f *fakeFacade) FindBySession(sessionID string) (slot.Slot, bool) {
	for _, s := range f.browsers {
		if s.Session.SessionID == sessionID {
			return s, true
		}
	}
	return slot.Slot{}, false
}
func (f *fakeFacade) Reserve(leaseMinutes int) (slot.Slot, bool) {
	if len(f.browsers) == 0 {
		return slot.Slot{}, false
	}
	return f.browsers[0], true
}
func (f *fakeFacade) Extend(name string, leaseMinutes int) error                { return nil }
func (f *fakeFacade) SetInternals(name string, session slot.Session) (slot.Slot, error) {
	return slot.Slot{Name: name, Session: session}, nil
}
func (f *fakeFacade) SetVncPassword(name, password string) (slot.Slot, error) { return slot.Slot{}, nil }
func (f *fakeFacade) SetDebug(name string, debug bool) (slot.Slot, error)     { return slot.Slot{}, nil }
func (f *fakeFacade) SetViewport(name string, vp slot.Viewport) (slot.Slot, error) {
	return slot.Slot{}, nil
}
func (f *fakeFacade) SetDefaultViewport(vp slot.Viewport)                  {}
func (f *fakeFacade) ReInitWithResolution(name, resolutionKey string) error { return nil }
func (f *fakeFacade) Release(name string) error                             { return nil }
func (f *fakeFacade) Shutdown()                                             {}

func TestServer_Health(t *testing.T) {
	s := NewServer(&fakeFacade{}, nil)
	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code)
}

func TestServer_Browsers(t *testing.T) {
	f := &fakeFacade{browsers: []slot.Slot{{Name: "bx-10222", State: slot.Leased}}}
	s := NewServer(f, nil)

	req := httptest.NewRequest("GET", "/browsers", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "bx-10222")
	assert.Contains(t, rec.Body.String(), `"used":1`)
}

func TestServer_ReserveReportsUnavailable(t *testing.T) {
	s := NewServer(&fakeFacade{}, nil)

	req := httptest.NewRequest("POST", "/reserve", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `"available":false`)
}
