// Package api is the thin HTTP surface over the Pool Facade: request
// parsing, response formatting, and a client for browserpoolctl. It
// never touches the Slot Table directly.
package api

import "github.com/oddstack/browserpool/internal/slot"

// ReserveRequest requests a lease.
type ReserveRequest struct {
	LeaseMinutes int `json:"leaseMinutes"`
}

// ReserveResponse carries the reserved slot, or Available=false when
// the pool is at capacity.
type ReserveResponse struct {
	Available bool      `json:"available"`
	Slot      slot.Slot `json:"slot,omitempty"`
}

// ExtendRequest resets a lease's timer.
type ExtendRequest struct {
	LeaseMinutes int `json:"leaseMinutes"`
}

// SetInternalsRequest attaches session metadata to a reserved slot.
type SetInternalsRequest struct {
	Session slot.Session `json:"session"`
}

// SetViewportRequest sets a slot's recorded viewport.
type SetViewportRequest struct {
	Viewport slot.Viewport `json:"viewport"`
}

// SetDefaultViewportRequest changes the viewport for newly-created
// slots.
type SetDefaultViewportRequest struct {
	Viewport slot.Viewport `json:"viewport"`
}

// SetVncPasswordRequest sets a slot's VNC password.
type SetVncPasswordRequest struct {
	Password string `json:"password"`
}

// SetDebugRequest toggles a slot's debug flag.
type SetDebugRequest struct {
	Debug bool `json:"debug"`
}

// ReInitResolutionRequest changes a slot's viewport by tearing its
// container down and recreating it.
type ReInitResolutionRequest struct {
	Resolution string `json:"resolution"`
}

// BrowsersResponse is the Slot Table snapshot.
type BrowsersResponse struct {
	Browsers []slot.Slot `json:"browsers"`
	Capacity int         `json:"capacity"`
	Used     int         `json:"used"`
}

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
