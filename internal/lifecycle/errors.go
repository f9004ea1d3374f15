package lifecycle

import "errors"

// Sentinel errors, spec.md §7. ReserveOutOfCapacity is deliberately
// not in this list: an exhausted pool is communicated as an absence
// (ok=false from Reserve), not an error return.
var (
	// ErrRuntimeUnavailable bubbles up from the driver and is fatal to
	// Init.
	ErrRuntimeUnavailable = errors.New("lifecycle: container runtime unavailable")
	// ErrImagePullFailed is fatal to Init when pulling was requested.
	ErrImagePullFailed = errors.New("lifecycle: image pull failed")
	// ErrFirstSlotCreateFailed is fatal to Init: the very first slot's
	// container failed to start after MaxRetries attempts.
	ErrFirstSlotCreateFailed = errors.New("lifecycle: first slot failed to start")
	// ErrSlotNotFound is returned by any per-slot operation given an
	// unknown name.
	ErrSlotNotFound = errors.New("lifecycle: slot not found")
	// ErrSlotNotLeased is returned by Extend when the slot is not
	// currently Leased.
	ErrSlotNotLeased = errors.New("lifecycle: slot not leased")
	// ErrInvalidResolution is returned by ReInitWithResolution for a
	// resolution outside the whitelist.
	ErrInvalidResolution = errors.New("lifecycle: resolution not permitted")
)
