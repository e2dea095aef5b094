package domain

import "errors"

// Sentinel errors surfaced by the supervision kernel's control loops and API
// handlers (spec.md §7).
var (
	// ErrNotFound is returned when a service/container referenced by name or
	// ID no longer exists on the host.
	ErrNotFound = errors.New("service not found")

	// ErrRegistry is returned when a registry pull fails. The original
	// container is left untouched.
	ErrRegistry = errors.New("registry pull failed")

	// ErrRecreate is returned when container creation or start fails after
	// the old container has already been removed. This is fatal: the
	// service is now absent and manual intervention is required.
	ErrRecreate = errors.New("atomic recreate failed")
)
