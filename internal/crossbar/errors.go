package crossbar

import "errors"

var (
	// ErrMappingFailure means the control region could not be mapped into
	// the controlling system. Bring-up must not continue.
	ErrMappingFailure = errors.New("crossbar: control region mapping failed")

	// ErrInvalidDescriptor is returned for malformed interrupt cells. The
	// caller rejects the offending interrupt entry.
	ErrInvalidDescriptor = errors.New("crossbar: invalid interrupt descriptor")

	// ErrAllocationExhausted marks an allocation that was clamped onto the
	// last usable line. It is logged and counted, never returned.
	ErrAllocationExhausted = errors.New("crossbar: no unused crossbar line")

	// ErrAccessDenied marks a guest access the guard neutralized.
	ErrAccessDenied = errors.New("crossbar: guest access denied")

	ErrSetupFailed     = errors.New("crossbar: domain setup failed")
	ErrTableDivergence = errors.New("crossbar: line table rebuild diverged")
	ErrInvalidFamily   = errors.New("crossbar: invalid family")
)
