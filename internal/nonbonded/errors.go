package nonbonded

import "errors"

// Core errors. All of these are fatal for the simulation run: continuing
// with possibly corrupted device state is never acceptable, so there is no
// local retry anywhere in this package.
var (
	// ErrInconsistentConfig indicates conflicting overrides, a pair-list
	// cluster size changed mid-run, or an unsupported interaction
	// combination. Always a bug in the caller or its configuration.
	ErrInconsistentConfig = errors.New("nonbonded: inconsistent configuration")

	// ErrNotReady indicates an operation on a domain whose stream or pair
	// list has not been initialized yet.
	ErrNotReady = errors.New("nonbonded: domain not ready")

	// ErrReleased indicates use after Release.
	ErrReleased = errors.New("nonbonded: already released")
)
