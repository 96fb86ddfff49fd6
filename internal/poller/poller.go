// Package poller reports socket readiness. Every registered descriptor carries an
// opaque 64-bit identifier which is handed back with its events, so the caller never
// has to look descriptors up.
package poller

import "errors"

// WakeID is the identifier of events produced by Wake.
const WakeID = ^uint64(0)

var ErrUnsupported = errors.New("readiness polling is not supported on this platform")

// Interest is the set of events a descriptor is registered for.
type Interest uint8

const (
	Read Interest = 1 << iota
	Write
)

// Event is a single readiness notification.
type Event struct {
	ID       uint64
	Readable bool
	Writable bool
	// Hangup means the peer is gone in both directions or the socket is in error.
	Hangup bool
}
