// Package transport runs a group of listening event loops as a whole.
package transport

// Transport is a single listening unit, normally one event loop.
type Transport interface {
	// Bind opens the listener without accepting anything yet.
	Bind(addr string) error
	// Serve blocks until the transport is stopped or failed.
	Serve() error
	// Stop makes Serve return once the open connections are done. Must not block.
	Stop()
	// Close releases the resources of a transport that has been bound.
	Close()
	// Wait blocks until Serve returned.
	Wait()
}
