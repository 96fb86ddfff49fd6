package transport

import (
	"sync/atomic"
)

// Supervisor serves all the transports at once. As soon as any of them exits, the
// others are stopped as well.
type Supervisor struct {
	stopped *atomic.Bool
	ts      []Transport
	stopch  chan struct{}
}

func NewSupervisor() Supervisor {
	return Supervisor{
		stopped: new(atomic.Bool),
		stopch:  make(chan struct{}),
	}
}

// Add binds the transport to the address. If binding fails, all the transports added
// before are closed.
func (s *Supervisor) Add(addr string, transport Transport) error {
	if err := transport.Bind(addr); err != nil {
		s.close()
		return err
	}

	s.ts = append(s.ts, transport)

	return nil
}

// Run serves all the transports and returns the first error any of them failed with.
func (s *Supervisor) Run() error {
	if len(s.ts) == 0 {
		return nil
	}

	errch := make(chan error)

	for _, t := range s.ts {
		go func(t Transport) {
			errch <- t.Serve()
		}(t)
	}

	select {
	case err := <-errch:
		s.stop()
		drain(errch, len(s.ts)-1)

		return err
	case <-s.stopch:
		s.stop()
		drain(errch, len(s.ts))
		s.stopch <- struct{}{}

		return nil
	}
}

// Stop stops all the transports and blocks until Run returned.
func (s *Supervisor) Stop() {
	if !s.stopped.Load() {
		s.stopch <- struct{}{}
		<-s.stopch
	}
}

func (s *Supervisor) stop() {
	if s.stopped.Swap(true) {
		return
	}

	for _, t := range s.ts {
		t.Stop()
	}

	for _, t := range s.ts {
		t.Wait()
		t.Close()
	}
}

func (s *Supervisor) close() {
	for _, t := range s.ts {
		t.Close()
	}
}

func drain(ch <-chan error, n int) {
	for range n {
		<-ch
	}
}
