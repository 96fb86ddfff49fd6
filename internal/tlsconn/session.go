// Package tlsconn runs TLS on top of a non-blocking socket.
//
// crypto/tls only speaks blocking net.Conn, so every Session owns a goroutine that
// performs the handshake and decrypts the records. The goroutine talks to the world
// through in-memory buffers only: the event loop pumps ciphertext between them and the
// socket, and reads the decrypted bytes without ever blocking.
package tlsconn

import (
	"crypto/tls"
	"errors"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/indigo-web/reactor/internal/conn"
)

// Session implements conn.Socket and conn.Negotiator.
type Session struct {
	raw   conn.Socket
	tls   *tls.Conn
	wake  func()
	limit int
	rbuf  []byte

	mu         sync.Mutex
	cond       *sync.Cond
	cipherIn   []byte
	cipherOut  []byte
	plain      []byte
	err        error
	handshaken bool
	protocol   string
	rawEOF     bool
	closed     bool
}

// New starts the server side handshake over raw. wake is called from the session
// goroutine whenever it produced something for the loop to act on. limit bounds each
// of the intermediate buffers.
func New(raw conn.Socket, cfg *tls.Config, limit int, wake func()) *Session {
	s := &Session{
		raw:   raw,
		wake:  wake,
		limit: limit,
		rbuf:  make([]byte, min(limit, 16<<10)),
	}
	s.cond = sync.NewCond(&s.mu)
	s.tls = tls.Server(pipe{s}, cfg)

	go s.run()

	return s
}

func (s *Session) run() {
	if err := s.tls.Handshake(); err != nil {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()

		if !closed {
			log.Printf("tls handshake: %s", err)
		}

		s.finish(err)
		return
	}

	s.mu.Lock()
	s.handshaken = true
	s.protocol = s.tls.ConnectionState().NegotiatedProtocol
	s.mu.Unlock()
	s.wake()

	buf := make([]byte, len(s.rbuf))
	for {
		n, err := s.tls.Read(buf)

		s.mu.Lock()
		s.plain = append(s.plain, buf[:n]...)
		for err == nil && len(s.plain) >= s.limit && !s.closed {
			s.cond.Wait()
		}
		s.mu.Unlock()

		if err != nil {
			s.finish(err)
			return
		}

		if n > 0 {
			s.wake()
		}
	}
}

func (s *Session) finish(err error) {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		// the peer went away without close_notify, which is common enough
		err = io.EOF
	}

	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.wake()
}

// NegotiatedProtocol returns the ALPN protocol. The negotiation is also considered
// done if the handshake failed, so the error surfaces on the next Read.
func (s *Session) NegotiatedProtocol() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.protocol, s.handshaken || s.err != nil
}

// Read returns decrypted bytes.
func (s *Session) Read(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.plain) > 0 {
		full := len(s.plain) >= s.limit
		n := copy(b, s.plain)
		s.plain = s.plain[:copy(s.plain, s.plain[n:])]
		if full {
			s.cond.Broadcast()
		}

		return n, nil
	}

	if s.err != nil {
		return 0, s.err
	}

	return 0, conn.ErrWouldBlock
}

// Write encrypts b as a whole or not at all. Encrypted bytes the socket didn't accept
// are kept until Flush.
func (s *Session) Write(b []byte) (int, error) {
	s.mu.Lock()
	ready := s.handshaken
	s.mu.Unlock()

	if !ready {
		return 0, conn.ErrWouldBlock
	}

	if err := s.Flush(); err != nil {
		return 0, err
	}

	if s.Pending() {
		return 0, conn.ErrWouldBlock
	}

	n, err := s.tls.Write(b)
	if err != nil {
		return n, err
	}

	return n, s.Flush()
}

// Pump moves the available ciphertext from the socket into the session.
func (s *Session) Pump() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for !s.rawEOF && !s.closed && len(s.cipherIn) < s.limit {
		n, err := s.raw.Read(s.rbuf)
		if n > 0 {
			s.cipherIn = append(s.cipherIn, s.rbuf[:n]...)
			s.cond.Broadcast()
		}

		switch {
		case err == nil:
			if n == 0 {
				return nil
			}
		case errors.Is(err, conn.ErrWouldBlock):
			return nil
		case errors.Is(err, io.EOF):
			s.rawEOF = true
			s.cond.Broadcast()
			return nil
		default:
			return err
		}
	}

	return nil
}

// Flush writes as much of the pending ciphertext as the socket accepts.
func (s *Session) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.cipherOut) > 0 {
		n, err := s.raw.Write(s.cipherOut)
		s.cipherOut = s.cipherOut[:copy(s.cipherOut, s.cipherOut[n:])]

		if err != nil {
			if errors.Is(err, conn.ErrWouldBlock) {
				return nil
			}

			return err
		}
	}

	return nil
}

// Pending reports whether there's ciphertext waiting for the socket.
func (s *Session) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.cipherOut) > 0
}

// WantsRead reports whether the session accepts more ciphertext.
func (s *Session) WantsRead() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return !s.rawEOF && !s.closed && len(s.cipherIn) < s.limit
}

// Close stops the session goroutine and closes the socket.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}

	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()

	return s.raw.Close()
}

// pipe is the net.Conn crypto/tls runs over. Only the session goroutine reads from it.
type pipe struct {
	s *Session
}

func (p pipe) Read(b []byte) (int, error) {
	s := p.s
	s.mu.Lock()

	for len(s.cipherIn) == 0 && !s.rawEOF && !s.closed {
		s.cond.Wait()
	}

	if len(s.cipherIn) == 0 || s.closed {
		s.mu.Unlock()
		return 0, io.EOF
	}

	full := len(s.cipherIn) >= s.limit
	n := copy(b, s.cipherIn)
	s.cipherIn = s.cipherIn[:copy(s.cipherIn, s.cipherIn[n:])]
	s.mu.Unlock()

	if full {
		// the loop stopped pumping, it must re-arm the read interest
		s.wake()
	}

	return n, nil
}

func (p pipe) Write(b []byte) (int, error) {
	s := p.s
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, net.ErrClosed
	}

	s.cipherOut = append(s.cipherOut, b...)
	s.mu.Unlock()
	s.wake()

	return len(b), nil
}

func (p pipe) Close() error {
	return p.s.Close()
}

func (p pipe) LocalAddr() net.Addr {
	return addr("local")
}

func (p pipe) RemoteAddr() net.Addr {
	if remote, ok := p.s.raw.(interface{ RemoteAddr() net.Addr }); ok && remote.RemoteAddr() != nil {
		return remote.RemoteAddr()
	}

	return addr("remote")
}

func (pipe) SetDeadline(time.Time) error      { return nil }
func (pipe) SetReadDeadline(time.Time) error  { return nil }
func (pipe) SetWriteDeadline(time.Time) error { return nil }

type addr string

func (a addr) Network() string { return "tls" }
func (a addr) String() string  { return string(a) }
