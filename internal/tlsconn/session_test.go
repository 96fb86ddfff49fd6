package tlsconn

import (
	"crypto/tls"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/indigo-web/reactor/internal/conn"
	"github.com/indigo-web/reactor/internal/selfsigned"
	"github.com/stretchr/testify/require"
)

// wire connects a non-blocking server end with a blocking client end in memory.
type wire struct {
	mu       sync.Mutex
	cond     *sync.Cond
	toServer []byte
	toClient []byte
	closed   bool
}

func newWire() *wire {
	w := new(wire)
	w.cond = sync.NewCond(&w.mu)
	return w
}

type serverEnd struct{ w *wire }

func (s serverEnd) Read(b []byte) (int, error) {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()

	if len(s.w.toServer) == 0 {
		if s.w.closed {
			return 0, io.EOF
		}

		return 0, conn.ErrWouldBlock
	}

	n := copy(b, s.w.toServer)
	s.w.toServer = s.w.toServer[n:]
	return n, nil
}

func (s serverEnd) Write(b []byte) (int, error) {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()

	s.w.toClient = append(s.w.toClient, b...)
	s.w.cond.Broadcast()
	return len(b), nil
}

func (s serverEnd) Close() error {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()

	s.w.closed = true
	s.w.cond.Broadcast()
	return nil
}

type clientEnd struct{ w *wire }

func (c clientEnd) Read(b []byte) (int, error) {
	c.w.mu.Lock()
	defer c.w.mu.Unlock()

	for len(c.w.toClient) == 0 && !c.w.closed {
		c.w.cond.Wait()
	}

	if len(c.w.toClient) == 0 {
		return 0, io.EOF
	}

	n := copy(b, c.w.toClient)
	c.w.toClient = c.w.toClient[n:]
	return n, nil
}

func (c clientEnd) Write(b []byte) (int, error) {
	c.w.mu.Lock()
	defer c.w.mu.Unlock()

	c.w.toServer = append(c.w.toServer, b...)
	return len(b), nil
}

func (c clientEnd) Close() error {
	return serverEnd(c).Close()
}

func (clientEnd) LocalAddr() net.Addr { return addr("client") }
func (clientEnd) RemoteAddr() net.Addr { return addr("server") }
func (clientEnd) SetDeadline(time.Time) error { return nil }
func (clientEnd) SetReadDeadline(time.Time) error { return nil }
func (clientEnd) SetWriteDeadline(time.Time) error { return nil }

func serverConfig(t *testing.T) *tls.Config {
	cert, err := selfsigned.Certificate()
	require.NoError(t, err)

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"http/1.1"},
	}
}

// drive does the event loop's job until cond holds.
func drive(t *testing.T, s *Session, cond func() bool) {
	deadline := time.Now().Add(5 * time.Second)

	for {
		require.NoError(t, s.Pump())
		require.NoError(t, s.Flush())
		if cond() {
			return
		}

		require.True(t, time.Now().Before(deadline), "timed out")
		time.Sleep(time.Millisecond)
	}
}

func TestSession(t *testing.T) {
	t.Run("exchange", func(t *testing.T) {
		w := newWire()
		var wakes atomic.Int64
		s := New(serverEnd{w}, serverConfig(t), 4096, func() { wakes.Add(1) })
		defer s.Close()

		_, done := s.NegotiatedProtocol()
		require.False(t, done)
		_, err := s.Write([]byte("early"))
		require.ErrorIs(t, err, conn.ErrWouldBlock)

		reply := make(chan string, 1)
		go func() {
			client := tls.Client(clientEnd{w}, &tls.Config{
				InsecureSkipVerify: true,
				NextProtos:         []string{"http/1.1"},
			})
			if _, err := client.Write([]byte("GET / HTTP/1.1\r\n\r\n")); err != nil {
				reply <- err.Error()
				return
			}

			buf := make([]byte, 5)
			if _, err := io.ReadFull(client, buf); err != nil {
				reply <- err.Error()
				return
			}

			reply <- string(buf)
			_ = client.Close()
		}()

		drive(t, s, func() bool {
			_, done := s.NegotiatedProtocol()
			return done
		})
		protocol, _ := s.NegotiatedProtocol()
		require.Equal(t, "http/1.1", protocol)

		var request strings.Builder
		buf := make([]byte, 64)
		drive(t, s, func() bool {
			n, err := s.Read(buf)
			if err != nil {
				require.ErrorIs(t, err, conn.ErrWouldBlock)
			}

			request.Write(buf[:n])
			return strings.HasSuffix(request.String(), "\r\n\r\n")
		})
		require.Equal(t, "GET / HTTP/1.1\r\n\r\n", request.String())

		n, err := s.Write([]byte("hello"))
		require.NoError(t, err)
		require.Equal(t, 5, n)

		var got string
		drive(t, s, func() bool {
			select {
			case got = <-reply:
				return true
			default:
				return false
			}
		})
		require.Equal(t, "hello", got)

		drive(t, s, func() bool {
			_, err := s.Read(buf)
			return err == io.EOF
		})
		require.Positive(t, wakes.Load())
	})

	t.Run("bad handshake", func(t *testing.T) {
		w := newWire()
		s := New(serverEnd{w}, serverConfig(t), 4096, func() {})
		defer s.Close()

		_, _ = clientEnd{w}.Write([]byte("GET / HTTP/1.1\r\n\r\n"))
		drive(t, s, func() bool {
			_, done := s.NegotiatedProtocol()
			return done
		})

		_, err := s.Read(make([]byte, 16))
		require.Error(t, err)
		require.NotErrorIs(t, err, conn.ErrWouldBlock)
	})

	t.Run("close", func(t *testing.T) {
		w := newWire()
		s := New(serverEnd{w}, serverConfig(t), 4096, func() {})
		require.NoError(t, s.Close())
		require.NoError(t, s.Close())
		require.False(t, s.WantsRead())
		require.True(t, w.closed)
	})
}
