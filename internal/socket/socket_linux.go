//go:build linux

package socket

import (
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/indigo-web/reactor/internal/conn"
	"golang.org/x/sys/unix"
)

type Listener struct {
	fd int
}

// Listen binds a non-blocking listener with SO_REUSEPORT set, so multiple loops may
// bind the same address and let the kernel spread the accepted connections.
func Listen(addr string, backlog int) (*Listener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, err
	}

	family, sa := sockaddr(tcpAddr)
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}

	for _, opt := range []int{unix.SO_REUSEADDR, unix.SO_REUSEPORT} {
		if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, opt, 1); err != nil {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("setsockopt: %w", err)
		}
	}

	if err = unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}

	if err = unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("listen: %w", err)
	}

	return &Listener{fd: fd}, nil
}

func (l *Listener) FD() int {
	return l.fd
}

// Accept returns the next pending connection.
func (l *Listener) Accept() (*Socket, error) {
	for {
		fd, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch {
		case err == nil:
			_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
			return &Socket{fd: fd, remote: netAddr(sa)}, nil
		case errors.Is(err, unix.EAGAIN):
			return nil, conn.ErrWouldBlock
		case errors.Is(err, unix.EINTR), errors.Is(err, unix.ECONNABORTED):
			continue
		default:
			return nil, fmt.Errorf("accept: %w", err)
		}
	}
}

// Addr returns the address the listener is actually bound to.
func (l *Listener) Addr() net.Addr {
	sa, err := unix.Getsockname(l.fd)
	if err != nil {
		return nil
	}

	return netAddr(sa)
}

func (l *Listener) Close() error {
	return unix.Close(l.fd)
}

// Socket is an accepted non-blocking TCP connection.
type Socket struct {
	fd     int
	remote net.Addr
}

func (s *Socket) FD() int {
	return s.fd
}

func (s *Socket) RemoteAddr() net.Addr {
	return s.remote
}

func (s *Socket) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}

	for {
		n, err := unix.Read(s.fd, b)
		switch {
		case err == nil && n == 0:
			return 0, io.EOF
		case err == nil:
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, conn.ErrWouldBlock
		default:
			return 0, err
		}
	}
}

func (s *Socket) Write(b []byte) (int, error) {
	for {
		n, err := unix.Write(s.fd, b)
		switch {
		case err == nil:
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, conn.ErrWouldBlock
		default:
			return 0, err
		}
	}
}

func (s *Socket) Close() error {
	return unix.Close(s.fd)
}

func sockaddr(addr *net.TCPAddr) (int, unix.Sockaddr) {
	if ip4 := addr.IP.To4(); ip4 != nil || addr.IP == nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		copy(sa.Addr[:], ip4)
		return unix.AF_INET, sa
	}

	sa := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], addr.IP.To16())
	return unix.AF_INET6, sa
}

func netAddr(sa unix.Sockaddr) net.Addr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(sa.Addr[:]).To16(), Port: sa.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(sa.Addr[:]), Port: sa.Port}
	default:
		return nil
	}
}
