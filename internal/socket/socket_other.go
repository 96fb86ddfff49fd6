//go:build !linux

package socket

import "net"

type Listener struct{}

func Listen(string, int) (*Listener, error) {
	return nil, ErrUnsupported
}

func (*Listener) FD() int { return -1 }
func (*Listener) Accept() (*Socket, error) { return nil, ErrUnsupported }
func (*Listener) Addr() net.Addr { return nil }
func (*Listener) Close() error { return nil }

type Socket struct{}

func (*Socket) FD() int { return -1 }
func (*Socket) RemoteAddr() net.Addr { return nil }
func (*Socket) Read([]byte) (int, error) { return 0, ErrUnsupported }
func (*Socket) Write([]byte) (int, error) { return 0, ErrUnsupported }
func (*Socket) Close() error { return nil }
