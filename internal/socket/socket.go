// Package socket provides non-blocking TCP listeners and connections on raw
// descriptors. Operations that would block return conn.ErrWouldBlock.
package socket

import "errors"

var ErrUnsupported = errors.New("non-blocking sockets are not supported on this platform")
