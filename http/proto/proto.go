package proto

type Proto uint8

const (
	Unknown Proto = 0
	HTTP10  Proto = 1 << iota
	HTTP11
	HTTP2
	HTTP3

	HTTP1 = HTTP10 | HTTP11
)

// String returns the protocol as it is spelled on the wire.
func (p Proto) String() string {
	switch p {
	case HTTP10:
		return "HTTP/1.0"
	case HTTP11:
		return "HTTP/1.1"
	case HTTP2:
		return "HTTP/2"
	case HTTP3:
		return "HTTP/3"
	default:
		return ""
	}
}

var majorMinorVersionLUT = [10][10]Proto{
	1: {0: HTTP10, 1: HTTP11},
	2: {0: HTTP2},
	3: {0: HTTP3},
}

// Parse maps a major.minor pair onto a known protocol. Digits are expected as
// numbers, not as ASCII characters.
func Parse(major, minor uint8) Proto {
	if major > 9 || minor > 9 {
		return Unknown
	}

	return majorMinorVersionLUT[major][minor]
}

// ALPN identifiers as registered with IANA.
const (
	ALPNHTTP11 = "http/1.1"
	ALPNHTTP10 = "http/1.0"
	ALPNH2     = "h2"
	ALPNH3     = "h3"
)

// FromALPN maps the protocol selected during the TLS handshake onto Proto. An empty
// string means no ALPN took place, which implies HTTP/1.x.
func FromALPN(alpn string) Proto {
	switch alpn {
	case "", ALPNHTTP11:
		return HTTP11
	case ALPNHTTP10:
		return HTTP10
	case ALPNH2:
		return HTTP2
	case ALPNH3:
		return HTTP3
	default:
		return Unknown
	}
}
