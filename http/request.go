package http

import (
	"strings"

	"github.com/indigo-web/reactor/http/headers"
	"github.com/indigo-web/reactor/http/method"
	"github.com/indigo-web/reactor/http/proto"
)

type TargetForm uint8

const (
	// FormOrigin is the absolute-path form with an optional query, e.g. /index.html?a=b
	FormOrigin TargetForm = iota + 1
	// FormAbsolute is a complete URI, as sent to proxies, e.g. http://example.com/
	FormAbsolute
	// FormAuthority is host:port, legal for CONNECT only
	FormAuthority
	// FormAsterisk is the lone *, legal for server-wide OPTIONS only
	FormAsterisk
	// FormOpaque is anything else that passed the syntax check. Interpreting it is up
	// to the handler.
	FormOpaque
)

type Target struct {
	Raw  string
	Form TargetForm
	// Path and Query are split out of origin-form targets only. Neither of them is
	// percent-decoded.
	Path, Query string
}

// ClassifyTarget determines the form of the request-target by its shape. No
// further validation is made.
func ClassifyTarget(m method.Method, raw string) Target {
	target := Target{Raw: raw}

	switch {
	case raw == "*":
		target.Form = FormAsterisk
	case raw[0] == '/':
		target.Form = FormOrigin
		target.Path, target.Query, _ = strings.Cut(raw, "?")
	case m == method.CONNECT:
		target.Form = FormAuthority
	case hasScheme(raw):
		target.Form = FormAbsolute
	default:
		target.Form = FormOpaque
	}

	return target
}

// hasScheme reports whether the string starts with scheme ":" as of RFC 3986.
func hasScheme(str string) bool {
	for i := 0; i < len(str); i++ {
		switch c := str[i]; {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z':
		case '0' <= c && c <= '9', c == '+', c == '-', c == '.':
			if i == 0 {
				return false
			}
		case c == ':':
			return i > 0
		default:
			return false
		}
	}

	return false
}

type FramingKind uint8

const (
	NoBody FramingKind = iota
	FixedLength
	Chunked
	// UntilClose is never chosen for requests. It exists for completeness, as
	// responses may be delimited by the connection closure.
	UntilClose
)

// Framing describes where the message body ends.
type Framing struct {
	Kind FramingKind
	// Length is meaningful for FixedLength only.
	Length int64
}

// Ticket identifies a request within the whole application. It is used to deliver
// responses that were produced outside the handler.
type Ticket struct {
	Shard int
	Conn  uint64
	Seq   uint64
}

// Request is a parsed HTTP/1.x request.
//
// All the strings and the body are views over the connection's receive buffer. They
// stay valid until the handler returns. Use Clone to keep the request for longer.
type Request struct {
	Method method.Method
	// MethodToken is the method exactly as received. It is the only source of the
	// method name for extension methods.
	MethodToken     string
	Target          Target
	Proto           proto.Proto
	Headers         *headers.Headers
	Trailers        *headers.Headers
	Framing         Framing
	TransferCodings []string
	Body            []byte
	// KeepAlive tells whether the connection persists after this request.
	KeepAlive bool
	// ExpectContinue is set when the client waits for 100 Continue before sending the body.
	ExpectContinue bool
	Ticket         Ticket
}

func NewRequest(hdrs, trailers *headers.Headers) *Request {
	return &Request{
		Headers:  hdrs,
		Trailers: trailers,
	}
}

// Reset prepares the request object for the next message, keeping allocated space.
func (r *Request) Reset() {
	r.Method = method.Unknown
	r.MethodToken = ""
	r.Target = Target{}
	r.Proto = proto.Unknown
	r.Headers.Clear()
	r.Trailers.Clear()
	r.Framing = Framing{}
	r.TransferCodings = r.TransferCodings[:0]
	r.Body = nil
	r.KeepAlive = false
	r.ExpectContinue = false
	r.Ticket = Ticket{}
}

// Clone returns a deep copy that doesn't reference the connection's buffer.
func (r *Request) Clone() *Request {
	clone := *r
	clone.MethodToken = strings.Clone(r.MethodToken)
	clone.Target.Raw = strings.Clone(r.Target.Raw)
	if clone.Target.Form == FormOrigin {
		clone.Target.Path, clone.Target.Query, _ = strings.Cut(clone.Target.Raw, "?")
	}

	clone.Headers = r.Headers.Clone()
	clone.Trailers = r.Trailers.Clone()
	clone.TransferCodings = make([]string, len(r.TransferCodings))
	for i, coding := range r.TransferCodings {
		clone.TransferCodings[i] = strings.Clone(coding)
	}

	if r.Body != nil {
		clone.Body = append([]byte(nil), r.Body...)
	}

	return &clone
}
