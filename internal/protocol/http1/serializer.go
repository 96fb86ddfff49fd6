package http1

import (
	"maps"
	"slices"
	"strconv"

	"github.com/indigo-web/reactor/http"
	"github.com/indigo-web/reactor/http/proto"
	"github.com/indigo-web/reactor/http/status"
	"github.com/indigo-web/utils/strcomp"
)

const (
	crlf             = "\r\n"
	chunkZeroTrailer = "0\r\n\r\n"
)

// Meta is what the serializer must know about the request being responded.
type Meta struct {
	Proto     proto.Proto
	Head      bool
	KeepAlive bool
}

// Serializer renders responses into bytes. It doesn't write anything by itself: the
// output is appended to the passed buffer, which is then queued by the connection.
type Serializer struct {
	defaultHeaders []defaultHeader
	excluded       []bool
}

func NewSerializer(defaultHeaders map[string]string) *Serializer {
	processed := preprocessDefaultHeaders(defaultHeaders)

	return &Serializer{
		defaultHeaders: processed,
		excluded:       make([]bool, len(processed)),
	}
}

// Render appends the complete response to buff.
func (s *Serializer) Render(buff []byte, meta Meta, response *http.Response) []byte {
	fields := response.Reveal()
	buff = appendResponseLine(buff, meta.Proto, fields.Code)

	noBody := fields.Code.NoBody()
	if !noBody {
		buff = appendHeader(buff, "Content-Type", fields.ContentType)
	}

	clear(s.excluded)
	for _, header := range fields.Headers {
		if strcomp.EqualFold(header.Key, "connection") {
			// rendered from meta
			continue
		}

		s.exclude(header.Key)
		buff = appendHeader(buff, header.Key, header.Value)
	}

	for i, header := range s.defaultHeaders {
		if !s.excluded[i] {
			buff = append(buff, header.Full...)
		}
	}

	buff = appendConnection(buff, meta)

	if noBody {
		return append(buff, crlf...)
	}

	if fields.Chunked && meta.Proto == proto.HTTP11 {
		buff = append(buff, "Transfer-Encoding: chunked\r\n\r\n"...)
		if meta.Head {
			return buff
		}

		if len(fields.Body) > 0 {
			buff = strconv.AppendUint(buff, uint64(len(fields.Body)), 16)
			buff = append(buff, crlf...)
			buff = append(buff, fields.Body...)
			buff = append(buff, crlf...)
		}

		return append(buff, chunkZeroTrailer...)
	}

	buff = append(buff, "Content-Length: "...)
	buff = strconv.AppendUint(buff, uint64(len(fields.Body)), 10)
	buff = append(buff, crlf+crlf...)

	if meta.Head {
		return buff
	}

	return append(buff, fields.Body...)
}

// RenderError appends a best-effort response to a request that couldn't be parsed.
// The connection is always closed after it.
func (s *Serializer) RenderError(buff []byte, protocol proto.Proto, err error) []byte {
	code := status.CodeOf(err)
	if protocol&proto.HTTP1 == 0 {
		// the request line might have been broken before the version
		protocol = proto.HTTP11
	}

	buff = appendResponseLine(buff, protocol, code)
	buff = append(buff, "Content-Type: "+http.DefaultContentType+crlf...)
	buff = append(buff, "Connection: close\r\n"...)
	buff = append(buff, "Content-Length: "...)
	buff = strconv.AppendUint(buff, uint64(len(err.Error())), 10)
	buff = append(buff, crlf+crlf...)

	return append(buff, err.Error()...)
}

// RenderContinue appends an interim 100 Continue response.
func (s *Serializer) RenderContinue(buff []byte, protocol proto.Proto) []byte {
	return append(appendResponseLine(buff, protocol, status.Continue), crlf...)
}

// ClosesConnection reports whether the handler asked to close the connection after
// the response.
func ClosesConnection(response *http.Response) bool {
	for _, header := range response.Reveal().Headers {
		if strcomp.EqualFold(header.Key, "connection") && strcomp.EqualFold(header.Value, "close") {
			return true
		}
	}

	return false
}

func (s *Serializer) exclude(key string) {
	for i, header := range s.defaultHeaders {
		if strcomp.EqualFold(header.Key, key) {
			s.excluded[i] = true
		}
	}
}

func appendResponseLine(buff []byte, protocol proto.Proto, code status.Code) []byte {
	if protocol&proto.HTTP1 == 0 {
		protocol = proto.HTTP11
	}

	buff = append(buff, protocol.String()...)
	buff = append(buff, ' ')
	return append(buff, status.Line(code)...)
}

func appendHeader(buff []byte, key, value string) []byte {
	buff = append(buff, key...)
	buff = append(buff, ':', ' ')
	buff = append(buff, value...)
	return append(buff, crlf...)
}

func appendConnection(buff []byte, meta Meta) []byte {
	switch {
	case !meta.KeepAlive:
		return append(buff, "Connection: close\r\n"...)
	case meta.Proto == proto.HTTP10:
		return append(buff, "Connection: keep-alive\r\n"...)
	default:
		return buff
	}
}

type defaultHeader struct {
	Key  string
	Full string
}

func preprocessDefaultHeaders(headers map[string]string) []defaultHeader {
	processed := make([]defaultHeader, 0, len(headers))

	for _, key := range slices.Sorted(maps.Keys(headers)) {
		serialized := key + ": " + headers[key] + crlf
		processed = append(processed, defaultHeader{
			Key:  serialized[:len(key)],
			Full: serialized,
		})
	}

	return processed
}
