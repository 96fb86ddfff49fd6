package http1

import (
	"testing"

	"github.com/indigo-web/reactor/config"
	"github.com/indigo-web/reactor/http/headers"
	"github.com/indigo-web/reactor/http/proto"
	"github.com/stretchr/testify/require"
)

// outcome is a detached snapshot of a parse result.
type outcome struct {
	State     RequestState
	Err       error
	Method    string
	Target    string
	Proto     proto.Proto
	Headers   []headers.Field
	Trailers  []headers.Field
	Body      string
	KeepAlive bool
}

// parseInParts feeds the data in parts of the given size, stopping at the first
// result that isn't Pending.
func parseInParts(data []byte, partSize int) outcome {
	h := newHarness(config.Default())

	var (
		state RequestState
		err   error
	)

	for i := 0; i < len(data); i += partSize {
		h.feed(string(data[i:min(i+partSize, len(data))]))
		if state, err = h.parse(); state != Pending {
			break
		}
	}

	result := outcome{State: state, Err: err}
	if state == Completed {
		request := h.request
		result.Method = request.MethodToken
		result.Target = request.Target.Raw
		result.Proto = request.Proto
		result.Headers = request.Headers.Clone().Expose()
		result.Trailers = request.Trailers.Clone().Expose()
		result.Body = string(request.Body)
		result.KeepAlive = request.KeepAlive
	}

	return result
}

func FuzzParser(f *testing.F) {
	seeds := []string{
		simpleGET,
		biggerGET,
		fixedPOST,
		chunkedPOST,
		"\r\n\r\nOPTIONS * HTTP/1.1\r\n\r\n",
		"CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n",
		"GET / HTTP/1.0\r\nConnection: keep-alive\r\n\r\n",
		"POST / HTTP/1.1\r\nContent-Length: 5\r\nTransfer-Encoding: chunked\r\n\r\nhello",
		"POST / HTTP/1.1\r\nContent-Length: 3, 3\r\n\r\nabc",
		"POST / HTTP/1.1\r\nTransfer-Encoding: gzip, chunked\r\n\r\n1\r\na\r\n0\r\n\r\n",
		"GET / HTTP/1.1\r\nFolded: a\r\n b\r\n\r\n",
		"PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n",
		"GET\r\n",
	}

	for _, seed := range seeds {
		f.Add([]byte(seed), uint8(1))
		f.Add([]byte(seed), uint8(7))
	}

	f.Fuzz(func(t *testing.T, data []byte, partSize uint8) {
		whole := parseInParts(data, max(len(data), 1))
		parted := parseInParts(data, max(int(partSize), 1))
		require.Equal(t, whole, parted)
	})
}
