package conn

import (
	"bytes"
	"io"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/indigo-web/reactor/config"
	"github.com/indigo-web/reactor/http"
	"github.com/indigo-web/reactor/http/status"
	"github.com/indigo-web/reactor/internal/protocol/http1"
	"github.com/indigo-web/reactor/internal/timer"
	"github.com/stretchr/testify/require"
)

// fakeSocket hands out the pushed data as if it was arriving from the network and
// accumulates everything written.
type fakeSocket struct {
	in          [][]byte
	eof         bool
	out         bytes.Buffer
	writeLimit  int
	blockWrites bool
	closed      bool
	alpn        string
	handshaken  bool
}

func (f *fakeSocket) push(data string) {
	f.in = append(f.in, []byte(data))
}

func (f *fakeSocket) Read(b []byte) (int, error) {
	if len(f.in) == 0 {
		if f.eof {
			return 0, io.EOF
		}

		return 0, ErrWouldBlock
	}

	n := copy(b, f.in[0])
	if f.in[0] = f.in[0][n:]; len(f.in[0]) == 0 {
		f.in = f.in[1:]
	}

	return n, nil
}

func (f *fakeSocket) Write(b []byte) (int, error) {
	if f.blockWrites {
		return 0, ErrWouldBlock
	}

	if f.writeLimit > 0 && len(b) > f.writeLimit {
		f.out.Write(b[:f.writeLimit])
		return f.writeLimit, ErrWouldBlock
	}

	f.out.Write(b)
	return len(b), nil
}

func (f *fakeSocket) Close() error {
	f.closed = true
	return nil
}

type negotiatingSocket struct {
	*fakeSocket
}

func (n negotiatingSocket) NegotiatedProtocol() (string, bool) {
	return n.alpn, n.handshaken
}

func newConn(cfg *config.Config, sock Socket, handler http.Handler) *Conn {
	return New(cfg, sock, handler, http1.NewSerializer(nil), timer.NewManual(time.Unix(0, 0)), nil)
}

// echo responds with the request target.
func echo(request *http.Request) *http.Response {
	return http.NewResponse().String(request.Target.Raw)
}

func response(body string) string {
	return "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: " +
		strconv.Itoa(len(body)) + "\r\n\r\n" + body
}

func closingResponse(body string) string {
	return "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nConnection: close\r\nContent-Length: " +
		strconv.Itoa(len(body)) + "\r\n\r\n" + body
}

func TestConn(t *testing.T) {
	t.Run("single request", func(t *testing.T) {
		sock := new(fakeSocket)
		c := newConn(config.Default(), sock, echo)
		sock.push("GET /hello HTTP/1.1\r\n\r\n")
		require.NoError(t, c.OnReadable())
		require.Equal(t, response("/hello"), sock.out.String())
		require.False(t, c.Done())
		require.True(t, c.WantsRead())
	})

	t.Run("pipelined in order", func(t *testing.T) {
		sock := new(fakeSocket)
		c := newConn(config.Default(), sock, echo)
		sock.push("GET /a HTTP/1.1\r\n\r\nGET /b HTTP/1.1\r\n\r\nGET /c HTTP/1.1\r\n\r\n")
		require.NoError(t, c.OnReadable())
		require.Equal(t, response("/a")+response("/b")+response("/c"), sock.out.String())
	})

	t.Run("split across reads", func(t *testing.T) {
		sock := new(fakeSocket)
		c := newConn(config.Default(), sock, echo)
		raw := "POST /upload HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n4\r\nWiki\r\n5\r\npedia\r\n0\r\n\r\n"
		var body string
		c.handler = func(request *http.Request) *http.Response {
			body = string(request.Body)
			return echo(request)
		}

		for i := range raw {
			sock.push(raw[i : i+1])
			require.NoError(t, c.OnReadable())
		}

		require.Equal(t, "Wikipedia", body)
		require.Equal(t, response("/upload"), sock.out.String())
	})

	t.Run("deferred responses keep the order", func(t *testing.T) {
		sock := new(fakeSocket)
		var tickets []http.Ticket
		c := newConn(config.Default(), sock, func(request *http.Request) *http.Response {
			tickets = append(tickets, request.Ticket)
			if request.Target.Raw == "/slow" {
				return nil
			}

			return echo(request)
		})
		c.Bind(3, 42)

		sock.push("GET /slow HTTP/1.1\r\n\r\nGET /fast HTTP/1.1\r\n\r\n")
		require.NoError(t, c.OnReadable())
		require.Empty(t, sock.out.String(), "the fast response must wait for the slow one")
		require.Equal(t, []http.Ticket{{Shard: 3, Conn: 42, Seq: 0}, {Shard: 3, Conn: 42, Seq: 1}}, tickets)
		require.True(t, c.Busy())

		require.NoError(t, c.Respond(0, http.NewResponse().String("slow")))
		require.NoError(t, c.Flush())
		require.Equal(t, response("slow")+response("/fast"), sock.out.String())
		require.False(t, c.Busy())

		require.ErrorIs(t, c.Respond(0, http.NewResponse()), ErrUnknownSequence)
		require.ErrorIs(t, c.Respond(5, http.NewResponse()), ErrUnknownSequence)
	})

	t.Run("early raw responses are held", func(t *testing.T) {
		sock := new(fakeSocket)
		c := newConn(config.Default(), sock, func(*http.Request) *http.Response {
			return nil
		})

		sock.push("GET /0 HTTP/1.1\r\n\r\nGET /1 HTTP/1.1\r\n\r\nGET /2 HTTP/1.1\r\n\r\n")
		require.NoError(t, c.OnReadable())

		require.NoError(t, c.QueueResponse(2, []byte("C")))
		require.NoError(t, c.QueueResponse(1, []byte("B")))
		require.ErrorIs(t, c.QueueResponse(1, []byte("B")), ErrUnknownSequence)
		require.NoError(t, c.Flush())
		require.Empty(t, sock.out.String())

		require.NoError(t, c.QueueResponse(0, []byte("A")))
		require.NoError(t, c.Flush())
		require.Equal(t, "ABC", sock.out.String())
		require.ErrorIs(t, c.QueueResponse(3, []byte("D")), ErrUnknownSequence)
	})

	t.Run("garbled start line", func(t *testing.T) {
		sock := new(fakeSocket)
		called := false
		c := newConn(config.Default(), sock, func(request *http.Request) *http.Response {
			called = true
			return echo(request)
		})

		sock.push("GET\r\nGET / HTTP/1.1\r\n\r\n")
		require.NoError(t, c.OnReadable())
		require.False(t, called)
		require.True(t, strings.HasPrefix(sock.out.String(), "HTTP/1.1 400 Bad Request\r\n"))
		require.Contains(t, sock.out.String(), "Connection: close\r\n")
		require.True(t, c.Done())
		require.False(t, c.WantsRead())

		// nothing is read anymore
		sock.push("GET / HTTP/1.1\r\n\r\n")
		require.NoError(t, c.OnReadable())
		require.Len(t, sock.in, 1)
	})

	t.Run("error after a deferred request", func(t *testing.T) {
		sock := new(fakeSocket)
		c := newConn(config.Default(), sock, func(*http.Request) *http.Response {
			return nil
		})

		sock.push("GET /first HTTP/1.1\r\n\r\nGET / HTTP/1.1\r\nbroken header\r\n\r\n")
		require.NoError(t, c.OnReadable())
		require.Empty(t, sock.out.String())
		require.False(t, c.Done())

		require.NoError(t, c.Respond(0, http.NewResponse().String("first")))
		require.NoError(t, c.Flush())
		require.True(t, strings.HasPrefix(sock.out.String(), response("first")+"HTTP/1.1 400 Bad Request\r\n"))
		require.True(t, c.Done())
	})

	t.Run("connection close", func(t *testing.T) {
		sock := new(fakeSocket)
		calls := 0
		c := newConn(config.Default(), sock, func(request *http.Request) *http.Response {
			calls++
			return echo(request)
		})

		sock.push("GET /a HTTP/1.1\r\nConnection: close\r\n\r\nGET /b HTTP/1.1\r\n\r\n")
		require.NoError(t, c.OnReadable())
		require.Equal(t, 1, calls)
		require.Equal(t, closingResponse("/a"), sock.out.String())
		require.True(t, c.Done())
	})

	t.Run("handler closes", func(t *testing.T) {
		sock := new(fakeSocket)
		c := newConn(config.Default(), sock, func(request *http.Request) *http.Response {
			return echo(request).Header("Connection", "close")
		})

		sock.push("GET /a HTTP/1.1\r\n\r\nGET /b HTTP/1.1\r\n\r\n")
		require.NoError(t, c.OnReadable())
		require.Equal(t, closingResponse("/a"), sock.out.String())
		require.True(t, c.Done())
	})

	t.Run("half closed", func(t *testing.T) {
		sock := new(fakeSocket)
		c := newConn(config.Default(), sock, echo)
		sock.push("GET /a HTTP/1.1\r\n\r\nGET /incompl")
		sock.eof = true
		require.NoError(t, c.OnReadable())
		require.Equal(t, response("/a"), sock.out.String())
		require.True(t, c.Done())
	})

	t.Run("partial writes", func(t *testing.T) {
		sock := &fakeSocket{writeLimit: 7}
		c := newConn(config.Default(), sock, echo)
		sock.push("GET /partial HTTP/1.1\r\n\r\n")
		require.NoError(t, c.OnReadable())
		require.True(t, c.WantsWrite())

		for c.WantsWrite() {
			sock.writeLimit += 7
			require.NoError(t, c.OnWritable())
		}

		require.Equal(t, response("/partial"), sock.out.String())
	})

	t.Run("backpressure", func(t *testing.T) {
		cfg := config.Default()
		cfg.NET.WriteWatermark = 16
		sock := &fakeSocket{blockWrites: true}
		calls := 0
		c := newConn(cfg, sock, func(request *http.Request) *http.Response {
			calls++
			return echo(request)
		})

		sock.push("GET /1 HTTP/1.1\r\n\r\nGET /2 HTTP/1.1\r\n\r\nGET /3 HTTP/1.1\r\n\r\n")
		require.NoError(t, c.OnReadable())
		require.Equal(t, 1, calls)
		require.True(t, c.Paused())
		require.False(t, c.WantsRead())

		sock.blockWrites = false
		require.NoError(t, c.OnWritable())
		require.Equal(t, 3, calls)
		require.False(t, c.Paused())
		require.Equal(t, response("/1")+response("/2")+response("/3"), sock.out.String())
	})

	t.Run("expect continue", func(t *testing.T) {
		sock := new(fakeSocket)
		var body string
		c := newConn(config.Default(), sock, func(request *http.Request) *http.Response {
			body = string(request.Body)
			return echo(request)
		})

		sock.push("PUT /up HTTP/1.1\r\nExpect: 100-continue\r\nContent-Length: 5\r\n\r\n")
		require.NoError(t, c.OnReadable())
		require.Equal(t, "HTTP/1.1 100 Continue\r\n\r\n", sock.out.String())

		sock.push("hello")
		require.NoError(t, c.OnReadable())
		require.Equal(t, "hello", body)
		require.Equal(t, "HTTP/1.1 100 Continue\r\n\r\n"+response("/up"), sock.out.String())
	})

	t.Run("expect continue behind a deferred request", func(t *testing.T) {
		sock := new(fakeSocket)
		c := newConn(config.Default(), sock, func(request *http.Request) *http.Response {
			if request.Target.Raw == "/slow" {
				return nil
			}

			return echo(request)
		})

		sock.push("GET /slow HTTP/1.1\r\n\r\nPUT /up HTTP/1.1\r\nExpect: 100-continue\r\nContent-Length: 1\r\n\r\n")
		require.NoError(t, c.OnReadable())
		require.Empty(t, sock.out.String())

		require.NoError(t, c.Respond(0, http.NewResponse().String("slow")))
		require.NoError(t, c.Flush())
		require.Equal(t, response("slow")+"HTTP/1.1 100 Continue\r\n\r\n", sock.out.String())
	})

	t.Run("timestamps", func(t *testing.T) {
		sock := new(fakeSocket)
		clock := timer.NewManual(time.Unix(100, 0))
		c := New(config.Default(), sock, echo, http1.NewSerializer(nil), clock, nil)
		require.True(t, c.MessageStartedAt().IsZero())

		clock.Advance(time.Second)
		sock.push("GET / HT")
		require.NoError(t, c.OnReadable())
		require.Equal(t, time.Unix(101, 0), c.MessageStartedAt())
		require.Equal(t, time.Unix(101, 0), c.IdleSince())
		require.Equal(t, http1.RequestLine, c.Stage())

		clock.Advance(time.Second)
		sock.push("TP/1.1\r\n\r\n")
		require.NoError(t, c.OnReadable())
		require.True(t, c.MessageStartedAt().IsZero())
		require.Equal(t, time.Unix(102, 0), c.IdleSince())
	})

	t.Run("abort", func(t *testing.T) {
		sock := new(fakeSocket)
		c := newConn(config.Default(), sock, echo)
		sock.push("GET / HTTP/1.1\r\nHost: slow")
		require.NoError(t, c.OnReadable())
		require.NoError(t, c.Abort(status.ErrRequestTimeout))
		require.True(t, strings.HasPrefix(sock.out.String(), "HTTP/1.1 408 Request Timeout\r\n"))
		require.True(t, c.Done())
	})

	t.Run("buffer is reused between messages", func(t *testing.T) {
		cfg := config.Default()
		cfg.NET.ReadBufferSize = 64
		sock := new(fakeSocket)
		c := newConn(cfg, sock, echo)

		for range 100 {
			sock.push("GET /" + strings.Repeat("a", 40) + " HTTP/1.1\r\n\r\n")
			require.NoError(t, c.OnReadable())
		}

		require.LessOrEqual(t, cap(c.cur.Bytes()), 4*cfg.NET.ReadBufferSize)
	})

	t.Run("buffer is compacted when reads end mid-message", func(t *testing.T) {
		for _, tc := range []struct {
			name, head, chunk string
		}{
			{"in the method", "G", "ET / HTTP/1.1\r\n\r\nG"},
			{"in the headers", "GET / HTTP/1.1\r\nHo", "st: x\r\n\r\nGET / HTTP/1.1\r\nHo"},
		} {
			t.Run(tc.name, func(t *testing.T) {
				cfg := config.Default()
				cfg.NET.ReadBufferSize = 64
				sock := new(fakeSocket)
				c := newConn(cfg, sock, echo)

				sock.push(tc.head)
				require.NoError(t, c.OnReadable())

				const requests = 2000
				for range requests {
					sock.push(tc.chunk)
					require.NoError(t, c.OnReadable())
				}

				require.Equal(t, requests, strings.Count(sock.out.String(), response("/")))
				require.LessOrEqual(t, cap(c.cur.Bytes()), 4*cfg.NET.ReadBufferSize)
				require.Less(t, c.cur.Committed(), 2*cfg.NET.ReadBufferSize)
			})
		}
	})

	t.Run("negotiated protocol", func(t *testing.T) {
		sock := negotiatingSocket{&fakeSocket{alpn: "h2"}}
		c := newConn(config.Default(), sock, echo)
		require.NoError(t, c.OnReadable())

		sock.handshaken = true
		require.ErrorIs(t, c.OnReadable(), ErrUnsupportedProtocol)

		sock = negotiatingSocket{&fakeSocket{alpn: "http/1.1", handshaken: true}}
		c = newConn(config.Default(), sock, echo)
		sock.push("GET / HTTP/1.1\r\n\r\n")
		require.NoError(t, c.OnReadable())
		require.Equal(t, response("/"), sock.out.String())
	})

	t.Run("close", func(t *testing.T) {
		sock := new(fakeSocket)
		c := newConn(config.Default(), sock, echo)
		require.NoError(t, c.Close())
		require.NoError(t, c.Close())
		require.True(t, sock.closed)
		require.True(t, c.Done())
		require.ErrorIs(t, c.OnReadable(), io.ErrClosedPipe)
	})
}
