// Package conn implements a single HTTP/1.x connection driven by readiness events.
//
// A connection never blocks: reads and writes stop as soon as the socket reports
// ErrWouldBlock, and are resumed by the next OnReadable or OnWritable call. Requests
// are dispatched synchronously, responses are written strictly in the order the
// requests were parsed in.
package conn

import (
	"errors"
	"io"
	"time"

	"github.com/indigo-web/reactor/config"
	"github.com/indigo-web/reactor/http"
	"github.com/indigo-web/reactor/http/headers"
	"github.com/indigo-web/reactor/http/method"
	"github.com/indigo-web/reactor/http/proto"
	"github.com/indigo-web/reactor/http/status"
	"github.com/indigo-web/reactor/internal/cursor"
	"github.com/indigo-web/reactor/internal/metrics"
	"github.com/indigo-web/reactor/internal/protocol/http1"
	"github.com/indigo-web/reactor/internal/timer"
)

// MaxPipeline limits the number of requests awaiting their responses. Once reached,
// the connection stops parsing until responses are delivered.
const MaxPipeline = 128

var (
	// ErrWouldBlock is returned by sockets when the operation can't progress without
	// waiting for readiness.
	ErrWouldBlock = errors.New("operation would block")
	// ErrUnknownSequence is returned when a response is queued for a request that was
	// never parsed, was already responded or belongs to a discarded tail of the pipeline.
	ErrUnknownSequence = errors.New("unknown response sequence number")
	// ErrUnsupportedProtocol is returned when TLS negotiated a protocol other than HTTP/1.x.
	ErrUnsupportedProtocol = errors.New("negotiated protocol is not supported")
)

// Socket is a non-blocking byte stream. Read returns io.EOF once the peer stopped
// sending. Both Read and Write return ErrWouldBlock instead of blocking.
type Socket interface {
	Read(b []byte) (n int, err error)
	Write(b []byte) (n int, err error)
	Close() error
}

// Negotiator is implemented by sockets that agree on the application protocol during
// a handshake, i.e. TLS with ALPN.
type Negotiator interface {
	// NegotiatedProtocol returns the selected protocol and whether the negotiation is over.
	NegotiatedProtocol() (protocol string, done bool)
}

type inflight struct {
	meta  http1.Meta
	data  []byte
	ready bool
}

type Conn struct {
	id         uint64
	shard      int
	cfg        *config.Config
	sock       Socket
	handler    http.Handler
	clock      timer.Clock
	metrics    *metrics.Metrics
	cur        *cursor.Cursor
	request    *http.Request
	parser     *http1.Parser
	serializer *http1.Serializer

	out  []byte
	sent int
	// queue holds requests awaiting their responses. queue[i] is the request number headSeq+i.
	queue   []inflight
	headSeq uint64
	nextSeq uint64

	idleSince        time.Time
	messageStartedAt time.Time

	negotiated      bool
	continuePending bool
	halfClosed      bool
	closeAfterFlush bool
	closed          bool
}

func New(
	cfg *config.Config,
	sock Socket,
	handler http.Handler,
	serializer *http1.Serializer,
	clock timer.Clock,
	m *metrics.Metrics,
) *Conn {
	request := http.NewRequest(
		headers.NewPrealloc(cfg.Headers.Number.Default),
		headers.New(),
	)
	cur := cursor.New(make([]byte, 0, cfg.NET.ReadBufferSize))

	return &Conn{
		cfg:        cfg,
		sock:       sock,
		handler:    handler,
		clock:      clock,
		metrics:    m,
		cur:        cur,
		request:    request,
		parser:     http1.NewParser(cfg, request, cur),
		serializer: serializer,
		idleSince:  clock.Now(),
	}
}

// Bind sets the identity the connection stamps on request tickets.
func (c *Conn) Bind(shard int, id uint64) {
	c.shard, c.id = shard, id
}

// OnReadable reads everything available and processes it. A returned error means the
// connection must be torn down immediately.
func (c *Conn) OnReadable() error {
	if c.closed {
		return io.ErrClosedPipe
	}

	if err := c.negotiate(); err != nil {
		return err
	}

	for c.WantsRead() {
		c.reserve()
		buf := c.cur.Bytes()
		n, err := c.sock.Read(buf[len(buf):cap(buf)])
		if n > 0 {
			c.cur.Reset(buf[:len(buf)+n])
			c.idleSince = c.clock.Now()
			c.metrics.Read(n)

			if rerr := c.Resume(); rerr != nil {
				return rerr
			}
		}

		switch {
		case err == nil:
			if n == 0 {
				return nil
			}
		case errors.Is(err, ErrWouldBlock):
			return nil
		case errors.Is(err, io.EOF):
			// a request cut in the middle can never be completed
			c.halfClosed = true
			return nil
		default:
			return err
		}
	}

	return c.Resume()
}

// OnWritable flushes pending output. If that relieved the backpressure, the bytes
// buffered meanwhile are processed.
func (c *Conn) OnWritable() error {
	if c.closed {
		return io.ErrClosedPipe
	}

	paused := c.Paused()
	if err := c.flush(); err != nil {
		return err
	}

	if paused && !c.Paused() {
		return c.Resume()
	}

	return nil
}

// Resume processes already buffered bytes and flushes the output, until either
// backpressure kicks in or no progress can be made.
func (c *Conn) Resume() error {
	if c.closed {
		return io.ErrClosedPipe
	}

	for {
		before, stalled := c.nextSeq, c.Paused()
		c.process()
		if err := c.flush(); err != nil {
			return err
		}

		if c.Paused() || (c.nextSeq == before && !stalled) {
			return nil
		}
	}
}

// Respond renders and queues the response to the request number seq.
func (c *Conn) Respond(seq uint64, response *http.Response) error {
	entry, err := c.entry(seq)
	if err != nil {
		return err
	}

	if http1.ClosesConnection(response) {
		entry.meta.KeepAlive = false
	}

	if seq == c.headSeq {
		c.out = c.serializer.Render(c.out, entry.meta, response)
	} else {
		entry.data = c.serializer.Render(nil, entry.meta, response)
	}

	entry.ready = true
	c.drain()

	return nil
}

// QueueResponse queues already serialized response bytes for the request number seq.
// Responses arriving ahead of their turn are held until all the preceding ones are
// queued. The data is retained by the connection.
func (c *Conn) QueueResponse(seq uint64, data []byte) error {
	entry, err := c.entry(seq)
	if err != nil {
		return err
	}

	entry.data = data
	entry.ready = true
	c.drain()

	return nil
}

// Flush writes as much of the pending output as the socket accepts.
func (c *Conn) Flush() error {
	if c.closed {
		return io.ErrClosedPipe
	}

	return c.flush()
}

// WantsRead tells whether the read interest must be registered.
func (c *Conn) WantsRead() bool {
	return !c.closed && !c.halfClosed && !c.closeAfterFlush &&
		c.parser.Stage() != http1.Closed && !c.Paused()
}

// WantsWrite tells whether there are unsent bytes.
func (c *Conn) WantsWrite() bool {
	return c.sent < len(c.out)
}

// Paused reports whether reading is suspended because of backpressure: either too
// many bytes are waiting to be sent, or too many requests are waiting for responses.
func (c *Conn) Paused() bool {
	return len(c.out)-c.sent > c.cfg.NET.WriteWatermark || len(c.queue) >= MaxPipeline
}

// Done reports whether the connection has nothing more to do and must be closed.
func (c *Conn) Done() bool {
	if c.closed {
		return true
	}

	if c.WantsWrite() {
		return false
	}

	return c.closeAfterFlush || (c.halfClosed && len(c.queue) == 0)
}

// Close closes the socket. It's safe to call multiple times.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}

	c.closed = true
	c.parser.Close()
	c.queue = nil
	return c.sock.Close()
}

// IdleSince returns the last time the connection had any activity.
func (c *Conn) IdleSince() time.Time {
	return c.idleSince
}

// MessageStartedAt returns when the first byte of the message being parsed arrived.
// It's zero between messages.
func (c *Conn) MessageStartedAt() time.Time {
	return c.messageStartedAt
}

// Stage returns the parser stage of the current message.
func (c *Conn) Stage() http1.Stage {
	return c.parser.Stage()
}

// Busy reports whether there are requests awaiting responses.
func (c *Conn) Busy() bool {
	return len(c.queue) > 0
}

// Abort rejects the message in progress with err and closes the connection after the
// preceding responses and the error response are flushed.
func (c *Conn) Abort(err error) error {
	if c.parser.Stage() == http1.Closed {
		return nil
	}

	c.parser.Close()
	c.fail(err)
	return c.flush()
}

func (c *Conn) negotiate() error {
	if c.negotiated {
		return nil
	}

	negotiator, ok := c.sock.(Negotiator)
	if !ok {
		c.negotiated = true
		return nil
	}

	protocol, done := negotiator.NegotiatedProtocol()
	if !done {
		return nil
	}

	c.negotiated = true
	if proto.FromALPN(protocol)&proto.HTTP1 == 0 {
		return ErrUnsupportedProtocol
	}

	return nil
}

// reserve makes sure there's enough free space to read into.
func (c *Conn) reserve() {
	c.compact()
	buf := c.cur.Bytes()

	if cap(buf)-len(buf) >= c.cfg.NET.ReadBufferSize {
		return
	}

	grown := make([]byte, len(buf), max(cap(buf)*2, len(buf)+c.cfg.NET.ReadBufferSize))
	copy(grown, buf)
	c.cur.Reset(grown)
}

// compact discards the consumed bytes. This is only possible between messages, as
// the parsed request refers to them.
func (c *Conn) compact() {
	committed := c.cur.Committed()
	if committed == 0 || !c.parser.Idle() {
		return
	}

	buf := c.cur.Bytes()
	n := copy(buf[:cap(buf)], buf[committed:])
	c.cur.Rebase(committed, buf[:n])
}

// process parses and dispatches everything that can be.
func (c *Conn) process() {
	for c.parser.Stage() != http1.Closed && !c.Paused() {
		state, err := c.parser.Parse()
		switch state {
		case http1.Pending:
			if c.messageStartedAt.IsZero() && !c.parser.Idle() {
				c.messageStartedAt = c.clock.Now()
			}

			return
		case http1.HeadersCompleted:
			if c.request.ExpectContinue {
				c.continuePending = true
				c.drain()
			}
		case http1.Completed:
			c.dispatch()
			// the next message may already be partially buffered, in which case the
			// parser wouldn't be idle by the time of the next read
			if c.cur.Committed() >= c.cfg.NET.ReadBufferSize {
				c.compact()
			}
		case http1.Error:
			c.fail(err)
			return
		}
	}
}

func (c *Conn) dispatch() {
	request := c.request
	seq := c.nextSeq
	c.nextSeq++
	c.continuePending = false
	c.messageStartedAt = time.Time{}
	c.metrics.Request(request.Proto.String())

	request.Ticket = http.Ticket{Shard: c.shard, Conn: c.id, Seq: seq}
	c.queue = append(c.queue, inflight{
		meta: http1.Meta{
			Proto:     request.Proto,
			Head:      request.Method == method.HEAD,
			KeepAlive: request.KeepAlive,
		},
	})

	keepAlive := request.KeepAlive
	if response := c.handler(request); response != nil {
		// can't fail, as the sequence number was just issued
		_ = c.Respond(seq, response)
	}

	if keepAlive {
		c.parser.Reset()
	} else {
		c.parser.Close()
	}
}

// fail queues the best-effort error response as the last one on the connection.
func (c *Conn) fail(err error) {
	c.metrics.ParseError(err)
	c.messageStartedAt = time.Time{}

	if errors.Is(err, status.ErrCloseConnection) {
		c.closeAfterFlush = true
		return
	}

	c.nextSeq++
	c.queue = append(c.queue, inflight{
		meta:  http1.Meta{Proto: c.request.Proto},
		data:  c.serializer.RenderError(nil, c.request.Proto, err),
		ready: true,
	})
	c.drain()
}

func (c *Conn) entry(seq uint64) (*inflight, error) {
	if seq < c.headSeq || seq >= c.headSeq+uint64(len(c.queue)) {
		return nil, ErrUnknownSequence
	}

	entry := &c.queue[seq-c.headSeq]
	if entry.ready {
		return nil, ErrUnknownSequence
	}

	return entry, nil
}

// drain moves ready responses from the head of the queue into the output.
func (c *Conn) drain() {
	n := 0
	for ; n < len(c.queue) && c.queue[n].ready; n++ {
		entry := c.queue[n]
		c.out = append(c.out, entry.data...)

		if !entry.meta.KeepAlive {
			// everything past this response is never going to be answered
			c.closeAfterFlush = true
			c.parser.Close()
			c.headSeq = c.nextSeq
			c.queue = c.queue[:0]
			return
		}
	}

	c.headSeq += uint64(n)
	c.queue = c.queue[:copy(c.queue, c.queue[n:])]

	if len(c.queue) == 0 && c.continuePending {
		c.out = c.serializer.RenderContinue(c.out, c.request.Proto)
		c.continuePending = false
	}
}

func (c *Conn) flush() error {
	for c.sent < len(c.out) {
		n, err := c.sock.Write(c.out[c.sent:])
		c.sent += n
		c.metrics.Written(n)

		if err != nil {
			if errors.Is(err, ErrWouldBlock) {
				return nil
			}

			return err
		}
	}

	c.out = c.out[:0]
	c.sent = 0
	c.idleSince = c.clock.Now()

	return nil
}
