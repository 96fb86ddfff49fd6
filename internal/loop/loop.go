// Package loop implements the readiness-driven event loop. A loop owns a listener, a
// poller and every connection it accepted. Nothing the loop owns is shared with other
// goroutines: deferred responses and TLS progress reach it through the mailbox.
package loop

import (
	"crypto/tls"
	"errors"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/indigo-web/reactor/config"
	"github.com/indigo-web/reactor/http"
	"github.com/indigo-web/reactor/http/status"
	"github.com/indigo-web/reactor/internal/conn"
	"github.com/indigo-web/reactor/internal/metrics"
	"github.com/indigo-web/reactor/internal/poller"
	"github.com/indigo-web/reactor/internal/protocol/http1"
	"github.com/indigo-web/reactor/internal/registry"
	"github.com/indigo-web/reactor/internal/socket"
	"github.com/indigo-web/reactor/internal/timer"
	"github.com/indigo-web/reactor/internal/tlsconn"
)

const (
	maxEvents  = 256
	listenerID = poller.WakeID - 1
)

var ErrNotBound = errors.New("loop isn't bound to any address")

type entry struct {
	conn     *conn.Conn
	sock     *socket.Socket
	session  *tlsconn.Session
	interest poller.Interest
}

type messageKind uint8

const (
	// sessionProgress means the TLS session has something new to read or to send
	sessionProgress messageKind = iota
	deferredResponse
	deferredBytes
)

type message struct {
	kind     messageKind
	id       registry.ID
	seq      uint64
	response *http.Response
	data     []byte
}

type Loop struct {
	shard      int
	cfg        *config.Config
	handler    http.Handler
	tls        *tls.Config
	metrics    *metrics.Metrics
	serializer *http1.Serializer
	clock      *timer.Coarse

	listener *socket.Listener
	poller   *poller.Poller
	conns    *registry.Slab[*entry]
	events   []poller.Event
	doomed   []registry.ID

	mu      sync.Mutex
	mailbox []message
	spare   []message

	stopping  atomic.Bool
	draining  bool
	deadline  time.Time
	closeOnce sync.Once
	done      chan struct{}
}

// New creates a loop serving the handler. A nil tlsConfig means plain HTTP.
func New(
	shard int,
	cfg *config.Config,
	handler http.Handler,
	tlsConfig *tls.Config,
	m *metrics.Metrics,
) *Loop {
	return &Loop{
		shard:      shard,
		cfg:        cfg,
		handler:    handler,
		tls:        tlsConfig,
		metrics:    m,
		serializer: http1.NewSerializer(cfg.Headers.Default),
		clock:      timer.NewCoarse(),
		conns:      registry.New[*entry](cfg.NET.Backlog),
		events:     make([]poller.Event, 0, maxEvents),
		done:       make(chan struct{}),
	}
}

// Bind opens the listener. Loops sharing the same address split the incoming
// connections between each other.
func (l *Loop) Bind(addr string) (err error) {
	l.listener, err = socket.Listen(addr, l.cfg.NET.Backlog)
	if err != nil {
		return err
	}

	l.poller, err = poller.New(maxEvents)
	if err != nil {
		_ = l.listener.Close()
		return err
	}

	if err = l.poller.Add(l.listener.FD(), listenerID, poller.Read); err != nil {
		_ = l.poller.Close()
		_ = l.listener.Close()
		return err
	}

	return nil
}

// Addr returns the address the loop is listening on.
func (l *Loop) Addr() net.Addr {
	if l.listener == nil {
		return nil
	}

	return l.listener.Addr()
}

// Serve runs the loop until Stop is called and all the connections are done, or until
// polling fails.
func (l *Loop) Serve() error {
	defer close(l.done)

	if l.poller == nil {
		return ErrNotBound
	}

	lastSweep := l.clock.Tick()

	for {
		var err error
		l.events, err = l.poller.Wait(l.cfg.NET.PollInterval, l.events[:0])
		if err != nil {
			log.Printf("poller: %s", err)
			l.teardown()
			return err
		}

		now := l.clock.Tick()

		for _, ev := range l.events {
			switch ev.ID {
			case listenerID:
				l.accept()
			case poller.WakeID:
				l.receive()
			default:
				l.handle(registry.ID(ev.ID), ev)
			}
		}

		if l.stopping.Load() && !l.draining {
			l.drain(now)
		}

		if l.draining {
			l.closeIdle(now)
			if l.conns.Len() == 0 {
				l.teardown()
				return nil
			}
		}

		if now.Sub(lastSweep) >= l.cfg.NET.PollInterval {
			l.sweep(now)
			lastSweep = now
		}
	}
}

// Respond delivers the response to the request identified by the ticket. Safe for
// concurrent use. Responses to connections that are already gone are dropped.
func (l *Loop) Respond(ticket http.Ticket, response *http.Response) error {
	if l.poller == nil {
		return ErrNotBound
	}

	l.post(message{
		kind:     deferredResponse,
		id:       registry.ID(ticket.Conn),
		seq:      ticket.Seq,
		response: response,
	})

	return nil
}

// RespondBytes is like Respond, but the response is already serialized. The data is
// written as is, so it must be a complete HTTP/1.x response, and mustn't be modified
// afterwards.
func (l *Loop) RespondBytes(ticket http.Ticket, data []byte) error {
	if l.poller == nil {
		return ErrNotBound
	}

	l.post(message{
		kind: deferredBytes,
		id:   registry.ID(ticket.Conn),
		seq:  ticket.Seq,
		data: data,
	})

	return nil
}

// Stop stops accepting new connections. Serve returns once the open connections are
// done with their requests. Safe for concurrent use.
func (l *Loop) Stop() {
	if !l.stopping.Swap(true) && l.poller != nil {
		_ = l.poller.Wake()
	}
}

// Wait blocks until Serve returned.
func (l *Loop) Wait() {
	<-l.done
}

// Close releases the listener and the poller of a loop that never served.
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		if l.listener != nil {
			_ = l.listener.Close()
		}

		if l.poller != nil {
			_ = l.poller.Close()
		}
	})
}

func (l *Loop) post(msg message) {
	l.mu.Lock()
	l.mailbox = append(l.mailbox, msg)
	l.mu.Unlock()

	_ = l.poller.Wake()
}

func (l *Loop) receive() {
	l.mu.Lock()
	messages := l.mailbox
	l.mailbox = l.spare[:0]
	l.mu.Unlock()

	for _, msg := range messages {
		e, found := l.conns.Get(msg.id)
		if !found {
			continue
		}

		var err error
		switch msg.kind {
		case sessionProgress:
			err = l.onReadable(e)
		case deferredResponse:
			err = e.conn.Respond(msg.seq, msg.response)
		case deferredBytes:
			err = e.conn.QueueResponse(msg.seq, msg.data)
		}

		if msg.kind != sessionProgress {
			if errors.Is(err, conn.ErrUnknownSequence) {
				// the tail of the pipeline was discarded meanwhile
				err = nil
			}

			if err == nil {
				err = e.conn.Resume()
			}
		}

		l.settle(msg.id, e, err)
	}

	clear(messages)
	l.spare = messages
}

func (l *Loop) accept() {
	for !l.draining {
		sock, err := l.listener.Accept()
		if err != nil {
			if !errors.Is(err, conn.ErrWouldBlock) {
				log.Printf("shard %d: %s", l.shard, err)
			}

			return
		}

		l.register(sock)
	}
}

func (l *Loop) register(sock *socket.Socket) {
	e := &entry{sock: sock, interest: poller.Read}
	id := l.conns.Insert(e)

	var stream conn.Socket = sock
	if l.tls != nil {
		e.session = tlsconn.New(sock, l.tls, l.cfg.NET.ReadBufferSize*4, func() {
			l.post(message{kind: sessionProgress, id: id})
		})
		stream = e.session
	}

	e.conn = conn.New(l.cfg, stream, l.handler, l.serializer, l.clock, l.metrics)
	e.conn.Bind(l.shard, uint64(id))

	if err := l.poller.Add(sock.FD(), uint64(id), e.interest); err != nil {
		log.Printf("shard %d: %s", l.shard, err)
		_ = e.conn.Close()
		l.conns.Remove(id)
		return
	}

	l.metrics.Accepted()
}

func (l *Loop) handle(id registry.ID, ev poller.Event) {
	e, found := l.conns.Get(id)
	if !found {
		return
	}

	if ev.Hangup {
		// whatever arrived before the peer had gone still gets processed
		_ = l.onReadable(e)
		l.close(id, e)
		return
	}

	var err error
	if ev.Writable {
		err = l.onWritable(e)
	}

	if err == nil && ev.Readable {
		err = l.onReadable(e)
	}

	l.settle(id, e, err)
}

func (l *Loop) onReadable(e *entry) error {
	if e.session != nil {
		if err := e.session.Pump(); err != nil {
			return err
		}

		if err := e.session.Flush(); err != nil {
			return err
		}
	}

	return e.conn.OnReadable()
}

func (l *Loop) onWritable(e *entry) error {
	if e.session != nil {
		if err := e.session.Flush(); err != nil {
			return err
		}
	}

	return e.conn.OnWritable()
}

// settle closes the connection if it's done, or adjusts its interest set otherwise.
func (l *Loop) settle(id registry.ID, e *entry, err error) {
	pending := e.session != nil && e.session.Pending()
	if err != nil || (e.conn.Done() && !pending) {
		l.close(id, e)
		return
	}

	var interest poller.Interest
	if e.conn.WantsRead() && (e.session == nil || e.session.WantsRead()) {
		interest |= poller.Read
	}

	if e.conn.WantsWrite() || pending {
		interest |= poller.Write
	}

	if interest != e.interest {
		if err = l.poller.Modify(e.sock.FD(), uint64(id), interest); err != nil {
			l.close(id, e)
			return
		}

		e.interest = interest
	}
}

func (l *Loop) close(id registry.ID, e *entry) {
	if _, removed := l.conns.Remove(id); !removed {
		return
	}

	_ = l.poller.Remove(e.sock.FD())
	_ = e.conn.Close()
	l.metrics.Closed()
}

// sweep enforces the timeouts.
func (l *Loop) sweep(now time.Time) {
	var (
		headerTimeout = l.cfg.NET.HeaderTimeout
		idleTimeout   = l.cfg.NET.IdleTimeout
		doomed        = l.doomed[:0]
	)

	for id, e := range l.conns.All() {
		switch stage := e.conn.Stage(); {
		case (stage == http1.RequestLine || stage == http1.Headers) &&
			!e.conn.MessageStartedAt().IsZero() &&
			now.Sub(e.conn.MessageStartedAt()) > headerTimeout:
			doomed = append(doomed, id)
		case !e.conn.Busy() && now.Sub(e.conn.IdleSince()) > idleTimeout:
			doomed = append(doomed, id)
		}
	}

	for _, id := range doomed {
		e, _ := l.conns.Get(id)
		if stage := e.conn.Stage(); stage == http1.RequestLine || stage == http1.Headers {
			l.settle(id, e, e.conn.Abort(status.ErrRequestTimeout))
		} else {
			l.close(id, e)
		}
	}

	l.doomed = doomed
}

// drain stops accepting and gives the open connections a deadline to finish.
func (l *Loop) drain(now time.Time) {
	l.draining = true
	l.deadline = now.Add(l.cfg.NET.HeaderTimeout)
	_ = l.poller.Remove(l.listener.FD())
	_ = l.listener.Close()
}

// closeIdle closes the connections that have no request in progress. Once the drain
// deadline is passed, all the connections are closed.
func (l *Loop) closeIdle(now time.Time) {
	expired := now.After(l.deadline)
	doomed := l.doomed[:0]

	for id, e := range l.conns.All() {
		if expired || (!e.conn.Busy() && !e.conn.WantsWrite() && e.conn.Stage() == http1.Start) {
			doomed = append(doomed, id)
		}
	}

	for _, id := range doomed {
		e, _ := l.conns.Get(id)
		l.close(id, e)
	}

	l.doomed = doomed
}

func (l *Loop) teardown() {
	doomed := l.doomed[:0]
	for id := range l.conns.All() {
		doomed = append(doomed, id)
	}

	for _, id := range doomed {
		e, _ := l.conns.Get(id)
		l.close(id, e)
	}

	l.doomed = doomed
	l.closeOnce.Do(func() {
		if !l.draining {
			_ = l.listener.Close()
		}

		_ = l.poller.Close()
	})
}
