// Package reactor is an HTTP/1.x server built around readiness-driven event loops.
//
// Every loop runs on its own goroutine and owns the connections it accepted. Handlers
// are called synchronously on the loop, so they must not block: slow work is meant to
// be done elsewhere and answered later via App.Respond.
package reactor

import (
	"crypto/tls"
	"errors"
	"net"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/indigo-web/reactor/config"
	"github.com/indigo-web/reactor/http"
	"github.com/indigo-web/reactor/http/status"
	"github.com/indigo-web/reactor/internal/address"
	"github.com/indigo-web/reactor/internal/loop"
	"github.com/indigo-web/reactor/internal/metrics"
	"github.com/indigo-web/reactor/transport"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/acme"
)

var (
	ErrNotRunning   = errors.New("the application isn't running")
	ErrUnknownShard = errors.New("ticket refers to an unknown shard")
)

type App struct {
	addr     string
	cfg      *config.Config
	hooks    hooks
	tls      *tls.Config
	tlsErr   error
	acme     bool
	registry prometheus.Registerer

	mu      sync.Mutex
	sup     *transport.Supervisor
	stopped bool
	loops   atomic.Pointer[[]*loop.Loop]
}

// New returns a new App instance. If only the port is given, all the interfaces are
// listened.
func New(addr string) *App {
	return &App{
		addr: address.Normalize(addr),
		cfg:  config.Default(),
	}
}

// Tune replaces the default config. Unset fields are filled with defaults.
func (a *App) Tune(cfg *config.Config) *App {
	a.cfg = config.Fill(cfg)
	return a
}

// NotifyOnStart calls the callback as soon as all the loops are bound and about to
// accept connections.
func (a *App) NotifyOnStart(cb func()) *App {
	a.hooks.OnStart = cb
	return a
}

// NotifyOnStop calls the callback once all the loops are down and every connection
// is closed.
func (a *App) NotifyOnStop(cb func()) *App {
	a.hooks.OnStop = cb
	return a
}

// Metrics registers the server's collectors in reg.
func (a *App) Metrics(reg prometheus.Registerer) *App {
	a.registry = reg
	return a
}

// TLS serves HTTPS using the passed config. If it doesn't list any application
// protocols, the configured ones are advertised.
func (a *App) TLS(cfg *tls.Config) *App {
	a.tls = cfg
	return a
}

// HTTPS serves HTTPS using the certificate and the key from the files.
func (a *App) HTTPS(cert, key string) *App {
	cfg, err := tlsFromFiles(cert, key)
	if err != nil {
		a.tlsErr = err
		return a
	}

	return a.TLS(cfg)
}

// AutoHTTPS serves HTTPS with certificates obtained by autocert. When the app is
// bound to localhost, a self-signed certificate is generated instead.
func (a *App) AutoHTTPS(domains ...string) *App {
	if address.IsLocalhost(a.addr) {
		cert, key, err := generateSelfSignedCert()
		if err != nil {
			a.tlsErr = err
			return a
		}

		return a.HTTPS(cert, key)
	}

	a.acme = true
	return a.TLS(autoTLSConfig(domains...))
}

// Serve starts the loops and blocks until the app is stopped or any loop fails. A nil
// handler responds 404 to everything.
func (a *App) Serve(handler http.Handler) error {
	if a.tlsErr != nil {
		return a.tlsErr
	}

	if handler == nil {
		handler = notFound
	}

	var m *metrics.Metrics
	if a.registry != nil {
		m = metrics.New(a.registry)
	}

	sup := transport.NewSupervisor()
	loops := make([]*loop.Loop, a.cfg.NET.Shards)
	addr := a.addr
	tlsConfig := a.tlsConfig()

	for i := range loops {
		loops[i] = loop.New(i, a.cfg, handler, tlsConfig, m)
		if err := sup.Add(addr, loops[i]); err != nil {
			return err
		}

		if i == 0 {
			// if the port was chosen by the system, the rest must join the same one
			addr = loops[0].Addr().String()
		}
	}

	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		for _, l := range loops {
			l.Close()
		}

		return nil
	}

	a.sup = &sup
	a.loops.Store(&loops)
	a.mu.Unlock()

	callIfNotNil(a.hooks.OnStart)
	err := sup.Run()
	a.loops.Store(nil)
	callIfNotNil(a.hooks.OnStop)

	return err
}

// Respond delivers a deferred response. The ticket is taken from the request the
// handler returned nil for. Safe for concurrent use.
func (a *App) Respond(ticket http.Ticket, response *http.Response) error {
	l, err := a.loopOf(ticket)
	if err != nil {
		return err
	}

	return l.Respond(ticket, response)
}

// RespondBytes delivers a deferred response that is already serialized. The data is
// written as is and must not be modified afterwards.
func (a *App) RespondBytes(ticket http.Ticket, data []byte) error {
	l, err := a.loopOf(ticket)
	if err != nil {
		return err
	}

	return l.RespondBytes(ticket, data)
}

func (a *App) loopOf(ticket http.Ticket) (*loop.Loop, error) {
	loops := a.loops.Load()
	if loops == nil {
		return nil, ErrNotRunning
	}

	if ticket.Shard < 0 || ticket.Shard >= len(*loops) {
		return nil, ErrUnknownShard
	}

	return (*loops)[ticket.Shard], nil
}

// Addr returns the address the app is listening on, or nil if it isn't running.
func (a *App) Addr() net.Addr {
	loops := a.loops.Load()
	if loops == nil {
		return nil
	}

	return (*loops)[0].Addr()
}

// Stop stops accepting new connections, lets the open ones finish their requests and
// blocks until Serve returns.
func (a *App) Stop() {
	a.mu.Lock()
	a.stopped = true
	sup := a.sup
	a.mu.Unlock()

	if sup != nil {
		sup.Stop()
	}
}

func (a *App) tlsConfig() *tls.Config {
	if a.tls == nil {
		return nil
	}

	cfg := a.tls.Clone()
	if len(cfg.NextProtos) == 0 {
		cfg.NextProtos = slices.Clone(a.cfg.TLS.NextProtos)
	}

	if a.acme {
		// tls-alpn-01 challenges are answered during the handshake
		cfg.NextProtos = append(cfg.NextProtos, acme.ALPNProto)
	}

	return cfg
}

func notFound(*http.Request) *http.Response {
	return http.NewResponse().Code(status.NotFound)
}

type hooks struct {
	OnStart, OnStop func()
}

func callIfNotNil(f func()) {
	if f != nil {
		f()
	}
}
