package config

import (
	"log"
	"runtime"
	"time"
)

type (
	HeadersNumber struct {
		Default, Maximal int
	}

	HeadersSpace struct {
		Default, Maximal int
	}

	URIRequestLineSize struct {
		Maximal int
	}
)

type (
	URI struct {
		// RequestLineSize limits the whole request line, including the method, the
		// target, the protocol and the trailing CRLF. Exceeding it results in
		// status.ErrLineTooLong.
		RequestLineSize URIRequestLineSize
	}

	Headers struct {
		// Number is responsible for the headers storage size.
		// Default value is an initial size of allocated headers storage.
		// Maximal value is maximum number of headers allowed to be presented.
		Number HeadersNumber
		// Space limits the amount of memory occupied by request headers, including the
		// trailers of chunked bodies. Default is a hint used to preallocate the receive
		// buffer.
		Space HeadersSpace
		// MaxFieldSize limits a single header line, including its CRLF.
		MaxFieldSize int
		// Default headers are headers to be included into every response implicitly, unless
		// explicitly overridden.
		Default map[string]string `test:"nullable"`
	}

	Body struct {
		// MaxSize describes the maximal size of a body, that can be processed. As bodies
		// are buffered entirely, it also limits the receive buffer growth.
		MaxSize int64
		// MaxChunkSize limits a single chunk of chunked bodies. Exceeding it results in
		// status.ErrMalformedBody.
		MaxChunkSize int64
	}

	NET struct {
		// ReadBufferSize is the initial size of the receive buffer. It is also the
		// minimal free space requested before every read.
		ReadBufferSize int
		// WriteWatermark is the amount of unsent bytes upon which the connection stops
		// being read until the send buffer drains.
		WriteWatermark int
		// IdleTimeout controls the maximal lifetime of IDLE connections. If no data was
		// received in this period of time, it'll be closed.
		IdleTimeout time.Duration
		// HeaderTimeout limits the time between the first byte of a request and the end
		// of its headers section.
		HeaderTimeout time.Duration
		// PollInterval is the longest time a loop may sleep waiting for events. Timeouts
		// are checked at this rate, so they're as precise as it is.
		PollInterval time.Duration
		// Shards is the number of independent event loops. Every one of them has its own
		// listener, the kernel distributes connections between them.
		Shards int
		// Backlog is the length of the pending connections queue of every listener.
		Backlog int
	}

	TLS struct {
		// NextProtos is the ALPN protocols list, in order of preference. Connections
		// negotiating anything but HTTP/1.x are closed.
		NextProtos []string
	}
)

// Config holds settings used across various parts of the server, mainly restrictions,
// limitations and pre-allocations.
//
// You must ALWAYS modify defaults (returned via Default()) and NEVER try to initialize the
// config manually, because most likely this will result in ambiguous errors.
type Config struct {
	URI     URI
	Headers Headers
	Body    Body
	NET     NET
	TLS     TLS
}

// Default returns default config. Those are initially well-balanced, however maximal defaults
// are pretty permitting.
func Default() *Config {
	return &Config{
		URI: URI{
			RequestLineSize: URIRequestLineSize{
				// allow at most 16kb of request line, which is effectively pretty much tolerant,
				// considering most web-entities limit it to 4-8kb.
				Maximal: 16 * 1024,
			},
		},
		Headers: Headers{
			Number: HeadersNumber{
				Default: 10,
				Maximal: 100,
			},
			Space: HeadersSpace{
				Default: 1 * 1024,  // 1kb for headers must be fairly enough in most cases.
				Maximal: 64 * 1024, // However, there also might be extremely long cookies.
			},
			MaxFieldSize: 8 * 1024,
			Default:      make(map[string]string),
		},
		Body: Body{
			MaxSize:      16 * 1024 * 1024,
			MaxChunkSize: 16 * 1024 * 1024,
		},
		NET: NET{
			ReadBufferSize: 4 * 1024,
			WriteWatermark: 256 * 1024,
			IdleTimeout:    90 * time.Second,
			HeaderTimeout:  10 * time.Second,
			PollInterval:   500 * time.Millisecond,
			Shards:         runtime.NumCPU(),
			Backlog:        1024,
		},
		TLS: TLS{
			NextProtos: []string{"http/1.1"},
		},
	}
}

// Fill replaces zero and nonsensical values by their defaults. Every replacement of a
// non-zero value is reported, as it is most likely a misconfiguration.
func Fill(cfg *Config) *Config {
	if cfg == nil {
		return Default()
	}

	def := Default()
	fillInt(&cfg.URI.RequestLineSize.Maximal, def.URI.RequestLineSize.Maximal, "URI.RequestLineSize.Maximal")
	fillInt(&cfg.Headers.Number.Default, def.Headers.Number.Default, "Headers.Number.Default")
	fillInt(&cfg.Headers.Number.Maximal, def.Headers.Number.Maximal, "Headers.Number.Maximal")
	fillInt(&cfg.Headers.Space.Default, def.Headers.Space.Default, "Headers.Space.Default")
	fillInt(&cfg.Headers.Space.Maximal, def.Headers.Space.Maximal, "Headers.Space.Maximal")
	fillInt(&cfg.Headers.MaxFieldSize, def.Headers.MaxFieldSize, "Headers.MaxFieldSize")
	fillInt(&cfg.NET.ReadBufferSize, def.NET.ReadBufferSize, "NET.ReadBufferSize")
	fillInt(&cfg.NET.WriteWatermark, def.NET.WriteWatermark, "NET.WriteWatermark")
	fillInt(&cfg.NET.Shards, def.NET.Shards, "NET.Shards")
	fillInt(&cfg.NET.Backlog, def.NET.Backlog, "NET.Backlog")

	if cfg.Body.MaxSize < 0 {
		log.Printf("misconfiguration: Body.MaxSize is negative, using %d", def.Body.MaxSize)
		cfg.Body.MaxSize = def.Body.MaxSize
	} else if cfg.Body.MaxSize == 0 {
		cfg.Body.MaxSize = def.Body.MaxSize
	}

	if cfg.Body.MaxChunkSize <= 0 {
		cfg.Body.MaxChunkSize = def.Body.MaxChunkSize
	}

	if cfg.NET.PollInterval <= 0 {
		cfg.NET.PollInterval = def.NET.PollInterval
	}

	if cfg.NET.IdleTimeout <= 0 {
		cfg.NET.IdleTimeout = def.NET.IdleTimeout
	}

	if cfg.NET.HeaderTimeout <= 0 {
		cfg.NET.HeaderTimeout = def.NET.HeaderTimeout
	}

	if cfg.Headers.Default == nil {
		cfg.Headers.Default = def.Headers.Default
	}

	if len(cfg.TLS.NextProtos) == 0 {
		cfg.TLS.NextProtos = def.TLS.NextProtos
	}

	if cfg.Headers.Number.Default > cfg.Headers.Number.Maximal {
		log.Printf(
			"misconfiguration: Headers.Number.Default (%d) exceeds the maximal value (%d)",
			cfg.Headers.Number.Default, cfg.Headers.Number.Maximal,
		)
		cfg.Headers.Number.Default = cfg.Headers.Number.Maximal
	}

	if cfg.Headers.MaxFieldSize > cfg.Headers.Space.Maximal {
		log.Printf(
			"WARNING: Headers.MaxFieldSize (%d) exceeds Headers.Space.Maximal (%d) and is effectively limited by it",
			cfg.Headers.MaxFieldSize, cfg.Headers.Space.Maximal,
		)
	}

	return cfg
}

func fillInt(field *int, def int, name string) {
	switch {
	case *field == 0:
		*field = def
	case *field < 0:
		log.Printf("misconfiguration: %s is negative (%d), using %d", name, *field, def)
		*field = def
	}
}
