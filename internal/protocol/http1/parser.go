package http1

import (
	"fmt"
	"math"
	"strings"

	"github.com/indigo-web/reactor/config"
	"github.com/indigo-web/reactor/http"
	"github.com/indigo-web/reactor/http/headers"
	"github.com/indigo-web/reactor/http/method"
	"github.com/indigo-web/reactor/http/proto"
	"github.com/indigo-web/reactor/http/status"
	"github.com/indigo-web/reactor/internal/cursor"
	"github.com/indigo-web/reactor/internal/scan"
	"github.com/indigo-web/utils/strcomp"
	"github.com/indigo-web/utils/uf"
)

// RequestState is the outcome of a single Parse call.
type RequestState uint8

const (
	// Pending means more bytes are needed. Nothing is lost: the next call continues
	// exactly where this one stopped.
	Pending RequestState = iota
	// HeadersCompleted is returned once per message carrying a body, right after the
	// headers section. Parsing must be continued in order to get the body.
	HeadersCompleted
	// Completed means the whole message, including its body, is parsed. The request
	// stays valid until Reset is called.
	Completed
	// Error is terminal. The returned error is a status.HTTPError.
	Error
)

// Stage is the coarse parser stage, as observed from the outside.
type Stage uint8

const (
	Start Stage = iota
	RequestLine
	Headers
	DetermineFraming
	Body
	Complete
	Closed
)

func (s Stage) String() string {
	switch s {
	case Start:
		return "start"
	case RequestLine:
		return "request line"
	case Headers:
		return "headers"
	case DetermineFraming:
		return "determine framing"
	case Body:
		return "body"
	case Complete:
		return "complete"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

type parserState uint8

const (
	eStart parserState = iota
	eMethod
	eTarget
	eVersion
	eHeaders
	eFraming
	eBodyFixed
	eChunkSize
	eChunkData
	eChunkDataCRLF
	eTrailers
	eComplete
	eClosed
)

// Parser is an incremental HTTP/1.x request parser working directly over the
// connection's receive buffer. It never copies the message: request fields are views
// into the buffer, chunked bodies are de-chunked in place.
//
// The buffer must not be compacted while a message is being parsed. Idle tells when
// it is safe.
type Parser struct {
	cfg      *config.Config
	request  *http.Request
	cur      *cursor.Cursor
	progress scan.Progress
	err      error
	state    parserState
	// lineLeft is the request line budget left
	lineLeft int
	// spaceLeft is the headers section budget left, shared with trailers
	spaceLeft int
	bodyLeft  int64
	chunkLeft int64
	bodyStart int
	bodyEnd   int
}

func NewParser(cfg *config.Config, request *http.Request, cur *cursor.Cursor) *Parser {
	return &Parser{
		cfg:     cfg,
		request: request,
		cur:     cur,
		state:   eStart,
	}
}

// Parse continues parsing the buffered bytes.
func (p *Parser) Parse() (state RequestState, err error) {
	c := p.cur
	request := p.request
	cfg := p.cfg

	switch p.state {
	case eStart:
		goto start
	case eMethod:
		goto method
	case eTarget:
		goto target
	case eVersion:
		goto version
	case eHeaders:
		goto headers
	case eFraming:
		goto framing
	case eBodyFixed:
		goto bodyFixed
	case eChunkSize:
		goto chunkSize
	case eChunkData:
		goto chunkData
	case eChunkDataCRLF:
		goto chunkDataCRLF
	case eTrailers:
		goto trailers
	case eComplete:
		return Completed, nil
	case eClosed:
		return Error, p.err
	default:
		panic(fmt.Sprintf("BUG: unexpected parser state: %d", p.state))
	}

start:
	// empty lines preceding the request line must be ignored
	for {
		prefix := c.Peek(2)
		if len(prefix) == 0 || prefix[0] != '\r' {
			break
		}

		if len(prefix) < 2 {
			return Pending, nil
		}

		if prefix[1] != '\n' {
			return p.fail(status.ErrMalformedRequestLine)
		}

		p.consume(2)
	}

	if c.Len() == 0 {
		return Pending, nil
	}

	p.lineLeft = cfg.URI.RequestLineSize.Maximal
	p.spaceLeft = cfg.Headers.Space.Maximal

method:
	{
		token, n, err := scan.Method(c, &p.progress)
		switch err {
		case nil:
		case cursor.ErrIncomplete:
			p.state = eMethod
			return Pending, nil
		default:
			return p.fail(err)
		}

		request.MethodToken = uf.B2S(token)
		request.Method = method.Parse(request.MethodToken)
		p.lineLeft -= n
		p.consume(n)
	}

target:
	{
		token, n, err := scan.Target(c, &p.progress, p.lineLeft)
		switch err {
		case nil:
		case cursor.ErrIncomplete:
			p.state = eTarget
			return Pending, nil
		default:
			return p.fail(err)
		}

		request.Target = http.ClassifyTarget(request.Method, uf.B2S(token))
		p.lineLeft -= n
		p.consume(n)
	}

version:
	{
		major, minor, n, err := scan.Version(c, &p.progress, p.lineLeft)
		switch err {
		case nil:
		case cursor.ErrIncomplete:
			p.state = eVersion
			return Pending, nil
		default:
			return p.fail(err)
		}

		request.Proto = proto.Parse(major, minor)
		if request.Proto&proto.HTTP1 == 0 {
			// this also rejects HTTP/2 prior knowledge connection preface
			return p.fail(status.ErrUnsupportedVersion)
		}

		p.consume(n)
	}

headers:
	for {
		key, value, n, err := scan.Field(c, &p.progress, p.fieldLimit())
		switch err {
		case nil:
		case scan.ErrEndOfFields:
			p.consume(n)
			goto framing
		case cursor.ErrIncomplete:
			p.state = eHeaders
			return Pending, nil
		default:
			return p.fail(err)
		}

		if request.Headers.Len() >= cfg.Headers.Number.Maximal {
			return p.fail(status.ErrHeadersTooLarge)
		}

		request.Headers.Add(uf.B2S(key), uf.B2S(value))
		p.spaceLeft -= n
		p.consume(n)
	}

framing:
	p.state = eFraming
	if err = p.determineFraming(); err != nil {
		return p.fail(err)
	}

	p.bodyStart, p.bodyEnd = c.Pos(), c.Pos()

	switch request.Framing.Kind {
	case http.NoBody:
		goto complete
	case http.FixedLength:
		if request.Framing.Length == 0 {
			request.Body = c.Bytes()[p.bodyStart:p.bodyStart]
			goto complete
		}

		p.bodyLeft = request.Framing.Length
		p.state = eBodyFixed
	case http.Chunked:
		p.state = eChunkSize
	default:
		panic(fmt.Sprintf("BUG: unexpected request framing: %d", request.Framing.Kind))
	}

	return HeadersCompleted, nil

bodyFixed:
	{
		n := min(int64(c.Len()), p.bodyLeft)
		p.consume(int(n))
		p.bodyLeft -= n
		if p.bodyLeft > 0 {
			return Pending, nil
		}

		request.Body = c.Bytes()[p.bodyStart:c.Pos()]
		goto complete
	}

chunkSize:
	{
		size, n, err := scan.ChunkSize(c, &p.progress, cfg.Body.MaxChunkSize)
		switch err {
		case nil:
		case cursor.ErrIncomplete:
			p.state = eChunkSize
			return p.suspendChunked()
		default:
			return p.fail(err)
		}

		if int64(p.bodyEnd-p.bodyStart)+size > cfg.Body.MaxSize {
			return p.fail(status.ErrBodyTooLarge)
		}

		p.consume(n)
		if size == 0 {
			goto trailers
		}

		p.chunkLeft = size
	}

chunkData:
	{
		n := int(min(int64(c.Len()), p.chunkLeft))
		buf, pos := c.Bytes(), c.Pos()
		copy(buf[p.bodyEnd:], buf[pos:pos+n])
		p.bodyEnd += n
		p.chunkLeft -= int64(n)
		p.consume(n)

		if p.chunkLeft > 0 {
			p.state = eChunkData
			return p.suspendChunked()
		}
	}

chunkDataCRLF:
	{
		crlf := c.Peek(2)
		switch {
		case len(crlf) == 2 && crlf[0] == '\r' && crlf[1] == '\n':
		case len(crlf) == 0, len(crlf) == 1 && crlf[0] == '\r':
			p.state = eChunkDataCRLF
			return p.suspendChunked()
		default:
			return p.fail(status.ErrMalformedBody)
		}

		p.consume(2)
		goto chunkSize
	}

trailers:
	// from this point on the buffer mustn't be collapsed anymore, as trailer fields
	// are views into it
	for {
		key, value, n, err := scan.Field(c, &p.progress, p.fieldLimit())
		switch err {
		case nil:
		case scan.ErrEndOfFields:
			p.consume(n)
			request.Body = c.Bytes()[p.bodyStart:p.bodyEnd]
			goto complete
		case cursor.ErrIncomplete:
			p.state = eTrailers
			return Pending, nil
		default:
			return p.fail(err)
		}

		if request.Headers.Len()+request.Trailers.Len() >= cfg.Headers.Number.Maximal {
			return p.fail(status.ErrHeadersTooLarge)
		}

		request.Trailers.Add(uf.B2S(key), uf.B2S(value))
		p.spaceLeft -= n
		p.consume(n)
	}

complete:
	p.state = eComplete
	return Completed, nil
}

// Reset prepares the parser for the next message on the same connection. Must be
// called after Completed once the request isn't used anymore.
func (p *Parser) Reset() {
	if p.state == eClosed {
		return
	}

	p.request.Reset()
	p.progress.Reset()
	p.state = eStart
	p.bodyLeft, p.chunkLeft = 0, 0
	p.bodyStart, p.bodyEnd = 0, 0
}

// Close moves the parser into its terminal stage. Any further Parse calls result in
// status.ErrCloseConnection.
func (p *Parser) Close() {
	if p.state != eClosed {
		p.state = eClosed
		p.err = status.ErrCloseConnection
	}
}

// Idle reports whether no message is in progress, so the buffer may be compacted.
func (p *Parser) Idle() bool {
	return p.state == eStart && p.cur.Pos() == p.cur.Committed()
}

// Stage returns the current stage of the parser.
func (p *Parser) Stage() Stage {
	switch p.state {
	case eStart:
		return Start
	case eMethod, eTarget, eVersion:
		return RequestLine
	case eHeaders:
		return Headers
	case eFraming:
		return DetermineFraming
	case eBodyFixed, eChunkSize, eChunkData, eChunkDataCRLF, eTrailers:
		return Body
	case eComplete:
		return Complete
	default:
		return Closed
	}
}

func (p *Parser) fail(err error) (RequestState, error) {
	p.state = eClosed
	p.err = err
	return Error, err
}

// consume advances the cursor over already scanned bytes and commits them.
func (p *Parser) consume(n int) {
	if err := p.cur.Advance(n); err != nil {
		panic("BUG: consuming unscanned bytes")
	}

	p.cur.Commit()
	p.progress.Reset()
}

// suspendChunked cuts the chunked framing bytes out of the buffer, so the de-chunked
// body and the unparsed rest become adjacent again.
func (p *Parser) suspendChunked() (RequestState, error) {
	if p.bodyEnd < p.cur.Pos() {
		p.cur.Collapse(p.bodyEnd)
	}

	return Pending, nil
}

// fieldLimit returns how long can the next header line be. The final empty line must
// always fit.
func (p *Parser) fieldLimit() int {
	return max(min(p.cfg.Headers.MaxFieldSize, p.spaceLeft), 2)
}

func (p *Parser) determineFraming() error {
	request := p.request
	hdrs := request.Headers
	hasTE, hasCL := hdrs.Has("transfer-encoding"), hdrs.Has("content-length")

	switch {
	case hasTE && hasCL:
		return status.ErrFramingConflict
	case hasTE:
		if err := parseTransferCodings(hdrs, request); err != nil {
			return err
		}

		request.Framing = http.Framing{Kind: http.Chunked}
	case hasCL:
		length, err := parseContentLength(hdrs)
		if err != nil {
			return err
		}

		if length > p.cfg.Body.MaxSize {
			return status.ErrBodyTooLarge
		}

		request.Framing = http.Framing{Kind: http.FixedLength, Length: length}
	default:
		request.Framing = http.Framing{Kind: http.NoBody}
	}

	switch request.Proto {
	case proto.HTTP11:
		request.KeepAlive = !hdrs.HasToken("connection", "close")
		request.ExpectContinue = request.Framing.Kind != http.NoBody &&
			strcomp.EqualFold(hdrs.Value("expect"), "100-continue")
	case proto.HTTP10:
		request.KeepAlive = hdrs.HasToken("connection", "keep-alive") &&
			!hdrs.HasToken("connection", "close")
	}

	return nil
}

// parseTransferCodings collects all the codings applied to the body. The final one
// must be chunked and no other may be: otherwise the body length is unknowable.
func parseTransferCodings(hdrs *headers.Headers, request *http.Request) error {
	for _, field := range hdrs.Expose() {
		if !strcomp.EqualFold(field.Key, "transfer-encoding") {
			continue
		}

		for value := field.Value; len(value) > 0; {
			var coding string
			coding, value, _ = strings.Cut(value, ",")
			if coding = strings.Trim(coding, " \t"); len(coding) > 0 {
				request.TransferCodings = append(request.TransferCodings, coding)
			}
		}
	}

	codings := request.TransferCodings
	if len(codings) == 0 || !strcomp.EqualFold(codings[len(codings)-1], "chunked") {
		return status.ErrFramingConflict
	}

	for _, coding := range codings[:len(codings)-1] {
		if strcomp.EqualFold(coding, "chunked") {
			return status.ErrFramingConflict
		}
	}

	return nil
}

// parseContentLength accepts multiple Content-Length fields, as well as comma-separated
// lists, as long as they all agree on a single value.
func parseContentLength(hdrs *headers.Headers) (int64, error) {
	length := int64(-1)

	for _, field := range hdrs.Expose() {
		if !strcomp.EqualFold(field.Key, "content-length") {
			continue
		}

		value := field.Value
		for {
			var elem string
			elem, value, _ = strings.Cut(value, ",")
			n, ok := parseUint(strings.Trim(elem, " \t"))
			if !ok || (length != -1 && n != length) {
				return 0, status.ErrFramingConflict
			}

			length = n
			if len(value) == 0 {
				break
			}
		}
	}

	return length, nil
}

func parseUint(str string) (n int64, ok bool) {
	if len(str) == 0 {
		return 0, false
	}

	for i := 0; i < len(str); i++ {
		char := str[i]
		if char < '0' || char > '9' {
			return 0, false
		}

		if n > (math.MaxInt64-int64(char-'0'))/10 {
			return 0, false
		}

		n = n*10 + int64(char-'0')
	}

	return n, true
}
