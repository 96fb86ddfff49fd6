// Package scan recognizes the lexical pieces of an HTTP/1.x request: the request line
// tokens, header field lines and chunk-size lines.
//
// Scanners peek into the cursor without moving it. On success they return the
// recognized token as a view into the buffer and the number of bytes to advance by.
// When the delimiter isn't buffered yet, they return cursor.ErrIncomplete and record
// how far they went in the Progress, so the next attempt continues from there instead
// of starting over.
package scan

import (
	"errors"

	"github.com/indigo-web/reactor/http/status"
	"github.com/indigo-web/reactor/internal/cursor"
)

// MethodWindow bounds the method token scan. No registered method is even close to it.
const MethodWindow = 32

// MaxChunkLine limits a single chunk-size line, extensions included.
const MaxChunkLine = 4096

// ErrEndOfFields is returned by Field upon the empty line terminating a header block.
var ErrEndOfFields = errors.New("end of header fields")

// Progress is the resumption point of an interrupted scan. It must be reset after every
// successfully scanned token.
type Progress struct {
	scanned int
	colon   int
	size    int64
	ext     bool
}

func (p *Progress) Reset() {
	*p = Progress{}
}

// Method scans the method token up to the separating space.
func Method(c *cursor.Cursor, p *Progress) (token []byte, n int, err error) {
	data := c.Rest()

	for i := p.scanned; i < len(data); i++ {
		if i >= MethodWindow {
			return nil, 0, status.ErrMalformedRequestLine
		}

		switch char := data[i]; {
		case char == ' ':
			if i == 0 {
				return nil, 0, status.ErrMalformedRequestLine
			}

			return data[:i], i + 1, nil
		case !isTChar(char):
			return nil, 0, status.ErrMalformedRequestLine
		}
	}

	p.scanned = len(data)
	if p.scanned > MethodWindow {
		return nil, 0, status.ErrMalformedRequestLine
	}

	return nil, 0, cursor.ErrIncomplete
}

// Target scans the request-target up to the separating space. Only bytes that are
// forbidden in every target form are rejected. Limit is the number of bytes left
// for the request line.
func Target(c *cursor.Cursor, p *Progress, limit int) (token []byte, n int, err error) {
	data := c.Rest()

	for i := p.scanned; i < len(data); i++ {
		if i >= limit {
			return nil, 0, status.ErrLineTooLong
		}

		switch char := data[i]; {
		case char == ' ':
			if i == 0 {
				return nil, 0, status.ErrMalformedRequestLine
			}

			return data[:i], i + 1, nil
		case char < 0x20 || char == 0x7f:
			return nil, 0, status.ErrMalformedRequestLine
		}
	}

	p.scanned = len(data)
	return nil, 0, cursor.ErrIncomplete
}

const versionPrefix = "HTTP/"

// Version scans the HTTP-version token along with the CRLF terminating the request line.
func Version(c *cursor.Cursor, p *Progress, limit int) (major, minor uint8, n int, err error) {
	data := c.Rest()

	for i := p.scanned; i < len(data); i++ {
		if i >= limit {
			return 0, 0, 0, status.ErrLineTooLong
		}

		char := data[i]

		switch {
		case i < len(versionPrefix):
			if char != versionPrefix[i] {
				return 0, 0, 0, status.ErrUnsupportedVersion
			}
		case i == 5, i == 7:
			if !isDigit(char) {
				return 0, 0, 0, status.ErrUnsupportedVersion
			}
		case i == 6:
			if char != '.' {
				return 0, 0, 0, status.ErrUnsupportedVersion
			}
		case i == 8:
			if char != '\r' {
				return 0, 0, 0, status.ErrMalformedRequestLine
			}
		case i == 9:
			if char != '\n' {
				return 0, 0, 0, status.ErrMalformedRequestLine
			}

			return data[5] - '0', data[7] - '0', 10, nil
		}
	}

	p.scanned = len(data)
	return 0, 0, 0, cursor.ErrIncomplete
}

// Field scans a single header field line, CRLF included. The value is stripped from
// the optional whitespace around it. Limit is the maximal length of the line; crossing
// it results in status.ErrHeadersTooLarge. An empty line results in ErrEndOfFields
// with n=2.
func Field(c *cursor.Cursor, p *Progress, limit int) (key, value []byte, n int, err error) {
	data := c.Rest()

	for i := p.scanned; i < len(data); i++ {
		if i >= limit {
			return nil, nil, 0, status.ErrHeadersTooLarge
		}

		char := data[i]

		if p.colon == 0 {
			switch {
			case char == ':':
				if i == 0 {
					return nil, nil, 0, status.ErrMalformedHeader
				}

				p.colon = i
			case i == 0 && char == '\r':
				if i+1 >= len(data) {
					p.scanned = i
					return nil, nil, 0, cursor.ErrIncomplete
				}

				if data[i+1] != '\n' {
					return nil, nil, 0, status.ErrMalformedHeader
				}

				return nil, nil, 2, ErrEndOfFields
			case !isTChar(char):
				// this also covers obsolete line folding, spaces before the colon and
				// lines without a colon at all
				return nil, nil, 0, status.ErrMalformedHeader
			}

			continue
		}

		switch {
		case char == '\r':
			if i+1 >= len(data) {
				p.scanned = i
				return nil, nil, 0, cursor.ErrIncomplete
			}

			if i+1 >= limit {
				return nil, nil, 0, status.ErrHeadersTooLarge
			}

			if data[i+1] != '\n' {
				return nil, nil, 0, status.ErrMalformedHeader
			}

			return data[:p.colon], trimOWS(data[p.colon+1 : i]), i + 2, nil
		case char == '\t':
		case char < 0x20 || char == 0x7f:
			return nil, nil, 0, status.ErrMalformedHeader
		}
	}

	p.scanned = len(data)
	return nil, nil, 0, cursor.ErrIncomplete
}

// ChunkSize scans a chunk-size line, CRLF included. Chunk extensions are skipped.
func ChunkSize(c *cursor.Cursor, p *Progress, maxSize int64) (size int64, n int, err error) {
	data := c.Rest()

	for i := p.scanned; i < len(data); i++ {
		if i >= MaxChunkLine {
			return 0, 0, status.ErrMalformedBody
		}

		char := data[i]

		switch {
		case char == '\r':
			if i == 0 {
				return 0, 0, status.ErrMalformedBody
			}

			if i+1 >= len(data) {
				p.scanned = i
				return 0, 0, cursor.ErrIncomplete
			}

			if data[i+1] != '\n' {
				return 0, 0, status.ErrMalformedBody
			}

			return p.size, i + 2, nil
		case p.ext:
			if char != '\t' && (char < 0x20 || char == 0x7f) {
				return 0, 0, status.ErrMalformedBody
			}
		case char == ';':
			if i == 0 {
				return 0, 0, status.ErrMalformedBody
			}

			p.ext = true
		default:
			digit := halfbyte[char]
			if digit == 0xff {
				return 0, 0, status.ErrMalformedBody
			}

			if p.size > maxSize>>4 {
				return 0, 0, status.ErrMalformedBody
			}

			p.size = p.size<<4 | int64(digit)
			if p.size > maxSize {
				return 0, 0, status.ErrMalformedBody
			}
		}
	}

	p.scanned = len(data)
	return 0, 0, cursor.ErrIncomplete
}

func trimOWS(b []byte) []byte {
	for len(b) > 0 && (b[0] == ' ' || b[0] == '\t') {
		b = b[1:]
	}

	for len(b) > 0 && (b[len(b)-1] == ' ' || b[len(b)-1] == '\t') {
		b = b[:len(b)-1]
	}

	return b
}

func isDigit(char byte) bool {
	return char >= '0' && char <= '9'
}

func isTChar(char byte) bool {
	return tchars[char]
}

var tchars = func() (table [256]bool) {
	for c := '0'; c <= '9'; c++ {
		table[c] = true
	}

	for c := 'a'; c <= 'z'; c++ {
		table[c] = true
		table[c-'a'+'A'] = true
	}

	for _, c := range []byte("!#$%&'*+-.^_`|~") {
		table[c] = true
	}

	return table
}()

var halfbyte = func() (table [256]uint8) {
	for i := range table {
		table[i] = 0xff
	}

	for c := '0'; c <= '9'; c++ {
		table[c] = uint8(c - '0')
	}

	for c := 'a'; c <= 'f'; c++ {
		table[c] = uint8(c-'a') + 10
		table[c-'a'+'A'] = uint8(c-'a') + 10
	}

	return table
}()
