// Package cursor implements a non-owning view over a connection's receive buffer.
//
// The buffer itself belongs to the connection. The cursor only remembers three
// offsets into it: committed <= pos <= end. Scanners peek past pos, the parser
// advances pos over the bytes it has accepted and commits them once a token is
// complete. Bytes before the committed offset may be compacted away by the owner.
package cursor

import "errors"

// ErrIncomplete is returned when a scan needs more bytes than are currently buffered.
// It is not a protocol error: the caller must suspend and wait for the socket.
var ErrIncomplete = errors.New("incomplete")

type Cursor struct {
	buf       []byte
	pos       int
	committed int
}

func New(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// Reset replaces the underlying buffer, keeping the offsets. It is called every time
// the owner appended data or reallocated the buffer.
func (c *Cursor) Reset(buf []byte) {
	c.buf = buf
	if c.pos > len(buf) {
		c.pos = len(buf)
	}

	if c.committed > c.pos {
		c.committed = c.pos
	}
}

// Peek returns up to n unconsumed bytes without advancing.
func (c *Cursor) Peek(n int) []byte {
	end := c.pos + n
	if n < 0 || end > len(c.buf) {
		end = len(c.buf)
	}

	return c.buf[c.pos:end]
}

// Rest returns all the unconsumed bytes.
func (c *Cursor) Rest() []byte {
	return c.buf[c.pos:]
}

// Advance moves the read position over n already buffered bytes. Advancing past
// the end is refused with ErrIncomplete and leaves the cursor intact.
func (c *Cursor) Advance(n int) error {
	if n < 0 || c.pos+n > len(c.buf) {
		return ErrIncomplete
	}

	c.pos += n
	return nil
}

// Commit marks everything before the read position as consumed.
func (c *Cursor) Commit() {
	c.committed = c.pos
}

// Rebase must be called after the owner discarded the first n bytes of the buffer.
// Only committed bytes may be discarded.
func (c *Cursor) Rebase(n int, buf []byte) {
	if n > c.committed {
		panic("BUG: discarding uncommitted bytes")
	}

	c.pos -= n
	c.committed -= n
	c.buf = buf
}

// Len returns the number of unconsumed bytes.
func (c *Cursor) Len() int {
	return len(c.buf) - c.pos
}

func (c *Cursor) Pos() int {
	return c.pos
}

func (c *Cursor) Committed() int {
	return c.committed
}

// Bytes exposes the whole underlying buffer. Offsets returned by Pos and Committed
// index into it.
func (c *Cursor) Bytes() []byte {
	return c.buf
}

// Collapse discards the committed bytes between the offset at and the read position
// by moving the unconsumed tail onto at. The buffer shrinks accordingly. Used to cut
// framing bytes out of the middle of a message.
func (c *Cursor) Collapse(at int) {
	if at > c.committed || c.committed != c.pos {
		panic("BUG: collapsing uncommitted bytes")
	}

	n := copy(c.buf[at:], c.buf[c.pos:])
	c.buf = c.buf[:at+n]
	c.pos, c.committed = at, at
}
