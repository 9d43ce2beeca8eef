package proxy

import (
	"net"

	"github.com/zinic/pyrox/internal/httpparser"
)

// bodyCapture is the filter.BodySink a body filter writes a replacement
// chunk into (spec.md §4.3 "Body filter convention"): empty after the
// call means forward the chunk unmodified, non-empty replaces it.
type bodyCapture struct{ buf []byte }

func (c *bodyCapture) Write(p []byte) (int, error) {
	c.buf = append(c.buf, p...)
	return len(p), nil
}

func (c *bodyCapture) reset() { c.buf = c.buf[:0] }

// outChunk returns the bytes that should actually go out on the wire
// for this chunk: the filter's replacement if it wrote one, otherwise
// the original bytes unchanged.
func (c *bodyCapture) outChunk(original []byte) []byte {
	if len(c.buf) > 0 {
		return c.buf
	}
	return original
}

// streamReader buffers reads off a net.Conn and lets a caller stash
// unconsumed bytes for the next logical message on the same connection
// (spec.md §4.1 pipelining: a single Read may return a complete message
// plus the start of the next one).
type streamReader struct {
	conn     net.Conn
	buf      []byte
	leftover []byte
}

func newStreamReader(conn net.Conn) *streamReader {
	return &streamReader{conn: conn, buf: make([]byte, 16*1024)}
}

func (s *streamReader) next() ([]byte, error) {
	if len(s.leftover) > 0 {
		b := s.leftover
		s.leftover = nil
		return b, nil
	}
	n, err := s.conn.Read(s.buf)
	if err != nil {
		return nil, err
	}
	return s.buf[:n], nil
}

func (s *streamReader) stash(b []byte) {
	if len(b) == 0 {
		return
	}
	s.leftover = append(s.leftover[:0], b...)
}

// pumpUntil feeds bytes from sr into p until isDone reports true. It
// special-cases the parser's documented behavior of failing with
// ErrBadState the instant it sees a byte after a message it already
// completed: when that happens immediately after isDone flips true,
// the unconsumed tail is not a protocol error but the start of the
// next pipelined message, and is stashed on sr for the caller to Reset
// the parser and continue from.
func pumpUntil(sr *streamReader, p *httpparser.Parser, isDone func() bool) error {
	for !isDone() {
		data, err := sr.next()
		if err != nil {
			return err
		}
		consumed, perr := p.Execute(data)
		if perr != nil {
			if perr == httpparser.ErrBadState && isDone() && consumed < len(data) {
				sr.stash(data[consumed:])
				return nil
			}
			return perr
		}
	}
	return nil
}
