package httpparser

import (
	"strconv"

	"github.com/zinic/pyrox/internal/message"
)

// ChunkWriter renders outbound chunked transfer-coded frames. It is used by
// the stream engine when re-framing a Content-Length body as chunked
// (spec.md §4.4 "Framing Rewrite") and when relaying a body that already
// arrived chunked.
//
// Unlike the teacher's ChunkedReader, which blocks on a bufio.Reader, this
// writer only ever formats bytes already held in memory; the engine owns
// all I/O.
type ChunkWriter struct{}

// WriteChunk appends a single "size CRLF data CRLF" frame for data to buf,
// returning the extended slice. An empty data writes nothing (use
// WriteLastChunk for the terminating zero-size chunk).
func (ChunkWriter) WriteChunk(buf []byte, data []byte) []byte {
	if len(data) == 0 {
		return buf
	}
	buf = strconv.AppendUint(buf, uint64(len(data)), 16)
	buf = append(buf, '\r', '\n')
	buf = append(buf, data...)
	buf = append(buf, '\r', '\n')
	return buf
}

// WriteLastChunk appends the terminating "0\r\n\r\n" sequence, with no
// trailer fields. Used for a REJECT/REPLY body source, which never has
// trailers of its own; WriteTrailers is the general case used when
// relaying a parsed message (spec.md §4.1 trailers).
func (ChunkWriter) WriteLastChunk(buf []byte) []byte {
	return append(buf, '0', '\r', '\n', '\r', '\n')
}

// WriteTrailers appends the terminating zero-size chunk, any trailer
// fields (in insertion order), and the closing CRLF. A nil or empty
// trailers argument degrades to the same bytes WriteLastChunk produces.
func (ChunkWriter) WriteTrailers(buf []byte, trailers *message.Headers) []byte {
	buf = append(buf, '0', '\r', '\n')
	if trailers != nil {
		buf = trailers.WriteTo(buf)
	}
	buf = append(buf, '\r', '\n')
	return buf
}
