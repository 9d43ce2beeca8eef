package httpparser

import "errors"

// Parser errors, doc-commented per the teacher's convention of one
// sentinel per failure mode rather than an error-code enum (spec.md §4.1).
var (
	// ErrBadState indicates execute was called on a parser that already
	// failed or finished and was never reset.
	ErrBadState = errors.New("httpparser: bad parser state")

	// ErrBadMethod indicates the request method contained non-letter bytes.
	ErrBadMethod = errors.New("httpparser: bad method token")

	// ErrBadHTTPVersion indicates the version was not exactly "HTTP/D.D".
	ErrBadHTTPVersion = errors.New("httpparser: bad HTTP version")

	// ErrBadHeaderToken indicates a header field name was not a valid
	// RFC 7230 token, or a header line was otherwise malformed.
	ErrBadHeaderToken = errors.New("httpparser: bad header token")

	// ErrBadContentLength indicates Content-Length was not a valid
	// non-negative decimal integer, or conflicting values were supplied.
	ErrBadContentLength = errors.New("httpparser: bad content-length")

	// ErrBadChunkSize indicates a chunk-size line was not valid hex.
	ErrBadChunkSize = errors.New("httpparser: bad chunk size")

	// ErrBadStatusCode indicates the response status line's code was not
	// exactly three digits.
	ErrBadStatusCode = errors.New("httpparser: bad status code")

	// ErrBufferOverflow indicates a single token (method, URL, status
	// line, header field or value) exceeded the parser's scratch buffer.
	ErrBufferOverflow = errors.New("httpparser: scratch buffer overflow")
)
