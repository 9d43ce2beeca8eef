package httpparser

import (
	"bytes"

	"github.com/valyala/bytebufferpool"
)

var scratchPool bytebufferpool.Pool

// Kind selects whether a Parser reads a request or a response stream
// (spec.md §3 "Parser State").
type Kind int

const (
	Request Kind = iota
	Response
)

// maxScratch bounds the per-token scratch buffer. spec.md §3 requires at
// least 8 KiB; chosen a little above that to comfortably hold realistic
// long header values (e.g. cookies) without forcing ErrBufferOverflow.
const maxScratch = 16 * 1024

type state int

const (
	sStart state = iota
	sReqMethod
	sReqPath
	sVersionLit // matching the literal "HTTP/"
	sVersionMajor
	sVersionDot
	sVersionMinor
	sReqLineCR
	sReqLineLF
	sRespVersionSP
	sRespStatusCode
	sRespStatusSP
	sRespReason
	sRespReasonCR
	sHeaderFieldStart
	sHeaderField
	sHeaderValueOWS
	sHeaderValue
	sHeaderValueCR
	sHeaderValueLF
	sHeadersAlmostDone
	sBodyIdentity
	sChunkSizeStart
	sChunkSizeDigits
	sChunkExtension
	sChunkSizeCR
	sChunkSizeLF
	sChunkData
	sChunkDataCR
	sChunkDataLF
	sDone
	sError
)

// the literal the version token must match, shared by both request-line
// ("... HTTP/1.1\r\n") and status-line ("HTTP/1.1 200 ...\r\n") parsing.
var versionLiteral = []byte("HTTP/")

// special marks which of the three headers the parser itself inspects the
// current field/value for (spec.md §4.1 framing precedence, keep-alive
// determination).
type special int

const (
	specialNone special = iota
	specialContentLength
	specialTransferEncoding
	specialConnection
)

// Parser implements an incremental, allocation-light HTTP/1.1 parser
// driving a Delegate. A single execute() call may be fed any slice of the
// wire stream, including a single byte; state persists across calls so a
// token may straddle arbitrary call boundaries (spec.md §4.1).
type Parser struct {
	kind     Kind
	state    state
	delegate Delegate

	scratch []byte // current token under construction, reset at each token boundary

	verLitPos  int
	major      int
	minor      int
	statusCode int
	statusLen  int

	curSpecial special
	valueSeen  bool

	hasContentLength bool
	contentLength    int64
	hasTE            bool
	teChunked        bool
	connClose        bool
	connKeepAlive    bool

	chunked        bool // true once framing is known to be chunked for this message
	chunkSize      uint64
	chunkRemaining uint64
	inTrailer      bool

	noBody bool // set via SuppressBody from within OnHeadersComplete

	began bool // whether OnMessageBegin has fired for the in-progress message
}

// NewParser returns a Parser of the given kind, wired to delegate. The
// scratch token buffer is drawn from a shared bytebufferpool.Pool rather
// than allocated per parser.
func NewParser(kind Kind, delegate Delegate) *Parser {
	bb := scratchPool.Get()
	if cap(bb.B) < maxScratch {
		bb.B = make([]byte, 0, maxScratch)
	}
	p := &Parser{kind: kind, delegate: delegate, scratch: bb.B[:0]}
	p.Reset()
	return p
}

// Release returns the parser's scratch buffer to the shared pool. The
// stream engine calls this when a connection's parser is discarded
// (spec.md §4.6 teardown), not between keep-alive requests on the same
// connection — use Reset for that.
func (p *Parser) Release() {
	if p.scratch == nil {
		return
	}
	scratchPool.Put(&bytebufferpool.ByteBuffer{B: p.scratch})
	p.scratch = nil
}

// Reset returns the parser to its initial state, ready for a new message.
// Called by the stream engine between keep-alive requests (spec.md §3
// "Parsers are reset between requests").
func (p *Parser) Reset() {
	if p.kind == Request {
		p.state = sStart
	} else {
		p.state = sStart
	}
	p.scratch = p.scratch[:0]
	p.verLitPos = 0
	p.major, p.minor = 0, 0
	p.statusCode, p.statusLen = 0, 0
	p.curSpecial = specialNone
	p.valueSeen = false
	p.hasContentLength = false
	p.contentLength = 0
	p.hasTE = false
	p.teChunked = false
	p.connClose = false
	p.connKeepAlive = false
	p.chunked = false
	p.chunkSize = 0
	p.chunkRemaining = 0
	p.inTrailer = false
	p.noBody = false
	p.began = false
}

// SuppressBody forces the body state the parser is about to enter straight
// to message-complete, regardless of Content-Length or Transfer-Encoding.
// Call it from within a Delegate's OnHeadersComplete, before returning: a
// HEAD response or a 204/304 status is never followed by a body on the
// wire even when the headers claim a Content-Length (RFC 7230 §3.3.3), and
// the parser has no notion of request method to detect this on its own
// when parsing a response stream.
func (p *Parser) SuppressBody() {
	p.noBody = true
}

func (p *Parser) fail(err error) error {
	p.state = sError
	return err
}

func (p *Parser) appendScratch(b byte) error {
	if len(p.scratch) >= maxScratch {
		return ErrBufferOverflow
	}
	p.scratch = append(p.scratch, b)
	return nil
}

// Execute feeds data to the parser, advancing its state and invoking zero
// or more Delegate callbacks. It returns the number of bytes consumed
// (always len(data) unless an error is returned) and an error from the
// ErrBad*/ErrBufferOverflow family on malformed input.
func (p *Parser) Execute(data []byte) (int, error) {
	if p.state == sError {
		return 0, ErrBadState
	}

	i := 0
	n := len(data)

	for i < n {
		b := data[i]

		if !p.began && p.state == sStart {
			p.delegate.OnMessageBegin()
			p.began = true
		}

		switch p.state {
		case sStart:
			if p.kind == Request {
				p.state = sReqMethod
				p.scratch = p.scratch[:0]
				continue
			}
			p.state = sVersionLit
			p.verLitPos = 0
			continue

		case sReqMethod:
			if b == ' ' {
				if len(p.scratch) == 0 {
					return i, p.fail(ErrBadMethod)
				}
				p.delegate.OnRequestMethod(p.scratch)
				p.scratch = p.scratch[:0]
				p.state = sReqPath
				i++
				continue
			}
			up := b
			if up >= 'a' && up <= 'z' {
				up -= 0x20
			}
			if up < 'A' || up > 'Z' {
				return i, p.fail(ErrBadMethod)
			}
			if err := p.appendScratch(b); err != nil {
				return i, p.fail(err)
			}
			i++

		case sReqPath:
			if b == ' ' {
				if len(p.scratch) == 0 {
					return i, p.fail(ErrBadHeaderToken)
				}
				p.delegate.OnRequestPath(p.scratch)
				p.scratch = p.scratch[:0]
				p.state = sVersionLit
				p.verLitPos = 0
				i++
				continue
			}
			if err := p.appendScratch(b); err != nil {
				return i, p.fail(err)
			}
			i++

		case sVersionLit:
			if b != versionLiteral[p.verLitPos] {
				if p.kind == Request {
					return i, p.fail(ErrBadHTTPVersion)
				}
				return i, p.fail(ErrBadHTTPVersion)
			}
			p.verLitPos++
			i++
			if p.verLitPos == len(versionLiteral) {
				p.state = sVersionMajor
			}

		case sVersionMajor:
			if b < '0' || b > '9' {
				return i, p.fail(ErrBadHTTPVersion)
			}
			p.major = int(b - '0')
			p.state = sVersionDot
			i++

		case sVersionDot:
			if b != '.' {
				return i, p.fail(ErrBadHTTPVersion)
			}
			p.state = sVersionMinor
			i++

		case sVersionMinor:
			if b < '0' || b > '9' {
				return i, p.fail(ErrBadHTTPVersion)
			}
			p.minor = int(b - '0')
			p.delegate.OnHTTPVersion(p.major, p.minor)
			if p.kind == Request {
				p.state = sReqLineCR
			} else {
				p.state = sRespVersionSP
			}
			i++

		case sReqLineCR:
			if b != '\r' {
				return i, p.fail(ErrBadHTTPVersion)
			}
			p.state = sReqLineLF
			i++

		case sReqLineLF:
			if b != '\n' {
				return i, p.fail(ErrBadHTTPVersion)
			}
			p.state = sHeaderFieldStart
			i++

		case sRespVersionSP:
			if b != ' ' {
				return i, p.fail(ErrBadStatusCode)
			}
			p.state = sRespStatusCode
			p.statusCode, p.statusLen = 0, 0
			i++

		case sRespStatusCode:
			if b == ' ' {
				if p.statusLen != 3 {
					return i, p.fail(ErrBadStatusCode)
				}
				p.delegate.OnStatus(p.statusCode)
				p.state = sRespStatusSP
				i++
				continue
			}
			if b < '0' || b > '9' || p.statusLen >= 3 {
				return i, p.fail(ErrBadStatusCode)
			}
			p.statusCode = p.statusCode*10 + int(b-'0')
			p.statusLen++
			i++

		case sRespStatusSP:
			// reason phrase starts; a bare "HTTP/1.1 200\r\n" with no
			// trailing space before CR is not produced by this transition
			// (handled by sRespStatusCode requiring the separating space),
			// so we simply begin accumulating the reason.
			p.scratch = p.scratch[:0]
			p.state = sRespReason
			continue

		case sRespReason:
			if b == '\r' {
				p.scratch = p.scratch[:0]
				p.state = sRespReasonCR
				i++
				continue
			}
			if err := p.appendScratch(b); err != nil {
				return i, p.fail(err)
			}
			p.delegate.OnStatusReason(data[i : i+1])
			i++

		case sRespReasonCR:
			if b != '\n' {
				return i, p.fail(ErrBadHTTPVersion)
			}
			p.state = sHeaderFieldStart
			i++

		case sHeaderFieldStart:
			if b == '\r' {
				p.state = sHeadersAlmostDone
				i++
				continue
			}
			p.scratch = p.scratch[:0]
			p.curSpecial = specialNone
			p.state = sHeaderField
			continue

		case sHeaderField:
			if b == ':' {
				if len(p.scratch) == 0 {
					return i, p.fail(ErrBadHeaderToken)
				}
				p.curSpecial = classifySpecial(p.scratch)
				p.scratch = p.scratch[:0]
				p.valueSeen = false
				p.state = sHeaderValueOWS
				i++
				continue
			}
			if !isTokenChar(b) {
				return i, p.fail(ErrBadHeaderToken)
			}
			if err := p.appendScratch(b); err != nil {
				return i, p.fail(err)
			}
			p.delegate.OnHeaderField(data[i : i+1])
			i++

		case sHeaderValueOWS:
			if b == ' ' || b == '\t' {
				i++
				continue
			}
			p.state = sHeaderValue
			continue

		case sHeaderValue:
			if b == '\r' {
				if !p.valueSeen {
					// signal the field-to-value transition even for a
					// header with an empty value, so delegates can pair
					// field/value callbacks reliably.
					p.delegate.OnHeaderValue(nil)
				}
				p.state = sHeaderValueCR
				i++
				continue
			}
			if err := p.appendScratch(b); err != nil {
				return i, p.fail(err)
			}
			p.valueSeen = true
			p.delegate.OnHeaderValue(data[i : i+1])
			i++

		case sHeaderValueCR:
			if b != '\n' {
				return i, p.fail(ErrBadHeaderToken)
			}
			p.state = sHeaderValueLF
			i++

		case sHeaderValueLF:
			if b == ' ' || b == '\t' {
				// obs-fold: collapse into a single SP and resume the value.
				p.valueSeen = true
				p.delegate.OnHeaderValue([]byte{' '})
				if err := p.appendScratch(' '); err != nil {
					return i, p.fail(err)
				}
				p.state = sHeaderValue
				i++
				continue
			}
			if err := p.finishHeaderValue(); err != nil {
				return i, p.fail(err)
			}
			p.state = sHeaderFieldStart
			continue

		case sHeadersAlmostDone:
			if b != '\n' {
				return i, p.fail(ErrBadHeaderToken)
			}
			i++
			if p.inTrailer {
				p.state = sDone
				p.delegate.OnMessageComplete(true, p.shouldKeepAlive())
				continue
			}
			if err := p.resolveFraming(); err != nil {
				return i, p.fail(err)
			}
			p.delegate.OnHeadersComplete()
			p.enterBodyState()

		case sBodyIdentity:
			remain := n - i
			if int64(remain) > p.contentLength {
				remain = int(p.contentLength)
			}
			if remain > 0 {
				p.delegate.OnBody(data[i:i+remain], false)
				p.contentLength -= int64(remain)
				i += remain
			}
			if p.contentLength == 0 {
				p.state = sDone
				p.delegate.OnMessageComplete(false, p.shouldKeepAlive())
			}
			if remain == 0 && p.contentLength > 0 {
				// no data left this call
				return i, nil
			}

		case sChunkSizeStart:
			p.chunkSize = 0
			p.state = sChunkSizeDigits
			continue

		case sChunkSizeDigits:
			if v, ok := hexVal(b); ok {
				p.chunkSize = p.chunkSize*16 + uint64(v)
				i++
				continue
			}
			if b == ';' {
				p.state = sChunkExtension
				i++
				continue
			}
			if b == '\r' {
				p.state = sChunkSizeCR
				i++
				continue
			}
			return i, p.fail(ErrBadChunkSize)

		case sChunkExtension:
			if b == '\r' {
				p.state = sChunkSizeCR
			}
			i++

		case sChunkSizeCR:
			if b != '\n' {
				return i, p.fail(ErrBadChunkSize)
			}
			i++
			if p.chunkSize == 0 {
				p.inTrailer = true
				p.state = sHeaderFieldStart
				continue
			}
			p.chunkRemaining = p.chunkSize
			p.state = sChunkData

		case sChunkData:
			remain := n - i
			if uint64(remain) > p.chunkRemaining {
				remain = int(p.chunkRemaining)
			}
			if remain > 0 {
				p.delegate.OnBody(data[i:i+remain], true)
				p.chunkRemaining -= uint64(remain)
				i += remain
			}
			if p.chunkRemaining == 0 {
				p.state = sChunkDataCR
			}
			if remain == 0 {
				return i, nil
			}

		case sChunkDataCR:
			if b != '\r' {
				return i, p.fail(ErrBadChunkSize)
			}
			p.state = sChunkDataLF
			i++

		case sChunkDataLF:
			if b != '\n' {
				return i, p.fail(ErrBadChunkSize)
			}
			p.state = sChunkSizeStart
			i++

		case sDone:
			// caller must Reset() before the next message; stray bytes
			// here are a protocol error (e.g. pipelined bytes arriving
			// before the engine resets the parser).
			return i, p.fail(ErrBadState)

		default:
			return i, p.fail(ErrBadState)
		}
	}

	return i, nil
}

func (p *Parser) finishHeaderValue() error {
	if p.inTrailer {
		// trailer fields never revise framing decisions already made from
		// the header block (spec.md §4.1).
		p.scratch = p.scratch[:0]
		return nil
	}
	switch p.curSpecial {
	case specialContentLength:
		v, err := parseDecimal(p.scratch)
		if err != nil {
			return ErrBadContentLength
		}
		if p.hasContentLength && p.contentLength != v {
			return ErrBadContentLength
		}
		p.hasContentLength = true
		p.contentLength = v
	case specialTransferEncoding:
		p.hasTE = true
		if bytes.EqualFold(bytes.TrimSpace(p.scratch), []byte("chunked")) {
			p.teChunked = true
		} else if !bytes.EqualFold(bytes.TrimSpace(p.scratch), []byte("identity")) {
			return ErrBadHeaderToken
		}
	case specialConnection:
		v := bytes.TrimSpace(p.scratch)
		if bytes.EqualFold(v, []byte("close")) {
			p.connClose = true
		} else if bytes.EqualFold(v, []byte("keep-alive")) {
			p.connKeepAlive = true
		}
	}
	p.scratch = p.scratch[:0]
	return nil
}

func (p *Parser) resolveFraming() error {
	if p.hasTE {
		// spec.md §4.1: Transfer-Encoding: chunked wins over Content-Length;
		// if both present the parser follows chunked and ignores Content-Length.
		if !p.teChunked {
			return ErrBadHeaderToken
		}
		p.chunked = true
		return nil
	}
	if p.hasContentLength && p.contentLength < 0 {
		return ErrBadContentLength
	}
	return nil
}

func (p *Parser) enterBodyState() {
	switch {
	case p.noBody:
		p.state = sDone
		p.delegate.OnMessageComplete(false, p.shouldKeepAlive())
	case p.chunked:
		p.state = sChunkSizeStart
	case p.hasContentLength && p.contentLength > 0:
		p.state = sBodyIdentity
	default:
		p.state = sDone
		p.delegate.OnMessageComplete(false, p.shouldKeepAlive())
	}
}

// shouldKeepAlive implements spec.md §4.1's keep-alive determination:
// HTTP/1.1 defaults to true unless Connection: close; HTTP/1.0 defaults to
// false unless Connection: keep-alive.
func (p *Parser) shouldKeepAlive() bool {
	if p.major == 1 && p.minor >= 1 {
		return !p.connClose
	}
	return p.connKeepAlive
}

// IsChunked reports whether the message currently being parsed used
// chunked transfer encoding on the wire.
func (p *Parser) IsChunked() bool { return p.chunked }

func isTokenChar(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return true
	}
	switch b {
	case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '.', '^', '_', '`', '|', '~':
		return true
	}
	return false
}

func hexVal(b byte) (int, bool) {
	switch {
	case b >= '0' && b <= '9':
		return int(b - '0'), true
	case b >= 'a' && b <= 'f':
		return int(b-'a') + 10, true
	case b >= 'A' && b <= 'F':
		return int(b-'A') + 10, true
	}
	return 0, false
}

func parseDecimal(b []byte) (int64, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return 0, ErrBadContentLength
	}
	var v int64
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, ErrBadContentLength
		}
		v = v*10 + int64(c-'0')
		if v < 0 {
			return 0, ErrBadContentLength
		}
	}
	return v, nil
}

func classifySpecial(field []byte) special {
	switch {
	case bytes.EqualFold(field, []byte("content-length")):
		return specialContentLength
	case bytes.EqualFold(field, []byte("transfer-encoding")):
		return specialTransferEncoding
	case bytes.EqualFold(field, []byte("connection")):
		return specialConnection
	}
	return specialNone
}
