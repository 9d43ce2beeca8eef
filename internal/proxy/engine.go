// Package proxy implements the stream engine (C6, spec.md §4.6): one
// Engine per accepted downstream connection, driving a request off the
// client socket and a response off the chosen upstream socket through
// the incremental parser and the two filter pipelines, with connection
// pooling and keep-alive looping.
package proxy

import (
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zinic/pyrox/internal/connpool"
	"github.com/zinic/pyrox/internal/filter"
	"github.com/zinic/pyrox/internal/httpparser"
	"github.com/zinic/pyrox/internal/ioloop"
	"github.com/zinic/pyrox/internal/message"
	"github.com/zinic/pyrox/internal/metrics"
	"github.com/zinic/pyrox/internal/router"
)

// Options bundles an Engine's collaborators. Router and Pool must be
// non-nil; Filters and Log and Metrics may be nil (an empty pipeline is
// used, and *metrics.Proxy/*zap.Logger are nil-safe).
type Options struct {
	Router      router.Router
	Pool        *connpool.Pool
	Filters     *filter.Registry
	Metrics     *metrics.Proxy
	Log         *zap.Logger
	DialTimeout time.Duration
}

// Engine serves one accepted downstream connection for its whole
// lifetime, looping over keep-alive request/response cycles until
// either side signals close or an I/O error ends the connection
// (spec.md §4.6, §5 "Connection lifetime").
type Engine struct {
	opts Options

	down       net.Conn
	downReader *streamReader
	downCh     *ioloop.Channel // backpressure bookkeeping for the client-facing socket (spec.md §4.7)

	reqParser  *httpparser.Parser
	respParser *httpparser.Parser
	rd         *reqDelegate
	rspd       *respDelegate

	reqPipe  *filter.Pipeline
	respPipe *filter.Pipeline

	req  *message.Request
	resp *message.Response

	route      router.Route
	routeKey   string
	up         net.Conn
	upFromPool bool
	upReader   *streamReader
	upCh       *ioloop.Channel // backpressure bookkeeping for the upstream-facing socket (spec.md §4.7)

	cycleID string // per-cycle correlation id, log fields/metrics labels only — never on the wire

	reqChunkedOut   bool
	respChunkedOut  bool
	respHeadWritten bool

	reqBodyCap  bodyCapture
	respBodyCap bodyCapture

	intercepted    bool // a filter or a connect error answered downstream directly
	abortKeepAlive bool // mid-body REJECT/REPLY on the response side: keep proxying the body, but never reuse this connection
	upBroken       bool
	downBroken     bool
	expectContinue bool

	headBuf  []byte
	chunkBuf []byte
}

// New returns an Engine ready to Serve the accepted connection down.
func New(down net.Conn, opts Options) *Engine {
	e := &Engine{opts: opts, down: down, downReader: newStreamReader(down)}
	e.downCh = ioloop.NewChannel() // a freshly accepted connection is read-interested, waiting for the first request line
	e.upCh = ioloop.NewChannel()
	e.upCh.Disable(ioloop.Read) // no upstream socket yet

	e.rd = &reqDelegate{eng: e}
	e.rspd = &respDelegate{eng: e}
	e.reqParser = httpparser.NewParser(httpparser.Request, e.rd)
	e.respParser = httpparser.NewParser(httpparser.Response, e.rspd)

	if opts.Filters != nil {
		e.reqPipe = opts.Filters.RequestPipeline()
		e.respPipe = opts.Filters.ResponsePipeline()
	} else {
		e.reqPipe = filter.NewPipeline(opts.Log)
		e.respPipe = filter.NewPipeline(opts.Log)
	}
	return e
}

// Serve runs cycles until the connection closes, then tears down both
// sockets and the parsers' scratch buffers. The returned error is nil
// on a clean client-initiated close.
func (e *Engine) Serve() error {
	e.opts.Metrics.ConnOpened()
	defer e.opts.Metrics.ConnClosed()
	defer e.reqParser.Release()
	defer e.respParser.Release()
	defer e.closeUpstreamAbort()
	defer e.downCh.MarkClosed()
	defer e.down.Close()

	for {
		keepAlive, err := e.serveOne()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			if e.opts.Log != nil {
				e.opts.Log.Debug("engine cycle ended", zap.String("cycle_id", e.cycleID), zap.Error(err))
			}
			return err
		}
		if !keepAlive {
			return nil
		}
	}
}

func (e *Engine) serveOne() (bool, error) {
	e.resetCycle()

	if err := pumpUntil(e.downReader, e.reqParser, func() bool { return e.rd.messageComplete }); err != nil {
		return false, err
	}

	if e.intercepted {
		return false, nil
	}
	if e.up == nil {
		return false, ErrNoUpstream
	}

	if err := pumpUntil(e.upReader, e.respParser, func() bool { return e.rspd.messageComplete }); err != nil {
		e.opts.Metrics.IncUpstreamError(e.routeKey)
		e.closeUpstreamAbort()
		if e.respHeadWritten {
			// Headers already reached the client; nothing safe to
			// substitute mid-stream, so the connection ends.
			return false, err
		}
		e.writeDirectResponse(badGatewayResponse(), nil)
		return false, nil
	}

	e.opts.Metrics.IncResponse(statusClass(e.resp.Status))
	return e.postCycleKeepAlive(), nil
}

func (e *Engine) resetCycle() {
	e.cycleID = uuid.NewString()
	e.req = message.NewRequest()
	e.resp = message.NewResponse()
	e.rd.resetForRequest(e.req)
	e.rspd.resetForResponse(e.resp)
	e.reqParser.Reset()
	e.respParser.Reset()
	e.reqBodyCap.reset()
	e.respBodyCap.reset()

	e.intercepted = false
	e.abortKeepAlive = false
	e.upBroken = false
	e.downBroken = false
	e.expectContinue = false
	e.reqChunkedOut = false
	e.respChunkedOut = false
	e.respHeadWritten = false
	e.route = router.Route{}
	e.routeKey = ""
	e.upFromPool = false

	e.downCh.Set(ioloop.Read) // waiting on the next request line
}

// --- request-direction callbacks, invoked synchronously from reqDelegate ---

func (e *Engine) onRequestHeadersComplete() {
	action := e.reqPipe.DispatchRequestHead(e.req)

	if action.Verdict == filter.Reject || action.Verdict == filter.Reply {
		e.intercepted = true
		e.opts.Metrics.IncRejection("request-head")
		e.writeDirectResponse(action.Response, action.Body)
		return
	}
	if action.Verdict == filter.Route {
		if rt, err := router.Parse(action.Upstream); err == nil {
			e.opts.Router.SetNext(rt)
		} else if e.opts.Log != nil {
			e.opts.Log.Warn("ROUTE action had an unparsable upstream",
				zap.String("cycle_id", e.cycleID), zap.String("upstream", action.Upstream), zap.Error(err))
		}
	}

	// Next, Consume (spec.md §9: CONSUME still forwards the request
	// upstream as if no filter had run) and Route (override already
	// applied above) all fall through to connecting.
	if err := e.connectUpstream(); err != nil {
		e.intercepted = true
		e.opts.Metrics.IncUpstreamError(e.routeKey)
		e.writeDirectResponse(e.connectErrorResponse(err), nil)
		return
	}
	e.writeRequestHead()
}

func (e *Engine) connectErrorResponse(err error) *message.Response {
	if errors.Is(err, router.ErrNoRoute) {
		return serviceUnavailableResponse()
	}
	return badGatewayResponse()
}

// connectUpstream resolves the next route and obtains a connection for
// it, from the pool if available, otherwise by dialing fresh (spec.md
// §4.5). Connecting synchronously inside the headers-complete callback
// removes the need for the body-buffering-before-connect step a
// single-threaded reactor would otherwise require: by the time the
// parser hands us body bytes we already have somewhere to write them.
func (e *Engine) connectUpstream() error {
	route, err := e.opts.Router.Next()
	if err != nil {
		return err
	}
	e.route = route
	e.routeKey = route.Authority()
	e.opts.Metrics.IncRequest(e.routeKey)

	if conn, ok := e.opts.Pool.CheckOut(e.routeKey); ok {
		e.up = conn
		e.upFromPool = true
		e.opts.Metrics.IncPoolCheckout(e.routeKey)
	} else {
		conn, derr := e.dialRoute()
		if derr != nil {
			return derr
		}
		e.up = conn
		e.upFromPool = false
	}
	e.upReader = newStreamReader(e.up)
	// One Channel per upstream socket, not per engine: a checked-out or
	// freshly dialed connection starts its own interest bookkeeping.
	e.upCh = ioloop.NewChannel()
	e.upCh.Set(ioloop.Write) // about to relay the request head and body upstream
	return nil
}

func (e *Engine) dialRoute() (net.Conn, error) {
	dialer := net.Dialer{Timeout: e.opts.DialTimeout}
	conn, err := dialer.Dial("tcp", e.routeKey)
	if err != nil {
		return nil, err
	}
	e.opts.Metrics.IncPoolMiss(e.routeKey)
	return conn, nil
}

// sendRequestHead writes headBuf to the upstream connection, redialing
// once and retrying if the connection came from the pool and was found
// dead on this first write (spec.md §7: "a single reconnection is
// permitted before giving up with 502"). A freshly dialed connection
// gets no such retry — a failure there is a real connect/write error, not
// a stale pooled socket.
func (e *Engine) sendRequestHead() error {
	if _, err := e.up.Write(e.headBuf); err != nil {
		if !e.upFromPool {
			return err
		}
		if e.opts.Log != nil {
			e.opts.Log.Debug("pooled upstream dead on first write, redialing once",
				zap.String("cycle_id", e.cycleID), zap.String("route", e.routeKey), zap.Error(err))
		}
		e.up.Close()
		e.upCh.MarkClosed()
		conn, derr := e.dialRoute()
		if derr != nil {
			return derr
		}
		e.up = conn
		e.upReader = newStreamReader(e.up)
		e.upCh = ioloop.NewChannel()
		e.upCh.Set(ioloop.Write)
		e.upFromPool = false
		_, err = e.up.Write(e.headBuf)
		return err
	}
	return nil
}

func (e *Engine) writeRequestHead() {
	e.req.Headers.Set("Host", e.route.Authority())

	chunkedIn := isChunkedHeader(e.req.Headers)
	hasCL := e.req.Headers.Has("Content-Length")
	e.reqChunkedOut = chunkedIn || (hasCL && e.reqPipe.InterceptsRequestBody())
	if e.reqChunkedOut && !chunkedIn {
		e.opts.Metrics.IncReframed("request")
		e.req.Headers.Remove("Content-Length")
		e.req.Headers.Set("Transfer-Encoding", "chunked")
	}

	e.expectContinue = strings.EqualFold(strings.TrimSpace(e.req.Headers.GetValue("Expect")), "100-continue")

	e.headBuf = e.req.WriteHead(e.headBuf[:0])
	if err := e.sendRequestHead(); err != nil {
		e.upBroken = true
		return
	}

	if e.expectContinue {
		// Answer 100-continue directly rather than waiting for the
		// origin's own interim response, which would require
		// interleaving reads of both directions before the body is
		// even sent. An interim response the origin sends anyway is
		// read after the request and still relayed (writeInterimHead).
		if _, err := e.down.Write([]byte("HTTP/1.1 100 Continue\r\n\r\n")); err != nil {
			e.downBroken = true
		}
	}
}

func (e *Engine) onRequestBody(b []byte) {
	if e.intercepted || e.upBroken {
		return
	}
	e.reqBodyCap.reset()
	action := e.reqPipe.DispatchRequestBody(b, &e.reqBodyCap)
	if action.Verdict == filter.Reject || action.Verdict == filter.Reply {
		// The request head (and maybe part of the body) is already on
		// the wire to upstream; it cannot be un-sent. Abort that
		// connection rather than pool or reuse it, and answer the
		// client with the filter's response (spec.md §9 resolution for
		// a mid-body REJECT/REPLY).
		e.intercepted = true
		e.closeUpstreamAbort()
		e.opts.Metrics.IncRejection("request-body")
		e.writeDirectResponse(action.Response, action.Body)
		return
	}
	out := e.reqBodyCap.outChunk(b)
	if err := e.writeBodyChunk(e.up, e.reqChunkedOut, out); err != nil {
		e.upBroken = true
	}
}

func (e *Engine) onRequestMessageComplete() {
	if e.intercepted || e.upBroken {
		return
	}
	if e.reqChunkedOut {
		// WriteTrailers degrades to the bare "0\r\n\r\n" terminator when
		// e.req.Trailers is empty, so this covers both a chunked wire
		// request that carried trailer fields and a Content-Length body
		// re-framed as chunked by a filter (which never has any).
		e.chunkBuf = httpparser.ChunkWriter{}.WriteTrailers(e.chunkBuf[:0], e.req.Trailers)
		if _, err := e.up.Write(e.chunkBuf); err != nil {
			e.upBroken = true
			return
		}
	}
	// The request is fully relayed; the upstream socket is now awaited
	// for a response, not written to again this cycle (spec.md §5).
	e.upCh.Set(ioloop.Read)
}

// --- response-direction callbacks, invoked synchronously from respDelegate ---

func (e *Engine) onResponseHeadersComplete() {
	if e.resp.Status >= 100 && e.resp.Status < 200 {
		e.writeInterimHead()
		return
	}
	if e.responseHasNoBody() {
		// HEAD requests and 204/304 responses never carry a body on the
		// wire no matter what Content-Length/Transfer-Encoding the
		// headers claim (RFC 7230 §3.3.3); tell the parser before it
		// decides what body state to enter next.
		e.respParser.SuppressBody()
	}

	action := e.respPipe.DispatchResponseHead(e.resp, e.req)
	if action.Verdict == filter.Reject || action.Verdict == filter.Reply {
		// The origin's body is still parsed off the upstream socket but
		// dropped (onResponseBody), and the connection is not reused.
		e.intercepted = true
		e.opts.Metrics.IncRejection("response-head")
		e.writeDirectResponse(action.Response, action.Body)
		return
	}
	e.writeResponseHead()
}

func (e *Engine) writeInterimHead() {
	e.headBuf = e.resp.WriteHead(e.headBuf[:0])
	if _, err := e.down.Write(e.headBuf); err != nil {
		e.downBroken = true
	}
}

func (e *Engine) writeResponseHead() {
	chunkedIn := isChunkedHeader(e.resp.Headers)
	hasCL := e.resp.Headers.Has("Content-Length")
	e.respChunkedOut = chunkedIn || (hasCL && e.respPipe.InterceptsResponseBody())
	if e.respChunkedOut && !chunkedIn {
		e.opts.Metrics.IncReframed("response")
		e.resp.Headers.Remove("Content-Length")
		e.resp.Headers.Set("Transfer-Encoding", "chunked")
	}

	e.downCh.Set(ioloop.Write) // response draining to the client; not reading from it meanwhile

	e.headBuf = e.resp.WriteHead(e.headBuf[:0])
	e.respHeadWritten = true
	if _, err := e.down.Write(e.headBuf); err != nil {
		e.downBroken = true
	}
}

func (e *Engine) onResponseBody(b []byte) {
	if e.downBroken || e.intercepted {
		return
	}
	e.respBodyCap.reset()
	action := e.respPipe.DispatchResponseBody(b, &e.respBodyCap, e.req)
	if action.Verdict == filter.Reject || action.Verdict == filter.Reply {
		// The response head is already flushed downstream; headers
		// cannot be replaced mid-stream. The body chunk that triggered
		// this is dropped and the connection is retired after this
		// cycle rather than risk desynchronizing a reused socket.
		e.abortKeepAlive = true
		e.opts.Metrics.IncRejection("response-body")
		return
	}
	out := e.respBodyCap.outChunk(b)
	if err := e.writeBodyChunk(e.down, e.respChunkedOut, out); err != nil {
		e.downBroken = true
	}
}

func (e *Engine) onResponseMessageComplete() {
	if e.resp.Status >= 100 && e.resp.Status < 200 {
		// Interim response fully read; keep going on the same upstream
		// connection for the final response (spec.md §4.6
		// "100-continue").
		e.resp = message.NewResponse()
		e.rspd.resetForResponse(e.resp)
		e.respParser.Reset()
		return
	}
	e.upCh.Disable(ioloop.Read) // response fully consumed off the upstream socket
	if e.downBroken {
		return
	}
	if e.respChunkedOut {
		e.chunkBuf = httpparser.ChunkWriter{}.WriteTrailers(e.chunkBuf[:0], e.resp.Trailers)
		if _, err := e.down.Write(e.chunkBuf); err != nil {
			e.downBroken = true
		}
	}
	e.downCh.Set(ioloop.Read) // response delivered; ready for the next request on this connection
}

// --- shared helpers ---

func (e *Engine) writeBodyChunk(w io.Writer, chunked bool, data []byte) error {
	if chunked {
		e.chunkBuf = httpparser.ChunkWriter{}.WriteChunk(e.chunkBuf[:0], data)
		if len(e.chunkBuf) == 0 {
			return nil
		}
		_, err := w.Write(e.chunkBuf)
		return err
	}
	if len(data) == 0 {
		return nil
	}
	_, err := w.Write(data)
	return err
}

// replyBodyChunkSize is the max outbound chunk size for a REJECT/REPLY
// body source (spec.md §4.6 "Intercepted replies with a body source").
const replyBodyChunkSize = 16 * 1024

// writeDirectResponse answers the client without (or instead of)
// relaying anything further from upstream: filter REJECT/REPLY, a
// connect failure, or a panic-recovered default 400 all funnel through
// here. Such a response always closes the connection afterward (spec.md
// §9): renegotiating keep-alive against a reply the pipeline invented
// rather than the origin sent is not worth the complexity. A body
// source forces chunked framing regardless of any Content-Length the
// filter happened to set, since a caller handing over an io.Reader
// generally doesn't know its length up front (spec.md §4.6).
func (e *Engine) writeDirectResponse(resp *message.Response, body io.Reader) {
	resp.Headers.Set("Connection", "close")
	if body != nil {
		resp.Headers.Remove("Content-Length")
		resp.Headers.Set("Transfer-Encoding", "chunked")
	} else if !resp.Headers.Has("Content-Length") {
		resp.Headers.Set("Content-Length", "0")
	}
	e.headBuf = resp.WriteHead(e.headBuf[:0])
	if _, err := e.down.Write(e.headBuf); err != nil {
		e.downBroken = true
		return
	}
	if body != nil {
		if err := e.streamReplyBody(body); err != nil {
			e.downBroken = true
		}
	}
	e.resp = resp
}

// streamReplyBody copies body to the client in chunks of up to
// replyBodyChunkSize, followed by the terminating chunk.
func (e *Engine) streamReplyBody(body io.Reader) error {
	buf := make([]byte, replyBodyChunkSize)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			e.chunkBuf = httpparser.ChunkWriter{}.WriteChunk(e.chunkBuf[:0], buf[:n])
			if _, werr := e.down.Write(e.chunkBuf); werr != nil {
				return werr
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			return rerr
		}
	}
	e.chunkBuf = httpparser.ChunkWriter{}.WriteLastChunk(e.chunkBuf[:0])
	_, err := e.down.Write(e.chunkBuf)
	return err
}

func (e *Engine) postCycleKeepAlive() bool {
	if e.intercepted || e.upBroken || e.downBroken || e.abortKeepAlive {
		e.closeUpstreamAbort()
		return false
	}
	keepAlive := e.rd.keepAlive && e.rspd.keepAlive
	if keepAlive {
		e.checkinUpstream()
	} else {
		e.closeUpstreamAbort()
	}
	return keepAlive
}

func (e *Engine) checkinUpstream() {
	if e.up == nil {
		return
	}
	e.opts.Pool.CheckIn(e.routeKey, e.up)
	e.opts.Metrics.IncPoolCheckin(e.routeKey)
	e.up = nil
	e.upReader = nil
	e.upCh.Set(0) // handed back to the pool, not this engine's to track anymore
}

func (e *Engine) closeUpstreamAbort() {
	if e.up == nil {
		return
	}
	e.up.Close()
	e.up = nil
	e.upReader = nil
	e.upCh.MarkClosed()
}

func (e *Engine) responseHasNoBody() bool {
	if e.req != nil && strings.EqualFold(e.req.Method, "HEAD") {
		return true
	}
	return e.resp.Status == 204 || e.resp.Status == 304
}

func isChunkedHeader(h *message.Headers) bool {
	return strings.EqualFold(strings.TrimSpace(h.GetValue("Transfer-Encoding")), "chunked")
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	case status >= 100:
		return "1xx"
	default:
		return "other"
	}
}
