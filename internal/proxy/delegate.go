package proxy

import (
	"github.com/zinic/pyrox/internal/httpparser"
	"github.com/zinic/pyrox/internal/message"
)

// headerAccumulator reassembles the per-byte/per-slice OnHeaderField and
// OnHeaderValue callbacks httpparser.Parser delivers into complete
// name/value pairs, storing each pair into the target Headers as soon as
// the next field (or headers-complete) signals it is finished (mirrors
// httpparser's own parser_test.go recorder fixture). onField MUST be
// called with the Headers the just-completed pair belongs to — the
// request/response head's Headers while headers are still being parsed,
// or the message's Trailers once parsing has moved past
// OnHeadersComplete — since a chunked message's trailer fields arrive
// through the same two callbacks after the body.
type headerAccumulator struct {
	field   []byte
	value   []byte
	inValue bool
}

func (h *headerAccumulator) onField(b []byte, target *message.Headers) {
	if h.inValue {
		h.flush(target)
	}
	h.field = append(h.field, b...)
}

func (h *headerAccumulator) onValue(b []byte) {
	h.inValue = true
	h.value = append(h.value, b...)
}

// flush stores the accumulated pair into target (if a field is in
// progress) and resets the accumulator for the next pair.
func (h *headerAccumulator) flush(target *message.Headers) {
	if len(h.field) == 0 && !h.inValue {
		return
	}
	if target != nil {
		target.Header(string(h.field)).Add(string(h.value))
	}
	h.field = h.field[:0]
	h.value = h.value[:0]
	h.inValue = false
}

// reqDelegate drives a Request from the downstream byte stream and
// dispatches the request-direction filter pipeline (spec.md §4.1/§4.3).
// Business logic lives on Engine; this type owns only token
// reassembly and callback plumbing.
type reqDelegate struct {
	httpparser.NopDelegate

	eng *Engine
	req *message.Request

	method []byte
	path   []byte
	hdr    headerAccumulator

	headersDone     bool
	messageComplete bool
	chunkedIn       bool
	keepAlive       bool
}

func (d *reqDelegate) resetForRequest(req *message.Request) {
	d.req = req
	d.method = d.method[:0]
	d.path = d.path[:0]
	d.hdr = headerAccumulator{}
	d.headersDone = false
	d.messageComplete = false
	d.chunkedIn = false
	d.keepAlive = false
}

func (d *reqDelegate) OnRequestMethod(b []byte) { d.method = append(d.method, b...) }
func (d *reqDelegate) OnRequestPath(b []byte)   { d.path = append(d.path, b...) }

func (d *reqDelegate) OnHTTPVersion(major, minor int) {
	d.req.Proto = message.Version{Major: major, Minor: minor}
}

func (d *reqDelegate) OnHeaderField(b []byte) {
	target := d.req.Headers
	if d.headersDone {
		target = d.req.Trailers
	}
	d.hdr.onField(b, target)
}
func (d *reqDelegate) OnHeaderValue(b []byte) { d.hdr.onValue(b) }

func (d *reqDelegate) OnHeadersComplete() {
	d.hdr.flush(d.req.Headers)
	d.req.Method = string(d.method)
	d.req.URL = string(d.path)
	d.headersDone = true
	d.eng.onRequestHeadersComplete()
}

func (d *reqDelegate) OnBody(b []byte, isChunked bool) {
	d.chunkedIn = isChunked
	d.eng.onRequestBody(b)
}

func (d *reqDelegate) OnMessageComplete(isChunked, keepAlive bool) {
	d.hdr.flush(d.req.Trailers)
	d.messageComplete = true
	d.chunkedIn = isChunked
	d.keepAlive = keepAlive
	d.eng.onRequestMessageComplete()
}

// respDelegate is the upstream-facing analog of reqDelegate, driving a
// Response and the response-direction filter pipeline. Interim 1xx
// responses (other than the engine's own preemptive 100-continue,
// written directly to downstream — see Engine.writeRequestHead) are
// relayed and then the parser is reset in place for the final response
// on the same connection (spec.md §4.6 "100-continue").
type respDelegate struct {
	httpparser.NopDelegate

	eng  *Engine
	resp *message.Response

	hdr    headerAccumulator
	reason []byte

	headersDone     bool
	messageComplete bool
	chunkedIn       bool
	keepAlive       bool
}

func (d *respDelegate) resetForResponse(resp *message.Response) {
	d.resp = resp
	d.hdr = headerAccumulator{}
	d.reason = d.reason[:0]
	d.headersDone = false
	d.messageComplete = false
	d.chunkedIn = false
	d.keepAlive = false
}

func (d *respDelegate) OnStatus(code int)       { d.resp.Status = code }
func (d *respDelegate) OnStatusReason(b []byte) { d.reason = append(d.reason, b...) }

func (d *respDelegate) OnHTTPVersion(major, minor int) {
	d.resp.Proto = message.Version{Major: major, Minor: minor}
}

func (d *respDelegate) OnHeaderField(b []byte) {
	target := d.resp.Headers
	if d.headersDone {
		target = d.resp.Trailers
	}
	d.hdr.onField(b, target)
}
func (d *respDelegate) OnHeaderValue(b []byte) { d.hdr.onValue(b) }

func (d *respDelegate) OnHeadersComplete() {
	d.hdr.flush(d.resp.Headers)
	d.resp.Reason = string(d.reason)
	d.headersDone = true
	d.eng.onResponseHeadersComplete()
}

func (d *respDelegate) OnBody(b []byte, isChunked bool) {
	d.chunkedIn = isChunked
	d.eng.onResponseBody(b)
}

func (d *respDelegate) OnMessageComplete(isChunked, keepAlive bool) {
	d.hdr.flush(d.resp.Trailers)
	d.messageComplete = true
	d.chunkedIn = isChunked
	d.keepAlive = keepAlive
	d.eng.onResponseMessageComplete()
}
