package filter

import "github.com/zinic/pyrox/internal/message"

// Capability is an explicit bitmask a Filter returns to declare which
// hooks it implements (spec.md §9 "Decorator-declared capabilities",
// option (b): avoid reflection on method arity entirely).
type Capability uint8

const (
	RequestHead Capability = 1 << iota
	RequestBody
	ResponseHead
	ResponseBody
)

// Has reports whether c includes all bits in want.
func (c Capability) Has(want Capability) bool { return c&want == want }

// BodySink is where a body filter writes replacement bytes for the
// current chunk (spec.md §4.3 "Body filter convention"). An empty sink
// after the call leaves the chunk unmodified; a non-empty sink replaces
// it on the wire. Filters must not retain the input chunk beyond the call.
type BodySink interface {
	Write(p []byte) (int, error)
}

// RequestHeadFilter handles the request head hook.
type RequestHeadFilter interface {
	OnRequestHead(req *message.Request) Action
}

// RequestBodyFilter handles request body chunks.
type RequestBodyFilter interface {
	OnRequestBody(chunk []byte, out BodySink) Action
}

// ResponseHeadFilter handles the response head hook without the request.
type ResponseHeadFilter interface {
	OnResponseHead(resp *message.Response) Action
}

// ResponseHeadWithRequestFilter handles the response head hook with the
// originating request also available (spec.md §9 "Arity-dependent
// dispatch": replacing arity inspection with two distinct shapes). A
// filter implements at most one of ResponseHeadFilter or
// ResponseHeadWithRequestFilter; the pipeline picks via a type switch.
type ResponseHeadWithRequestFilter interface {
	OnResponseHeadWithRequest(resp *message.Response, req *message.Request) Action
}

// ResponseBodyFilter handles response body chunks, with the originating
// request available for context (route-aware rewriting etc).
type ResponseBodyFilter interface {
	OnResponseBody(chunk []byte, out BodySink, req *message.Request) Action
}

// Filter is implemented by every pipeline member. Capabilities reports
// which of the hook interfaces above the filter actually implements; the
// pipeline only invokes hooks declared present, and never uses reflection
// to find them.
type Filter interface {
	Capabilities() Capability
}
