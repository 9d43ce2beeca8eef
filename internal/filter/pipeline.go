package filter

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/zinic/pyrox/internal/message"
)

// Pipeline is an ordered collection of filters for one direction of one
// connection (spec.md §4.3). It maintains one ordered list per hook,
// with the response-head hook split into two lists by handler shape
// (five in all), built once at construction from the registered
// filters' Capabilities.
type Pipeline struct {
	log *zap.Logger

	reqHead     []RequestHeadFilter
	reqBody     []RequestBodyFilter
	respHead    []ResponseHeadFilter
	respHeadReq []ResponseHeadWithRequestFilter
	respBody    []ResponseBodyFilter
}

// NewPipeline builds a Pipeline from filters in registration order. A
// filter implementing more than one hook interface is added to every
// matching list, preserving registration order within each list.
func NewPipeline(log *zap.Logger, filters ...Filter) *Pipeline {
	p := &Pipeline{log: log}
	for _, f := range filters {
		cap := f.Capabilities()
		if cap.Has(RequestHead) {
			if rf, ok := f.(RequestHeadFilter); ok {
				p.reqHead = append(p.reqHead, rf)
			}
		}
		if cap.Has(RequestBody) {
			if rf, ok := f.(RequestBodyFilter); ok {
				p.reqBody = append(p.reqBody, rf)
			}
		}
		if cap.Has(ResponseHead) {
			switch rf := f.(type) {
			case ResponseHeadWithRequestFilter:
				p.respHeadReq = append(p.respHeadReq, rf)
			case ResponseHeadFilter:
				p.respHead = append(p.respHead, rf)
			}
		}
		if cap.Has(ResponseBody) {
			if rf, ok := f.(ResponseBodyFilter); ok {
				p.respBody = append(p.respBody, rf)
			}
		}
	}
	return p
}

// InterceptsRequestBody reports whether any filter in the request-body
// list is registered (spec.md §4.3, used by the Stream Engine to decide
// on CL→chunked rewriting).
func (p *Pipeline) InterceptsRequestBody() bool { return len(p.reqBody) > 0 }

// InterceptsResponseBody is the response-side analog of
// InterceptsRequestBody.
func (p *Pipeline) InterceptsResponseBody() bool { return len(p.respBody) > 0 }

func defaultReject(serverHeader string) *message.Response {
	return message.NewDefault(400, serverHeader)
}

// guard recovers a panicking filter into a REJECT 400 (spec.md §4.3
// "If a filter raises an exception, its action becomes REJECT with a
// default 400 response, and the error is logged").
func (p *Pipeline) guard(name string, run func() Action) (action Action) {
	defer func() {
		if r := recover(); r != nil {
			if p.log != nil {
				p.log.Error("filter panicked, rejecting",
					zap.String("filter", name),
					zap.Any("recovered", r))
			}
			action = RejectWith(defaultReject("pyrox"))
		}
	}()
	return run()
}

// DispatchRequestHead runs the request-head hook in registration order,
// stopping at the first breaking action.
func (p *Pipeline) DispatchRequestHead(req *message.Request) Action {
	for _, f := range p.reqHead {
		action := p.guard(fmt.Sprintf("%T", f), func() Action { return f.OnRequestHead(req) })
		if action.Breaking() {
			return action
		}
	}
	return NextAction()
}

// DispatchRequestBody runs the request-body hook for one chunk.
func (p *Pipeline) DispatchRequestBody(chunk []byte, out BodySink) Action {
	for _, f := range p.reqBody {
		action := p.guard(fmt.Sprintf("%T", f), func() Action { return f.OnRequestBody(chunk, out) })
		if action.Breaking() {
			return action
		}
	}
	return NextAction()
}

// DispatchResponseHead runs the response-head hook, picking per filter
// whether it wants the originating request alongside the response
// (spec.md §9 arity-dependent dispatch replacement).
func (p *Pipeline) DispatchResponseHead(resp *message.Response, req *message.Request) Action {
	for _, f := range p.respHeadReq {
		action := p.guard(fmt.Sprintf("%T", f), func() Action { return f.OnResponseHeadWithRequest(resp, req) })
		if action.Breaking() {
			return action
		}
	}
	for _, f := range p.respHead {
		action := p.guard(fmt.Sprintf("%T", f), func() Action { return f.OnResponseHead(resp) })
		if action.Breaking() {
			return action
		}
	}
	return NextAction()
}

// DispatchResponseBody runs the response-body hook for one chunk.
func (p *Pipeline) DispatchResponseBody(chunk []byte, out BodySink, req *message.Request) Action {
	for _, f := range p.respBody {
		action := p.guard(fmt.Sprintf("%T", f), func() Action { return f.OnResponseBody(chunk, out, req) })
		if action.Breaking() {
			return action
		}
	}
	return NextAction()
}

// Factory builds a fresh Pipeline, typically one per accepted connection
// (spec.md §4.3 "Filter registration API").
type Factory func() *Pipeline

// Registry holds the pair of factories the engine consumes, plus the
// singleton-mode switch (spec.md §9 "Process-wide singletons"). In
// singleton mode the same filter instances are reused across
// connections; the engine still gets a fresh Pipeline object per
// connection, since Pipeline's per-hook lists are cheap to rebuild and
// hold no per-connection state themselves.
type Registry struct {
	log          *zap.Logger
	singleton    bool
	sharedReqFs  []Filter
	sharedRespFs []Filter
	reqFactory   func() []Filter
	respFactory  func() []Filter
}

// NewRegistry returns a Registry backed by the given per-connection
// filter factories.
func NewRegistry(log *zap.Logger, reqFactory, respFactory func() []Filter) *Registry {
	return &Registry{log: log, reqFactory: reqFactory, respFactory: respFactory}
}

// Singleton toggles whether filter instances are shared across
// connections. The engine runs each connection's hooks on that
// connection's own goroutine, so in singleton mode one filter instance
// is called from several goroutines at once and must be safe for
// concurrent use.
func (r *Registry) Singleton(on bool) {
	r.singleton = on
	if !on {
		r.sharedReqFs, r.sharedRespFs = nil, nil
	}
}

func (r *Registry) requestFilters() []Filter {
	if r.singleton {
		if r.sharedReqFs == nil {
			r.sharedReqFs = r.reqFactory()
		}
		return r.sharedReqFs
	}
	return r.reqFactory()
}

func (r *Registry) responseFilters() []Filter {
	if r.singleton {
		if r.sharedRespFs == nil {
			r.sharedRespFs = r.respFactory()
		}
		return r.sharedRespFs
	}
	return r.respFactory()
}

// RequestPipeline builds a fresh request-direction Pipeline for one
// connection.
func (r *Registry) RequestPipeline() *Pipeline {
	return NewPipeline(r.log, r.requestFilters()...)
}

// ResponsePipeline builds a fresh response-direction Pipeline for one
// connection.
func (r *Registry) ResponsePipeline() *Pipeline {
	return NewPipeline(r.log, r.responseFilters()...)
}
