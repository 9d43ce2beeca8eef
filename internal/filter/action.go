package filter

import (
	"io"

	"github.com/zinic/pyrox/internal/message"
)

// Verdict is the tagged union a filter hook returns (spec.md §4.3 Action).
type Verdict int

const (
	// Next lets the pipeline continue to the next filter; a fully-drained
	// pipeline of only NEXT verdicts forwards the event unchanged.
	Next Verdict = iota
	// Consume halts the pipeline but forwards the event as if no filter
	// had run (spec.md §9's resolution of the CONSUME open question).
	Consume
	// Reject intercepts the message and replies with Response immediately.
	Reject
	// Reply intercepts the message and replies with Response, identically
	// to Reject but chosen by the filter rather than synthesized from a
	// panic (spec.md §4.3 dispatch rules).
	Reply
	// Route overrides the upstream target for this request.
	Route
)

// Action is the value returned from every filter hook. Only the field
// matching Verdict is meaningful; the zero Action is {Next}.
type Action struct {
	Verdict  Verdict
	Response *message.Response // set for Reject/Reply
	Body     io.Reader         // optional body source for Reject/Reply (spec.md §4.6)
	Upstream string            // set for Route: "host:port"
}

// NextAction is the zero-cost verdict filters return when they have no opinion.
func NextAction() Action { return Action{Verdict: Next} }

// ConsumeAction halts the pipeline while still forwarding the event.
func ConsumeAction() Action { return Action{Verdict: Consume} }

// RejectWith intercepts and replies with resp, with no body.
func RejectWith(resp *message.Response) Action {
	return Action{Verdict: Reject, Response: resp}
}

// RejectWithBody intercepts, replies with resp and streams body afterward.
func RejectWithBody(resp *message.Response, body io.Reader) Action {
	return Action{Verdict: Reject, Response: resp, Body: body}
}

// ReplyWith intercepts and replies with resp, with no body.
func ReplyWith(resp *message.Response) Action {
	return Action{Verdict: Reply, Response: resp}
}

// ReplyWithBody intercepts, replies with resp and streams body afterward
// (spec.md §4.6 "Intercepted replies with a body source").
func ReplyWithBody(resp *message.Response, body io.Reader) Action {
	return Action{Verdict: Reply, Response: resp, Body: body}
}

// RouteTo overrides the upstream target for this request.
func RouteTo(upstream string) Action {
	return Action{Verdict: Route, Upstream: upstream}
}

// Breaking reports whether this Action terminates pipeline dispatch
// (spec.md §4.3 "Pipeline terminates at the first breaking action").
func (a Action) Breaking() bool {
	return a.Verdict == Consume || a.Verdict == Reject || a.Verdict == Reply || a.Verdict == Route
}
