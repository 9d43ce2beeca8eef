package httpparser

// Delegate receives callbacks from Parser.Execute in strict wire order
// (spec.md §4.1). The method and the request path are each delivered in one
// callback once complete. A header field name, header value or reason
// phrase may be delivered as several callbacks of the same kind (also
// when it straddles two Execute calls); implementations must concatenate
// them.
type Delegate interface {
	OnMessageBegin()

	// Request-line callbacks (Kind == Request).
	OnRequestMethod(b []byte)
	OnRequestPath(b []byte)

	// Status-line callbacks (Kind == Response). OnStatusReason may fire
	// zero or more times per message, same straddling-a-call rule as the
	// header callbacks; an empty reason phrase fires it zero times.
	OnStatus(code int)
	OnStatusReason(b []byte)

	OnHTTPVersion(major, minor int)

	OnHeaderField(b []byte)
	OnHeaderValue(b []byte)
	OnHeadersComplete()

	// OnBody is called once per contiguous byte run available in the
	// current Execute call. isChunked tells the handler whether the wire
	// form was chunked, independent of any outbound re-framing decision.
	OnBody(b []byte, isChunked bool)

	OnMessageComplete(isChunked bool, shouldKeepAlive bool)
}

// NopDelegate implements Delegate with no-op methods, for embedding in
// delegates that only care about a subset of callbacks.
type NopDelegate struct{}

func (NopDelegate) OnMessageBegin()                                {}
func (NopDelegate) OnRequestMethod(b []byte)                       {}
func (NopDelegate) OnRequestPath(b []byte)                         {}
func (NopDelegate) OnStatus(code int)                              {}
func (NopDelegate) OnStatusReason(b []byte)                        {}
func (NopDelegate) OnHTTPVersion(major, minor int)                 {}
func (NopDelegate) OnHeaderField(b []byte)                         {}
func (NopDelegate) OnHeaderValue(b []byte)                         {}
func (NopDelegate) OnHeadersComplete()                             {}
func (NopDelegate) OnBody(b []byte, isChunked bool)                {}
func (NopDelegate) OnMessageComplete(chunked, keepAlive bool)       {}
