package message

import "strconv"

// Response is an HTTP/1.1 response head: status code, optional reason
// phrase and the common Message fields.
type Response struct {
	Message
	Status int
	Reason string
}

// NewResponse returns an empty response ready for the parser to populate.
func NewResponse() *Response {
	return &Response{Message: newMessage()}
}

// Reset clears the response for reuse across a keep-alive cycle.
func (r *Response) Reset() {
	r.Message.reset()
	r.Status = 0
	r.Reason = ""
}

// ReasonOrDefault returns Reason if non-empty, otherwise the default phrase
// for Status from StatusText (original_source's model_util reason table,
// SPEC_FULL §C.5). An empty Reason is treated as unset, so WriteHead only
// emits an empty reason phrase for a status StatusText does not know.
func (r *Response) ReasonOrDefault() string {
	if r.Reason != "" {
		return r.Reason
	}
	return StatusText(r.Status)
}

// WriteHead serializes the status line and headers into buf, returning the
// extended slice, including the terminating blank line after headers.
func (r *Response) WriteHead(buf []byte) []byte {
	buf = append(buf, 'H', 'T', 'T', 'P', '/')
	buf = appendVersion(buf, r.Proto)
	buf = append(buf, ' ')
	buf = strconv.AppendInt(buf, int64(r.Status), 10)
	buf = append(buf, ' ')
	buf = append(buf, r.ReasonOrDefault()...)
	buf = append(buf, '\r', '\n')
	buf = r.Headers.WriteTo(buf)
	buf = append(buf, '\r', '\n')
	return buf
}

// NewDefault builds one of the proxy's canned error responses (spec.md §6):
// Server header, Content-Length: 0, no body.
func NewDefault(status int, serverHeader string) *Response {
	r := NewResponse()
	r.Status = status
	r.Headers.Set("Server", serverHeader)
	r.Headers.Set("Content-Length", "0")
	return r
}
