package message

// Request is an HTTP/1.1 request head: method, raw request-target and the
// common Message fields. The URL is kept as the raw bytes the client sent
// (including query and fragment) — spec.md §4.1 forbids normalization.
type Request struct {
	Message
	Method string
	URL    string
}

// NewRequest returns an empty request ready for the parser to populate.
func NewRequest() *Request {
	return &Request{Message: newMessage()}
}

// Reset clears the request for reuse across a keep-alive cycle.
func (r *Request) Reset() {
	r.Message.reset()
	r.Method = ""
	r.URL = ""
}

// WriteHead serializes the request line and headers (but not the trailing
// body) into buf, returning the extended slice. The terminating blank line
// after headers is included.
func (r *Request) WriteHead(buf []byte) []byte {
	buf = append(buf, r.Method...)
	buf = append(buf, ' ')
	buf = append(buf, r.URL...)
	buf = append(buf, ' ', 'H', 'T', 'T', 'P', '/')
	buf = appendVersion(buf, r.Proto)
	buf = append(buf, '\r', '\n')
	buf = r.Headers.WriteTo(buf)
	buf = append(buf, '\r', '\n')
	return buf
}

func appendVersion(buf []byte, v Version) []byte {
	buf = append(buf, byte('0'+v.Major), '.', byte('0'+v.Minor))
	return buf
}
