package proxy

import (
	"errors"

	"github.com/zinic/pyrox/internal/message"
)

// Engine-level sentinel errors (spec.md §7 "Stream Engine errors").
var (
	// ErrNoUpstream is returned when a request completed without an
	// upstream connection and without a direct response having been sent.
	// An empty router is reported as router.ErrNoRoute and answered 503.
	ErrNoUpstream = errors.New("proxy: no upstream route available")
)

// defaultResponse builds one of the proxy's canned error responses,
// stamped with this build's Server header (spec.md §6).
func defaultResponse(status int) *message.Response {
	return message.NewDefault(status, ServerHeader)
}

func badRequestResponse() *message.Response        { return defaultResponse(400) }
func badGatewayResponse() *message.Response         { return defaultResponse(502) }
func serviceUnavailableResponse() *message.Response { return defaultResponse(503) }
func gatewayTimeoutResponse() *message.Response     { return defaultResponse(504) }
