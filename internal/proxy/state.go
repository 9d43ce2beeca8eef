package proxy

// State names the phases of a request/response cycle (spec.md §3 "Stream
// Engine State"). Engine does not record or report a State; its progress
// is tracked by its parsers' delegates and boolean flags.
type State int

const (
	StateReadRequestHead State = iota
	StateReadRequestBody
	StateConnecting
	StateReadResponseHead
	StateReadResponseBody
	StateDone
)

func (s State) String() string {
	switch s {
	case StateReadRequestHead:
		return "read-request-head"
	case StateReadRequestBody:
		return "read-request-body"
	case StateConnecting:
		return "connecting"
	case StateReadResponseHead:
		return "read-response-head"
	case StateReadResponseBody:
		return "read-response-body"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}
