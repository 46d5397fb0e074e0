// Package message defines the records exchanged between proxy clients and
// the persistent endpoint.
//
// A Request names one operation and carries its arguments; a Response
// carries either a result or an error, plus every message the session
// queued while handling the call. Both are serialized by the codec layer
// and wrapped in a protocol frame.
package message

// Reserved endpoint methods. Any other method name is dispatched to the
// session as an operation.
const (
	MethodConnect    = "connect"
	MethodClose      = "close"
	MethodSetOptions = "set_options"
	MethodStatus     = "status"
)

// Request is a single call made by a client invocation. It is consumed
// once by the endpoint and never retained.
//
// Options, when set, are merged into the endpoint's options before the
// call runs, in the same dispatch step, so the call sees exactly the
// caller's credentials.
type Request struct {
	Method  string         `json:"method" cbor:"method"`
	Args    []any          `json:"args,omitempty" cbor:"args,omitempty"`
	Kwargs  map[string]any `json:"kwargs,omitempty" cbor:"kwargs,omitempty"`
	Options map[string]any `json:"options,omitempty" cbor:"options,omitempty"`
}

// LogMessage is one entry for the host's message queue. Tag is a
// verbosity tag ("v" through "vvvv") or "log" for log-file-only output.
type LogMessage struct {
	Tag  string `json:"tag" cbor:"tag"`
	Text string `json:"text" cbor:"text"`
}

// Response answers a Request.
//
//   - On success: Result holds the structured value (possibly nil), Error is empty.
//   - On failure: Error is the human-readable message and ErrorCode
//     classifies it; Result must be ignored.
type Response struct {
	Method    string       `json:"method,omitempty" cbor:"method,omitempty"`
	Result    any          `json:"result,omitempty" cbor:"result,omitempty"`
	Error     string       `json:"error,omitempty" cbor:"error,omitempty"`
	ErrorCode string       `json:"error_code,omitempty" cbor:"error_code,omitempty"`
	Messages  []LogMessage `json:"messages,omitempty" cbor:"messages,omitempty"`
}

// Failed reports whether the response carries an error.
func (r *Response) Failed() bool {
	return r.Error != ""
}

// ErrorResponse builds a failure response for method.
func ErrorResponse(method, code, text string) *Response {
	return &Response{Method: method, Error: text, ErrorCode: code}
}
