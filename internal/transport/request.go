// Package transport provides the HTTP layer used by all exploitation
// flows: the request value object, the low-level client, and the target
// abstraction that turns requests into latency measurements.
package transport

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultHeaders are the headers used when the caller does not supply any.
var DefaultHeaders = map[string]string{
	"Cookie":     "",
	"User-Agent": "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_14_2) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/12.0.2 Safari/605.1.15",
	"Connection": "keep-alive",
}

// Request carries the parameters, method and headers of a probe.
//
// The setters replace the whole field and return the same Request so calls
// can be chained. A Request is not safe for concurrent mutation; callers
// on hot paths Clone before changing a parameter.
type Request struct {
	params  map[string]string
	method  string
	headers map[string]string
}

// NewRequest creates a request from its parameters, method and headers.
// Nil headers fall back to DefaultHeaders.
func NewRequest(params map[string]string, method string, headers map[string]string) *Request {
	if headers == nil {
		headers = DefaultHeaders
	}
	return &Request{params: params, method: method, headers: headers}
}

// Params returns the current parameters.
func (r *Request) Params() map[string]string { return r.params }

// Method returns the current HTTP method.
func (r *Request) Method() string { return r.method }

// Headers returns the current headers.
func (r *Request) Headers() map[string]string { return r.headers }

// SetParams replaces the parameters and returns the same request.
func (r *Request) SetParams(params map[string]string) *Request {
	r.params = params
	return r
}

// SetMethod replaces the method and returns the same request.
func (r *Request) SetMethod(method string) *Request {
	r.method = method
	return r
}

// SetHeaders replaces the headers and returns the same request.
func (r *Request) SetHeaders(headers map[string]string) *Request {
	r.headers = headers
	return r
}

// Clone returns a deep copy of the request. Mutating the copy's maps does
// not affect the original.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	clone := &Request{method: r.method}
	if r.params != nil {
		clone.params = make(map[string]string, len(r.params))
		for k, v := range r.params {
			clone.params[k] = v
		}
	}
	if r.headers != nil {
		clone.headers = make(map[string]string, len(r.headers))
		for k, v := range r.headers {
			clone.headers[k] = v
		}
	}
	return clone
}

// String renders the request for debug logging. Map entries are sorted so
// the output is stable.
func (r *Request) String() string {
	return fmt.Sprintf("params: %s, method: %s, headers: %s",
		formatMap(r.params), r.method, formatMap(r.headers))
}

// formatMap renders a string map with sorted keys.
func formatMap(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b := &strings.Builder{}
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(b, "%q: %q", k, m[k])
	}
	b.WriteByte('}')
	return b.String()
}
