// Package transport sends requests for the session core. The core treats a
// response as a status code plus an opaque body; anything that prevents a
// status from arriving is reported as ErrNetwork.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrNetwork marks transport-level failures: dial errors, timeouts, resets,
// unreadable bodies.
var ErrNetwork = errors.New("network failure")

// Request is one outbound call.
type Request struct {
	Method string
	// URL is absolute, or relative to the base URL of the caller.
	URL    string
	Header http.Header
	Body   []byte
	// ReplaySafe allows a non-idempotent request to be reissued once after a
	// token refresh.
	ReplaySafe bool
}

// Clone returns a deep copy so a retry never shares headers with the first
// attempt.
func (r *Request) Clone() *Request {
	c := *r
	c.Header = r.Header.Clone()
	if r.Body != nil {
		c.Body = append([]byte(nil), r.Body...)
	}
	return &c
}

// Idempotent reports whether the method may be replayed by HTTP semantics.
func (r *Request) Idempotent() bool {
	switch r.Method {
	case "", http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

// Response is what came back.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool { return r.Status >= 200 && r.Status < 300 }

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("transport: empty body")
	}
	return json.Unmarshal(r.Body, v)
}

// Transport sends a request. Implementations must return a non-nil Response
// for every HTTP status, and an error wrapping ErrNetwork otherwise.
type Transport interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// Func adapts a function to Transport.
type Func func(ctx context.Context, req *Request) (*Response, error)

func (f Func) Send(ctx context.Context, req *Request) (*Response, error) { return f(ctx, req) }

// Chain tries strategies in order. The next strategy runs only when the
// previous one failed with ErrNetwork; any response, whatever its status, is
// final.
func Chain(strategies ...Transport) Transport {
	return chain(strategies)
}

type chain []Transport

func (c chain) Send(ctx context.Context, req *Request) (*Response, error) {
	if len(c) == 0 {
		return nil, fmt.Errorf("%w: no transport configured", ErrNetwork)
	}
	var errs []error
	for _, t := range c {
		resp, err := t.Send(ctx, req.Clone())
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, ErrNetwork) {
			return nil, err
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
}
