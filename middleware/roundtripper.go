package middleware

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	goSession "github.com/MrEthical07/goSession"
)

// Executor is the subset of [goSession.Manager] used by [RoundTripper].
type Executor interface {
	ExecuteAuthenticated(ctx context.Context, req *goSession.Request) (*goSession.Response, error)
}

// RoundTripper is an [http.RoundTripper] that authenticates every request.
//
// Non-2xx responses are returned as ordinary responses, including a 401 that
// was not replayed. Transport failures and session errors such as
// [goSession.ErrAuthRequired] are returned as errors.
type RoundTripper struct {
	exec Executor
}

// NewRoundTripper wraps exec.
func NewRoundTripper(exec Executor) *RoundTripper {
	return &RoundTripper{exec: exec}
}

// RoundTrip implements [http.RoundTripper].
func (rt *RoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	if rt == nil || rt.exec == nil {
		return nil, errors.New("middleware: nil executor")
	}

	var body []byte
	if r.Body != nil {
		b, err := io.ReadAll(r.Body)
		_ = r.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("middleware: read request body: %w", err)
		}
		body = b
	}

	req := &goSession.Request{
		Method: r.Method,
		URL:    r.URL.String(),
		Header: r.Header.Clone(),
		Body:   body,
	}
	if req.Header == nil {
		req.Header = http.Header{}
	}

	resp, err := rt.exec.ExecuteAuthenticated(r.Context(), req)
	if err != nil {
		var ue *goSession.UpstreamError
		if errors.As(err, &ue) {
			return toHTTP(r, ue.Status, ue.Header, ue.Body), nil
		}
		return nil, err
	}
	return toHTTP(r, resp.Status, resp.Header, resp.Body), nil
}

func toHTTP(r *http.Request, status int, header http.Header, body []byte) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		Status:        strconv.Itoa(status) + " " + http.StatusText(status),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       r,
	}
}
