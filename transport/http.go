package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 4 << 20
)

// HTTPOptions configures [NewHTTP].
type HTTPOptions struct {
	// BaseURL resolves relative request URLs.
	BaseURL string
	// Client overrides the http.Client. When nil a client with a cookie jar
	// and Timeout is created.
	Client  *http.Client
	Timeout time.Duration
	// Header is added to every request unless the request sets it.
	Header http.Header
}

// HTTP is a Transport over net/http.
type HTTP struct {
	client *http.Client
	base   *url.URL
	header http.Header
}

// NewHTTP returns an HTTP transport.
func NewHTTP(opts HTTPOptions) (*HTTP, error) {
	h := &HTTP{client: opts.Client, header: opts.Header.Clone()}
	if opts.BaseURL != "" {
		u, err := url.Parse(strings.TrimRight(opts.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("transport: base url: %w", err)
		}
		h.base = u
	}
	if h.client == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		h.client = &http.Client{Jar: jar, Timeout: timeout}
	}
	return h, nil
}

// Resolve returns the absolute URL for ref.
func (h *HTTP) Resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	if u.IsAbs() || h.base == nil {
		return u.String(), nil
	}
	return h.base.ResolveReference(&url.URL{Path: strings.TrimLeft(u.Path, "/"), RawQuery: u.RawQuery}).String(), nil
}

func (h *HTTP) Send(ctx context.Context, req *Request) (*Response, error) {
	target, err := h.Resolve(req.URL)
	if err != nil {
		return nil, fmt.Errorf("transport: url %q: %w", req.URL, err)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("transport: build request: %w", err)
	}
	for k, vs := range h.header {
		if _, set := req.Header[k]; !set {
			hreq.Header[k] = append([]string(nil), vs...)
		}
	}
	for k, vs := range req.Header {
		hreq.Header[k] = append([]string(nil), vs...)
	}
	if req.Body != nil && hreq.Header.Get("Content-Type") == "" {
		hreq.Header.Set("Content-Type", "application/json")
	}
	if hreq.Header.Get("X-Requested-With") == "" {
		hreq.Header.Set("X-Requested-With", "XMLHttpRequest")
	}

	resp, err := h.client.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrNetwork, err)
	}
	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   data,
	}, nil
}
