package resolver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/restcache/internal/ir"
)

// HTTPError represents a non-2xx HTTP response returned by the remote service.
type HTTPError struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("http error: status=%d body=%s", e.StatusCode, string(e.Body))
}

// Response is the Raw value reported by HTTP invokes.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// HTTPOption configures an HTTP resolver.
type HTTPOption func(*HTTP)

// WithHTTPClient overrides the HTTP client used by the resolver.
func WithHTTPClient(h *http.Client) HTTPOption {
	return func(r *HTTP) {
		if h != nil {
			r.client = h
		}
	}
}

// WithHeaders assigns default headers added to every request.
func WithHeaders(h http.Header) HTTPOption {
	return func(r *HTTP) {
		for k, values := range h {
			for _, v := range values {
				r.headers.Add(k, v)
			}
		}
	}
}

// HTTP resolves descriptors against a REST API over net/http.
// There are no automatic retries: a failed request is reported once and
// recovery is the caller's refetch.
type HTTP struct {
	baseURL *url.URL
	client  *http.Client
	headers http.Header
}

// NewHTTP creates a resolver for the provided base URL.
func NewHTTP(baseURL string, opts ...HTTPOption) (*HTTP, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("resolver: base URL is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("resolver: invalid base URL: %w", err)
	}

	r := &HTTP{
		baseURL: parsed,
		client:  &http.Client{Timeout: 10 * time.Second},
		headers: make(http.Header),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Resolve implements Resolver.
func (h *HTTP) Resolve(d Descriptor) (Resolved, error) {
	r, err := Canonicalize(d)
	if err != nil {
		return Resolved{}, err
	}
	if r.URL == "" {
		return Resolved{}, fmt.Errorf("resolver: url is required for %s %s", r.Method, r.ResourceType)
	}

	target, err := h.buildURL(r)
	if err != nil {
		return Resolved{}, err
	}
	r.Invoke = func(ctx context.Context, onSucceeded func(Success), onFailed func(Failure)) {
		resp, err := h.do(ctx, r.Method, target, r.Body)
		if err != nil {
			f := Failure{Err: err}
			if resp != nil {
				f.Raw = resp
			}
			onFailed(f)
			return
		}

		data := ir.Value(ir.Null{})
		if len(bytes.TrimSpace(resp.Body)) > 0 {
			data, err = ir.ParseJSON(resp.Body)
			if err != nil {
				onFailed(Failure{Raw: resp, Err: fmt.Errorf("decode response: %w", err)})
				return
			}
		}
		onSucceeded(Success{Data: data, Raw: resp})
	}
	return r, nil
}

// buildURL resolves the request URL against the base and, for GET and
// DELETE, encodes params as the query string.
func (h *HTTP) buildURL(r Resolved) (string, error) {
	ref, err := url.Parse(r.URL)
	if err != nil {
		return "", err
	}
	if obj, ok := r.Params.(ir.Object); ok && len(obj) > 0 && (r.Method == "GET" || r.Method == "DELETE") {
		q, err := queryValues(obj)
		if err != nil {
			return "", err
		}
		ref.RawQuery = q.Encode()
	}
	return h.baseURL.ResolveReference(ref).String(), nil
}

func queryValues(params ir.Object) (url.Values, error) {
	q := make(url.Values, len(params))
	for _, key := range params.SortedKeys() {
		switch v := params[key].(type) {
		case ir.String:
			q.Set(key, string(v))
		case ir.Array:
			for _, elem := range v {
				s, err := queryScalar(elem)
				if err != nil {
					return nil, fmt.Errorf("param %q: %w", key, err)
				}
				q.Add(key, s)
			}
		default:
			s, err := queryScalar(v)
			if err != nil {
				return nil, fmt.Errorf("param %q: %w", key, err)
			}
			q.Set(key, s)
		}
	}
	return q, nil
}

func queryScalar(v ir.Value) (string, error) {
	if s, ok := v.(ir.String); ok {
		return string(s), nil
	}
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (h *HTTP) do(ctx context.Context, method, target string, body ir.Value) (*Response, error) {
	var reader io.Reader
	if body != nil && method != "GET" && method != "DELETE" {
		data, err := ir.MarshalValue(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	req.Header = h.headers.Clone()
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	out := &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return out, &HTTPError{StatusCode: resp.StatusCode, Body: data, Header: resp.Header}
	}
	return out, nil
}
