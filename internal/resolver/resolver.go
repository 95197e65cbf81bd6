// Package resolver turns caller request descriptions into canonical request
// metadata plus an invoke callback that performs the network operation.
//
// Two implementations ship with the package: HTTP (net/http against a base
// URL) and Mock (scripted routes for tests and scenario runs). Both derive
// resource type and id from the URL path the same way: the first segment
// is the resource type, the second the resource id.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/roach88/restcache/internal/ir"
)

var (
	// ErrNoRequestKey is returned by Resolved.Key when neither an explicit
	// key nor a URL is available to derive one.
	ErrNoRequestKey = errors.New("no request key and no url to derive one")

	// ErrNoResourceType is returned when the resource type cannot be
	// derived from the descriptor.
	ErrNoResourceType = errors.New("no resource type")
)

// Descriptor is the caller-supplied description of a request.
// Only URL (or ResourceType plus RequestKey) is required; Method defaults
// to GET.
type Descriptor struct {
	Method       string
	URL          string
	Params       ir.Value
	Body         ir.Value
	ResourceType string
	ResourceID   string
	RequestKey   string
}

// Success is reported by an invoke that completed.
type Success struct {
	Data ir.Value
	Raw  any
}

// Failure is reported by an invoke that failed.
type Failure struct {
	Raw any
	Err error
}

// Invoke performs the transport operation once and calls exactly one of
// onSucceeded or onFailed exactly once.
type Invoke func(ctx context.Context, onSucceeded func(Success), onFailed func(Failure))

// Resolved is the canonical request metadata.
type Resolved struct {
	Method       string
	ResourceType string
	ResourceID   string
	URL          string
	Params       ir.Value
	Body         ir.Value
	RequestKey   string
	Invoke       Invoke
}

// Key returns the explicit request key, or the RequestHash of
// (URL, Method, Params).
func (r Resolved) Key() (string, error) {
	if r.RequestKey != "" {
		return r.RequestKey, nil
	}
	if r.URL == "" {
		return "", ErrNoRequestKey
	}
	return ir.RequestHash(r.URL, r.Method, r.Params)
}

// Resolver resolves descriptors.
type Resolver interface {
	Resolve(d Descriptor) (Resolved, error)
}

// Func adapts a function to the Resolver interface.
type Func func(d Descriptor) (Resolved, error)

// Resolve implements Resolver.
func (f Func) Resolve(d Descriptor) (Resolved, error) { return f(d) }

// Canonicalize derives the metadata shared by every resolver, leaving
// Invoke nil:
//   - Method is upper-cased and defaults to GET;
//   - the query string is removed from URL and merged into Params;
//   - ResourceType and ResourceID default to the first two path segments.
func Canonicalize(d Descriptor) (Resolved, error) {
	method := strings.ToUpper(strings.TrimSpace(d.Method))
	if method == "" {
		method = "GET"
	}
	if _, err := ir.FamilyForMethod(method); err != nil {
		return Resolved{}, err
	}

	r := Resolved{
		Method:       method,
		ResourceType: d.ResourceType,
		ResourceID:   d.ResourceID,
		Params:       d.Params,
		Body:         d.Body,
		RequestKey:   d.RequestKey,
	}

	if d.URL != "" {
		u, err := url.Parse(d.URL)
		if err != nil {
			return Resolved{}, fmt.Errorf("parse url %q: %w", d.URL, err)
		}

		if q := u.Query(); len(q) > 0 {
			params, err := mergeQuery(d.Params, q)
			if err != nil {
				return Resolved{}, err
			}
			r.Params = params
		}
		u.RawQuery = ""
		u.Fragment = ""
		r.URL = u.String()

		segments := strings.Split(strings.Trim(u.Path, "/"), "/")
		if r.ResourceType == "" && len(segments) > 0 {
			r.ResourceType = segments[0]
		}
		if r.ResourceID == "" && len(segments) > 1 {
			r.ResourceID = segments[1]
		}
	}

	if r.ResourceType == "" {
		return Resolved{}, fmt.Errorf("%w in %q", ErrNoResourceType, d.URL)
	}
	return r, nil
}

// mergeQuery folds query values into params. Single values become
// strings, repeated values lists of strings; explicit params win.
func mergeQuery(params ir.Value, q url.Values) (ir.Value, error) {
	var merged ir.Object
	switch p := params.(type) {
	case nil, ir.Null:
		merged = make(ir.Object, len(q))
	case ir.Object:
		merged = p.Clone()
	default:
		return nil, fmt.Errorf("params must be an object to merge the query string, got %T", params)
	}

	for key, values := range q {
		if _, explicit := merged[key]; explicit {
			continue
		}
		if len(values) == 1 {
			merged[key] = ir.String(values[0])
			continue
		}
		arr := make(ir.Array, len(values))
		for i, v := range values {
			arr[i] = ir.String(v)
		}
		merged[key] = arr
	}
	return merged, nil
}
