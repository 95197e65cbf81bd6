package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/roach88/restcache/internal/ir"
)

// ErrNoRoute is reported (as a 404 failure) for requests no route matches.
var ErrNoRoute = errors.New("mock: no route")

// Route is one scripted response of the Mock resolver.
// A Status outside 2xx reports a failure with an *HTTPError.
type Route struct {
	Method string   `yaml:"method" json:"method"`
	URL    string   `yaml:"url" json:"url"`
	Status int      `yaml:"status,omitempty" json:"status,omitempty"`
	Data   ir.Value `yaml:"-" json:"-"`
}

type routeKey struct {
	method string
	url    string
}

type pendingCall struct {
	route       routeKey
	onSucceeded func(Success)
	onFailed    func(Failure)
}

// Mock resolves descriptors against scripted in-memory routes and counts
// invocations per route. In deferred mode invocations are parked until
// Flush, which lets tests observe in-flight states.
type Mock struct {
	mu       sync.Mutex
	routes   map[routeKey]Route
	calls    map[routeKey]int
	deferred bool
	pending  []pendingCall
}

// MockOption configures the mock instance.
type MockOption func(*Mock)

// WithDeferred parks invocations until Flush.
func WithDeferred() MockOption {
	return func(m *Mock) {
		m.deferred = true
	}
}

// NewMock creates a mock with no routes.
func NewMock(opts ...MockOption) *Mock {
	m := &Mock{
		routes: make(map[routeKey]Route),
		calls:  make(map[routeKey]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handle scripts a successful response.
func (m *Mock) Handle(method, url string, data ir.Value) {
	m.Add(Route{Method: method, URL: url, Status: http.StatusOK, Data: data})
}

// Fail scripts a failing response.
func (m *Mock) Fail(method, url string, status int) {
	m.Add(Route{Method: method, URL: url, Status: status})
}

// Add scripts a route, replacing any previous one for the same method and URL.
func (m *Mock) Add(r Route) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[keyFor(r.Method, r.URL)] = r
}

// SetDeferred switches deferred mode on or off. Switching it off does not
// flush parked invocations.
func (m *Mock) SetDeferred(deferred bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deferred = deferred
}

// Resolve implements Resolver. Routes are matched on the method and the
// URL exactly as the descriptor carries it.
func (m *Mock) Resolve(d Descriptor) (Resolved, error) {
	r, err := Canonicalize(d)
	if err != nil {
		return Resolved{}, err
	}
	key := keyFor(r.Method, d.URL)
	r.Invoke = func(ctx context.Context, onSucceeded func(Success), onFailed func(Failure)) {
		m.mu.Lock()
		m.calls[key]++
		if m.deferred {
			m.pending = append(m.pending, pendingCall{route: key, onSucceeded: onSucceeded, onFailed: onFailed})
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()
		m.settle(pendingCall{route: key, onSucceeded: onSucceeded, onFailed: onFailed})
	}
	return r, nil
}

func (m *Mock) settle(call pendingCall) {
	m.mu.Lock()
	route, ok := m.routes[call.route]
	m.mu.Unlock()

	if !ok {
		call.onFailed(Failure{
			Raw: &Response{StatusCode: http.StatusNotFound},
			Err: fmt.Errorf("%w for %s %s", ErrNoRoute, call.route.method, call.route.url),
		})
		return
	}

	status := route.Status
	if status == 0 {
		status = http.StatusOK
	}
	raw := &Response{StatusCode: status}
	if status < 200 || status > 299 {
		call.onFailed(Failure{Raw: raw, Err: &HTTPError{StatusCode: status}})
		return
	}
	data := route.Data
	if data == nil {
		data = ir.Null{}
	}
	call.onSucceeded(Success{Data: data, Raw: raw})
}

// Flush settles every parked invocation in FIFO order and returns how many
// were settled. Invocations parked while flushing are settled too.
func (m *Mock) Flush() int {
	n := 0
	for {
		m.mu.Lock()
		if len(m.pending) == 0 {
			m.mu.Unlock()
			return n
		}
		call := m.pending[0]
		m.pending[0] = pendingCall{}
		m.pending = m.pending[1:]
		m.mu.Unlock()

		m.settle(call)
		n++
	}
}

// Pending returns the number of parked invocations.
func (m *Mock) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Calls returns how many times the route was invoked.
func (m *Mock) Calls(method, url string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[keyFor(method, url)]
}

// TotalCalls returns the number of invocations across every route.
func (m *Mock) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.calls {
		total += n
	}
	return total
}

func keyFor(method, url string) routeKey {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = "GET"
	}
	return routeKey{method: method, url: url}
}
