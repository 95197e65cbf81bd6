package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/restcache/internal/ir"
	"github.com/roach88/restcache/internal/resolver"
	"github.com/roach88/restcache/internal/resource"
)

const instrumentationName = "github.com/roach88/restcache/internal/fetch"

// Executor runs an invoke. The default starts a goroutine per invoke.
type Executor func(task func())

// Inline runs the invoke on the calling goroutine. Combined with a
// deferred mock resolver it makes every step of the lifecycle observable
// from a single goroutine.
func Inline(task func()) { task() }

func goroutine(task func()) { go task() }

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithTracerProvider sets the provider for fetch spans. Defaults to the
// global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		c.tracer = tp.Tracer(instrumentationName)
	}
}

// WithExecutor sets how invokes are started.
func WithExecutor(e Executor) Option {
	return func(c *Client) {
		c.exec = e
	}
}

// WithDefaultPolicy sets the policy used by queries that do not pick one.
// Defaults to CacheFirst.
func WithDefaultPolicy(p Policy) Option {
	return func(c *Client) {
		c.policy = p
	}
}

// flight is one in-flight query network operation.
type flight struct {
	key          string
	resourceType string
	family       ir.Family
	resourceID   string
	waiters      []*Query
}

// Client drives queries and mutations against a store.
//
// Thread-safety model:
//   - Query(), Mutate(), Refetch(): safe from any goroutine
//   - Resolver callbacks may fire from any goroutine; they only enqueue
//   - Completions are applied by exactly one writer at a time (Run or
//     Drain), in the order they were enqueued
type Client struct {
	store    *resource.Store
	resolver resolver.Resolver
	logger   *slog.Logger
	tracer   trace.Tracer
	exec     Executor
	policy   Policy
	queue    *completionQueue

	applyMu sync.Mutex

	mu        sync.Mutex
	inflight  map[string]*flight
	lastErr   map[string]error
	watchers  []watcher
	nextWatch int

	unsubscribe func()
}

type watcher struct {
	id int
	fn func()
}

// NewClient creates a client over store that resolves descriptors with r.
func NewClient(store *resource.Store, r resolver.Resolver, opts ...Option) *Client {
	c := &Client{
		store:    store,
		resolver: r,
		logger:   slog.Default(),
		tracer:   otel.Tracer(instrumentationName),
		exec:     goroutine,
		policy:   CacheFirst,
		queue:    newCompletionQueue(),
		inflight: make(map[string]*flight),
		lastErr:  make(map[string]error),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.unsubscribe = store.Subscribe(func(resource.Transition) { c.notify() })
	return c
}

// Store returns the store the client writes to.
func (c *Client) Store() *resource.Store { return c.store }

// Pending reports whether a query network operation for key is in flight.
func (c *Client) Pending(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[key]
	return ok
}

// InFlight returns the keys of in-flight query operations, sorted.
func (c *Client) InFlight() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.inflight))
	for k := range c.inflight {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Queued returns the number of completions waiting to be applied.
func (c *Client) Queued() int { return c.queue.Len() }

// LastError returns the error of the most recent failed completion for
// key, cleared by the next success.
func (c *Client) LastError(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr[key]
}

// Run applies completions until ctx is cancelled or Close is called.
func (c *Client) Run(ctx context.Context) error {
	for {
		c.Drain()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-c.queue.Wait():
			if !ok {
				c.Drain()
				return nil
			}
		}
	}
}

// Drain applies every queued completion, including ones enqueued while
// draining, and returns how many were applied.
func (c *Client) Drain() int {
	c.applyMu.Lock()
	defer c.applyMu.Unlock()

	n := 0
	for {
		cmp, ok := c.queue.TryDequeue()
		if !ok {
			return n
		}
		c.apply(cmp)
		n++
	}
}

// Close stops accepting completions and detaches from the store.
// Completions already queued are still applied by Run or Drain.
func (c *Client) Close() {
	c.queue.Close()
	c.unsubscribe()
}

// watch registers fn for store transitions and in-flight changes.
func (c *Client) watch(fn func()) (unwatch func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextWatch++
	id := c.nextWatch
	c.watchers = append(c.watchers, watcher{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.watchers = slices.DeleteFunc(c.watchers, func(w watcher) bool { return w.id == id })
		})
	}
}

func (c *Client) notify() {
	c.mu.Lock()
	watchers := slices.Clone(c.watchers)
	c.mu.Unlock()

	for _, w := range watchers {
		w.fn()
	}
}

// trigger starts a query network operation for q unless one is already in
// flight for its key, in which case q joins it. Reports whether a new
// operation was started.
func (c *Client) trigger(ctx context.Context, q *Query) bool {
	c.mu.Lock()
	if fl, ok := c.inflight[q.key]; ok {
		if !slices.Contains(fl.waiters, q) {
			fl.waiters = append(fl.waiters, q)
		}
		c.mu.Unlock()
		c.logger.Debug("joined in-flight request",
			"request_key", q.key,
			"resource_type", q.resolved.ResourceType,
		)
		return false
	}
	fl := &flight{
		key:          q.key,
		resourceType: q.resolved.ResourceType,
		family:       q.family,
		resourceID:   q.resolved.ResourceID,
		waiters:      []*Query{q},
	}
	c.inflight[q.key] = fl
	c.mu.Unlock()

	// A tracked request keeps its status and ids while revalidating.
	req, err := c.store.Request(fl.resourceType, fl.key)
	if err == nil && req == nil {
		c.dispatch(pendingAction(fl.family, fl.resourceType, fl.key, fl.resourceID))
	}
	c.notify()

	ctx, span := c.tracer.Start(ctx, "restcache.query "+q.resolved.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("restcache.request_key", fl.key),
			attribute.String("restcache.resource_type", fl.resourceType),
			attribute.String("restcache.fetch_policy", string(q.policy)),
			attribute.String("http.request.method", q.resolved.Method),
			attribute.String("url.path", q.resolved.URL),
		),
	)

	c.logger.Debug("request started",
		"request_key", fl.key,
		"resource_type", fl.resourceType,
		"method", q.resolved.Method,
		"policy", q.policy,
	)

	c.invoke(ctx, q.resolved.Invoke, completion{flight: fl, span: span})
	return true
}

// invoke runs fn through the executor, turning its callbacks into one
// enqueued completion.
func (c *Client) invoke(ctx context.Context, fn resolver.Invoke, base completion) {
	var once sync.Once
	settle := func(cmp completion) {
		fired := false
		once.Do(func() {
			fired = true
			if !c.queue.Enqueue(cmp) {
				c.logger.Warn("completion dropped after close", "request_key", keyOf(cmp))
				cmp.span.End()
				if m := cmp.mutation; m != nil {
					m.err = ErrClosed
					close(m.done)
				}
			}
		})
		if !fired {
			c.logger.Warn("resolver settled a request more than once", "request_key", keyOf(cmp))
		}
	}

	onSucceeded := func(s resolver.Success) {
		cmp := base
		cmp.success = &s
		settle(cmp)
	}
	onFailed := func(f resolver.Failure) {
		cmp := base
		cmp.failure = &f
		settle(cmp)
	}

	c.exec(func() { fn(ctx, onSucceeded, onFailed) })
}

func keyOf(cmp completion) string {
	if cmp.flight != nil {
		return cmp.flight.key
	}
	if cmp.mutation != nil {
		return cmp.mutation.key
	}
	return ""
}

// apply commits one completion. Called only by the single writer.
func (c *Client) apply(cmp completion) {
	defer cmp.span.End()

	switch {
	case cmp.flight != nil:
		c.applyQuery(cmp)
	case cmp.mutation != nil:
		c.applyMutation(cmp)
	}
}

func (c *Client) applyQuery(cmp completion) {
	fl := cmp.flight

	// Cleared before dispatching so listeners observe the settled state.
	c.mu.Lock()
	delete(c.inflight, fl.key)
	c.mu.Unlock()
	for _, q := range fl.waiters {
		q.markSettled()
	}

	if cmp.success != nil {
		err := c.store.Dispatch(succeededAction(fl.family, fl.resourceType, fl.key, fl.resourceID, cmp.success.Data))
		if err == nil {
			c.recordOutcome(fl.key, nil, cmp.span)
			c.logger.Debug("request succeeded", "request_key", fl.key, "resource_type", fl.resourceType)
			return
		}
		c.logger.Error("response rejected",
			"request_key", fl.key,
			"resource_type", fl.resourceType,
			"error", err,
		)
		c.dispatch(failedAction(fl.family, fl.resourceType, fl.key, fl.resourceID))
		c.recordOutcome(fl.key, err, cmp.span)
		return
	}

	err := failureErr(cmp.failure)
	c.logger.Warn("request failed",
		"request_key", fl.key,
		"resource_type", fl.resourceType,
		"error", err,
	)
	c.dispatch(failedAction(fl.family, fl.resourceType, fl.key, fl.resourceID))
	c.recordOutcome(fl.key, err, cmp.span)
}

func (c *Client) recordOutcome(key string, err error, span trace.Span) {
	c.mu.Lock()
	if err != nil {
		c.lastErr[key] = err
	} else {
		delete(c.lastErr, key)
	}
	c.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// dispatch commits a and logs instead of returning: by the time a
// completion lands there is no caller left to hand the error to.
func (c *Client) dispatch(a ir.Action) error {
	err := c.store.Dispatch(a)
	if err != nil {
		c.logger.Error("dispatch failed", "action", a.String(), "error", err)
	}
	return err
}

func failureErr(f *resolver.Failure) error {
	if f == nil || f.Err == nil {
		return ErrRequestFailed
	}
	return f.Err
}

func pendingAction(family ir.Family, resourceType, key, resourceID string) ir.Action {
	return ir.Action{Kind: family.Pending(), ResourceType: resourceType, RequestKey: key, IDs: deleteIDs(family, resourceID)}
}

func succeededAction(family ir.Family, resourceType, key, resourceID string, data ir.Value) ir.Action {
	if family == ir.FamilyDelete {
		return ir.Action{Kind: ir.KindDeleteSucceeded, ResourceType: resourceType, RequestKey: key, IDs: deleteIDs(family, resourceID)}
	}
	return ir.Action{Kind: ir.KindUpdateSucceeded, ResourceType: resourceType, RequestKey: key, Payload: data}
}

func failedAction(family ir.Family, resourceType, key, resourceID string) ir.Action {
	return ir.Action{Kind: family.Failed(), ResourceType: resourceType, RequestKey: key, IDs: deleteIDs(family, resourceID)}
}

func deleteIDs(family ir.Family, resourceID string) []string {
	if family != ir.FamilyDelete || resourceID == "" {
		return nil
	}
	return []string{resourceID}
}

// resolve runs the resolver and validates the result against the schema.
func (c *Client) resolve(d resolver.Descriptor) (resolver.Resolved, string, ir.Family, error) {
	r, err := c.resolver.Resolve(d)
	if err != nil {
		return resolver.Resolved{}, "", "", err
	}
	key, err := r.Key()
	if err != nil {
		return resolver.Resolved{}, "", "", err
	}
	if !c.store.Schema().Has(r.ResourceType) {
		return resolver.Resolved{}, "", "", fmt.Errorf("%w: %q", resource.ErrUnknownResourceType, r.ResourceType)
	}
	family, err := ir.FamilyForMethod(r.Method)
	if err != nil {
		return resolver.Resolved{}, "", "", err
	}
	if r.Invoke == nil {
		return resolver.Resolved{}, "", "", fmt.Errorf("resolver returned no invoke for %s %s", r.Method, r.URL)
	}
	return r, key, family, nil
}
