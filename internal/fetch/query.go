package fetch

import (
	"context"
	"sync"

	"github.com/roach88/restcache/internal/denorm"
	"github.com/roach88/restcache/internal/ir"
	"github.com/roach88/restcache/internal/resolver"
	"github.com/roach88/restcache/internal/resource"
)

// QueryOption configures a Query.
type QueryOption func(*Query)

// WithPolicy overrides the client's default policy.
func WithPolicy(p Policy) QueryOption {
	return func(q *Query) {
		q.policy = p
	}
}

// WithIncluded overrides the inclusion spec inferred from the response.
func WithIncluded(inc ir.Included) QueryOption {
	return func(q *Query) {
		if inc == nil {
			inc = ir.Included{}
		}
		q.included = inc
	}
}

// WithCache makes the query a read site of c's arena, so queries reading
// the same entities with the same inclusion spec return the same nodes.
func WithCache(c *denorm.Cache) QueryOption {
	return func(q *Query) {
		q.cache = c.Share()
	}
}

// Result is what a query exposes to its consumer.
//
// Data is nil until the policy allows a read and the request has settled.
// Successive results over unchanged entities carry the same Data pointer.
type Result struct {
	Data           denorm.Result
	Loading        bool
	RequestPending bool
	Request        *ir.Request
	Err            error
}

// Query is a live read of one request key.
type Query struct {
	client   *Client
	resolved resolver.Resolved
	key      string
	family   ir.Family
	policy   Policy
	included ir.Included
	cache    *denorm.Cache

	mu      sync.Mutex
	settled bool
}

// Query resolves d and applies the fetch policy: the network is triggered
// when the policy forces it, or when it allows it and the request is not
// tracked yet.
func (c *Client) Query(ctx context.Context, d resolver.Descriptor, opts ...QueryOption) (*Query, error) {
	r, key, family, err := c.resolve(d)
	if err != nil {
		return nil, err
	}

	q := &Query{
		client:   c,
		resolved: r,
		key:      key,
		family:   family,
		policy:   c.policy,
	}
	for _, opt := range opts {
		opt(q)
	}
	if _, err := ParsePolicy(string(q.policy)); err != nil {
		return nil, err
	}
	if q.cache == nil {
		q.cache = denorm.NewCache()
	}
	if q.included != nil {
		if _, err := denorm.Resolve(q.cache, c.store.Schema(), c.store.State(), r.ResourceType, denorm.None, q.included); err != nil {
			return nil, err
		}
	}

	req, err := c.store.Request(r.ResourceType, key)
	if err != nil {
		return nil, err
	}
	if q.policy.AllowNetwork() && (q.policy.ForceNetwork() || req == nil) {
		c.trigger(ctx, q)
	}
	return q, nil
}

// Key returns the request key.
func (q *Query) Key() string { return q.key }

// ResourceType returns the resolved resource type.
func (q *Query) ResourceType() string { return q.resolved.ResourceType }

// Policy returns the policy in effect.
func (q *Query) Policy() Policy { return q.policy }

// Close releases the query's memoized results. A closed query can still
// be read; it rebuilds what it needs.
func (q *Query) Close() {
	q.cache.Release()
}

// Refetch forces a network cycle regardless of policy. It is a no-op
// returning false while an operation for the key is already in flight.
func (q *Query) Refetch(ctx context.Context) bool {
	return q.client.trigger(ctx, q)
}

func (q *Query) markSettled() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.settled = true
}

// Result reads the current state of the query.
func (q *Query) Result() (Result, error) {
	c := q.client
	st := c.store.State()

	req, err := resource.GetRequest(st, q.resolved.ResourceType, q.key)
	if err != nil {
		return Result{}, err
	}
	pending := c.Pending(q.key)

	q.mu.Lock()
	settled := q.settled
	q.mu.Unlock()

	canRead := req != nil && req.Status != ir.StatusPending && (q.policy.AllowCache() || settled)

	res := Result{
		Loading:        pending && !canRead,
		RequestPending: pending,
		Request:        req,
		Err:            c.LastError(q.key),
	}
	if !canRead {
		return res, nil
	}

	data, err := denorm.GetRequestResources(q.cache, c.store.Schema(), st, q.resolved.ResourceType, q.key, q.included)
	if err != nil {
		return Result{}, err
	}
	res.Data = data
	return res, nil
}

// Subscribe calls fn whenever the data reference, the loading flag, the
// pending flag or the request status changes. It returns a function that
// removes the subscription.
func (q *Query) Subscribe(fn func(Result)) (unsubscribe func()) {
	var (
		mu   sync.Mutex
		last Result
	)
	last, _ = q.Result()

	return q.client.watch(func() {
		r, err := q.Result()
		if err != nil {
			q.client.logger.Error("query read failed", "request_key", q.key, "error", err)
			return
		}

		mu.Lock()
		changed := r.Data != last.Data ||
			r.Loading != last.Loading ||
			r.RequestPending != last.RequestPending ||
			statusOf(r.Request) != statusOf(last.Request)
		last = r
		mu.Unlock()

		if changed {
			fn(r)
		}
	})
}

func statusOf(req *ir.Request) ir.Status {
	if req == nil {
		return ""
	}
	return req.Status
}
