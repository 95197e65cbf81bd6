package fetch

import (
	"context"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/restcache/internal/ir"
	"github.com/roach88/restcache/internal/resolver"
)

// MutateOption configures a Mutation.
type MutateOption func(*Mutation)

// InsertInto appends the ids of a successful create or update to the
// tracked request under requestKey, typically a list query of the same
// type. A target that is not tracked is left alone.
func InsertInto(requestKey string) MutateOption {
	return func(m *Mutation) {
		m.insertInto = requestKey
	}
}

// MutationResult is what a settled mutation resolves with.
type MutationResult struct {
	Data ir.Value
	Raw  any
	IDs  []string
}

// Mutation is an imperatively triggered write.
type Mutation struct {
	key          string
	resourceType string
	resourceID   string
	family       ir.Family
	insertInto   string

	done   chan struct{}
	result MutationResult
	err    error
}

// Mutate resolves d, dispatches the family's PENDING transition and starts
// the network operation. Mutations are never deduplicated.
func (c *Client) Mutate(ctx context.Context, d resolver.Descriptor, opts ...MutateOption) (*Mutation, error) {
	r, key, family, err := c.resolve(d)
	if err != nil {
		return nil, err
	}

	m := &Mutation{
		key:          key,
		resourceType: r.ResourceType,
		resourceID:   r.ResourceID,
		family:       family,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := c.dispatch(pendingAction(family, m.resourceType, key, m.resourceID)); err != nil {
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "restcache.mutate "+r.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("restcache.request_key", key),
			attribute.String("restcache.resource_type", m.resourceType),
			attribute.String("http.request.method", r.Method),
			attribute.String("url.path", r.URL),
		),
	)

	c.logger.Debug("mutation started",
		"request_key", key,
		"resource_type", m.resourceType,
		"method", r.Method,
	)

	c.invoke(ctx, r.Invoke, completion{mutation: m, span: span})
	return m, nil
}

// Key returns the request key.
func (m *Mutation) Key() string { return m.key }

// ResourceType returns the resolved resource type.
func (m *Mutation) ResourceType() string { return m.resourceType }

// Settled reports whether the mutation's completion has been applied.
func (m *Mutation) Settled() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// Done is closed once the mutation's completion has been applied, or
// dropped because the client was closed.
func (m *Mutation) Done() <-chan struct{} { return m.done }

// Wait blocks until the mutation settles or ctx is done. A mutation whose
// completion arrives after the client is closed settles with ErrClosed;
// its store request is left as it was.
func (m *Mutation) Wait(ctx context.Context) (MutationResult, error) {
	select {
	case <-m.done:
		return m.result, m.err
	case <-ctx.Done():
		return MutationResult{}, ctx.Err()
	}
}

func (c *Client) applyMutation(cmp completion) {
	m := cmp.mutation
	defer close(m.done)

	if cmp.failure != nil {
		m.err = failureErr(cmp.failure)
		m.result.Raw = cmp.failure.Raw
		c.logger.Warn("mutation failed",
			"request_key", m.key,
			"resource_type", m.resourceType,
			"error", m.err,
		)
		c.dispatch(failedAction(m.family, m.resourceType, m.key, m.resourceID))
		c.recordOutcome(m.key, m.err, cmp.span)
		return
	}

	if err := c.store.Dispatch(succeededAction(m.family, m.resourceType, m.key, m.resourceID, cmp.success.Data)); err != nil {
		m.err = err
		c.logger.Error("response rejected",
			"request_key", m.key,
			"resource_type", m.resourceType,
			"error", err,
		)
		c.dispatch(failedAction(m.family, m.resourceType, m.key, m.resourceID))
		c.recordOutcome(m.key, err, cmp.span)
		return
	}

	m.result = MutationResult{Data: cmp.success.Data, Raw: cmp.success.Raw}
	if req, err := c.store.Request(m.resourceType, m.key); err == nil && req != nil {
		m.result.IDs = slices.Clone(req.IDs)
	}
	if m.insertInto != "" && m.family == ir.FamilyUpdate {
		c.insert(m)
	}
	c.recordOutcome(m.key, nil, cmp.span)
	c.logger.Debug("mutation succeeded", "request_key", m.key, "resource_type", m.resourceType)
}

func (c *Client) insert(m *Mutation) {
	target, err := c.store.Request(m.resourceType, m.insertInto)
	if err != nil || target == nil {
		c.logger.Debug("insert target not tracked",
			"request_key", m.insertInto,
			"resource_type", m.resourceType,
		)
		return
	}
	if len(m.result.IDs) == 0 {
		return
	}
	c.dispatch(ir.Action{
		Kind:         ir.KindInsertRequestResource,
		ResourceType: m.resourceType,
		RequestKey:   m.insertInto,
		IDs:          m.result.IDs,
	})
}
