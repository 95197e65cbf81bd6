package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/restcache/internal/denorm"
	"github.com/roach88/restcache/internal/fetch"
	"github.com/roach88/restcache/internal/ir"
	"github.com/roach88/restcache/internal/journal"
	"github.com/roach88/restcache/internal/resolver"
	"github.com/roach88/restcache/internal/resource"
	"github.com/roach88/restcache/internal/schema"
	"github.com/roach88/restcache/internal/testutil"
)

// RunOption configures a scenario run.
type RunOption func(*runConfig)

type runConfig struct {
	journal  *journal.Journal
	sessions journal.SessionGenerator
	logger   *slog.Logger
	policy   fetch.Policy
}

// WithJournal records every transition of the run in j.
func WithJournal(j *journal.Journal) RunOption {
	return func(c *runConfig) {
		c.journal = j
	}
}

// WithSessionGenerator overrides the journal session id source. Defaults
// to the scenario's fixed session.
func WithSessionGenerator(g journal.SessionGenerator) RunOption {
	return func(c *runConfig) {
		c.sessions = g
	}
}

// WithLogger sets the logger handed to the fetch client. Logs are
// discarded by default.
func WithLogger(l *slog.Logger) RunOption {
	return func(c *runConfig) {
		c.logger = l
	}
}

// WithDefaultPolicy sets the policy of queries that do not name one.
func WithDefaultPolicy(p fetch.Policy) RunOption {
	return func(c *runConfig) {
		c.policy = p
	}
}

// Harness is the scenario execution engine: a fresh store, a fetch
// client that invokes inline, and a deferred mock backend.
type Harness struct {
	scenario *Scenario
	store    *resource.Store
	mock     *resolver.Mock
	client   *fetch.Client
	logger   *slog.Logger

	queries   map[string]*fetch.Query
	mutations map[string]*fetch.Mutation
	labels    map[string]string
	lastData  map[string]denorm.Result

	result *Result
}

// Run executes a scenario and returns the result.
//
// Execution flow:
//  1. Build the schema and a fresh store (journaled if requested)
//  2. Script the mock backend from routes
//  3. Dispatch seed actions
//  4. Execute steps, recording expect failures
//  5. Evaluate assertions against the trace and the final state
//
// An error is returned only when the scenario cannot run at all; failed
// expectations and assertions are reported in Result.Errors.
func Run(ctx context.Context, scenario *Scenario, opts ...RunOption) (*Result, error) {
	cfg := runConfig{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.sessions == nil {
		cfg.sessions = testutil.NewFixedSessionGenerator(scenario.Session)
	}

	s, err := loadSchema(scenario)
	if err != nil {
		return nil, err
	}

	h := &Harness{
		scenario:  scenario,
		store:     resource.NewStore(s),
		mock:      resolver.NewMock(resolver.WithDeferred()),
		logger:    cfg.logger,
		queries:   make(map[string]*fetch.Query),
		mutations: make(map[string]*fetch.Mutation),
		labels:    make(map[string]string),
		lastData:  make(map[string]denorm.Result),
		result:    NewResult(),
	}
	unsubscribe := h.store.Subscribe(h.trace)
	defer unsubscribe()

	var rec *journal.Recorder
	if cfg.journal != nil {
		rec, err = journal.NewRecorder(ctx, cfg.journal, h.store,
			journal.WithSessionGenerator(cfg.sessions),
			journal.WithLogger(cfg.logger),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to start journal: %w", err)
		}
		h.result.Session = rec.Session()
	}

	if err := h.addRoutes(scenario.Routes); err != nil {
		return nil, err
	}

	clientOpts := []fetch.Option{
		fetch.WithExecutor(fetch.Inline),
		fetch.WithLogger(cfg.logger),
	}
	if cfg.policy != "" {
		clientOpts = append(clientOpts, fetch.WithDefaultPolicy(cfg.policy))
	}
	h.client = fetch.NewClient(h.store, h.mock, clientOpts...)
	defer h.client.Close()

	for i, a := range scenario.Seed {
		action, err := a.action()
		if err != nil {
			return nil, fmt.Errorf("seed[%d]: %w", i, err)
		}
		if err := h.store.Dispatch(action); err != nil {
			return nil, fmt.Errorf("seed[%d]: %w", i, err)
		}
		h.label(action.RequestKey, action.RequestKey)
	}

	for i, step := range scenario.Steps {
		h.executeStep(ctx, i, step)
	}

	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions, h.store.State()) {
		h.result.AddError(msg)
	}

	h.finish()

	if rec != nil {
		if err := rec.Close(); err != nil {
			return nil, fmt.Errorf("journal: %w", err)
		}
	}
	return h.result, nil
}

func loadSchema(scenario *Scenario) (*schema.Schema, error) {
	if scenario.Schema != "" {
		s, err := schema.LoadFile(scenario.Schema)
		if err != nil {
			return nil, fmt.Errorf("failed to load schema: %w", err)
		}
		return s, nil
	}
	s, err := schema.New(scenario.Resources)
	if err != nil {
		return nil, fmt.Errorf("invalid resources: %w", err)
	}
	return s, nil
}

func (h *Harness) addRoutes(routes []Route) error {
	for i, r := range routes {
		data, err := ir.FromAny(r.Data)
		if err != nil {
			return fmt.Errorf("routes[%d]: %w", i, err)
		}
		h.mock.Add(resolver.Route{Method: r.Method, URL: r.URL, Status: r.Status, Data: data})
	}
	return nil
}

// trace records a committed transition. Labels are applied in finish,
// once every query and mutation key is known.
func (h *Harness) trace(t resource.Transition) {
	line := TraceLine{
		Seq:          t.Seq,
		Kind:         t.Action.Kind,
		ResourceType: t.Action.ResourceType,
		key:          t.Action.RequestKey,
		IDs:          []string{},
	}
	if rs, ok := t.State.Resource(t.Action.ResourceType); ok {
		if req := rs.Request(t.Action.RequestKey); req != nil {
			line.Status = req.Status
			line.IDs = slices.Clone(req.IDs)
		}
	}
	h.result.Trace = append(h.result.Trace, line)
}

func (h *Harness) finish() {
	for i := range h.result.Trace {
		line := &h.result.Trace[i]
		if label, ok := h.labels[line.key]; ok {
			line.Request = label
		} else {
			line.Request = line.key
		}
	}
	for _, r := range h.scenario.Routes {
		call := callKey(r.Method, r.URL)
		method, url, _ := strings.Cut(call, " ")
		h.result.Calls[call] = h.mock.Calls(method, url)
	}
}

func callKey(method, url string) string {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = "GET"
	}
	return method + " " + url
}

func (h *Harness) executeStep(ctx context.Context, i int, step Step) {
	prefix := fmt.Sprintf("steps[%d]", i)

	switch {
	case step.Query != nil:
		h.startQuery(ctx, prefix, step.Query)
	case step.Mutate != nil:
		h.startMutation(ctx, prefix, step.Mutate)
	case step.Refetch != "":
		started := h.queries[step.Refetch] != nil && h.queries[step.Refetch].Refetch(ctx)
		h.logger.Info("refetch", "query", step.Refetch, "started", started)
	case step.Settle:
		h.settle()
	case step.Dispatch != nil:
		action, err := step.Dispatch.action()
		if err == nil {
			err = h.store.Dispatch(action)
		}
		if err != nil {
			h.result.AddError(fmt.Sprintf("%s dispatch: %v", prefix, err))
		}
	case step.Expect != nil:
		h.expect(prefix, step.Expect)
	}
}

func (h *Harness) startQuery(ctx context.Context, prefix string, qs *QueryStep) {
	params, err := paramsValue(qs.Params)
	if err != nil {
		h.result.AddError(fmt.Sprintf("%s query %s: %v", prefix, qs.Name, err))
		return
	}

	var opts []fetch.QueryOption
	if qs.Policy != "" {
		policy, err := fetch.ParsePolicy(qs.Policy)
		if err != nil {
			h.result.AddError(fmt.Sprintf("%s query %s: %v", prefix, qs.Name, err))
			return
		}
		opts = append(opts, fetch.WithPolicy(policy))
	}
	if qs.Included != nil {
		opts = append(opts, fetch.WithIncluded(qs.Included))
	}

	q, err := h.client.Query(ctx, resolver.Descriptor{
		Method:       qs.Method,
		URL:          qs.URL,
		Params:       params,
		RequestKey:   qs.Key,
		ResourceType: qs.Type,
	}, opts...)
	if err != nil {
		h.result.AddError(fmt.Sprintf("%s query %s: %v", prefix, qs.Name, err))
		return
	}
	h.queries[qs.Name] = q
	h.label(q.Key(), qs.Name)
}

func (h *Harness) startMutation(ctx context.Context, prefix string, ms *MutateStep) {
	params, err := paramsValue(ms.Params)
	if err != nil {
		h.result.AddError(fmt.Sprintf("%s mutate %s: %v", prefix, ms.Name, err))
		return
	}
	var body ir.Value
	if ms.Body != nil {
		if body, err = ir.FromAny(ms.Body); err != nil {
			h.result.AddError(fmt.Sprintf("%s mutate %s: %v", prefix, ms.Name, err))
			return
		}
	}

	var opts []fetch.MutateOption
	if ms.InsertInto != "" {
		target, ok := h.queries[ms.InsertInto]
		if !ok {
			h.result.AddError(fmt.Sprintf("%s mutate %s: query %q was not created", prefix, ms.Name, ms.InsertInto))
			return
		}
		opts = append(opts, fetch.InsertInto(target.Key()))
	}

	m, err := h.client.Mutate(ctx, resolver.Descriptor{
		Method:     ms.Method,
		URL:        ms.URL,
		Params:     params,
		Body:       body,
		RequestKey: ms.Key,
	}, opts...)
	if err != nil {
		h.result.AddError(fmt.Sprintf("%s mutate %s: %v", prefix, ms.Name, err))
		return
	}
	h.mutations[ms.Name] = m
	h.label(m.Key(), ms.Name)
}

// label names key in the trace. Equivalent descriptors share a key; the
// first name wins.
func (h *Harness) label(key, name string) {
	if _, ok := h.labels[key]; !ok {
		h.labels[key] = name
	}
}

// settle completes parked calls and applies completions until both are
// exhausted.
func (h *Harness) settle() {
	for {
		flushed := h.mock.Flush()
		applied := h.client.Drain()
		if flushed == 0 && applied == 0 {
			return
		}
	}
}

func (h *Harness) expect(prefix string, e *Expect) {
	switch {
	case e.Query != "":
		h.expectQuery(prefix+" expect "+e.Query, e)
	case e.Mutation != "":
		h.expectMutation(prefix+" expect "+e.Mutation, e)
	}

	calls := make([]string, 0, len(e.Calls))
	for call := range e.Calls {
		calls = append(calls, call)
	}
	sort.Strings(calls)
	for _, call := range calls {
		method, url, _ := strings.Cut(strings.TrimSpace(call), " ")
		if got, want := h.mock.Calls(method, url), e.Calls[call]; got != want {
			h.result.AddError(fmt.Sprintf("%s expect: calls[%s] = %d, want %d", prefix, call, got, want))
		}
	}
}

func (h *Harness) expectQuery(prefix string, e *Expect) {
	q, ok := h.queries[e.Query]
	if !ok {
		h.result.AddError(prefix + ": query was not created")
		return
	}
	r, err := q.Result()
	if err != nil {
		h.result.AddError(fmt.Sprintf("%s: %v", prefix, err))
		return
	}
	last, seen := h.lastData[e.Query]
	h.lastData[e.Query] = r.Data

	checkBool(h.result, prefix, "loading", e.Loading, r.Loading)
	checkBool(h.result, prefix, "pending", e.Pending, r.RequestPending)
	checkBool(h.result, prefix, "has_data", e.HasData, r.Data != nil)
	checkBool(h.result, prefix, "failed", e.Failed, r.Err != nil)
	if e.SameData != nil {
		if !seen {
			h.result.AddError(prefix + ": same_data needs an earlier expect on the same query")
		} else {
			checkBool(h.result, prefix, "same_data", e.SameData, r.Data == last)
		}
	}
	if e.Status != "" {
		if got := statusName(r.Request); got != e.Status {
			h.result.AddError(fmt.Sprintf("%s: status = %s, want %s", prefix, got, e.Status))
		}
	}
	if e.IDs != nil {
		if got := visibleIDs(r.Data); !slices.Equal(got, e.IDs) {
			h.result.AddError(fmt.Sprintf("%s: ids = %v, want %v", prefix, got, e.IDs))
		}
	}
	if e.Data != nil {
		want, err := ir.FromAny(e.Data)
		if err != nil {
			h.result.AddError(fmt.Sprintf("%s: data: %v", prefix, err))
			return
		}
		if got := denorm.Value(r.Data); !ir.Equal(got, want) {
			gotJSON, _ := ir.MarshalCanonical(got)
			wantJSON, _ := ir.MarshalCanonical(want)
			h.result.AddError(fmt.Sprintf("%s: data = %s, want %s", prefix, gotJSON, wantJSON))
		}
	}
}

func (h *Harness) expectMutation(prefix string, e *Expect) {
	m, ok := h.mutations[e.Mutation]
	if !ok {
		h.result.AddError(prefix + ": mutation was not started")
		return
	}

	settled := m.Settled()
	checkBool(h.result, prefix, "pending", e.Pending, !settled)

	var (
		res     fetch.MutationResult
		waitErr error
	)
	if settled {
		res, waitErr = m.Wait(context.Background())
	}
	checkBool(h.result, prefix, "failed", e.Failed, settled && waitErr != nil)

	if e.Status != "" {
		req, err := h.store.Request(m.ResourceType(), m.Key())
		if err != nil {
			h.result.AddError(fmt.Sprintf("%s: %v", prefix, err))
		} else if got := statusName(req); got != e.Status {
			h.result.AddError(fmt.Sprintf("%s: status = %s, want %s", prefix, got, e.Status))
		}
	}
	if e.IDs != nil {
		got := res.IDs
		if got == nil {
			got = []string{}
		}
		if !slices.Equal(got, e.IDs) {
			h.result.AddError(fmt.Sprintf("%s: ids = %v, want %v", prefix, got, e.IDs))
		}
	}
}

func checkBool(r *Result, prefix, field string, want *bool, got bool) {
	if want != nil && *want != got {
		r.AddError(fmt.Sprintf("%s: %s = %t, want %t", prefix, field, got, *want))
	}
}

func statusName(req *ir.Request) string {
	if req == nil {
		return "NONE"
	}
	return string(req.Status)
}

func visibleIDs(data denorm.Result) []string {
	switch d := data.(type) {
	case *denorm.List:
		return d.IDs()
	case *denorm.Node:
		return []string{d.ID()}
	default:
		return []string{}
	}
}

func paramsValue(params map[string]any) (ir.Value, error) {
	if params == nil {
		return nil, nil
	}
	return ir.FromAny(params)
}

func (a ActionStep) action() (ir.Action, error) {
	action := ir.Action{
		Kind:         ir.Kind(a.Kind),
		ResourceType: a.ResourceType,
		RequestKey:   a.RequestKey,
		IDs:          a.IDs,
	}
	if a.Payload != nil {
		payload, err := ir.FromAny(a.Payload)
		if err != nil {
			return ir.Action{}, fmt.Errorf("payload: %w", err)
		}
		action.Payload = payload
	}
	return action, nil
}
