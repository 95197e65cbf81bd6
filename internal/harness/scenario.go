package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/restcache/internal/fetch"
	"github.com/roach88/restcache/internal/ir"
	"github.com/roach88/restcache/internal/schema"
)

// Scenario defines a conformance scenario.
type Scenario struct {
	// Name uniquely identifies this scenario; it names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema is a path to a CUE, YAML or JSON schema file, relative to the
	// scenario file. Exclusive with Resources.
	Schema string `yaml:"schema,omitempty"`

	// Resources is an inline schema definition.
	Resources schema.Definition `yaml:"resources,omitempty"`

	// Routes script the mock backend.
	Routes []Route `yaml:"routes,omitempty"`

	// Seed actions are dispatched before the steps.
	Seed []ActionStep `yaml:"seed,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the trace and the final state.
	Assertions []Assertion `yaml:"assertions,omitempty"`

	// Session is the journal session id used when the run is journaled.
	// Defaults to "test-session-default".
	Session string `yaml:"session,omitempty"`
}

// Route is one scripted backend response.
type Route struct {
	Method string `yaml:"method"`
	URL    string `yaml:"url"`
	Status int    `yaml:"status,omitempty"`
	Data   any    `yaml:"data,omitempty"`
}

// ActionStep is a raw store action.
type ActionStep struct {
	Kind         string   `yaml:"kind"`
	ResourceType string   `yaml:"resource_type"`
	RequestKey   string   `yaml:"request_key"`
	Payload      any      `yaml:"payload,omitempty"`
	IDs          []string `yaml:"ids,omitempty"`
}

// Step is one scenario step. Exactly one field is set.
type Step struct {
	Query    *QueryStep  `yaml:"query,omitempty"`
	Mutate   *MutateStep `yaml:"mutate,omitempty"`
	Refetch  string      `yaml:"refetch,omitempty"`
	Settle   bool        `yaml:"settle,omitempty"`
	Dispatch *ActionStep `yaml:"dispatch,omitempty"`
	Expect   *Expect     `yaml:"expect,omitempty"`
}

// QueryStep creates a named query.
type QueryStep struct {
	Name     string         `yaml:"name"`
	Method   string         `yaml:"method,omitempty"`
	URL      string         `yaml:"url,omitempty"`
	Params   map[string]any `yaml:"params,omitempty"`
	Key      string         `yaml:"key,omitempty"`
	Type     string         `yaml:"resource_type,omitempty"`
	Policy   string         `yaml:"policy,omitempty"`
	Included ir.Included    `yaml:"included,omitempty"`
}

// MutateStep starts a named mutation.
type MutateStep struct {
	Name       string         `yaml:"name"`
	Method     string         `yaml:"method"`
	URL        string         `yaml:"url"`
	Params     map[string]any `yaml:"params,omitempty"`
	Body       any            `yaml:"body,omitempty"`
	Key        string         `yaml:"key,omitempty"`
	InsertInto string         `yaml:"insert_into,omitempty"`
}

// Expect checks a named query or mutation. Unset fields are not checked.
type Expect struct {
	Query    string `yaml:"query,omitempty"`
	Mutation string `yaml:"mutation,omitempty"`

	Loading *bool `yaml:"loading,omitempty"`
	Pending *bool `yaml:"pending,omitempty"`

	// Status is PENDING, SUCCEEDED, FAILED or NONE (request not tracked).
	Status string `yaml:"status,omitempty"`

	// IDs are the query's visible entity ids, or a mutation's result ids.
	IDs []string `yaml:"ids,omitempty"`

	// HasData checks whether the query exposes data at all.
	HasData *bool `yaml:"has_data,omitempty"`

	// Data is compared exactly against the denormalized view.
	Data any `yaml:"data,omitempty"`

	// SameData checks that the data reference is (or is not) the one seen
	// by the previous expect on the same query.
	SameData *bool `yaml:"same_data,omitempty"`

	// Failed checks whether the last network cycle failed.
	Failed *bool `yaml:"failed,omitempty"`

	// Calls maps "METHOD url" to the expected number of backend calls.
	Calls map[string]int `yaml:"calls,omitempty"`
}

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type is one of trace_contains, trace_order, trace_count, final_state.
	Type string `yaml:"type"`

	// Kind is the transition kind (trace_contains, trace_count).
	Kind string `yaml:"kind,omitempty"`

	// Request narrows trace_contains and trace_count to one request label.
	Request string `yaml:"request,omitempty"`

	// Kinds is the expected order (trace_order).
	Kinds []string `yaml:"kinds,omitempty"`

	// Count is the expected number of occurrences (trace_count).
	Count int `yaml:"count,omitempty"`

	// ResourceType and ID select the entity (final_state).
	ResourceType string `yaml:"resource_type,omitempty"`
	ID           string `yaml:"id,omitempty"`

	// Expect holds expected entity fields, subset match (final_state).
	Expect map[string]any `yaml:"expect,omitempty"`

	// Absent asserts the entity is not stored (final_state).
	Absent bool `yaml:"absent,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields (typos), or is missing required fields. A relative
// schema path is resolved against the scenario's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.Schema != "" && !filepath.IsAbs(scenario.Schema) {
		scenario.Schema = filepath.Join(filepath.Dir(path), scenario.Schema)
	}
	if scenario.Schema != "" {
		if _, err := os.Stat(scenario.Schema); os.IsNotExist(err) {
			return nil, fmt.Errorf("invalid scenario: schema file not found: %s", scenario.Schema)
		}
	}

	return scenario, nil
}

// ParseScenario parses scenario YAML. Schema paths are left as written.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	switch {
	case s.Schema == "" && len(s.Resources) == 0:
		return fmt.Errorf("schema or resources is required")
	case s.Schema != "" && len(s.Resources) > 0:
		return fmt.Errorf("schema and resources are mutually exclusive")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, r := range s.Routes {
		if r.URL == "" {
			return fmt.Errorf("routes[%d]: url is required", i)
		}
	}

	for i, a := range s.Seed {
		if err := validateAction(a); err != nil {
			return fmt.Errorf("seed[%d]: %w", i, err)
		}
	}

	names := make(map[string]bool)
	for i, step := range s.Steps {
		if err := validateStep(step, names); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateAction(a ActionStep) error {
	if a.Kind == "" {
		return fmt.Errorf("kind is required")
	}
	if a.ResourceType == "" {
		return fmt.Errorf("resource_type is required")
	}
	return nil
}

// validateStep checks one step. names collects declared query and
// mutation names so later steps can only reference earlier ones.
func validateStep(step Step, names map[string]bool) error {
	set := 0
	if step.Query != nil {
		set++
	}
	if step.Mutate != nil {
		set++
	}
	if step.Refetch != "" {
		set++
	}
	if step.Settle {
		set++
	}
	if step.Dispatch != nil {
		set++
	}
	if step.Expect != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("exactly one of query, mutate, refetch, settle, dispatch, expect is required (got %d)", set)
	}

	switch {
	case step.Query != nil:
		q := step.Query
		if q.Name == "" {
			return fmt.Errorf("query: name is required")
		}
		if names[q.Name] {
			return fmt.Errorf("query: duplicate name %q", q.Name)
		}
		if q.URL == "" && q.Key == "" {
			return fmt.Errorf("query %q: url or key is required", q.Name)
		}
		if q.Policy != "" {
			if _, err := fetch.ParsePolicy(q.Policy); err != nil {
				return fmt.Errorf("query %q: %w", q.Name, err)
			}
		}
		names[q.Name] = true
	case step.Mutate != nil:
		m := step.Mutate
		if m.Name == "" {
			return fmt.Errorf("mutate: name is required")
		}
		if names[m.Name] {
			return fmt.Errorf("mutate: duplicate name %q", m.Name)
		}
		if m.URL == "" && m.Key == "" {
			return fmt.Errorf("mutate %q: url or key is required", m.Name)
		}
		if m.InsertInto != "" && !names[m.InsertInto] {
			return fmt.Errorf("mutate %q: insert_into references unknown query %q", m.Name, m.InsertInto)
		}
		names[m.Name] = true
	case step.Refetch != "":
		if !names[step.Refetch] {
			return fmt.Errorf("refetch: unknown query %q", step.Refetch)
		}
	case step.Dispatch != nil:
		return validateAction(*step.Dispatch)
	case step.Expect != nil:
		e := step.Expect
		if e.Query != "" && e.Mutation != "" {
			return fmt.Errorf("expect: query and mutation are mutually exclusive")
		}
		if e.Query == "" && e.Mutation == "" && len(e.Calls) == 0 {
			return fmt.Errorf("expect: query, mutation or calls is required")
		}
		for _, name := range []string{e.Query, e.Mutation} {
			if name != "" && !names[name] {
				return fmt.Errorf("expect: unknown name %q", name)
			}
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Kinds) == 0 {
			return fmt.Errorf("assertions[%d]: kinds list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.ResourceType == "" || a.ID == "" {
			return fmt.Errorf("assertions[%d]: resource_type and id are required for final_state", index)
		}
		if !a.Absent && len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect or absent is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
