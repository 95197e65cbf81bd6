package harness

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/restcache/internal/ir"
	"github.com/roach88/restcache/internal/resource"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string      // Assertion type for categorization
	Expected string      // Human-readable expected outcome
	Actual   string      // Human-readable actual outcome
	Trace    []TraceLine // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, line := range e.Trace {
			fmt.Fprintf(&buf, "  %s\n", line)
		}
	}

	return buf.String()
}

// matches reports whether line is a transition of kind, optionally
// narrowed to one request label.
func matches(line TraceLine, kind, request string) bool {
	if string(line.Kind) != kind {
		return false
	}
	return request == "" || line.Request == request
}

func describe(kind, request string) string {
	if request == "" {
		return kind
	}
	return fmt.Sprintf("%s on %s", kind, request)
}

// assertTraceContains checks that some transition matches kind (and
// request, when given).
func assertTraceContains(trace []TraceLine, assertion Assertion) error {
	for _, line := range trace {
		if matches(line, assertion.Kind, assertion.Request) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: describe(assertion.Kind, assertion.Request),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the first occurrence of each kind appears
// in the given order. Kinds don't need to be consecutive.
func assertTraceOrder(trace []TraceLine, assertion Assertion) error {
	positions := make(map[string]int)
	for i, line := range trace {
		kind := string(line.Kind)
		if positions[kind] == 0 {
			positions[kind] = i + 1 // 1-indexed for readability
		}
	}

	for _, kind := range assertion.Kinds {
		if positions[kind] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all kinds present: %v", assertion.Kinds),
				Actual:   fmt.Sprintf("missing kind: %s", kind),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Kinds); i++ {
		prev, curr := assertion.Kinds[i-1], assertion.Kinds[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("kinds in order: %v", assertion.Kinds),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}

	return nil
}

// assertTraceCount checks the exact number of matching transitions.
func assertTraceCount(trace []TraceLine, assertion Assertion) error {
	count := 0
	for _, line := range trace {
		if matches(line, assertion.Kind, assertion.Request) {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, describe(assertion.Kind, assertion.Request)),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}

	return nil
}

// assertFinalState checks one stored entity. Expected fields use subset
// semantics: fields not named in Expect are ignored.
func assertFinalState(st *resource.State, assertion Assertion) error {
	e, err := resource.GetEntity(st, assertion.ResourceType, assertion.ID)
	if err != nil {
		return err
	}
	where := fmt.Sprintf("%s[%s]", assertion.ResourceType, assertion.ID)

	if assertion.Absent {
		if e != nil {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: where + " absent",
				Actual:   "entity is stored",
			}
		}
		return nil
	}
	if e == nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: where + " stored",
			Actual:   "entity not found",
		}
	}

	fields := make([]string, 0, len(assertion.Expect))
	for field := range assertion.Expect {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		want, err := ir.FromAny(assertion.Expect[field])
		if err != nil {
			return fmt.Errorf("final_state %s.%s: %w", where, field, err)
		}
		got, ok := e.Get(field)
		if !ok {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist on %s", field, where),
				Actual:   fmt.Sprintf("fields present: %v", e.Fields().SortedKeys()),
			}
		}
		if !ir.Equal(got, want) {
			gotJSON, _ := ir.MarshalCanonical(got)
			wantJSON, _ := ir.MarshalCanonical(want)
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s.%s = %s", where, field, wantJSON),
				Actual:   fmt.Sprintf("%s.%s = %s", where, field, gotJSON),
			}
		}
	}

	return nil
}

// EvaluateAssertions evaluates all assertions against the result trace
// and the final store state. Returns a message per failed assertion.
func EvaluateAssertions(result *Result, assertions []Assertion, st *resource.State) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState:
			if st == nil {
				err = fmt.Errorf("final_state requires a store state")
			} else {
				err = assertFinalState(st, assertion)
			}
		default:
			err = fmt.Errorf("unknown assertion type %q", assertion.Type)
		}

		if err != nil {
			errors = append(errors, fmt.Sprintf("assertions[%d]: %s", i, err.Error()))
		}
	}

	return errors
}
