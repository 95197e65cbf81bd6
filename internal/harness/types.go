package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/restcache/internal/ir"
)

// TraceLine is one committed transition as seen by the scenario.
//
// Request is the scenario name of the request key (query or mutation
// name), or the raw key when the scenario never named it. Status and IDs
// describe the targeted request after the transition.
type TraceLine struct {
	Seq          int64     `json:"seq"`
	Kind         ir.Kind   `json:"kind"`
	ResourceType string    `json:"resource_type"`
	Request      string    `json:"request"`
	Status       ir.Status `json:"status,omitempty"`
	IDs          []string  `json:"ids"`

	key string
}

// String renders the line for golden files:
//
//	3 UPDATE_SUCCEEDED articles[list] SUCCEEDED [a1,a2]
func (l TraceLine) String() string {
	status := string(l.Status)
	if status == "" {
		status = "-"
	}
	return fmt.Sprintf("%d %s %s[%s] %s [%s]", l.Seq, l.Kind, l.ResourceType, l.Request, status, strings.Join(l.IDs, ","))
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect step and assertion held.
	Pass bool `json:"pass"`

	// Trace contains every committed transition in seq order.
	Trace []TraceLine `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Calls counts backend calls per "METHOD url".
	Calls map[string]int `json:"calls,omitempty"`

	// Session is the journal session id, when the run was journaled.
	Session string `json:"session,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceLine{},
		Errors: []string{},
		Calls:  make(map[string]int),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// TraceText renders the trace one line per transition, newline
// terminated.
func (r *Result) TraceText() string {
	var b strings.Builder
	for _, l := range r.Trace {
		b.WriteString(l.String())
		b.WriteByte('\n')
	}
	return b.String()
}
