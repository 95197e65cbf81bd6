package ir

import (
	"encoding/json"
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"
)

// Status is the lifecycle state of a tracked request.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

// Settled reports whether the request has left PENDING.
func (s Status) Settled() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Request is the tracked lifecycle and result id-set of one logical
// fetch or mutation, addressed by Key.
//
// Requests are values: every transition stores a new *Request, so callers
// may compare pointers to detect change but must never mutate one.
type Request struct {
	Key      string   `json:"request_key"`
	Status   Status   `json:"status"`
	IDs      []string `json:"ids"`
	IsList   bool     `json:"is_list"`
	Included Included `json:"included_resources"`
}

// Included is the inclusion spec: relation name to nested spec. A relation
// mapped to an empty (or nil) spec is included without sub-relations, the
// equivalent of `true` in the JSON form.
//
//	{"comments": true, "author": {"company": true}}
type Included map[string]Included

// Leaf is the spec for a relation included without sub-relations.
var Leaf = Included(nil)

// Names returns relation names in sorted order.
func (inc Included) Names() []string {
	names := make([]string, 0, len(inc))
	for name := range inc {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Merge folds other into inc (union, recursively) and returns the result.
// A relation that is a leaf on one side and nested on the other keeps the
// nested spec.
func (inc Included) Merge(other Included) Included {
	if inc == nil && len(other) == 0 {
		return inc
	}
	out := make(Included, len(inc)+len(other))
	for k, v := range inc {
		out[k] = v
	}
	for k, v := range other {
		existing, ok := out[k]
		if !ok {
			out[k] = v
			continue
		}
		merged := existing.Merge(v)
		if len(merged) == 0 {
			merged = nil
		}
		out[k] = merged
	}
	return out
}

// Equal reports whether two specs include the same relation tree.
func (inc Included) Equal(other Included) bool {
	if len(inc) != len(other) {
		return false
	}
	for k, v := range inc {
		ov, ok := other[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// MarshalJSON renders leaves as `true` and nested specs as objects.
// An empty top-level spec renders as {}.
func (inc Included) MarshalJSON() ([]byte, error) {
	return json.Marshal(inc.toAny())
}

func (inc Included) toAny() map[string]any {
	out := make(map[string]any, len(inc))
	for k, v := range inc {
		if len(v) == 0 {
			out[k] = true
			continue
		}
		out[k] = v.toAny()
	}
	return out
}

// UnmarshalJSON accepts `true` leaves and nested objects.
func (inc *Included) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := includedFromAny(raw)
	if err != nil {
		return err
	}
	*inc = parsed
	return nil
}

// UnmarshalYAML accepts the same shapes as UnmarshalJSON.
func (inc *Included) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := includedFromAny(raw)
	if err != nil {
		return err
	}
	*inc = parsed
	return nil
}

// IncludedFromAny builds a spec from decoded JSON/YAML data.
func IncludedFromAny(raw any) (Included, error) {
	return includedFromAny(raw)
}

func includedFromAny(raw any) (Included, error) {
	switch val := raw.(type) {
	case nil:
		return Included{}, nil
	case map[string]any:
		out := make(Included, len(val))
		for k, v := range val {
			switch nested := v.(type) {
			case bool:
				if !nested {
					continue
				}
				out[k] = nil
			default:
				sub, err := includedFromAny(nested)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", k, err)
				}
				if len(sub) == 0 {
					sub = nil
				}
				out[k] = sub
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("included resources must be an object of true or nested objects, got %T", raw)
	}
}
