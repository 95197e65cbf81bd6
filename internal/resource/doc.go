// Package resource implements the normalized resource store.
//
// State holds, per resource type, a Table of entities ({id -> entity}) and a
// map of tracked Requests keyed by request key. State is immutable: every
// transition produces a new *State that shares every untouched table,
// request map and entity with its predecessor, so consumers may compare
// pointers to detect change.
//
// Transitions are ir.Action commands. A Reducer applies one action to the
// slice of state owned by one resource type; Store applies an action
// through every reducer at once, commits the result and notifies
// subscribers synchronously in subscription order.
//
// UPDATE_SUCCEEDED payloads are normalized before they reach a reducer:
// embedded relation objects are extracted into their own type's table
// (recursively) and the shape of the embedded data is recorded on the
// Request as its inferred inclusion spec.
package resource
