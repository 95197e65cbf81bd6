package ir

import (
	"fmt"
	"strings"
)

// Kind discriminates store transitions. Kinds are strings so journaled
// actions written by other versions still decode; unknown kinds are ignored
// by the store unless they end in "_FAILED".
type Kind string

const (
	KindUpdatePending   Kind = "UPDATE_PENDING"
	KindUpdateSucceeded Kind = "UPDATE_SUCCEEDED"
	KindUpdateFailed    Kind = "UPDATE_FAILED"

	KindDeletePending   Kind = "DELETE_PENDING"
	KindDeleteSucceeded Kind = "DELETE_SUCCEEDED"
	KindDeleteFailed    Kind = "DELETE_FAILED"

	KindInsertRequestResource Kind = "INSERT_REQUEST_RESOURCE"

	// Older kinds still emitted by some callers. They have no dedicated
	// transition and fall through to the failure safety net.
	KindReadFailed   Kind = "READ_FAILED"
	KindCreateFailed Kind = "CREATE_FAILED"
)

// IsFailure reports whether the kind is any "_FAILED" variant.
func (k Kind) IsFailure() bool {
	return strings.HasSuffix(string(k), "_FAILED")
}

// Family selects the transition family used for an HTTP method.
type Family string

const (
	FamilyUpdate Family = "UPDATE"
	FamilyDelete Family = "DELETE"
)

// FamilyForMethod maps GET/POST/PUT/PATCH to UPDATE and DELETE to DELETE.
func FamilyForMethod(method string) (Family, error) {
	switch strings.ToUpper(method) {
	case "GET", "POST", "PUT", "PATCH":
		return FamilyUpdate, nil
	case "DELETE":
		return FamilyDelete, nil
	default:
		return "", fmt.Errorf("unsupported method %q", method)
	}
}

// Pending returns the PENDING kind of the family.
func (f Family) Pending() Kind { return Kind(string(f) + "_PENDING") }

// Succeeded returns the SUCCEEDED kind of the family.
func (f Family) Succeeded() Kind { return Kind(string(f) + "_SUCCEEDED") }

// Failed returns the FAILED kind of the family.
func (f Family) Failed() Kind { return Kind(string(f) + "_FAILED") }

// Action is a store transition command.
//
// Payload carries UPDATE_SUCCEEDED data (an Object or an Array of Objects).
// IDs carries the entity ids of DELETE_* and INSERT_REQUEST_RESOURCE.
type Action struct {
	Kind         Kind     `json:"kind"`
	ResourceType string   `json:"resource_type"`
	RequestKey   string   `json:"request_key"`
	Payload      Value    `json:"-"`
	IDs          []string `json:"ids,omitempty"`
}

// MissingProperties lists required properties the action lacks.
func (a Action) MissingProperties() []string {
	var missing []string
	if a.ResourceType == "" {
		missing = append(missing, "resourceType")
	}
	return missing
}

// String renders the action for logs.
func (a Action) String() string {
	if len(a.IDs) > 0 {
		return fmt.Sprintf("%s %s[%s] ids=%v", a.Kind, a.ResourceType, a.RequestKey, a.IDs)
	}
	return fmt.Sprintf("%s %s[%s]", a.Kind, a.ResourceType, a.RequestKey)
}
