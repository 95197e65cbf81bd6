package resource

import "errors"

var (
	// ErrUnknownResourceType is returned for a resource type the schema
	// does not declare.
	ErrUnknownResourceType = errors.New("unknown resource type")

	// ErrMissingActionProperty is returned for an action lacking a
	// required property.
	ErrMissingActionProperty = errors.New("missing action properties")

	// ErrMissingEntityID is returned when a payload entity has no usable id.
	ErrMissingEntityID = errors.New("entity has no id")

	// ErrInvalidPayload is returned for a payload that is not an object,
	// a list of objects or null.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrUnknownRequest is returned when an action must amend a request
	// that was never tracked.
	ErrUnknownRequest = errors.New("unknown request")
)
