package resource

import (
	"fmt"

	"github.com/roach88/restcache/internal/ir"
)

// GetRequest returns the tracked request of resourceType under requestKey.
// A key that was never dispatched yields (nil, nil); an undeclared type is
// an error.
func GetRequest(st *State, resourceType, requestKey string) (*ir.Request, error) {
	rs, ok := st.Resource(resourceType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownResourceType, resourceType)
	}
	return rs.Request(requestKey), nil
}

// GetEntity returns the stored entity of resourceType with id, or nil.
func GetEntity(st *State, resourceType, id string) (*Entity, error) {
	rs, ok := st.Resource(resourceType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownResourceType, resourceType)
	}
	e, _ := rs.Table().Get(id)
	return e, nil
}

// Request is GetRequest against the current state.
func (s *Store) Request(resourceType, requestKey string) (*ir.Request, error) {
	return GetRequest(s.State(), resourceType, requestKey)
}
