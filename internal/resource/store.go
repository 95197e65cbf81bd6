package resource

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/roach88/restcache/internal/ir"
	"github.com/roach88/restcache/internal/schema"
)

// Transition is a committed action and the state it produced.
type Transition struct {
	Seq    int64
	Action ir.Action
	State  *State
}

// Listener observes committed transitions.
type Listener func(Transition)

// Store owns the current State and serializes transitions.
//
// Thread-safety model:
//   - Dispatch(), State(), Subscribe(): safe from any goroutine
//   - Listeners run on the goroutine that committed the transition, in
//     subscription order, after the commit and outside the store lock
//   - A Dispatch from inside a listener commits immediately but its
//     notification is delivered after the current round completes, so
//     every listener sees transitions in seq order
type Store struct {
	schema   *schema.Schema
	reducers []*Reducer
	clock    *Clock

	mu        sync.Mutex
	state     *State
	listeners []subscription
	nextSubID int
	outbox    []Transition
	notifying bool
}

type subscription struct {
	id int
	fn Listener
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock sets the clock used to stamp transitions.
func WithClock(c *Clock) StoreOption {
	return func(s *Store) {
		s.clock = c
	}
}

// NewStore creates a store with one reducer per schema type and an empty
// state.
func NewStore(s *schema.Schema, opts ...StoreOption) *Store {
	st := &Store{
		schema: s,
		clock:  NewClock(),
		state:  NewState(s),
	}
	for _, t := range s.Types() {
		st.reducers = append(st.reducers, &Reducer{schema: s, resourceType: t})
	}
	for _, opt := range opts {
		opt(st)
	}
	return st
}

// Schema returns the registry the store was built with.
func (s *Store) Schema() *schema.Schema { return s.schema }

// State returns the current committed state.
func (s *Store) State() *State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Seq returns the seq of the last committed transition.
func (s *Store) Seq() int64 { return s.clock.Current() }

// Dispatch applies a through every reducer and commits the result
// atomically. A failing reducer leaves the state untouched.
func (s *Store) Dispatch(a ir.Action) error {
	if err := checkAction(a); err != nil {
		return err
	}
	if !s.schema.Has(a.ResourceType) {
		return fmt.Errorf("%w: %q", ErrUnknownResourceType, a.ResourceType)
	}

	var n *Normalized
	if a.Kind == ir.KindUpdateSucceeded {
		var err error
		n, err = Normalize(s.schema, a.ResourceType, a.Payload)
		if err != nil {
			return fmt.Errorf("normalize %s: %w", a, err)
		}
	}

	s.mu.Lock()
	next, err := s.reduce(s.state, a, n)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = next
	seq := s.clock.Next()
	s.outbox = append(s.outbox, Transition{Seq: seq, Action: a, State: next})

	slog.Debug("transition committed",
		"kind", a.Kind,
		"resource_type", a.ResourceType,
		"request_key", a.RequestKey,
		"seq", seq,
	)

	if s.notifying {
		s.mu.Unlock()
		return nil
	}
	s.notifying = true
	for len(s.outbox) > 0 {
		t := s.outbox[0]
		s.outbox[0] = Transition{}
		s.outbox = s.outbox[1:]
		listeners := slices.Clone(s.listeners)

		s.mu.Unlock()
		for _, l := range listeners {
			l.fn(t)
		}
		s.mu.Lock()
	}
	s.outbox = nil
	s.notifying = false
	s.mu.Unlock()
	return nil
}

func (s *Store) reduce(st *State, a ir.Action, n *Normalized) (*State, error) {
	var changed map[string]*ResourceState
	for _, r := range s.reducers {
		rs := st.byType[r.resourceType]
		next, err := r.apply(rs, a, n)
		if err != nil {
			return nil, err
		}
		if next != rs {
			if changed == nil {
				changed = make(map[string]*ResourceState)
			}
			changed[r.resourceType] = next
		}
	}
	if changed == nil {
		return st, nil
	}
	byType := maps.Clone(st.byType)
	maps.Copy(byType, changed)
	return &State{byType: byType}, nil
}

// Subscribe registers fn for every subsequent committed transition and
// returns a function that removes it. Calling unsubscribe more than once
// is harmless.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSubID++
	id := s.nextSubID
	s.listeners = append(s.listeners, subscription{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.listeners = slices.DeleteFunc(s.listeners, func(sub subscription) bool {
				return sub.id == id
			})
		})
	}
}
