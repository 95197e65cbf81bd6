package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/restcache/internal/resource"
)

// ErrStoreNotEmpty is returned when a recorder is attached to a store
// that already committed transitions; the journal could not be replayed
// from an empty state.
var ErrStoreNotEmpty = errors.New("store already has committed transitions")

// SessionGenerator produces session ids.
type SessionGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-ordered UUIDv7 session ids.
type UUIDv7Generator struct{}

// Generate returns a new UUIDv7 string.
// Falls back to a random v4 if the v7 clock source fails.
func (UUIDv7Generator) Generate() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithSessionGenerator sets the session id source.
func WithSessionGenerator(g SessionGenerator) RecorderOption {
	return func(r *Recorder) {
		r.sessions = g
	}
}

// WithLogger sets the logger for write failures.
func WithLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		r.logger = l
	}
}

// Recorder appends every transition committed by a store to a journal.
//
// Writes happen on the committing goroutine, inside the store's listener
// round, so journal order is seq order. A failed write is logged and kept
// as Err; the store itself is never affected.
type Recorder struct {
	journal  *Journal
	sessions SessionGenerator
	logger   *slog.Logger
	session  string

	mu          sync.Mutex
	err         error
	count       int
	unsubscribe func()
}

// NewRecorder begins a session for store in j and subscribes to it.
func NewRecorder(ctx context.Context, j *Journal, store *resource.Store, opts ...RecorderOption) (*Recorder, error) {
	if store.Seq() != 0 {
		return nil, ErrStoreNotEmpty
	}

	r := &Recorder{
		journal:  j,
		sessions: UUIDv7Generator{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.session = r.sessions.Generate()

	if err := j.BeginSession(ctx, r.session, store.Schema()); err != nil {
		return nil, err
	}
	r.unsubscribe = store.Subscribe(r.record)
	return r, nil
}

// Session returns the session id being written.
func (r *Recorder) Session() string { return r.session }

// Count returns the number of entries written.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Err returns the first write failure, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close detaches the recorder from the store and returns Err.
func (r *Recorder) Close() error {
	r.unsubscribe()
	return r.Err()
}

func (r *Recorder) record(t resource.Transition) {
	err := r.write(t)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.logger.Error("journal write failed",
			"session", r.session,
			"seq", t.Seq,
			"kind", t.Action.Kind,
			"error", err,
		)
		if r.err == nil {
			r.err = err
		}
		return
	}
	r.count++
}

func (r *Recorder) write(t resource.Transition) error {
	digest, err := t.State.Digest()
	if err != nil {
		return err
	}
	a := t.Action
	if err := r.journal.Append(context.Background(), Entry{
		Session:      r.session,
		Seq:          t.Seq,
		Kind:         a.Kind,
		ResourceType: a.ResourceType,
		RequestKey:   a.RequestKey,
		IDs:          a.IDs,
		Payload:      a.Payload,
		StateDigest:  digest,
	}); err != nil {
		return fmt.Errorf("seq %d: %w", t.Seq, err)
	}
	return nil
}
