package journal

import (
	"context"
	"fmt"

	"github.com/roach88/restcache/internal/resource"
)

// ReplayResult reports a determinism check of one session.
type ReplayResult struct {
	Session  string `json:"session"`
	Entries  int    `json:"entries"`
	Replayed int    `json:"replayed"`

	// Diverged is set when a replayed state digest differs from the
	// journaled one; DivergedAt is the seq of the first such entry.
	Diverged   bool   `json:"diverged"`
	DivergedAt int64  `json:"diverged_at,omitempty"`
	Want       string `json:"want,omitempty"`
	Got        string `json:"got,omitempty"`
}

// OK reports whether every entry replayed to the journaled digest.
func (r ReplayResult) OK() bool { return !r.Diverged && r.Replayed == r.Entries }

// Replay re-applies the actions of a session onto a fresh store built from
// the session's schema, checking the state digest after every entry.
// It stops at the first divergence.
//
// An error is returned only when replay cannot proceed (unreadable
// journal, an action the store rejects).
func Replay(ctx context.Context, j *Journal, session string) (ReplayResult, error) {
	res := ReplayResult{Session: session}

	s, err := j.SessionSchema(ctx, session)
	if err != nil {
		return res, err
	}
	entries, err := j.Entries(ctx, session)
	if err != nil {
		return res, err
	}
	res.Entries = len(entries)

	store := resource.NewStore(s)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := store.Dispatch(e.Action()); err != nil {
			return res, fmt.Errorf("replay seq %d: %w", e.Seq, err)
		}
		res.Replayed++

		got, err := store.State().Digest()
		if err != nil {
			return res, fmt.Errorf("replay seq %d: %w", e.Seq, err)
		}
		if got != e.StateDigest || store.Seq() != e.Seq {
			res.Diverged = true
			res.DivergedAt = e.Seq
			res.Want = e.StateDigest
			res.Got = got
			return res, nil
		}
	}
	return res, nil
}
