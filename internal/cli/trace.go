package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/restcache/internal/ir"
	"github.com/roach88/restcache/internal/journal"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Journal string
	Session string // defaults to the latest session
	Request string // optional - filter to one request key
}

// TraceEntry is one transition in the trace timeline.
type TraceEntry struct {
	Seq          int64    `json:"seq"`
	Kind         string   `json:"kind"`
	ResourceType string   `json:"resource_type"`
	RequestKey   string   `json:"request_key"`
	IDs          []string `json:"ids"`
	Payload      any      `json:"payload,omitempty"`
	StateDigest  string   `json:"state_digest"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Session  string       `json:"session"`
	Timeline []TraceEntry `json:"timeline"`
	Stats    TraceStats   `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	Transitions int            `json:"transitions"`
	Requests    int            `json:"requests"`
	Failures    int            `json:"failures"`
	ByKind      map[string]int `json:"by_kind"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the journaled transitions of a session",
		Long: `Show the transitions a session committed, in seq order.

Each line is one committed action with the ids it carried and the digest
of the store state it produced. Without --session the most recently
recorded session is shown.

Examples:
  restcache trace --journal ./restcache.db
  restcache trace --journal ./restcache.db --session 0190f5c2-...
  restcache trace --journal ./restcache.db --request 9f2c... --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to the SQLite journal (defaults to RESTCACHE_JOURNAL)")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session to trace (defaults to the latest)")
	cmd.Flags().StringVar(&opts.Request, "request", "", "filter to one request key")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx := commandContext(cmd)

	j, err := opts.openJournal(opts.Journal)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidInput, "failed to open journal", err)
	}
	defer j.Close()

	session := opts.Session
	if session == "" {
		session, err = j.LatestSession(ctx)
		if errors.Is(err, journal.ErrNoSession) {
			if formatter.JSON() {
				return formatter.Success(TraceResult{Timeline: []TraceEntry{}, Stats: TraceStats{ByKind: map[string]int{}}})
			}
			fmt.Fprintln(formatter.Writer, "No sessions found in journal.")
			return nil
		}
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeGeneric, "failed to find latest session", err)
		}
	} else if _, err := j.SessionSchema(ctx, session); err != nil {
		if errors.Is(err, journal.ErrNoSession) {
			return formatter.Fail(ExitCommandError, ErrCodeNotFound, "session not found", err)
		}
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "failed to read session", err)
	}

	var entries []journal.Entry
	if opts.Request != "" {
		entries, err = j.EntriesForRequest(ctx, session, opts.Request)
	} else {
		entries, err = j.Entries(ctx, session)
	}
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "failed to read entries", err)
	}

	result := buildTrace(session, entries)
	if formatter.JSON() {
		return formatter.Success(result)
	}
	outputTraceText(formatter, result)
	return nil
}

// buildTrace converts journal entries to the trace timeline.
func buildTrace(session string, entries []journal.Entry) TraceResult {
	result := TraceResult{
		Session:  session,
		Timeline: make([]TraceEntry, 0, len(entries)),
		Stats:    TraceStats{ByKind: make(map[string]int)},
	}
	requests := make(map[string]bool)
	for _, e := range entries {
		te := TraceEntry{
			Seq:          e.Seq,
			Kind:         string(e.Kind),
			ResourceType: e.ResourceType,
			RequestKey:   e.RequestKey,
			IDs:          e.IDs,
			StateDigest:  e.StateDigest,
		}
		if e.Payload != nil {
			te.Payload = ir.ToAny(e.Payload)
		}
		if te.IDs == nil {
			te.IDs = []string{}
		}
		result.Timeline = append(result.Timeline, te)

		result.Stats.ByKind[te.Kind]++
		if e.Kind.IsFailure() {
			result.Stats.Failures++
		}
		if e.RequestKey != "" {
			requests[e.ResourceType+"\x00"+e.RequestKey] = true
		}
	}
	result.Stats.Transitions = len(result.Timeline)
	result.Stats.Requests = len(requests)
	return result
}

func outputTraceText(formatter *OutputFormatter, result TraceResult) {
	w := formatter.Writer
	fmt.Fprintf(w, "Session: %s\n", result.Session)
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "No transitions recorded.")
		return
	}
	fmt.Fprintln(w)
	for _, e := range result.Timeline {
		fmt.Fprintf(w, "%4d  %-26s %s[%s] [%s]\n",
			e.Seq, e.Kind, e.ResourceType, shortKey(e.RequestKey), strings.Join(e.IDs, ","))
		if formatter.Verbose {
			fmt.Fprintf(w, "      digest %s\n", e.StateDigest)
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%d transitions, %d requests, %d failures\n",
		result.Stats.Transitions, result.Stats.Requests, result.Stats.Failures)
}

// shortKey abbreviates hashed request keys; named keys print whole.
func shortKey(key string) string {
	if len(key) == 64 {
		return key[:12]
	}
	return key
}

// openJournal opens path, or the configured default journal when path is
// empty.
func (o *RootOptions) openJournal(path string) (*journal.Journal, error) {
	if path == "" {
		path = o.Config.Journal
	}
	if path == "" {
		return nil, errors.New("--journal is required (or set RESTCACHE_JOURNAL)")
	}
	return journal.Open(path)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
