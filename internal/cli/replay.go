package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/restcache/internal/journal"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Journal string
	Session string // optional - specific session only
}

// ReplaySummary holds the overall replay result.
type ReplaySummary struct {
	Sessions         []journal.ReplayResult `json:"sessions"`
	TotalSessions    int                    `json:"total_sessions"`
	AllDeterministic bool                   `json:"all_deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay journaled sessions and verify determinism",
		Long: `Replay journaled sessions onto a fresh store and verify determinism.

Every recorded action is dispatched again, in seq order, onto an empty
store built from the session's schema. After each action the digest of
the resulting state must equal the digest that was journaled.

Exit codes:
  0 - All sessions replayed to identical states
  1 - A session diverged
  2 - Command error (journal not found, unknown session, etc.)

Examples:
  restcache replay --journal ./restcache.db
  restcache replay --journal ./restcache.db --session 0190f5c2-...
  restcache replay --journal ./restcache.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to the SQLite journal (defaults to RESTCACHE_JOURNAL)")
	cmd.Flags().StringVar(&opts.Session, "session", "", "replay specific session only")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx := commandContext(cmd)

	j, err := opts.openJournal(opts.Journal)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidInput, "failed to open journal", err)
	}
	defer j.Close()

	var sessions []string
	if opts.Session != "" {
		sessions = []string{opts.Session}
	} else {
		all, err := j.Sessions(ctx)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeGeneric, "failed to list sessions", err)
		}
		for _, s := range all {
			sessions = append(sessions, s.ID)
		}
	}

	summary := ReplaySummary{
		Sessions:         make([]journal.ReplayResult, 0, len(sessions)),
		TotalSessions:    len(sessions),
		AllDeterministic: true,
	}
	if len(sessions) == 0 {
		if formatter.JSON() {
			return formatter.Success(summary)
		}
		fmt.Fprintln(formatter.Writer, "No sessions found in journal.")
		return nil
	}

	for _, id := range sessions {
		formatter.VerboseLog("Replaying session %s", id)
		res, err := journal.Replay(ctx, j, id)
		if errors.Is(err, journal.ErrNoSession) {
			return formatter.Fail(ExitCommandError, ErrCodeNotFound, "session not found", err)
		}
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeGeneric, fmt.Sprintf("failed to replay session %s", id), err)
		}
		summary.Sessions = append(summary.Sessions, res)
		if !res.OK() {
			summary.AllDeterministic = false
		}
	}

	if formatter.JSON() {
		return outputReplayJSON(formatter, summary)
	}
	return outputReplayText(formatter, summary)
}

// outputReplayJSON outputs the replay summary as JSON.
func outputReplayJSON(formatter *OutputFormatter, summary ReplaySummary) error {
	if summary.AllDeterministic {
		return formatter.Success(summary)
	}
	if err := formatter.Failure(ErrCodeDiverged, "determinism verification failed", summary); err != nil {
		return err
	}
	return NewExitError(ExitFailure, "determinism verification failed")
}

// outputReplayText outputs the replay summary as text.
func outputReplayText(formatter *OutputFormatter, summary ReplaySummary) error {
	w := formatter.Writer

	fmt.Fprintf(w, "Replay Summary: %d session(s)\n", summary.TotalSessions)
	fmt.Fprintln(w)

	for _, s := range summary.Sessions {
		status := "✓"
		if !s.OK() {
			status = "✗"
		}
		fmt.Fprintf(w, "%s Session: %s\n", status, s.Session)
		fmt.Fprintf(w, "  Transitions: %d replayed of %d\n", s.Replayed, s.Entries)
		if s.Diverged {
			fmt.Fprintf(w, "  Diverged at seq %d\n", s.DivergedAt)
			if formatter.Verbose {
				fmt.Fprintf(w, "    want %s\n", s.Want)
				fmt.Fprintf(w, "    got  %s\n", s.Got)
			}
		}
		fmt.Fprintln(w)
	}

	if summary.AllDeterministic {
		fmt.Fprintln(w, "✓ All sessions verified deterministic")
		return nil
	}

	fmt.Fprintln(w, "✗ Determinism verification failed")
	return NewExitError(ExitFailure, "determinism verification failed")
}
