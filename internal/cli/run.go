package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/restcache/internal/fetch"
	"github.com/roach88/restcache/internal/harness"
	"github.com/roach88/restcache/internal/journal"
	"github.com/roach88/restcache/internal/testutil"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Journal string // journal path (defaults to RESTCACHE_JOURNAL)
	Session string // fixed session id, single scenario only
	Filter  string // scenario filter (glob pattern)
	Golden  string // golden directory
	Update  bool   // regenerate golden files
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name        string         `json:"name"`
	File        string         `json:"file"`
	Pass        bool           `json:"pass"`
	Errors      []string       `json:"errors,omitempty"`
	Transitions int            `json:"transitions"`
	Calls       map[string]int `json:"calls,omitempty"`
	Session     string         `json:"session,omitempty"`
}

// RunResult holds the overall run result.
type RunResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario-file-or-dir>...",
		Short: "Run cache scenarios",
		Long: `Run YAML scenarios against a fresh store and a scripted backend.

Directories are searched recursively for .yaml and .yml files. With
--journal every committed transition is recorded for trace and replay.
With --golden the trace of each scenario is compared against
<golden-dir>/<name>.golden; --update rewrites those files instead.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, unwritable journal, etc.)

Examples:
  restcache run ./scenarios
  restcache run ./scenarios --filter "cache_*"
  restcache run ./scenarios/lifecycle.yaml --journal ./restcache.db
  restcache run ./scenarios --golden ./golden --update`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "record transitions in this SQLite journal")
	cmd.Flags().StringVar(&opts.Session, "session", "", "journal session id (single scenario only)")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().StringVar(&opts.Golden, "golden", "", "compare traces against golden files in this directory")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files (requires --golden)")

	return cmd
}

func runScenarios(opts *RunOptions, paths []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx := commandContext(cmd)

	if opts.Update && opts.Golden == "" {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidInput, "--update requires --golden", nil)
	}

	var files []string
	for _, p := range paths {
		found, err := findScenarioFiles(p, opts.Filter)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeNotFound, "failed to find scenarios", err)
		}
		files = append(files, found...)
	}

	if opts.Session != "" && len(files) > 1 {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidInput, "--session needs exactly one scenario", nil)
	}

	runOpts := []harness.RunOption{harness.WithLogger(opts.logger())}
	if policy, err := fetch.ParsePolicy(opts.Config.FetchPolicy); err == nil && policy != "" {
		runOpts = append(runOpts, harness.WithDefaultPolicy(policy))
	}

	journalPath := opts.Journal
	if journalPath == "" {
		journalPath = opts.Config.Journal
	}
	if journalPath != "" {
		j, err := opts.openJournal(journalPath)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeGeneric, "failed to open journal", err)
		}
		defer j.Close()

		var sessions journal.SessionGenerator = journal.UUIDv7Generator{}
		if opts.Session != "" {
			sessions = testutil.NewFixedSessionGenerator(opts.Session)
		}
		runOpts = append(runOpts, harness.WithJournal(j), harness.WithSessionGenerator(sessions))
		formatter.VerboseLog("Recording transitions in %s", journalPath)
	}

	result := RunResult{
		Scenarios: make([]ScenarioResult, 0, len(files)),
		Total:     len(files),
	}
	for _, file := range files {
		sr := runScenario(ctx, opts, formatter, file, runOpts)
		result.Scenarios = append(result.Scenarios, sr)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	return outputRunResult(formatter, result)
}

// findScenarioFiles returns path itself when it is a file, or every YAML
// file below it when it is a directory.
func findScenarioFiles(path, filter string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		ok, err := matchFilter(path, filter)
		if err != nil || !ok {
			return nil, err
		}
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(p)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		ok, err := matchFilter(p, filter)
		if err != nil {
			return err
		}
		if ok {
			files = append(files, p)
		}
		return nil
	})
	return files, err
}

func matchFilter(path, filter string) (bool, error) {
	if filter == "" {
		return true, nil
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	matched, err := filepath.Match(filter, name)
	if err != nil {
		return false, fmt.Errorf("invalid filter pattern: %w", err)
	}
	return matched, nil
}

// runScenario executes a single scenario and returns the result.
func runScenario(ctx context.Context, opts *RunOptions, formatter *OutputFormatter, file string, runOpts []harness.RunOption) ScenarioResult {
	w := formatter.Writer
	sr := ScenarioResult{Name: filepath.Base(file), File: file}

	fail := func(label string, err error) ScenarioResult {
		sr.Pass = false
		sr.Errors = append(sr.Errors, fmt.Sprintf("%s: %v", label, err))
		if !formatter.JSON() {
			fmt.Fprintf(w, "✗ %s\n", sr.Name)
			fmt.Fprintf(w, "  %s: %v\n", label, err)
		}
		return sr
	}

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return fail("load error", err)
	}
	sr.Name = scenario.Name

	result, err := harness.Run(ctx, scenario, runOpts...)
	if err != nil {
		return fail("execution error", err)
	}
	sr.Pass = result.Pass
	sr.Errors = result.Errors
	sr.Transitions = len(result.Trace)
	sr.Calls = result.Calls
	sr.Session = result.Session

	if opts.Golden != "" {
		goldenPath := filepath.Join(opts.Golden, scenario.Name+".golden")
		if opts.Update {
			if err := os.MkdirAll(opts.Golden, 0755); err != nil {
				return fail("golden update error", err)
			}
			if err := os.WriteFile(goldenPath, []byte(result.TraceText()), 0644); err != nil {
				return fail("golden update error", err)
			}
			formatter.VerboseLog("Updated %s", goldenPath)
		} else {
			want, err := os.ReadFile(goldenPath)
			switch {
			case errors.Is(err, fs.ErrNotExist):
				formatter.VerboseLog("No golden file for %s", scenario.Name)
			case err != nil:
				return fail("golden comparison error", err)
			case string(want) != result.TraceText():
				sr.Pass = false
				sr.Errors = append(sr.Errors, "trace does not match golden file (run with --update to regenerate)")
			}
		}
	}

	if !formatter.JSON() {
		if sr.Pass {
			fmt.Fprintf(w, "✓ %s (%d transitions)\n", sr.Name, sr.Transitions)
		} else {
			fmt.Fprintf(w, "✗ %s\n", sr.Name)
			for _, e := range sr.Errors {
				fmt.Fprintf(w, "  %s\n", e)
			}
		}
		if opts.Verbose {
			fmt.Fprint(w, indent(result.TraceText(), "    "))
		}
	}
	return sr
}

func indent(text, prefix string) string {
	if text == "" {
		return ""
	}
	lines := strings.SplitAfter(text, "\n")
	var b strings.Builder
	for _, l := range lines {
		if l == "" {
			continue
		}
		b.WriteString(prefix)
		b.WriteString(l)
	}
	return b.String()
}

// outputRunResult prints the summary and maps failures to exit code 1.
func outputRunResult(formatter *OutputFormatter, result RunResult) error {
	if result.Failed > 0 {
		msg := fmt.Sprintf("%d scenario(s) failed", result.Failed)
		if formatter.JSON() {
			if err := formatter.Failure(ErrCodeFailed, msg, result); err != nil {
				return err
			}
		} else {
			fmt.Fprintln(formatter.Writer)
			fmt.Fprintf(formatter.Writer, "Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
		}
		return NewExitError(ExitFailure, msg)
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	if result.Total == 0 {
		fmt.Fprintln(formatter.Writer, "No scenarios found.")
		return nil
	}
	fmt.Fprintln(formatter.Writer)
	fmt.Fprintf(formatter.Writer, "Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
	fmt.Fprintln(formatter.Writer, "✓ All scenarios passed")
	return nil
}
