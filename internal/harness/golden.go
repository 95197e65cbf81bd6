package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"
)

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can check Pass and Errors as well.
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...RunOption) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario, opts...)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares an existing result's trace against the golden
// file named scenarioName.
func AssertGolden(t *testing.T, scenarioName string, result *Result) {
	t.Helper()
	newGoldie(t).Assert(t, scenarioName, []byte(result.TraceText()))
}
