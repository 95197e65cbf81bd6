package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/restcache/internal/ir"
)

func TestGoldenScenarios(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		name := strings.TrimSuffix(filepath.Base(file), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(file)
			require.NoError(t, err)
			assert.Equal(t, name, scenario.Name)

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestAssertGolden_FromResult(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "mutation_insert.yaml"))
	require.NoError(t, err)

	result, err := Run(t.Context(), scenario)
	require.NoError(t, err)
	AssertGolden(t, "mutation_insert", result)
}

func TestTraceLine_String(t *testing.T) {
	tests := []struct {
		line TraceLine
		want string
	}{
		{
			TraceLine{Seq: 3, Kind: ir.KindUpdateSucceeded, ResourceType: "articles", Request: "list", Status: ir.StatusSucceeded, IDs: []string{"a1", "a2"}},
			"3 UPDATE_SUCCEEDED articles[list] SUCCEEDED [a1,a2]",
		},
		{
			TraceLine{Seq: 1, Kind: ir.KindUpdatePending, ResourceType: "users", Request: "people", Status: ir.StatusPending, IDs: []string{}},
			"1 UPDATE_PENDING users[people] PENDING []",
		},
		{
			TraceLine{Seq: 9, Kind: "CUSTOM", ResourceType: "users", Request: "k"},
			"9 CUSTOM users[k] - []",
		},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.line.String())
	}
}

func TestResult_TraceText(t *testing.T) {
	result := NewResult()
	assert.Empty(t, result.TraceText())

	result.Trace = sampleTrace()[:2]
	assert.Equal(t,
		"1 UPDATE_PENDING articles[list] PENDING []\n2 UPDATE_SUCCEEDED articles[list] SUCCEEDED [a1]\n",
		result.TraceText())
}
