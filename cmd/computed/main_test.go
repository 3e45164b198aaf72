package main

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// execute runs the root command with args after resetting flag state left
// by earlier runs.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cfgFile, schemaDir, verbose, quiet = "", "", 0, false
	inspectMembers, runNoCheck = nil, false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(append([]string{"--config", "testdata/computed.yaml"}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCheck(t *testing.T) {
	out, err := execute(t, "check")
	require.NoError(t, err)
	want := `Model is valid. Found 2 entity types and 3 computed members:
  - Person.petCount (numeric-incremental)
  - Person.totalWeight (numeric)
  - Person.label (current)
`
	if diff := cmp.Diff(want, out); diff != "" {
		t.Fatalf("output mismatch (-want +got):\n%s", diff)
	}
}

func TestCheckReportsCycle(t *testing.T) {
	out, err := execute(t, "check", "--schema", "testdata/cycle")
	require.Error(t, err)
	require.Equal(t, ExitModel, exitCode(io.Discard, err))
	require.Contains(t, out, "Found 1 problems:")
	require.Contains(t, out, "depend on each other in a cycle")
}

func TestInspect(t *testing.T) {
	out, err := execute(t, "inspect", "--member", "Person.totalWeight")
	require.NoError(t, err)

	var infos []struct {
		Member   string   `yaml:"member"`
		Strategy string   `yaml:"strategy"`
		Affected string   `yaml:"affected"`
		Observes []string `yaml:"observes"`
		Contexts []struct {
			ID   int    `yaml:"id"`
			Kind string `yaml:"kind"`
		} `yaml:"contexts"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(out), &infos))
	require.Len(t, infos, 1)
	require.Equal(t, "Person.totalWeight", infos[0].Member)
	require.Equal(t, "numeric", infos[0].Strategy)
	require.Equal(t, "union(inverse(Person.pets, property(Pet.weight)), navigation(Person.pets))", infos[0].Affected)
	require.NotEmpty(t, infos[0].Contexts)
}

func TestInspectUnknownMember(t *testing.T) {
	_, err := execute(t, "inspect", "--member", "Person.name")
	require.EqualError(t, err, "Person.name is not a computed member")
}

type runOutput struct {
	Seed  struct{ Passes, Changes int } `yaml:"seed"`
	Batch struct {
		Passes  int `yaml:"passes"`
		Changes int `yaml:"changes"`
	} `yaml:"batch"`
	Values []struct {
		Entity string `yaml:"entity"`
		Values struct {
			PetCount    int     `yaml:"petCount"`
			TotalWeight float64 `yaml:"totalWeight"`
			Label       string  `yaml:"label"`
		} `yaml:"values"`
	} `yaml:"values"`
	Consistency []struct {
		Member       string  `yaml:"member"`
		Inconsistent int     `yaml:"inconsistent"`
		Ratio        float64 `yaml:"ratio"`
	} `yaml:"consistency"`
}

func TestRun(t *testing.T) {
	out, err := execute(t, "run", "testdata/pets.yaml")
	require.NoError(t, err, out)

	var got runOutput
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))
	require.Equal(t, 2, got.Batch.Passes)

	type values struct {
		PetCount    int
		TotalWeight float64
		Label       string
	}
	byEntity := map[string]values{}
	for _, v := range got.Values {
		byEntity[v.Entity] = values{v.Values.PetCount, v.Values.TotalWeight, v.Values.Label}
	}
	want := map[string]values{
		"Person:alice": {PetCount: 3, TotalWeight: 46, Label: "Alice (3)"},
		"Person:bob":   {PetCount: 0, TotalWeight: 0, Label: "Bob (0)"},
	}
	if diff := cmp.Diff(want, byEntity); diff != "" {
		t.Fatalf("values mismatch (-want +got):\n%s", diff)
	}

	require.Len(t, got.Consistency, 3)
	for _, c := range got.Consistency {
		require.Zero(t, c.Inconsistent, c.Member)
		require.Equal(t, 1.0, c.Ratio, c.Member)
	}
}

func TestRunWithoutCheck(t *testing.T) {
	out, err := execute(t, "run", "--no-check", "testdata/pets.yaml")
	require.NoError(t, err)
	require.NotContains(t, out, "consistency:")
}

func TestRunNotConverged(t *testing.T) {
	t.Setenv("COMPUTED_ENGINE_MAX_PASSES", "1")
	out, err := execute(t, "run", "testdata/pets.yaml")
	require.Error(t, err)
	require.Equal(t, ExitNotConverged, exitCode(io.Discard, err))
	require.Contains(t, err.Error(), "computed members did not converge after 1 passes")
	require.Contains(t, out, "seed:")
}

func TestRunMissingFixture(t *testing.T) {
	_, err := execute(t, "run", "testdata/missing.yaml")
	require.Error(t, err)
	require.Equal(t, ExitGeneral, exitCode(io.Discard, err))
}

func TestExitCode(t *testing.T) {
	var buf bytes.Buffer
	require.Equal(t, ExitSuccess, exitCode(&buf, nil))
	require.Equal(t, ExitConfig, exitCode(&buf, configError("loading configuration", errors.New("bad"))))
	require.Equal(t, ExitGeneral, exitCode(&buf, errors.New("plain")))
	require.Contains(t, buf.String(), "Error: loading configuration: bad")
}
