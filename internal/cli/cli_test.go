package cli

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cot-reflect/backend/internal/app"
	"github.com/cot-reflect/backend/internal/provider"
	"github.com/cot-reflect/backend/pkg/apperr"
	"github.com/cot-reflect/backend/pkg/config"
)

// scriptInvoker answers stage prompts by their closing instruction and the
// judge prompt with fixed scores.
type scriptInvoker struct{}

func (scriptInvoker) Invoke(ctx context.Context, model, prompt string, temperature, topP float64) (string, error) {
	switch {
	case strings.Contains(prompt, "impartial judge"):
		return "## Response A\nClarity: 9\n## Response B\nClarity: 4\nResponse A wins.", nil
	case strings.HasSuffix(prompt, "Thinking:"):
		return "1009 has no divisors below 32.", nil
	case strings.HasSuffix(prompt, "improved?"):
		return "The check up to sqrt is sufficient.", nil
	case strings.HasSuffix(prompt, "final answer:"):
		return "Yes, 1009 is prime.", nil
	}
	return "Prime.", nil
}

func (scriptInvoker) Describe(name string) (provider.Descriptor, error) {
	if name != "stub" {
		return provider.Descriptor{}, &provider.UnknownModelError{Name: name}
	}
	return provider.Descriptor{Name: name, Kind: provider.KindOpenAI, ModelID: "stub-1"}, nil
}

func (scriptInvoker) Models() []provider.Descriptor {
	return []provider.Descriptor{{
		Name: "stub", Kind: provider.KindOpenAI, ModelID: "stub-1",
		TemperatureRange: provider.Range{Min: 0, Max: 2},
		TopPRange:        provider.Range{Min: 0, Max: 1},
	}}
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`sqlite:
  path: %s
  driver: sqlite
evaluation:
  judgeModel: stub
  persist: true
logging:
  level: error
`, filepath.Join(dir, "cli.db"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// execute runs one reflectctl invocation against the shared config.
func execute(t *testing.T, configPath string, args ...string) (string, string, error) {
	t.Helper()

	o := &options{newApp: func(ctx context.Context, cfg *config.Config) (*app.App, error) {
		return app.NewWithOptions(ctx, cfg, app.Options{Invoker: scriptInvoker{}})
	}}
	cmd := newRootCmd(o)

	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", configPath, "--log-level", "error"}, args...))

	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestModels(t *testing.T) {
	out, _, err := execute(t, writeConfig(t), "models")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "stub-1")
	assert.Contains(t, out, "0-2")
}

func TestRun_PrintsSectionsAndSaves(t *testing.T) {
	cfg := writeConfig(t)

	out, stderr, err := execute(t, cfg, "run", "-m", "stub", "-q", "Is 1009 prime?",
		"--save", "primes", "--tags", "math", "--verbose")
	require.NoError(t, err)

	assert.Contains(t, out, "## Initial response\nPrime.")
	assert.Contains(t, out, "## Thinking\n1009 has no divisors below 32.")
	assert.Contains(t, out, "## Final output\nYes, 1009 is prime.")
	assert.Contains(t, out, "Saved snapshot 1")
	assert.Contains(t, stderr, "--- thinking ---")
	assert.Contains(t, stderr, "--- output ---")

	out, _, err = execute(t, cfg, "snapshots", "get", "1", "--format", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "name: primes")
	assert.Contains(t, out, "tags: math")
}

func TestRun_DocumentFile(t *testing.T) {
	cfg := writeConfig(t)
	doc := filepath.Join(t.TempDir(), "notes.html")
	require.NoError(t, os.WriteFile(doc, []byte("<body><p>1009 = 1009</p></body>"), 0o644))

	out, _, err := execute(t, cfg, "run", "-m", "stub", "-q", "prime?", "--document", doc, "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"final_output": "Yes, 1009 is prime."`)

	_, _, err = execute(t, cfg, "run", "-m", "stub", "-q", "prime?", "--document", filepath.Join(t.TempDir(), "nope.txt"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read document")
}

func TestRun_Errors(t *testing.T) {
	cfg := writeConfig(t)

	_, _, err := execute(t, cfg, "run", "-m", "stub")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"question"`)

	_, _, err = execute(t, cfg, "run", "-m", "gpt-9", "-q", "hi")
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
}

func TestSnapshots_ListDeleteExport(t *testing.T) {
	cfg := writeConfig(t)

	for _, name := range []string{"alpha", "beta"} {
		_, _, err := execute(t, cfg, "run", "-m", "stub", "-q", "q "+name, "--save", name)
		require.NoError(t, err)
	}

	out, _, err := execute(t, cfg, "snapshots", "list")
	require.NoError(t, err)
	assert.Less(t, strings.Index(out, "beta"), strings.Index(out, "alpha"), "newest first")

	out, _, err = execute(t, cfg, "snapshots", "list", "--search", "ALPHA")
	require.NoError(t, err)
	assert.NotContains(t, out, "beta")

	out, _, err = execute(t, cfg, "snapshots", "export", "--format", "csv")
	require.NoError(t, err)
	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 3)

	exportPath := filepath.Join(t.TempDir(), "out.json")
	_, stderr, err := execute(t, cfg, "snapshots", "export", "-o", exportPath)
	require.NoError(t, err)
	assert.Contains(t, stderr, "Wrote")
	data, err := os.ReadFile(exportPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"name": "beta"`)

	out, _, err = execute(t, cfg, "snapshots", "delete", "1")
	require.NoError(t, err)
	assert.Equal(t, "Deleted snapshot 1\n", out)

	_, _, err = execute(t, cfg, "snapshots", "delete", "1")
	assert.True(t, apperr.IsNotFound(err))

	_, _, err = execute(t, cfg, "snapshots", "get", "zero")
	assert.True(t, apperr.IsValidation(err))

	_, _, err = execute(t, cfg, "snapshots", "export", "--format", "xml")
	assert.True(t, apperr.IsValidation(err))
}

func TestEvaluate(t *testing.T) {
	cfg := writeConfig(t)

	for _, name := range []string{"one", "two"} {
		_, _, err := execute(t, cfg, "run", "-m", "stub", "-q", "q", "--save", name)
		require.NoError(t, err)
	}

	out, _, err := execute(t, cfg, "evaluate", "1", "2", "--aspects", "Final Output", "--labels", "Left,Right")
	require.NoError(t, err)
	assert.Contains(t, out, "Response A wins.")
	assert.Contains(t, out, "METRIC")
	assert.Contains(t, out, "Left")
	assert.Contains(t, out, "Saved evaluation 1")

	out, _, err = execute(t, cfg, "evaluate", "1", "2", "--persist=false")
	require.NoError(t, err)
	assert.NotContains(t, out, "Saved evaluation")

	_, _, err = execute(t, cfg, "evaluate", "1", "99")
	assert.True(t, apperr.IsNotFound(err))

	for _, labels := range []string{"Left", "Left,Right,Middle"} {
		_, _, err = execute(t, cfg, "evaluate", "1", "2", "--labels", labels)
		require.Error(t, err, labels)
		assert.True(t, apperr.IsValidation(err), labels)
		assert.Contains(t, err.Error(), "expected two comma-separated names")
	}
}
