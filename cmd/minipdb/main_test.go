package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	regerrors "github.com/minipdb/minipdb/internal/errors"
)

type testEnv struct {
	dir string
	db  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	return &testEnv{dir: dir, db: filepath.Join(dir, "minipdb.sqlite")}
}

// exec runs the CLI with stdin as the user's typed input.
func (e *testEnv) exec(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd(strings.NewReader(stdin), &out, &errOut)
	global := []string{"--database", e.db, "--log-mode", "quiet", "--engine", "synthetic"}
	root.SetArgs(append(global, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (e *testEnv) mustExec(t *testing.T, args ...string) string {
	t.Helper()
	out, err := e.exec(t, "", args...)
	require.NoError(t, err, out)
	return out
}

// modelFile writes a program, its data and a YAML config and returns the config path.
func (e *testEnv) modelFile(t *testing.T, name, meta string) string {
	t.Helper()
	dir := filepath.Join(e.dir, "src", name)
	require.NoError(t, os.MkdirAll(dir, 0755))
	code := fmt.Sprintf("// %s\nparameters { real mu; } model { mu ~ normal(0, 1); }", name)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".stan"), []byte(code), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".json"), []byte(`{"N": 0}`), 0644))

	body := fmt.Sprintf("model_name: %s\nstan_file: %s.stan\njson_data: %s.json\n", name, name, name)
	if meta != "" {
		body += "meta:\n" + meta
	}
	path := filepath.Join(dir, name+".yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

const smallMeta = "  iter_sampling: 2000\n  chains: 2\n  thin: 20\n"

func TestCLI_InsertRunSummaryList(t *testing.T) {
	env := newTestEnv(t)
	env.mustExec(t, "init")

	out := env.mustExec(t, "insert", env.modelFile(t, "Fake01", smallMeta))
	assert.Contains(t, out, "Inserted Fake01")

	out = env.mustExec(t, "list")
	assert.Contains(t, out, "MODEL")
	assert.Regexp(t, `Fake01\s+true\s+false\s+never`, out)

	out = env.mustExec(t, "run", "Fake01")
	assert.Contains(t, out, "Stored 200 draws and 2 metric columns for Fake01")

	out = env.mustExec(t, "list")
	assert.Regexp(t, `Fake01\s+true\s+true\s+\d{4}-`, out)

	out = env.mustExec(t, "summary", "Fake01")
	assert.Contains(t, out, "mu")
	assert.NotContains(t, out, "lp__")

	out = env.mustExec(t, "summary", "Fake01", "--json")
	assert.Contains(t, out, `"parameter": "mu"`)
}

func TestCLI_InsertTwiceReportsConflict(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.modelFile(t, "Fake01", smallMeta)
	env.mustExec(t, "insert", cfg)

	out := env.mustExec(t, "insert", cfg)
	assert.Contains(t, out, "warning")
	assert.Contains(t, out, "Nothing inserted for Fake01")

	env.mustExec(t, "run", "Fake01")
	_, err := env.exec(t, "", "insert", cfg)
	require.Error(t, err)
	assert.True(t, regerrors.IsConflict(err))
}

func TestCLI_InsertMissingField(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(env.dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model_name: Fake01\njson_data: x.json\n"), 0644))

	_, err := env.exec(t, "", "insert", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No stan_file specified")
	assert.True(t, regerrors.IsValidation(err))
}

func TestCLI_RunNotRegistered(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.exec(t, "", "run", "Fake01")
	require.Error(t, err)
	assert.True(t, regerrors.IsNotFound(err))
}

func TestCLI_DeleteRequiresYes(t *testing.T) {
	env := newTestEnv(t)
	env.mustExec(t, "insert", env.modelFile(t, "Fake01", smallMeta))
	env.mustExec(t, "run", "Fake01")

	out, err := env.exec(t, "no\n", "delete", "Fake01")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "canceled delete")
	assert.Contains(t, out, "Type Yes to continue")
	assert.Contains(t, env.mustExec(t, "list"), "Fake01")

	out, err = env.exec(t, "Yes\n", "delete", "Fake01")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted Fake01 from table Program")
	assert.Contains(t, out, "dropped table Fake01_metric")
	assert.NotContains(t, env.mustExec(t, "list"), "Fake01")
}

func TestCLI_RunAllSkipsThenOverwrites(t *testing.T) {
	env := newTestEnv(t)
	env.mustExec(t, "insert", env.modelFile(t, "Fake01", smallMeta))
	env.mustExec(t, "insert", env.modelFile(t, "Fake02", smallMeta))

	out := env.mustExec(t, "run-all", "--cpus", "2")
	assert.Contains(t, out, "ran Fake01")
	assert.Contains(t, out, "ran Fake02")

	out = env.mustExec(t, "run-all")
	assert.Contains(t, out, "skipped Fake01")
	assert.NotContains(t, out, "ran Fake01")

	_, err := env.exec(t, "nope\n", "run-all", "--overwrite")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run canceled")

	out = env.mustExec(t, "run-all", "--overwrite", "--yes")
	assert.Contains(t, out, "ran Fake01")
}

func TestCLI_Update(t *testing.T) {
	env := newTestEnv(t)
	env.mustExec(t, "insert", env.modelFile(t, "Fake01", smallMeta))

	path := filepath.Join(env.dir, "update.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model_name: Fake01\nmeta:\n  iter_sampling: 4000\n"), 0644))
	out := env.mustExec(t, "update", path)
	assert.Contains(t, out, "iter_sampling=4000")
	assert.Contains(t, out, "thin=20")

	require.NoError(t, os.WriteFile(path, []byte("model_name: Fake01\nmeta:\n  adapt_delta: 1\n"), 0644))
	_, err := env.exec(t, "", "update", path)
	require.Error(t, err)
	assert.True(t, regerrors.IsValidation(err))
}

func TestCLI_Write(t *testing.T) {
	env := newTestEnv(t)
	env.mustExec(t, "insert", env.modelFile(t, "Fake01", smallMeta))
	target := filepath.Join(env.dir, "programs")

	out := env.mustExec(t, "write", "--yes", "--dir", target, "--programs", "Fake01, Missing")
	assert.Contains(t, out, "Fake01")

	code, err := os.ReadFile(filepath.Join(target, "Fake01", "Fake01.stan"))
	require.NoError(t, err)
	assert.Contains(t, string(code), "normal(0, 1)")
	_, err = os.Stat(filepath.Join(target, "Missing"))
	assert.True(t, os.IsNotExist(err))
}

func TestCLI_PublishAndFetch(t *testing.T) {
	env := newTestEnv(t)
	env.mustExec(t, "insert", env.modelFile(t, "Fake01", smallMeta))
	env.mustExec(t, "run", "Fake01")

	snapshots := filepath.Join(env.dir, "published")
	cfgPath := filepath.Join(env.dir, "minipdb.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("storage:\n  type: local\n  path: "+snapshots+"\n  prefix: minipdb\n"), 0644))

	out := env.mustExec(t, "--config", cfgPath, "publish")
	assert.Contains(t, out, "Published 1 models")

	other := &testEnv{dir: env.dir, db: filepath.Join(env.dir, "other", "minipdb.sqlite")}
	out = other.mustExec(t, "--config", cfgPath, "init", "--download")
	assert.Contains(t, out, "Fetched 1 models")
	assert.Regexp(t, `Fake01\s+true\s+true`, other.mustExec(t, "list"))

	_, err := other.exec(t, "", "--config", cfgPath, "fetch")
	require.Error(t, err, "existing database needs confirmation")
	other.mustExec(t, "--config", cfgPath, "fetch", "--yes")
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"A", "B"}, splitList(" A,,B ,"))
	assert.Nil(t, splitList(""))
}
