package cmd

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/oneconcern/tablemon/pkg/config"
	"github.com/oneconcern/tablemon/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type exitMocks struct {
	messages []string
}

func (m *exitMocks) Fatalf(format string, v ...interface{}) {
	m.messages = append(m.messages, fmt.Sprintf(format, v...))
}

func (m *exitMocks) Fatalln(v ...interface{}) {
	m.messages = append(m.messages, fmt.Sprint(v...))
}

func (m *exitMocks) fatalCalls() int {
	return len(m.messages)
}

func setupCLI(t *testing.T) *exitMocks {
	t.Helper()
	mocks := &exitMocks{}
	logFatalf, logFatalln = mocks.Fatalf, mocks.Fatalln
	color.NoColor = true

	dir := t.TempDir()
	configFile := filepath.Join(dir, "tablemon.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(fmt.Sprintf(`
TBL_NAMESPACE: acme
TBL_LOG_LEVEL: none
TBL_ENGINE_PATH: %[1]s/meta.db
TBL_WORKSPACE_DIR: %[1]s/workspaces
TBL_OBJECT_DIR: %[1]s/objects
external_handlers:
  shared:
    implementation: FILE
    params:
      path: %[1]s/shared
remotes:
  hub:
    endpoint: file://%[1]s/hub.db
    handler: shared
`, dir)), 0o600))
	t.Setenv(config.EnvConfigLocation, configFile)
	t.Setenv(config.KeyAPISecret, "topsecret")

	t.Cleanup(func() {
		out, stdin = os.Stdout, os.Stdin
		logFatalf, logFatalln = log.Fatalf, log.Fatalln
	})
	return mocks
}

// execute a command line, returning its output and the number of fatal errors it raised
func execute(t *testing.T, mocks *exitMocks, input string, args ...string) (string, int) {
	t.Helper()
	var buf bytes.Buffer
	out = &buf
	stdin = strings.NewReader(input)
	tablemonFlags = flagsT{}
	fatals := mocks.fatalCalls()

	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return buf.String(), mocks.fatalCalls() - fatals
}

func runCmd(t *testing.T, mocks *exitMocks, input string, args ...string) string {
	t.Helper()
	output, fatals := execute(t, mocks, input, args...)
	require.Zerof(t, fatals, "unexpected failure of %v: %v", args, mocks.messages)
	return output
}

func runFailingCmd(t *testing.T, mocks *exitMocks, input string, args ...string) string {
	t.Helper()
	output, fatals := execute(t, mocks, input, args...)
	require.NotZerof(t, fatals, "expected %v to fail", args)
	return output
}

func TestCLIWorkflow(t *testing.T) {
	mocks := setupCLI(t)

	runCmd(t, mocks, "", "init", "weather")
	runCmd(t, mocks, "", "sql", "weather", "CREATE TABLE cities (id INTEGER PRIMARY KEY, name TEXT)")
	runCmd(t, mocks, "", "sql", "weather", "INSERT INTO cities VALUES (1, 'paris'), (2, 'oslo')")
	first := strings.TrimSpace(runCmd(t, mocks, "", "commit", "weather", "-m", "seed"))
	require.True(t, model.IsValidHash(first))
	runCmd(t, mocks, "", "tag", "acme/weather:"+first, "v1")

	runCmd(t, mocks, "", "sql", "weather", "UPDATE cities SET name = 'lima' WHERE id = 1")
	second := strings.TrimSpace(runCmd(t, mocks, "", "commit", "weather", "-m", "lima"))
	require.True(t, model.IsValidHash(second))

	history := runCmd(t, mocks, "", "log", "weather")
	lines := strings.Split(strings.TrimSpace(history), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], model.ShortHash(second))
	assert.Contains(t, lines[0], "HEAD")
	assert.Contains(t, lines[1], "v1")
	assert.Contains(t, lines[1], "seed")

	show := runCmd(t, mocks, "", "show", "weather:v1")
	assert.Contains(t, show, "image_hash: "+first)
	assert.Contains(t, show, "size:")

	tags := runCmd(t, mocks, "", "tag", "weather")
	assert.Contains(t, tags, "v1")

	rows := runCmd(t, mocks, "", "sql", "weather", "SELECT id, name FROM cities ORDER BY id")
	assert.Equal(t, "- id: 1\n  name: lima\n- id: 2\n  name: oslo\n", rows)

	t.Run("push and clone", func(t *testing.T) {
		pushed := runCmd(t, mocks, "", "push", "weather", "--remote", "hub")
		assert.Contains(t, pushed, "pushed 3 image(s)")

		runCmd(t, mocks, "", "clone", "weather", "copy", "--remote", "hub")
		rows := runCmd(t, mocks, "", "sql", "copy", "SELECT id, name FROM cities ORDER BY id")
		assert.Equal(t, "- id: 1\n  name: lima\n- id: 2\n  name: oslo\n", rows)
		assert.Contains(t, runCmd(t, mocks, "", "tag", "copy"), "v1")

		pulled := runCmd(t, mocks, "", "pull", "copy", "weather", "--remote", "hub")
		assert.Contains(t, pulled, "pulled 0 image(s)")
	})

	t.Run("build", func(t *testing.T) {
		splitfile := filepath.Join(t.TempDir(), "derived.splitfile")
		require.NoError(t, os.WriteFile(splitfile, []byte(
			"FROM acme/weather IMPORT cities\nSQL INSERT INTO cities VALUES (${ID}, '${NAME}')\n",
		), 0o600))

		built := runCmd(t, mocks, "", "build", splitfile, "-a", "ID", "3", "-a", "NAME=quito")
		assert.Contains(t, built, "(executed)")
		rows := runCmd(t, mocks, "", "sql", "derived", "SELECT name FROM cities WHERE id = 3")
		assert.Equal(t, "- name: quito\n", rows)

		rebuilt := runCmd(t, mocks, "", "build", splitfile, "-a", "ID", "3", "-a", "NAME=quito")
		assert.NotContains(t, rebuilt, "(executed)")
	})

	t.Run("delete", func(t *testing.T) {
		declined := runFailingCmd(t, mocks, "n\n", "rm", "derived")
		assert.Contains(t, declined, "delete repository acme/derived")
		assert.Contains(t, declined, "Are you sure")

		// the checked out image cannot be deleted
		runFailingCmd(t, mocks, "", "rm", "weather:HEAD", "-y")

		runCmd(t, mocks, "", "rm", "derived", "-y")
		runCmd(t, mocks, "", "prune", "weather", "-y")

		dryRun := runCmd(t, mocks, "", "cleanup", "--dry-run")
		assert.Contains(t, dryRun, "would delete")
		runCmd(t, mocks, "", "cleanup")
	})

	t.Run("config", func(t *testing.T) {
		shown := runCmd(t, mocks, "", "config")
		assert.Contains(t, shown, "TBL_API_SECRET: t*******")
		assert.Contains(t, shown, "remote hub: file://")

		plain := runCmd(t, mocks, "", "config", "-s")
		assert.Contains(t, plain, "TBL_API_SECRET: topsecret")

		dump := runCmd(t, mocks, "", "config", "-c")
		assert.Contains(t, dump, "defaults:")
		assert.NotContains(t, dump, "topsecret")
	})
}

func TestBuildParams(t *testing.T) {
	for _, toPin := range []struct {
		Name     string
		Keys     []string
		Values   []string
		Expected map[string]string
		WantErr  bool
	}{
		{Name: "pairs", Keys: []string{"A", "B"}, Values: []string{"1", "2"}, Expected: map[string]string{"A": "1", "B": "2"}},
		{Name: "assignments", Keys: []string{"A=1", "B=x=y"}, Expected: map[string]string{"A": "1", "B": "x=y"}},
		{Name: "mixed", Keys: []string{"A", "B=2"}, Values: []string{"1"}, Expected: map[string]string{"A": "1", "B": "2"}},
		{Name: "none", Expected: map[string]string{}},
		{Name: "missing value", Keys: []string{"A"}, WantErr: true},
		{Name: "extra value", Keys: []string{"A"}, Values: []string{"1", "2"}, WantErr: true},
	} {
		testCase := toPin
		t.Run(testCase.Name, func(t *testing.T) {
			params, err := buildParams(testCase.Keys, testCase.Values)
			if testCase.WantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, testCase.Expected, params)
		})
	}
}

func TestIsQuery(t *testing.T) {
	assert.True(t, isQuery("  select * from t"))
	assert.True(t, isQuery("WITH x AS (SELECT 1) SELECT * FROM x"))
	assert.False(t, isQuery("INSERT INTO t VALUES (1)"))
	assert.False(t, isQuery("CREATE TABLE t (id INTEGER)"))
}
