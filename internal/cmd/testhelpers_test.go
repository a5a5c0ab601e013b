package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/require"
)

type env struct {
	src     string
	dest    string
	dbPath  string
	cfgPath string
}

func newEnv(t *testing.T, driverName string) *env {
	t.Helper()
	color.NoColor = true

	root := t.TempDir()
	e := &env{
		src:    filepath.Join(root, "drop"),
		dest:   filepath.Join(root, "out"),
		dbPath: filepath.Join(root, "outcomes.db"),
	}
	require.NoError(t, os.Mkdir(e.src, 0755))
	require.NoError(t, os.Mkdir(e.dest, 0755))

	cfg := fmt.Sprintf(`destination: %s
poll_interval_seconds: 1
log_level: warn
storage:
  driver: %s
  path: %s
rules:
  - name: channel-a
    directory: %s
    prefix: PL_
    date_format: YYYYMMDD
    extensions: [".m3u"]
`, e.dest, driverName, e.dbPath, e.src)
	e.cfgPath = filepath.Join(root, "ingestagent.yaml")
	require.NoError(t, os.WriteFile(e.cfgPath, []byte(cfg), 0644))
	return e
}

func (e *env) drop(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(e.src, name)
	require.NoError(t, os.WriteFile(path, []byte("#EXTM3U\n"), 0644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))
	return path
}

// execute runs the root command with args and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}
