package recontk_test

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/recontk/recontk/internal/report"
)

var (
	recontkPath string

	// tmpDir is a function used to create a tempdir
	// -test.keepdir flag says test to use os.MkdirTemp
	// default is t.TempDir, which will be cleaned up
	tmpDir func(t *testing.T) string
)

func TestMain(m *testing.M) {
	var keepTestDir bool
	flag.BoolVar(&keepTestDir, "test.keepdir", false, "use os.TempDir instead of t.TempDir to keep test artifacts")
	flag.Parse()

	if testing.Short() {
		slog.Warn("integration tests with -short are ignored")
		os.Exit(0)
	}

	if !keepTestDir {
		tmpDir = func(t *testing.T) string {
			t.Helper()
			return t.TempDir()
		}
	} else {
		tmpDir = func(t *testing.T) string {
			t.Helper()
			dir, err := os.MkdirTemp("", t.Name()+"*")
			require.NoError(t, err)
			_, err = fmt.Fprintf(t.Output(), "TEMPDIR %s: -test.keepdir used, so it won't be automatically deleted", dir)
			require.NoError(t, err)
			return dir
		}
	}

	if !isExecutable("recontk-ci") {
		slog.Error("cannot locate recontk-ci binary: run go build -o recontk-ci ./cmd/recontk/ first")
		os.Exit(1)
	}

	var err error
	recontkPath, err = filepath.Abs("recontk-ci")
	if err != nil {
		slog.Error("can't get abspath for recontk-ci", "error", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

func TestVersion(t *testing.T) {
	_ = chDir(t)
	creat(t, "recontk.yaml", []byte("version: 0\n"))

	stdout, stderr, err := run(t, "version", "--config", "recontk.yaml")
	if err != nil {
		t.Logf("%s", stderr)
	}
	require.NoError(t, err)
	require.Contains(t, stdout, "recontk:")
	require.Contains(t, stdout, "go:")
}

func TestConfigRejected(t *testing.T) {
	_ = chDir(t)
	const config = `
version: 0
probes:
    concurrency: 0
`
	creat(t, "recontk.yaml", []byte(config))

	_, stderr, err := run(t, "version", "--config", "recontk.yaml")
	require.Error(t, err)
	require.Contains(t, stderr, "concurrency")
}

func TestDefaultConfigCreated(t *testing.T) {
	dir := chDir(t)

	_, stderr, err := run(t, "version")
	if err != nil {
		t.Logf("%s", stderr)
	}
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(dir, "config", "recontk", "recontk.yaml"))

	// the file written on first run must load on the second one
	_, stderr, err = run(t, "version")
	if err != nil {
		t.Logf("%s", stderr)
	}
	require.NoError(t, err)
}

func TestScanClosedPorts(t *testing.T) {
	if _, err := exec.LookPath("nmap"); err != nil {
		t.Skip("nmap not installed")
	}
	dir := chDir(t)

	const config = `
version: 0
report:
    formats: ["json", "html"]
`
	creat(t, "recontk.yaml", []byte(config))

	_, stderr, err := run(t, "scan", "127.0.0.1",
		"--config", "recontk.yaml",
		"--ports", "1,9",
		"--output", filepath.Join(dir, "reports"),
	)
	if err != nil {
		t.Logf("%s", stderr)
	}
	require.NoError(t, err)

	matches, err := filepath.Glob(filepath.Join(dir, "reports", "127.0.0.1_*.json"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	b, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	var doc report.Document
	require.NoError(t, json.Unmarshal(b, &doc))
	require.Equal(t, "127.0.0.1", doc.Report.Target)
	require.Contains(t, doc.Serial, "urn:uuid:")
	require.Empty(t, doc.Report.OpenPorts())
	require.Empty(t, doc.Report.Probes)

	html, err := filepath.Glob(filepath.Join(dir, "reports", "127.0.0.1_*.html"))
	require.NoError(t, err)
	require.Len(t, html, 1)
}

// run executes the prebuilt binary with its config dir pinned to the
// test working directory.
func run(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 120*time.Second)
	t.Cleanup(cancel)

	cwd, err := os.Getwd()
	require.NoError(t, err)

	var outBuf, errBuf bytes.Buffer
	cmd := exec.CommandContext(ctx, recontkPath, args...)
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	cmd.Env = append(os.Environ(), "XDG_CONFIG_HOME="+filepath.Join(cwd, "config"))
	err = cmd.Run()
	return outBuf.String(), errBuf.String(), err
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().Perm()&0111 != 0
}

func chDir(t *testing.T) string {
	t.Helper()
	tempdir := tmpDir(t)
	err := os.Chdir(tempdir)
	require.NoError(t, err)
	return tempdir
}

func creat(t *testing.T, path string, content []byte) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, f.Close())
	}()
	_, err = f.Write(content)
	require.NoError(t, err)
	err = f.Sync()
	require.NoError(t, err)
}
