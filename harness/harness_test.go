package harness

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeScript creates an executable shell script acting as a client.
func writeScript(t *testing.T, body string) string {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("shell stubs need a POSIX shell")
	}

	path := filepath.Join(t.TempDir(), "client.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))

	return path
}

func TestRunCapturesCombinedOutput(t *testing.T) {
	bin := writeScript(t, `echo "to stdout"
echo "to stderr" >&2
echo "INFO:ycsb: Median(ns): 980 Tail(ns): 11000 Throughput(Kops/s): 50"`)

	r := NewRunner("ycsb", bin, nil, discardLogger())

	out, err := r.Run(context.Background(), RunConfig{})
	require.NoError(t, err)

	assert.False(t, out.Failed())
	assert.Contains(t, string(out.Data), "to stdout")
	assert.Contains(t, string(out.Data), "to stderr")
	assert.Contains(t, string(out.Data), "Median(ns): 980")
}

func TestRunEnvAndDir(t *testing.T) {
	bin := writeScript(t, `echo "lib=$LD_LIBRARY_PATH"
echo "log=$RUST_LOG"
echo "pwd=$(pwd)"`)

	dir := t.TempDir()
	t.Setenv("LD_LIBRARY_PATH", "/usr/local/lib")

	r := NewRunner("ycsb", bin, nil, discardLogger())

	out, err := r.Run(context.Background(), RunConfig{
		Dir:         dir,
		Env:         []string{"RUST_LOG=info"},
		LibraryPath: "/opt/dpdk/lib",
	})
	require.NoError(t, err)

	output := string(out.Data)
	assert.Contains(t, output, "lib=/opt/dpdk/lib:/usr/local/lib")
	assert.Contains(t, output, "log=info")

	realDir, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Contains(t, output, "pwd="+realDir)
}

func TestRunNonZeroExit(t *testing.T) {
	bin := writeScript(t, `echo "partial output"
exit 3`)

	r := NewRunner("tao", bin, nil, discardLogger())

	out, err := r.Run(context.Background(), RunConfig{})
	require.NoError(t, err)

	assert.True(t, out.Failed())
	assert.Equal(t, 3, out.ExitCode)
	assert.Contains(t, string(out.Data), "partial output")
}

func TestRunTimeout(t *testing.T) {
	bin := writeScript(t, `echo "started"
exec sleep 30`)

	r := NewRunner("tao", bin, nil, discardLogger())

	start := time.Now()
	out, err := r.Run(context.Background(), RunConfig{Timeout: 200 * time.Millisecond})
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 10*time.Second)
	assert.True(t, out.TimedOut)
	assert.True(t, out.Failed())
	assert.Contains(t, string(out.Data), "started")
}

func TestRunCancelled(t *testing.T) {
	bin := writeScript(t, "exec sleep 30")

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	r := NewRunner("tao", bin, nil, discardLogger())

	_, err := r.Run(ctx, RunConfig{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunMissingBinary(t *testing.T) {
	r := NewRunner("ycsb", filepath.Join(t.TempDir(), "nope"), nil, discardLogger())

	start := time.Now()
	_, err := r.Run(context.Background(), RunConfig{LaunchRetries: 5})
	require.Error(t, err)

	assert.Contains(t, err.Error(), "launch client ycsb")
	assert.Less(t, time.Since(start), 2*time.Second, "missing binary must not be retried")
}

func TestRunTee(t *testing.T) {
	bin := writeScript(t, `echo "streamed line"`)

	var tee bytes.Buffer

	r := NewRunner("ycsb", bin, nil, discardLogger())

	out, err := r.Run(context.Background(), RunConfig{Tee: &tee})
	require.NoError(t, err)

	assert.Equal(t, "streamed line\n", tee.String())
	assert.Equal(t, "streamed line\n", string(out.Data))
}

func TestRunArgs(t *testing.T) {
	bin := writeScript(t, `echo "args=$*"`)

	cmd := WrapCommand(bin, []string{"--config", "client.toml"}, false)
	r := NewRunner("ycsb", cmd.Binary, cmd.ExtraArgs, discardLogger())

	out, err := r.Run(context.Background(), RunConfig{})
	require.NoError(t, err)
	assert.Equal(t, "args=--config client.toml", strings.TrimSpace(string(out.Data)))
}

func TestBuildEnv(t *testing.T) {
	env := buildEnv([]string{"PATH=/bin", "LD_LIBRARY_PATH=/a"}, RunConfig{
		Env:         []string{"LD_LIBRARY_PATH=/b"},
		LibraryPath: "/native",
	})

	assert.Equal(t, "/native:/b", lookupEnv(env, "LD_LIBRARY_PATH"))
	assert.Equal(t, "/bin", lookupEnv(env, "PATH"))

	env = buildEnv(nil, RunConfig{LibraryPath: "/native"})
	assert.Equal(t, "/native", lookupEnv(env, "LD_LIBRARY_PATH"))

	env = buildEnv([]string{"HOME=/root"}, RunConfig{})
	assert.Empty(t, lookupEnv(env, "LD_LIBRARY_PATH"))
}

func TestResolveBinary(t *testing.T) {
	assert.Equal(t, filepath.Join("target", "release", "ycsb"), ResolveBinary(filepath.Join("target", "release"), "ycsb"))
	assert.Equal(t, "/usr/bin/tao", ResolveBinary("target/release", "/usr/bin/tao"))
	assert.Equal(t, "./bin/tao", ResolveBinary("target/release", "./bin/tao"))
}

func TestWrapCommand(t *testing.T) {
	cmd := WrapCommand("target/release/ycsb", nil, true)
	assert.Equal(t, "sudo", cmd.Binary)
	assert.Equal(t, []string{"-E", "target/release/ycsb"}, cmd.ExtraArgs)

	cmd = WrapCommand("target/release/ycsb", []string{"-v"}, false)
	assert.Equal(t, "target/release/ycsb", cmd.Binary)
	assert.Equal(t, []string{"-v"}, cmd.ExtraArgs)
}

func TestSplitCommand(t *testing.T) {
	cmd, err := SplitCommand(`./target/release/tao --label "graph run"`)
	require.NoError(t, err)
	assert.Equal(t, "./target/release/tao", cmd.Binary)
	assert.Equal(t, []string{"--label", "graph run"}, cmd.ExtraArgs)

	_, err = SplitCommand("   ")
	assert.Error(t, err)
}
