package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	libraryPathVar = "LD_LIBRARY_PATH"

	// waitDelay bounds how long Wait keeps draining output after the
	// client is killed, in case a grandchild still holds the pipe.
	waitDelay = 5 * time.Second

	launchBackoff = 100 * time.Millisecond
)

// RunConfig holds parameters for a single client execution.
type RunConfig struct {
	// Dir is the working directory of the client.
	Dir string
	// Env is appended to the inherited environment.
	Env []string
	// LibraryPath is prepended to LD_LIBRARY_PATH on every run.
	LibraryPath string
	// Timeout kills the client after the given wall time. Zero disables it.
	Timeout time.Duration
	// Tee receives a live copy of the client's output when set.
	Tee io.Writer
	// LaunchRetries is how many extra attempts a failed launch gets.
	LaunchRetries int
}

// Runner launches a single client binary.
type Runner struct {
	Name       string
	BinaryPath string
	ExtraArgs  []string
	Logger     *slog.Logger
}

// NewRunner creates a Runner for the named workload. For clients that
// need a wrapper (e.g. sudo -E), pass the wrapper as binaryPath and the
// client path in extraArgs.
func NewRunner(
	name, binaryPath string,
	extraArgs []string,
	logger *slog.Logger,
) *Runner {
	return &Runner{
		Name:       name,
		BinaryPath: binaryPath,
		ExtraArgs:  extraArgs,
		Logger:     logger.With(slog.String("client", name)),
	}
}

// Run executes the client and blocks until it exits and its output is
// drained. A non-zero exit or a timeout is reported through Output, not
// as an error; errors are reserved for launch failures and cancellation
// of ctx.
func (r *Runner) Run(ctx context.Context, cfg RunConfig) (*Output, error) {
	runCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	var buf bytes.Buffer

	var w io.Writer = &buf
	if cfg.Tee != nil {
		w = io.MultiWriter(&buf, cfg.Tee)
	}

	env := buildEnv(os.Environ(), cfg)

	r.Logger.Debug("starting client",
		slog.String("binary", r.BinaryPath),
		slog.Any("args", r.ExtraArgs),
		slog.String("dir", cfg.Dir),
	)

	wallStart := time.Now()

	cmd, err := r.start(runCtx, cfg, env, w)
	if err != nil {
		return nil, err
	}

	waitErr := cmd.Wait()

	out := &Output{Elapsed: time.Since(wallStart)}

	if waitErr != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("client %s: %w", r.Name, ctx.Err())
		}

		var exitErr *exec.ExitError

		switch {
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			out.TimedOut = true
			out.ExitCode = -1
		case errors.As(waitErr, &exitErr):
			out.ExitCode = exitErr.ExitCode()
		default:
			return nil, fmt.Errorf("wait for client %s: %w", r.Name, waitErr)
		}
	}

	out.Data = buf.Bytes()

	r.Logger.Debug("client finished",
		slog.Duration("wall_time", out.Elapsed),
		slog.Int("exit_code", out.ExitCode),
		slog.Int("output_bytes", len(out.Data)),
	)

	return out, nil
}

// start launches the client, retrying transient launch failures with
// exponential backoff. A missing binary is not retried.
func (r *Runner) start(
	ctx context.Context,
	cfg RunConfig,
	env []string,
	w io.Writer,
) (*exec.Cmd, error) {
	var (
		cmd     *exec.Cmd
		attempt int
	)

	launch := func() error {
		attempt++

		cmd = exec.CommandContext(ctx, r.BinaryPath, r.ExtraArgs...)
		cmd.Dir = cfg.Dir
		cmd.Env = env
		cmd.Stdout = w
		cmd.Stderr = w
		cmd.WaitDelay = waitDelay

		err := cmd.Start()
		if err == nil {
			return nil
		}

		if ctx.Err() != nil ||
			errors.Is(err, exec.ErrNotFound) ||
			errors.Is(err, fs.ErrNotExist) ||
			errors.Is(err, fs.ErrPermission) {
			return backoff.Permanent(err)
		}

		r.Logger.Warn("client launch failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)

		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = launchBackoff

	retries := max(cfg.LaunchRetries, 0)

	err := backoff.Retry(launch, backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(retries)), ctx,
	))
	if err != nil {
		return nil, fmt.Errorf("launch client %s: %w", r.Name, err)
	}

	return cmd, nil
}

// buildEnv appends the overlay to base and prepends the library path to
// any inherited LD_LIBRARY_PATH. Later entries win when exec dedups.
func buildEnv(base []string, cfg RunConfig) []string {
	env := make([]string, 0, len(base)+len(cfg.Env)+1)
	env = append(env, base...)
	env = append(env, cfg.Env...)

	if cfg.LibraryPath != "" {
		value := cfg.LibraryPath
		if cur := lookupEnv(env, libraryPathVar); cur != "" {
			value += string(os.PathListSeparator) + cur
		}

		env = append(env, libraryPathVar+"="+value)
	}

	return env
}

func lookupEnv(env []string, key string) string {
	for i := len(env) - 1; i >= 0; i-- {
		if v, ok := strings.CutPrefix(env[i], key+"="); ok {
			return v
		}
	}

	return ""
}
