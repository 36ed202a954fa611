// Package main provides the CLI entry point for sweepctl, a benchmark
// sweep controller that drives a benchmark client across a grid of
// config values and tabulates its latency and throughput.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/weiihann/sweepctl/clientconfig"
)

// Exit codes.
const (
	exitOK           = 0
	exitFailure      = 1
	exitPrecondition = 2
)

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	root := newRootCmd(viper.New(), logger, level, os.Stdout, os.Stderr)

	err := root.ExecuteContext(ctx)

	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}

	os.Exit(exitCode(err))
}

// exitCode maps a command error to the process exit status. A client
// config that is missing or unreadable is a precondition failure.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, clientconfig.ErrNotFound),
		errors.Is(err, clientconfig.ErrMalformed):
		return exitPrecondition
	default:
		return exitFailure
	}
}

func newRootCmd(
	v *viper.Viper,
	logger *slog.Logger,
	level *slog.LevelVar,
	stdout, stderr io.Writer,
) *cobra.Command {
	var (
		settingsPath string
		logLevel     string
		opts         sweepOptions
	)

	root := &cobra.Command{
		Use:   "sweepctl [rate]",
		Short: "Benchmark sweep controller",
		Long: `Sweepctl runs a benchmark client once per point of a workload's sweep,
rewriting the client's TOML config before each run and collecting the
latency and throughput it reports into a space-separated table.

With a single numeric argument it instead runs the client once at that
offered rate and prints a one-line summary.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := level.UnmarshalText([]byte(logLevel)); err != nil {
				return fmt.Errorf("invalid --log-level %q: %w", logLevel, err)
			}

			if err := bindFlags(v, cmd.Root()); err != nil {
				return err
			}

			return loadSettingsFile(v, settingsPath)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.stdout = stdout
			opts.stderr = stderr

			if len(args) == 1 {
				opts.rate = args[0]
			}

			return runSweep(cmd.Context(), v, logger, opts)
		},
	}

	persistent := root.PersistentFlags()
	persistent.StringVar(&settingsPath, "settings", "",
		"Settings file (default: ./sweepctl.yaml if present)")
	persistent.StringVar(&logLevel, "log-level", "info",
		"Log level: debug, info, warn, error")
	persistent.String("config", "",
		"Path to the client's TOML config (default: client.toml in --workdir)")
	persistent.String("workdir", "",
		"Directory the client runs in")

	flags := root.Flags()
	flags.StringVarP(&opts.workload, "workload", "w", "ycsb",
		"Workload to sweep (see 'sweepctl workloads')")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false,
		"Do not stream client output during a calibration run")
	flags.String("binary-dir", "",
		"Directory holding the client binaries")
	flags.String("library-path", "",
		"Native library directory prepended to LD_LIBRARY_PATH")
	flags.String("output-dir", "",
		"Directory for result tables")
	flags.Duration("timeout", 0,
		"Per-run client timeout (0 = none)")
	flags.Bool("sudo", false,
		"Run the client through sudo -E")

	root.AddCommand(
		newWorkloadsCmd(v, stdout),
		newHistoryCmd(v, stdout),
		newSimulateCmd(v, stdout),
	)

	return root
}

// bindFlags binds the root command's setting flags into v.
func bindFlags(v *viper.Viper, root *cobra.Command) error {
	bindings := map[string]string{
		"client_config": "config",
		"workdir":       "workdir",
		"binary_dir":    "binary-dir",
		"library_path":  "library-path",
		"output_dir":    "output-dir",
		"timeout":       "timeout",
		"sudo":          "sudo",
	}

	for key, name := range bindings {
		flag := root.Flags().Lookup(name)
		if flag == nil {
			flag = root.PersistentFlags().Lookup(name)
		}

		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind --%s: %w", name, err)
		}
	}

	return nil
}
