package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/weiihann/sweepctl/clientconfig"
	"github.com/weiihann/sweepctl/controller"
	"github.com/weiihann/sweepctl/harness"
	"github.com/weiihann/sweepctl/history"
	"github.com/weiihann/sweepctl/report"
	"github.com/weiihann/sweepctl/settings"
	"github.com/weiihann/sweepctl/workload"
)

type sweepOptions struct {
	workload string
	rate     string
	quiet    bool
	stdout   io.Writer
	stderr   io.Writer
}

func loadSettingsFile(v *viper.Viper, path string) error {
	settings.SetDefaults(v)

	return settings.ReadFile(v, path)
}

func runSweep(
	ctx context.Context,
	v *viper.Viper,
	logger *slog.Logger,
	opts sweepOptions,
) error {
	s, err := settings.Load(v)
	if err != nil {
		return err
	}

	w, err := s.Workload(opts.workload)
	if err != nil {
		return err
	}

	if opts.rate != "" {
		if _, err := cast.ToFloat64E(opts.rate); err != nil {
			return fmt.Errorf("rate %q is not a number", opts.rate)
		}
	}

	store, err := clientconfig.Load(s.ClientConfigPath())
	if err != nil {
		return fmt.Errorf("load client config: %w", err)
	}

	binPath := harness.ResolveBinary(s.BinaryDir, w.Binary)
	cmdCfg := harness.WrapCommand(binPath, w.Args, s.Sudo)

	ctrl := &controller.Controller{
		Store:     store,
		Exec:      harness.NewRunner(w.Name, cmdCfg.Binary, cmdCfg.ExtraArgs, logger),
		Workload:  w,
		RunConfig: s.RunConfig(),
		OutputDir: s.OutputDir,
		Ext:       s.OutputExt,
		Logger:    logger,
	}

	if opts.rate != "" {
		if !opts.quiet {
			ctrl.RunConfig.Tee = opts.stderr
		}

		return ctrl.Calibrate(ctx, opts.rate, opts.stdout)
	}

	if hist := openHistory(s.HistoryDB, logger); hist != nil {
		defer hist.Close()

		ctrl.History = hist
	}

	summary, err := ctrl.Sweep(ctx)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(opts.stdout, summary.Output)

	return err
}

// openHistory opens the sweep history database. Sweeps run without
// history when path is empty or the database cannot be opened.
func openHistory(path string, logger *slog.Logger) *history.Store {
	if path == "" {
		return nil
	}

	store, err := history.Open(path)
	if err != nil {
		logger.Warn("sweep history disabled",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		return nil
	}

	return store
}

func newWorkloadsCmd(v *viper.Viper, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "workloads",
		Short: "List the workloads and their sweep axes",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			s, err := settings.Load(v)
			if err != nil {
				return err
			}

			var rows [][]string

			for _, name := range workload.Names() {
				w, err := s.Workload(name)
				if err != nil {
					return err
				}

				rows = append(rows, []string{
					w.Name,
					strings.Join(append([]string{w.Binary}, w.Args...), " "),
					describeAxes(w),
					fmt.Sprint(w.Plan.Len()),
					w.Header(),
				})
			}

			return report.Listing(stdout,
				[]string{"Workload", "Command", "Axes", "Points", "Header"}, rows)
		},
	}
}

func describeAxes(w workload.Workload) string {
	parts := make([]string, len(w.Plan.Axes))

	for i, a := range w.Plan.Axes {
		switch len(a.Values) {
		case 1:
			parts[i] = fmt.Sprintf("%s=%s", a.Name, a.Values[0])
		default:
			parts[i] = fmt.Sprintf("%s[%s..%s]x%d",
				a.Name, a.Values[0], a.Values[len(a.Values)-1], len(a.Values))
		}
	}

	return strings.Join(parts, " ")
}

func newHistoryCmd(v *viper.Viper, stdout io.Writer) *cobra.Command {
	var outputJSON bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List previous sweeps",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			s, err := settings.Load(v)
			if err != nil {
				return err
			}

			if s.HistoryDB == "" {
				return errors.New("sweep history is disabled (history_db is empty)")
			}

			store, err := history.Open(s.HistoryDB)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.List()
			if err != nil {
				return err
			}

			if outputJSON {
				return report.HistoryJSON(stdout, records)
			}

			return report.History(stdout, records)
		},
	}

	cmd.Flags().BoolVar(&outputJSON, "json", false,
		"Output history as JSON instead of table")

	return cmd
}

// newSimulateCmd prints synthetic client output for the rate currently in
// the client config, so a sweep can be rehearsed without the real client.
func newSimulateCmd(v *viper.Viper, stdout io.Writer) *cobra.Command {
	var (
		name string
		seed int64
	)

	cmd := &cobra.Command{
		Use:    "simulate",
		Short:  "Print synthetic client output for the configured rate",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			s, err := settings.Load(v)
			if err != nil {
				return err
			}

			w, err := s.Workload(name)
			if err != nil {
				return err
			}

			store, err := clientconfig.Load(s.ClientConfigPath())
			if err != nil {
				return fmt.Errorf("load client config: %w", err)
			}

			raw, err := store.Value(clientconfig.FieldReqRate)
			if err != nil {
				return err
			}

			rate, err := cast.ToFloat64E(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", clientconfig.FieldReqRate, err)
			}

			if seed == 0 {
				seed = time.Now().UnixNano()
			}

			return workload.NewSimulator(w, seed).Generate(stdout, rate)
		},
	}

	cmd.Flags().StringVarP(&name, "workload", "w", "ycsb",
		"Workload whose output to imitate")
	cmd.Flags().Int64Var(&seed, "seed", 0,
		"Random seed (0 = use current time)")

	return cmd
}
