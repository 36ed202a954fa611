// Package controller drives a workload's sweep: for every run point it
// rewrites the client config, runs the client, extracts metrics from its
// output and appends rows to the result table.
package controller

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/google/uuid"

	"github.com/weiihann/sweepctl/clientconfig"
	"github.com/weiihann/sweepctl/extract"
	"github.com/weiihann/sweepctl/harness"
	"github.com/weiihann/sweepctl/history"
	"github.com/weiihann/sweepctl/report"
	"github.com/weiihann/sweepctl/sweep"
	"github.com/weiihann/sweepctl/workload"
)

// Executor runs the client once. *harness.Runner implements it.
type Executor interface {
	Run(ctx context.Context, cfg harness.RunConfig) (*harness.Output, error)
}

// Controller holds everything one sweep or calibration run needs.
type Controller struct {
	Store     *clientconfig.Store
	Exec      Executor
	Workload  workload.Workload
	RunConfig harness.RunConfig
	OutputDir string
	Ext       string
	// History is optional; nil disables sweep history.
	History *history.Store
	Logger  *slog.Logger
}

// Summary describes a finished sweep.
type Summary struct {
	ID      string
	Output  string
	Points  int
	Rows    int
	Failed  int
	WallP50 time.Duration
	WallP99 time.Duration
	WallMax time.Duration
}

// Sweep runs every point of the workload's plan in order. A point whose
// client fails or whose output lacks metrics still produces a row; only
// config, sink and cancellation errors stop the sweep.
func (c *Controller) Sweep(ctx context.Context) (*Summary, error) {
	w := c.Workload

	if err := w.Plan.Validate(); err != nil {
		return nil, fmt.Errorf("workload %s: %w", w.Name, err)
	}

	invoke, err := c.Store.Get(clientconfig.FieldUseInvoke)
	if err != nil {
		return nil, fmt.Errorf("read invoke flag: %w", err)
	}

	id := newSweepID()
	logger := c.Logger.With(
		slog.String("sweep", id),
		slog.String("workload", w.Name),
	)

	labels := c.readLabels(logger)

	table, err := report.Create(c.OutputDir, report.OutputName(w.Name, invoke, c.Ext), w.Columns)
	if err != nil {
		return nil, err
	}
	defer table.Close()

	logger.InfoContext(ctx, "starting sweep",
		slog.Int("points", w.Plan.Len()),
		slog.String("output", table.Path()),
		slog.String("invoke", invoke),
	)

	summary := &Summary{ID: id, Output: table.Path()}
	wall := hdrhistogram.New(1, int64(24*time.Hour/time.Millisecond), 3)
	started := time.Now()

	for point := range w.Plan.Points() {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		pointLogger := logger.With(slog.String("point", point.String()))

		records, out, err := c.runPoint(ctx, pointLogger, point)
		if err != nil {
			return summary, err
		}

		summary.Points++

		if out == nil || out.Failed() {
			summary.Failed++
		}

		if out != nil {
			if err := wall.RecordValue(out.Elapsed.Milliseconds()); err != nil {
				pointLogger.Debug("wall time out of histogram range",
					slog.Duration("elapsed", out.Elapsed))
			}
		}

		for _, rec := range records {
			if err := table.Append(point, labels, rec); err != nil {
				return summary, err
			}
		}

		pointLogger.InfoContext(ctx, "point complete",
			slog.Int("rows", len(records)),
			slog.Int("done", summary.Points),
			slog.Int("total", w.Plan.Len()),
		)
	}

	summary.Rows = table.Rows()

	if err := table.Close(); err != nil {
		return summary, err
	}

	summary.WallP50 = time.Duration(wall.ValueAtQuantile(50)) * time.Millisecond
	summary.WallP99 = time.Duration(wall.ValueAtQuantile(99)) * time.Millisecond
	summary.WallMax = time.Duration(wall.Max()) * time.Millisecond

	c.saveHistory(logger, history.Record{
		ID:         id,
		Workload:   w.Name,
		Invoke:     invoke,
		Output:     table.Path(),
		StartedAt:  started,
		FinishedAt: time.Now(),
		Points:     summary.Points,
		Rows:       summary.Rows,
		Failed:     summary.Failed,
		WallP50Ms:  summary.WallP50.Milliseconds(),
		WallP99Ms:  summary.WallP99.Milliseconds(),
		WallMaxMs:  summary.WallMax.Milliseconds(),
	})

	logger.InfoContext(ctx, "sweep complete",
		slog.Int("rows", summary.Rows),
		slog.Int("failed_points", summary.Failed),
		slog.Duration("wall_p50", summary.WallP50),
		slog.Duration("wall_p99", summary.WallP99),
		slog.Duration("elapsed", time.Since(started)),
	)

	return summary, nil
}

// Calibrate runs the client once at rate and writes a single summary line
// to w. No result table is touched.
func (c *Controller) Calibrate(ctx context.Context, rate string, w io.Writer) error {
	wl := c.Workload

	if err := c.Store.Set(clientconfig.FieldReqRate, rate); err != nil {
		return fmt.Errorf("set %s: %w", clientconfig.FieldReqRate, err)
	}

	if err := c.Store.Save(); err != nil {
		return fmt.Errorf("save client config: %w", err)
	}

	logger := c.Logger.With(
		slog.String("workload", wl.Name),
		slog.String("rate", rate),
	)
	logger.InfoContext(ctx, "starting calibration run")

	out, err := c.Exec.Run(ctx, c.RunConfig)
	if err != nil {
		return err
	}

	c.warnFailure(logger, out)

	records, err := extract.Extract(bytes.NewReader(out.Data), wl.Rules)
	if err != nil {
		logger.Warn("client output partly unread", slog.String("error", err.Error()))
	}

	rec := records[len(records)-1]
	c.warnMissing(logger, rec)

	return report.Summary(w, wl.Columns, wl.Headline, rate, rec)
}

// runPoint applies the point to the client config, runs the client and
// extracts its metrics. The returned output is nil when the client could
// not be launched.
func (c *Controller) runPoint(
	ctx context.Context,
	logger *slog.Logger,
	point sweep.Point,
) ([]extract.Record, *harness.Output, error) {
	if err := c.apply(logger, point); err != nil {
		return nil, nil, err
	}

	out, err := c.Exec.Run(ctx, c.RunConfig)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}

		logger.Warn("client did not run", slog.String("error", err.Error()))

		return []extract.Record{{}}, nil, nil
	}

	c.warnFailure(logger, out)

	records, err := extract.Extract(bytes.NewReader(out.Data), c.Workload.Rules)
	if err != nil {
		logger.Warn("client output partly unread", slog.String("error", err.Error()))
	}

	for _, rec := range records {
		c.warnMissing(logger, rec)
	}

	return records, out, nil
}

// apply writes every axis value of point into the client config. A value
// whose shape does not fit its field is skipped with a warning.
func (c *Controller) apply(logger *slog.Logger, point sweep.Point) error {
	for _, a := range point.Assignments {
		err := c.Store.Set(a.Field, a.Value)

		switch {
		case err == nil:
		case errors.Is(err, clientconfig.ErrShapeMismatch),
			errors.Is(err, clientconfig.ErrMissingField):
			logger.Warn("config update skipped",
				slog.String("field", a.Field),
				slog.String("value", a.Value),
				slog.String("error", err.Error()),
			)
		default:
			return fmt.Errorf("set %s: %w", a.Field, err)
		}
	}

	if err := c.Store.Save(); err != nil {
		return fmt.Errorf("save client config: %w", err)
	}

	return nil
}

// readLabels reads the config fields the table prints. Missing fields are
// left out and render as report.Missing.
func (c *Controller) readLabels(logger *slog.Logger) map[string]string {
	labels := make(map[string]string)

	for _, field := range c.Workload.LabelFields() {
		v, err := c.Store.Get(field)
		if err != nil {
			logger.Warn("label field unavailable",
				slog.String("field", field),
				slog.String("error", err.Error()),
			)

			continue
		}

		labels[field] = v
	}

	return labels
}

func (c *Controller) warnFailure(logger *slog.Logger, out *harness.Output) {
	switch {
	case out.TimedOut:
		logger.Warn("client timed out",
			slog.Duration("timeout", c.RunConfig.Timeout),
			slog.Int("output_bytes", len(out.Data)),
		)
	case out.ExitCode != 0:
		logger.Warn("client exited with error",
			slog.Int("exit_code", out.ExitCode),
			slog.Int("output_bytes", len(out.Data)),
		)
	case len(out.Data) == 0:
		logger.Warn("client produced no output")
	}
}

func (c *Controller) warnMissing(logger *slog.Logger, rec extract.Record) {
	if missing := extract.Missing(rec, c.Workload.Rules); len(missing) > 0 {
		logger.Warn("metrics not found in client output",
			slog.Any("metrics", missing),
		)
	}
}

func (c *Controller) saveHistory(logger *slog.Logger, rec history.Record) {
	if c.History == nil {
		return
	}

	if err := c.History.Save(rec); err != nil {
		logger.Warn("failed to record sweep history",
			slog.String("error", err.Error()),
		)
	}
}

func newSweepID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}

	return id.String()
}
