package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mitrarr/mitra-go/internal/errors"
	"github.com/mitrarr/mitra-go/internal/logger"
	"github.com/mitrarr/mitra-go/internal/notification"
	"github.com/mitrarr/mitra-go/internal/observability/metrics"
)

// EnabledStages returns the stages a full run executes. Alert stages are
// left out unless alert handling is enabled.
func (rt *Runtime) EnabledStages() []Stage {
	stages := make([]Stage, 0, len(AllStages))
	for _, s := range AllStages {
		if s.alertStage() && !rt.settings.Alerts.Enabled {
			continue
		}
		stages = append(stages, s)
	}
	return stages
}

// RunAll runs every enabled stage.
func (rt *Runtime) RunAll(ctx context.Context) (*notification.RunReport, error) {
	return rt.Run(ctx, rt.EnabledStages()...)
}

// Run executes stages in the given order under a fresh run id. A failed
// stage is reported and the next one still runs; cancellation stops the
// run. The returned error joins the stage errors. The run report goes to
// the notification service.
func (rt *Runtime) Run(ctx context.Context, stages ...Stage) (*notification.RunReport, error) {
	report := &notification.RunReport{
		RunID:   uuid.NewString(),
		Started: time.Now(),
	}
	ctx = logger.WithTraceID(ctx, report.RunID)
	log := rt.log.WithContext(ctx).With(logger.String("run_id", report.RunID))

	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = string(s)
	}
	log.Info("run started", logger.Any("stages", names))

	var errs []error
	for _, s := range stages {
		if ctx.Err() != nil {
			break
		}
		st := rt.execute(ctx, log, s)
		report.Stages = append(report.Stages, st)
		if st.Err != nil {
			errs = append(errs, st.Err)
		}
	}

	rt.updateLinkGauges(ctx, log)
	report.Duration = time.Since(report.Started)

	failedStages, failedItems := report.Failures()
	log.Info("run finished",
		logger.Int("failed_stages", failedStages),
		logger.Int("failed_items", failedItems),
		logger.Duration("duration", report.Duration))

	// a cancelled run still reports what it did
	if err := rt.notifier.Report(context.WithoutCancel(ctx), report); err != nil {
		log.Warn("run report not delivered", logger.Error(err))
	}

	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return report, errors.Join(errs...)
}

func (rt *Runtime) execute(ctx context.Context, log logger.Logger, s Stage) notification.StageReport {
	start := time.Now()
	log.Info("stage started", logger.String("stage", string(s)))

	c, err := rt.runStage(ctx, s)
	st := notification.StageReport{
		Stage:    string(s),
		Counts:   c,
		Err:      err,
		Duration: time.Since(start),
	}

	rt.metrics.Pipeline.RecordStage(string(s), err, st.Duration)
	for outcome, n := range c {
		rt.metrics.Pipeline.AddItems(string(s), outcome, n)
	}

	fields := []logger.Field{
		logger.String("stage", string(s)),
		logger.Any("counts", c),
		logger.Duration("duration", st.Duration),
	}
	if err != nil {
		log.Error("stage failed", append(fields, logger.Error(err))...)
	} else {
		log.Info("stage finished", fields...)
	}
	return st
}

func (rt *Runtime) updateLinkGauges(ctx context.Context, log logger.Logger) {
	ctx = context.WithoutCancel(ctx)
	if st, err := rt.store.Links.Stats(ctx); err == nil {
		rt.metrics.Pipeline.SetLinks(metrics.KindRecordLinks, st.Pending, st.Synced, st.Failed)
	} else {
		log.Warn("record link stats unavailable", logger.Error(err))
	}
	if st, err := rt.store.AlertLinks.Stats(ctx); err == nil {
		rt.metrics.Pipeline.SetLinks(metrics.KindAlertLinks, st.Pending, st.Synced, st.Failed)
	} else {
		log.Warn("alert link stats unavailable", logger.Error(err))
	}
}
