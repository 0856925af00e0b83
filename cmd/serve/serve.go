package serve

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mitrarr/mitra-go/internal/api"
	"github.com/mitrarr/mitra-go/internal/buildinfo"
	"github.com/mitrarr/mitra-go/internal/conf"
	"github.com/mitrarr/mitra-go/internal/logger"
	"github.com/mitrarr/mitra-go/internal/pipeline"
)

// Command returns the serve command, which runs the operator status API
// and optionally repeats the pipeline on an interval.
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the status API and metrics",
		Long: `Serve /health, /api/v1/status, /api/v1/logs and /metrics until
interrupted. With --interval the pipeline also runs periodically and its
stage metrics appear on /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), settings, build, interval)
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "Run the pipeline every interval (0 disables)")
	cmd.Flags().String("api.listen", "", "Listen address of the status API")
	return cmd
}

func serve(ctx context.Context, settings *conf.Settings, build *buildinfo.Context, interval time.Duration) error {
	log := logger.Global().Module("serve")

	rt, err := pipeline.Open(ctx, settings, pipeline.WithBuildInfo(build))
	if err != nil {
		return err
	}
	defer rt.Close()

	srv, err := api.New(api.ConfigFromSettings(settings), rt.Store(),
		api.WithMetrics(rt.Metrics()),
		api.WithBuildInfo(build),
		api.WithDiskPaths(
			settings.Main.AppDir,
			settings.AbsPath(settings.Paths.Archive),
			settings.AbsPath(settings.Paths.Quarantine),
		))
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx) })
	if interval > 0 {
		g.Go(func() error {
			schedule(ctx, rt, interval, log)
			return nil
		})
	}
	return g.Wait()
}

// schedule runs the pipeline immediately and then every interval until ctx
// is done. Run errors are logged and the schedule continues.
func schedule(ctx context.Context, rt *pipeline.Runtime, interval time.Duration, log logger.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := rt.RunAll(ctx); err != nil && ctx.Err() == nil {
			log.Warn("scheduled run finished with errors", logger.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
