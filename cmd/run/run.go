package run

import (
	"github.com/spf13/cobra"

	"github.com/mitrarr/mitra-go/cmd/stage"
	"github.com/mitrarr/mitra-go/internal/buildinfo"
	"github.com/mitrarr/mitra-go/internal/conf"
	"github.com/mitrarr/mitra-go/internal/pipeline"
)

// Command returns the run command, which executes the whole pipeline or a
// chosen subset of stages.
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	var names []string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline",
		Long: `Run the pipeline stages in order: ingest, expand, upload, alerts,
resolve, link_alerts and propagate. Alert stages are skipped unless
alerts.enabled is set. A failed stage does not stop the stages after it.

Examples:
  mitra run
  mitra run --stage ingest --stage upload`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stages, err := parseStages(names)
			if err != nil {
				return err
			}
			return stage.Execute(cmd, settings, build, stages...)
		},
	}

	cmd.Flags().StringSliceVar(&names, "stage", nil, "Stage to run, repeatable (default: all enabled stages)")
	return cmd
}

func parseStages(names []string) ([]pipeline.Stage, error) {
	stages := make([]pipeline.Stage, 0, len(names))
	for _, name := range names {
		s, err := pipeline.ParseStage(name)
		if err != nil {
			return nil, err
		}
		stages = append(stages, s)
	}
	return stages, nil
}
