// Package stage implements the single stage subcommands and the report
// printing shared with the run command.
package stage

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mitrarr/mitra-go/internal/buildinfo"
	"github.com/mitrarr/mitra-go/internal/conf"
	"github.com/mitrarr/mitra-go/internal/notification"
	"github.com/mitrarr/mitra-go/internal/pipeline"
)

// Spec describes a stage subcommand.
type Spec struct {
	Use    string
	Short  string
	Long   string
	Stages []pipeline.Stage
}

// Command returns a subcommand that runs the stages of spec.
func Command(settings *conf.Settings, build *buildinfo.Context, spec Spec) *cobra.Command {
	return &cobra.Command{
		Use:   spec.Use,
		Short: spec.Short,
		Long:  spec.Long,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return Execute(cmd, settings, build, spec.Stages...)
		},
	}
}

// Execute opens a pipeline runtime, runs stages and prints the report.
// With no stages every enabled stage runs.
func Execute(cmd *cobra.Command, settings *conf.Settings, build *buildinfo.Context, stages ...pipeline.Stage) error {
	ctx := cmd.Context()
	rt, err := pipeline.Open(ctx, settings, pipeline.WithBuildInfo(build))
	if err != nil {
		return err
	}
	defer rt.Close()

	var report *notification.RunReport
	if len(stages) == 0 {
		report, err = rt.RunAll(ctx)
	} else {
		report, err = rt.Run(ctx, stages...)
	}
	PrintReport(cmd.OutOrStdout(), report)
	return err
}

// PrintReport writes one line per stage with its outcome counts.
func PrintReport(w io.Writer, report *notification.RunReport) {
	if report == nil {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "STAGE\tSTATUS\tDURATION\tCOUNTS\n")
	for _, st := range report.Stages {
		status := "ok"
		if st.Err != nil {
			status = "failed"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", st.Stage, status, st.Duration.Round(time.Millisecond), formatCounts(st.Counts))
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "run %s finished in %s\n", report.RunID, report.Duration.Round(time.Millisecond))
}

func formatCounts(c map[string]int) string {
	var out string
	for _, k := range slices.Sorted(maps.Keys(c)) {
		if c[k] == 0 {
			continue
		}
		if out != "" {
			out += " "
		}
		out += fmt.Sprintf("%s=%d", k, c[k])
	}
	if out == "" {
		return "-"
	}
	return out
}
