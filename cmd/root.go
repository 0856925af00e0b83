package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mitrarr/mitra-go/cmd/run"
	"github.com/mitrarr/mitra-go/cmd/seed"
	"github.com/mitrarr/mitra-go/cmd/serve"
	"github.com/mitrarr/mitra-go/cmd/stage"
	"github.com/mitrarr/mitra-go/internal/buildinfo"
	"github.com/mitrarr/mitra-go/internal/conf"
	"github.com/mitrarr/mitra-go/internal/errors"
	"github.com/mitrarr/mitra-go/internal/logger"
	"github.com/mitrarr/mitra-go/internal/pipeline"
	"github.com/mitrarr/mitra-go/internal/privacy"
)

// RootCommand creates and returns the root command. Subcommands share
// settings, which are loaded once the command line has been parsed.
func RootCommand(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	var (
		configFile string
		central    *logger.CentralLogger
		flush      = func() {}
	)

	rootCmd := &cobra.Command{
		Use:           "mitra",
		Short:         "Biometric dossier ingestion and warrant alert propagation",
		Version:       build.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	setupFlags(rootCmd, &configFile)

	rootCmd.AddCommand(
		stage.Command(settings, build, stage.Spec{
			Use:    "ingest",
			Short:  "Ingest dossier files from the incoming tree",
			Stages: []pipeline.Stage{pipeline.Ingest},
		}),
		stage.Command(settings, build, stage.Spec{
			Use:    "expand",
			Short:  "Create missing record links for every recognition system",
			Stages: []pipeline.Stage{pipeline.Expand},
		}),
		stage.Command(settings, build, stage.Spec{
			Use:    "upload",
			Short:  "Upload pending records to recognition systems",
			Stages: []pipeline.Stage{pipeline.Upload},
		}),
		stage.Command(settings, build, stage.Spec{
			Use:    "alerts",
			Short:  "Download new warrant alerts from the upstream database",
			Stages: []pipeline.Stage{pipeline.Alerts},
		}),
		stage.Command(settings, build, stage.Spec{
			Use:    "resolve",
			Short:  "Match warrant alerts against stored records",
			Stages: []pipeline.Stage{pipeline.Resolve},
		}),
		stage.Command(settings, build, stage.Spec{
			Use:    "propagate",
			Short:  "Link matched alerts to recognition systems and send them",
			Stages: []pipeline.Stage{pipeline.Link, pipeline.Propagate},
		}),
		run.Command(settings, build),
		seed.Command(settings),
		serve.Command(settings, build),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		loaded, err := conf.Load(conf.LoadOptions{
			ConfigFile:      configFile,
			Flags:           cmd.Flags(),
			CreateIfMissing: configFile == "",
		})
		if err != nil {
			return err
		}
		*settings = *loaded

		if central, err = initLogging(settings); err != nil {
			return err
		}
		flush = initTelemetry(settings, build)
		return nil
	}

	rootCmd.PersistentPostRun = func(*cobra.Command, []string) {
		flush()
		if central != nil {
			_ = central.Flush()
		}
	}

	return rootCmd
}

// setupFlags defines flags shared by all subcommands. Flag names are
// configuration keys so that they override file and environment values.
func setupFlags(rootCmd *cobra.Command, configFile *string) {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(configFile, "config", "c", "", "Configuration file (default: search ., ~/.config/mitra, /etc/mitra)")
	flags.Bool("main.debug", false, "Enable debug logging")
	flags.String("main.appdir", "", "Root directory of the dossier trees")
	flags.String("database.type", "", "Local store: sqlite or mysql")
	flags.Int("pipeline.workers", 0, "Concurrent uploads (0 sizes the pool from the number of systems)")
	flags.Int("pipeline.page_size", 0, "Rows loaded per database page")
}

func initLogging(settings *conf.Settings) (*logger.CentralLogger, error) {
	cfg := settings.Logging
	if settings.Main.Debug {
		cfg.DefaultLevel = "debug"
	}
	central, err := logger.NewCentralLogger(&cfg)
	if err != nil {
		return nil, fmt.Errorf("error initializing logger: %w", err)
	}
	logger.SetGlobal(central)
	return central, nil
}

// initTelemetry enables Sentry error reporting when configured. Telemetry
// failures are logged and never stop a command.
func initTelemetry(settings *conf.Settings, build *buildinfo.Context) func() {
	if !settings.Telemetry.Enabled {
		return func() {}
	}
	errors.SetPrivacyScrubber(privacy.ScrubMessage)
	flush, err := errors.InitSentry(errors.SentryConfig{
		DSN:         settings.Telemetry.DSN,
		Environment: settings.Telemetry.Environment,
		Release:     "mitra@" + build.GetVersion(),
	})
	if err != nil {
		logger.Global().Module("telemetry").Warn("error reporting disabled", logger.Error(err))
	}
	return flush
}
