package seed

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mitrarr/mitra-go/internal/catalog"
	"github.com/mitrarr/mitra-go/internal/conf"
	"github.com/mitrarr/mitra-go/internal/datastore"
	"github.com/mitrarr/mitra-go/internal/datastore/repository"
	"github.com/mitrarr/mitra-go/internal/errors"
	"github.com/mitrarr/mitra-go/internal/logger"
)

// Command returns the seed command, which imports the catalog of source
// databases and recognition systems into the local store.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "seed [catalog.yaml]",
		Short: "Import source databases and recognition systems",
		Long: `Import source databases, recognition systems and the links between
them from a YAML catalog. The file defaults to catalog.path from the
configuration. Importing the same file again changes nothing.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := settings.Catalog.Path
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return errors.New(errors.NewStd("no catalog file given")).
					Component("seed").
					Category(errors.CategoryConfiguration).
					Build()
			}

			f, err := catalog.Load(settings.AbsPath(path))
			if err != nil {
				return err
			}

			log := logger.Global().Module("catalog")
			mgr, err := datastore.Open(settings, log.Module("datastore"))
			if err != nil {
				return err
			}
			defer func() { _ = mgr.Close() }()

			res, err := catalog.Import(cmd.Context(), repository.NewStore(mgr.DB()), f, log)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d source databases, %d recognition systems, %d new links\n",
				res.Sources, res.Systems, res.NewLinks)
			return nil
		},
	}
}
