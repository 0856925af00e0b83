// Package catalog imports the source databases and recognition systems the
// pipeline works with from a YAML file.
package catalog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mitrarr/mitra-go/internal/datastore/repository"
	"github.com/mitrarr/mitra-go/internal/errors"
	"github.com/mitrarr/mitra-go/internal/logger"
)

// Source is one source database entry.
type Source struct {
	Name   string `yaml:"name"`
	Active *bool  `yaml:"active"` // defaults to true
}

// System is one recognition system entry and the sources it is fed from.
type System struct {
	Name    string   `yaml:"name"`
	URL     string   `yaml:"url"`
	Sources []string `yaml:"sources"`
}

// File is the catalog document.
//
//	sources:
//	  - name: RR/CIVIL
//	  - name: RR/LEGACY
//	    active: false
//	systems:
//	  - name: FACE-RR
//	    url: http://10.0.4.12:8080
//	    sources: [RR/CIVIL]
type File struct {
	Sources []Source `yaml:"sources"`
	Systems []System `yaml:"systems"`
}

// Result counts what an import touched.
type Result struct {
	Sources  int
	Systems  int
	NewLinks int
}

// Load reads and validates a catalog file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(err).
			Component("catalog").
			Category(errors.CategoryFileIO).
			Context("operation", "read_catalog").
			Context("path", path).
			Build()
	}
	return Parse(bytes.NewReader(data))
}

// Parse decodes a catalog document. Unknown keys are rejected.
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.New(err).
			Component("catalog").
			Category(errors.CategoryConfiguration).
			Context("operation", "parse_catalog").
			Build()
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks names, URLs and that systems only reference sources
// listed in the same file.
func (f *File) Validate() error {
	var problems []error
	sources := make(map[string]bool, len(f.Sources))
	for i, s := range f.Sources {
		switch {
		case s.Name == "":
			problems = append(problems, fmt.Errorf("sources[%d]: name is empty", i))
		case sources[s.Name]:
			problems = append(problems, fmt.Errorf("sources[%d]: duplicate source %q", i, s.Name))
		}
		sources[s.Name] = true
	}

	systems := make(map[string]bool, len(f.Systems))
	for i, sys := range f.Systems {
		if sys.Name == "" {
			problems = append(problems, fmt.Errorf("systems[%d]: name is empty", i))
		} else if systems[sys.Name] {
			problems = append(problems, fmt.Errorf("systems[%d]: duplicate system %q", i, sys.Name))
		}
		systems[sys.Name] = true

		if u, err := url.Parse(sys.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			problems = append(problems, fmt.Errorf("systems[%d]: url %q must be an absolute http(s) URL", i, sys.URL))
		}
		for _, name := range sys.Sources {
			if !sources[name] {
				problems = append(problems, fmt.Errorf("systems[%d]: unknown source %q", i, name))
			}
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.New(errors.Join(problems...)).
		Component("catalog").
		Category(errors.CategoryValidation).
		Context("operation", "validate_catalog").
		Build()
}

// Import upserts every source and system and creates missing source/system
// links in one transaction. Links absent from the file are left alone.
func Import(ctx context.Context, store *repository.Store, f *File, log logger.Logger) (Result, error) {
	if log == nil {
		log = logger.Global().Module("catalog")
	}

	var res Result
	err := store.Transaction(ctx, func(tx *repository.Store) error {
		ids := make(map[string]uint, len(f.Sources))
		for _, s := range f.Sources {
			active := s.Active == nil || *s.Active
			src, err := tx.Catalog.UpsertSource(ctx, s.Name, active)
			if err != nil {
				return fmt.Errorf("source %q: %w", s.Name, err)
			}
			ids[s.Name] = src.ID
			res.Sources++
			if !active {
				log.Info("source database inactive", logger.String("source", s.Name))
			}
		}

		for _, sys := range f.Systems {
			rs, err := tx.Catalog.UpsertSystem(ctx, sys.Name, sys.URL)
			if err != nil {
				return fmt.Errorf("system %q: %w", sys.Name, err)
			}
			res.Systems++
			for _, name := range sys.Sources {
				created, err := tx.Catalog.LinkSourceSystem(ctx, ids[name], rs.ID)
				if err != nil {
					return fmt.Errorf("link %q to %q: %w", name, sys.Name, err)
				}
				if created {
					res.NewLinks++
				}
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, errors.New(err).
			Component("catalog").
			Category(errors.CategoryDatabase).
			Context("operation", "import_catalog").
			Build()
	}

	log.Info("catalog imported",
		logger.Int("sources", res.Sources),
		logger.Int("systems", res.Systems),
		logger.Int("new_links", res.NewLinks))
	return res, nil
}
