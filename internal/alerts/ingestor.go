package alerts

import (
	"context"
	"strings"
	"time"

	"github.com/mitrarr/mitra-go/internal/datastore/entities"
	"github.com/mitrarr/mitra-go/internal/datastore/repository"
	"github.com/mitrarr/mitra-go/internal/errors"
	"github.com/mitrarr/mitra-go/internal/logger"
	"github.com/mitrarr/mitra-go/internal/textnorm"
)

// Default upstream filters.
var (
	DefaultTypeCodes      = []int{4, 7, 9, 13}
	DefaultActiveStatuses = []int{1, 4}
)

// Result describes one ingestion pass.
type Result struct {
	// Since is the watermark the pass started from.
	Since time.Time
	// HighWater is the watermark after the pass.
	HighWater time.Time
	Stored    int
	FirstRun  bool
}

// Config holds Ingestor dependencies.
type Config struct {
	Store          *repository.Store
	Source         Source
	TypeCodes      []int
	ActiveStatuses []int
	Logger         logger.Logger
}

// Ingestor copies new and changed upstream alerts into the store.
type Ingestor struct {
	store    *repository.Store
	source   Source
	types    []int
	statuses []int
	log      logger.Logger
}

// New creates an Ingestor.
func New(cfg Config) *Ingestor {
	if len(cfg.TypeCodes) == 0 {
		cfg.TypeCodes = DefaultTypeCodes
	}
	if len(cfg.ActiveStatuses) == 0 {
		cfg.ActiveStatuses = DefaultActiveStatuses
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Global().Module("alerts")
	}
	return &Ingestor{
		store:    cfg.Store,
		source:   cfg.Source,
		types:    cfg.TypeCodes,
		statuses: cfg.ActiveStatuses,
		log:      cfg.Logger,
	}
}

// Ingest fetches alerts changed since the last download and stores them in
// one transaction. The first run, with nothing stored yet, starts from the
// Unix epoch and only takes active alerts.
func (i *Ingestor) Ingest(ctx context.Context) (Result, error) {
	since, ok, err := i.store.Alerts.Watermark(ctx)
	if err != nil {
		return Result{}, wrap(err, errors.CategoryDatabase, "read watermark")
	}
	res := Result{FirstRun: !ok}
	if !ok {
		since = time.Unix(0, 0).UTC()
	}
	res.Since, res.HighWater = since, since

	q := Query{Since: since, TypeCodes: i.types}
	if res.FirstRun {
		q.Statuses = i.statuses
	}
	rows, err := i.source.Fetch(ctx, q)
	if err != nil {
		return res, wrap(err, errors.CategoryAlertSource, "fetch alerts")
	}
	if len(rows) == 0 {
		i.log.Info("no new alerts", logger.Time("since", since))
		return res, nil
	}

	batch := make([]entities.WatchlistAlert, 0, len(rows))
	for j := range rows {
		a := convert(&rows[j])
		batch = append(batch, a)
		if a.DownloadedAt.After(res.HighWater) {
			res.HighWater = a.DownloadedAt
		}
	}

	err = i.store.Transaction(ctx, func(tx *repository.Store) error {
		return tx.Alerts.CreateBatch(ctx, batch)
	})
	if err != nil {
		return Result{Since: since, HighWater: since, FirstRun: res.FirstRun}, wrap(err, errors.CategoryDatabase, "store alerts")
	}
	res.Stored = len(batch)

	i.log.Info("alerts downloaded",
		logger.Int("stored", res.Stored),
		logger.Bool("first_run", res.FirstRun),
		logger.Time("since", since),
		logger.Time("high_water", res.HighWater))
	return res, nil
}

// convert normalizes an upstream row the way dossier fields are normalized,
// so the resolver compares like with like.
func convert(u *Upstream) entities.WatchlistAlert {
	a := entities.WatchlistAlert{
		Sequence:         u.Sequence,
		TypeCode:         u.TypeCode,
		StatusCode:       u.StatusCode,
		Name:             textnorm.Name(u.Name),
		MotherName:       namePtr(u.MotherName),
		FatherName:       namePtr(u.FatherName),
		WarrantNumber:    Warrant(u.WarrantNumber),
		AlertUpdatedAt:   u.AlertUpdatedAt,
		SubjectUpdatedAt: u.SubjectUpdatedAt,
		DownloadedAt:     u.DownloadedAt.UTC(),
	}
	if u.BirthDate != nil {
		y, m, d := u.BirthDate.Date()
		bd := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		a.BirthDate = &bd
	}
	if u.NationalID != nil {
		if id, ok := textnorm.NationalID(*u.NationalID); ok {
			a.NationalID = &id
		}
	}
	return a
}

// Warrant returns the warrant number when it is made of digits only and nil
// otherwise.
func Warrant(s *string) *string {
	if s == nil {
		return nil
	}
	w := strings.TrimSpace(*s)
	if !textnorm.AllDigits(w) {
		return nil
	}
	return &w
}

func namePtr(s *string) *string {
	if s == nil {
		return nil
	}
	return textnorm.NamePtr(*s)
}

func wrap(err error, category errors.ErrorCategory, operation string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return errors.New(err).
		Component("alerts").
		Category(category).
		Context("operation", operation).
		Build()
}
