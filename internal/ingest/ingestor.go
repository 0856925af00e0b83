// Package ingest turns dossier files into biometric records. Every file ends
// in exactly one place: archived next to a new record, removed as a
// duplicate, moved to the rejected tree, or left where it is and listed in
// the operation log as unreadable.
package ingest

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/mitrarr/mitra-go/internal/datastore/entities"
	"github.com/mitrarr/mitra-go/internal/datastore/repository"
	"github.com/mitrarr/mitra-go/internal/dossier"
	"github.com/mitrarr/mitra-go/internal/errors"
	"github.com/mitrarr/mitra-go/internal/logger"
	"github.com/mitrarr/mitra-go/internal/privacy"
	"github.com/mitrarr/mitra-go/internal/retry"
	"github.com/mitrarr/mitra-go/internal/runcache"
	"github.com/mitrarr/mitra-go/internal/textnorm"
)

// Outcome is the result of ingesting one file.
type Outcome int

const (
	// Created means a new record was stored and the file archived.
	Created Outcome = iota
	// Duplicate means an identical record exists; the file was removed.
	Duplicate
	// Unreadable means the file was empty, missing or failed to read.
	Unreadable
	// Rejected means the dossier was invalid or its source is unknown.
	Rejected
	// Skipped means the file was already logged as unreadable.
	Skipped
	// Failed means a database or filesystem error left the file in place.
	Failed
)

// String returns the outcome name used in logs and metrics.
func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Duplicate:
		return "duplicate"
	case Unreadable:
		return "unreadable"
	case Rejected:
		return "rejected"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result describes one ingested file.
type Result struct {
	Outcome  Outcome
	Location string                    // stored path of the input file
	Record   *entities.BiometricRecord // new or existing record for Created and Duplicate
}

// Expander is notified of every newly created record.
type Expander interface {
	ExpandRecord(ctx context.Context, rec *entities.BiometricRecord) error
}

// Config holds Ingestor dependencies.
type Config struct {
	Store    *repository.Store
	Cache    *runcache.Cache
	Codec    dossier.Codec // defaults to dossier.TaggedCodec
	Layout   Layout
	Read     retry.Config // defaults to retry.DefaultConfig
	Expander Expander     // optional
	Logger   logger.Logger
}

// Ingestor ingests dossier files.
type Ingestor struct {
	store    *repository.Store
	cache    *runcache.Cache
	codec    dossier.Codec
	layout   Layout
	read     retry.Config
	expander Expander
	log      logger.Logger
}

// New creates an Ingestor.
func New(cfg Config) *Ingestor {
	if cfg.Codec == nil {
		cfg.Codec = dossier.NewTaggedCodec()
	}
	if cfg.Read.Attempts == 0 {
		cfg.Read = retry.DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Global().Module("ingest")
	}
	if cfg.Cache == nil {
		cfg.Cache = runcache.New(cfg.Store.Catalog)
	}
	return &Ingestor{
		store:    cfg.Store,
		cache:    cfg.Cache,
		codec:    cfg.Codec,
		layout:   cfg.Layout,
		read:     cfg.Read,
		expander: cfg.Expander,
		log:      cfg.Logger,
	}
}

// IngestFile ingests one dossier file given by absolute path. The returned
// error is non-nil only for Failed results and cancellation.
func (in *Ingestor) IngestFile(ctx context.Context, absPath string) (Result, error) {
	rel, err := in.layout.Rel(absPath)
	if err != nil {
		return Result{Outcome: Failed}, errors.New(err).
			Component("ingest").
			Category(errors.CategoryValidation).
			Build()
	}
	res := Result{Location: rel}
	log := in.log.WithContext(ctx).With(logger.String("location", rel))

	logged, err := in.store.OpLog.Exists(ctx, entities.LogFileUnreadable, rel)
	if err != nil {
		return in.fail(res, err, "check unreadable log")
	}
	if logged {
		res.Outcome = Skipped
		return res, nil
	}

	data, outcome, err := retry.ReadFile(ctx, in.read, absPath)
	switch outcome {
	case retry.ReadOK:
	case retry.ReadCancelled:
		res.Outcome = Failed
		return res, err
	default:
		log.Warn("dossier unreadable", logger.String("reason", outcome.String()), logger.Error(err))
		return in.unreadable(ctx, res)
	}

	fields, err := in.codec.Decode(data)
	if err != nil {
		log.Warn("invalid dossier", logger.Error(err))
		return in.reject(ctx, res, err.Error())
	}
	if fields.NationalID != "" && !textnorm.ValidCheckDigits(fields.NationalID) {
		// kept as is; producers own CPF validation
		log.Warn("national id fails check digits",
			logger.String("national_id", privacy.MaskNationalID(fields.NationalID)))
	}

	src, err := in.cache.Source(ctx, fields.SourceDatabase)
	if errors.Is(err, repository.ErrSourceNotFound) {
		log.Warn("unknown source database", logger.String("source", fields.SourceDatabase))
		return in.reject(ctx, res, "unknown source database "+fields.SourceDatabase)
	}
	if err != nil {
		return in.fail(res, err, "lookup source database")
	}

	fingerprint, err := dossier.Fingerprint(in.codec, fields)
	if err != nil {
		return in.reject(ctx, res, err.Error())
	}

	if existing, err := in.findExisting(ctx, fingerprint, rel); err != nil {
		return in.fail(res, err, "lookup existing record")
	} else if existing != nil {
		return in.duplicate(ctx, res, existing)
	}

	rec := newRecord(fields, src, fingerprint, rel)
	archived, err := in.create(ctx, rec)
	switch {
	case errors.Is(err, repository.ErrDuplicateKey):
		// lost a race with a concurrent insert of the same dossier
		existing, ferr := in.findExisting(ctx, fingerprint, rel)
		if ferr != nil || existing == nil {
			return in.fail(res, err, "resolve duplicate")
		}
		return in.duplicate(ctx, res, existing)
	case err != nil:
		return in.fail(res, err, "create record")
	}

	rec.Location = archived
	res.Outcome = Created
	res.Record = rec
	log.Info("record created", logger.Int64("record_id", int64(rec.ID)), logger.String("archived", archived))

	if in.expander != nil {
		if err := in.expander.ExpandRecord(ctx, rec); err != nil {
			log.Warn("relationship expansion failed", logger.Error(err))
		}
	}
	return res, nil
}

// findExisting looks a record up by fingerprint, then by stored location.
func (in *Ingestor) findExisting(ctx context.Context, fingerprint, rel string) (*entities.BiometricRecord, error) {
	rec, err := in.store.Records.FindByFingerprint(ctx, fingerprint)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, repository.ErrRecordNotFound) {
		return nil, err
	}
	rec, err = in.store.Records.FindByLocation(ctx, rel)
	if errors.Is(err, repository.ErrRecordNotFound) {
		return nil, nil
	}
	return rec, err
}

// create inserts rec, logs it and archives its file in one transaction. It
// returns the stored archive path. The file is moved back when the
// transaction fails after the move.
func (in *Ingestor) create(ctx context.Context, rec *entities.BiometricRecord) (string, error) {
	rel := rec.Location
	var archived string
	moved := false

	err := in.store.Transaction(ctx, func(tx *repository.Store) error {
		if err := tx.Records.Create(ctx, rec); err != nil {
			return err
		}
		if err := tx.OpLog.Append(ctx, entities.LogRecordCreated, &rec.ID, rel); err != nil {
			return err
		}

		dest, err := in.archiveDestination(ctx, tx, rel, rec.Fingerprint)
		if err != nil {
			return err
		}
		if in.layout.Exists(dest) {
			// left behind by an interrupted run; the copy on disk wins
			if err := in.layout.Remove(rel); err != nil {
				return err
			}
		} else {
			if err := in.layout.Move(rel, dest); err != nil {
				return err
			}
			moved = true
		}
		archived = dest
		return tx.Records.UpdateLocation(ctx, rec.ID, dest)
	})

	if err != nil && moved {
		if rerr := in.layout.Move(archived, rel); rerr != nil {
			in.log.Error("failed to restore dossier after rollback",
				logger.String("location", rel), logger.Error(rerr))
		}
	}
	return archived, err
}

// archiveDestination returns the archive path for rel. When that path
// already belongs to another record the file is archived under a name
// suffixed with its fingerprint.
func (in *Ingestor) archiveDestination(ctx context.Context, tx *repository.Store, rel, fingerprint string) (string, error) {
	dest := in.layout.ArchivePath(rel)
	_, err := tx.Records.FindByLocation(ctx, dest)
	switch {
	case errors.Is(err, repository.ErrRecordNotFound):
		return dest, nil
	case err != nil:
		return "", err
	}
	ext := path.Ext(dest)
	return fmt.Sprintf("%s.%s%s", strings.TrimSuffix(dest, ext), fingerprint[:12], ext), nil
}

func (in *Ingestor) duplicate(ctx context.Context, res Result, existing *entities.BiometricRecord) (Result, error) {
	res.Outcome = Duplicate
	res.Record = existing
	// the file may be the archived copy of the existing record itself
	if existing.Location != res.Location {
		if err := in.layout.Remove(res.Location); err != nil {
			return in.fail(res, err, "remove duplicate")
		}
	}
	if err := in.store.OpLog.Append(ctx, entities.LogRecordDuplicate, &existing.ID, res.Location); err != nil {
		return in.fail(res, err, "log duplicate")
	}
	in.log.Debug("duplicate dossier removed",
		logger.String("location", res.Location),
		logger.Int64("record_id", int64(existing.ID)))
	return res, nil
}

func (in *Ingestor) unreadable(ctx context.Context, res Result) (Result, error) {
	res.Outcome = Unreadable
	logged, err := in.store.OpLog.Exists(ctx, entities.LogFileUnreadable, res.Location)
	if err != nil {
		return in.fail(res, err, "check unreadable log")
	}
	if !logged {
		if err := in.store.OpLog.Append(ctx, entities.LogFileUnreadable, nil, res.Location); err != nil {
			return in.fail(res, err, "log unreadable")
		}
	}
	return res, nil
}

func (in *Ingestor) reject(ctx context.Context, res Result, reason string) (Result, error) {
	res.Outcome = Rejected
	dest := in.layout.RejectedPath(res.Location)
	if err := in.layout.Move(res.Location, dest); err != nil {
		return in.fail(res, err, "move rejected dossier")
	}
	msg := fmt.Sprintf("%s: %s", res.Location, logger.RedactSensitiveData(reason))
	if err := in.store.OpLog.Append(ctx, entities.LogInvalidDossier, nil, msg); err != nil {
		return in.fail(res, err, "log rejected dossier")
	}
	return res, nil
}

func (in *Ingestor) fail(res Result, err error, operation string) (Result, error) {
	res.Outcome = Failed
	return res, errors.New(err).
		Component("ingest").
		Category(errors.CategoryIngest).
		Context("operation", operation).
		Context("location", res.Location).
		Build()
}

// newRecord maps decoded fields onto a record. The record inherits the
// active flag of its source database.
func newRecord(f *dossier.Fields, src *entities.SourceDatabase, fingerprint, rel string) *entities.BiometricRecord {
	rec := &entities.BiometricRecord{
		Fingerprint:      fingerprint,
		Location:         rel,
		SourceDatabaseID: src.ID,
		Name:             f.Name,
		SocialName:       optional(f.SocialName),
		Sex:              optional(f.Sex),
		MotherName:       optional(f.MotherName),
		FatherName:       optional(f.FatherName),
		Birthplace:       optional(f.Birthplace),
		Nationality:      optional(f.Nationality),
		Document:         optional(f.Document),
		NationalID:       optional(f.NationalID),
		ForeignID:        optional(f.ForeignID),
		Passport:         optional(f.Passport),
		WarrantNumber:    optional(f.WarrantNumber),
		Active:           src.Active,
	}
	if f.HasBirthDate() {
		d := time.Date(f.BirthDate.Year(), f.BirthDate.Month(), f.BirthDate.Day(), 0, 0, 0, 0, time.UTC)
		rec.BirthDate = &d
	}
	return rec
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
