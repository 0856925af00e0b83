// Package upload sends biometric records to the recognition systems they
// are linked to and stores the resulting card ids.
package upload

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mitrarr/mitra-go/internal/datastore/entities"
	"github.com/mitrarr/mitra-go/internal/datastore/repository"
	"github.com/mitrarr/mitra-go/internal/dossier"
	"github.com/mitrarr/mitra-go/internal/errors"
	"github.com/mitrarr/mitra-go/internal/ingest"
	"github.com/mitrarr/mitra-go/internal/logger"
	"github.com/mitrarr/mitra-go/internal/recognition"
	"github.com/mitrarr/mitra-go/internal/retry"
	"github.com/mitrarr/mitra-go/internal/workerpool"
)

// DefaultPageSize is the number of pending links fetched at a time.
const DefaultPageSize = 100

// Outcome is the result of synchronizing one link.
type Outcome int

const (
	// Created means a new card was created for the link.
	Created Outcome = iota
	// Reused means an equivalent card already existed on the system.
	Reused
	// AlreadySynced means the link had a card before the call.
	AlreadySynced
	// Failed means the upload failed and the dossier was quarantined.
	Failed
)

// String returns the outcome name used in logs and metrics.
func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Reused:
		return "reused"
	case AlreadySynced:
		return "already_synced"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Summary counts link outcomes of one SyncPending pass.
type Summary struct {
	Counts   map[Outcome]int
	Duration time.Duration
}

// Config holds Synchronizer dependencies.
type Config struct {
	Store     *repository.Store
	Connector recognition.Connector
	Codec     dossier.Codec // defaults to dossier.TaggedCodec
	Layout    ingest.Layout
	Read      retry.Config // dossier read policy, defaults to retry.DefaultConfig
	Pool      *workerpool.Pool
	PageSize  int
	Logger    logger.Logger
}

// Synchronizer uploads records to recognition systems.
type Synchronizer struct {
	store     *repository.Store
	connector recognition.Connector
	codec     dossier.Codec
	layout    ingest.Layout
	read      retry.Config
	pool      *workerpool.Pool
	pageSize  int
	log       logger.Logger
}

// New creates a Synchronizer.
func New(cfg Config) *Synchronizer {
	if cfg.Codec == nil {
		cfg.Codec = dossier.NewTaggedCodec()
	}
	if cfg.Read.Attempts == 0 {
		cfg.Read = retry.DefaultConfig()
	}
	if cfg.Pool == nil {
		cfg.Pool = workerpool.New(workerpool.MinWorkers)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Global().Module("upload")
	}
	return &Synchronizer{
		store:     cfg.Store,
		connector: cfg.Connector,
		codec:     cfg.Codec,
		layout:    cfg.Layout,
		read:      cfg.Read,
		pool:      cfg.Pool,
		pageSize:  cfg.PageSize,
		log:       cfg.Logger,
	}
}

// SyncLink makes sure the link has a card. An equivalent card already on
// the system is reused; otherwise a new one is created. On failure the
// record's dossier moves to quarantine, code 39 is logged and the link is
// left without a card; the returned error carries the cause.
func (s *Synchronizer) SyncLink(ctx context.Context, linkID uint) (Outcome, error) {
	link, err := s.store.Links.GetDetailed(ctx, linkID)
	if err != nil {
		return Failed, s.fail(err, linkID, "load link")
	}
	if link.CardID != nil {
		return AlreadySynced, nil
	}

	rec, sys := link.Record, link.RecognitionSystem
	log := s.log.WithContext(ctx).With(
		logger.Int64("link_id", int64(link.ID)),
		logger.Int64("record_id", int64(rec.ID)),
		logger.String("system", sys.Name))

	start := time.Now()
	storedLocation := rec.Location
	card, outcome, err := s.findOrCreate(ctx, rec, sys)
	if err != nil {
		if ctx.Err() != nil {
			return Failed, ctx.Err()
		}
		log.Warn("upload failed", logger.Error(err))
		s.quarantine(ctx, link, err)
		return Failed, errors.New(err).
			Component("upload").
			Category(errors.CategoryUpload).
			Timing("upload_record", time.Since(start)).
			Context("link_id", linkID).
			Build()
	}

	code := entities.LogCardCreated
	if outcome == Reused {
		code = entities.LogCardExisted
	}

	assigned := false
	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		ok, err := tx.Links.AssignCard(ctx, link.ID, card.ID)
		if err != nil || !ok {
			return err
		}
		assigned = true
		// the dossier was found in quarantine
		if rec.Location != storedLocation {
			if err := tx.Records.UpdateLocation(ctx, rec.ID, rec.Location); err != nil {
				return err
			}
		}
		msg := fmt.Sprintf("card %d for record #%d on system %s", card.ID, rec.ID, sys.Name)
		if err := tx.OpLog.Append(ctx, code, &link.ID, msg); err != nil {
			return err
		}
		msg = fmt.Sprintf("link #%d updated with card %d", link.ID, card.ID)
		return tx.OpLog.Append(ctx, entities.LogRelationCardSet, &link.ID, msg)
	})
	if err != nil {
		return Failed, s.fail(err, linkID, "store card id")
	}
	if !assigned {
		// another worker stored a card first
		return AlreadySynced, nil
	}

	log.Info("record synchronized", logger.Int64("card_id", card.ID), logger.String("outcome", outcome.String()))
	return outcome, nil
}

func (s *Synchronizer) findOrCreate(ctx context.Context, rec *entities.BiometricRecord, sys *entities.RecognitionSystem) (*recognition.Card, Outcome, error) {
	fields, err := LoadDossier(ctx, s.layout, s.read, s.codec, rec)
	if err != nil {
		return nil, Failed, err
	}

	session, err := s.connector.Session(ctx, sys)
	if err != nil {
		return nil, Failed, err
	}

	cf := CardFields(rec, fields)
	card, err := session.FindBySimilarFields(ctx, cf)
	switch {
	case err == nil:
		return card, Reused, nil
	case !errors.Is(err, recognition.ErrNotFound):
		return nil, Failed, err
	}

	card, err = session.CreateCard(ctx, cf)
	if err != nil {
		return nil, Failed, err
	}
	return card, Created, nil
}

// quarantine moves the record's dossier to the quarantine tree and logs
// code 39. Problems here are logged; the upload failure is what counts.
func (s *Synchronizer) quarantine(ctx context.Context, link *entities.RecordSystemLink, cause error) {
	rec := link.Record
	dest := rec.Location
	if !inTree(rec.Location, s.layout.Quarantine) && s.layout.Exists(rec.Location) {
		dest = s.layout.QuarantinePath(rec.Location)
		if err := s.layout.Move(rec.Location, dest); err != nil {
			s.log.Error("failed to quarantine dossier",
				logger.Int64("record_id", int64(rec.ID)),
				logger.String("location", rec.Location),
				logger.Error(err))
			dest = rec.Location
		}
	}
	moved := dest != rec.Location

	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		if moved {
			if err := tx.Records.UpdateLocation(ctx, rec.ID, dest); err != nil {
				return err
			}
		}
		msg := fmt.Sprintf("record #%d on system %s: %s",
			rec.ID, link.RecognitionSystem.Name, logger.RedactSensitiveData(cause.Error()))
		return tx.OpLog.Append(ctx, entities.LogUploadFailed, &link.ID, msg)
	})
	if err == nil {
		return
	}
	s.log.Error("failed to record upload failure", logger.Int64("link_id", int64(link.ID)), logger.Error(err))
	if moved {
		if rerr := s.layout.Move(dest, rec.Location); rerr != nil {
			s.log.Error("failed to restore dossier after rollback",
				logger.String("location", rec.Location), logger.Error(rerr))
		}
	}
}

// SyncPending synchronizes every link without a card. Links are fetched a
// page at a time and run on the pool; a failing link never blocks others.
func (s *Synchronizer) SyncPending(ctx context.Context) (Summary, error) {
	start := time.Now()
	var mu sync.Mutex
	summary := Summary{Counts: make(map[Outcome]int)}

	var after uint
	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		ids, err := s.store.Links.PendingIDs(ctx, after, s.pageSize)
		if err != nil {
			return summary, s.wrap(err, after, "page pending links")
		}
		if len(ids) == 0 {
			break
		}

		err = workerpool.EachSlice(ctx, s.pool, ids, func(ctx context.Context, id uint) {
			// SyncLink logs its own failures
			outcome, _ := s.SyncLink(ctx, id)
			mu.Lock()
			summary.Counts[outcome]++
			mu.Unlock()
		})
		if err != nil {
			return summary, err
		}
		after = ids[len(ids)-1]
	}

	summary.Duration = time.Since(start)
	s.log.Info("upload finished",
		logger.Int("created", summary.Counts[Created]),
		logger.Int("reused", summary.Counts[Reused]),
		logger.Int("already_synced", summary.Counts[AlreadySynced]),
		logger.Int("failed", summary.Counts[Failed]),
		logger.Duration("duration", summary.Duration))
	return summary, nil
}

// fail logs and wraps a failure that left no trace in the operation log.
func (s *Synchronizer) fail(err error, linkID uint, operation string) error {
	err = s.wrap(err, linkID, operation)
	if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		s.log.Error("link synchronization failed", logger.Int64("link_id", int64(linkID)), logger.Error(err))
	}
	return err
}

func (s *Synchronizer) wrap(err error, linkID uint, operation string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return errors.New(err).
		Component("upload").
		Category(errors.CategoryUpload).
		Context("operation", operation).
		Context("link_id", linkID).
		Build()
}
