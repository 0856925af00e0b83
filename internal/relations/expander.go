// Package relations keeps record/system links complete: every active record
// gets one RecordSystemLink per recognition system its source database
// feeds.
package relations

import (
	"context"
	"fmt"

	"github.com/mitrarr/mitra-go/internal/datastore/entities"
	"github.com/mitrarr/mitra-go/internal/datastore/repository"
	"github.com/mitrarr/mitra-go/internal/errors"
	"github.com/mitrarr/mitra-go/internal/logger"
	"github.com/mitrarr/mitra-go/internal/runcache"
)

// DefaultPageSize is the number of records linked per transaction.
const DefaultPageSize = 100

// Summary counts links written by one expansion pass.
type Summary struct {
	Created int
	Existed int
}

// Expander creates missing record/system links.
type Expander struct {
	store    *repository.Store
	cache    *runcache.Cache
	pageSize int
	log      logger.Logger
}

// New creates an Expander. A nil cache gets a private one; pageSize <= 0
// means DefaultPageSize.
func New(store *repository.Store, cache *runcache.Cache, pageSize int, log logger.Logger) *Expander {
	if cache == nil {
		cache = runcache.New(store.Catalog)
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if log == nil {
		log = logger.Global().Module("relations")
	}
	return &Expander{store: store, cache: cache, pageSize: pageSize, log: log}
}

// ExpandRecord links one record to every system reachable from its source
// database. Inactive records are left alone.
func (e *Expander) ExpandRecord(ctx context.Context, rec *entities.BiometricRecord) error {
	if !rec.Active {
		return nil
	}
	systems, err := e.cache.SystemsForSource(ctx, rec.SourceDatabaseID)
	if err != nil {
		return wrap(err, "list systems for source")
	}
	if len(systems) == 0 {
		return nil
	}

	var sum Summary
	err = e.store.Transaction(ctx, func(tx *repository.Store) error {
		sum = Summary{}
		for i := range systems {
			if err := link(ctx, tx, rec.ID, &systems[i], &sum); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return wrap(err, "expand record")
	}
	e.log.Debug("record expanded",
		logger.Int64("record_id", int64(rec.ID)),
		logger.Int("created", sum.Created),
		logger.Int("existed", sum.Existed))
	return nil
}

// ExpandAll fills in every missing link. For each system and each active
// source linked to it, records without a link are fetched a page at a time
// and each page is committed before the next one is read.
func (e *Expander) ExpandAll(ctx context.Context) (Summary, error) {
	var total Summary

	systems, err := e.cache.Systems(ctx)
	if err != nil {
		return total, wrap(err, "list systems")
	}

	for i := range systems {
		sys := &systems[i]
		sources, err := e.cache.SourcesForSystem(ctx, sys.ID, true)
		if err != nil {
			return total, wrap(err, "list sources for system")
		}
		for _, src := range sources {
			sum, err := e.expandSource(ctx, sys, src.ID)
			total.Created += sum.Created
			total.Existed += sum.Existed
			if err != nil {
				return total, err
			}
		}
	}

	e.log.Info("relationship expansion finished",
		logger.Int("created", total.Created),
		logger.Int("existed", total.Existed))
	return total, nil
}

func (e *Expander) expandSource(ctx context.Context, sys *entities.RecognitionSystem, sourceID uint) (Summary, error) {
	var total Summary
	var after uint
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		ids, err := e.store.Records.UnlinkedIDs(ctx, sourceID, sys.ID, after, e.pageSize)
		if err != nil {
			return total, wrap(err, "page unlinked records")
		}
		if len(ids) == 0 {
			return total, nil
		}

		var page Summary
		err = e.store.Transaction(ctx, func(tx *repository.Store) error {
			page = Summary{}
			for _, id := range ids {
				if err := link(ctx, tx, id, sys, &page); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return total, wrap(err, "commit link page")
		}
		total.Created += page.Created
		total.Existed += page.Existed
		after = ids[len(ids)-1]
	}
}

// link creates one link and its log entry inside tx.
func link(ctx context.Context, tx *repository.Store, recordID uint, sys *entities.RecognitionSystem, sum *Summary) error {
	l := &entities.RecordSystemLink{RecordID: recordID, RecognitionSystemID: sys.ID}
	created, err := tx.Links.Create(ctx, l)
	if err != nil {
		return err
	}
	if !created {
		sum.Existed++
		msg := fmt.Sprintf("record #%d already linked to system %s", recordID, sys.Name)
		return tx.OpLog.Append(ctx, entities.LogRelationExisted, nil, msg)
	}
	sum.Created++
	msg := fmt.Sprintf("link #%d between record #%d and system %s created", l.ID, recordID, sys.Name)
	return tx.OpLog.Append(ctx, entities.LogRelationCreated, &l.ID, msg)
}

func wrap(err error, operation string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return errors.New(err).
		Component("relations").
		Category(errors.CategoryDatabase).
		Context("operation", operation).
		Build()
}
