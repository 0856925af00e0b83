// Package resolve pairs stored alerts with the biometric records of the
// same person.
package resolve

import (
	"context"
	"fmt"
	"time"

	"github.com/mitrarr/mitra-go/internal/datastore/entities"
	"github.com/mitrarr/mitra-go/internal/datastore/repository"
	"github.com/mitrarr/mitra-go/internal/errors"
	"github.com/mitrarr/mitra-go/internal/logger"
	"github.com/mitrarr/mitra-go/internal/runcache"
)

// DefaultPageSize is the number of records evaluated per transaction.
const DefaultPageSize = 100

// Summary counts the work of one resolution pass.
type Summary struct {
	Records  int
	Matches  int
	ByRule   map[string]int
	Duration time.Duration
}

// Config holds Resolver dependencies.
type Config struct {
	Store    *repository.Store
	Cache    *runcache.Cache
	Rules    []Rule // defaults to DefaultRules()
	PageSize int
	Logger   logger.Logger
}

// Resolver discovers new alert matches.
type Resolver struct {
	store    *repository.Store
	cache    *runcache.Cache
	rules    []Rule
	pageSize int
	log      logger.Logger
}

// New creates a Resolver.
func New(cfg Config) *Resolver {
	if cfg.Cache == nil {
		cfg.Cache = runcache.New(cfg.Store.Catalog)
	}
	if len(cfg.Rules) == 0 {
		cfg.Rules = DefaultRules()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Global().Module("resolve")
	}
	return &Resolver{
		store:    cfg.Store,
		cache:    cfg.Cache,
		rules:    cfg.Rules,
		pageSize: cfg.PageSize,
		log:      cfg.Logger,
	}
}

// Resolve evaluates every active record of every active source database
// that feeds a recognition system. Each page of records is committed with
// its new matches before the next page is read.
func (r *Resolver) Resolve(ctx context.Context) (Summary, error) {
	start := time.Now()
	sum := Summary{ByRule: make(map[string]int)}

	systems, err := r.cache.Systems(ctx)
	if err != nil {
		return sum, wrap(err, "list systems")
	}

	done := make(map[uint]bool)
	for i := range systems {
		sources, err := r.cache.SourcesForSystem(ctx, systems[i].ID, true)
		if err != nil {
			return sum, wrap(err, "list sources for system")
		}
		for _, src := range sources {
			// a source feeding several systems is evaluated once
			if done[src.ID] {
				continue
			}
			done[src.ID] = true
			if err := r.resolveSource(ctx, &src, &sum); err != nil {
				return sum, err
			}
		}
	}

	sum.Duration = time.Since(start)
	r.log.Info("entity resolution finished",
		logger.Int("records", sum.Records),
		logger.Int("matches", sum.Matches),
		logger.Duration("duration", sum.Duration))
	return sum, nil
}

func (r *Resolver) resolveSource(ctx context.Context, src *entities.SourceDatabase, sum *Summary) error {
	var after uint
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := r.store.Records.PageActive(ctx, src.ID, after, r.pageSize)
		if err != nil {
			return wrap(err, "page records")
		}
		if len(page) == 0 {
			return nil
		}

		matches, err := r.matchPage(ctx, page)
		if err != nil {
			return err
		}
		created, err := r.commit(ctx, matches)
		if err != nil {
			return err
		}

		sum.Records += len(page)
		sum.Matches += len(created)
		for _, m := range created {
			sum.ByRule[m.Rule]++
		}
		after = page[len(page)-1].ID
	}
}

// matchPage applies the rules to the page and the alerts that share a key
// with it, leaving out pairs that are already matched.
func (r *Resolver) matchPage(ctx context.Context, page []entities.BiometricRecord) ([]entities.AlertMatch, error) {
	var (
		ids       = make([]uint, 0, len(page))
		nids      []string
		names     []string
		seenNames = make(map[string]bool)
	)
	for i := range page {
		rec := &page[i]
		ids = append(ids, rec.ID)
		if rec.NationalID != nil && *rec.NationalID != "" {
			nids = append(nids, *rec.NationalID)
		}
		if rec.Name != "" && rec.BirthDate != nil && !seenNames[rec.Name] {
			seenNames[rec.Name] = true
			names = append(names, rec.Name)
		}
	}

	candidates, err := r.store.Alerts.Candidates(ctx, nids, names)
	if err != nil {
		return nil, wrap(err, "load candidate alerts")
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	existing, err := r.store.Matches.ExistingPairs(ctx, ids)
	if err != nil {
		return nil, wrap(err, "load existing matches")
	}

	byNID := make(map[string][]*entities.WatchlistAlert)
	byName := make(map[string][]*entities.WatchlistAlert)
	for i := range candidates {
		a := &candidates[i]
		if a.NationalID != nil {
			byNID[*a.NationalID] = append(byNID[*a.NationalID], a)
		}
		byName[a.Name] = append(byName[a.Name], a)
	}

	var out []entities.AlertMatch
	for i := range page {
		rec := &page[i]
		seen := make(map[uint]bool)
		var pool []*entities.WatchlistAlert
		if rec.NationalID != nil {
			pool = append(pool, byNID[*rec.NationalID]...)
		}
		pool = append(pool, byName[rec.Name]...)

		for _, a := range pool {
			if seen[a.ID] {
				continue
			}
			seen[a.ID] = true
			if _, ok := existing[repository.MatchKey{AlertID: a.ID, RecordID: rec.ID}]; ok {
				continue
			}
			if rule, ok := First(r.rules, rec, a); ok {
				out = append(out, entities.AlertMatch{AlertID: a.ID, RecordID: rec.ID, Rule: rule})
			}
		}
	}
	return out, nil
}

// commit inserts the page's matches and their log entries in one
// transaction. Pairs inserted concurrently by another run are skipped.
func (r *Resolver) commit(ctx context.Context, matches []entities.AlertMatch) ([]entities.AlertMatch, error) {
	if len(matches) == 0 {
		return nil, nil
	}
	var created []entities.AlertMatch
	err := r.store.Transaction(ctx, func(tx *repository.Store) error {
		created = created[:0]
		for i := range matches {
			m := matches[i]
			ok, err := tx.Matches.Create(ctx, &m)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			msg := fmt.Sprintf("alert #%d matched record #%d by rule %s", m.AlertID, m.RecordID, m.Rule)
			if err := tx.OpLog.Append(ctx, entities.LogMatchDiscovered, &m.ID, msg); err != nil {
				return err
			}
			created = append(created, m)
		}
		return nil
	})
	if err != nil {
		return nil, wrap(err, "commit matches")
	}
	for _, m := range created {
		r.log.Debug("match discovered",
			logger.Int64("match_id", int64(m.ID)),
			logger.Int64("alert_id", int64(m.AlertID)),
			logger.Int64("record_id", int64(m.RecordID)),
			logger.String("rule", m.Rule))
	}
	return created, nil
}

func wrap(err error, operation string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return errors.New(err).
		Component("resolve").
		Category(errors.CategoryMatching).
		Context("operation", operation).
		Build()
}
