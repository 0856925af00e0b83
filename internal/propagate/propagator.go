// Package propagate turns alert matches into cards on the recognition
// systems that hold the matched person.
package propagate

import (
	"context"
	"fmt"
	"slices"
	"strconv"
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
	"github.com/mitrarr/mitra-go/internal/upload"
	"github.com/mitrarr/mitra-go/internal/workerpool"
)

// Defaults for Config.
const (
	DefaultPageSize  = 100
	DefaultWatchList = "PF/BNMP"
)

// DefaultWarrantTypes are the alert types sent to the alert watch list.
var DefaultWarrantTypes = []int{4, 7, 9, 13}

// DefaultActiveStatuses are the alert statuses that keep a card active.
var DefaultActiveStatuses = []int{1, 4}

// ErrUnsupportedType is returned for alerts whose type has no watch list.
var ErrUnsupportedType = errors.NewStd("unsupported alert type")

// Outcome is the result of sending one alert link.
type Outcome int

const (
	// Sent means an active alert card was created or found.
	Sent Outcome = iota
	// Deactivated means the subject's card was deactivated.
	Deactivated
	// AlreadySent means the link held a card before the call.
	AlreadySent
	// Skipped means the link's system is excluded from propagation.
	Skipped
	// Failed means the send failed and the link was marked with CardFailed.
	Failed
)

// String returns the outcome name used in logs and metrics.
func (o Outcome) String() string {
	switch o {
	case Sent:
		return "sent"
	case Deactivated:
		return "deactivated"
	case AlreadySent:
		return "already_sent"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Summary counts the work of a SendPending pass.
type Summary struct {
	Counts   map[Outcome]int
	Duration time.Duration
}

// Config holds Propagator dependencies and alert policy.
type Config struct {
	Store     *repository.Store
	Connector recognition.Connector
	Codec     dossier.Codec
	Layout    ingest.Layout
	Read      retry.Config
	Pool      *workerpool.Pool
	PageSize  int

	WatchList      string
	WarrantTypes   []int
	ActiveStatuses []int
	// RetryFailed resends links marked with CardFailed.
	RetryFailed bool
	// Systems restricts propagation to the named systems; empty means all.
	Systems []string

	Logger logger.Logger
}

// Propagator creates alert links and sends them.
type Propagator struct {
	store     *repository.Store
	connector recognition.Connector
	codec     dossier.Codec
	layout    ingest.Layout
	read      retry.Config
	pool      *workerpool.Pool
	pageSize  int

	watchList   string
	types       []int
	active      []int
	retryFailed bool
	systems     []string

	log logger.Logger
}

// New creates a Propagator.
func New(cfg Config) *Propagator {
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
	if cfg.WatchList == "" {
		cfg.WatchList = DefaultWatchList
	}
	if len(cfg.WarrantTypes) == 0 {
		cfg.WarrantTypes = DefaultWarrantTypes
	}
	if len(cfg.ActiveStatuses) == 0 {
		cfg.ActiveStatuses = DefaultActiveStatuses
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Global().Module("propagate")
	}
	return &Propagator{
		store:       cfg.Store,
		connector:   cfg.Connector,
		codec:       cfg.Codec,
		layout:      cfg.Layout,
		read:        cfg.Read,
		pool:        cfg.Pool,
		pageSize:    cfg.PageSize,
		watchList:   cfg.WatchList,
		types:       cfg.WarrantTypes,
		active:      cfg.ActiveStatuses,
		retryFailed: cfg.RetryFailed,
		systems:     cfg.Systems,
		log:         cfg.Logger,
	}
}

// LinkMatches creates the missing AlertSystemLinks: one per match and per
// recognition system fed by the matched record's source database. Each page
// of matches is committed with its code 50 entries.
func (p *Propagator) LinkMatches(ctx context.Context) (int, error) {
	var (
		created int
		after   uint
	)
	names := make(map[uint]string)
	for {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		ids, err := p.store.Matches.PageIDs(ctx, after, p.pageSize)
		if err != nil {
			return created, wrap(err, "page matches")
		}
		if len(ids) == 0 {
			break
		}
		missing, err := p.store.AlertLinks.MissingFor(ctx, ids)
		if err != nil {
			return created, wrap(err, "find missing alert links")
		}

		n := 0
		err = p.store.Transaction(ctx, func(tx *repository.Store) error {
			n = 0
			for i := range missing {
				l := missing[i]
				name, err := p.systemName(ctx, tx, names, l.RecognitionSystemID)
				if err != nil {
					return err
				}
				if !p.allowed(name) {
					continue
				}
				ok, err := tx.AlertLinks.Create(ctx, &l)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
				n++
				msg := fmt.Sprintf("alert link #%d for match #%d on system %s created", l.ID, l.AlertMatchID, name)
				if err := tx.OpLog.Append(ctx, entities.LogAlertLinkCreated, &l.ID, msg); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return created, wrap(err, "commit alert links")
		}
		created += n
		after = ids[len(ids)-1]
	}

	p.log.Info("alert links created", logger.Int("created", created))
	return created, nil
}

func (p *Propagator) systemName(ctx context.Context, tx *repository.Store, names map[uint]string, id uint) (string, error) {
	if name, ok := names[id]; ok {
		return name, nil
	}
	sys, err := tx.Catalog.SystemByID(ctx, id)
	if err != nil {
		return "", err
	}
	names[id] = sys.Name
	return sys.Name, nil
}

func (p *Propagator) allowed(system string) bool {
	return len(p.systems) == 0 || slices.Contains(p.systems, system)
}

// SendPending sends every alert link without a card on the worker pool.
// Links marked with CardFailed are included when RetryFailed is set.
func (p *Propagator) SendPending(ctx context.Context) (Summary, error) {
	start := time.Now()
	var mu sync.Mutex
	summary := Summary{Counts: make(map[Outcome]int)}

	var after uint
	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		ids, err := p.store.AlertLinks.PendingIDs(ctx, after, p.pageSize, p.retryFailed)
		if err != nil {
			return summary, wrap(err, "page pending alert links")
		}
		if len(ids) == 0 {
			break
		}

		err = workerpool.EachSlice(ctx, p.pool, ids, func(ctx context.Context, id uint) {
			outcome, _ := p.SendLink(ctx, id)
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
	p.log.Info("alert propagation finished",
		logger.Int("sent", summary.Counts[Sent]),
		logger.Int("deactivated", summary.Counts[Deactivated]),
		logger.Int("skipped", summary.Counts[Skipped]),
		logger.Int("failed", summary.Counts[Failed]),
		logger.Duration("duration", summary.Duration))
	return summary, nil
}

// SendLink sends one alert link. Active alerts get a card in the alert
// watch list carrying the warrant number (code 60); other statuses
// deactivate the card on file for the subject (code 61). Any failure marks
// the link with CardFailed and logs code 69.
func (p *Propagator) SendLink(ctx context.Context, linkID uint) (Outcome, error) {
	link, err := p.store.AlertLinks.GetDetailed(ctx, linkID)
	if err != nil {
		return Failed, wrap(err, "load alert link")
	}
	if link.CardID != nil && *link.CardID > 0 {
		return AlreadySent, nil
	}
	sys := link.RecognitionSystem
	if !p.allowed(sys.Name) {
		return Skipped, nil
	}
	alert := link.AlertMatch.Alert

	log := p.log.WithContext(ctx).With(
		logger.Int64("alert_link_id", int64(link.ID)),
		logger.Int64("alert_sequence", alert.Sequence),
		logger.String("system", sys.Name))

	var (
		card    *recognition.Card
		outcome Outcome
	)
	if !slices.Contains(p.types, alert.TypeCode) {
		err = fmt.Errorf("%w %d on alert #%d", ErrUnsupportedType, alert.TypeCode, alert.ID)
	} else if slices.Contains(p.active, alert.StatusCode) {
		outcome = Sent
		card, err = p.send(ctx, link)
	} else {
		outcome = Deactivated
		card, err = p.deactivate(ctx, link)
	}
	if err != nil {
		if ctx.Err() != nil {
			return Failed, ctx.Err()
		}
		log.Warn("alert send failed", logger.Error(err))
		p.markFailed(ctx, link, err)
		return Failed, wrap(err, "send alert")
	}

	code, verb := entities.LogAlertSent, "sent to"
	if outcome == Deactivated {
		code, verb = entities.LogAlertDeactivated, "deactivated on"
	}
	stored := false
	err = p.store.Transaction(ctx, func(tx *repository.Store) error {
		ok, err := tx.AlertLinks.SetCard(ctx, link.ID, card.ID)
		if err != nil || !ok {
			return err
		}
		stored = true
		msg := fmt.Sprintf("alert link #%d %s system %s, card %d", link.ID, verb, sys.Name, card.ID)
		return tx.OpLog.Append(ctx, code, &link.ID, msg)
	})
	if err != nil {
		return Failed, wrap(err, "store alert card")
	}
	if !stored {
		return AlreadySent, nil
	}
	log.Info("alert propagated", logger.Int64("card_id", card.ID), logger.String("outcome", outcome.String()))
	return outcome, nil
}

// send finds or creates the active alert card. A matching card that was
// deactivated earlier is reactivated.
func (p *Propagator) send(ctx context.Context, link *entities.AlertSystemLink) (*recognition.Card, error) {
	cf, err := p.cardFields(ctx, link)
	if err != nil {
		return nil, err
	}
	session, err := p.connector.Session(ctx, link.RecognitionSystem)
	if err != nil {
		return nil, err
	}

	card, err := session.FindBySimilarFields(ctx, cf)
	switch {
	case err == nil && card.Active:
		return card, nil
	case err == nil:
		return session.UpdateCard(ctx, card.ID, cf)
	case errors.Is(err, recognition.ErrNotFound):
		return session.CreateCard(ctx, cf)
	default:
		return nil, err
	}
}

// deactivate switches off the alert card of the subject on the link's
// system. Only cards in the alert watch list are touched: the one another
// link of the same upstream alert already holds, the record's own card when
// the record comes from the alert watch list's source database, or the card
// found in the watch list, which is created inactive if absent. A record
// card in any other watch list is left alone.
func (p *Propagator) deactivate(ctx context.Context, link *entities.AlertSystemLink) (*recognition.Card, error) {
	sys := link.RecognitionSystem
	alert, rec := link.AlertMatch.Alert, link.AlertMatch.Record

	cardID, ok, err := p.store.AlertLinks.SiblingCard(ctx, alert.Sequence, sys.ID, link.ID)
	if err != nil {
		return nil, err
	}
	if !ok && rec.SourceDatabase != nil && rec.SourceDatabase.Name == p.watchList {
		rl, err := p.store.Links.FindByRecordAndSystem(ctx, rec.ID, sys.ID)
		switch {
		case err == nil && rl.CardID != nil && *rl.CardID > 0:
			cardID, ok = *rl.CardID, true
		case err != nil && !errors.Is(err, repository.ErrLinkNotFound):
			return nil, err
		}
	}

	session, err := p.connector.Session(ctx, sys)
	if err != nil {
		return nil, err
	}
	if ok {
		card, err := session.DeactivateCard(ctx, cardID)
		if !errors.Is(err, recognition.ErrNotFound) {
			return card, err
		}
	}

	cf, err := p.cardFields(ctx, link)
	if err != nil {
		return nil, err
	}
	cf.Active = false
	card, err := session.FindBySimilarFields(ctx, cf)
	switch {
	case err == nil && !card.Active:
		return card, nil
	case err == nil:
		return session.DeactivateCard(ctx, card.ID)
	case errors.Is(err, recognition.ErrNotFound):
		return session.CreateCard(ctx, cf)
	default:
		return nil, err
	}
}

// cardFields builds the alert card from the matched record and its dossier.
func (p *Propagator) cardFields(ctx context.Context, link *entities.AlertSystemLink) (recognition.CardFields, error) {
	alert, rec := link.AlertMatch.Alert, link.AlertMatch.Record
	fields, err := upload.LoadDossier(ctx, p.layout, p.read, p.codec, rec)
	if err != nil {
		return recognition.CardFields{}, err
	}

	cf := upload.CardFields(rec, fields)
	cf.WatchList = p.watchList
	cf.Active = true
	cf.Comment = fmt.Sprintf("mitra alert %d for record #%d", alert.Sequence, rec.ID)
	cf.Meta[recognition.MetaAlertID] = strconv.FormatInt(alert.Sequence, 10)
	if alert.WarrantNumber != nil {
		cf.Meta[recognition.MetaWarrant] = *alert.WarrantNumber
	}
	return cf, nil
}

// markFailed sets the link's card to CardFailed and logs code 69.
func (p *Propagator) markFailed(ctx context.Context, link *entities.AlertSystemLink, cause error) {
	err := p.store.Transaction(ctx, func(tx *repository.Store) error {
		if _, err := tx.AlertLinks.SetCard(ctx, link.ID, entities.CardFailed); err != nil {
			return err
		}
		msg := fmt.Sprintf("alert link #%d on system %s: %s",
			link.ID, link.RecognitionSystem.Name, logger.RedactSensitiveData(cause.Error()))
		return tx.OpLog.Append(ctx, entities.LogAlertSendFailed, &link.ID, msg)
	})
	if err != nil {
		p.log.Error("failed to record alert failure", logger.Int64("alert_link_id", int64(link.ID)), logger.Error(err))
	}
}

func wrap(err error, operation string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return errors.New(err).
		Component("propagate").
		Category(errors.CategoryRecognition).
		Context("operation", operation).
		Build()
}
