package pipeline

import (
	"context"

	"github.com/mitrarr/mitra-go/internal/alerts"
	"github.com/mitrarr/mitra-go/internal/errors"
	"github.com/mitrarr/mitra-go/internal/ingest"
	"github.com/mitrarr/mitra-go/internal/observability/metrics"
	"github.com/mitrarr/mitra-go/internal/propagate"
	"github.com/mitrarr/mitra-go/internal/relations"
	"github.com/mitrarr/mitra-go/internal/resolve"
	"github.com/mitrarr/mitra-go/internal/upload"
)

// Stage names one step of a run.
type Stage string

// Stages in run order.
const (
	Ingest    Stage = metrics.StageIngest
	Expand    Stage = metrics.StageExpand
	Upload    Stage = metrics.StageUpload
	Alerts    Stage = metrics.StageAlerts
	Resolve   Stage = metrics.StageResolve
	Link      Stage = metrics.StageLink
	Propagate Stage = metrics.StagePropagate
)

// AllStages lists every stage in run order.
var AllStages = []Stage{Ingest, Expand, Upload, Alerts, Resolve, Link, Propagate}

// ParseStage returns the stage with the given name.
func ParseStage(name string) (Stage, error) {
	for _, s := range AllStages {
		if string(s) == name {
			return s, nil
		}
	}
	return "", errors.New(errors.NewStd("unknown stage "+name)).
		Component("pipeline").
		Category(errors.CategoryValidation).
		Build()
}

// alertStage reports whether the stage belongs to warrant alert handling.
func (s Stage) alertStage() bool {
	switch s {
	case Alerts, Resolve, Link, Propagate:
		return true
	default:
		return false
	}
}

// counts maps outcome names to item counts.
type counts = map[string]int

func (rt *Runtime) runStage(ctx context.Context, s Stage) (counts, error) {
	if s.alertStage() && !rt.settings.Alerts.Enabled {
		return nil, errors.New(errors.NewStd("alert handling is disabled")).
			Component("pipeline").
			Category(errors.CategoryConfiguration).
			Context("stage", string(s)).
			Build()
	}

	switch s {
	case Ingest:
		return rt.ingest(ctx)
	case Expand:
		return rt.expand(ctx)
	case Upload:
		return rt.upload(ctx)
	case Alerts:
		return rt.ingestAlerts(ctx)
	case Resolve:
		return rt.resolve(ctx)
	case Link:
		return rt.linkMatches(ctx)
	case Propagate:
		return rt.propagate(ctx)
	}
	_, err := ParseStage(string(s))
	return nil, err
}

func (rt *Runtime) expander() *relations.Expander {
	return relations.New(rt.store, rt.cache, rt.settings.Pipeline.PageSize, rt.log.Module("relations"))
}

func (rt *Runtime) ingest(ctx context.Context) (counts, error) {
	in := ingest.New(ingest.Config{
		Store:    rt.store,
		Cache:    rt.cache,
		Layout:   rt.layout,
		Read:     rt.read,
		Expander: rt.expander(),
		Logger:   rt.log.Module("ingest"),
	})
	sum, err := in.IngestTree(ctx, rt.pool, rt.layout.IncomingDir())
	out := make(counts, len(sum.Counts))
	for outcome, n := range sum.Counts {
		out[outcome.String()] = n
	}
	return out, err
}

func (rt *Runtime) expand(ctx context.Context) (counts, error) {
	sum, err := rt.expander().ExpandAll(ctx)
	return counts{"created": sum.Created, "existed": sum.Existed}, err
}

func (rt *Runtime) upload(ctx context.Context) (counts, error) {
	syncer := upload.New(upload.Config{
		Store:     rt.store,
		Connector: rt.connector,
		Layout:    rt.layout,
		Read:      rt.read,
		Pool:      rt.pool,
		PageSize:  rt.settings.Pipeline.PageSize,
		Logger:    rt.log.Module("upload"),
	})
	sum, err := syncer.SyncPending(ctx)
	out := make(counts, len(sum.Counts))
	for outcome, n := range sum.Counts {
		out[outcome.String()] = n
	}
	return out, err
}

func (rt *Runtime) ingestAlerts(ctx context.Context) (counts, error) {
	src, err := rt.alertSource()
	if err != nil {
		return nil, err
	}
	in := alerts.New(alerts.Config{
		Store:          rt.store,
		Source:         src,
		TypeCodes:      rt.settings.Alerts.TypeCodes,
		ActiveStatuses: rt.settings.Alerts.ActiveStatuses,
		Logger:         rt.log.Module("alerts"),
	})
	res, err := in.Ingest(ctx)
	return counts{"stored": res.Stored}, err
}

func (rt *Runtime) resolve(ctx context.Context) (counts, error) {
	r := resolve.New(resolve.Config{
		Store:    rt.store,
		Cache:    rt.cache,
		PageSize: rt.settings.Pipeline.PageSize,
		Logger:   rt.log.Module("resolve"),
	})
	sum, err := r.Resolve(ctx)
	out := counts{"records": sum.Records, "matches": sum.Matches}
	for rule, n := range sum.ByRule {
		out["rule_"+rule] = n
	}
	return out, err
}

func (rt *Runtime) propagator() *propagate.Propagator {
	a := &rt.settings.Alerts
	return propagate.New(propagate.Config{
		Store:          rt.store,
		Connector:      rt.connector,
		Layout:         rt.layout,
		Read:           rt.read,
		Pool:           rt.pool,
		PageSize:       rt.settings.Pipeline.PageSize,
		WatchList:      a.WatchList,
		WarrantTypes:   a.WarrantTypes,
		ActiveStatuses: a.ActiveStatuses,
		RetryFailed:    a.RetryFailed,
		Systems:        a.Systems,
		Logger:         rt.log.Module("propagate"),
	})
}

func (rt *Runtime) linkMatches(ctx context.Context) (counts, error) {
	n, err := rt.propagator().LinkMatches(ctx)
	return counts{"created": n}, err
}

func (rt *Runtime) propagate(ctx context.Context) (counts, error) {
	sum, err := rt.propagator().SendPending(ctx)
	out := make(counts, len(sum.Counts))
	for outcome, n := range sum.Counts {
		out[outcome.String()] = n
	}
	return out, err
}
