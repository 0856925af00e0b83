package propagate

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mitrarr/mitra-go/internal/datastore/entities"
	"github.com/mitrarr/mitra-go/internal/datastore/repository"
	"github.com/mitrarr/mitra-go/internal/dossier"
	"github.com/mitrarr/mitra-go/internal/ingest"
	"github.com/mitrarr/mitra-go/internal/recognition"
	"github.com/mitrarr/mitra-go/internal/recognition/recognitiontest"
	"github.com/mitrarr/mitra-go/internal/retry"
	"github.com/mitrarr/mitra-go/internal/testutil"
	"github.com/mitrarr/mitra-go/internal/workerpool"
)

type fixture struct {
	db      *gorm.DB
	store   *repository.Store
	layout  ingest.Layout
	civil   *entities.SourceDatabase
	sysA    *entities.RecognitionSystem
	sysB    *entities.RecognitionSystem
	fakeA   *recognitiontest.System
	fakeB   *recognitiontest.System
	connect *recognitiontest.Connector
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	f := &fixture{
		db:    db,
		store: repository.NewStore(db),
		layout: ingest.Layout{
			Root:       t.TempDir(),
			Incoming:   "nists",
			Archive:    "nists_lidos",
			Rejected:   "nists_lidos_com_erro",
			Quarantine: "nists_quarentena",
			Extension:  ".nst",
		},
		fakeA: recognitiontest.NewSystem(100),
		fakeB: recognitiontest.NewSystem(500),
	}
	f.civil = testutil.SeedSource(t, db, "RR/CIVIL", true)
	f.sysA = testutil.SeedSystem(t, db, "FACE-A", "http://a", f.civil)
	f.sysB = testutil.SeedSystem(t, db, "FACE-B", "http://b", f.civil)
	f.connect = recognitiontest.NewConnector(map[uint]*recognitiontest.System{
		f.sysA.ID: f.fakeA,
		f.sysB.ID: f.fakeB,
	})
	return f
}

func (f *fixture) propagator(mod func(*Config)) *Propagator {
	cfg := Config{
		Store:     f.store,
		Connector: f.connect,
		Layout:    f.layout,
		Read:      retry.Config{Attempts: 1},
		Pool:      workerpool.New(4),
		PageSize:  2,
		Logger:    testutil.DiscardLogger(),
	}
	if mod != nil {
		mod(&cfg)
	}
	return New(cfg)
}

// record seeds a record and writes its dossier.
func (f *fixture) record(t *testing.T, name, nationalID string) *entities.BiometricRecord {
	t.Helper()
	return f.recordIn(t, f.civil, name, nationalID)
}

func (f *fixture) recordIn(t *testing.T, src *entities.SourceDatabase, name, nationalID string) *entities.BiometricRecord {
	t.Helper()
	rec := testutil.SeedRecord(t, f.db, src, testutil.RecordSpec{Name: name, NationalID: nationalID})
	rec.SourceDatabase = src
	data, err := dossier.NewTaggedCodec().Encode(&dossier.Fields{
		SourceDatabase: src.Name,
		Name:           rec.Name,
		NationalID:     nationalID,
		Images:         []string{"aW1n"},
	})
	require.NoError(t, err)
	abs := f.layout.Abs(rec.Location)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, data, 0o600))
	return rec
}

// match stores an alert row for rec and matches them.
func (f *fixture) match(t *testing.T, rec *entities.BiometricRecord, a entities.WatchlistAlert) *entities.AlertMatch {
	t.Helper()
	ctx := context.Background()
	a.Name = rec.Name
	a.NationalID = rec.NationalID
	if a.DownloadedAt.IsZero() {
		a.DownloadedAt = time.Now().UTC()
	}
	batch := []entities.WatchlistAlert{a}
	require.NoError(t, f.store.Alerts.CreateBatch(ctx, batch))

	m := &entities.AlertMatch{AlertID: batch[0].ID, RecordID: rec.ID, Rule: "national-id"}
	ok, err := f.store.Matches.Create(ctx, m)
	require.NoError(t, err)
	require.True(t, ok)
	return m
}

func (f *fixture) alertLink(t *testing.T, m *entities.AlertMatch, sys *entities.RecognitionSystem) *entities.AlertSystemLink {
	t.Helper()
	l := &entities.AlertSystemLink{AlertMatchID: m.ID, RecognitionSystemID: sys.ID}
	ok, err := f.store.AlertLinks.Create(context.Background(), l)
	require.NoError(t, err)
	require.True(t, ok)
	return l
}

func (f *fixture) card(t *testing.T, id uint) *int64 {
	t.Helper()
	l, err := f.store.AlertLinks.GetDetailed(context.Background(), id)
	require.NoError(t, err)
	return l.CardID
}

func (f *fixture) counts(t *testing.T) map[entities.LogCode]int64 {
	t.Helper()
	counts, err := f.store.OpLog.CountByCode(context.Background(), testutil.MustDate(t, "2000-01-01"))
	require.NoError(t, err)
	return counts
}

func TestLinkMatches(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	for _, nid := range []string{"12345678901", "10987654321", "11122233344"} {
		rec := f.record(t, "PESSOA "+nid, nid)
		f.match(t, rec, entities.WatchlistAlert{Sequence: 1, TypeCode: 4, StatusCode: 1})
	}

	n, err := f.propagator(nil).LinkMatches(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, n, "three matches on two systems")
	assert.Equal(t, int64(6), f.counts(t)[entities.LogAlertLinkCreated])

	n, err = f.propagator(nil).LinkMatches(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLinkMatches_SystemFilter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	rec := f.record(t, "JOAO DA SILVA", "12345678901")
	f.match(t, rec, entities.WatchlistAlert{Sequence: 1, TypeCode: 4, StatusCode: 1})

	n, err := f.propagator(func(c *Config) { c.Systems = []string{"FACE-B"} }).LinkMatches(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var links []entities.AlertSystemLink
	require.NoError(t, f.db.Find(&links).Error)
	require.Len(t, links, 1)
	assert.Equal(t, f.sysB.ID, links[0].RecognitionSystemID)
}

func TestSendLink_ActiveAlertCreatesWarrantCard(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	rec := f.record(t, "JOAO DA SILVA", "12345678901")
	m := f.match(t, rec, entities.WatchlistAlert{Sequence: 9, TypeCode: 4, StatusCode: 1, WarrantNumber: testutil.Ptr("0001234")})
	l := f.alertLink(t, m, f.sysA)

	outcome, err := f.propagator(nil).SendLink(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, Sent, outcome)

	card := f.card(t, l.ID)
	require.NotNil(t, card)
	assert.Equal(t, int64(100), *card)

	_, fields, ok := f.fakeA.Card(100)
	require.True(t, ok)
	assert.Equal(t, DefaultWatchList, fields.WatchList)
	assert.True(t, fields.Active)
	assert.Equal(t, "0001234", fields.Meta[recognition.MetaWarrant])
	assert.Equal(t, "9", fields.Meta[recognition.MetaAlertID])
	assert.Equal(t, []string{"aW1n"}, fields.Photos)
	assert.Equal(t, int64(1), f.counts(t)[entities.LogAlertSent])

	outcome, err = f.propagator(nil).SendLink(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, AlreadySent, outcome)
	assert.Equal(t, 1, f.fakeA.Creates)
}

func TestSendLink_ReusesAndReactivatesCard(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	rec := f.record(t, "JOAO DA SILVA", "12345678901")
	existing := f.fakeA.Seed(recognition.CardFields{
		Name:      "JOAO DA SILVA",
		WatchList: DefaultWatchList,
		Active:    false,
		Meta:      map[string]string{recognition.MetaNationalID: "12345678901"},
	})
	m := f.match(t, rec, entities.WatchlistAlert{Sequence: 9, TypeCode: 7, StatusCode: 4})
	l := f.alertLink(t, m, f.sysA)

	outcome, err := f.propagator(nil).SendLink(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, Sent, outcome)
	assert.Zero(t, f.fakeA.Creates)
	assert.Equal(t, existing, *f.card(t, l.ID))

	card, _, _ := f.fakeA.Card(existing)
	assert.True(t, card.Active)
}

func TestSendLink_DeactivatesSiblingCard(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	p := f.propagator(nil)

	rec := f.record(t, "JOAO DA SILVA", "12345678901")
	first := f.alertLink(t, f.match(t, rec, entities.WatchlistAlert{Sequence: 9, TypeCode: 4, StatusCode: 1}), f.sysA)
	_, err := p.SendLink(ctx, first.ID)
	require.NoError(t, err)

	// the warrant is served upstream; a new row arrives with status 2
	released := f.alertLink(t, f.match(t, rec, entities.WatchlistAlert{Sequence: 9, TypeCode: 4, StatusCode: 2}), f.sysA)
	outcome, err := p.SendLink(ctx, released.ID)
	require.NoError(t, err)
	assert.Equal(t, Deactivated, outcome)

	assert.Equal(t, []int64{100}, f.fakeA.Deactivated)
	assert.Equal(t, int64(100), *f.card(t, released.ID))
	assert.Equal(t, int64(1), f.counts(t)[entities.LogAlertDeactivated])
}

func TestSendLink_DeactivationLeavesRecordCardActive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	rec := f.record(t, "JOAO DA SILVA", "12345678901")
	civilCard := f.fakeB.Seed(recognition.CardFields{
		Name:      rec.Name,
		WatchList: "RR/CIVIL",
		Active:    true,
		Meta:      map[string]string{recognition.MetaNationalID: "12345678901"},
	})
	_, err := f.store.Links.Create(ctx, &entities.RecordSystemLink{RecordID: rec.ID, RecognitionSystemID: f.sysB.ID, CardID: &civilCard})
	require.NoError(t, err)

	l := f.alertLink(t, f.match(t, rec, entities.WatchlistAlert{Sequence: 3, TypeCode: 9, StatusCode: 3}), f.sysB)
	outcome, err := f.propagator(nil).SendLink(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, Deactivated, outcome)

	assert.Empty(t, f.fakeB.Deactivated)
	civil, _, ok := f.fakeB.Card(civilCard)
	require.True(t, ok)
	assert.True(t, civil.Active, "the civil card is not an alert card")

	alertCard := *f.card(t, l.ID)
	assert.NotEqual(t, civilCard, alertCard)
	card, fields, ok := f.fakeB.Card(alertCard)
	require.True(t, ok)
	assert.False(t, card.Active)
	assert.Equal(t, DefaultWatchList, fields.WatchList)
}

func TestSendLink_DeactivatesRecordCardInAlertWatchList(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	bnmp := testutil.SeedSource(t, f.db, DefaultWatchList, true)
	rec := f.recordIn(t, bnmp, "JOAO DA SILVA", "12345678901")
	bnmpCard := f.fakeB.Seed(recognition.CardFields{Name: rec.Name, WatchList: DefaultWatchList, Active: true})
	_, err := f.store.Links.Create(ctx, &entities.RecordSystemLink{RecordID: rec.ID, RecognitionSystemID: f.sysB.ID, CardID: &bnmpCard})
	require.NoError(t, err)

	l := f.alertLink(t, f.match(t, rec, entities.WatchlistAlert{Sequence: 3, TypeCode: 9, StatusCode: 3}), f.sysB)
	outcome, err := f.propagator(nil).SendLink(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, Deactivated, outcome)
	assert.Equal(t, []int64{bnmpCard}, f.fakeB.Deactivated)
	assert.Equal(t, bnmpCard, *f.card(t, l.ID))
}

func TestSendLink_NothingOnFileCreatesInactiveCard(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	rec := f.record(t, "JOAO DA SILVA", "12345678901")
	l := f.alertLink(t, f.match(t, rec, entities.WatchlistAlert{Sequence: 3, TypeCode: 9, StatusCode: 3}), f.sysA)

	outcome, err := f.propagator(nil).SendLink(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, Deactivated, outcome)

	card, fields, ok := f.fakeA.Card(*f.card(t, l.ID))
	require.True(t, ok)
	assert.False(t, card.Active)
	assert.Equal(t, DefaultWatchList, fields.WatchList)
}

func TestSendLink_UnsupportedType(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	rec := f.record(t, "JOAO DA SILVA", "12345678901")
	l := f.alertLink(t, f.match(t, rec, entities.WatchlistAlert{Sequence: 3, TypeCode: 5, StatusCode: 1}), f.sysA)

	outcome, err := f.propagator(nil).SendLink(ctx, l.ID)
	require.ErrorIs(t, err, ErrUnsupportedType)
	assert.Equal(t, Failed, outcome)
	assert.Equal(t, entities.CardFailed, *f.card(t, l.ID))
	assert.Equal(t, int64(1), f.counts(t)[entities.LogAlertSendFailed])
	assert.Zero(t, f.fakeA.Len())
}

func TestSendPending_FailedLinksAndRetry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.fakeB.CreateErr = &recognition.TransportError{Op: "create card", Err: context.DeadlineExceeded}

	for _, nid := range []string{"12345678901", "10987654321"} {
		rec := f.record(t, "PESSOA "+nid, nid)
		f.match(t, rec, entities.WatchlistAlert{Sequence: 1, TypeCode: 4, StatusCode: 1})
	}
	_, err := f.propagator(nil).LinkMatches(ctx)
	require.NoError(t, err)

	sum, err := f.propagator(nil).SendPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Counts[Sent])
	assert.Equal(t, 2, sum.Counts[Failed])

	stats, err := f.store.AlertLinks.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Synced)
	assert.Equal(t, int64(2), stats.Failed)

	// failed links wait for retry_failed
	sum, err = f.propagator(nil).SendPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, sum.Counts)

	f.fakeB.CreateErr = nil
	sum, err = f.propagator(func(c *Config) { c.RetryFailed = true }).SendPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Counts[Sent])

	stats, err = f.store.AlertLinks.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Synced)
	assert.Zero(t, stats.Failed)
}
