package upload

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mitrarr/mitra-go/internal/datastore/entities"
	"github.com/mitrarr/mitra-go/internal/datastore/repository"
	"github.com/mitrarr/mitra-go/internal/dossier"
	"github.com/mitrarr/mitra-go/internal/errors"
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
	sync    *Synchronizer
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
	f.sync = New(Config{
		Store:     f.store,
		Connector: f.connect,
		Layout:    f.layout,
		Read:      retry.Config{Attempts: 1},
		Pool:      workerpool.New(4),
		PageSize:  2,
		Logger:    testutil.DiscardLogger(),
	})
	return f
}

// record seeds a record and writes its dossier at the record's location.
func (f *fixture) record(t *testing.T, spec testutil.RecordSpec) *entities.BiometricRecord {
	t.Helper()
	rec := testutil.SeedRecord(t, f.db, f.civil, spec)
	data, err := dossier.NewTaggedCodec().Encode(&dossier.Fields{
		SourceDatabase: f.civil.Name,
		Name:           rec.Name,
		NationalID:     spec.NationalID,
		Images:         []string{"aW1n"},
	})
	require.NoError(t, err)
	abs := f.layout.Abs(rec.Location)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, data, 0o600))
	return rec
}

func (f *fixture) link(t *testing.T, rec *entities.BiometricRecord, sys *entities.RecognitionSystem) *entities.RecordSystemLink {
	t.Helper()
	l := &entities.RecordSystemLink{RecordID: rec.ID, RecognitionSystemID: sys.ID}
	created, err := f.store.Links.Create(context.Background(), l)
	require.NoError(t, err)
	require.True(t, created)
	return l
}

func (f *fixture) counts(t *testing.T) map[entities.LogCode]int64 {
	t.Helper()
	counts, err := f.store.OpLog.CountByCode(context.Background(), testutil.MustDate(t, "2000-01-01"))
	require.NoError(t, err)
	return counts
}

func TestSyncLink_CreatesCard(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	rec := f.record(t, testutil.RecordSpec{Name: "JOAO DA SILVA", NationalID: "12345678901", Mother: "MARIA SILVA"})
	l := f.link(t, rec, f.sysA)

	outcome, err := f.sync.SyncLink(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, Created, outcome)

	stored, err := f.store.Links.GetDetailed(ctx, l.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.CardID)
	assert.Equal(t, int64(100), *stored.CardID)

	_, fields, ok := f.fakeA.Card(100)
	require.True(t, ok)
	assert.Equal(t, "RR/CIVIL", fields.WatchList)
	assert.Equal(t, []string{"aW1n"}, fields.Photos)
	assert.Equal(t, "12345678901", fields.Meta[recognition.MetaNationalID])
	assert.Equal(t, "MARIA SILVA", fields.Meta[recognition.MetaMother])

	counts := f.counts(t)
	assert.Equal(t, int64(1), counts[entities.LogCardCreated])
	assert.Equal(t, int64(1), counts[entities.LogRelationCardSet])

	// a synced link is left alone
	outcome, err = f.sync.SyncLink(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, AlreadySynced, outcome)
	assert.Equal(t, 1, f.fakeA.Creates)
}

func TestSyncLink_ReusesExistingCard(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	rec := f.record(t, testutil.RecordSpec{Name: "JOAO DA SILVA", NationalID: "12345678901"})
	l := f.link(t, rec, f.sysA)
	existing := f.fakeA.Seed(recognition.CardFields{
		Name:      "João da Silva",
		WatchList: "RR/CIVIL",
		Active:    true,
		Meta:      map[string]string{recognition.MetaNationalID: "12345678901"},
	})

	outcome, err := f.sync.SyncLink(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, Reused, outcome)
	assert.Zero(t, f.fakeA.Creates)

	stored, err := f.store.Links.GetDetailed(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, existing, *stored.CardID)
	assert.Equal(t, int64(1), f.counts(t)[entities.LogCardExisted])
}

func TestSyncLink_FailureQuarantinesDossier(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.fakeA.CreateErr = &recognition.TransportError{Op: "create card", Err: context.DeadlineExceeded}

	rec := f.record(t, testutil.RecordSpec{Name: "ANA"})
	l := f.link(t, rec, f.sysA)

	outcome, err := f.sync.SyncLink(ctx, l.ID)
	require.Error(t, err)
	assert.Equal(t, Failed, outcome)

	var terr *recognition.TransportError
	require.ErrorAs(t, err, &terr)
	var ee *errors.EnhancedError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "upload_record", ee.GetContext()["operation"])
	assert.Contains(t, ee.GetContext(), "duration_ms")

	stored, err := f.store.Links.GetDetailed(ctx, l.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.CardID)

	quarantined := f.layout.QuarantinePath(rec.Location)
	assert.Equal(t, quarantined, stored.Record.Location)
	assert.True(t, f.layout.Exists(quarantined))
	assert.False(t, f.layout.Exists(rec.Location))

	counts := f.counts(t)
	assert.Equal(t, int64(1), counts[entities.LogUploadFailed])
	assert.Zero(t, counts[entities.LogRelationCardSet])

	// the next attempt reads the dossier from quarantine
	f.fakeA.CreateErr = nil
	outcome, err = f.sync.SyncLink(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, Created, outcome)
}

func TestSyncLink_MissingDossier(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	rec := testutil.SeedRecord(t, f.db, f.civil, testutil.RecordSpec{})
	l := f.link(t, rec, f.sysA)

	outcome, err := f.sync.SyncLink(ctx, l.ID)
	require.Error(t, err)
	assert.Equal(t, Failed, outcome)
	assert.Equal(t, int64(1), f.counts(t)[entities.LogUploadFailed])

	stored, err := f.store.Records.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Location, stored.Location, "nothing to move")
}

func TestSyncPending_IsolatesFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.fakeB.CreateErr = &recognition.ValidationError{Op: "create card", Status: 400, Detail: "no face"}

	for range 3 {
		rec := f.record(t, testutil.RecordSpec{})
		f.link(t, rec, f.sysA)
		f.link(t, rec, f.sysB)
	}

	sum, err := f.sync.SyncPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Counts[Created])
	assert.Equal(t, 3, sum.Counts[Failed])
	assert.Equal(t, 3, f.fakeA.Len())

	stats, err := f.store.Links.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Synced)
	assert.Equal(t, int64(3), stats.Pending)
}

func TestSyncLink_PersistsQuarantineLocation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	rec := f.record(t, testutil.RecordSpec{Name: "ANA", NationalID: "12345678909"})
	l := f.link(t, rec, f.sysA)

	// a failed upload elsewhere moved the file after this row was read
	moved := f.layout.QuarantinePath(rec.Location)
	require.NoError(t, os.MkdirAll(filepath.Dir(f.layout.Abs(moved)), 0o755))
	require.NoError(t, os.Rename(f.layout.Abs(rec.Location), f.layout.Abs(moved)))

	outcome, err := f.sync.SyncLink(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, Created, outcome)

	stored, err := f.store.Links.GetDetailed(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, moved, stored.Record.Location)
}
