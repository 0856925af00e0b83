package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mitrarr/mitra-go/internal/datastore/entities"
	"github.com/mitrarr/mitra-go/internal/datastore/repository"
	"github.com/mitrarr/mitra-go/internal/dossier"
	"github.com/mitrarr/mitra-go/internal/logger"
	"github.com/mitrarr/mitra-go/internal/retry"
	"github.com/mitrarr/mitra-go/internal/testutil"
	"github.com/mitrarr/mitra-go/internal/workerpool"
)

type fixture struct {
	root     string
	layout   Layout
	store    *repository.Store
	ingestor *Ingestor
	civil    *entities.SourceDatabase
}

func newFixture(t *testing.T, expander Expander) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	f := &fixture{
		root:  t.TempDir(),
		store: repository.NewStore(db),
		civil: testutil.SeedSource(t, db, "RR/CIVIL", true),
	}
	f.layout = Layout{
		Root:       f.root,
		Incoming:   "nists",
		Archive:    "nists_lidos",
		Rejected:   "nists_lidos_com_erro",
		Quarantine: "nists_quarentena",
		Extension:  ".nst",
	}
	f.ingestor = New(Config{
		Store:    f.store,
		Layout:   f.layout,
		Read:     retry.Config{Attempts: 2, Delay: time.Millisecond},
		Expander: expander,
		Logger:   testutil.DiscardLogger(),
	})
	return f
}

// write stores raw bytes at a stored path and returns the absolute path.
func (f *fixture) write(t *testing.T, rel string, data []byte) string {
	t.Helper()
	abs := f.layout.Abs(rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, data, 0o600))
	return abs
}

func (f *fixture) writeDossier(t *testing.T, rel string, fields *dossier.Fields) string {
	t.Helper()
	data, err := dossier.NewTaggedCodec().Encode(fields)
	require.NoError(t, err)
	return f.write(t, rel, data)
}

func joao() *dossier.Fields {
	return &dossier.Fields{
		SourceDatabase: "RR/CIVIL",
		Name:           "JOAO DA SILVA",
		NationalID:     "12345678901",
	}
}

func (f *fixture) logged(t *testing.T, code entities.LogCode) []entities.OperationLog {
	t.Helper()
	entries, err := f.store.OpLog.Recent(context.Background(), repository.LogFilter{Codes: []entities.LogCode{code}})
	require.NoError(t, err)
	return entries
}

func TestIngestFile_FreshThenDuplicate(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	first := f.writeDossier(t, "nists/RR/CIVIL/20240101/a.nst", joao())
	res, err := f.ingestor.IngestFile(ctx, first)
	require.NoError(t, err)
	require.Equal(t, Created, res.Outcome)
	require.NotNil(t, res.Record)

	stored, err := f.store.Records.GetByID(ctx, res.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, "JOAO DA SILVA", stored.Name)
	assert.Equal(t, "12345678901", *stored.NationalID)
	assert.Equal(t, "nists_lidos/RR/CIVIL/20240101/a.nst", stored.Location)
	assert.True(t, stored.Active)
	assert.Len(t, stored.Fingerprint, 64)
	assert.FileExists(t, f.layout.Abs(stored.Location))
	assert.NoFileExists(t, first)
	assert.Len(t, f.logged(t, entities.LogRecordCreated), 1)

	// same content under another path
	second := f.writeDossier(t, "nists/RR/CIVIL/20240102/b.nst", joao())
	res, err = f.ingestor.IngestFile(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, Duplicate, res.Outcome)
	assert.Equal(t, stored.ID, res.Record.ID)
	assert.NoFileExists(t, second)

	count, err := f.store.Records.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	dups := f.logged(t, entities.LogRecordDuplicate)
	require.Len(t, dups, 1)
	assert.Equal(t, "nists/RR/CIVIL/20240102/b.nst", dups[0].Message)
	require.NotNil(t, dups[0].OriginID)
	assert.Equal(t, stored.ID, *dups[0].OriginID)
}

func TestIngestFile_EquivalentContentIsDuplicate(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.ingestor.IngestFile(ctx, f.writeDossier(t, "nists/RR/CIVIL/d/a.nst", joao()))
	require.NoError(t, err)

	// different bytes, same decoded fields
	raw := "2.030:  joão da silva \x1d2.212:123.456.789-01\x1c1.008:RR/CIVIL"
	res, err := f.ingestor.IngestFile(ctx, f.write(t, "nists/RR/CIVIL/d/b.nst", []byte(raw)))
	require.NoError(t, err)
	assert.Equal(t, Duplicate, res.Outcome)
}

func TestIngestFile_Unreadable(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	empty := f.write(t, "nists/RR/CIVIL/d/empty.nst", nil)
	res, err := f.ingestor.IngestFile(ctx, empty)
	require.NoError(t, err)
	assert.Equal(t, Unreadable, res.Outcome)
	assert.FileExists(t, empty, "unreadable files stay where they are")

	entries := f.logged(t, entities.LogFileUnreadable)
	require.Len(t, entries, 1)
	assert.Equal(t, "nists/RR/CIVIL/d/empty.nst", entries[0].Message)

	// later runs skip it without reading, even once it has content
	require.NoError(t, os.WriteFile(empty, []byte("late"), 0o600))
	res, err = f.ingestor.IngestFile(ctx, empty)
	require.NoError(t, err)
	assert.Equal(t, Skipped, res.Outcome)
	assert.Len(t, f.logged(t, entities.LogFileUnreadable), 1)
}

func TestIngestFile_MissingFile(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	res, err := f.ingestor.IngestFile(context.Background(), f.layout.Abs("nists/RR/CIVIL/d/gone.nst"))
	require.NoError(t, err)
	assert.Equal(t, Unreadable, res.Outcome)
	assert.Len(t, f.logged(t, entities.LogFileUnreadable), 1)
}

func TestIngestFile_Rejected(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []byte
	}{
		{"no name", []byte("1.008:RR/CIVIL")},
		{"malformed", []byte("not a dossier")},
		{"unknown source", []byte("1.008:XX/NOWHERE\x1c2.030:ANA")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, nil)

			abs := f.write(t, "nists/RR/CIVIL/d/bad.nst", tt.data)
			res, err := f.ingestor.IngestFile(context.Background(), abs)
			require.NoError(t, err)
			assert.Equal(t, Rejected, res.Outcome)
			assert.NoFileExists(t, abs)
			assert.FileExists(t, f.layout.Abs("nists_lidos_com_erro/RR/CIVIL/d/bad.nst"))

			entries := f.logged(t, entities.LogInvalidDossier)
			require.Len(t, entries, 1)
			assert.Contains(t, entries[0].Message, "nists/RR/CIVIL/d/bad.nst")
		})
	}
}

func TestIngestFile_InactiveSource(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	testutil.SeedSource(t, f.store.DB(), "PF/SISMIGRA", false)

	fields := joao()
	fields.SourceDatabase = "PF/SISMIGRA"
	res, err := f.ingestor.IngestFile(context.Background(), f.writeDossier(t, "nists/SISMIGRA/d/a.nst", fields))
	require.NoError(t, err)
	require.Equal(t, Created, res.Outcome)
	assert.False(t, res.Record.Active)
}

func TestIngestFile_ArchiveDestinationExists(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	// a copy left in the archive by an interrupted run
	f.write(t, "nists_lidos/RR/CIVIL/d/a.nst", []byte("stale"))
	abs := f.writeDossier(t, "nists/RR/CIVIL/d/a.nst", joao())

	res, err := f.ingestor.IngestFile(ctx, abs)
	require.NoError(t, err)
	require.Equal(t, Created, res.Outcome)
	assert.Equal(t, "nists_lidos/RR/CIVIL/d/a.nst", res.Record.Location)
	assert.NoFileExists(t, abs)
}

func TestIngestFile_ArchivePathOwnedByAnotherRecord(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.ingestor.IngestFile(ctx, f.writeDossier(t, "nists/RR/CIVIL/d/a.nst", joao()))
	require.NoError(t, err)

	other := joao()
	other.Name = "MARIA SOUZA"
	other.NationalID = ""
	res, err := f.ingestor.IngestFile(ctx, f.writeDossier(t, "nists/RR/CIVIL/d/a.nst", other))
	require.NoError(t, err)
	require.Equal(t, Created, res.Outcome)

	assert.NotEqual(t, "nists_lidos/RR/CIVIL/d/a.nst", res.Record.Location)
	assert.Regexp(t, `^nists_lidos/RR/CIVIL/d/a\.[0-9a-f]{12}\.nst$`, res.Record.Location)
	assert.FileExists(t, f.layout.Abs(res.Record.Location))
}

type recordingExpander struct {
	mu  sync.Mutex
	ids []uint
}

func (e *recordingExpander) ExpandRecord(_ context.Context, rec *entities.BiometricRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ids = append(e.ids, rec.ID)
	return nil
}

func TestIngestFile_NotifiesExpander(t *testing.T) {
	t.Parallel()
	exp := &recordingExpander{}
	f := newFixture(t, exp)
	ctx := context.Background()

	res, err := f.ingestor.IngestFile(ctx, f.writeDossier(t, "nists/RR/CIVIL/d/a.nst", joao()))
	require.NoError(t, err)
	_, err = f.ingestor.IngestFile(ctx, f.writeDossier(t, "nists/RR/CIVIL/d/b.nst", joao()))
	require.NoError(t, err)

	assert.Equal(t, []uint{res.Record.ID}, exp.ids, "duplicates are not expanded")
}

func TestIngestFile_OutsideRoot(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	res, err := f.ingestor.IngestFile(context.Background(), filepath.Join(t.TempDir(), "x.nst"))
	require.Error(t, err)
	assert.Equal(t, Failed, res.Outcome)
}

func TestIngestTree(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	maria := joao()
	maria.Name = "MARIA SOUZA"
	maria.NationalID = "52998224725"

	f.writeDossier(t, "nists/RR/CIVIL/20240101/1.nst", joao())
	f.writeDossier(t, "nists/RR/CIVIL/20240101/2.NST", maria)
	f.writeDossier(t, "nists/RR/CIVIL/20240102/3.nst", joao())
	f.write(t, "nists/RR/CIVIL/20240102/4.nst", nil)
	f.write(t, "nists/RR/CIVIL/20240102/5.nst", []byte("junk"))
	f.write(t, "nists/RR/CIVIL/20240102/notes.txt", []byte("ignored"))

	summary, err := f.ingestor.IngestTree(context.Background(), workerpool.New(4), f.layout.IncomingDir())
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Total())
	assert.Equal(t, 2, summary.Counts[Created])
	assert.Equal(t, 1, summary.Counts[Duplicate])
	assert.Equal(t, 1, summary.Counts[Unreadable])
	assert.Equal(t, 1, summary.Counts[Rejected])
	assert.Zero(t, summary.Errors)
	assert.FileExists(t, f.layout.Abs("nists/RR/CIVIL/20240102/notes.txt"))

	count, err := f.store.Records.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestIngestTree_MissingRoot(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	summary, err := f.ingestor.IngestTree(context.Background(), workerpool.New(2), filepath.Join(f.root, "absent"))
	require.NoError(t, err)
	assert.Zero(t, summary.Total())
}

func TestLayout(t *testing.T) {
	t.Parallel()

	l := Layout{Root: "/srv/mitra", Incoming: "nists", Archive: "nists_lidos", Rejected: "err", Quarantine: "q", Extension: ".nst"}

	rel, err := l.Rel("/srv/mitra/nists/RR/CIVIL/d/a.nst")
	require.NoError(t, err)
	assert.Equal(t, "nists/RR/CIVIL/d/a.nst", rel)

	_, err = l.Rel("/etc/passwd")
	require.Error(t, err)

	assert.Equal(t, "nists_lidos/RR/CIVIL/d/a.nst", l.ArchivePath(rel))
	assert.Equal(t, "err/RR/CIVIL/d/a.nst", l.RejectedPath(rel))
	assert.Equal(t, "q/RR/CIVIL/d/a.nst", l.QuarantinePath("nists_lidos/RR/CIVIL/d/a.nst"))
	assert.Equal(t, filepath.FromSlash("/srv/mitra/q/x.nst"), l.Abs("q/x.nst"))
	assert.True(t, l.HasExtension("A.NST"))
	assert.False(t, l.HasExtension("a.txt"))
}

func TestIngestFile_WarnsOnCheckDigits(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	logPath := filepath.Join(t.TempDir(), "ingest.log")
	cl, err := logger.NewCentralLogger(&logger.LoggingConfig{
		DefaultLevel:  "warn",
		Timezone:      "UTC",
		Console:       &logger.ConsoleOutput{Enabled: false},
		FileOutput:    &logger.FileOutput{Enabled: true, Path: logPath, Level: "warn"},
		ModuleOutputs: map[string]logger.ModuleOutput{},
	})
	require.NoError(t, err)
	f.ingestor.log = cl.Module("ingest")

	// 12345678901 has wrong check digits; the record is still stored
	res, err := f.ingestor.IngestFile(context.Background(), f.writeDossier(t, "nists/RR/CIVIL/20240101/a.nst", joao()))
	require.NoError(t, err)
	assert.Equal(t, Created, res.Outcome)
	require.NoError(t, cl.Close())

	out, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(out), "national id fails check digits")
	assert.Contains(t, string(out), "***.***.***-01")
	assert.NotContains(t, string(out), "12345678901")
}
