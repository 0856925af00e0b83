package relations

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mitrarr/mitra-go/internal/datastore/entities"
	"github.com/mitrarr/mitra-go/internal/datastore/repository"
	"github.com/mitrarr/mitra-go/internal/testutil"
)

func linkCount(t *testing.T, store *repository.Store) int64 {
	t.Helper()
	stats, err := store.Links.Stats(context.Background())
	require.NoError(t, err)
	return stats.Total
}

func TestExpandAll_FanOutAcrossSystems(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	store := repository.NewStore(db)

	civil := testutil.SeedSource(t, db, "RR/CIVIL", true)
	prison := testutil.SeedSource(t, db, "RR/PRISIONAL", true)
	testutil.SeedSystem(t, db, "FACE-A", "http://a", civil, prison)
	testutil.SeedSystem(t, db, "FACE-B", "http://b", civil)

	for range 5 {
		testutil.SeedRecord(t, db, civil, testutil.RecordSpec{})
	}
	testutil.SeedRecord(t, db, prison, testutil.RecordSpec{})

	// page size 2 forces several commits per source
	exp := New(store, nil, 2, testutil.DiscardLogger())
	sum, err := exp.ExpandAll(ctx)
	require.NoError(t, err)

	// 5 civil records on two systems plus 1 prison record on one
	assert.Equal(t, 11, sum.Created)
	assert.Equal(t, int64(11), linkCount(t, store))

	counts, err := store.OpLog.CountByCode(ctx, testutil.MustDate(t, "2000-01-01"))
	require.NoError(t, err)
	assert.Equal(t, int64(11), counts[entities.LogRelationCreated])

	stats, err := store.Links.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(11), stats.Pending)

	// a second pass finds nothing left to do
	sum, err = New(store, nil, 2, testutil.DiscardLogger()).ExpandAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, sum.Created)
	assert.Equal(t, int64(11), linkCount(t, store))
}

func TestExpandAll_SkipsInactive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	store := repository.NewStore(db)

	disabled := testutil.SeedSource(t, db, "PF/SINPA", false)
	civil := testutil.SeedSource(t, db, "RR/CIVIL", true)
	testutil.SeedSystem(t, db, "FACE-A", "http://a", disabled, civil)

	testutil.SeedRecord(t, db, disabled, testutil.RecordSpec{})
	testutil.SeedRecord(t, db, civil, testutil.RecordSpec{Active: testutil.Ptr(false)})
	active := testutil.SeedRecord(t, db, civil, testutil.RecordSpec{})

	sum, err := New(store, nil, 0, testutil.DiscardLogger()).ExpandAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Created)

	ids, err := store.Links.PendingIDs(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	link, err := store.Links.GetDetailed(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, active.ID, link.RecordID)
}

func TestExpandRecord(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	store := repository.NewStore(db)

	civil := testutil.SeedSource(t, db, "RR/CIVIL", true)
	a := testutil.SeedSystem(t, db, "FACE-A", "http://a", civil)
	b := testutil.SeedSystem(t, db, "FACE-B", "http://b", civil)
	rec := testutil.SeedRecord(t, db, civil, testutil.RecordSpec{})

	exp := New(store, nil, 0, testutil.DiscardLogger())
	require.NoError(t, exp.ExpandRecord(ctx, rec))

	for _, sys := range []*entities.RecognitionSystem{a, b} {
		link, err := store.Links.FindByRecordAndSystem(ctx, rec.ID, sys.ID)
		require.NoError(t, err)
		assert.Nil(t, link.CardID)
	}

	// repeating is harmless and logged as already existing
	require.NoError(t, exp.ExpandRecord(ctx, rec))
	assert.Equal(t, int64(2), linkCount(t, store))

	counts, err := store.OpLog.CountByCode(ctx, testutil.MustDate(t, "2000-01-01"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[entities.LogRelationCreated])
	assert.Equal(t, int64(2), counts[entities.LogRelationExisted])
}

func TestExpandRecord_InactiveOrUnroutedRecord(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	store := repository.NewStore(db)

	civil := testutil.SeedSource(t, db, "RR/CIVIL", true)
	orphan := testutil.SeedSource(t, db, "RR/ORFA", true)
	testutil.SeedSystem(t, db, "FACE-A", "http://a", civil)

	exp := New(store, nil, 0, testutil.DiscardLogger())
	require.NoError(t, exp.ExpandRecord(ctx, testutil.SeedRecord(t, db, civil, testutil.RecordSpec{Active: testutil.Ptr(false)})))
	require.NoError(t, exp.ExpandRecord(ctx, testutil.SeedRecord(t, db, orphan, testutil.RecordSpec{})))
	assert.Zero(t, linkCount(t, store))
}

func TestExpandAll_Cancelled(t *testing.T) {
	t.Parallel()
	db := testutil.NewTestDB(t)
	store := repository.NewStore(db)

	civil := testutil.SeedSource(t, db, "RR/CIVIL", true)
	testutil.SeedSystem(t, db, "FACE-A", "http://a", civil)
	testutil.SeedRecord(t, db, civil, testutil.RecordSpec{})

	exp := New(store, nil, 0, testutil.DiscardLogger())
	// warm the cache so the cancelled context reaches the paging loop
	_, err := exp.cache.Systems(context.Background())
	require.NoError(t, err)
	_, err = exp.cache.SourcesForSystem(context.Background(), 1, true)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = exp.ExpandAll(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, linkCount(t, store))
}
