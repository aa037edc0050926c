package tracking_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"asset-tracker-api/internal/models"
	"asset-tracker-api/internal/store/sqlstore"
	"asset-tracker-api/internal/tracking"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteFixture(t *testing.T, opts tracking.Options) *fixture {
	t.Helper()
	ctx := context.Background()
	s, err := sqlstore.Open(ctx, sqlstore.Config{
		Driver: sqlstore.SQLite,
		Path:   filepath.Join(t.TempDir(), "tracker.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))
	return newFixtureOn(t, s, opts)
}

func TestSQLiteConcurrentBatchesOnOneAsset(t *testing.T) {
	const (
		batches  = 3
		perBatch = 20
	)
	ctx := context.Background()
	f := newSQLiteFixture(t, tracking.Options{})
	asset := f.boundAsset(t, "S-1", "TAG-1")

	checkoutAt := f.clock.Now().Add(-2 * time.Hour)
	_, _, err := f.svc.Assets.ApplyManualTransition(ctx, asset.ID, tracking.ManualTransition{
		Kind:      models.MovementCheckout,
		Location:  "Warehouse A",
		Timestamp: &checkoutAt,
	}, "ops@example.com")
	require.NoError(t, err)
	before, err := f.svc.Assets.Get(ctx, asset.ID)
	require.NoError(t, err)

	base := f.clock.Now().Add(-time.Hour)
	var wg sync.WaitGroup
	for b := 0; b < batches; b++ {
		gate := f.portal(t, fmt.Sprintf("Gate-%d", b), fmt.Sprintf("Dock %d", b))
		wg.Add(1)
		go func() {
			defer wg.Done()
			reads := make([]tracking.RawRead, 0, perBatch)
			for i := 0; i < perBatch; i++ {
				// batches interleave in event time
				reads = append(reads, read("TAG-1", base.Add(time.Duration(i*batches+b)*time.Second)))
			}
			res, err := f.svc.Engine.Ingest(ctx, gate, reads)
			assert.NoError(t, err)
			if assert.NotNil(t, res) {
				assert.Equal(t, perBatch, res.Processed)
				assert.Zero(t, res.Failed)
				assert.Zero(t, res.Pending)
			}
		}()
	}
	wg.Wait()

	n := batches * perBatch
	history, err := f.svc.Ledger.History(ctx, asset.ID, tracking.MovementFilter{})
	require.NoError(t, err)
	require.Len(t, history, n+1)
	for i := 1; i < len(history); i++ {
		prev, cur := history[i-1], history[i]
		assert.False(t, cur.OccurredAt.After(prev.OccurredAt), "entry %d is newer than entry %d", i, i-1)
		if cur.OccurredAt.Equal(prev.OccurredAt) {
			assert.Less(t, cur.ID, prev.ID)
		}
	}
	assert.Equal(t, models.MovementCheckout, history[n].Kind)
	assert.WithinDuration(t, base.Add(time.Duration(n-1)*time.Second), history[0].OccurredAt, 0)

	got, err := f.svc.Assets.Get(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAtPortal, got.Status)
	assert.Equal(t, before.Version+int64(n), got.Version)

	reads, err := f.svc.Query.SearchReads(ctx, tracking.ReadQuery{Limit: 100})
	require.NoError(t, err)
	assert.Len(t, reads, n)
}

func TestSQLiteRefusedBindRollsBackCreate(t *testing.T) {
	ctx := context.Background()
	f := newSQLiteFixture(t, tracking.Options{RebindPolicy: tracking.RebindReject})
	f.boundAsset(t, "OLD", "TAG-1")

	_, _, err := f.svc.Assets.CreateWithTag(ctx, tracking.NewAsset{Serial: "NEW"}, "TAG-1", "ops@example.com")
	require.ErrorIs(t, err, tracking.ErrConflict)

	page, err := f.svc.Query.ListAssets(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	created, tag, err := f.svc.Assets.CreateWithTag(ctx, tracking.NewAsset{Serial: "NEW"}, "TAG-2", "ops@example.com")
	require.NoError(t, err)
	require.NotNil(t, created.TagID)
	assert.Equal(t, tag.ID, *created.TagID)
	require.NotNil(t, tag.OwnerRef)
	assert.Equal(t, "ops@example.com", *tag.OwnerRef)
}
