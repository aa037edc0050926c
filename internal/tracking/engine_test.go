package tracking_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"asset-tracker-api/internal/models"
	"asset-tracker-api/internal/store/memory"
	"asset-tracker-api/internal/tracking"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngestSameUnseenTagTwice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, tracking.Options{})
	gate := f.portal(t, "Gate-1", "Dock 3")

	t1 := f.clock.Now().Add(-time.Hour)
	t2 := t1.Add(10 * time.Minute)
	first := f.ingest(t, gate, read("NEW-1", t1))
	second := f.ingest(t, gate, read("NEW-1", t2))
	require.Equal(t, 1, first.Processed)
	require.Equal(t, 1, second.Processed)
	assert.Equal(t, first.Results[0].TagID, second.Results[0].TagID)

	tag, err := f.svc.Tags.Get(ctx, "NEW-1")
	require.NoError(t, err)
	require.NotNil(t, tag.LastSeenAt)
	assert.WithinDuration(t, t2, *tag.LastSeenAt, 0)

	reads, err := f.svc.Query.SearchReads(ctx, tracking.ReadQuery{UID: "NEW-1"})
	require.NoError(t, err)
	assert.Len(t, reads, 2)
}

func TestIngestOutOfOrderReadDoesNotRegress(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, tracking.Options{})
	gate := f.portal(t, "Gate-1", "Dock 3")
	asset := f.boundAsset(t, "S-1", "TAG-1")

	t2 := f.clock.Now().Add(-time.Minute)
	t1 := t2.Add(-30 * time.Minute)
	f.ingest(t, gate, read("TAG-1", t2))
	late := f.ingest(t, gate, read("TAG-1", t1))
	require.Equal(t, tracking.ReadOK, late.Results[0].Status)
	require.NotNil(t, late.Results[0].MovementID)

	tag, err := f.svc.Tags.Get(ctx, "TAG-1")
	require.NoError(t, err)
	assert.WithinDuration(t, t2, *tag.LastSeenAt, 0)

	reads, err := f.svc.Query.SearchReads(ctx, tracking.ReadQuery{UID: "TAG-1"})
	require.NoError(t, err)
	assert.Len(t, reads, 2)

	got, err := f.svc.Assets.Get(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAtPortal, got.Status)
	assert.Equal(t, "Dock 3", got.Location)

	history, err := f.svc.Ledger.History(ctx, asset.ID, tracking.MovementFilter{})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.WithinDuration(t, t2, history[0].OccurredAt, 0)
	assert.WithinDuration(t, t1, history[1].OccurredAt, 0)
}

func TestIngestUnboundTagLeavesAssetsUntouched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, tracking.Options{})
	gate := f.portal(t, "Gate-1", "Dock 3")
	bystander := f.asset(t, "S-9")

	res := f.ingest(t, gate, read("STRAY-1", f.clock.Now()))
	require.Equal(t, tracking.ReadOK, res.Results[0].Status)
	assert.Nil(t, res.Results[0].AssetID)
	assert.Nil(t, res.Results[0].MovementID)
	assert.NotZero(t, res.Results[0].ReadEventID)

	_, err := f.svc.Tags.Get(ctx, "STRAY-1")
	require.NoError(t, err)

	got, err := f.svc.Assets.Get(ctx, bystander.ID)
	require.NoError(t, err)
	assert.Equal(t, bystander, got)

	history, err := f.svc.Ledger.History(ctx, bystander.ID, tracking.MovementFilter{})
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Zero(t, f.obs.movements[models.MovementPortalRead])
}

func TestCheckoutSightingCheckinScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, tracking.Options{})
	gate := f.portal(t, "Gate-1", "Dock 3")
	asset := f.asset(t, "S-100")

	t1 := f.clock.Now()
	_, ev, err := f.svc.Assets.ApplyManualTransition(ctx, asset.ID, tracking.ManualTransition{
		Kind:      models.MovementCheckout,
		Location:  "Warehouse A",
		Timestamp: &t1,
	}, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", ev.Actor)

	got, err := f.svc.Assets.Get(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInTransit, got.Status)
	history, err := f.svc.Ledger.History(ctx, asset.ID, tracking.MovementFilter{})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.MovementCheckout, history[0].Kind)
	assert.Equal(t, "Warehouse A", history[0].Location)
	assert.WithinDuration(t, t1, history[0].OccurredAt, 0)

	_, _, err = f.svc.Assets.BindTag(ctx, asset.ID, "TAG-1")
	require.NoError(t, err)

	t2 := f.clock.Advance(time.Hour)
	res := f.ingest(t, gate, read("TAG-1", t2))
	require.Equal(t, 1, res.Processed)

	got, err = f.svc.Assets.Get(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAtPortal, got.Status)
	assert.Equal(t, "Dock 3", got.Location)
	history, err = f.svc.Ledger.History(ctx, asset.ID, tracking.MovementFilter{})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.MovementPortalRead, history[0].Kind)
	assert.Equal(t, "Gate-1", history[0].Actor)

	t3 := f.clock.Advance(time.Hour)
	_, _, err = f.svc.Assets.ApplyManualTransition(ctx, asset.ID, tracking.ManualTransition{
		Kind:      models.MovementCheckin,
		Location:  "Warehouse A",
		Timestamp: &t3,
		Actor:     "bob",
	}, "alice@example.com")
	require.NoError(t, err)

	detail, err := f.svc.Query.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAtBase, detail.Status)
	assert.Equal(t, "Warehouse A", detail.Location)
	require.NotNil(t, detail.Tag)
	assert.Equal(t, "TAG-1", detail.Tag.UID)
	require.Len(t, detail.Movements, 3)
	assert.Equal(t, []models.MovementKind{models.MovementCheckin, models.MovementPortalRead, models.MovementCheckout},
		[]models.MovementKind{detail.Movements[0].Kind, detail.Movements[1].Kind, detail.Movements[2].Kind})
	assert.Equal(t, "bob", detail.Movements[0].Actor)
	for i := 1; i < len(detail.Movements); i++ {
		assert.True(t, detail.Movements[i-1].OccurredAt.After(detail.Movements[i].OccurredAt))
	}
}

func TestIngestBatchWithOneMalformedRead(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, tracking.Options{})
	gate := f.portal(t, "Gate-1", "Dock 3")
	asset := f.boundAsset(t, "S-1", "TAG-1")

	reads, err := tracking.DecodeBatch([]byte(`[
		{"timestamp": "2024-05-01T07:00:00Z"},
		{"uid": "TAG-1", "timestamp": "2024-05-01T07:30:00Z", "rssi": -40.5}
	]`))
	require.NoError(t, err)

	res := f.ingest(t, gate, reads...)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Failed)
	assert.Zero(t, res.Pending)
	assert.ErrorIs(t, res.Err(), tracking.ErrPartialBatch)

	assert.Equal(t, tracking.ReadFailed, res.Results[0].Status)
	assert.Equal(t, tracking.KindInvalidInput, res.Results[0].Kind)
	assert.NotEmpty(t, res.Results[0].Error)
	assert.Equal(t, tracking.ReadOK, res.Results[1].Status)

	got, err := f.svc.Assets.Get(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAtPortal, got.Status)
	history, err := f.svc.Ledger.History(ctx, asset.ID, tracking.MovementFilter{})
	require.NoError(t, err)
	assert.Len(t, history, 1)

	reads2, err := f.svc.Query.SearchReads(ctx, tracking.ReadQuery{})
	require.NoError(t, err)
	require.Len(t, reads2, 1)
	require.NotNil(t, reads2[0].RSSI)
	assert.Equal(t, -40.5, *reads2[0].RSSI)
}

func TestIngestRejectsBadTimestamp(t *testing.T) {
	f := newFixture(t, tracking.Options{})
	gate := f.portal(t, "Gate-1", "")

	res := f.ingest(t, gate, tracking.RawRead{UID: "TAG-1", Timestamp: "yesterday"})
	assert.Equal(t, tracking.ReadFailed, res.Results[0].Status)
	assert.Equal(t, tracking.KindInvalidInput, res.Results[0].Kind)

	_, err := f.svc.Tags.Get(context.Background(), "TAG-1")
	assert.ErrorIs(t, err, tracking.ErrNotFound)
}

func TestIngestDefaultsTimestampToIngestion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, tracking.Options{})
	gate := f.portal(t, "Gate-1", "")

	f.ingest(t, gate, tracking.RawRead{UID: "TAG-1"})
	tag, err := f.svc.Tags.Get(ctx, "TAG-1")
	require.NoError(t, err)
	assert.WithinDuration(t, f.clock.Now(), *tag.LastSeenAt, 0)
}

func TestIngestRejectsWholeBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, tracking.Options{MaxBatch: 2})
	gate := f.portal(t, "Gate-1", "")
	now := f.clock.Now()

	_, err := f.svc.Engine.Ingest(ctx, gate, []tracking.RawRead{read("A", now), read("B", now), read("C", now)})
	assert.ErrorIs(t, err, tracking.ErrInvalidInput)

	_, err = f.svc.Engine.Ingest(ctx, models.Portal{}, []tracking.RawRead{read("A", now)})
	assert.ErrorIs(t, err, tracking.ErrInvalidInput)
}

func TestIngestEmptyBatch(t *testing.T) {
	f := newFixture(t, tracking.Options{})
	gate := f.portal(t, "Gate-1", "")

	res := f.ingest(t, gate)
	assert.Empty(t, res.Results)
	assert.NoError(t, res.Err())
}

func TestIngestTouchesPortal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, tracking.Options{})
	gate := f.portal(t, "Gate-1", "")

	now := f.clock.Advance(time.Minute)
	f.ingest(t, gate, read("TAG-1", now))

	got, err := f.svc.Portals.Get(ctx, gate.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastSeenAt)
	assert.WithinDuration(t, now, *got.LastSeenAt, 0)
}

func TestIngestUsesPortalNameWithoutLocation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, tracking.Options{})
	gate := f.portal(t, "Gate-7", "")
	asset := f.boundAsset(t, "S-1", "TAG-1")

	f.ingest(t, gate, read("TAG-1", f.clock.Now()))
	got, err := f.svc.Assets.Get(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, "Gate-7", got.Location)
}

func TestIngestCoordinatesFromMetadata(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, tracking.Options{})
	gate := f.portal(t, "Gate-1", "Dock 3")
	asset := f.boundAsset(t, "S-1", "TAG-1")

	hint := tracking.RawRead{UID: "TAG-1", Metadata: models.Metadata{"latitude": "52.52", "longitude": 13.405}}
	f.ingest(t, gate, hint)
	got, err := f.svc.Assets.Get(ctx, asset.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Coordinates)
	assert.Equal(t, 52.52, got.Coordinates.Latitude)
	assert.Equal(t, 13.405, got.Coordinates.Longitude)

	// a half or out-of-range pair is ignored, the sighting still applies
	for _, md := range []models.Metadata{{"latitude": 10.0}, {"latitude": 95.0, "longitude": 0.0}, {"latitude": "north", "longitude": 1.0}} {
		res := f.ingest(t, gate, tracking.RawRead{UID: "TAG-1", Metadata: md})
		require.Equal(t, tracking.ReadOK, res.Results[0].Status)
	}
	got, err = f.svc.Assets.Get(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, 52.52, got.Coordinates.Latitude)
}

func TestIngestConcurrentReadsOfOneAsset(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, tracking.Options{IngestWorkers: 8})
	gate := f.portal(t, "Gate-1", "Dock 3")
	asset := f.boundAsset(t, "S-1", "TAG-1")

	base := f.clock.Now().Add(-time.Hour)
	const n = 40
	reads := make([]tracking.RawRead, n)
	for i := range reads {
		reads[i] = read("TAG-1", base.Add(time.Duration(i)*time.Second))
	}
	res := f.ingest(t, gate, reads...)
	require.Equal(t, n, res.Processed)
	for i, r := range res.Results {
		assert.Equal(t, i, r.Index)
	}

	history, err := f.svc.Ledger.History(ctx, asset.ID, tracking.MovementFilter{})
	require.NoError(t, err)
	assert.Len(t, history, n)

	got, err := f.svc.Assets.Get(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, asset.Version+n, got.Version)
	assert.Equal(t, n, f.obs.movements[models.MovementPortalRead])
	assert.Equal(t, n, f.obs.reads[tracking.ReadOK])
	assert.Equal(t, []int{n}, f.obs.batches)
}

func TestConcurrentBatchesFromManyPortals(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, tracking.Options{})
	asset := f.boundAsset(t, "S-1", "SHARED")

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		gate := f.portal(t, fmt.Sprintf("Gate-%d", p), "")
		wg.Add(1)
		go func() {
			defer wg.Done()
			reads := []tracking.RawRead{{UID: "SHARED"}}
			for i := 0; i < 5; i++ {
				reads = append(reads, tracking.RawRead{UID: fmt.Sprintf("P%d-%d", p, i)})
			}
			res, err := f.svc.Engine.Ingest(ctx, gate, reads)
			assert.NoError(t, err)
			assert.Equal(t, len(reads), res.Processed)
		}()
	}
	wg.Wait()

	history, err := f.svc.Ledger.History(ctx, asset.ID, tracking.MovementFilter{})
	require.NoError(t, err)
	assert.Len(t, history, 4)
	reads, err := f.svc.Query.SearchReads(ctx, tracking.ReadQuery{})
	require.NoError(t, err)
	assert.Len(t, reads, 24)
}

// stallingStore never starts a transaction before ctx ends
type stallingStore struct{ *memory.Store }

func (s stallingStore) RunInTx(ctx context.Context, _ func(tracking.Repos) error) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestIngestTimeoutReportsPending(t *testing.T) {
	f := newFixtureOn(t, stallingStore{memory.New()}, tracking.Options{
		IngestTimeout: 20 * time.Millisecond,
		IngestWorkers: 1,
	})
	gate := f.portal(t, "Gate-1", "")
	now := f.clock.Now()

	res := f.ingest(t, gate, read("A", now), read("B", now), read("C", now))
	assert.Equal(t, 3, res.Pending)
	assert.Zero(t, res.Processed)
	assert.ErrorIs(t, res.Err(), tracking.ErrPartialBatch)
	for _, r := range res.Results {
		assert.Equal(t, tracking.ReadPending, r.Status)
		assert.NotEmpty(t, r.Error)
		assert.Zero(t, r.ReadEventID)
	}

	got, err := f.svc.Portals.Get(context.Background(), gate.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.LastSeenAt, "portal contact is recorded even on timeout")
}

// flakyStore fails the first n transactions with a version conflict
type flakyStore struct {
	tracking.Store
	mu sync.Mutex
	n  int
}

func (s *flakyStore) RunInTx(ctx context.Context, fn func(tracking.Repos) error) error {
	s.mu.Lock()
	if s.n > 0 {
		s.n--
		s.mu.Unlock()
		return fmt.Errorf("asset 1: %w", tracking.ErrStale)
	}
	s.mu.Unlock()
	return s.Store.RunInTx(ctx, fn)
}

func TestIngestRetriesStaleTransactions(t *testing.T) {
	flaky := &flakyStore{Store: memory.New()}
	f := newFixtureOn(t, flaky, tracking.Options{MaxAttempts: 3})
	gate := f.portal(t, "Gate-1", "")

	flaky.n = 2
	res := f.ingest(t, gate, read("TAG-1", f.clock.Now()))
	assert.Equal(t, tracking.ReadOK, res.Results[0].Status)

	flaky.n = 3
	res = f.ingest(t, gate, read("TAG-2", f.clock.Now()))
	assert.Equal(t, tracking.ReadFailed, res.Results[0].Status)
	assert.Equal(t, tracking.KindConflict, res.Results[0].Kind)
}
