package tracking_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"asset-tracker-api/internal/models"
	"asset-tracker-api/internal/tracking"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListAssetsIncludesRecentMovements(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, tracking.Options{RecentMovements: 2})
	gate := f.portal(t, "Gate-1", "Dock")

	busy := f.boundAsset(t, "S-busy", "TAG-1")
	for i := 0; i < 4; i++ {
		f.ingest(t, gate, read("TAG-1", f.clock.Advance(time.Minute)))
	}
	f.clock.Advance(time.Minute)
	idle := f.asset(t, "S-idle")

	page, err := f.svc.Query.ListAssets(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Assets, 2)

	assert.Equal(t, idle.ID, page.Assets[0].ID, "most recently updated first")
	assert.NotNil(t, page.Assets[0].Movements)
	assert.Empty(t, page.Assets[0].Movements)
	assert.Nil(t, page.Assets[0].Tag)

	assert.Equal(t, busy.ID, page.Assets[1].ID)
	assert.Len(t, page.Assets[1].Movements, 2)
	require.NotNil(t, page.Assets[1].Tag)
	assert.Equal(t, "TAG-1", page.Assets[1].Tag.UID)

	second, err := f.svc.Query.ListAssets(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, second.Assets, 1)
	assert.Equal(t, busy.ID, second.Assets[0].ID)
	assert.Equal(t, 2, second.Total)

	_, err = f.svc.Query.ListAssets(ctx, -1, 0)
	assert.ErrorIs(t, err, tracking.ErrInvalidInput)
}

func TestGetAssetNotFound(t *testing.T) {
	f := newFixture(t, tracking.Options{})
	_, err := f.svc.Query.GetAsset(context.Background(), 42)
	assert.ErrorIs(t, err, tracking.ErrNotFound)
}

func TestMovementsPaging(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, tracking.Options{MovementsDefaultLimit: 3})
	gate := f.portal(t, "Gate-1", "Dock")
	a := f.boundAsset(t, "S-1", "TAG-1")

	var stamps []time.Time
	for i := 0; i < 5; i++ {
		ts := f.clock.Advance(time.Minute)
		stamps = append(stamps, ts)
		f.ingest(t, gate, read("TAG-1", ts))
	}

	def, err := f.svc.Query.Movements(ctx, a.ID, tracking.MovementFilter{})
	require.NoError(t, err)
	require.Len(t, def, 3)
	assert.WithinDuration(t, stamps[4], def[0].OccurredAt, 0)

	skipped, err := f.svc.Query.Movements(ctx, a.ID, tracking.MovementFilter{Limit: 2, Skip: 3})
	require.NoError(t, err)
	require.Len(t, skipped, 2)
	assert.WithinDuration(t, stamps[1], skipped[0].OccurredAt, 0)

	from, to := stamps[1], stamps[3]
	window, err := f.svc.Query.Movements(ctx, a.ID, tracking.MovementFilter{From: &from, To: &to})
	require.NoError(t, err)
	assert.Len(t, window, 3)

	_, err = f.svc.Query.Movements(ctx, a.ID, tracking.MovementFilter{From: &to, To: &from})
	assert.ErrorIs(t, err, tracking.ErrInvalidInput)
	_, err = f.svc.Query.Movements(ctx, a.ID, tracking.MovementFilter{Skip: -1})
	assert.ErrorIs(t, err, tracking.ErrInvalidInput)
	_, err = f.svc.Query.Movements(ctx, 9999, tracking.MovementFilter{})
	assert.ErrorIs(t, err, tracking.ErrNotFound)
}

func TestSearchReads(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, tracking.Options{ReadsDefaultLimit: 3, ReadsMaxLimit: 5})
	north := f.portal(t, "North", "N")
	south := f.portal(t, "South", "S")

	for i := 0; i < 4; i++ {
		ts := f.clock.Advance(time.Minute)
		f.ingest(t, north, read(fmt.Sprintf("N-%d", i), ts))
		f.ingest(t, south, read(fmt.Sprintf("S-%d", i), ts))
	}

	def, err := f.svc.Query.SearchReads(ctx, tracking.ReadQuery{})
	require.NoError(t, err)
	assert.Len(t, def, 3, "default cap applies")

	capped, err := f.svc.Query.SearchReads(ctx, tracking.ReadQuery{Limit: 100})
	require.NoError(t, err)
	assert.Len(t, capped, 5, "override is bounded by the maximum")

	mine, err := f.svc.Query.SearchReads(ctx, tracking.ReadQuery{PortalID: &south.ID, Limit: 5})
	require.NoError(t, err)
	require.Len(t, mine, 4)
	for _, r := range mine {
		require.NotNil(t, r.Portal)
		assert.Equal(t, "South", r.Portal.Name)
		require.NotNil(t, r.Tag)
		assert.Equal(t, r.UID, r.Tag.UID)
	}
	assert.Equal(t, "S-3", mine[0].UID)

	one, err := f.svc.Query.SearchReads(ctx, tracking.ReadQuery{UID: "N-2"})
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, north.ID, one[0].PortalID)

	_, err = f.svc.Query.SearchReads(ctx, tracking.ReadQuery{Limit: -1})
	assert.ErrorIs(t, err, tracking.ErrInvalidInput)

	none, err := f.svc.Query.SearchReads(ctx, tracking.ReadQuery{UID: "missing"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestTagRegistry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, tracking.Options{})

	t1 := f.clock.Now().Add(-time.Hour)
	tag, err := f.svc.Tags.LookupOrCreate(ctx, "T-1", t1, models.Metadata{"kind": "uhf"})
	require.NoError(t, err)
	assert.Equal(t, "uhf", tag.Metadata["kind"])

	again, err := f.svc.Tags.LookupOrCreate(ctx, "T-1", t1.Add(-time.Minute), models.Metadata{"kind": "nfc"})
	require.NoError(t, err)
	assert.Equal(t, tag.ID, again.ID)
	assert.WithinDuration(t, t1, *again.LastSeenAt, 0)
	assert.Equal(t, "uhf", again.Metadata["kind"], "first metadata wins")

	_, err = f.svc.Tags.LookupOrCreate(ctx, " ", t1, nil)
	assert.ErrorIs(t, err, tracking.ErrInvalidInput)

	now := f.clock.Advance(time.Minute)
	seen, err := f.svc.Tags.MarkSeenNow(ctx, "T-1")
	require.NoError(t, err)
	assert.WithinDuration(t, now, *seen.LastSeenAt, 0)
	_, err = f.svc.Tags.MarkSeenNow(ctx, "nope")
	assert.ErrorIs(t, err, tracking.ErrNotFound)

	owned, err := f.svc.Tags.Bind(ctx, "T-1", "crew-4")
	require.NoError(t, err)
	assert.Equal(t, "crew-4", *owned.OwnerRef)
	_, err = f.svc.Tags.Bind(ctx, "T-1", "")
	assert.ErrorIs(t, err, tracking.ErrInvalidInput)
	_, err = f.svc.Tags.Bind(ctx, "nope", "crew-4")
	assert.ErrorIs(t, err, tracking.ErrNotFound)
}

func TestPortalDirectory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, tracking.Options{})

	p, key, err := f.svc.Portals.Register(ctx, "Gate-1", "Dock 3")
	require.NoError(t, err)
	assert.Regexp(t, `^pk_[0-9a-f]{32}$`, key)
	assert.Equal(t, tracking.HashAPIKey(key), p.KeyHash)

	got, err := f.svc.Portals.Authenticate(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	_, err = f.svc.Portals.Authenticate(ctx, "pk_wrong")
	assert.ErrorIs(t, err, tracking.ErrNotFound)
	_, err = f.svc.Portals.Authenticate(ctx, "")
	assert.ErrorIs(t, err, tracking.ErrInvalidInput)
	_, _, err = f.svc.Portals.Register(ctx, "", "x")
	assert.ErrorIs(t, err, tracking.ErrInvalidInput)

	list, err := f.svc.Portals.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Gate-1", list[0].Name)
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("asset 1: %w", tracking.ErrNotFound), tracking.KindNotFound},
		{fmt.Errorf("x: %w", tracking.ErrStale), tracking.KindConflict},
		{tracking.ErrConflict, tracking.KindConflict},
		{tracking.ErrInvalidInput, tracking.KindInvalidInput},
		{tracking.ErrPartialBatch, tracking.KindPartialBatch},
		{fmt.Errorf("disk on fire"), tracking.KindInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tracking.KindOf(tt.err))
	}
}

func TestParseRebindPolicy(t *testing.T) {
	p, err := tracking.ParseRebindPolicy("")
	require.NoError(t, err)
	assert.Equal(t, tracking.RebindReassign, p)
	p, err = tracking.ParseRebindPolicy("reject")
	require.NoError(t, err)
	assert.Equal(t, tracking.RebindReject, p)
	_, err = tracking.ParseRebindPolicy("steal")
	assert.Error(t, err)
}
