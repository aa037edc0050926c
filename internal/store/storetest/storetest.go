// Package storetest holds the behaviour every tracking.Store backend must
// share. Backends call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"asset-tracker-api/internal/models"
	"asset-tracker-api/internal/tracking"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty, migrated store. It owns cleanup.
type Factory func(t *testing.T) tracking.Store

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return base.Add(time.Duration(minutes) * time.Minute)
}

// Run executes the conformance suite against stores built by newStore
func Run(t *testing.T, newStore Factory) {
	t.Run("Tags", func(t *testing.T) { testTags(t, newStore(t)) })
	t.Run("Assets", func(t *testing.T) { testAssets(t, newStore(t)) })
	t.Run("AssetVersioning", func(t *testing.T) { testAssetVersioning(t, newStore(t)) })
	t.Run("Movements", func(t *testing.T) { testMovements(t, newStore(t)) })
	t.Run("Reads", func(t *testing.T) { testReads(t, newStore(t)) })
	t.Run("Portals", func(t *testing.T) { testPortals(t, newStore(t)) })
	t.Run("Transactions", func(t *testing.T) { testTransactions(t, newStore(t)) })
}

func testTags(t *testing.T, s tracking.Store) {
	ctx := context.Background()
	tags := s.Repos().Tags

	first, err := tags.Observe(ctx, "E200-1", at(10), models.Metadata{"vendor": "acme"}, at(10))
	require.NoError(t, err)
	assert.NotZero(t, first.ID)
	assert.True(t, first.Active)
	require.NotNil(t, first.LastSeenAt)
	assert.WithinDuration(t, at(10), *first.LastSeenAt, 0)
	assert.Equal(t, "acme", first.Metadata["vendor"])

	// later sighting advances, metadata is only set once
	later, err := tags.Observe(ctx, "E200-1", at(20), models.Metadata{"vendor": "other"}, at(21))
	require.NoError(t, err)
	assert.Equal(t, first.ID, later.ID)
	assert.WithinDuration(t, at(20), *later.LastSeenAt, 0)
	assert.Equal(t, "acme", later.Metadata["vendor"])

	// an older sighting never moves last_seen_at back
	older, err := tags.Observe(ctx, "E200-1", at(5), nil, at(22))
	require.NoError(t, err)
	assert.WithinDuration(t, at(20), *older.LastSeenAt, 0)
	assert.WithinDuration(t, at(22), older.UpdatedAt, 0)

	// metadata fills in when the first sighting carried none
	bare, err := tags.Observe(ctx, "E200-2", at(1), nil, at(1))
	require.NoError(t, err)
	assert.Nil(t, bare.Metadata)
	filled, err := tags.Observe(ctx, "E200-2", at(2), models.Metadata{"antenna": float64(2)}, at(2))
	require.NoError(t, err)
	assert.Equal(t, float64(2), filled.Metadata["antenna"])

	ensured, err := tags.Ensure(ctx, "E200-3", at(3))
	require.NoError(t, err)
	assert.Nil(t, ensured.LastSeenAt)
	again, err := tags.Ensure(ctx, "E200-3", at(4))
	require.NoError(t, err)
	assert.Equal(t, ensured.ID, again.ID)
	existing, err := tags.Ensure(ctx, "E200-1", at(4))
	require.NoError(t, err)
	assert.Equal(t, first.ID, existing.ID)

	byID, err := tags.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "E200-1", byID.UID)

	_, err = tags.GetByUID(ctx, "missing")
	assert.ErrorIs(t, err, tracking.ErrNotFound)
	_, err = tags.GetByID(ctx, 9999)
	assert.ErrorIs(t, err, tracking.ErrNotFound)

	seen, err := tags.SetLastSeen(ctx, "E200-3", at(30))
	require.NoError(t, err)
	assert.WithinDuration(t, at(30), *seen.LastSeenAt, 0)
	_, err = tags.SetLastSeen(ctx, "missing", at(30))
	assert.ErrorIs(t, err, tracking.ErrNotFound)

	owned, err := tags.SetOwner(ctx, "E200-3", "crew-7", at(31))
	require.NoError(t, err)
	require.NotNil(t, owned.OwnerRef)
	assert.Equal(t, "crew-7", *owned.OwnerRef)
	_, err = tags.SetOwner(ctx, "missing", "crew-7", at(31))
	assert.ErrorIs(t, err, tracking.ErrNotFound)
}

func newAsset(serial string, updated time.Time) *models.Asset {
	label := "Crate " + serial
	return &models.Asset{
		Serial:    serial,
		Label:     &label,
		Location:  "Base",
		Status:    models.StatusAtBase,
		CreatedAt: updated,
		UpdatedAt: updated,
	}
}

func testAssets(t *testing.T, s tracking.Store) {
	ctx := context.Background()
	r := s.Repos()

	tag, err := r.Tags.Ensure(ctx, "T-1", at(0))
	require.NoError(t, err)

	a := newAsset("S-100", at(1))
	a.TagID = &tag.ID
	a.Coordinates = &models.Coordinates{Latitude: 51.5, Longitude: -0.12}
	require.NoError(t, r.Assets.Create(ctx, a))
	assert.NotZero(t, a.ID)
	assert.Equal(t, int64(1), a.Version)

	got, err := r.Assets.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "S-100", got.Serial)
	require.NotNil(t, got.Label)
	assert.Equal(t, "Crate S-100", *got.Label)
	assert.Nil(t, got.Contents)
	require.NotNil(t, got.Coordinates)
	assert.Equal(t, 51.5, got.Coordinates.Latitude)
	assert.Equal(t, models.StatusAtBase, got.Status)

	byTag, err := r.Assets.GetByTagID(ctx, tag.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, byTag.ID)

	err = r.Assets.Create(ctx, newAsset("S-100", at(2)))
	assert.ErrorIs(t, err, tracking.ErrConflict)

	dup := newAsset("S-101", at(2))
	dup.TagID = &tag.ID
	assert.ErrorIs(t, r.Assets.Create(ctx, dup), tracking.ErrConflict)

	require.NoError(t, r.Assets.Create(ctx, newAsset("S-102", at(3))))
	require.NoError(t, r.Assets.Create(ctx, newAsset("S-103", at(3))))

	n, err := r.Assets.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	list, err := r.Assets.List(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "S-103", list[0].Serial, "ties on updated_at break on id")
	assert.Equal(t, "S-102", list[1].Serial)

	rest, err := r.Assets.List(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "S-100", rest[0].Serial)

	empty, err := r.Assets.List(ctx, 10, 50)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = r.Assets.GetByID(ctx, 9999)
	assert.ErrorIs(t, err, tracking.ErrNotFound)
	_, err = r.Assets.GetByTagID(ctx, 9999)
	assert.ErrorIs(t, err, tracking.ErrNotFound)
}

func testAssetVersioning(t *testing.T, s tracking.Store) {
	ctx := context.Background()
	r := s.Repos()

	a := newAsset("S-200", at(0))
	require.NoError(t, r.Assets.Create(ctx, a))

	next := *a
	next.Status = models.StatusInTransit
	next.Location = "Dock"
	next.UpdatedAt = at(5)
	updated, err := r.Assets.Update(ctx, next)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, models.StatusInTransit, updated.Status)
	assert.WithinDuration(t, at(0), updated.CreatedAt, 0)
	assert.WithinDuration(t, at(5), updated.UpdatedAt, 0)

	// writing from the old version is stale
	_, err = r.Assets.Update(ctx, next)
	assert.ErrorIs(t, err, tracking.ErrStale)

	missing := next
	missing.ID = 9999
	_, err = r.Assets.Update(ctx, missing)
	assert.ErrorIs(t, err, tracking.ErrNotFound)

	other := newAsset("S-201", at(1))
	require.NoError(t, r.Assets.Create(ctx, other))
	clash := updated
	clash.Serial = "S-201"
	_, err = r.Assets.Update(ctx, clash)
	assert.ErrorIs(t, err, tracking.ErrConflict)

	// clearing coordinates and label round-trips as nil
	cleared := updated
	cleared.Label = nil
	cleared.Coordinates = nil
	out, err := r.Assets.Update(ctx, cleared)
	require.NoError(t, err)
	assert.Nil(t, out.Label)
	assert.Nil(t, out.Coordinates)
}

func testMovements(t *testing.T, s tracking.Store) {
	ctx := context.Background()
	r := s.Repos()

	a := newAsset("S-300", at(0))
	require.NoError(t, r.Assets.Create(ctx, a))

	kinds := []models.MovementKind{models.MovementCheckout, models.MovementPortalRead, models.MovementCheckin}
	var ids []int64
	for i, k := range kinds {
		ev := &models.MovementEvent{
			AssetID:    a.ID,
			Kind:       k,
			Actor:      "ops",
			Location:   "Gate",
			OccurredAt: at(10 * (i + 1)),
			CreatedAt:  at(10 * (i + 1)),
		}
		if k == models.MovementPortalRead {
			ev.Metadata = models.Metadata{"portal_id": float64(1)}
		}
		require.NoError(t, r.Movements.Append(ctx, ev))
		ids = append(ids, ev.ID)
	}
	// same timestamp as the checkin: id breaks the tie
	tie := &models.MovementEvent{AssetID: a.ID, Kind: models.MovementCheckout, Actor: "ops", OccurredAt: at(30), CreatedAt: at(31)}
	require.NoError(t, r.Movements.Append(ctx, tie))

	all, err := r.Movements.ListByAsset(ctx, a.ID, tracking.MovementFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, tie.ID, all[0].ID)
	assert.Equal(t, ids[2], all[1].ID)
	assert.Equal(t, ids[0], all[3].ID)
	assert.Equal(t, float64(1), all[2].Metadata["portal_id"])

	from, to := at(15), at(30)
	window, err := r.Movements.ListByAsset(ctx, a.ID, tracking.MovementFilter{From: &from, To: &to})
	require.NoError(t, err)
	assert.Len(t, window, 3, "bounds are inclusive")

	paged, err := r.Movements.ListByAsset(ctx, a.ID, tracking.MovementFilter{Limit: 2, Skip: 1})
	require.NoError(t, err)
	require.Len(t, paged, 2)
	assert.Equal(t, ids[2], paged[0].ID)

	none, err := r.Movements.ListByAsset(ctx, 9999, tracking.MovementFilter{})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	err = r.Movements.Append(ctx, &models.MovementEvent{AssetID: 9999, Kind: models.MovementCheckin, Actor: "ops", OccurredAt: at(1), CreatedAt: at(1)})
	assert.ErrorIs(t, err, tracking.ErrNotFound)
}

func testReads(t *testing.T, s tracking.Store) {
	ctx := context.Background()
	r := s.Repos()

	north := &models.Portal{Name: "North", KeyHash: "h-north", CreatedAt: at(0)}
	south := &models.Portal{Name: "South", KeyHash: "h-south", CreatedAt: at(0)}
	require.NoError(t, r.Portals.Create(ctx, north))
	require.NoError(t, r.Portals.Create(ctx, south))
	t1, err := r.Tags.Ensure(ctx, "R-1", at(0))
	require.NoError(t, err)
	t2, err := r.Tags.Ensure(ctx, "R-2", at(0))
	require.NoError(t, err)

	rssi, antenna := -61.5, 3
	appendRead := func(tag models.Tag, portal *models.Portal, minute int) *models.ReadEvent {
		ev := &models.ReadEvent{UID: tag.UID, TagID: tag.ID, PortalID: portal.ID, ObservedAt: at(minute), CreatedAt: at(60)}
		require.NoError(t, r.Reads.Append(ctx, ev))
		return ev
	}
	withSignal := &models.ReadEvent{UID: t1.UID, TagID: t1.ID, PortalID: north.ID, ObservedAt: at(1), RSSI: &rssi, Antenna: &antenna,
		Metadata: models.Metadata{"speed": "slow"}, CreatedAt: at(60)}
	require.NoError(t, r.Reads.Append(ctx, withSignal))
	appendRead(t1, south, 2)
	appendRead(t2, north, 3)
	latest := appendRead(t2, south, 4)

	all, err := r.Reads.Search(ctx, tracking.ReadFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, latest.ID, all[0].ID)
	require.NotNil(t, all[3].RSSI)
	assert.Equal(t, rssi, *all[3].RSSI)
	require.NotNil(t, all[3].Antenna)
	assert.Equal(t, 3, *all[3].Antenna)
	assert.Equal(t, "slow", all[3].Metadata["speed"])
	assert.Nil(t, all[0].RSSI)

	byPortal, err := r.Reads.Search(ctx, tracking.ReadFilter{PortalID: &north.ID})
	require.NoError(t, err)
	assert.Len(t, byPortal, 2)

	byUID, err := r.Reads.Search(ctx, tracking.ReadFilter{UID: "R-1", PortalID: &south.ID})
	require.NoError(t, err)
	require.Len(t, byUID, 1)
	assert.WithinDuration(t, at(2), byUID[0].ObservedAt, 0)

	from, to := at(2), at(3)
	window, err := r.Reads.Search(ctx, tracking.ReadFilter{From: &from, To: &to})
	require.NoError(t, err)
	assert.Len(t, window, 2)

	limited, err := r.Reads.Search(ctx, tracking.ReadFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	err = r.Reads.Append(ctx, &models.ReadEvent{UID: "x", TagID: 9999, PortalID: north.ID, ObservedAt: at(1), CreatedAt: at(1)})
	assert.ErrorIs(t, err, tracking.ErrNotFound)
	err = r.Reads.Append(ctx, &models.ReadEvent{UID: t1.UID, TagID: t1.ID, PortalID: 9999, ObservedAt: at(1), CreatedAt: at(1)})
	assert.ErrorIs(t, err, tracking.ErrNotFound)
}

func testPortals(t *testing.T, s tracking.Store) {
	ctx := context.Background()
	r := s.Repos().Portals

	p := &models.Portal{Name: "Gate A", Location: "Yard", KeyHash: "abc", CreatedAt: at(0)}
	require.NoError(t, r.Create(ctx, p))
	assert.NotZero(t, p.ID)

	assert.ErrorIs(t, r.Create(ctx, &models.Portal{Name: "dup", KeyHash: "abc", CreatedAt: at(0)}), tracking.ErrConflict)

	got, err := r.GetByKeyHash(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, "Yard", got.Location)
	assert.Nil(t, got.LastSeenAt)

	_, err = r.GetByKeyHash(ctx, "nope")
	assert.ErrorIs(t, err, tracking.ErrNotFound)

	require.NoError(t, r.Touch(ctx, p.ID, at(9)))
	touched, err := r.GetByID(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, touched.LastSeenAt)
	assert.WithinDuration(t, at(9), *touched.LastSeenAt, 0)
	assert.ErrorIs(t, r.Touch(ctx, 9999, at(9)), tracking.ErrNotFound)

	require.NoError(t, r.Create(ctx, &models.Portal{Name: "Gate B", KeyHash: "def", CreatedAt: at(1)}))
	list, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Gate A", list[0].Name)
}

func testTransactions(t *testing.T, s tracking.Store) {
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.RunInTx(ctx, func(r tracking.Repos) error {
		if _, err := r.Tags.Observe(ctx, "TX-1", at(1), nil, at(1)); err != nil {
			return err
		}
		a := newAsset("TX-S", at(1))
		if err := r.Assets.Create(ctx, a); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.Repos().Tags.GetByUID(ctx, "TX-1")
	assert.ErrorIs(t, err, tracking.ErrNotFound, "rolled back")
	n, err := s.Repos().Assets.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	var assetID int64
	err = s.RunInTx(ctx, func(r tracking.Repos) error {
		a := newAsset("TX-S", at(2))
		if err := r.Assets.Create(ctx, a); err != nil {
			return err
		}
		assetID = a.ID
		return r.Movements.Append(ctx, &models.MovementEvent{AssetID: a.ID, Kind: models.MovementCheckout, Actor: "ops", OccurredAt: at(2), CreatedAt: at(2)})
	})
	require.NoError(t, err)

	got, err := s.Repos().Assets.GetByID(ctx, assetID)
	require.NoError(t, err)
	assert.Equal(t, "TX-S", got.Serial)
	history, err := s.Repos().Movements.ListByAsset(ctx, assetID, tracking.MovementFilter{})
	require.NoError(t, err)
	assert.Len(t, history, 1)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err = s.RunInTx(cancelled, func(r tracking.Repos) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
