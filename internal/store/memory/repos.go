package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"asset-tracker-api/internal/models"
	"asset-tracker-api/internal/tracking"
)

type tagRepo struct{ v view }

func (r tagRepo) Observe(_ context.Context, uid string, observedAt time.Time, md models.Metadata, now time.Time) (models.Tag, error) {
	var out models.Tag
	err := r.v.do(func(st *state) error {
		id, ok := st.tagByUID[uid]
		if !ok {
			id = st.next("tags")
			tag := models.Tag{
				ID:         id,
				UID:        uid,
				Metadata:   cloneMetadata(md),
				LastSeenAt: cloneTime(&observedAt),
				Active:     true,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			st.tags[id] = tag
			st.tagByUID[uid] = id
			r.v.onRollback(func() {
				delete(st.tags, id)
				delete(st.tagByUID, uid)
			})
			out = cloneTag(tag)
			return nil
		}

		prev := st.tags[id]
		tag := cloneTag(prev)
		if tag.LastSeenAt == nil || tag.LastSeenAt.Before(observedAt) {
			tag.LastSeenAt = cloneTime(&observedAt)
		}
		if len(tag.Metadata) == 0 {
			tag.Metadata = cloneMetadata(md)
		}
		tag.UpdatedAt = now
		st.tags[id] = tag
		r.v.onRollback(func() { st.tags[id] = prev })
		out = cloneTag(tag)
		return nil
	})
	return out, err
}

func (r tagRepo) Ensure(_ context.Context, uid string, now time.Time) (models.Tag, error) {
	var out models.Tag
	err := r.v.do(func(st *state) error {
		if id, ok := st.tagByUID[uid]; ok {
			out = cloneTag(st.tags[id])
			return nil
		}
		id := st.next("tags")
		tag := models.Tag{ID: id, UID: uid, Active: true, CreatedAt: now, UpdatedAt: now}
		st.tags[id] = tag
		st.tagByUID[uid] = id
		r.v.onRollback(func() {
			delete(st.tags, id)
			delete(st.tagByUID, uid)
		})
		out = cloneTag(tag)
		return nil
	})
	return out, err
}

func (r tagRepo) GetByUID(_ context.Context, uid string) (models.Tag, error) {
	var out models.Tag
	err := r.v.do(func(st *state) error {
		id, ok := st.tagByUID[uid]
		if !ok {
			return fmt.Errorf("tag %q: %w", uid, tracking.ErrNotFound)
		}
		out = cloneTag(st.tags[id])
		return nil
	})
	return out, err
}

func (r tagRepo) GetByID(_ context.Context, id int64) (models.Tag, error) {
	var out models.Tag
	err := r.v.do(func(st *state) error {
		tag, ok := st.tags[id]
		if !ok {
			return fmt.Errorf("tag %d: %w", id, tracking.ErrNotFound)
		}
		out = cloneTag(tag)
		return nil
	})
	return out, err
}

func (r tagRepo) update(uid string, fn func(t *models.Tag)) (models.Tag, error) {
	var out models.Tag
	err := r.v.do(func(st *state) error {
		id, ok := st.tagByUID[uid]
		if !ok {
			return fmt.Errorf("tag %q: %w", uid, tracking.ErrNotFound)
		}
		prev := st.tags[id]
		tag := cloneTag(prev)
		fn(&tag)
		st.tags[id] = tag
		r.v.onRollback(func() { st.tags[id] = prev })
		out = cloneTag(tag)
		return nil
	})
	return out, err
}

func (r tagRepo) SetLastSeen(_ context.Context, uid string, at time.Time) (models.Tag, error) {
	return r.update(uid, func(t *models.Tag) {
		t.LastSeenAt = cloneTime(&at)
		t.UpdatedAt = at
	})
}

func (r tagRepo) SetOwner(_ context.Context, uid string, owner string, now time.Time) (models.Tag, error) {
	return r.update(uid, func(t *models.Tag) {
		t.OwnerRef = &owner
		t.UpdatedAt = now
	})
}

type assetRepo struct{ v view }

func (r assetRepo) Create(_ context.Context, a *models.Asset) error {
	return r.v.do(func(st *state) error {
		if _, ok := st.bySerial[a.Serial]; ok {
			return fmt.Errorf("asset serial %q: %w", a.Serial, tracking.ErrConflict)
		}
		if a.TagID != nil {
			if _, ok := st.assetByTag[*a.TagID]; ok {
				return fmt.Errorf("tag %d already bound: %w", *a.TagID, tracking.ErrConflict)
			}
		}
		a.ID = st.next("assets")
		a.Version = 1
		stored := cloneAsset(*a)
		st.assets[a.ID] = stored
		st.bySerial[a.Serial] = a.ID
		if a.TagID != nil {
			st.assetByTag[*a.TagID] = a.ID
		}
		id, serial, tagID := a.ID, a.Serial, cloneInt64(a.TagID)
		r.v.onRollback(func() {
			delete(st.assets, id)
			delete(st.bySerial, serial)
			if tagID != nil {
				delete(st.assetByTag, *tagID)
			}
		})
		return nil
	})
}

func (r assetRepo) GetByID(_ context.Context, id int64) (models.Asset, error) {
	var out models.Asset
	err := r.v.do(func(st *state) error {
		a, ok := st.assets[id]
		if !ok {
			return fmt.Errorf("asset %d: %w", id, tracking.ErrNotFound)
		}
		out = cloneAsset(a)
		return nil
	})
	return out, err
}

func (r assetRepo) GetByTagID(_ context.Context, tagID int64) (models.Asset, error) {
	var out models.Asset
	err := r.v.do(func(st *state) error {
		id, ok := st.assetByTag[tagID]
		if !ok {
			return fmt.Errorf("asset for tag %d: %w", tagID, tracking.ErrNotFound)
		}
		out = cloneAsset(st.assets[id])
		return nil
	})
	return out, err
}

func (r assetRepo) Update(_ context.Context, a models.Asset) (models.Asset, error) {
	var out models.Asset
	err := r.v.do(func(st *state) error {
		prev, ok := st.assets[a.ID]
		if !ok {
			return fmt.Errorf("asset %d: %w", a.ID, tracking.ErrNotFound)
		}
		if prev.Version != a.Version {
			return fmt.Errorf("asset %d at version %d, have %d: %w", a.ID, prev.Version, a.Version, tracking.ErrStale)
		}
		if a.Serial != prev.Serial {
			if _, taken := st.bySerial[a.Serial]; taken {
				return fmt.Errorf("asset serial %q: %w", a.Serial, tracking.ErrConflict)
			}
		}
		if a.TagID != nil {
			if holder, taken := st.assetByTag[*a.TagID]; taken && holder != a.ID {
				return fmt.Errorf("tag %d already bound: %w", *a.TagID, tracking.ErrConflict)
			}
		}

		next := cloneAsset(a)
		next.Version = prev.Version + 1
		next.CreatedAt = prev.CreatedAt
		st.assets[a.ID] = next
		delete(st.bySerial, prev.Serial)
		st.bySerial[next.Serial] = next.ID
		if prev.TagID != nil {
			delete(st.assetByTag, *prev.TagID)
		}
		if next.TagID != nil {
			st.assetByTag[*next.TagID] = next.ID
		}
		r.v.onRollback(func() {
			st.assets[prev.ID] = prev
			delete(st.bySerial, next.Serial)
			st.bySerial[prev.Serial] = prev.ID
			if next.TagID != nil {
				delete(st.assetByTag, *next.TagID)
			}
			if prev.TagID != nil {
				st.assetByTag[*prev.TagID] = prev.ID
			}
		})
		out = cloneAsset(next)
		return nil
	})
	return out, err
}

func (r assetRepo) List(_ context.Context, limit, offset int) ([]models.Asset, error) {
	var out []models.Asset
	err := r.v.do(func(st *state) error {
		all := make([]models.Asset, 0, len(st.assets))
		for _, a := range st.assets {
			all = append(all, cloneAsset(a))
		}
		sort.Slice(all, func(i, j int) bool {
			if !all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
				return all[i].UpdatedAt.After(all[j].UpdatedAt)
			}
			return all[i].ID > all[j].ID
		})
		out = page(all, limit, offset)
		return nil
	})
	return out, err
}

func (r assetRepo) Count(_ context.Context) (int, error) {
	var n int
	err := r.v.do(func(st *state) error {
		n = len(st.assets)
		return nil
	})
	return n, err
}

type movementRepo struct{ v view }

func (r movementRepo) Append(_ context.Context, ev *models.MovementEvent) error {
	return r.v.do(func(st *state) error {
		if _, ok := st.assets[ev.AssetID]; !ok {
			return fmt.Errorf("movement for asset %d: %w", ev.AssetID, tracking.ErrNotFound)
		}
		ev.ID = st.next("movements")
		n := len(st.movements)
		st.movements = append(st.movements, cloneMovement(*ev))
		r.v.onRollback(func() { st.movements = st.movements[:n] })
		return nil
	})
}

func (r movementRepo) ListByAsset(_ context.Context, assetID int64, f tracking.MovementFilter) ([]models.MovementEvent, error) {
	var out []models.MovementEvent
	err := r.v.do(func(st *state) error {
		var matched []models.MovementEvent
		for _, m := range st.movements {
			if m.AssetID != assetID || !within(m.OccurredAt, f.From, f.To) {
				continue
			}
			matched = append(matched, cloneMovement(m))
		}
		sort.Slice(matched, func(i, j int) bool {
			if !matched[i].OccurredAt.Equal(matched[j].OccurredAt) {
				return matched[i].OccurredAt.After(matched[j].OccurredAt)
			}
			return matched[i].ID > matched[j].ID
		})
		out = page(matched, f.Limit, f.Skip)
		return nil
	})
	return out, err
}

type readRepo struct{ v view }

func (r readRepo) Append(_ context.Context, ev *models.ReadEvent) error {
	return r.v.do(func(st *state) error {
		if _, ok := st.tags[ev.TagID]; !ok {
			return fmt.Errorf("read for tag %d: %w", ev.TagID, tracking.ErrNotFound)
		}
		if _, ok := st.portals[ev.PortalID]; !ok {
			return fmt.Errorf("read from portal %d: %w", ev.PortalID, tracking.ErrNotFound)
		}
		ev.ID = st.next("read_events")
		n := len(st.reads)
		st.reads = append(st.reads, cloneRead(*ev))
		r.v.onRollback(func() { st.reads = st.reads[:n] })
		return nil
	})
}

func (r readRepo) Search(_ context.Context, f tracking.ReadFilter) ([]models.ReadEvent, error) {
	var out []models.ReadEvent
	err := r.v.do(func(st *state) error {
		var matched []models.ReadEvent
		for _, ev := range st.reads {
			if f.PortalID != nil && ev.PortalID != *f.PortalID {
				continue
			}
			if f.UID != "" && ev.UID != f.UID {
				continue
			}
			if !within(ev.ObservedAt, f.From, f.To) {
				continue
			}
			matched = append(matched, cloneRead(ev))
		}
		sort.Slice(matched, func(i, j int) bool {
			if !matched[i].ObservedAt.Equal(matched[j].ObservedAt) {
				return matched[i].ObservedAt.After(matched[j].ObservedAt)
			}
			return matched[i].ID > matched[j].ID
		})
		out = page(matched, f.Limit, 0)
		return nil
	})
	return out, err
}

type portalRepo struct{ v view }

func (r portalRepo) Create(_ context.Context, p *models.Portal) error {
	return r.v.do(func(st *state) error {
		if _, ok := st.portalByHash[p.KeyHash]; ok {
			return fmt.Errorf("portal key: %w", tracking.ErrConflict)
		}
		p.ID = st.next("portals")
		st.portals[p.ID] = clonePortal(*p)
		st.portalByHash[p.KeyHash] = p.ID
		id, hash := p.ID, p.KeyHash
		r.v.onRollback(func() {
			delete(st.portals, id)
			delete(st.portalByHash, hash)
		})
		return nil
	})
}

func (r portalRepo) GetByID(_ context.Context, id int64) (models.Portal, error) {
	var out models.Portal
	err := r.v.do(func(st *state) error {
		p, ok := st.portals[id]
		if !ok {
			return fmt.Errorf("portal %d: %w", id, tracking.ErrNotFound)
		}
		out = clonePortal(p)
		return nil
	})
	return out, err
}

func (r portalRepo) GetByKeyHash(_ context.Context, hash string) (models.Portal, error) {
	var out models.Portal
	err := r.v.do(func(st *state) error {
		id, ok := st.portalByHash[hash]
		if !ok {
			return fmt.Errorf("portal key: %w", tracking.ErrNotFound)
		}
		out = clonePortal(st.portals[id])
		return nil
	})
	return out, err
}

func (r portalRepo) List(_ context.Context) ([]models.Portal, error) {
	var out []models.Portal
	err := r.v.do(func(st *state) error {
		out = make([]models.Portal, 0, len(st.portals))
		for _, p := range st.portals {
			out = append(out, clonePortal(p))
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return nil
	})
	return out, err
}

func (r portalRepo) Touch(_ context.Context, id int64, at time.Time) error {
	return r.v.do(func(st *state) error {
		prev, ok := st.portals[id]
		if !ok {
			return fmt.Errorf("portal %d: %w", id, tracking.ErrNotFound)
		}
		p := clonePortal(prev)
		p.LastSeenAt = cloneTime(&at)
		st.portals[id] = p
		r.v.onRollback(func() { st.portals[id] = prev })
		return nil
	})
}

func within(t time.Time, from, to *time.Time) bool {
	if from != nil && t.Before(*from) {
		return false
	}
	if to != nil && t.After(*to) {
		return false
	}
	return true
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
