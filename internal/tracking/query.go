package tracking

import (
	"context"
	"time"

	"asset-tracker-api/internal/models"
)

// QueryService serves read-only projections over the tracking state
type QueryService struct {
	d      *deps
	ledger *Ledger
}

// AssetPage is one page of the asset list
type AssetPage struct {
	Assets []models.AssetDetail
	Total  int
}

// ReadQuery filters a read event search. Limit 0 selects the default cap.
type ReadQuery struct {
	PortalID *int64
	UID      string
	From     *time.Time
	To       *time.Time
	Limit    int
}

// ListAssets returns assets most recently updated first, each with its bound
// tag and latest movements
func (q *QueryService) ListAssets(ctx context.Context, limit, offset int) (AssetPage, error) {
	if limit < 0 || offset < 0 {
		return AssetPage{}, invalidf("limit and offset must not be negative")
	}
	repos := q.d.store.Repos()
	assets, err := repos.Assets.List(ctx, limit, offset)
	if err != nil {
		return AssetPage{}, err
	}
	total, err := repos.Assets.Count(ctx)
	if err != nil {
		return AssetPage{}, err
	}

	page := AssetPage{Assets: make([]models.AssetDetail, 0, len(assets)), Total: total}
	for _, a := range assets {
		detail, err := q.detail(ctx, repos, a, MovementFilter{Limit: q.d.opts.RecentMovements})
		if err != nil {
			return AssetPage{}, err
		}
		page.Assets = append(page.Assets, detail)
	}
	return page, nil
}

// GetAsset returns one asset with its full movement history
func (q *QueryService) GetAsset(ctx context.Context, id int64) (models.AssetDetail, error) {
	repos := q.d.store.Repos()
	asset, err := repos.Assets.GetByID(ctx, id)
	if err != nil {
		return models.AssetDetail{}, assetNotFound(err, id)
	}
	return q.detail(ctx, repos, asset, MovementFilter{})
}

// Movements returns one page of an asset's history. A zero limit selects the
// default page size.
func (q *QueryService) Movements(ctx context.Context, assetID int64, f MovementFilter) ([]models.MovementEvent, error) {
	if f.Limit == 0 {
		f.Limit = q.d.opts.MovementsDefaultLimit
	}
	return q.ledger.History(ctx, assetID, f)
}

// SearchReads returns read events newest first with portal and tag attached.
// The result size is capped by the configured default unless q.Limit
// overrides it, up to the configured maximum.
func (q *QueryService) SearchReads(ctx context.Context, rq ReadQuery) ([]models.ReadEventDetail, error) {
	limit := q.d.opts.ReadsDefaultLimit
	switch {
	case rq.Limit < 0:
		return nil, invalidf("limit must not be negative")
	case rq.Limit > q.d.opts.ReadsMaxLimit:
		limit = q.d.opts.ReadsMaxLimit
	case rq.Limit > 0:
		limit = rq.Limit
	}
	if rq.From != nil && rq.To != nil && rq.From.After(*rq.To) {
		return nil, invalidf("from is after to")
	}

	repos := q.d.store.Repos()
	events, err := repos.Reads.Search(ctx, ReadFilter{
		PortalID: rq.PortalID,
		UID:      rq.UID,
		From:     rq.From,
		To:       rq.To,
		Limit:    limit,
	})
	if err != nil {
		return nil, err
	}

	portals := map[int64]*models.Portal{}
	tags := map[int64]*models.Tag{}
	out := make([]models.ReadEventDetail, 0, len(events))
	for _, ev := range events {
		d := models.ReadEventDetail{ReadEvent: ev}
		if p, ok := portals[ev.PortalID]; ok {
			d.Portal = p
		} else if p, err := repos.Portals.GetByID(ctx, ev.PortalID); err == nil {
			d.Portal = &p
			portals[ev.PortalID] = &p
		} else if KindOf(err) != KindNotFound {
			return nil, err
		}
		if t, ok := tags[ev.TagID]; ok {
			d.Tag = t
		} else if t, err := repos.Tags.GetByID(ctx, ev.TagID); err == nil {
			d.Tag = &t
			tags[ev.TagID] = &t
		} else if KindOf(err) != KindNotFound {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (q *QueryService) detail(ctx context.Context, repos Repos, a models.Asset, f MovementFilter) (models.AssetDetail, error) {
	d := models.AssetDetail{Asset: a, Movements: []models.MovementEvent{}}
	if a.TagID != nil {
		tag, err := repos.Tags.GetByID(ctx, *a.TagID)
		switch {
		case err == nil:
			d.Tag = &tag
		case KindOf(err) != KindNotFound:
			return models.AssetDetail{}, err
		}
	}
	movements, err := repos.Movements.ListByAsset(ctx, a.ID, f)
	if err != nil {
		return models.AssetDetail{}, err
	}
	if movements != nil {
		d.Movements = movements
	}
	return d, nil
}
