package tracking

import (
	"context"

	"asset-tracker-api/internal/models"
)

// Ledger is the append-only movement history. Appends only happen inside the
// transaction that changed the asset.
type Ledger struct {
	d *deps
}

func (l *Ledger) append(ctx context.Context, r Repos, ev *models.MovementEvent) error {
	if !ev.Kind.Valid() {
		return invalidf("movement kind %q", ev.Kind)
	}
	if ev.AssetID <= 0 {
		return invalidf("movement without asset")
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = l.d.clock()
	}
	ev.CreatedAt = l.d.clock()
	return r.Movements.Append(ctx, ev)
}

// History returns the asset's movements newest first, narrowed by f
func (l *Ledger) History(ctx context.Context, assetID int64, f MovementFilter) ([]models.MovementEvent, error) {
	if f.Limit < 0 || f.Skip < 0 {
		return nil, invalidf("limit and skip must not be negative")
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return nil, invalidf("from is after to")
	}
	repos := l.d.store.Repos()
	if _, err := repos.Assets.GetByID(ctx, assetID); err != nil {
		return nil, assetNotFound(err, assetID)
	}
	events, err := repos.Movements.ListByAsset(ctx, assetID, f)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []models.MovementEvent{}
	}
	return events, nil
}
