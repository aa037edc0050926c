package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"asset-tracker-api/internal/models"
	"asset-tracker-api/internal/tracking"
)

const movementColumns = "id, asset_id, kind, actor, location, occurred_at, metadata, created_at"

func scanMovement(row rowScanner) (models.MovementEvent, error) {
	var (
		m        models.MovementEvent
		md       sql.NullString
		occurred timeValue
		created  timeValue
	)
	if err := row.Scan(&m.ID, &m.AssetID, &m.Kind, &m.Actor, &m.Location, &occurred, &md, &created); err != nil {
		return models.MovementEvent{}, err
	}
	m.OccurredAt = occurred.t
	m.Metadata = decodeMetadata(md)
	m.CreatedAt = created.t
	return m, nil
}

type movementRepo struct{ c conn }

func (r movementRepo) Append(ctx context.Context, ev *models.MovementEvent) error {
	var exists int
	if err := r.c.queryRow(ctx, "SELECT 1 FROM assets WHERE id = ?", ev.AssetID).Scan(&exists); err != nil {
		return translate(err, fmt.Sprintf("movement for asset %d", ev.AssetID))
	}

	d := r.c.d
	row := r.c.queryRow(ctx, `
		INSERT INTO movements (asset_id, kind, actor, location, occurred_at, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		ev.AssetID, string(ev.Kind), ev.Actor, ev.Location, d.timeArg(ev.OccurredAt),
		metadataArg(ev.Metadata), d.timeArg(ev.CreatedAt))
	if err := row.Scan(&ev.ID); err != nil {
		return translate(err, fmt.Sprintf("append movement for asset %d", ev.AssetID))
	}
	return nil
}

func (r movementRepo) ListByAsset(ctx context.Context, assetID int64, f tracking.MovementFilter) ([]models.MovementEvent, error) {
	where, args := timeRange("asset_id = ?", []any{assetID}, "occurred_at", f.From, f.To, r.c.d)
	rows, err := r.c.query(ctx, "SELECT "+movementColumns+" FROM movements WHERE "+where+
		" ORDER BY occurred_at DESC, id DESC"+r.c.d.limitOffset(f.Limit, f.Skip), args...)
	if err != nil {
		return nil, translate(err, fmt.Sprintf("list movements for asset %d", assetID))
	}
	defer rows.Close()

	out := []models.MovementEvent{}
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, translate(err, "scan movement")
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// timeRange appends inclusive bounds on column to a WHERE clause
func timeRange(where string, args []any, column string, from, to *time.Time, d dialect) (string, []any) {
	clauses := []string{}
	if where != "" {
		clauses = append(clauses, where)
	}
	if from != nil {
		clauses = append(clauses, column+" >= ?")
		args = append(args, d.timeArg(*from))
	}
	if to != nil {
		clauses = append(clauses, column+" <= ?")
		args = append(args, d.timeArg(*to))
	}
	if len(clauses) == 0 {
		return "1 = 1", args
	}
	return strings.Join(clauses, " AND "), args
}
