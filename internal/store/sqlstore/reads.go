package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"asset-tracker-api/internal/models"
	"asset-tracker-api/internal/tracking"
)

const readColumns = "id, uid, tag_id, portal_id, observed_at, rssi, antenna, metadata, created_at"

func scanRead(row rowScanner) (models.ReadEvent, error) {
	var (
		ev       models.ReadEvent
		rssi     sql.NullFloat64
		antenna  sql.NullInt64
		md       sql.NullString
		observed timeValue
		created  timeValue
	)
	if err := row.Scan(&ev.ID, &ev.UID, &ev.TagID, &ev.PortalID, &observed, &rssi, &antenna, &md, &created); err != nil {
		return models.ReadEvent{}, err
	}
	ev.ObservedAt = observed.t
	if rssi.Valid {
		v := rssi.Float64
		ev.RSSI = &v
	}
	if antenna.Valid {
		v := int(antenna.Int64)
		ev.Antenna = &v
	}
	ev.Metadata = decodeMetadata(md)
	ev.CreatedAt = created.t
	return ev, nil
}

type readRepo struct{ c conn }

func (r readRepo) Append(ctx context.Context, ev *models.ReadEvent) error {
	var exists int
	if err := r.c.queryRow(ctx, "SELECT 1 FROM tags WHERE id = ?", ev.TagID).Scan(&exists); err != nil {
		return translate(err, fmt.Sprintf("read for tag %d", ev.TagID))
	}
	if err := r.c.queryRow(ctx, "SELECT 1 FROM portals WHERE id = ?", ev.PortalID).Scan(&exists); err != nil {
		return translate(err, fmt.Sprintf("read from portal %d", ev.PortalID))
	}

	var rssi, antenna any
	if ev.RSSI != nil {
		rssi = *ev.RSSI
	}
	if ev.Antenna != nil {
		antenna = int64(*ev.Antenna)
	}
	d := r.c.d
	row := r.c.queryRow(ctx, `
		INSERT INTO read_events (uid, tag_id, portal_id, observed_at, rssi, antenna, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		ev.UID, ev.TagID, ev.PortalID, d.timeArg(ev.ObservedAt), rssi, antenna,
		metadataArg(ev.Metadata), d.timeArg(ev.CreatedAt))
	if err := row.Scan(&ev.ID); err != nil {
		return translate(err, fmt.Sprintf("append read for tag %q", ev.UID))
	}
	return nil
}

func (r readRepo) Search(ctx context.Context, f tracking.ReadFilter) ([]models.ReadEvent, error) {
	var (
		where string
		args  []any
	)
	if f.PortalID != nil {
		where = "portal_id = ?"
		args = append(args, *f.PortalID)
	}
	if f.UID != "" {
		if where != "" {
			where += " AND "
		}
		where += "uid = ?"
		args = append(args, f.UID)
	}
	where, args = timeRange(where, args, "observed_at", f.From, f.To, r.c.d)

	rows, err := r.c.query(ctx, "SELECT "+readColumns+" FROM read_events WHERE "+where+
		" ORDER BY observed_at DESC, id DESC"+r.c.d.limitOffset(f.Limit, 0), args...)
	if err != nil {
		return nil, translate(err, "search reads")
	}
	defer rows.Close()

	out := []models.ReadEvent{}
	for rows.Next() {
		ev, err := scanRead(rows)
		if err != nil {
			return nil, translate(err, "scan read")
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
