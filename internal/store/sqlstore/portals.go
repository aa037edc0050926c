package sqlstore

import (
	"context"
	"fmt"
	"time"

	"asset-tracker-api/internal/models"
	"asset-tracker-api/internal/tracking"
)

const portalColumns = "id, name, location, key_hash, last_seen_at, created_at"

func scanPortal(row rowScanner) (models.Portal, error) {
	var (
		p        models.Portal
		lastSeen timeValue
		created  timeValue
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Location, &p.KeyHash, &lastSeen, &created); err != nil {
		return models.Portal{}, err
	}
	p.LastSeenAt = lastSeen.ptr()
	p.CreatedAt = created.t
	return p, nil
}

type portalRepo struct{ c conn }

func (r portalRepo) Create(ctx context.Context, p *models.Portal) error {
	row := r.c.queryRow(ctx, `
		INSERT INTO portals (name, location, key_hash, created_at)
		VALUES (?, ?, ?, ?)
		RETURNING id`,
		p.Name, p.Location, p.KeyHash, r.c.d.timeArg(p.CreatedAt))
	if err := row.Scan(&p.ID); err != nil {
		return translate(err, "create portal")
	}
	return nil
}

func (r portalRepo) GetByID(ctx context.Context, id int64) (models.Portal, error) {
	p, err := scanPortal(r.c.queryRow(ctx, "SELECT "+portalColumns+" FROM portals WHERE id = ?", id))
	if err != nil {
		return models.Portal{}, translate(err, fmt.Sprintf("portal %d", id))
	}
	return p, nil
}

func (r portalRepo) GetByKeyHash(ctx context.Context, hash string) (models.Portal, error) {
	p, err := scanPortal(r.c.queryRow(ctx, "SELECT "+portalColumns+" FROM portals WHERE key_hash = ?", hash))
	if err != nil {
		return models.Portal{}, translate(err, "portal key")
	}
	return p, nil
}

func (r portalRepo) List(ctx context.Context) ([]models.Portal, error) {
	rows, err := r.c.query(ctx, "SELECT "+portalColumns+" FROM portals ORDER BY id")
	if err != nil {
		return nil, translate(err, "list portals")
	}
	defer rows.Close()

	out := []models.Portal{}
	for rows.Next() {
		p, err := scanPortal(rows)
		if err != nil {
			return nil, translate(err, "scan portal")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r portalRepo) Touch(ctx context.Context, id int64, at time.Time) error {
	res, err := r.c.exec(ctx, "UPDATE portals SET last_seen_at = ? WHERE id = ?", r.c.d.timeArg(at), id)
	if err != nil {
		return translate(err, fmt.Sprintf("touch portal %d", id))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("portal %d: %w", id, tracking.ErrNotFound)
	}
	return nil
}
