package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"asset-tracker-api/internal/models"
	"asset-tracker-api/internal/tracking"
)

const assetColumns = "id, serial, label, contents, location, status, latitude, longitude, tag_id, version, created_at, updated_at"

func scanAsset(row rowScanner) (models.Asset, error) {
	var (
		a               models.Asset
		label, contents sql.NullString
		lat, lon        sql.NullFloat64
		tagID           sql.NullInt64
		created         timeValue
		updated         timeValue
	)
	err := row.Scan(&a.ID, &a.Serial, &label, &contents, &a.Location, &a.Status,
		&lat, &lon, &tagID, &a.Version, &created, &updated)
	if err != nil {
		return models.Asset{}, err
	}
	a.Label = stringPtr(label)
	a.Contents = stringPtr(contents)
	if lat.Valid && lon.Valid {
		a.Coordinates = &models.Coordinates{Latitude: lat.Float64, Longitude: lon.Float64}
	}
	a.TagID = int64Ptr(tagID)
	a.CreatedAt = created.t
	a.UpdatedAt = updated.t
	return a, nil
}

func coordinateArgs(c *models.Coordinates) (any, any) {
	if c == nil {
		return nil, nil
	}
	return c.Latitude, c.Longitude
}

type assetRepo struct{ c conn }

func (r assetRepo) Create(ctx context.Context, a *models.Asset) error {
	d := r.c.d
	lat, lon := coordinateArgs(a.Coordinates)
	row := r.c.queryRow(ctx, `
		INSERT INTO assets (serial, label, contents, location, status, latitude, longitude, tag_id, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		RETURNING id`,
		a.Serial, stringArg(a.Label), stringArg(a.Contents), a.Location, string(a.Status),
		lat, lon, int64Arg(a.TagID), d.timeArg(a.CreatedAt), d.timeArg(a.UpdatedAt))
	if err := row.Scan(&a.ID); err != nil {
		return translate(err, fmt.Sprintf("create asset %q", a.Serial))
	}
	a.Version = 1
	return nil
}

func (r assetRepo) GetByID(ctx context.Context, id int64) (models.Asset, error) {
	a, err := scanAsset(r.c.queryRow(ctx, "SELECT "+assetColumns+" FROM assets WHERE id = ?", id))
	if err != nil {
		return models.Asset{}, translate(err, fmt.Sprintf("asset %d", id))
	}
	return a, nil
}

func (r assetRepo) GetByTagID(ctx context.Context, tagID int64) (models.Asset, error) {
	a, err := scanAsset(r.c.queryRow(ctx, "SELECT "+assetColumns+" FROM assets WHERE tag_id = ?", tagID))
	if err != nil {
		return models.Asset{}, translate(err, fmt.Sprintf("asset for tag %d", tagID))
	}
	return a, nil
}

func (r assetRepo) Update(ctx context.Context, a models.Asset) (models.Asset, error) {
	lat, lon := coordinateArgs(a.Coordinates)
	row := r.c.queryRow(ctx, `
		UPDATE assets SET
			serial = ?, label = ?, contents = ?, location = ?, status = ?,
			latitude = ?, longitude = ?, tag_id = ?, updated_at = ?,
			version = version + 1
		WHERE id = ? AND version = ?
		RETURNING `+assetColumns,
		a.Serial, stringArg(a.Label), stringArg(a.Contents), a.Location, string(a.Status),
		lat, lon, int64Arg(a.TagID), r.c.d.timeArg(a.UpdatedAt),
		a.ID, a.Version)
	out, err := scanAsset(row)
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Asset{}, translate(err, fmt.Sprintf("update asset %d", a.ID))
	}

	var version int64
	if err := r.c.queryRow(ctx, "SELECT version FROM assets WHERE id = ?", a.ID).Scan(&version); err != nil {
		return models.Asset{}, translate(err, fmt.Sprintf("asset %d", a.ID))
	}
	return models.Asset{}, fmt.Errorf("asset %d at version %d, have %d: %w", a.ID, version, a.Version, tracking.ErrStale)
}

func (r assetRepo) List(ctx context.Context, limit, offset int) ([]models.Asset, error) {
	rows, err := r.c.query(ctx, "SELECT "+assetColumns+" FROM assets ORDER BY updated_at DESC, id DESC"+
		r.c.d.limitOffset(limit, offset))
	if err != nil {
		return nil, translate(err, "list assets")
	}
	defer rows.Close()

	out := []models.Asset{}
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, translate(err, "scan asset")
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r assetRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.c.queryRow(ctx, "SELECT COUNT(*) FROM assets").Scan(&n); err != nil {
		return 0, translate(err, "count assets")
	}
	return n, nil
}
