package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"asset-tracker-api/internal/models"
)

const tagColumns = "id, uid, metadata, last_seen_at, active, owner_ref, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTag(row rowScanner) (models.Tag, error) {
	var (
		t         models.Tag
		md, owner sql.NullString
		lastSeen  timeValue
		created   timeValue
		updated   timeValue
	)
	if err := row.Scan(&t.ID, &t.UID, &md, &lastSeen, &t.Active, &owner, &created, &updated); err != nil {
		return models.Tag{}, err
	}
	t.Metadata = decodeMetadata(md)
	t.LastSeenAt = lastSeen.ptr()
	t.OwnerRef = stringPtr(owner)
	t.CreatedAt = created.t
	t.UpdatedAt = updated.t
	return t, nil
}

type tagRepo struct{ c conn }

func (r tagRepo) Observe(ctx context.Context, uid string, observedAt time.Time, md models.Metadata, now time.Time) (models.Tag, error) {
	d := r.c.d
	row := r.c.queryRow(ctx, `
		INSERT INTO tags (uid, metadata, last_seen_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (uid) DO UPDATE SET
			last_seen_at = CASE
				WHEN tags.last_seen_at IS NULL OR tags.last_seen_at < excluded.last_seen_at
				THEN excluded.last_seen_at ELSE tags.last_seen_at END,
			metadata = COALESCE(tags.metadata, excluded.metadata),
			updated_at = excluded.updated_at
		RETURNING `+tagColumns,
		uid, metadataArg(md), d.timeArg(observedAt), d.timeArg(now), d.timeArg(now))
	t, err := scanTag(row)
	if err != nil {
		return models.Tag{}, translate(err, fmt.Sprintf("observe tag %q", uid))
	}
	return t, nil
}

func (r tagRepo) Ensure(ctx context.Context, uid string, now time.Time) (models.Tag, error) {
	d := r.c.d
	if _, err := r.c.exec(ctx, `
		INSERT INTO tags (uid, created_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (uid) DO NOTHING`,
		uid, d.timeArg(now), d.timeArg(now)); err != nil {
		return models.Tag{}, translate(err, fmt.Sprintf("ensure tag %q", uid))
	}
	return r.GetByUID(ctx, uid)
}

func (r tagRepo) GetByUID(ctx context.Context, uid string) (models.Tag, error) {
	t, err := scanTag(r.c.queryRow(ctx, "SELECT "+tagColumns+" FROM tags WHERE uid = ?", uid))
	if err != nil {
		return models.Tag{}, translate(err, fmt.Sprintf("tag %q", uid))
	}
	return t, nil
}

func (r tagRepo) GetByID(ctx context.Context, id int64) (models.Tag, error) {
	t, err := scanTag(r.c.queryRow(ctx, "SELECT "+tagColumns+" FROM tags WHERE id = ?", id))
	if err != nil {
		return models.Tag{}, translate(err, fmt.Sprintf("tag %d", id))
	}
	return t, nil
}

func (r tagRepo) SetLastSeen(ctx context.Context, uid string, at time.Time) (models.Tag, error) {
	d := r.c.d
	row := r.c.queryRow(ctx, "UPDATE tags SET last_seen_at = ?, updated_at = ? WHERE uid = ? RETURNING "+tagColumns,
		d.timeArg(at), d.timeArg(at), uid)
	t, err := scanTag(row)
	if err != nil {
		return models.Tag{}, translate(err, fmt.Sprintf("tag %q", uid))
	}
	return t, nil
}

func (r tagRepo) SetOwner(ctx context.Context, uid string, owner string, now time.Time) (models.Tag, error) {
	row := r.c.queryRow(ctx, "UPDATE tags SET owner_ref = ?, updated_at = ? WHERE uid = ? RETURNING "+tagColumns,
		owner, r.c.d.timeArg(now), uid)
	t, err := scanTag(row)
	if err != nil {
		return models.Tag{}, translate(err, fmt.Sprintf("tag %q", uid))
	}
	return t, nil
}
