package tracking

import (
	"context"
	"strings"
	"time"

	"asset-tracker-api/internal/models"
)

// TagRegistry owns the set of known tags
type TagRegistry struct {
	d *deps
}

// LookupOrCreate registers a sighting of uid. An unknown tag is created with
// md and lastSeenAt = observedAt. A known tag keeps the later of the stored
// and observed timestamps, and takes md only if it has no metadata yet.
func (t *TagRegistry) LookupOrCreate(ctx context.Context, uid string, observedAt time.Time, md models.Metadata) (models.Tag, error) {
	var tag models.Tag
	err := t.d.inTx(ctx, "tag.lookup_or_create", func(r Repos) error {
		var err error
		tag, err = t.observe(ctx, r, uid, observedAt, md)
		return err
	})
	return tag, err
}

func (t *TagRegistry) observe(ctx context.Context, r Repos, uid string, observedAt time.Time, md models.Metadata) (models.Tag, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return models.Tag{}, invalidf("tag uid is required")
	}
	return r.Tags.Observe(ctx, uid, observedAt.UTC().Truncate(time.Microsecond), md, t.d.clock())
}

// ensure returns the tag for uid, creating it without a sighting if absent
func (t *TagRegistry) ensure(ctx context.Context, r Repos, uid string) (models.Tag, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return models.Tag{}, invalidf("tag uid is required")
	}
	return r.Tags.Ensure(ctx, uid, t.d.clock())
}

// MarkSeenNow stamps lastSeenAt with the current time
func (t *TagRegistry) MarkSeenNow(ctx context.Context, uid string) (models.Tag, error) {
	tag, err := t.d.store.Repos().Tags.SetLastSeen(ctx, strings.TrimSpace(uid), t.d.clock())
	if err != nil {
		return models.Tag{}, t.wrapNotFound(err, uid)
	}
	return tag, nil
}

// Bind records owner as the user responsible for the tag. It does not change
// which asset the tag is bound to.
func (t *TagRegistry) Bind(ctx context.Context, uid, owner string) (models.Tag, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return models.Tag{}, invalidf("owner is required")
	}
	tag, err := t.d.store.Repos().Tags.SetOwner(ctx, strings.TrimSpace(uid), owner, t.d.clock())
	if err != nil {
		return models.Tag{}, t.wrapNotFound(err, uid)
	}
	return tag, nil
}

// Get returns the tag with the given uid
func (t *TagRegistry) Get(ctx context.Context, uid string) (models.Tag, error) {
	tag, err := t.d.store.Repos().Tags.GetByUID(ctx, strings.TrimSpace(uid))
	if err != nil {
		return models.Tag{}, t.wrapNotFound(err, uid)
	}
	return tag, nil
}

func (t *TagRegistry) wrapNotFound(err error, uid string) error {
	if KindOf(err) == KindNotFound {
		return notFoundf("tag %q", uid)
	}
	return err
}
