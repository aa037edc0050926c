package tracking

import (
	"context"
	"time"

	"asset-tracker-api/internal/models"
)

// TagRepository persists tags. UIDs are unique.
type TagRepository interface {
	// Observe inserts the tag if absent, otherwise advances last_seen_at to
	// observedAt if later and sets metadata only when none is stored.
	Observe(ctx context.Context, uid string, observedAt time.Time, md models.Metadata, now time.Time) (models.Tag, error)
	// Ensure inserts the tag without a sighting if absent and returns it.
	Ensure(ctx context.Context, uid string, now time.Time) (models.Tag, error)
	GetByUID(ctx context.Context, uid string) (models.Tag, error)
	GetByID(ctx context.Context, id int64) (models.Tag, error)
	SetLastSeen(ctx context.Context, uid string, at time.Time) (models.Tag, error)
	SetOwner(ctx context.Context, uid string, owner string, now time.Time) (models.Tag, error)
}

// AssetRepository persists assets. Serial and tag_id are unique.
type AssetRepository interface {
	Create(ctx context.Context, a *models.Asset) error
	GetByID(ctx context.Context, id int64) (models.Asset, error)
	GetByTagID(ctx context.Context, tagID int64) (models.Asset, error)
	// Update writes a if the stored version still equals a.Version and
	// returns the stored row with its new version. A mismatch yields ErrStale.
	Update(ctx context.Context, a models.Asset) (models.Asset, error)
	List(ctx context.Context, limit, offset int) ([]models.Asset, error)
	Count(ctx context.Context) (int, error)
}

// MovementFilter narrows a per-asset ledger read. Zero Limit means no limit.
type MovementFilter struct {
	From  *time.Time
	To    *time.Time
	Limit int
	Skip  int
}

// MovementRepository is the append-only ledger store
type MovementRepository interface {
	Append(ctx context.Context, ev *models.MovementEvent) error
	// ListByAsset returns events newest first by (occurred_at, id).
	ListByAsset(ctx context.Context, assetID int64, f MovementFilter) ([]models.MovementEvent, error)
}

// ReadFilter narrows a read event search. Bounds are inclusive.
type ReadFilter struct {
	PortalID *int64
	UID      string
	From     *time.Time
	To       *time.Time
	Limit    int
}

// ReadEventRepository is the append-only raw sighting store
type ReadEventRepository interface {
	Append(ctx context.Context, ev *models.ReadEvent) error
	// Search returns events newest first by (observed_at, id).
	Search(ctx context.Context, f ReadFilter) ([]models.ReadEvent, error)
}

// PortalRepository persists portals. Key hashes are unique.
type PortalRepository interface {
	Create(ctx context.Context, p *models.Portal) error
	GetByID(ctx context.Context, id int64) (models.Portal, error)
	GetByKeyHash(ctx context.Context, hash string) (models.Portal, error)
	List(ctx context.Context) ([]models.Portal, error)
	Touch(ctx context.Context, id int64, at time.Time) error
}

// Repos bundles the repositories bound to one connection or transaction
type Repos struct {
	Tags      TagRepository
	Assets    AssetRepository
	Movements MovementRepository
	Reads     ReadEventRepository
	Portals   PortalRepository
}

// Store is the persistence boundary of the core.
//
// Repos returns repositories where every call is individually atomic.
// RunInTx hands fn repositories bound to a single transaction; the
// transaction commits when fn returns nil and rolls back otherwise. fn must
// not call Repos or RunInTx on the same store.
type Store interface {
	Repos() Repos
	RunInTx(ctx context.Context, fn func(r Repos) error) error
	Ping(ctx context.Context) error
	Close() error
}
