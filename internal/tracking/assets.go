package tracking

import (
	"context"
	"strings"
	"time"

	"asset-tracker-api/internal/models"
)

// AssetDirectory owns assets and their current location, status and coordinates
type AssetDirectory struct {
	d      *deps
	tags   *TagRegistry
	ledger *Ledger
}

// NewAsset holds the operator-supplied fields of a new asset
type NewAsset struct {
	Serial    string
	Label     *string
	Contents  *string
	Location  string
	Latitude  *float64
	Longitude *float64
}

// ManualTransition is a checkout or checkin performed by an operator
type ManualTransition struct {
	Kind models.MovementKind
	// Location replaces the current location when non-empty.
	Location  string
	Actor     string
	Timestamp *time.Time
	Latitude  *float64
	Longitude *float64
}

// Create registers a new asset at base
func (a *AssetDirectory) Create(ctx context.Context, in NewAsset) (models.Asset, error) {
	asset, _, err := a.CreateWithTag(ctx, in, "", "")
	return asset, err
}

// CreateWithTag registers a new asset and, when uid is non-empty, binds the
// tag to it in the same transaction. A bind refused by the rebind policy
// leaves no asset behind. owner is recorded on the tag when non-empty.
func (a *AssetDirectory) CreateWithTag(ctx context.Context, in NewAsset, uid, owner string) (models.Asset, models.Tag, error) {
	serial := strings.TrimSpace(in.Serial)
	if serial == "" {
		return models.Asset{}, models.Tag{}, invalidf("serial is required")
	}
	coords, err := coordinatePair(in.Latitude, in.Longitude)
	if err != nil {
		return models.Asset{}, models.Tag{}, err
	}

	var (
		asset models.Asset
		tag   models.Tag
	)
	err = a.d.inTx(ctx, "asset.create", func(r Repos) error {
		now := a.d.clock()
		asset = models.Asset{
			Serial:      serial,
			Label:       emptyToNil(in.Label),
			Contents:    emptyToNil(in.Contents),
			Location:    strings.TrimSpace(in.Location),
			Status:      models.StatusAtBase,
			Coordinates: coords,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := r.Assets.Create(ctx, &asset); err != nil {
			if KindOf(err) == KindConflict && !isStale(err) {
				return wrapf(ErrDuplicateSerial, "asset with serial %q already exists", serial)
			}
			return err
		}
		if strings.TrimSpace(uid) == "" {
			return nil
		}
		var err error
		asset, tag, err = a.bind(ctx, r, asset, uid, owner)
		return err
	})
	if err != nil {
		return models.Asset{}, models.Tag{}, err
	}
	ev := a.d.log.Info().Int64("asset_id", asset.ID).Str("serial", serial)
	if tag.ID != 0 {
		ev = ev.Str("tag", tag.UID)
	}
	ev.Msg("asset created")
	return asset, tag, nil
}

// Get returns one asset without history
func (a *AssetDirectory) Get(ctx context.Context, id int64) (models.Asset, error) {
	asset, err := a.d.store.Repos().Assets.GetByID(ctx, id)
	if err != nil {
		return models.Asset{}, assetNotFound(err, id)
	}
	return asset, nil
}

// BindTag binds the tag uid to the asset, creating the tag if needed. A tag
// held by another asset is moved or refused depending on the rebind policy.
func (a *AssetDirectory) BindTag(ctx context.Context, assetID int64, uid string) (models.Asset, models.Tag, error) {
	return a.BindTagAs(ctx, assetID, uid, "")
}

// BindTagAs is BindTag that also records owner on the tag, in the same
// transaction as the binding. An empty owner leaves the tag's owner as is.
func (a *AssetDirectory) BindTagAs(ctx context.Context, assetID int64, uid, owner string) (models.Asset, models.Tag, error) {
	var (
		asset models.Asset
		tag   models.Tag
	)
	err := a.d.inTx(ctx, "asset.bind_tag", func(r Repos) error {
		current, err := r.Assets.GetByID(ctx, assetID)
		if err != nil {
			return assetNotFound(err, assetID)
		}
		asset, tag, err = a.bind(ctx, r, current, uid, owner)
		return err
	})
	if err != nil {
		return models.Asset{}, models.Tag{}, err
	}
	return asset, tag, nil
}

// bind attaches uid to asset inside r, applying the rebind policy
func (a *AssetDirectory) bind(ctx context.Context, r Repos, asset models.Asset, uid, owner string) (models.Asset, models.Tag, error) {
	tag, err := a.tags.ensure(ctx, r, uid)
	if err != nil {
		return asset, tag, err
	}
	now := a.d.clock()
	if owner = strings.TrimSpace(owner); owner != "" {
		if tag, err = r.Tags.SetOwner(ctx, tag.UID, owner, now); err != nil {
			return asset, tag, a.tags.wrapNotFound(err, tag.UID)
		}
	}
	if asset.TagID != nil && *asset.TagID == tag.ID {
		return asset, tag, nil
	}

	holder, err := r.Assets.GetByTagID(ctx, tag.ID)
	switch {
	case err == nil:
		if a.d.opts.RebindPolicy == RebindReject {
			return asset, tag, conflictf("tag %q is already bound to asset %d", tag.UID, holder.ID)
		}
		holder.TagID = nil
		holder.UpdatedAt = now
		if _, err := r.Assets.Update(ctx, holder); err != nil {
			return asset, tag, err
		}
		a.d.log.Warn().
			Str("tag", tag.UID).
			Int64("from_asset_id", holder.ID).
			Int64("to_asset_id", asset.ID).
			Msg("tag reassigned")
	case KindOf(err) != KindNotFound:
		return asset, tag, err
	}

	asset.TagID = &tag.ID
	asset.UpdatedAt = now
	asset, err = r.Assets.Update(ctx, asset)
	return asset, tag, err
}

// ApplyManualTransition checks an asset out (IN_TRANSIT) or in (AT_BASE) and
// records the matching ledger entry in the same transaction. actor defaults
// to caller.
func (a *AssetDirectory) ApplyManualTransition(ctx context.Context, assetID int64, in ManualTransition, caller string) (models.Asset, models.MovementEvent, error) {
	var status models.AssetStatus
	switch in.Kind {
	case models.MovementCheckout:
		status = models.StatusInTransit
	case models.MovementCheckin:
		status = models.StatusAtBase
	default:
		return models.Asset{}, models.MovementEvent{}, invalidf("manual transition kind %q", in.Kind)
	}
	coords, err := coordinatePair(in.Latitude, in.Longitude)
	if err != nil {
		return models.Asset{}, models.MovementEvent{}, err
	}
	actor := strings.TrimSpace(in.Actor)
	if actor == "" {
		actor = strings.TrimSpace(caller)
	}
	if actor == "" {
		return models.Asset{}, models.MovementEvent{}, invalidf("actor is required")
	}
	occurredAt := a.d.clock()
	if in.Timestamp != nil {
		occurredAt = in.Timestamp.UTC().Truncate(time.Microsecond)
	}
	location := strings.TrimSpace(in.Location)

	var (
		asset models.Asset
		ev    models.MovementEvent
	)
	err = a.d.inTx(ctx, "asset."+strings.ToLower(string(in.Kind)), func(r Repos) error {
		var err error
		asset, err = r.Assets.GetByID(ctx, assetID)
		if err != nil {
			return assetNotFound(err, assetID)
		}
		asset.Status = status
		if location != "" {
			asset.Location = location
		}
		if coords != nil {
			asset.Coordinates = coords
		}
		asset.UpdatedAt = a.d.clock()
		if asset, err = r.Assets.Update(ctx, asset); err != nil {
			return err
		}

		ev = models.MovementEvent{
			AssetID:    asset.ID,
			Kind:       in.Kind,
			Actor:      actor,
			Location:   asset.Location,
			OccurredAt: occurredAt,
			Metadata:   coordinateMetadata(coords),
		}
		return a.ledger.append(ctx, r, &ev)
	})
	if err != nil {
		return models.Asset{}, models.MovementEvent{}, err
	}
	a.d.obs.MovementRecorded(ev.Kind)
	return asset, ev, nil
}

// ApplyPortalSighting moves a bound asset to AT_PORTAL at the portal's
// location and appends a PORTAL_READ entry. It must run inside RunInTx with
// the repositories of that transaction. Coordinates are only updated when md
// carries a valid pair.
func (a *AssetDirectory) ApplyPortalSighting(ctx context.Context, r Repos, asset models.Asset, portal models.Portal, observedAt time.Time, md models.Metadata) (models.Asset, models.MovementEvent, error) {
	coords, hinted := coordinatesFromMetadata(md)
	if hinted && coords == nil {
		a.d.log.Warn().Int64("asset_id", asset.ID).Str("portal", portal.Name).Msg("ignoring malformed coordinates in read metadata")
	}

	asset.Status = models.StatusAtPortal
	asset.Location = portal.SightingLocation()
	if coords != nil {
		asset.Coordinates = coords
	}
	asset.UpdatedAt = a.d.clock()
	updated, err := r.Assets.Update(ctx, asset)
	if err != nil {
		return models.Asset{}, models.MovementEvent{}, err
	}

	ev := models.MovementEvent{
		AssetID:    updated.ID,
		Kind:       models.MovementPortalRead,
		Actor:      portal.Name,
		Location:   updated.Location,
		OccurredAt: observedAt.UTC().Truncate(time.Microsecond),
		Metadata:   md,
	}
	if err := a.ledger.append(ctx, r, &ev); err != nil {
		return models.Asset{}, models.MovementEvent{}, err
	}
	return updated, ev, nil
}

// Patch applies the fields present in p. Absent fields are kept; present
// null or empty values clear label and contents. Coordinates must remain a
// complete pair after the patch.
func (a *AssetDirectory) Patch(ctx context.Context, assetID int64, p models.AssetPatch) (models.Asset, error) {
	var serial string
	if p.Serial.Set {
		if p.Serial.Value != nil {
			serial = strings.TrimSpace(*p.Serial.Value)
		}
		if serial == "" {
			return models.Asset{}, invalidf("serial cannot be empty")
		}
	}

	var asset models.Asset
	err := a.d.inTx(ctx, "asset.patch", func(r Repos) error {
		var err error
		asset, err = r.Assets.GetByID(ctx, assetID)
		if err != nil {
			return assetNotFound(err, assetID)
		}
		if p.Empty() {
			return nil
		}

		if p.Serial.Set {
			asset.Serial = serial
		}
		if p.Label.Set {
			asset.Label = emptyToNil(p.Label.Value)
		}
		if p.Contents.Set {
			asset.Contents = emptyToNil(p.Contents.Value)
		}
		if p.Latitude.Set || p.Longitude.Set {
			var lat, lon *float64
			if c := asset.Coordinates; c != nil {
				lat, lon = &c.Latitude, &c.Longitude
			}
			if p.Latitude.Set {
				lat = p.Latitude.Value
			}
			if p.Longitude.Set {
				lon = p.Longitude.Value
			}
			if asset.Coordinates, err = coordinatePair(lat, lon); err != nil {
				return err
			}
		}

		asset.UpdatedAt = a.d.clock()
		asset, err = r.Assets.Update(ctx, asset)
		if KindOf(err) == KindConflict && p.Serial.Set && !isStale(err) {
			return wrapf(ErrDuplicateSerial, "asset with serial %q already exists", serial)
		}
		return err
	})
	if err != nil {
		return models.Asset{}, err
	}
	return asset, nil
}

func assetNotFound(err error, id int64) error {
	if KindOf(err) == KindNotFound {
		return notFoundf("asset %d", id)
	}
	return err
}

func emptyToNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// coordinatePair enforces the both-or-neither rule
func coordinatePair(lat, lon *float64) (*models.Coordinates, error) {
	if lat == nil && lon == nil {
		return nil, nil
	}
	if lat == nil || lon == nil {
		return nil, invalidf("latitude and longitude must be given together")
	}
	c := models.Coordinates{Latitude: *lat, Longitude: *lon}
	if !c.InRange() {
		return nil, invalidf("coordinates (%v, %v) out of range", *lat, *lon)
	}
	return &c, nil
}

// coordinatesFromMetadata extracts a coordinate hint from read metadata.
// hinted reports whether either key was present at all.
func coordinatesFromMetadata(md models.Metadata) (coords *models.Coordinates, hinted bool) {
	if !md.Has("latitude") && !md.Has("longitude") {
		return nil, false
	}
	lat, okLat := md.Float("latitude")
	lon, okLon := md.Float("longitude")
	if !okLat || !okLon {
		return nil, true
	}
	c := models.Coordinates{Latitude: lat, Longitude: lon}
	if !c.InRange() {
		return nil, true
	}
	return &c, true
}

func coordinateMetadata(c *models.Coordinates) models.Metadata {
	if c == nil {
		return nil
	}
	return models.Metadata{"latitude": c.Latitude, "longitude": c.Longitude}
}
