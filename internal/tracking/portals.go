package tracking

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"asset-tracker-api/internal/models"

	"github.com/google/uuid"
)

// PortalDirectory registers portals and resolves their API keys
type PortalDirectory struct {
	d *deps
}

// HashAPIKey returns the stored form of a portal API key
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Register creates a portal and returns it with its API key. Only the hash of
// the key is stored.
func (p *PortalDirectory) Register(ctx context.Context, name, location string) (models.Portal, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Portal{}, "", invalidf("portal name is required")
	}
	key := "pk_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	portal := models.Portal{
		Name:      name,
		Location:  strings.TrimSpace(location),
		KeyHash:   HashAPIKey(key),
		CreatedAt: p.d.clock(),
	}
	if err := p.d.store.Repos().Portals.Create(ctx, &portal); err != nil {
		return models.Portal{}, "", err
	}
	p.d.log.Info().Int64("portal_id", portal.ID).Str("portal", portal.Name).Msg("portal registered")
	return portal, key, nil
}

// Authenticate resolves an API key to its portal
func (p *PortalDirectory) Authenticate(ctx context.Context, apiKey string) (models.Portal, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return models.Portal{}, invalidf("api key is required")
	}
	portal, err := p.d.store.Repos().Portals.GetByKeyHash(ctx, HashAPIKey(apiKey))
	if err != nil {
		if KindOf(err) == KindNotFound {
			return models.Portal{}, notFoundf("portal for api key")
		}
		return models.Portal{}, err
	}
	return portal, nil
}

// Get returns a portal by id
func (p *PortalDirectory) Get(ctx context.Context, id int64) (models.Portal, error) {
	portal, err := p.d.store.Repos().Portals.GetByID(ctx, id)
	if err != nil && KindOf(err) == KindNotFound {
		return models.Portal{}, notFoundf("portal %d", id)
	}
	return portal, err
}

// List returns every registered portal
func (p *PortalDirectory) List(ctx context.Context) ([]models.Portal, error) {
	portals, err := p.d.store.Repos().Portals.List(ctx)
	if err != nil {
		return nil, err
	}
	if portals == nil {
		portals = []models.Portal{}
	}
	return portals, nil
}
