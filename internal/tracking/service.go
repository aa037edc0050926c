// Package tracking is the asset tracking core: the tag registry, the asset
// directory, the movement ledger, the reconciliation engine for portal
// batches and the query service. Persistence is reached through Store.
package tracking

// Service wires the tracking components over one store
type Service struct {
	Tags    *TagRegistry
	Assets  *AssetDirectory
	Ledger  *Ledger
	Engine  *Engine
	Query   *QueryService
	Portals *PortalDirectory

	store Store
}

// New builds the tracking components on top of store
func New(store Store, opts Options) *Service {
	d := newDeps(store, opts)
	tags := &TagRegistry{d: d}
	ledger := &Ledger{d: d}
	assets := &AssetDirectory{d: d, tags: tags, ledger: ledger}
	return &Service{
		Tags:    tags,
		Assets:  assets,
		Ledger:  ledger,
		Engine:  &Engine{d: d, tags: tags, assets: assets},
		Query:   &QueryService{d: d, ledger: ledger},
		Portals: &PortalDirectory{d: d},
		store:   store,
	}
}

// Store returns the underlying store
func (s *Service) Store() Store {
	return s.store
}
