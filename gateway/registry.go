package gateway

import (
	"fmt"
	"sync"

	multierror "github.com/hashicorp/go-multierror"

	"github.com/modelgate/modelgate/gateway/structs"
)

// Registry holds the provider table and the model routing table. The
// provider table is immutable once loaded; the routing table may be
// replaced wholesale at runtime through the admin surface, so reads go
// through a reader lock and writes swap the slice under an exclusive
// lock.
type Registry struct {
	lock sync.RWMutex

	providers map[string]*structs.Provider

	// routes preserves config order, which is the auto-mode model
	// iteration order. index is a lookup into the same entries.
	routes []*structs.ModelRoutes
	index  map[string]*structs.ModelRoutes
}

func NewRegistry(providers map[string]*structs.Provider, routes []*structs.ModelRoutes) (*Registry, error) {
	var mErr multierror.Error
	for name, p := range providers {
		if p.Name == "" {
			p.Name = name
		}
		if err := p.Validate(); err != nil {
			mErr.Errors = append(mErr.Errors, err)
		}
	}
	if err := mErr.ErrorOrNil(); err != nil {
		return nil, err
	}

	r := &Registry{providers: providers}
	r.setRoutesLocked(routes)
	return r, nil
}

func (r *Registry) setRoutesLocked(routes []*structs.ModelRoutes) {
	r.routes = routes
	r.index = make(map[string]*structs.ModelRoutes, len(routes))
	for _, m := range routes {
		r.index[m.Model] = m
	}
}

// Provider returns the provider table entry for name.
func (r *Registry) Provider(name string) (*structs.Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// Limits returns the configured limits of a provider, or nil when the
// provider is unknown or unlimited. Safe to hand to Governor.Snapshot.
func (r *Registry) Limits(provider string) *structs.Limits {
	if p, ok := r.providers[provider]; ok {
		return p.Limits
	}
	return nil
}

// Models returns the logical model names in routing-table order.
func (r *Registry) Models() []string {
	r.lock.RLock()
	defer r.lock.RUnlock()

	names := make([]string, 0, len(r.routes))
	for _, m := range r.routes {
		names = append(names, m.Model)
	}
	return names
}

// Routes returns the ordered bindings for a model.
func (r *Registry) Routes(model string) (*structs.ModelRoutes, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	m, ok := r.index[model]
	return m, ok
}

// AllRoutes returns a deep copy of the routing table, preserving
// order. Used by the admin config endpoint.
func (r *Registry) AllRoutes() []*structs.ModelRoutes {
	r.lock.RLock()
	defer r.lock.RUnlock()

	out := make([]*structs.ModelRoutes, 0, len(r.routes))
	for _, m := range r.routes {
		out = append(out, m.Copy())
	}
	return out
}

// SetRoutes replaces the routing table. Bindings naming unknown
// providers are rejected so a config typo cannot silently blackhole a
// model.
func (r *Registry) SetRoutes(routes []*structs.ModelRoutes) error {
	var mErr multierror.Error
	for _, m := range routes {
		for _, b := range m.Bindings {
			if _, ok := r.providers[b.Provider]; !ok {
				mErr.Errors = append(mErr.Errors,
					fmt.Errorf("model %q binds unknown provider %q", m.Model, b.Provider))
			}
		}
	}
	if err := mErr.ErrorOrNil(); err != nil {
		return err
	}

	r.lock.Lock()
	defer r.lock.Unlock()
	r.setRoutesLocked(routes)
	return nil
}
