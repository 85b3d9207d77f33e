package belt

import (
	"sync/atomic"
)

// Registry publishes the current catalog. Readers never block; Replace swaps
// the whole catalog so evaluations in flight keep the snapshot they loaded.
type Registry struct {
	current atomic.Pointer[Catalog]
	version atomic.Int64
}

// NewRegistry creates a registry serving c.
func NewRegistry(c *Catalog) *Registry {
	r := &Registry{}
	r.current.Store(c)
	r.version.Store(1)
	return r
}

// Current returns the catalog in effect.
func (r *Registry) Current() *Catalog {
	return r.current.Load()
}

// Version increases every time the catalog is replaced.
func (r *Registry) Version() int64 {
	return r.version.Load()
}

// Replace validates defs and makes them the catalog for future evaluations.
func (r *Registry) Replace(defs []Definition) (*Catalog, error) {
	c, err := NewCatalog(defs)
	if err != nil {
		return nil, err
	}
	r.current.Store(c)
	r.version.Add(1)
	return c, nil
}
