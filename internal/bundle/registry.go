package bundle

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry manages loaded bundles.
type Registry struct {
	sync.RWMutex
	bundles  map[string]*Bundle   // name -> bundle
	bySchema map[string][]*Bundle // schema id -> bundles
	logger   *zap.Logger
}

// NewRegistry creates a new bundle registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		bundles:  make(map[string]*Bundle),
		bySchema: make(map[string][]*Bundle),
		logger:   logger.With(zap.String("component", "bundle-registry")),
	}
}

// Register adds a bundle to the registry.
func (r *Registry) Register(bundle *Bundle) error {
	r.Lock()
	defer r.Unlock()

	name := bundle.Manifest.Name

	if _, exists := r.bundles[name]; exists {
		return &BundleAlreadyRegisteredError{BundleName: name}
	}

	r.bundles[name] = bundle

	for _, schema := range bundle.Manifest.Schemas {
		r.bySchema[schema] = append(r.bySchema[schema], bundle)
	}

	r.logger.Info("Bundle registered",
		zap.String("name", name),
		zap.Strings("schemas", bundle.Manifest.Schemas),
	)

	return nil
}

// Get retrieves a bundle by name.
func (r *Registry) Get(name string) (*Bundle, bool) {
	r.RLock()
	defer r.RUnlock()

	bundle, ok := r.bundles[name]
	return bundle, ok
}

// LookupBySchema finds bundles that ship a schema.
func (r *Registry) LookupBySchema(schema string) []*Bundle {
	r.RLock()
	defer r.RUnlock()

	bundles, ok := r.bySchema[schema]
	if !ok || len(bundles) == 0 {
		return []*Bundle{}
	}
	result := make([]*Bundle, len(bundles))
	copy(result, bundles)
	return result
}

// List returns all registered bundles sorted by name.
func (r *Registry) List() []*Bundle {
	r.RLock()
	defer r.RUnlock()

	result := make([]*Bundle, 0, len(r.bundles))
	for _, bundle := range r.bundles {
		result = append(result, bundle)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name() < result[j].Name()
	})
	return result
}

// Unregister removes a bundle from the registry.
func (r *Registry) Unregister(name string) {
	r.Lock()
	defer r.Unlock()

	bundle, ok := r.bundles[name]
	if !ok {
		return
	}

	for _, schema := range bundle.Manifest.Schemas {
		bundles := r.bySchema[schema]
		for i, b := range bundles {
			if b.Manifest.Name == name {
				r.bySchema[schema] = append(bundles[:i], bundles[i+1:]...)
				break
			}
		}
		if len(r.bySchema[schema]) == 0 {
			delete(r.bySchema, schema)
		}
	}

	delete(r.bundles, name)

	r.logger.Info("Bundle unregistered", zap.String("name", name))
}

// Count returns the number of registered bundles.
func (r *Registry) Count() int {
	r.RLock()
	defer r.RUnlock()

	return len(r.bundles)
}
