package bundle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	abi "github.com/woxQAQ/rime-bridge/api/wasm"
	"github.com/woxQAQ/rime-bridge/internal/config"
	"github.com/woxQAQ/rime-bridge/internal/rime"
	"github.com/woxQAQ/rime-bridge/internal/wasm"
)

// Manager manages bundle lifecycle and turns bundles into engine providers.
type Manager struct {
	cfg         *config.ServerConfig
	runtime     *wasm.Runtime
	loader      *Loader
	registry    *Registry
	instanceMgr *wasm.InstanceManager
	logger      *zap.Logger

	mu     sync.RWMutex
	loaded bool
}

// NewManager creates a new bundle manager.
func NewManager(
	cfg *config.ServerConfig,
	runtime *wasm.Runtime,
	hostFuncs *wasm.HostFunctionsImpl,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		cfg:         cfg,
		runtime:     runtime,
		loader:      NewLoader(runtime, logger),
		registry:    NewRegistry(logger),
		instanceMgr: wasm.NewInstanceManager(runtime, hostFuncs, logger),
		logger:      logger.With(zap.String("component", "bundle-manager")),
	}
}

// LoadAll discovers and loads all bundles from configured paths.
func (m *Manager) LoadAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loaded {
		return fmt.Errorf("bundles already loaded")
	}

	m.logger.Info("Loading bundles",
		zap.Strings("paths", m.cfg.BundlePaths),
	)

	bundles, err := m.loader.DiscoverBundles(ctx, m.cfg.BundlePaths)
	if err != nil {
		var notFound *NoBundlesFoundError
		if errors.As(err, &notFound) {
			m.logger.Warn("No bundles found in configured paths",
				zap.Strings("paths", m.cfg.BundlePaths),
			)
			m.loaded = true
			return nil
		}
		return err
	}

	for _, bundle := range bundles {
		if err := m.registry.Register(bundle); err != nil {
			m.logger.Error("Failed to register bundle",
				zap.String("name", bundle.Manifest.Name),
				zap.Error(err),
			)
			continue
		}
	}

	m.loaded = true

	m.logger.Info("Bundles loaded successfully",
		zap.Int("count", len(bundles)),
	)

	return nil
}

// GetBundle retrieves a bundle by name.
func (m *Manager) GetBundle(name string) (*Bundle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bundle, ok := m.registry.Get(name)
	if !ok {
		return nil, &BundleNotFoundError{BundleName: name}
	}

	return bundle, nil
}

// FindBundleForSchema finds a bundle that ships a schema.
func (m *Manager) FindBundleForSchema(schema string) (*Bundle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bundles := m.registry.LookupBySchema(schema)
	if len(bundles) == 0 {
		return nil, fmt.Errorf("no bundle found for schema '%s'", schema)
	}

	return bundles[0], nil
}

// Resolve returns the named bundle, or the only loaded bundle when name is empty.
func (m *Manager) Resolve(name string) (*Bundle, error) {
	if name != "" {
		return m.GetBundle(name)
	}

	bundles := m.registry.List()
	switch len(bundles) {
	case 0:
		return nil, &NoBundlesFoundError{Paths: m.cfg.BundlePaths}
	case 1:
		return bundles[0], nil
	default:
		names := make([]string, len(bundles))
		for i, b := range bundles {
			names[i] = b.Name()
		}
		return nil, &AmbiguousBundleError{Names: names}
	}
}

// Instantiate creates an engine instance of a bundle. The bundle's shared data
// is mounted read-only at the engine's shared data dir, userDataDir read-write
// at its user data dir.
func (m *Manager) Instantiate(ctx context.Context, bundleName, userDataDir string) (*wasm.Instance, error) {
	bundle, err := m.GetBundle(bundleName)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(userDataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create user data dir '%s': %w", userDataDir, err)
	}

	traits := rime.DefaultTraits()
	cfg := &wasm.InstanceConfig{
		ModuleName: bundle.Manifest.Name,
		// InstanceID will be auto-generated
		Mounts: []wasm.Mount{
			{HostDir: bundle.Manifest.SharedDataPath(), GuestDir: traits.SharedDataDir, ReadOnly: true},
			{HostDir: userDataDir, GuestDir: traits.UserDataDir},
		},
		RequiredExports: abi.RequiredExports,
		CallTimeout:     m.cfg.Wasm.CallTimeout(),
	}

	return m.instanceMgr.Instantiate(ctx, cfg)
}

// Provider returns an engine provider backed by a fresh instance of the
// bundle. An empty name selects the only loaded bundle.
func (m *Manager) Provider(bundleName, userDataDir string) rime.Provider {
	return func(ctx context.Context) (rime.Engine, error) {
		bundle, err := m.Resolve(bundleName)
		if err != nil {
			return nil, err
		}

		instance, err := m.Instantiate(ctx, bundle.Name(), userDataDir)
		if err != nil {
			return nil, err
		}

		engine, err := rime.NewWasmEngine(ctx, instance, m.logger)
		if err != nil {
			_ = instance.Close(ctx)
			return nil, err
		}
		return engine, nil
	}
}

// Shutdown gracefully shuts down all bundle instances.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down bundle manager")

	// Runtime close handles instance cleanup
	if err := m.runtime.Close(ctx); err != nil {
		m.logger.Error("Failed to shutdown runtime", zap.Error(err))
		return err
	}

	m.logger.Info("Bundle manager shutdown complete")
	return nil
}

// Registry returns the bundle registry (for testing/inspection).
func (m *Manager) Registry() *Registry {
	return m.registry
}

// IsLoaded returns whether bundles have been loaded.
func (m *Manager) IsLoaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loaded
}
