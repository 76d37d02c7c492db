package wasm

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"
)

// closer is anything the runtime must close on shutdown.
type closer interface {
	Close(context.Context) error
}

// Runtime owns the wazero runtime that hosts every engine instance of the
// process, along with the modules compiled into it.
type Runtime struct {
	runtime wazero.Runtime
	cache   wazero.CompilationCache
	config  *RuntimeConfig
	logger  *zap.Logger

	mu        sync.Mutex
	modules   map[string]*CompiledModule
	instances map[string]closer
	closed    bool

	// WASI and the host module are instantiated on first use.
	importsOnce sync.Once
	importsErr  error
}

// RuntimeConfig holds runtime configuration.
type RuntimeConfig struct {
	// Memory limit per instance, in 64KB pages.
	MemoryPages uint32

	DebugEnabled bool

	// On-disk compilation cache; empty keeps compiled code in memory only.
	CacheDir string

	// Live instance cap; 0 means unlimited.
	MaxInstances int
}

// CompiledModule is a compiled engine binary and where it came from.
type CompiledModule struct {
	Module wazero.CompiledModule

	Name       string
	Source     string // file path, or "memory"
	SizeBytes  int64
	CompiledAt int64
}

// Exports returns the names of the functions the module exports.
func (c *CompiledModule) Exports() map[string]bool {
	names := make(map[string]bool)
	if c.Module == nil {
		return names
	}
	for name := range c.Module.ExportedFunctions() {
		names[name] = true
	}
	return names
}

// NewRuntime creates the wazero runtime. Guests are closed when ctx is done.
func NewRuntime(ctx context.Context, logger *zap.Logger, config *RuntimeConfig) (*Runtime, error) {
	if config == nil {
		config = DefaultRuntimeConfig()
	}

	rc := wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true).
		WithDebugInfoEnabled(config.DebugEnabled)
	if config.MemoryPages > 0 {
		rc = rc.WithMemoryLimitPages(config.MemoryPages)
	}

	var cache wazero.CompilationCache
	if config.CacheDir != "" {
		c, err := wazero.NewCompilationCacheWithDir(config.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open compilation cache '%s': %w", config.CacheDir, err)
		}
		cache = c
		rc = rc.WithCompilationCache(cache)
	}

	r := &Runtime{
		runtime:   wazero.NewRuntimeWithConfig(ctx, rc),
		cache:     cache,
		config:    config,
		logger:    logger.With(zap.String("component", "wasm-runtime")),
		modules:   make(map[string]*CompiledModule),
		instances: make(map[string]closer),
	}

	r.logger.Info("Wasm runtime initialized",
		zap.Uint32("memory_pages", config.MemoryPages),
		zap.Bool("debug_enabled", config.DebugEnabled),
		zap.String("cache_dir", config.CacheDir),
		zap.Int("max_instances", config.MaxInstances),
	)

	return r, nil
}

// DefaultRuntimeConfig sizes the runtime for a single librime instance with
// its dictionaries loaded.
func DefaultRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		MemoryPages:  4096, // 256MB
		MaxInstances: 4,
	}
}

// Close closes every tracked instance, then the runtime. Later calls are no-ops.
func (r *Runtime) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	instances := r.instances
	r.instances = make(map[string]closer)
	r.mu.Unlock()

	r.logger.Info("Shutting down Wasm runtime", zap.Int("instances", len(instances)))

	for id, inst := range instances {
		if err := inst.Close(ctx); err != nil {
			r.logger.Warn("Failed to close instance",
				zap.String("instance_id", id),
				zap.Error(err),
			)
		}
	}

	err := r.runtime.Close(ctx)
	if r.cache != nil {
		if cacheErr := r.cache.Close(ctx); cacheErr != nil && err == nil {
			err = cacheErr
		}
	}

	r.logger.Info("Wasm runtime shutdown complete")
	return err
}

// Module returns a compiled module by name.
func (r *Runtime) Module(name string) (*CompiledModule, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mod, ok := r.modules[name]
	return mod, ok
}

func (r *Runtime) cacheModule(module *CompiledModule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[module.Name] = module
}

// reserve tracks a new instance unless the instance cap is reached.
func (r *Runtime) reserve(id string, inst closer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("wasm runtime is closed")
	}
	if limit := r.config.MaxInstances; limit > 0 && len(r.instances) >= limit {
		return &InstanceLimitError{Limit: limit}
	}
	r.instances[id] = inst
	return nil
}

func (r *Runtime) release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances, id)
}

// InstanceCount returns the number of live instances.
func (r *Runtime) InstanceCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instances)
}

// IsClosed returns whether the runtime has been closed.
func (r *Runtime) IsClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
