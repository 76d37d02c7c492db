package wasm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	abi "github.com/woxQAQ/rime-bridge/api/wasm"
)

// InstanceManager creates and manages module instances.
type InstanceManager struct {
	runtime   *Runtime
	logger    *zap.Logger
	hostFuncs *HostFunctionsImpl
}

// NewInstanceManager creates a new instance manager.
func NewInstanceManager(runtime *Runtime, hostFuncs *HostFunctionsImpl, logger *zap.Logger) *InstanceManager {
	return &InstanceManager{
		runtime:   runtime,
		hostFuncs: hostFuncs,
		logger:    logger.With(zap.String("component", "wasm-instance")),
	}
}

// Mount exposes a host directory to the guest filesystem.
type Mount struct {
	HostDir  string
	GuestDir string
	ReadOnly bool
}

// InstanceConfig holds configuration for creating instances.
type InstanceConfig struct {
	// Module name to instantiate.
	ModuleName string

	// Instance ID (if empty, generates UUID).
	InstanceID string

	// Directories visible to the guest through WASI.
	Mounts []Mount

	// Exports that must be present; they are cached on the instance.
	RequiredExports []string

	// Per-call execution timeout (0 disables).
	CallTimeout time.Duration
}

// Instance represents an instantiated Wasm module.
type Instance struct {
	// wazero module instance.
	module api.Module

	// Instance metadata.
	ID        string
	Name      string
	CreatedAt int64

	// Exported functions (cached for performance).
	exports map[string]api.Function

	callTimeout time.Duration
	runtime     *Runtime
}

// Instantiate creates a new instance from a compiled module.
// Host functions are exported to the Wasm module.
func (m *InstanceManager) Instantiate(ctx context.Context, config *InstanceConfig) (*Instance, error) {
	compiled, ok := m.runtime.Module(config.ModuleName)
	if !ok {
		return nil, &ModuleNotFoundError{ModuleName: config.ModuleName}
	}

	// Refuse modules that cannot serve the caller before paying for instantiation.
	if missing := missingExports(compiled.Exports(), config.RequiredExports); len(missing) > 0 {
		return nil, &MissingExportsError{ModuleName: config.ModuleName, Missing: missing}
	}

	// Generate instance ID if not provided.
	instanceID := config.InstanceID
	if instanceID == "" {
		instanceID = generateUUID()
	}

	m.logger.Info("Instantiating Wasm module",
		zap.String("module", config.ModuleName),
		zap.String("instance_id", instanceID),
		zap.Int("mounts", len(config.Mounts)),
	)

	if err := m.ensureImports(ctx); err != nil {
		return nil, err
	}

	fsConfig := wazero.NewFSConfig()
	for _, mount := range config.Mounts {
		if mount.ReadOnly {
			fsConfig = fsConfig.WithReadOnlyDirMount(mount.HostDir, mount.GuestDir)
		} else {
			fsConfig = fsConfig.WithDirMount(mount.HostDir, mount.GuestDir)
		}
	}

	// Instantiate the guest as a reactor: _initialize runs if present.
	moduleConfig := wazero.NewModuleConfig().
		WithName(instanceID).
		WithStartFunctions(abi.ReactorInitialize).
		WithFSConfig(fsConfig).
		WithStdout(&logWriter{host: m.hostFuncs, instance: instanceID, level: 1}).
		WithStderr(&logWriter{host: m.hostFuncs, instance: instanceID, level: 2})

	module, err := m.runtime.runtime.InstantiateModule(ctx, compiled.Module, moduleConfig)
	if err != nil {
		return nil, &InstantiationError{
			ModuleName: config.ModuleName,
			InstanceID: instanceID,
			Err:        err,
		}
	}

	// Cache exported functions.
	exports := m.cacheExportedFunctions(module, config.RequiredExports)

	instance := &Instance{
		module:      module,
		ID:          instanceID,
		Name:        config.ModuleName,
		CreatedAt:   time.Now().Unix(),
		exports:     exports,
		callTimeout: config.CallTimeout,
		runtime:     m.runtime,
	}

	if err := m.runtime.reserve(instanceID, module); err != nil {
		_ = module.Close(ctx)
		return nil, err
	}

	m.logger.Info("Module instantiated successfully",
		zap.String("instance_id", instanceID),
		zap.Int("exported_functions", len(exports)),
	)

	return instance, nil
}

// ensureImports instantiates WASI and the host module once per runtime.
func (m *InstanceManager) ensureImports(ctx context.Context) error {
	r := m.runtime
	r.importsOnce.Do(func() {
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, r.runtime); err != nil {
			r.importsErr = fmt.Errorf("failed to instantiate WASI: %w", err)
			return
		}

		hostBuilder := r.runtime.NewHostModuleBuilder(abi.HostModuleName)
		m.exportHostFunctions(hostBuilder)
		if _, err := hostBuilder.Instantiate(ctx); err != nil {
			r.importsErr = fmt.Errorf("failed to instantiate host module: %w", err)
		}
	})
	return r.importsErr
}

// Close closes the instance and releases resources.
func (i *Instance) Close(ctx context.Context) error {
	if i.runtime != nil {
		i.runtime.release(i.ID)
	}
	return i.module.Close(ctx)
}

// HasExport reports whether the instance exports the named function.
func (i *Instance) HasExport(name string) bool {
	if _, ok := i.exports[name]; ok {
		return true
	}
	return i.module.ExportedFunction(name) != nil
}

// Memory returns a helper over the instance's linear memory.
func (i *Instance) Memory() *Memory {
	return NewMemory(i.module)
}

// Call invokes an exported function.
func (i *Instance) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	fn, ok := i.exports[name]
	if !ok {
		fn = i.module.ExportedFunction(name)
		if fn == nil {
			return nil, &FunctionNotFoundError{ModuleName: i.Name, FunctionName: name}
		}
	}

	if i.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.callTimeout)
		defer cancel()
	}

	results, err := fn.Call(ctx, params...)
	if err != nil {
		switch ctxErr := ctx.Err(); {
		case i.callTimeout > 0 && errors.Is(ctxErr, context.DeadlineExceeded):
			err = &TimeoutError{Duration: i.callTimeout}
		case ctxErr != nil:
			err = &InterruptedError{Cause: ctxErr}
		}
		return nil, &GuestCallError{InstanceID: i.ID, FunctionName: name, Err: err}
	}
	return results, nil
}

// Closed reports whether the module was closed, either by Close or by the
// runtime after a call timed out or was interrupted. A closed instance fails
// every call.
func (i *Instance) Closed() bool {
	return i.module.IsClosed()
}

// CallWithoutTimeout invokes an exported function ignoring CallTimeout.
// Used for long synchronous work such as schema deployment.
func (i *Instance) CallWithoutTimeout(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	timeout := i.callTimeout
	i.callTimeout = 0
	defer func() { i.callTimeout = timeout }()
	return i.Call(ctx, name, params...)
}

// Alloc reserves size bytes of guest memory through the module's malloc.
func (i *Instance) Alloc(ctx context.Context, size uint32) (uint32, error) {
	results, err := i.Call(ctx, abi.ExportMalloc, api.EncodeU32(size))
	if err != nil {
		return 0, err
	}
	ptr := api.DecodeU32(results[0])
	if ptr == 0 {
		return 0, &MemoryAccessError{Operation: "malloc", Length: size, Err: errOutOfRange}
	}
	return ptr, nil
}

// AllocCString copies s into guest memory as a NUL-terminated string.
// The caller must Free the returned pointer.
func (i *Instance) AllocCString(ctx context.Context, s string) (uint32, error) {
	ptr, err := i.Alloc(ctx, uint32(len(s))+1)
	if err != nil {
		return 0, err
	}
	if err := i.Memory().WriteCString(ptr, s); err != nil {
		i.Free(ctx, ptr)
		return 0, err
	}
	return ptr, nil
}

// Free releases guest memory obtained from Alloc. NULL is ignored.
func (i *Instance) Free(ctx context.Context, ptr uint32) {
	if ptr == 0 {
		return
	}
	_, _ = i.Call(ctx, abi.ExportFree, api.EncodeU32(ptr))
}

// cacheExportedFunctions caches references to exported functions.
// This improves performance by avoiding repeated lookups.
func (m *InstanceManager) cacheExportedFunctions(module api.Module, names []string) map[string]api.Function {
	exports := make(map[string]api.Function)

	for _, name := range names {
		if fn := module.ExportedFunction(name); fn != nil {
			exports[name] = fn
		}
	}

	return exports
}

// exportHostFunctions registers Go functions for import by Wasm modules.
func (m *InstanceManager) exportHostFunctions(builder wazero.HostModuleBuilder) {
	impl := m.hostFuncs

	// Export log_message function.
	// Wasm modules can call this to log messages.
	builder.NewFunctionBuilder().
		WithFunc(impl.logMessage).
		WithParameterNames("level", "ptr", "length").
		Export(abi.HostLogMessage)
}

func missingExports(have map[string]bool, required []string) []string {
	var missing []string
	for _, name := range required {
		if !have[name] {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

// generateUUID generates a unique instance ID.
func generateUUID() string {
	return "inst-" + uuid.NewString()
}
