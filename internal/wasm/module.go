package wasm

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
)

// ModuleLoader compiles engine binaries into the runtime, once per name.
type ModuleLoader struct {
	runtime *Runtime
	logger  *zap.Logger
}

func NewModuleLoader(runtime *Runtime, logger *zap.Logger) *ModuleLoader {
	return &ModuleLoader{
		runtime: runtime,
		logger:  logger.With(zap.String("component", "wasm-loader")),
	}
}

// moduleSource names a binary and knows how to read it.
type moduleSource struct {
	name   string
	origin string // file path, or "memory"
	read   func() ([]byte, error)
}

// LoadNamedModuleFromFile compiles the binary at path and caches it under name.
func (l *ModuleLoader) LoadNamedModuleFromFile(ctx context.Context, name, path string) (*CompiledModule, error) {
	return l.load(ctx, moduleSource{
		name:   name,
		origin: path,
		read:   func() ([]byte, error) { return os.ReadFile(path) },
	})
}

// LoadModuleFromMemory compiles data and caches it under name.
func (l *ModuleLoader) LoadModuleFromMemory(ctx context.Context, name string, data []byte) (*CompiledModule, error) {
	return l.load(ctx, moduleSource{
		name:   name,
		origin: "memory",
		read:   func() ([]byte, error) { return data, nil },
	})
}

func (l *ModuleLoader) load(ctx context.Context, src moduleSource) (*CompiledModule, error) {
	if cached, ok := l.runtime.Module(src.name); ok {
		l.logger.Debug("Module cache hit", zap.String("module", src.name))
		return cached, nil
	}

	wasmBytes, err := src.read()
	if err != nil {
		return nil, fmt.Errorf("failed to read module %s: %w", src.name, err)
	}

	l.logger.Info("Compiling Wasm module",
		zap.String("module", src.name),
		zap.String("source", src.origin),
		zap.Int("size_bytes", len(wasmBytes)),
	)

	start := time.Now()
	compiled, err := l.runtime.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, &CompilationError{ModuleName: src.name, Err: err}
	}

	module := &CompiledModule{
		Module:     compiled,
		Name:       src.name,
		Source:     src.origin,
		SizeBytes:  int64(len(wasmBytes)),
		CompiledAt: time.Now().Unix(),
	}
	l.runtime.cacheModule(module)

	l.logger.Info("Module compiled",
		zap.String("module", src.name),
		zap.Duration("duration", time.Since(start)),
		zap.Int("exported_functions", len(compiled.ExportedFunctions())),
	)

	return module, nil
}
