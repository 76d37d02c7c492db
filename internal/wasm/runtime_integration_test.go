package wasm

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

// emptyModule is a valid Wasm 1.0 module with no sections.
var emptyModule = []byte{
	0x00, 0x61, 0x73, 0x6d, // Magic number: \0asm
	0x01, 0x00, 0x00, 0x00, // Version: 1
}

// memoryModule exports one page of memory as "memory".
var memoryModule = []byte{
	0x00, 0x61, 0x73, 0x6d, // Magic
	0x01, 0x00, 0x00, 0x00, // Version
	0x05, 0x03, 0x01, 0x00, 0x01, // Memory section: 1 memory, min 1 page
	0x07, 0x0a, 0x01, // Export section: 1 export
	0x06, 0x6d, 0x65, 0x6d, 0x6f, 0x72, 0x79, // "memory"
	0x02, 0x00, // memory index 0
}

// loopModule exports "loop", which never returns, and "ok", which returns 1.
var loopModule = []byte{
	0x00, 0x61, 0x73, 0x6d, // Magic
	0x01, 0x00, 0x00, 0x00, // Version
	0x01, 0x08, 0x02, // Type section: 2 types
	0x60, 0x00, 0x00, // () -> ()
	0x60, 0x00, 0x01, 0x7f, // () -> i32
	0x03, 0x03, 0x02, 0x00, 0x01, // Function section: loop=type 0, ok=type 1
	0x07, 0x0d, 0x02, // Export section: 2 exports
	0x04, 0x6c, 0x6f, 0x6f, 0x70, 0x00, 0x00, // "loop" func 0
	0x02, 0x6f, 0x6b, 0x00, 0x01, // "ok" func 1
	0x0a, 0x0e, 0x02, // Code section: 2 bodies
	0x07, 0x00, 0x03, 0x40, 0x0c, 0x00, 0x0b, 0x0b, // loop: loop { br 0 }
	0x04, 0x00, 0x41, 0x01, 0x0b, // ok: i32.const 1
}

func instantiateLoop(t *testing.T, ctx context.Context, timeout time.Duration) *Instance {
	t.Helper()
	logger := zaptest.NewLogger(t)

	runtime, err := NewRuntime(ctx, logger, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { runtime.Close(context.Background()) })

	loader := NewModuleLoader(runtime, logger)
	if _, err := loader.LoadModuleFromMemory(ctx, "loop", loopModule); err != nil {
		t.Fatalf("Failed to load module: %v", err)
	}

	instanceMgr := NewInstanceManager(runtime, NewHostFunctions(logger), logger)
	instance, err := instanceMgr.Instantiate(ctx, &InstanceConfig{
		ModuleName:      "loop",
		RequiredExports: []string{"loop", "ok"},
		CallTimeout:     timeout,
	})
	if err != nil {
		t.Fatalf("Failed to instantiate: %v", err)
	}
	return instance
}

func TestCallTimeoutClosesInstance(t *testing.T) {
	ctx := context.Background()
	instance := instantiateLoop(t, ctx, 50*time.Millisecond)

	results, err := instance.Call(ctx, "ok")
	if err != nil || len(results) != 1 || results[0] != 1 {
		t.Fatalf("ok = (%v, %v), want [1]", results, err)
	}

	_, err = instance.Call(ctx, "loop")
	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected TimeoutError, got %T (%v)", err, err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error should match context.DeadlineExceeded: %v", err)
	}

	if !instance.Closed() {
		t.Fatal("instance should be closed after a timed out call")
	}
	if _, err := instance.Call(ctx, "ok"); err == nil {
		t.Error("calls on a closed instance should fail")
	}
}

func TestCallCancelledByCaller(t *testing.T) {
	instance := instantiateLoop(t, context.Background(), 0)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := instance.Call(ctx, "loop")
	var interrupted *InterruptedError
	if !errors.As(err, &interrupted) {
		t.Fatalf("expected InterruptedError, got %T (%v)", err, err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error should match context.Canceled: %v", err)
	}
	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		t.Error("a cancelled call is not a timeout")
	}
	if !instance.Closed() {
		t.Error("instance should be closed after an interrupted call")
	}
}

// TestLoadModuleFromMemory tests loading a simple Wasm module from memory.
func TestLoadModuleFromMemory(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime, err := NewRuntime(ctx, logger, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer runtime.Close(ctx)

	loader := NewModuleLoader(runtime, logger)

	module, err := loader.LoadModuleFromMemory(ctx, "test-module", emptyModule)
	if err != nil {
		t.Fatalf("Failed to load module: %v", err)
	}

	if module.Name != "test-module" {
		t.Errorf("Module name = %s, want 'test-module'", module.Name)
	}
	if module.Source != "memory" {
		t.Errorf("Module source = %s, want 'memory'", module.Source)
	}

	// Test caching - load again should hit cache.
	module2, err := loader.LoadModuleFromMemory(ctx, "test-module", emptyModule)
	if err != nil {
		t.Fatalf("Failed to load module from cache: %v", err)
	}

	if module2 != module {
		t.Error("Cache should return the same module instance")
	}
}

func TestModuleLoaderFileSource(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime, err := NewRuntime(ctx, logger, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer runtime.Close(ctx)

	loader := NewModuleLoader(runtime, logger)

	wasmFile := filepath.Join(t.TempDir(), "test.wasm")
	if err := os.WriteFile(wasmFile, emptyModule, 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	compiled, err := loader.LoadNamedModuleFromFile(ctx, "rime", wasmFile)
	if err != nil {
		t.Fatalf("Failed to load module from file: %v", err)
	}
	if compiled.Name != "rime" {
		t.Errorf("Module name = %s, want 'rime'", compiled.Name)
	}
	if compiled.Source != wasmFile {
		t.Errorf("Module source = %s, want %s", compiled.Source, wasmFile)
	}
	if _, ok := runtime.Module("rime"); !ok {
		t.Error("Module should be cached under its name")
	}
}

func TestLoadModuleInvalidBytes(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime, err := NewRuntime(ctx, logger, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer runtime.Close(ctx)

	loader := NewModuleLoader(runtime, logger)
	_, err = loader.LoadModuleFromMemory(ctx, "broken", []byte("not wasm"))

	var compErr *CompilationError
	if !errors.As(err, &compErr) {
		t.Fatalf("expected CompilationError, got %T", err)
	}
}

// TestHostFunctions tests host function creation.
func TestHostFunctions(t *testing.T) {
	logger := zaptest.NewLogger(t)

	hostFuncs := NewHostFunctions(logger)
	if hostFuncs == nil {
		t.Fatal("HostFunctionsImpl is nil")
	}

	if hostFuncs.logger == nil {
		t.Error("Logger not initialized")
	}

	w := &logWriter{host: hostFuncs, instance: "inst", level: 1}
	n, err := w.Write([]byte("deploying schemas\n"))
	if err != nil || n != len("deploying schemas\n") {
		t.Errorf("Write = (%d, %v), want full length and nil error", n, err)
	}
}

func TestInstanceMemoryRoundTrip(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime, err := NewRuntime(ctx, logger, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer runtime.Close(ctx)

	loader := NewModuleLoader(runtime, logger)
	if _, err := loader.LoadModuleFromMemory(ctx, "memory-test", memoryModule); err != nil {
		t.Fatalf("Failed to load module: %v", err)
	}

	instanceMgr := NewInstanceManager(runtime, NewHostFunctions(logger), logger)
	instance, err := instanceMgr.Instantiate(ctx, &InstanceConfig{ModuleName: "memory-test"})
	if err != nil {
		t.Fatalf("Failed to instantiate: %v", err)
	}
	defer instance.Close(ctx)

	if runtime.InstanceCount() != 1 {
		t.Errorf("InstanceCount = %d, want 1", runtime.InstanceCount())
	}

	mem := instance.Memory()
	if mem.Size() != 65536 {
		t.Errorf("Memory size = %d, want 65536", mem.Size())
	}

	if err := mem.WriteUint32(16, 0x12345678); err != nil {
		t.Fatalf("WriteUint32 failed: %v", err)
	}
	v, err := mem.ReadUint32(16)
	if err != nil || v != 0x12345678 {
		t.Errorf("ReadUint32 = (%#x, %v), want 0x12345678", v, err)
	}

	if err := mem.WriteCString(64, "nihao"); err != nil {
		t.Fatalf("WriteCString failed: %v", err)
	}
	s, err := mem.ReadCString(64)
	if err != nil || s != "nihao" {
		t.Errorf("ReadCString = (%q, %v), want nihao", s, err)
	}

	if instance.HasExport("malloc") {
		t.Error("memory module should not export malloc")
	}
	if _, err := instance.Alloc(ctx, 8); err == nil {
		t.Error("Alloc should fail without malloc export")
	}
}

func TestInstantiateMissingExports(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime, err := NewRuntime(ctx, logger, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer runtime.Close(ctx)

	loader := NewModuleLoader(runtime, logger)
	if _, err := loader.LoadModuleFromMemory(ctx, "empty", emptyModule); err != nil {
		t.Fatal(err)
	}

	instanceMgr := NewInstanceManager(runtime, NewHostFunctions(logger), logger)
	_, err = instanceMgr.Instantiate(ctx, &InstanceConfig{
		ModuleName:      "empty",
		RequiredExports: []string{"rime_get_context", "malloc"},
	})

	var missing *MissingExportsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingExportsError, got %T (%v)", err, err)
	}
	if len(missing.Missing) != 2 || missing.Missing[0] != "malloc" {
		t.Errorf("Missing = %v, want [malloc rime_get_context]", missing.Missing)
	}
}

func TestInstantiateLimit(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime, err := NewRuntime(ctx, logger, &RuntimeConfig{MemoryPages: 16, MaxInstances: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer runtime.Close(ctx)

	loader := NewModuleLoader(runtime, logger)
	if _, err := loader.LoadModuleFromMemory(ctx, "empty", emptyModule); err != nil {
		t.Fatal(err)
	}

	instanceMgr := NewInstanceManager(runtime, NewHostFunctions(logger), logger)
	first, err := instanceMgr.Instantiate(ctx, &InstanceConfig{ModuleName: "empty"})
	if err != nil {
		t.Fatalf("first Instantiate failed: %v", err)
	}

	_, err = instanceMgr.Instantiate(ctx, &InstanceConfig{ModuleName: "empty"})
	var limitErr *InstanceLimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected InstanceLimitError, got %T", err)
	}

	// Closing frees the slot.
	if err := first.Close(ctx); err != nil {
		t.Fatal(err)
	}
	second, err := instanceMgr.Instantiate(ctx, &InstanceConfig{ModuleName: "empty"})
	if err != nil {
		t.Fatalf("Instantiate after Close failed: %v", err)
	}
	second.Close(ctx)
}

func TestInstantiateUnknownModule(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime, err := NewRuntime(ctx, logger, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer runtime.Close(ctx)

	instanceMgr := NewInstanceManager(runtime, NewHostFunctions(logger), logger)
	_, err = instanceMgr.Instantiate(ctx, &InstanceConfig{ModuleName: "nope"})

	var notFound *ModuleNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ModuleNotFoundError, got %T", err)
	}
}
