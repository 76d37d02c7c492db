package bundle

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/woxQAQ/rime-bridge/internal/wasm"
)

func TestLoader_LoadBundle_Valid(t *testing.T) {
	ctx := context.Background()
	runtime := newTestRuntime(t)
	loader := NewLoader(runtime, zap.NewNop())

	dir := writeBundle(t, t.TempDir(), "luna", fmt.Sprintf(validManifest, "luna"), memoryModule, true)

	bundle, err := loader.LoadBundle(ctx, dir)
	if err != nil {
		t.Fatalf("LoadBundle() failed: %v", err)
	}

	if bundle.Name() != "luna" {
		t.Errorf("expected name 'luna', got '%s'", bundle.Name())
	}

	if bundle.Version() != "1.16.1" {
		t.Errorf("expected version '1.16.1', got '%s'", bundle.Version())
	}

	if !bundle.SupportsSchema("terra_pinyin") {
		t.Error("expected to support terra_pinyin")
	}

	if bundle.SupportsSchema("cangjie5") {
		t.Error("did not expect to support cangjie5")
	}

	if bundle.Compiled.SizeBytes != int64(len(memoryModule)) {
		t.Errorf("expected size %d, got %d", len(memoryModule), bundle.Compiled.SizeBytes)
	}

	// The module is cached under the bundle name for instantiation.
	if _, ok := runtime.Module("luna"); !ok {
		t.Error("compiled module should be cached under the bundle name")
	}
}

func TestLoader_LoadBundle_ManifestNotFound(t *testing.T) {
	loader := NewLoader(newTestRuntime(t), zap.NewNop())

	_, err := loader.LoadBundle(context.Background(), filepath.Join(t.TempDir(), "nonexistent"))
	var notFound *ManifestNotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("expected ManifestNotFoundError, got %T", err)
	}
}

func TestLoader_LoadBundle_InvalidWasm(t *testing.T) {
	loader := NewLoader(newTestRuntime(t), zap.NewNop())
	dir := writeBundle(t, t.TempDir(), "bad", fmt.Sprintf(validManifest, "bad"), []byte("not wasm"), true)

	_, err := loader.LoadBundle(context.Background(), dir)
	var loadErr *BundleLoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected BundleLoadError, got %v", err)
	}
	if loadErr.BundleName != "bad" {
		t.Errorf("expected bundle name 'bad', got '%s'", loadErr.BundleName)
	}

	var compileErr *wasm.CompilationError
	if !errors.As(err, &compileErr) {
		t.Errorf("expected wrapped CompilationError, got %v", err)
	}
}

func TestLoader_DiscoverBundles(t *testing.T) {
	root := t.TempDir()
	writeBundle(t, root, "luna", fmt.Sprintf(validManifest, "luna"), memoryModule, true)
	writeBundle(t, root, "broken", "name: [", memoryModule, true)
	writeBundle(t, root, "empty", "", nil, false)

	loader := NewLoader(newTestRuntime(t), zap.NewNop())
	bundles, err := loader.DiscoverBundles(context.Background(), []string{root, "/nonexistent/path"})
	if err != nil {
		t.Fatalf("DiscoverBundles() failed: %v", err)
	}

	if len(bundles) != 1 || bundles[0].Name() != "luna" {
		t.Errorf("expected only the luna bundle, got %d bundles", len(bundles))
	}
}

func TestLoader_DiscoverBundles_NoneFound(t *testing.T) {
	root := t.TempDir()
	writeBundle(t, root, "broken", "name: [", memoryModule, true)

	loader := NewLoader(newTestRuntime(t), zap.NewNop())
	_, err := loader.DiscoverBundles(context.Background(), []string{root, "/nonexistent/path"})

	var none *NoBundlesFoundError
	if !errors.As(err, &none) {
		t.Errorf("expected NoBundlesFoundError, got %T", err)
	}
}
