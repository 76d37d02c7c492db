package bundle

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/woxQAQ/rime-bridge/internal/config"
	"github.com/woxQAQ/rime-bridge/internal/wasm"
)

// memoryModule is a valid module exporting only its memory.
var memoryModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x05, 0x03, 0x01, 0x00, 0x01,
	0x07, 0x0a, 0x01, 0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00,
}

const validManifest = `name: %s
version: 1.16.1
wasm:
  file: rime.wasm
data:
  shared: data
schemas:
  - luna_pinyin
  - terra_pinyin
`

// writeBundle creates a bundle directory under root. Files with nil content are skipped.
func writeBundle(t *testing.T, root, name, manifest string, wasmBytes []byte, withData bool) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if manifest != "" {
		if err := os.WriteFile(filepath.Join(dir, ManifestFile), []byte(manifest), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if wasmBytes != nil {
		if err := os.WriteFile(filepath.Join(dir, "rime.wasm"), wasmBytes, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if withData {
		if err := os.MkdirAll(filepath.Join(dir, DefaultSharedDir), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func newTestRuntime(t *testing.T) *wasm.Runtime {
	t.Helper()
	ctx := context.Background()
	runtime, err := wasm.NewRuntime(ctx, zap.NewNop(), wasm.DefaultRuntimeConfig())
	if err != nil {
		t.Fatalf("Failed to create runtime: %v", err)
	}
	t.Cleanup(func() { runtime.Close(ctx) })
	return runtime
}

func newTestManager(t *testing.T, paths ...string) *Manager {
	t.Helper()
	cfg := &config.ServerConfig{BundlePaths: paths}
	return NewManager(cfg, newTestRuntime(t), wasm.NewHostFunctions(zap.NewNop()), zap.NewNop())
}
