package bundle

import (
	"time"

	"github.com/woxQAQ/rime-bridge/internal/wasm"
)

// Bundle is a loaded engine bundle: its manifest and compiled librime module.
type Bundle struct {
	// Manifest is the parsed bundle metadata
	Manifest *Manifest

	// Compiled is the compiled Wasm module
	Compiled *wasm.CompiledModule

	// LoadedAt is the timestamp when the bundle was loaded
	LoadedAt time.Time
}

// Name returns the bundle name.
func (b *Bundle) Name() string {
	return b.Manifest.Name
}

// Version returns the engine version the bundle ships.
func (b *Bundle) Version() string {
	return b.Manifest.Version
}

// Schemas returns the schema ids deployed from the bundle's shared data.
func (b *Bundle) Schemas() []string {
	return b.Manifest.Schemas
}

// SupportsSchema checks if the bundle ships a schema.
func (b *Bundle) SupportsSchema(schema string) bool {
	for _, s := range b.Manifest.Schemas {
		if s == schema {
			return true
		}
	}
	return false
}
