package rime

import (
	"context"
	"errors"
	"fmt"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	abi "github.com/woxQAQ/rime-bridge/api/wasm"
	"github.com/woxQAQ/rime-bridge/internal/wasm"
)

// Guest is an instantiated librime module. *wasm.Instance implements it.
type Guest interface {
	Call(ctx context.Context, name string, params ...uint64) ([]uint64, error)
	CallWithoutTimeout(ctx context.Context, name string, params ...uint64) ([]uint64, error)
	Memory() *wasm.Memory
	Alloc(ctx context.Context, size uint32) (uint32, error)
	AllocCString(ctx context.Context, s string) (uint32, error)
	Free(ctx context.Context, ptr uint32)
	Closed() bool
}

var _ Guest = (*wasm.Instance)(nil)

// WasmEngine implements Engine on top of a librime wasm32 reactor.
//
// It owns one native RimeCommit and one RimeContext in guest memory, mirroring
// the single-session contract: GetCommit/GetContext fill them in place and
// FreeCommit/FreeContext release what the engine allocated inside them.
type WasmEngine struct {
	guest  Guest
	logger *zap.Logger

	commitBuf   uint32
	contextBuf  uint32
	commitHeld  bool
	contextHeld bool

	// Allocations backing RimeTraits, released by Finalize.
	traitsAllocs []uint32

	// lost is the call error that left the guest closed.
	lost error
}

var (
	_ Engine = (*WasmEngine)(nil)
	_ Health = (*WasmEngine)(nil)
)

// NewWasmEngine allocates the native commit and context structures.
func NewWasmEngine(ctx context.Context, guest Guest, logger *zap.Logger) (*WasmEngine, error) {
	e := &WasmEngine{
		guest:  guest,
		logger: logger.With(zap.String("component", "rime-engine")),
	}

	var err error
	if e.commitBuf, err = e.allocStruct(ctx, abi.CommitSize); err != nil {
		return nil, fmt.Errorf("failed to allocate commit: %w", err)
	}
	if e.contextBuf, err = e.allocStruct(ctx, abi.ContextSize); err != nil {
		e.guest.Free(ctx, e.commitBuf)
		return nil, fmt.Errorf("failed to allocate context: %w", err)
	}

	return e, nil
}

// allocStruct allocates a zeroed struct with data_size set, like RIME_STRUCT_INIT.
func (e *WasmEngine) allocStruct(ctx context.Context, size uint32) (uint32, error) {
	ptr, err := e.guest.Alloc(ctx, size)
	if err != nil {
		return 0, err
	}
	buf := make([]byte, size)
	wasm.PutUint32(buf, 0, abi.StructDataSize(size))
	if err := e.guest.Memory().WriteBytes(ptr, buf); err != nil {
		e.guest.Free(ctx, ptr)
		return 0, err
	}
	return ptr, nil
}

func (e *WasmEngine) writeTraits(ctx context.Context, traits Traits) (uint32, error) {
	ptr, err := e.guest.Alloc(ctx, abi.TraitsSize)
	if err != nil {
		return 0, err
	}
	e.traitsAllocs = append(e.traitsAllocs, ptr)

	buf := make([]byte, abi.TraitsSize)
	wasm.PutUint32(buf, abi.TraitsDataSize, abi.StructDataSize(abi.TraitsSize))
	wasm.PutUint32(buf, abi.TraitsMinLogLevel, uint32(int32(traits.MinLogLevel)))

	fields := []struct {
		offset uint32
		value  string
	}{
		{abi.TraitsSharedDataDir, traits.SharedDataDir},
		{abi.TraitsUserDataDir, traits.UserDataDir},
		{abi.TraitsDistributionName, traits.DistributionName},
		{abi.TraitsDistributionCodeName, traits.DistributionCodeName},
		{abi.TraitsDistributionVersion, traits.DistributionVersion},
		{abi.TraitsAppName, traits.AppName},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		sp, err := e.guest.AllocCString(ctx, f.value)
		if err != nil {
			return 0, err
		}
		e.traitsAllocs = append(e.traitsAllocs, sp)
		wasm.PutUint32(buf, f.offset, sp)
	}

	if err := e.guest.Memory().WriteBytes(ptr, buf); err != nil {
		return 0, err
	}
	return ptr, nil
}

// Setup implements Engine.
func (e *WasmEngine) Setup(ctx context.Context, traits Traits) error {
	return e.callWithTraits(ctx, abi.ExportSetup, traits)
}

// Initialize implements Engine.
func (e *WasmEngine) Initialize(ctx context.Context, traits Traits) error {
	return e.callWithTraits(ctx, abi.ExportInitialize, traits)
}

func (e *WasmEngine) callWithTraits(ctx context.Context, name string, traits Traits) error {
	ptr, err := e.writeTraits(ctx, traits)
	if err != nil {
		return fmt.Errorf("failed to write traits: %w", err)
	}
	if _, err := e.guest.Call(ctx, name, api.EncodeU32(ptr)); err != nil {
		e.failed(name, err)
		return err
	}
	return nil
}

// StartMaintenance implements Engine. Deployment runs without the per-call timeout.
func (e *WasmEngine) StartMaintenance(ctx context.Context, fullCheck bool) bool {
	e.logger.Info("Deploying schemas", zap.Bool("full_check", fullCheck))

	results, err := e.guest.CallWithoutTimeout(ctx, abi.ExportStartMaintenance, encodeBool(fullCheck))
	if err != nil {
		e.failed(abi.ExportStartMaintenance, err)
		return false
	}
	return decodeBool(results)
}

// Finalize implements Engine.
func (e *WasmEngine) Finalize(ctx context.Context) {
	e.callVoid(ctx, abi.ExportFinalize)

	for _, ptr := range e.traitsAllocs {
		e.guest.Free(ctx, ptr)
	}
	e.traitsAllocs = nil
}

// CreateSession implements Engine.
func (e *WasmEngine) CreateSession(ctx context.Context) SessionID {
	results, err := e.guest.Call(ctx, abi.ExportCreateSession)
	if err != nil || len(results) == 0 {
		e.failed(abi.ExportCreateSession, err)
		return 0
	}
	return SessionID(api.DecodeU32(results[0]))
}

// DestroySession implements Engine.
func (e *WasmEngine) DestroySession(ctx context.Context, session SessionID) bool {
	return e.callBool(ctx, abi.ExportDestroySession, encodeSession(session))
}

// SimulateKeySequence implements Engine.
func (e *WasmEngine) SimulateKeySequence(ctx context.Context, session SessionID, keys string) bool {
	ptr, err := e.guest.AllocCString(ctx, keys)
	if err != nil {
		e.logger.Error("Failed to copy key sequence", zap.Error(err))
		return false
	}
	defer e.guest.Free(ctx, ptr)

	return e.callBool(ctx, abi.ExportSimulateKeySequence, encodeSession(session), api.EncodeU32(ptr))
}

// SelectCandidateOnCurrentPage implements Engine.
func (e *WasmEngine) SelectCandidateOnCurrentPage(ctx context.Context, session SessionID, index int) bool {
	return e.callBool(ctx, abi.ExportSelectCandidate, encodeSession(session), api.EncodeU32(uint32(index)))
}

// ChangePage implements Engine.
func (e *WasmEngine) ChangePage(ctx context.Context, session SessionID, backward bool) bool {
	return e.callBool(ctx, abi.ExportChangePage, encodeSession(session), encodeBool(backward))
}

// ClearComposition implements Engine.
func (e *WasmEngine) ClearComposition(ctx context.Context, session SessionID) {
	e.callVoid(ctx, abi.ExportClearComposition, encodeSession(session))
}

// SetOption implements Engine.
func (e *WasmEngine) SetOption(ctx context.Context, session SessionID, option string, value bool) {
	ptr, err := e.guest.AllocCString(ctx, option)
	if err != nil {
		e.logger.Error("Failed to copy option name", zap.Error(err))
		return
	}
	defer e.guest.Free(ctx, ptr)

	e.callVoid(ctx, abi.ExportSetOption, encodeSession(session), api.EncodeU32(ptr), encodeBool(value))
}

// GetCommit implements Engine.
func (e *WasmEngine) GetCommit(ctx context.Context, session SessionID) (*Commit, bool) {
	if !e.callBool(ctx, abi.ExportGetCommit, encodeSession(session), api.EncodeU32(e.commitBuf)) {
		return nil, false
	}
	e.commitHeld = true

	commit, err := decodeCommit(e.guest.Memory(), e.commitBuf)
	if err != nil {
		e.logger.Warn("Failed to decode commit", zap.Error(err))
		return &Commit{}, true
	}
	return commit, true
}

// FreeCommit implements Engine.
func (e *WasmEngine) FreeCommit(ctx context.Context, commit *Commit) bool {
	if commit == nil || !e.commitHeld {
		return false
	}
	e.commitHeld = false
	return e.callBool(ctx, abi.ExportFreeCommit, api.EncodeU32(e.commitBuf))
}

// GetContext implements Engine.
func (e *WasmEngine) GetContext(ctx context.Context, session SessionID) (*Context, bool) {
	if !e.callBool(ctx, abi.ExportGetContext, encodeSession(session), api.EncodeU32(e.contextBuf)) {
		return nil, false
	}
	e.contextHeld = true

	c, err := decodeContext(e.guest.Memory(), e.contextBuf)
	if err != nil {
		e.logger.Warn("Failed to decode context", zap.Error(err))
		return &Context{}, true
	}
	return c, true
}

// FreeContext implements Engine.
func (e *WasmEngine) FreeContext(ctx context.Context, c *Context) bool {
	if c == nil || !e.contextHeld {
		return false
	}
	e.contextHeld = false
	return e.callBool(ctx, abi.ExportFreeContext, api.EncodeU32(e.contextBuf))
}

// Version implements Engine.
func (e *WasmEngine) Version(ctx context.Context) string {
	results, err := e.guest.Call(ctx, abi.ExportGetVersion)
	if err != nil || len(results) == 0 {
		e.failed(abi.ExportGetVersion, err)
		return "unknown"
	}

	v, err := e.guest.Memory().ReadOptionalCString(api.DecodeU32(results[0]))
	if err != nil || v == nil {
		return "unknown"
	}
	return *v
}

// Close releases the native structures and closes the guest when it supports it.
func (e *WasmEngine) Close(ctx context.Context) error {
	e.guest.Free(ctx, e.commitBuf)
	e.guest.Free(ctx, e.contextBuf)
	e.commitBuf, e.contextBuf = 0, 0

	if c, ok := e.guest.(interface{ Close(context.Context) error }); ok {
		return c.Close(ctx)
	}
	return nil
}

func (e *WasmEngine) callBool(ctx context.Context, name string, params ...uint64) bool {
	results, err := e.guest.Call(ctx, name, params...)
	if err != nil {
		e.failed(name, err)
		return false
	}
	return decodeBool(results)
}

func (e *WasmEngine) callVoid(ctx context.Context, name string, params ...uint64) {
	if _, err := e.guest.Call(ctx, name, params...); err != nil {
		e.failed(name, err)
	}
}

var errModuleClosed = errors.New("engine module closed")

// failed logs a call error and records it when the guest did not survive it.
func (e *WasmEngine) failed(name string, err error) {
	e.logger.Error("Engine call failed", zap.String("function", name), zap.Error(err))
	if e.lost == nil && e.guest.Closed() {
		if err == nil {
			err = fmt.Errorf("call to '%s' returned no result", name)
		}
		e.lost = fmt.Errorf("%w: %w", errModuleClosed, err)
	}
}

// Err implements Health. It is non-nil once the guest module has been closed
// under the engine, after which no call can succeed.
func (e *WasmEngine) Err() error {
	if e.lost == nil && e.guest.Closed() {
		return errModuleClosed
	}
	return e.lost
}

func encodeSession(id SessionID) uint64 {
	return api.EncodeU32(uint32(id))
}

func encodeBool(b bool) uint64 {
	if b {
		return api.EncodeI32(1)
	}
	return api.EncodeI32(0)
}

func decodeBool(results []uint64) bool {
	return len(results) > 0 && api.DecodeI32(results[0]) != 0
}
