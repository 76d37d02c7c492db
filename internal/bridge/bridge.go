// Package bridge exposes the fixed operation set of a single engine session.
//
// A Bridge is the explicit handle that owns the engine capability, its one
// session and the projector. It is not safe for concurrent use; hosts must
// serialize calls.
package bridge

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/woxQAQ/rime-bridge/internal/projector"
	"github.com/woxQAQ/rime-bridge/internal/rime"
	"github.com/woxQAQ/rime-bridge/pkg/protocol"
)

// Status is the result code of Initialize.
type Status int

const (
	StatusOK Status = 0
	// StatusUnavailable means the engine capability could not be obtained or initialized.
	StatusUnavailable Status = -1
	// StatusSessionFailed means the engine is up but no session could be created.
	StatusSessionFailed Status = -2
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return resultOK
	case StatusUnavailable:
		return resultUnavailable
	case StatusSessionFailed:
		return resultSessionFailed
	default:
		return "unknown"
	}
}

// UnknownVersion is reported when no engine capability was ever obtained.
const UnknownVersion = "unknown"

// Option configures a Bridge.
type Option func(*Bridge)

// WithTraits overrides the engine traits used by Initialize.
func WithTraits(traits rime.Traits) Option {
	return func(b *Bridge) {
		b.traits = traits
	}
}

// WithMetrics records operation metrics.
func WithMetrics(m *Metrics) Option {
	return func(b *Bridge) {
		b.metrics = m
	}
}

// Bridge owns one engine session.
type Bridge struct {
	provider rime.Provider
	traits   rime.Traits
	logger   *zap.Logger
	metrics  *Metrics

	engine      rime.Engine
	initialized bool
	session     rime.SessionID
	projector   *projector.Projector
}

// New creates a bridge that obtains its engine from provider on Initialize.
func New(provider rime.Provider, logger *zap.Logger, opts ...Option) *Bridge {
	b := &Bridge{
		provider: provider,
		traits:   rime.DefaultTraits(),
		logger:   logger.With(zap.String("component", "bridge")),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Initialize obtains and initializes the engine, deploys schemas and creates
// the session. A previous engine and session are torn down first.
func (b *Bridge) Initialize(ctx context.Context) Status {
	if b.engine != nil {
		b.logger.Info("Re-initializing, releasing previous engine")
		b.teardown(ctx)
	}

	status := b.initialize(ctx)
	b.metrics.observe(string(protocol.OpInitialize), status.String())
	b.metrics.setSessionActive(status == StatusOK)
	return status
}

func (b *Bridge) initialize(ctx context.Context) Status {
	if b.provider == nil {
		b.logger.Error("No engine provider configured")
		return StatusUnavailable
	}

	engine, err := b.provider(ctx)
	if err != nil || engine == nil {
		b.logger.Error("Engine capability unavailable", zap.Error(err))
		return StatusUnavailable
	}

	if err := engine.Setup(ctx, b.traits); err != nil {
		b.logger.Error("Engine setup failed", zap.Error(err))
		closeEngine(ctx, engine, b.logger)
		return StatusUnavailable
	}
	if err := engine.Initialize(ctx, b.traits); err != nil {
		b.logger.Error("Engine initialization failed", zap.Error(err))
		closeEngine(ctx, engine, b.logger)
		return StatusUnavailable
	}

	b.engine = engine
	b.initialized = true
	b.projector = projector.New(engine, b.logger)

	start := time.Now()
	if !engine.StartMaintenance(ctx, true) {
		b.logger.Warn("Schema deployment reported failure")
	}
	b.logger.Info("Schemas deployed", zap.Duration("duration", time.Since(start)))

	session := engine.CreateSession(ctx)
	if session == 0 {
		b.logger.Error("Failed to create engine session")
		return StatusSessionFailed
	}
	b.session = session

	b.logger.Info("Engine session created",
		zap.Uint32("session", uint32(session)),
		zap.String("version", engine.Version(ctx)),
	)
	return StatusOK
}

// FeedInput sends a key sequence and returns the serialized snapshot.
func (b *Bridge) FeedInput(ctx context.Context, keys string) string {
	return b.mutate(ctx, protocol.OpFeedInput, func(e rime.Engine, s rime.SessionID) bool {
		return e.SimulateKeySequence(ctx, s, keys)
	})
}

// PickCandidate selects a candidate on the current page.
func (b *Bridge) PickCandidate(ctx context.Context, index int) string {
	return b.mutate(ctx, protocol.OpPickCandidate, func(e rime.Engine, s rime.SessionID) bool {
		return e.SelectCandidateOnCurrentPage(ctx, s, index)
	})
}

// FlipPage moves the candidate menu one page forward or backward.
func (b *Bridge) FlipPage(ctx context.Context, backward bool) string {
	return b.mutate(ctx, protocol.OpFlipPage, func(e rime.Engine, s rime.SessionID) bool {
		return e.ChangePage(ctx, s, backward)
	})
}

// ClearInput clears the composition without projecting.
func (b *Bridge) ClearInput(ctx context.Context) {
	op := string(protocol.OpClearInput)
	if b.engineLost(ctx) || !b.hasSession() {
		b.metrics.observe(op, resultNoSession)
		return
	}
	b.engine.ClearComposition(ctx, b.session)
	if b.engineLost(ctx) {
		b.metrics.observe(op, resultEngineLost)
		return
	}
	b.metrics.observe(op, resultOK)
}

// SetOption sets a session option. An empty name is ignored.
func (b *Bridge) SetOption(ctx context.Context, option string, value bool) {
	op := string(protocol.OpSetOption)
	if b.engineLost(ctx) || !b.hasSession() {
		b.metrics.observe(op, resultNoSession)
		return
	}
	if option == "" {
		b.metrics.observe(op, resultRejected)
		return
	}
	b.engine.SetOption(ctx, b.session, option, value)
	if b.engineLost(ctx) {
		b.metrics.observe(op, resultEngineLost)
		return
	}
	b.metrics.observe(op, resultOK)
}

// Version returns the engine version, or UnknownVersion without an engine.
// It keeps answering after Destroy.
func (b *Bridge) Version(ctx context.Context) string {
	if b.engine == nil {
		return UnknownVersion
	}
	v := b.engine.Version(ctx)
	if v == "" {
		return UnknownVersion
	}
	return v
}

// Destroy destroys the session and finalizes the engine. The engine stays
// referenced so Version still works. Calling it again does nothing.
func (b *Bridge) Destroy(ctx context.Context) {
	b.engineLost(ctx)
	if b.session != 0 {
		if !b.engine.DestroySession(ctx, b.session) {
			b.logger.Warn("Engine refused to destroy session", zap.Uint32("session", uint32(b.session)))
		}
		b.session = 0
	}
	if b.initialized {
		b.engine.Finalize(ctx)
		b.initialized = false
		b.logger.Info("Engine finalized")
	}
	b.metrics.observe(string(protocol.OpDestroy), resultOK)
	b.metrics.setSessionActive(false)
}

// Close destroys the session and releases the engine capability.
func (b *Bridge) Close(ctx context.Context) error {
	b.Destroy(ctx)
	if b.engine == nil {
		return nil
	}
	err := closeEngine(ctx, b.engine, b.logger)
	b.engine = nil
	b.projector = nil
	return err
}

// Snapshot projects the current session state without mutating it.
// It reports false when there is no session.
func (b *Bridge) Snapshot(ctx context.Context) (*protocol.Snapshot, bool) {
	if !b.hasSession() {
		return nil, false
	}
	return b.projector.Project(ctx, b.session), true
}

// Active reports whether the bridge holds a session on a usable engine.
func (b *Bridge) Active() bool {
	return b.hasSession() && engineErr(b.engine) == nil
}

func (b *Bridge) hasSession() bool {
	return b.engine != nil && b.session != 0
}

func engineErr(engine rime.Engine) error {
	if h, ok := engine.(rime.Health); ok {
		return h.Err()
	}
	return nil
}

// engineLost drops the session and releases the engine once it reports a
// permanent failure, so callers see no session and can initialize again.
func (b *Bridge) engineLost(ctx context.Context) bool {
	if b.engine == nil {
		return false
	}
	err := engineErr(b.engine)
	if err == nil {
		return false
	}

	b.logger.Error("Engine lost, dropping session",
		zap.Uint32("session", uint32(b.session)),
		zap.Error(err),
	)
	_ = closeEngine(ctx, b.engine, b.logger)
	b.engine = nil
	b.projector = nil
	b.session = 0
	b.initialized = false
	b.metrics.setSessionActive(false)
	return true
}

func (b *Bridge) mutate(ctx context.Context, op protocol.Op, fn func(rime.Engine, rime.SessionID) bool) string {
	if b.engineLost(ctx) || !b.hasSession() {
		b.metrics.observe(string(op), resultNoSession)
		return protocol.EmptyObject
	}

	result := resultOK
	if !fn(b.engine, b.session) {
		b.logger.Debug("Engine rejected operation", zap.String("operation", string(op)))
		result = resultRejected
	}
	if b.engineLost(ctx) {
		b.metrics.observe(string(op), resultEngineLost)
		return protocol.EmptyObject
	}

	start := time.Now()
	snapshot := b.projector.Project(ctx, b.session)
	b.metrics.observeProjection(start)
	if b.engineLost(ctx) {
		b.metrics.observe(string(op), resultEngineLost)
		return protocol.EmptyObject
	}
	b.metrics.observe(string(op), result)

	data, err := json.Marshal(snapshot)
	if err != nil {
		b.logger.Error("Failed to serialize snapshot", zap.Error(err))
		return protocol.EmptyObject
	}
	return string(data)
}

// teardown releases the current session and engine before re-initialization.
func (b *Bridge) teardown(ctx context.Context) {
	if err := b.Close(ctx); err != nil {
		b.logger.Warn("Failed to close previous engine", zap.Error(err))
	}
}

func closeEngine(ctx context.Context, engine rime.Engine, logger *zap.Logger) error {
	c, ok := engine.(interface{ Close(context.Context) error })
	if !ok {
		return nil
	}
	if err := c.Close(ctx); err != nil {
		logger.Warn("Failed to close engine", zap.Error(err))
		return err
	}
	return nil
}
