// Package server exposes the bridge to hosts over line-delimited JSON (stdio
// or TCP) and WebSocket. Every request, whatever its transport, is serialized
// onto the one bridge.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/woxQAQ/rime-bridge/internal/bridge"
	"github.com/woxQAQ/rime-bridge/internal/bundle"
	"github.com/woxQAQ/rime-bridge/internal/config"
	"github.com/woxQAQ/rime-bridge/internal/wasm"
	"github.com/woxQAQ/rime-bridge/pkg/protocol"
)

var nullResult = json.RawMessage("null")

type Server struct {
	cfg      *config.ServerConfig
	logger   *zap.Logger
	bundles  *bundle.Manager
	registry *prometheus.Registry

	// mu serializes every bridge call.
	mu     sync.Mutex
	bridge *bridge.Bridge

	upgrader websocket.Upgrader
}

func NewServer(ctx context.Context, cfg *config.ServerConfig, logger *zap.Logger) (*Server, error) {
	// Initialize Wasm runtime.
	wasmConfig := &wasm.RuntimeConfig{
		MemoryPages:  cfg.Wasm.MemoryPages,
		DebugEnabled: cfg.Wasm.Debug,
		CacheDir:     cfg.Wasm.CacheDir,
		MaxInstances: cfg.Wasm.MaxInstances,
	}

	wasmRuntime, err := wasm.NewRuntime(ctx, logger, wasmConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Wasm runtime: %w", err)
	}

	bundles := bundle.NewManager(cfg, wasmRuntime, wasm.NewHostFunctions(logger), logger)
	if err := bundles.LoadAll(ctx); err != nil {
		_ = wasmRuntime.Close(ctx)
		return nil, fmt.Errorf("failed to load engine bundles: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	b := bridge.New(
		bundles.Provider(cfg.Engine.Bundle, cfg.Engine.UserDataDir),
		logger,
		bridge.WithMetrics(bridge.NewMetrics(registry)),
	)

	logger.Info("Bridge server initialized",
		zap.Uint32("wasm_memory_pages", cfg.Wasm.MemoryPages),
		zap.String("wasm_cache_dir", cfg.Wasm.CacheDir),
		zap.String("bundle", cfg.Engine.Bundle),
		zap.Int("bundles_loaded", bundles.Registry().Count()),
	)

	s := newServer(cfg, logger, b, registry)
	s.bundles = bundles
	return s, nil
}

// newServer wires a server around an existing bridge.
func newServer(cfg *config.ServerConfig, logger *zap.Logger, b *bridge.Bridge, registry *prometheus.Registry) *Server {
	return &Server{
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "server")),
		bridge:   b,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// Close gracefully shuts down the server.
func (s *Server) Close(ctx context.Context) error {
	s.logger.Info("Shutting down bridge server")

	s.mu.Lock()
	if err := s.bridge.Close(ctx); err != nil {
		s.logger.Warn("Failed to release engine", zap.Error(err))
	}
	s.mu.Unlock()

	// Shutdown Wasm runtime.
	if s.bundles != nil {
		if err := s.bundles.Shutdown(ctx); err != nil {
			s.logger.Error("Failed to shutdown Wasm runtime", zap.Error(err))
			return err
		}
	}

	s.logger.Info("Bridge server shutdown complete")
	return nil
}

// Dispatch runs one request against the bridge.
func (s *Server) Dispatch(ctx context.Context, req protocol.Request) protocol.Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp := protocol.Response{ID: req.ID}
	b := s.bridge

	switch req.Op {
	case protocol.OpInitialize:
		resp.Result = json.RawMessage(strconv.Itoa(int(b.Initialize(ctx))))

	case protocol.OpFeedInput:
		if req.Keys == nil {
			resp.Result = json.RawMessage(protocol.EmptyObject)
			break
		}
		resp.Result = json.RawMessage(b.FeedInput(ctx, *req.Keys))

	case protocol.OpPickCandidate:
		if req.Index == nil {
			resp.Error = "missing index"
			break
		}
		resp.Result = json.RawMessage(b.PickCandidate(ctx, *req.Index))

	case protocol.OpFlipPage:
		resp.Result = json.RawMessage(b.FlipPage(ctx, req.Backward))

	case protocol.OpClearInput:
		b.ClearInput(ctx)
		resp.Result = nullResult

	case protocol.OpSetOption:
		if req.Option != nil {
			b.SetOption(ctx, *req.Option, req.Value)
		}
		resp.Result = nullResult

	case protocol.OpGetVersion:
		v, _ := json.Marshal(b.Version(ctx))
		resp.Result = v

	case protocol.OpDestroy:
		b.Destroy(ctx)
		resp.Result = nullResult

	default:
		resp.Error = fmt.Sprintf("unknown op '%s'", req.Op)
	}

	if resp.Error != "" {
		s.logger.Debug("Request rejected",
			zap.String("id", req.ID),
			zap.String("op", string(req.Op)),
			zap.String("error", resp.Error),
		)
	}
	return resp
}

// handleMessage decodes one request message and dispatches it.
func (s *Server) handleMessage(ctx context.Context, data []byte) protocol.Response {
	var req protocol.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return protocol.Response{Error: fmt.Sprintf("invalid request: %v", err)}
	}
	return s.Dispatch(ctx, req)
}
