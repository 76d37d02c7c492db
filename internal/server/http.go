package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handler returns the HTTP surface: the WebSocket endpoint, /metrics and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	path := s.cfg.Transport.WebSocketPath
	if path == "" {
		path = "/ws"
	}
	mux.HandleFunc(path, s.handleWebSocket)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", s.handleHealth)

	return mux
}

// ServeHTTP listens on addr until ctx is done.
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("HTTP shutdown failed", zap.Error(err))
		}
	}()

	s.logger.Info("Serving HTTP", zap.String("addr", addr), zap.String("websocket_path", s.cfg.Transport.WebSocketPath))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	active := s.bridge.Active()
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]bool{"session": active})
}

// handleWebSocket serves one request per text message.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	logger := s.logger.With(zap.String("conn_id", uuid.NewString()), zap.String("remote", r.RemoteAddr))
	logger.Info("WebSocket connected")

	ctx := r.Context()
	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("WebSocket error", zap.Error(err))
			}
			break
		}

		if messageType != websocket.TextMessage {
			continue
		}

		if err := conn.WriteJSON(s.handleMessage(ctx, message)); err != nil {
			logger.Warn("WebSocket write failed", zap.Error(err))
			break
		}
	}

	logger.Info("WebSocket disconnected")
}
