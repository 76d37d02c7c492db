package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxLineSize bounds one request line.
const maxLineSize = 1 << 20

// ServeStdio serves the line protocol on stdin/stdout until EOF or ctx is done.
func (s *Server) ServeStdio(ctx context.Context) error {
	s.logger.Info("Serving on stdio")
	return s.serveLines(ctx, os.Stdin, os.Stdout)
}

// ServeTCP serves the line protocol on a TCP port until ctx is done.
func (s *Server) ServeTCP(ctx context.Context, port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", port, err)
	}
	return s.serveListener(ctx, ln)
}

func (s *Server) serveListener(ctx context.Context, ln net.Listener) error {
	s.logger.Info("Serving on TCP", zap.String("addr", ln.Addr().String()))

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	id := uuid.NewString()
	logger := s.logger.With(zap.String("conn_id", id), zap.String("remote", conn.RemoteAddr().String()))
	logger.Info("Connection opened")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if err := s.serveLines(ctx, conn, conn); err != nil && ctx.Err() == nil {
		logger.Warn("Connection failed", zap.Error(err))
	}
	conn.Close()
	logger.Info("Connection closed")
}

// serveLines reads one JSON request per line and writes one JSON response per line.
func (s *Server) serveLines(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	out := bufio.NewWriter(w)
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		if err := enc.Encode(s.handleMessage(ctx, line)); err != nil {
			return err
		}
		if err := out.Flush(); err != nil {
			return err
		}
	}

	return scanner.Err()
}
