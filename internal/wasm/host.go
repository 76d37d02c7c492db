package wasm

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

// HostFunctionsImpl implements host functions for Wasm modules.
type HostFunctionsImpl struct {
	logger *zap.Logger
}

// NewHostFunctions creates a new host functions implementation.
func NewHostFunctions(logger *zap.Logger) *HostFunctionsImpl {
	return &HostFunctionsImpl{
		logger: logger.With(zap.String("component", "wasm-host")),
	}
}

// logMessage is called by Wasm modules to log messages.
// Signature: log_message(level, ptr, length)
// level: 0 = debug, 1 = info, 2 = warn, 3 = error
func (h *HostFunctionsImpl) logMessage(ctx context.Context, mod api.Module, level uint32, ptr uint32, length uint32) {
	// Read message from Wasm memory.
	msg, ok := mod.Memory().Read(ptr, length)
	if !ok {
		h.logger.Error("Failed to read log message from Wasm memory",
			zap.Error(&HostFunctionError{
				FunctionName: "log_message",
				Err:          fmt.Errorf("ptr=%d length=%d: %w", ptr, length, errOutOfRange),
			}),
		)
		return
	}

	h.log(mod.Name(), level, string(msg))
}

func (h *HostFunctionsImpl) log(instance string, level uint32, msg string) {
	field := zap.String("instance_id", instance)

	switch level {
	case 0:
		h.logger.Debug(msg, field)
	case 1:
		h.logger.Info(msg, field)
	case 2:
		h.logger.Warn(msg, field)
	case 3:
		h.logger.Error(msg, field)
	default:
		h.logger.Info(msg, field)
	}
}

// logWriter adapts guest stdout/stderr to the host logger, one entry per write.
type logWriter struct {
	host     *HostFunctionsImpl
	instance string
	level    uint32
}

func (w *logWriter) Write(p []byte) (int, error) {
	msg := string(p)
	for len(msg) > 0 && (msg[len(msg)-1] == '\n' || msg[len(msg)-1] == '\r') {
		msg = msg[:len(msg)-1]
	}
	if msg != "" {
		w.host.log(w.instance, w.level, msg)
	}
	return len(p), nil
}
