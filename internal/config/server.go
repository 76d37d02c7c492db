package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. RIME_BRIDGE_LOG_LEVEL.
const EnvPrefix = "RIME_BRIDGE"

type ServerConfig struct {
	BundlePaths    []string        `mapstructure:"bundle_paths" validate:"required,min=1,dive,required"`
	LogLevel       string          `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	MetricsEnabled bool            `mapstructure:"metrics_enabled"`
	MetricsPort    int             `mapstructure:"metrics_port" validate:"gte=0,lte=65535"`
	Engine         EngineConfig    `mapstructure:"engine"`
	Transport      TransportConfig `mapstructure:"transport"`
	Wasm           WasmConfig      `mapstructure:"wasm"`
}

// EngineConfig selects the engine bundle and its writable data directory.
type EngineConfig struct {
	// Bundle name; empty picks the only discovered bundle.
	Bundle string `mapstructure:"bundle"`
	// Host directory mounted as the engine's user data dir.
	UserDataDir string `mapstructure:"user_data_dir" validate:"required"`
}

// TransportConfig holds the host protocol listeners.
type TransportConfig struct {
	// TCP port for the line protocol (0 serves stdio).
	Port int `mapstructure:"port" validate:"gte=0,lte=65535"`
	// HTTP listen address for WebSocket and /metrics (empty disables).
	HTTPAddr string `mapstructure:"http_addr"`
	// WebSocket endpoint path.
	WebSocketPath string `mapstructure:"websocket_path" validate:"startswith=/"`
}

// WasmConfig holds Wasm runtime configuration.
type WasmConfig struct {
	// Memory limit per module (in pages, 64KB each).
	MemoryPages uint32 `mapstructure:"memory_pages" validate:"gte=1,lte=65536"`
	// Enable debug logging.
	Debug bool `mapstructure:"debug"`
	// Compilation cache directory.
	CacheDir string `mapstructure:"cache_dir"`
	// Maximum concurrent instances.
	MaxInstances int `mapstructure:"max_instances" validate:"gte=1"`
	// Module execution timeout (seconds, 0 disables).
	ExecutionTimeout int `mapstructure:"execution_timeout" validate:"gte=0"`
}

// CallTimeout returns the per-call execution timeout.
func (w WasmConfig) CallTimeout() time.Duration {
	return time.Duration(w.ExecutionTimeout) * time.Second
}

func LoadServerConfig(configPath string) (*ServerConfig, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("bundle_paths", []string{"./bundles"})
	v.SetDefault("log_level", "info")
	v.SetDefault("metrics_enabled", false)
	v.SetDefault("metrics_port", 9090)

	// Engine defaults
	v.SetDefault("engine.bundle", "")
	v.SetDefault("engine.user_data_dir", "./rime_user")

	// Transport defaults
	v.SetDefault("transport.port", 0)
	v.SetDefault("transport.http_addr", "")
	v.SetDefault("transport.websocket_path", "/ws")

	// Wasm defaults. librime with its dictionaries needs far more than 16MB.
	v.SetDefault("wasm.memory_pages", 4096) // 256MB
	v.SetDefault("wasm.debug", false)
	v.SetDefault("wasm.cache_dir", "./build/wasm-cache")
	v.SetDefault("wasm.max_instances", 4)
	v.SetDefault("wasm.execution_timeout", 30)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c *ServerConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &InvalidConfigError{Field: fe.Namespace(), Rule: fe.Tag(), Value: fe.Value()}
		}
		return err
	}
	return nil
}

// InvalidConfigError reports the first field that failed validation.
type InvalidConfigError struct {
	Field string
	Rule  string
	Value interface{}
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s fails '%s' (value: %v)", e.Field, e.Rule, e.Value)
}
