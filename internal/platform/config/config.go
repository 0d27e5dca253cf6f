package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile       = ".env"
	defaultPort          = "8080"
	defaultReadTimeout   = 15 * time.Second
	defaultWriteTimeout  = 30 * time.Second
	defaultIdleTimeout   = 120 * time.Second
	defaultRemoteTimeout = 10 * time.Second
	defaultUploadTimeout = 60 * time.Second
	defaultRemoteRetries = 2
	defaultCartTTL       = 30 * time.Second
	defaultDebounceDelay = 500 * time.Millisecond
	defaultMarkerMaxAge  = 15 * time.Minute
	defaultSyncAttempts  = 5
	defaultSyncBackoff   = 3 * time.Second
	defaultSyncRooms     = "customer"
	defaultPinLimit      = 5
	defaultStoreBackend  = "file"
	defaultStorePath     = "storefront-state.json"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server Server
	Remote Remote
	VNPay  VNPay
	Cart   Cart
	Sync   Sync
	Store  Store
}

// Server configures HTTP server parameters.
type Server struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Remote configures the order-service REST client.
type Remote struct {
	BaseURL       string
	Timeout       time.Duration
	UploadTimeout time.Duration
	MaxRetries    int
}

// VNPay configures the redirect payment gateway bridge.
type VNPay struct {
	HashSecret   string
	ReturnURL    string
	CancelURL    string
	MarkerMaxAge time.Duration
}

// Cart configures cache and reconciler behaviour.
type Cart struct {
	CacheTTL      time.Duration
	DebounceDelay time.Duration
}

// Sync configures the live status synchronizer.
type Sync struct {
	URL         string
	Token       string
	Rooms       []string
	MaxAttempts int
	Backoff     time.Duration
	PinLimit    int
}

// Store selects the persisted key-value backend for cross-reload state.
type Store struct {
	Backend   string
	FilePath  string
	RedisAddr string
	RedisDB   int
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// Load assembles the gateway configuration by combining defaults, .env overrides,
// and environment variables.
func Load(opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}

	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	cfg := Config{
		Server: Server{
			Port:         stringWithDefault(lookup, "GW_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "GW_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "GW_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "GW_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Remote: Remote{
			BaseURL:       stringWithDefault(lookup, "GW_REMOTE_BASE_URL", ""),
			Timeout:       durationWithDefault(lookup, "GW_REMOTE_TIMEOUT", defaultRemoteTimeout),
			UploadTimeout: durationWithDefault(lookup, "GW_REMOTE_UPLOAD_TIMEOUT", defaultUploadTimeout),
			MaxRetries:    intWithDefault(lookup, "GW_REMOTE_MAX_RETRIES", defaultRemoteRetries),
		},
		VNPay: VNPay{
			HashSecret:   stringWithDefault(lookup, "GW_VNPAY_HASH_SECRET", ""),
			ReturnURL:    stringWithDefault(lookup, "GW_VNPAY_RETURN_URL", ""),
			CancelURL:    stringWithDefault(lookup, "GW_VNPAY_CANCEL_URL", ""),
			MarkerMaxAge: durationWithDefault(lookup, "GW_VNPAY_MARKER_MAX_AGE", defaultMarkerMaxAge),
		},
		Cart: Cart{
			CacheTTL:      durationWithDefault(lookup, "GW_CART_CACHE_TTL", defaultCartTTL),
			DebounceDelay: durationWithDefault(lookup, "GW_CART_DEBOUNCE_DELAY", defaultDebounceDelay),
		},
		Sync: Sync{
			URL:         stringWithDefault(lookup, "GW_SYNC_URL", ""),
			Token:       stringWithDefault(lookup, "GW_SYNC_TOKEN", ""),
			Rooms:       splitList(stringWithDefault(lookup, "GW_SYNC_ROOMS", defaultSyncRooms)),
			MaxAttempts: intWithDefault(lookup, "GW_SYNC_MAX_ATTEMPTS", defaultSyncAttempts),
			Backoff:     durationWithDefault(lookup, "GW_SYNC_BACKOFF", defaultSyncBackoff),
			PinLimit:    intWithDefault(lookup, "GW_SYNC_PIN_LIMIT", defaultPinLimit),
		},
		Store: Store{
			Backend:   strings.ToLower(stringWithDefault(lookup, "GW_STORE_BACKEND", defaultStoreBackend)),
			FilePath:  stringWithDefault(lookup, "GW_STORE_FILE_PATH", defaultStorePath),
			RedisAddr: stringWithDefault(lookup, "GW_STORE_REDIS_ADDR", ""),
			RedisDB:   intWithDefault(lookup, "GW_STORE_REDIS_DB", 0),
		},
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if strings.TrimSpace(cfg.Remote.BaseURL) == "" {
		missing = append(missing, "Remote.BaseURL")
	}
	if cfg.Remote.Timeout <= 0 {
		missing = append(missing, "Remote.Timeout")
	}
	if cfg.Remote.MaxRetries < 0 {
		missing = append(missing, "Remote.MaxRetries")
	}
	if strings.TrimSpace(cfg.VNPay.HashSecret) == "" {
		missing = append(missing, "VNPay.HashSecret")
	}
	if cfg.Cart.CacheTTL <= 0 {
		missing = append(missing, "Cart.CacheTTL")
	}
	if cfg.Cart.DebounceDelay <= 0 {
		missing = append(missing, "Cart.DebounceDelay")
	}
	if cfg.Sync.MaxAttempts <= 0 {
		missing = append(missing, "Sync.MaxAttempts")
	}
	if cfg.Sync.PinLimit <= 0 {
		missing = append(missing, "Sync.PinLimit")
	}
	if strings.TrimSpace(cfg.Sync.URL) != "" && len(cfg.Sync.Rooms) == 0 {
		missing = append(missing, "Sync.Rooms")
	}
	switch cfg.Store.Backend {
	case "file":
		if strings.TrimSpace(cfg.Store.FilePath) == "" {
			missing = append(missing, "Store.FilePath")
		}
	case "redis":
		if strings.TrimSpace(cfg.Store.RedisAddr) == "" {
			missing = append(missing, "Store.RedisAddr")
		}
	case "memory":
	default:
		missing = append(missing, "Store.Backend")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		value = strings.Trim(value, "\"'")
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return fallback
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}
