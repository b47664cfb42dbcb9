package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the companion process.
type Config struct {
	AppName            string
	AppEnv             string
	AppPort            string
	APIOrigin          string
	APIBasePath        string
	APITimeout         time.Duration
	RealtimeOrigin     string
	RealtimePath       string
	RealtimeAckTimeout time.Duration
	StoragePath        string
	RedisURL           string
	NATSURL            string
	CacheTTL           time.Duration
	PreviewMaxBytes    int64
	UploadMaxMB        int
	ChatTransport      string
	ChatRateLimit      int
	ChatRateWindow     time.Duration
}

// HTTPAddress returns the address the local API should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") || strings.Contains(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf("127.0.0.1:%s", c.AppPort)
}

// RealtimeURL returns the websocket endpoint derived from the realtime origin and path.
func (c Config) RealtimeURL() string {
	origin := strings.TrimRight(c.RealtimeOrigin, "/")
	path := "/" + strings.TrimLeft(c.RealtimePath, "/")
	return origin + path
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("STUDYHUB")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "StudyHub Companion")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "7878")
	v.SetDefault("api.origin", "http://localhost:5000")
	v.SetDefault("api.base_path", "/api")
	v.SetDefault("api.timeout", "15s")
	v.SetDefault("realtime.path", "/ws/chat")
	v.SetDefault("realtime.ack_timeout", "5s")
	v.SetDefault("storage.path", "studyhub.db")
	v.SetDefault("cache.ttl", "1m")
	v.SetDefault("preview.max_bytes", 20*1024*1024)
	v.SetDefault("upload.max_mb", 10)
	v.SetDefault("chat.transport", "rest")
	v.SetDefault("chat.rate_limit", 20)
	v.SetDefault("chat.rate_window", "10s")

	apiTimeout, err := parseDuration(v, "api.timeout", 15*time.Second)
	if err != nil {
		return Config{}, err
	}
	ackTimeout, err := parseDuration(v, "realtime.ack_timeout", 5*time.Second)
	if err != nil {
		return Config{}, err
	}
	cacheTTL, err := parseDuration(v, "cache.ttl", time.Minute)
	if err != nil {
		return Config{}, err
	}
	rateWindow, err := parseDuration(v, "chat.rate_window", 10*time.Second)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppName:            v.GetString("app.name"),
		AppEnv:             v.GetString("app.env"),
		AppPort:            v.GetString("app.port"),
		APIOrigin:          strings.TrimRight(v.GetString("api.origin"), "/"),
		APIBasePath:        v.GetString("api.base_path"),
		APITimeout:         apiTimeout,
		RealtimeOrigin:     strings.TrimRight(v.GetString("realtime.origin"), "/"),
		RealtimePath:       v.GetString("realtime.path"),
		RealtimeAckTimeout: ackTimeout,
		StoragePath:        v.GetString("storage.path"),
		RedisURL:           v.GetString("redis.url"),
		NATSURL:            v.GetString("nats.url"),
		CacheTTL:           cacheTTL,
		PreviewMaxBytes:    v.GetInt64("preview.max_bytes"),
		UploadMaxMB:        v.GetInt("upload.max_mb"),
		ChatTransport:      strings.ToLower(strings.TrimSpace(v.GetString("chat.transport"))),
		ChatRateLimit:      v.GetInt("chat.rate_limit"),
		ChatRateWindow:     rateWindow,
	}

	if cfg.APIOrigin == "" {
		return Config{}, fmt.Errorf("api origin must be provided")
	}
	if _, err := url.ParseRequestURI(cfg.APIOrigin); err != nil {
		return Config{}, fmt.Errorf("invalid api origin: %w", err)
	}
	if cfg.RealtimeOrigin == "" {
		cfg.RealtimeOrigin = websocketOrigin(cfg.APIOrigin)
	}

	if cfg.ChatTransport != "rest" && cfg.ChatTransport != "socket" {
		return Config{}, fmt.Errorf("chat transport must be rest or socket, got %q", cfg.ChatTransport)
	}

	if cfg.PreviewMaxBytes <= 0 {
		cfg.PreviewMaxBytes = 20 * 1024 * 1024
	}

	if cfg.UploadMaxMB <= 0 {
		cfg.UploadMaxMB = 10
	}

	if cfg.ChatRateLimit <= 0 {
		cfg.ChatRateLimit = 20
	}

	return cfg, nil
}

func parseDuration(v *viper.Viper, key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return fallback, nil
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if parsed <= 0 {
		return fallback, nil
	}
	return parsed, nil
}

func websocketOrigin(apiOrigin string) string {
	switch {
	case strings.HasPrefix(apiOrigin, "https://"):
		return "wss://" + strings.TrimPrefix(apiOrigin, "https://")
	case strings.HasPrefix(apiOrigin, "http://"):
		return "ws://" + strings.TrimPrefix(apiOrigin, "http://")
	default:
		return apiOrigin
	}
}
