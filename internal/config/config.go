package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Partner       PartnerConfig
	Preview       PreviewConfig
	Session       SessionConfig
	CORS          CORSConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// PartnerConfig points at the partner registry. BaseURL and APIKey have no defaults.
type PartnerConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type PreviewConfig struct {
	ColumnCap      int
	ConnectTimeout time.Duration
	QueryTimeout   time.Duration
	// Parquet limits apply to the s3parquet backend.
	ParquetMaxObjectMB int
	ParquetMaxObjects  int
}

type SessionConfig struct {
	Users       string
	TokenPrefix string
	AdminRole   string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("EMBEDGATE_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid EMBEDGATE_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	if err := applyString(lookup, "EMBEDGATE_SERVICE_NAME", &cfg.Service.Name); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "EMBEDGATE_HTTP_ADDR", &cfg.HTTP.Address); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "EMBEDGATE_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "EMBEDGATE_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "EMBEDGATE_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "EMBEDGATE_PARTNER_API_BASE_URL", &cfg.Partner.BaseURL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "EMBEDGATE_PARTNER_API_KEY", &cfg.Partner.APIKey); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "EMBEDGATE_PARTNER_TIMEOUT", &cfg.Partner.Timeout); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "EMBEDGATE_PREVIEW_COLUMN_CAP", &cfg.Preview.ColumnCap); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "EMBEDGATE_PREVIEW_CONNECT_TIMEOUT", &cfg.Preview.ConnectTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "EMBEDGATE_PREVIEW_QUERY_TIMEOUT", &cfg.Preview.QueryTimeout); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "EMBEDGATE_PARQUET_MAX_OBJECT_MB", &cfg.Preview.ParquetMaxObjectMB); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "EMBEDGATE_PARQUET_MAX_OBJECTS", &cfg.Preview.ParquetMaxObjects); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "EMBEDGATE_USERS", &cfg.Session.Users); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "EMBEDGATE_TOKEN_PREFIX", &cfg.Session.TokenPrefix); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "EMBEDGATE_ADMIN_ROLE", &cfg.Session.AdminRole); err != nil {
		return Config{}, err
	}
	if err := applyList(lookup, "EMBEDGATE_CORS_ALLOWED_ORIGINS", &cfg.CORS.AllowedOrigins); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "EMBEDGATE_LOG_JSON", &cfg.Observability.LogJSON); err != nil {
		return Config{}, err
	}
	if err := applyLogLevel(lookup, "EMBEDGATE_LOG_LEVEL", &cfg.Observability.LogLevel); err != nil {
		return Config{}, err
	}

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return Config{}, fmt.Errorf("http address is required")
	}
	if cfg.Partner.BaseURL == "" {
		return Config{}, fmt.Errorf("EMBEDGATE_PARTNER_API_BASE_URL is required")
	}
	if cfg.Partner.APIKey == "" {
		return Config{}, fmt.Errorf("EMBEDGATE_PARTNER_API_KEY is required")
	}
	if cfg.Preview.ColumnCap <= 0 {
		return Config{}, fmt.Errorf("EMBEDGATE_PREVIEW_COLUMN_CAP must be > 0")
	}
	if cfg.Preview.ParquetMaxObjectMB <= 0 || cfg.Preview.ParquetMaxObjects <= 0 {
		return Config{}, fmt.Errorf("EMBEDGATE_PARQUET_MAX_OBJECT_MB and EMBEDGATE_PARQUET_MAX_OBJECTS must be > 0")
	}
	if cfg.Session.TokenPrefix == "" {
		return Config{}, fmt.Errorf("token prefix is required")
	}
	return cfg, nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "embedgate-api"},
		HTTP: HTTPConfig{
			Address:      ":3001",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Partner: PartnerConfig{
			Timeout: 5 * time.Second,
		},
		Preview: PreviewConfig{
			ColumnCap:      10,
			ConnectTimeout: 5 * time.Second,
			QueryTimeout:   15 * time.Second,

			ParquetMaxObjectMB: 64,
			ParquetMaxObjects:  8,
		},
		Session: SessionConfig{
			Users:       "admin:admin:admin,user:user:user",
			TokenPrefix: "fake-token-",
			AdminRole:   "admin",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":13001"
		cfg.Observability.LogLevel = slog.LevelWarn
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.CORS.AllowedOrigins = nil
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyList(lookup LookupFunc, key string, dst *[]string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	items := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			items = append(items, part)
		}
	}
	*dst = items
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	if value <= 0 {
		return fmt.Errorf("invalid %s: must be > 0", key)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
