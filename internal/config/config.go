package config

import (
	"fmt"
	"log/slog"
	"net/url"
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
	Warehouse     WarehouseConfig
	Auth          AuthConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Name string
}

// WarehouseConfig describes the remote statement-execution endpoint and how
// statements submitted to it behave.
type WarehouseConfig struct {
	Endpoint         string
	WarehouseID      string
	PollInterval     time.Duration
	StatementTimeout time.Duration
	RowLimit         int
	Disposition      string
	HTTPTimeout      time.Duration
}

// AuthConfig configures the credential fallback chain. Managed identity is
// attempted first, then the secret store when both address and name are set,
// then the static token.
type AuthConfig struct {
	ManagedIdentity bool
	SecretStoreAddr string
	SecretName      string
	StaticToken     string
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
	if raw, ok := lookup("LAKEQUERY_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid LAKEQUERY_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	if err := applyString(lookup, "LAKEQUERY_SERVICE_NAME", &cfg.Service.Name); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "LAKEQUERY_ENDPOINT", &cfg.Warehouse.Endpoint); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "LAKEQUERY_WAREHOUSE_ID", &cfg.Warehouse.WarehouseID); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "LAKEQUERY_POLL_INTERVAL", &cfg.Warehouse.PollInterval); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "LAKEQUERY_STATEMENT_TIMEOUT", &cfg.Warehouse.StatementTimeout); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "LAKEQUERY_ROW_LIMIT", &cfg.Warehouse.RowLimit); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "LAKEQUERY_DISPOSITION", &cfg.Warehouse.Disposition); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "LAKEQUERY_HTTP_TIMEOUT", &cfg.Warehouse.HTTPTimeout); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "LAKEQUERY_MANAGED_IDENTITY", &cfg.Auth.ManagedIdentity); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "LAKEQUERY_SECRET_STORE_ADDR", &cfg.Auth.SecretStoreAddr); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "LAKEQUERY_SECRET_NAME", &cfg.Auth.SecretName); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "LAKEQUERY_STATIC_TOKEN", &cfg.Auth.StaticToken); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "LAKEQUERY_LOG_JSON", &cfg.Observability.LogJSON); err != nil {
		return Config{}, err
	}
	if err := applyLogLevel(lookup, "LAKEQUERY_LOG_LEVEL", &cfg.Observability.LogLevel); err != nil {
		return Config{}, err
	}

	if cfg.Warehouse.Endpoint == "" {
		return Config{}, fmt.Errorf("LAKEQUERY_ENDPOINT is required")
	}
	parsed, err := url.Parse(cfg.Warehouse.Endpoint)
	if err != nil || parsed.Scheme != "https" {
		return Config{}, fmt.Errorf("LAKEQUERY_ENDPOINT must be an https:// URL, got %q", cfg.Warehouse.Endpoint)
	}
	if cfg.Warehouse.WarehouseID == "" {
		return Config{}, fmt.Errorf("LAKEQUERY_WAREHOUSE_ID is required")
	}
	if cfg.Warehouse.PollInterval <= 0 {
		return Config{}, fmt.Errorf("LAKEQUERY_POLL_INTERVAL must be positive")
	}
	if cfg.Warehouse.RowLimit < 0 {
		return Config{}, fmt.Errorf("LAKEQUERY_ROW_LIMIT must not be negative")
	}
	return cfg, nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "lakequery"},
		Warehouse: WarehouseConfig{
			PollInterval:     10 * time.Second,
			StatementTimeout: 600 * time.Second,
			RowLimit:         0,
			Disposition:      "",
			HTTPTimeout:      30 * time.Second,
		},
		Auth: AuthConfig{
			ManagedIdentity: true,
			SecretName:      "databricks-pat",
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.Observability.LogLevel = slog.LevelWarn
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
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

// applyDuration accepts either a bare integer (seconds, matching the wire
// protocol's *_seconds fields) or a Go duration string.
func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	trimmed := strings.TrimSpace(raw)
	if seconds, err := strconv.Atoi(trimmed); err == nil {
		*dst = time.Duration(seconds) * time.Second
		return nil
	}
	value, err := time.ParseDuration(trimmed)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
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
