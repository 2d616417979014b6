// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// StoreBaseURL is the base URL of the session store API (source of truth for sessions).
	StoreBaseURL string `mapstructure:"STORE_BASE_URL"`
	// StoreAPIKey authenticates calls to the session store API; may be empty in local setups.
	StoreAPIKey string `mapstructure:"STORE_API_KEY"`
	// StoreTimeoutStr is the per-request timeout for store calls (e.g. "15s").
	StoreTimeoutStr string `mapstructure:"STORE_TIMEOUT"`

	// SubscriptionBaseURL is the base URL of the subscription service for quota checks.
	// Empty disables quota enforcement (local/dev).
	SubscriptionBaseURL string `mapstructure:"SUBSCRIPTION_BASE_URL"`
	// SubscriptionAPIKey authenticates calls to the subscription service.
	SubscriptionAPIKey string `mapstructure:"SUBSCRIPTION_API_KEY"`

	// SessionCeilingStr is the maximum elapsed time of an in-progress session (e.g. "20m").
	SessionCeilingStr string `mapstructure:"SESSION_CEILING"`
	// SessionEndWarningStr is the window before the ceiling in which sessions report about-to-end (e.g. "5m").
	SessionEndWarningStr string `mapstructure:"SESSION_END_WARNING"`

	// JWTPublicKey is the PEM-encoded public key or path to file for validating access tokens.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the expected iss claim (e.g. "coach-auth").
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the expected aud claim (e.g. "coach-api").
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`

	// KafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	// Empty disables realtime event dispatch.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// SessionEventsTopic is the Kafka topic for session events (default coach-session-events).
	SessionEventsTopic string `mapstructure:"SESSION_EVENTS_TOPIC"`
	// KafkaGroupID is the consumer group ID for the notify worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`

	// PushGatewayURL is the base URL of the push gateway. Empty disables push delivery.
	PushGatewayURL string `mapstructure:"PUSH_GATEWAY_URL"`
	// PushGatewayAPIKey authenticates calls to the push gateway.
	PushGatewayAPIKey string `mapstructure:"PUSH_GATEWAY_API_KEY"`

	// OTLPEndpoint is the OTLP gRPC endpoint for traces/metrics/logs (e.g. "localhost:4317").
	// Empty disables OTel export.
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	// OTLPInsecure disables TLS on the OTLP exporter connection (local collectors).
	OTLPInsecure bool `mapstructure:"OTLP_INSECURE"`

	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("STORE_BASE_URL", "")
	v.SetDefault("STORE_API_KEY", "")
	v.SetDefault("STORE_TIMEOUT", "15s")
	v.SetDefault("SUBSCRIPTION_BASE_URL", "")
	v.SetDefault("SUBSCRIPTION_API_KEY", "")
	v.SetDefault("SESSION_CEILING", "20m")
	v.SetDefault("SESSION_END_WARNING", "5m")
	v.SetDefault("JWT_ISSUER", "coach-auth")
	v.SetDefault("JWT_AUDIENCE", "coach-api")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("SESSION_EVENTS_TOPIC", "coach-session-events")
	v.SetDefault("KAFKA_GROUP_ID", "session-notify-worker")
	v.SetDefault("PUSH_GATEWAY_URL", "")
	v.SetDefault("PUSH_GATEWAY_API_KEY", "")
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("OTLP_INSECURE", false)
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.Ceiling() <= 0 {
		return nil, errors.New("config: SESSION_CEILING must be a positive duration")
	}
	if cfg.EndWarning() <= 0 || cfg.EndWarning() >= cfg.Ceiling() {
		return nil, errors.New("config: SESSION_END_WARNING must be positive and below SESSION_CEILING")
	}

	return &cfg, nil
}

// Ceiling parses SessionCeilingStr as a time.Duration. Returns 20m if unset or invalid.
func (c *Config) Ceiling() time.Duration {
	d, err := time.ParseDuration(c.SessionCeilingStr)
	if err != nil {
		return 20 * time.Minute
	}
	return d
}

// EndWarning parses SessionEndWarningStr as a time.Duration. Returns 5m if unset or invalid.
func (c *Config) EndWarning() time.Duration {
	d, err := time.ParseDuration(c.SessionEndWarningStr)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// StoreTimeout parses StoreTimeoutStr as a time.Duration. Returns 15s if unset or invalid.
func (c *Config) StoreTimeout() time.Duration {
	d, err := time.ParseDuration(c.StoreTimeoutStr)
	if err != nil || d <= 0 {
		return 15 * time.Second
	}
	return d
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if realtime dispatch is enabled (non-empty list) and to create the writer.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
