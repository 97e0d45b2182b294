// Package config loads server settings from the environment. Tunables with a
// sensible production default are optional; anything that would silently
// change semantics when mistyped fails loudly.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EngineConfig holds the saga engine timeouts and retry policy.
type EngineConfig struct {
	StepTimeout         time.Duration
	ApprovalTimeout     time.Duration
	AddressTimeout      time.Duration
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	RetryMultiplier     float64
}

// GatewayConfig holds the HTTP front door address.
type GatewayConfig struct {
	Addr string
}

// ObservabilityConfig holds the HTTP address for the metrics endpoint.
type ObservabilityConfig struct {
	Addr string
}

// RedisConfig holds Redis connection and stream settings. URL is optional;
// when empty the Redis event sink is disabled.
type RedisConfig struct {
	URL                string
	Stream             string
	DialTimeout        *time.Duration
	ReadTimeout        *time.Duration
	WriteTimeout       *time.Duration
	PoolSize           *int
	MinIdleConns       *int
	MaxRetries         *int
	HealthcheckTimeout time.Duration
	StatusTTL          time.Duration
	StreamMaxLen       int64
	EnableOTel         bool
	TLSConfig          *tls.Config
}

// FaultsConfig controls the simulated-downstream fault injector.
type FaultsConfig struct {
	Enabled    bool
	ErrRatio   float64
	StallRatio float64
	StallFor   time.Duration
	Seed       int64
}

// JournalConfig holds the saga journal path. Empty disables journaling.
type JournalConfig struct {
	Path string
}

// LoadEngine reads saga engine settings from env.
func LoadEngine() (EngineConfig, error) {
	cfg := EngineConfig{}
	var err error

	if cfg.StepTimeout, err = durationOr("SAGA_STEP_TIMEOUT", 30*time.Second); err != nil {
		return cfg, err
	}
	if cfg.ApprovalTimeout, err = durationOr("SAGA_APPROVAL_TIMEOUT", 10*time.Second); err != nil {
		return cfg, err
	}
	if cfg.AddressTimeout, err = durationOr("SAGA_ADDRESS_TIMEOUT", 10*time.Second); err != nil {
		return cfg, err
	}
	if cfg.RetryMaxAttempts, err = intOr("SAGA_RETRY_MAX_ATTEMPTS", 5); err != nil {
		return cfg, err
	}
	if cfg.RetryInitialBackoff, err = durationOr("SAGA_RETRY_INITIAL_BACKOFF", time.Second); err != nil {
		return cfg, err
	}
	if cfg.RetryMaxBackoff, err = durationOr("SAGA_RETRY_MAX_BACKOFF", 10*time.Second); err != nil {
		return cfg, err
	}
	if cfg.RetryMultiplier, err = floatOr("SAGA_RETRY_MULTIPLIER", 2.0); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadGateway reads the HTTP front door address from env.
func LoadGateway() (GatewayConfig, error) {
	addr, err := stringOr("GATEWAY_ADDR", ":8080")
	if err != nil {
		return GatewayConfig{}, err
	}
	return GatewayConfig{Addr: addr}, nil
}

// LoadObservability reads the metrics HTTP server address from env.
func LoadObservability() (ObservabilityConfig, error) {
	addr, err := stringOr("OBS_ADDR", ":9090")
	if err != nil {
		return ObservabilityConfig{}, err
	}
	return ObservabilityConfig{Addr: addr}, nil
}

// LoadRedis reads Redis config from env.
func LoadRedis() (RedisConfig, error) {
	cfg := RedisConfig{
		URL:    strings.TrimSpace(os.Getenv("REDIS_URL")),
		Stream: strings.TrimSpace(os.Getenv("REDIS_STREAM")),
	}
	if cfg.URL == "" {
		return cfg, nil
	}

	var err error
	if cfg.DialTimeout, err = optionalDuration("REDIS_DIAL_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.ReadTimeout, err = optionalDuration("REDIS_READ_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.WriteTimeout, err = optionalDuration("REDIS_WRITE_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.PoolSize, err = optionalInt("REDIS_POOL_SIZE"); err != nil {
		return cfg, err
	}
	if cfg.MinIdleConns, err = optionalInt("REDIS_MIN_IDLE_CONNS"); err != nil {
		return cfg, err
	}
	if cfg.MaxRetries, err = optionalInt("REDIS_MAX_RETRIES"); err != nil {
		return cfg, err
	}
	if cfg.HealthcheckTimeout, err = durationOr("REDIS_HEALTHCHECK_TIMEOUT", 5*time.Second); err != nil {
		return cfg, err
	}
	if cfg.StatusTTL, err = durationOr("REDIS_STATUS_TTL", time.Hour); err != nil {
		return cfg, err
	}
	if cfg.StreamMaxLen, err = int64Or("REDIS_STREAM_MAXLEN", 10000); err != nil {
		return cfg, err
	}
	if cfg.EnableOTel, err = optionalBool("REDIS_OTEL"); err != nil {
		return cfg, err
	}
	if cfg.TLSConfig, err = loadRedisTLSFromEnv(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// LoadFaults reads the fault injector settings from env.
func LoadFaults() (FaultsConfig, error) {
	cfg := FaultsConfig{}
	var err error

	if cfg.Enabled, err = optionalBool("FAULTS_ENABLED"); err != nil {
		return cfg, err
	}
	if !cfg.Enabled {
		return cfg, nil
	}
	if cfg.ErrRatio, err = floatOr("FAULTS_ERR_RATIO", 0.33); err != nil {
		return cfg, err
	}
	if cfg.StallRatio, err = floatOr("FAULTS_STALL_RATIO", 0.33); err != nil {
		return cfg, err
	}
	if cfg.ErrRatio+cfg.StallRatio > 1 {
		return cfg, errors.New("FAULTS_ERR_RATIO + FAULTS_STALL_RATIO must be <= 1")
	}
	if cfg.StallFor, err = durationOr("FAULTS_STALL_FOR", 300*time.Second); err != nil {
		return cfg, err
	}
	seed, err := optionalInt("FAULTS_SEED")
	if err != nil {
		return cfg, err
	}
	if seed != nil {
		cfg.Seed = int64(*seed)
	} else {
		cfg.Seed = time.Now().UnixNano()
	}
	return cfg, nil
}

// LoadJournal reads the saga journal path from env.
func LoadJournal() JournalConfig {
	return JournalConfig{Path: strings.TrimSpace(os.Getenv("SAGA_JOURNAL_PATH"))}
}

func loadRedisTLSFromEnv() (*tls.Config, error) {
	caFile := strings.TrimSpace(os.Getenv("REDIS_TLS_CA_FILE"))
	certFile := strings.TrimSpace(os.Getenv("REDIS_TLS_CERT_FILE"))
	keyFile := strings.TrimSpace(os.Getenv("REDIS_TLS_KEY_FILE"))
	serverName := strings.TrimSpace(os.Getenv("REDIS_TLS_SERVER_NAME"))
	insecureStr := strings.TrimSpace(os.Getenv("REDIS_TLS_INSECURE_SKIP_VERIFY"))

	if caFile == "" && certFile == "" && keyFile == "" && serverName == "" && insecureStr == "" {
		return nil, nil
	}
	if (certFile == "") != (keyFile == "") {
		return nil, errors.New("REDIS_TLS_CERT_FILE and REDIS_TLS_KEY_FILE must be set together")
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: serverName,
	}

	if insecureStr != "" {
		insecure, err := strconv.ParseBool(insecureStr)
		if err != nil {
			return nil, fmt.Errorf("REDIS_TLS_INSECURE_SKIP_VERIFY: %w", err)
		}
		tlsConfig.InsecureSkipVerify = insecure
	}

	if caFile != "" {
		pemData, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read REDIS_TLS_CA_FILE: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, errors.New("REDIS_TLS_CA_FILE contains no valid certificates")
		}
		tlsConfig.RootCAs = pool
	}

	if certFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("load redis TLS keypair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

func stringOr(name, fallback string) (string, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	return raw, nil
}

func durationOr(name string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("%s must be >= 0", name)
	}
	return val, nil
}

func intOr(name string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("%s must be >= 0", name)
	}
	return val, nil
}

func int64Or(name string, fallback int64) (int64, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("%s must be >= 0", name)
	}
	return val, nil
}

func floatOr(name string, fallback float64) (float64, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("%s must be >= 0", name)
	}
	return val, nil
}

func optionalDuration(name string) (*time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return nil, fmt.Errorf("%s must be >= 0", name)
	}
	return &val, nil
}

func optionalInt(name string) (*int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return nil, fmt.Errorf("%s must be >= 0", name)
	}
	return &val, nil
}

func optionalBool(name string) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, nil
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", name, err)
	}
	return val, nil
}
