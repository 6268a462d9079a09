// Package config loads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	TransportHTTP = "http"
	TransportGRPC = "grpc"
)

// DefaultSessionSecret signs session tokens when SESSION_SECRET is unset.
// It is public, so tokens signed with it can be forged.
const DefaultSessionSecret = "dev-secret"

// Config holds every tunable of the service.
type Config struct {
	HTTPAddr string

	ClassifierURL        string
	ClassifierTransport  string
	ClassifierGRPCAddr   string
	ClassifierImageField string
	ClassifierTimeout    time.Duration
	ConfidencePrecision  int

	ProfileCollectionURL     string
	ProfileCollectionTimeout time.Duration

	MaxImageBytes int

	RedisAddr         string
	SessionTTL        time.Duration
	StorageQuotaBytes int
	SessionSecret     string
	SessionCacheSize  int

	DatabaseDSN string

	LogFile         string
	LogLevel        string
	ShutdownTimeout time.Duration
}

// Load reads files (default ".env") into the environment without overriding
// variables already set, then builds a Config. Missing files are ignored.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment.
func FromEnv() (*Config, error) {
	p := &parser{}
	cfg := &Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),

		ClassifierURL:        os.Getenv("CLASSIFIER_URL"),
		ClassifierTransport:  strings.ToLower(getEnv("CLASSIFIER_TRANSPORT", TransportHTTP)),
		ClassifierGRPCAddr:   os.Getenv("CLASSIFIER_GRPC_ADDR"),
		ClassifierImageField: getEnv("CLASSIFIER_IMAGE_FIELD", "Image"),
		ClassifierTimeout:    p.duration("CLASSIFIER_TIMEOUT", 30*time.Second),
		ConfidencePrecision:  p.integer("CONFIDENCE_PRECISION", 2),

		ProfileCollectionURL:     os.Getenv("PROFILE_COLLECTION_URL"),
		ProfileCollectionTimeout: p.duration("PROFILE_COLLECTION_TIMEOUT", 10*time.Second),

		MaxImageBytes: p.integer("MAX_IMAGE_BYTES", 10<<20),

		RedisAddr:         os.Getenv("REDIS_ADDR"),
		SessionTTL:        p.duration("SESSION_TTL", 24*time.Hour),
		StorageQuotaBytes: p.integer("STORAGE_QUOTA_BYTES", 5<<20),
		SessionSecret:     getEnv("SESSION_SECRET", DefaultSessionSecret),
		SessionCacheSize:  p.integer("SESSION_CACHE_SIZE", 1024),

		DatabaseDSN: os.Getenv("DATABASE_DSN"),

		LogFile:         os.Getenv("LOG_FILE"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		ShutdownTimeout: p.duration("SHUTDOWN_TIMEOUT", 15*time.Second),
	}
	if p.err != nil {
		return nil, p.err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// InsecureSessionSecret reports whether tokens are signed with the public
// default secret.
func (c *Config) InsecureSessionSecret() bool {
	return c.SessionSecret == DefaultSessionSecret
}

func (c *Config) validate() error {
	switch c.ClassifierTransport {
	case TransportHTTP:
	case TransportGRPC:
		if c.ClassifierGRPCAddr == "" {
			return errors.New("CLASSIFIER_GRPC_ADDR is required for the grpc transport")
		}
	default:
		return fmt.Errorf("unknown CLASSIFIER_TRANSPORT %q", c.ClassifierTransport)
	}
	if c.MaxImageBytes <= 0 {
		return errors.New("MAX_IMAGE_BYTES must be positive")
	}
	if c.ConfidencePrecision < 0 {
		return errors.New("CONFIDENCE_PRECISION must not be negative")
	}
	return nil
}

type parser struct {
	err error
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return d
}

func (p *parser) integer(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return n
}

func (p *parser) fail(key string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
