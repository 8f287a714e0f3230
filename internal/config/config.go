// Package config loads process configuration from the environment, with an
// optional .env file for local runs.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	DatabaseURL string
	RedisURL    string
	AMQPURL     string
	HTTPAddr    string

	TrackingBaseURL string
	JobTriggerToken string
	StaffAPIKey     string

	CredentialsKey     string
	CredentialsKeyFile string

	DispatchBatchSize     int
	DispatchInterval      time.Duration
	ReconcileInterval     time.Duration
	MaxConcurrentSessions int
	SendRatePerSecond     float64
	IMAPTimeout           time.Duration
	ReplyLookback         time.Duration
	ReportCacheTTL        time.Duration

	LogJSON  bool
	LogDebug bool
}

var defaults = map[string]any{
	"HTTP_ADDR":               ":8080",
	"TRACKING_BASE_URL":       "http://localhost:8080",
	"DISPATCH_BATCH_SIZE":     "50",
	"DISPATCH_INTERVAL":       "5m",
	"RECONCILE_INTERVAL":      "15m",
	"MAX_CONCURRENT_SESSIONS": "4",
	"SEND_RATE_PER_SECOND":    "1",
	"IMAP_TIMEOUT":            "30s",
	"REPLY_LOOKBACK":          "168h",
	"REPORT_CACHE_TTL":        "60s",
	"LOG_JSON":                "false",
	"LOG_DEBUG":               "false",
}

// Load reads .env files (if any) into the environment and then resolves
// every key through viper. It reports the first malformed value.
func Load(envFiles ...string) (*Config, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load(envFiles...)

	v := viper.New()
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	return FromViper(v)
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	p := parser{v: v}
	cfg := &Config{
		DatabaseURL:        v.GetString("DATABASE_URL"),
		RedisURL:           v.GetString("REDIS_URL"),
		AMQPURL:            v.GetString("AMQP_URL"),
		HTTPAddr:           v.GetString("HTTP_ADDR"),
		TrackingBaseURL:    strings.TrimRight(v.GetString("TRACKING_BASE_URL"), "/"),
		JobTriggerToken:    v.GetString("JOB_TRIGGER_TOKEN"),
		StaffAPIKey:        v.GetString("STAFF_API_KEY"),
		CredentialsKey:     v.GetString("CREDENTIALS_KEY"),
		CredentialsKeyFile: v.GetString("CREDENTIALS_KEY_FILE"),

		DispatchBatchSize:     p.int("DISPATCH_BATCH_SIZE"),
		DispatchInterval:      p.duration("DISPATCH_INTERVAL"),
		ReconcileInterval:     p.duration("RECONCILE_INTERVAL"),
		MaxConcurrentSessions: p.int("MAX_CONCURRENT_SESSIONS"),
		SendRatePerSecond:     p.float("SEND_RATE_PER_SECOND"),
		IMAPTimeout:           p.duration("IMAP_TIMEOUT"),
		ReplyLookback:         p.duration("REPLY_LOOKBACK"),
		ReportCacheTTL:        p.duration("REPORT_CACHE_TTL"),

		LogJSON:  p.bool("LOG_JSON"),
		LogDebug: p.bool("LOG_DEBUG"),
	}
	if p.err != nil {
		return nil, p.err
	}
	if cfg.DispatchBatchSize <= 0 {
		return nil, fmt.Errorf("DISPATCH_BATCH_SIZE must be positive")
	}
	if cfg.MaxConcurrentSessions <= 0 {
		return nil, fmt.Errorf("MAX_CONCURRENT_SESSIONS must be positive")
	}
	return cfg, nil
}

// parser keeps the first conversion error so Load can report one key.
type parser struct {
	v   *viper.Viper
	err error
}

func (p *parser) fail(key string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("config %s: %w", key, err)
	}
}

func (p *parser) raw(key string) string {
	return strings.TrimSpace(p.v.GetString(key))
}

func (p *parser) int(key string) int {
	n, err := strconv.Atoi(p.raw(key))
	if err != nil {
		p.fail(key, err)
	}
	return n
}

func (p *parser) float(key string) float64 {
	f, err := strconv.ParseFloat(p.raw(key), 64)
	if err != nil {
		p.fail(key, err)
	}
	return f
}

func (p *parser) bool(key string) bool {
	b, err := strconv.ParseBool(p.raw(key))
	if err != nil {
		p.fail(key, err)
	}
	return b
}

func (p *parser) duration(key string) time.Duration {
	d, err := time.ParseDuration(p.raw(key))
	if err != nil {
		p.fail(key, err)
	}
	return d
}
