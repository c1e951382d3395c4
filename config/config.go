//
// Tencent is pleased to support the open source community by making trpc-interrupt-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-interrupt-go is licensed under the Apache License Version 2.0.
//
//

// Package config loads the interruptd daemon configuration from YAML with
// INTERRUPTD_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"trpc.group/trpc-go/trpc-interrupt-go/log"
	"trpc.group/trpc-go/trpc-interrupt-go/telemetry/trace"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "INTERRUPTD_"

// Config is the daemon configuration.
type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`
	LogLevel string `yaml:"log_level"`

	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Lock      LockConfig      `yaml:"lock"`
	Handler   HandlerConfig   `yaml:"handler"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Waiter    WaiterConfig    `yaml:"waiter"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// PostgresConfig selects the Postgres stores. An empty DSN keeps everything
// in memory.
type PostgresConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	EnsureSchema bool   `yaml:"ensure_schema"`
}

// RedisConfig selects the Redis lock and rendezvous bridge. An empty URL
// keeps both in process.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// LockConfig bounds plan lock acquisition.
type LockConfig struct {
	Wait time.Duration `yaml:"wait"`
	Hold time.Duration `yaml:"hold"`
}

// HandlerConfig bounds how long handlers wait for the runtime.
type HandlerConfig struct {
	NodeCallbackTimeout time.Duration `yaml:"node_callback_timeout"`
	CompletionTimeout   time.Duration `yaml:"completion_timeout"`
}

// MonitorConfig tunes the stuck interrupt sweeper.
type MonitorConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Interval   time.Duration `yaml:"interval"`
	Staleness  time.Duration `yaml:"staleness"`
	ItemBudget time.Duration `yaml:"item_budget"`
	Workers    int           `yaml:"workers"`
}

// WaiterConfig tunes the rendezvous registry.
type WaiterConfig struct {
	ResponseTTL time.Duration `yaml:"response_ttl"`
	PoolSize    int           `yaml:"pool_size"`
}

// TelemetryConfig enables OTLP export. Empty endpoints disable it.
type TelemetryConfig struct {
	TraceEndpoint    string            `yaml:"trace_endpoint"`
	TraceEndpointURL string            `yaml:"trace_endpoint_url"`
	TraceProtocol    string            `yaml:"trace_protocol"`
	TraceHeaders     map[string]string `yaml:"trace_headers"`
	TraceSampleRatio float64           `yaml:"trace_sample_ratio"`
	MetricEndpoint   string            `yaml:"metric_endpoint"`
	MetricProtocol   string            `yaml:"metric_protocol"`
}

// TracingEnabled reports whether a trace collector is configured.
func (t TelemetryConfig) TracingEnabled() bool {
	return t.TraceEndpoint != "" || t.TraceEndpointURL != ""
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTPAddr: ":8080",
		GRPCAddr: ":9090",
		LogLevel: log.LevelInfo,
		Lock: LockConfig{
			Wait: 5 * time.Second,
			Hold: 30 * time.Second,
		},
		Handler: HandlerConfig{
			NodeCallbackTimeout: 5 * time.Minute,
			CompletionTimeout:   10 * time.Minute,
		},
		Monitor: MonitorConfig{
			Enabled:    true,
			Interval:   time.Minute,
			Staleness:  10 * time.Minute,
			ItemBudget: 30 * time.Second,
			Workers:    8,
		},
		Waiter: WaiterConfig{
			ResponseTTL: time.Hour,
			PoolSize:    16,
		},
		Telemetry: TelemetryConfig{TraceProtocol: "grpc", TraceSampleRatio: 1, MetricProtocol: "grpc"},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs error
	if c.HTTPAddr == "" && c.GRPCAddr == "" {
		errs = multierr.Append(errs, errors.New("at least one of http_addr and grpc_addr is required"))
	}
	positive := map[string]time.Duration{
		"lock.wait":                     c.Lock.Wait,
		"lock.hold":                     c.Lock.Hold,
		"handler.node_callback_timeout": c.Handler.NodeCallbackTimeout,
		"handler.completion_timeout":    c.Handler.CompletionTimeout,
		"waiter.response_ttl":           c.Waiter.ResponseTTL,
	}
	if c.Monitor.Enabled {
		positive["monitor.interval"] = c.Monitor.Interval
		positive["monitor.staleness"] = c.Monitor.Staleness
		positive["monitor.item_budget"] = c.Monitor.ItemBudget
	}
	for _, name := range sortedKeys(positive) {
		if positive[name] <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.Lock.Hold > 0 && c.Lock.Hold < c.Lock.Wait {
		errs = multierr.Append(errs, errors.New("lock.hold must not be shorter than lock.wait"))
	}
	if c.Monitor.Enabled && c.Monitor.Workers <= 0 {
		errs = multierr.Append(errs, errors.New("monitor.workers must be positive"))
	}
	if c.Waiter.PoolSize <= 0 {
		errs = multierr.Append(errs, errors.New("waiter.pool_size must be positive"))
	}
	protocols := map[string]string{
		"telemetry.trace_protocol":  c.Telemetry.TraceProtocol,
		"telemetry.metric_protocol": c.Telemetry.MetricProtocol,
	}
	for _, name := range []string{"telemetry.trace_protocol", "telemetry.metric_protocol"} {
		switch protocols[name] {
		case "", "grpc", "http":
		default:
			errs = multierr.Append(errs, fmt.Errorf("%s %q is not grpc or http", name, protocols[name]))
		}
	}
	if r := c.Telemetry.TraceSampleRatio; r < 0 || r > 1 {
		errs = multierr.Append(errs, fmt.Errorf("telemetry.trace_sample_ratio %v is outside [0, 1]", r))
	}
	switch c.LogLevel {
	case log.LevelDebug, log.LevelInfo, log.LevelWarn, log.LevelError, log.LevelFatal:
	default:
		errs = multierr.Append(errs, fmt.Errorf("log_level %q is unknown", c.LogLevel))
	}
	return errs
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	var errs error
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("parse %s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = d
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("parse %s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	ratio := func(key string, dst *float64) {
		if v, ok := lookup(EnvPrefix + key); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("parse %s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = f
		}
	}
	headers := func(key string, dst *map[string]string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			h, err := trace.ParseHeaders(v)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("parse %s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = h
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(EnvPrefix + key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("parse %s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}

	str("HTTP_ADDR", &c.HTTPAddr)
	str("GRPC_ADDR", &c.GRPCAddr)
	str("LOG_LEVEL", &c.LogLevel)
	str("POSTGRES_DSN", &c.Postgres.DSN)
	num("POSTGRES_MAX_OPEN_CONNS", &c.Postgres.MaxOpenConns)
	flag("POSTGRES_ENSURE_SCHEMA", &c.Postgres.EnsureSchema)
	str("REDIS_URL", &c.Redis.URL)
	dur("LOCK_WAIT", &c.Lock.Wait)
	dur("LOCK_HOLD", &c.Lock.Hold)
	dur("NODE_CALLBACK_TIMEOUT", &c.Handler.NodeCallbackTimeout)
	dur("COMPLETION_TIMEOUT", &c.Handler.CompletionTimeout)
	flag("MONITOR_ENABLED", &c.Monitor.Enabled)
	dur("MONITOR_INTERVAL", &c.Monitor.Interval)
	dur("MONITOR_STALENESS", &c.Monitor.Staleness)
	dur("MONITOR_ITEM_BUDGET", &c.Monitor.ItemBudget)
	num("MONITOR_WORKERS", &c.Monitor.Workers)
	dur("WAITER_RESPONSE_TTL", &c.Waiter.ResponseTTL)
	num("WAITER_POOL_SIZE", &c.Waiter.PoolSize)
	str("TRACE_ENDPOINT", &c.Telemetry.TraceEndpoint)
	str("TRACE_ENDPOINT_URL", &c.Telemetry.TraceEndpointURL)
	str("TRACE_PROTOCOL", &c.Telemetry.TraceProtocol)
	headers("TRACE_HEADERS", &c.Telemetry.TraceHeaders)
	ratio("TRACE_SAMPLE_RATIO", &c.Telemetry.TraceSampleRatio)
	str("METRIC_ENDPOINT", &c.Telemetry.MetricEndpoint)
	str("METRIC_PROTOCOL", &c.Telemetry.MetricProtocol)
	return errs
}

func sortedKeys(m map[string]time.Duration) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
