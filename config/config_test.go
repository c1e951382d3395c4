//
// Tencent is pleased to support the open source community by making trpc-interrupt-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-interrupt-go is licensed under the Apache License Version 2.0.
//
//

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "interruptd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http_addr: ":18080"
log_level: debug
postgres:
  dsn: postgres://u:p@localhost:5432/interrupts
  ensure_schema: true
lock:
  wait: 2s
monitor:
  interval: 30s
  workers: 4
`), 0o600))

	t.Setenv("INTERRUPTD_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("INTERRUPTD_MONITOR_WORKERS", "2")
	t.Setenv("INTERRUPTD_LOCK_HOLD", "45s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":18080", cfg.HTTPAddr)
	assert.Equal(t, ":9090", cfg.GRPCAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "postgres://u:p@localhost:5432/interrupts", cfg.Postgres.DSN)
	assert.True(t, cfg.Postgres.EnsureSchema)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, 2*time.Second, cfg.Lock.Wait)
	assert.Equal(t, 45*time.Second, cfg.Lock.Hold)
	assert.Equal(t, 30*time.Second, cfg.Monitor.Interval)
	assert.Equal(t, 10*time.Minute, cfg.Monitor.Staleness)
	assert.Equal(t, 2, cfg.Monitor.Workers)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("lock: ["), 0o600))
	_, err = Load(bad)
	require.ErrorContains(t, err, "parse config")

	t.Setenv("INTERRUPTD_LOCK_WAIT", "soon")
	_, err = Load("")
	require.ErrorContains(t, err, "INTERRUPTD_LOCK_WAIT")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.HTTPAddr, cfg.GRPCAddr = "", ""
	cfg.Lock.Hold = time.Second
	cfg.Monitor.Workers = 0
	cfg.Telemetry.TraceProtocol = "udp"
	cfg.Telemetry.MetricProtocol = "smoke"
	cfg.Telemetry.TraceSampleRatio = 1.5
	cfg.LogLevel = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"http_addr", "lock.hold", "monitor.workers", "trace_protocol",
		"trace_sample_ratio", "metric_protocol", "log_level"} {
		assert.ErrorContains(t, err, want)
	}

	cfg = Default()
	cfg.Monitor.Enabled = false
	cfg.Monitor.Interval = 0
	cfg.Monitor.Workers = 0
	require.NoError(t, cfg.Validate())
}

func TestApplyEnv_Lookup(t *testing.T) {
	env := map[string]string{
		"INTERRUPTD_MONITOR_ENABLED":    "false",
		"INTERRUPTD_WAITER_POOL_SIZE":   "4",
		"INTERRUPTD_TRACE_PROTOCOL":     "http",
		"INTERRUPTD_COMPLETION_TIMEOUT": "1m",
		"INTERRUPTD_TRACE_ENDPOINT_URL": "https://collector:4318/otel",
		"INTERRUPTD_TRACE_HEADERS":      "authorization=Bearer t0k",
		"INTERRUPTD_TRACE_SAMPLE_RATIO": "0.25",
	}
	cfg := Default()
	require.NoError(t, cfg.applyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))
	assert.False(t, cfg.Monitor.Enabled)
	assert.Equal(t, 4, cfg.Waiter.PoolSize)
	assert.Equal(t, "http", cfg.Telemetry.TraceProtocol)
	assert.Equal(t, time.Minute, cfg.Handler.CompletionTimeout)
	assert.True(t, cfg.Telemetry.TracingEnabled())
	assert.Equal(t, map[string]string{"authorization": "Bearer t0k"}, cfg.Telemetry.TraceHeaders)
	assert.Equal(t, 0.25, cfg.Telemetry.TraceSampleRatio)

	err := cfg.applyEnv(func(k string) (string, bool) {
		if k == "INTERRUPTD_MONITOR_WORKERS" {
			return "many", true
		}
		return "", false
	})
	require.ErrorContains(t, err, "INTERRUPTD_MONITOR_WORKERS")

	err = cfg.applyEnv(func(k string) (string, bool) {
		if k == "INTERRUPTD_TRACE_HEADERS" {
			return "no-separator", true
		}
		return "", false
	})
	require.ErrorContains(t, err, "INTERRUPTD_TRACE_HEADERS")
}
