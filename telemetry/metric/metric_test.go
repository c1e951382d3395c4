//
// Tencent is pleased to support the open source community by making trpc-interrupt-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-interrupt-go is licensed under the Apache License Version 2.0.
//
//

package metric

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// TestMetricsEndpoint validates metrics endpoint precedence rules.
func TestMetricsEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "custom-metric:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "generic-endpoint:4317")
	require.Equal(t, "custom-metric:4317", metricsEndpoint("grpc"))

	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "")
	require.Equal(t, "generic-endpoint:4317", metricsEndpoint("grpc"))

	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	require.Equal(t, "localhost:4317", metricsEndpoint("grpc"))
	require.Equal(t, "localhost:4318", metricsEndpoint("http"))
}

// TestStartAndClean exercises the happy-path of Start and returned cleanup.
func TestStartAndClean(t *testing.T) {
	old := Meter
	defer func() { Meter = old }()

	clean, err := Start(context.Background(),
		WithEndpoint("localhost:4317"),
		WithServiceName("interruptd-test"),
		WithServiceVersion("test"),
	)
	require.NoError(t, err)
	require.NotNil(t, clean)
	_ = clean() // No collector runs in tests.
}

func TestStartHTTP(t *testing.T) {
	old := Meter
	defer func() { Meter = old }()

	clean, err := Start(context.Background(), WithProtocol("http"), WithEndpoint("localhost:4318"))
	require.NoError(t, err)
	_ = clean()
}

func TestRecorders(t *testing.T) {
	old := Meter
	defer func() { Meter = old }()

	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	Meter = sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")

	RecordRegistered(ctx, "ABORT_ALL")
	RecordGateBlocked(ctx, "PAUSE_ALL")
	RecordMonitorForced(ctx, "EXPIRE_ALL", "PROCESSED_SUCCESSFULLY")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	names := map[string]bool{}
	for _, m := range rm.ScopeMetrics[0].Metrics {
		names[m.Name] = true
	}
	require.Equal(t, map[string]bool{
		"interrupt.registered":     true,
		"interrupt.gate.blocked":   true,
		"interrupt.monitor.forced": true,
	}, names)
}
