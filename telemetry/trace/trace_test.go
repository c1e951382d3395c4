//
// Tencent is pleased to support the open source community by making trpc-interrupt-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-interrupt-go is licensed under the Apache License Version 2.0.
//
//

package trace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	itelemetry "trpc.group/trpc-go/trpc-interrupt-go/internal/telemetry"
)

func TestTracesEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", "custom-trace:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "generic-endpoint:4317")
	require.Equal(t, "custom-trace:4317", tracesEndpoint(itelemetry.ProtocolGRPC))

	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", "")
	require.Equal(t, "generic-endpoint:4317", tracesEndpoint(itelemetry.ProtocolGRPC))

	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	require.Equal(t, "localhost:4317", tracesEndpoint(itelemetry.ProtocolGRPC))
	require.Equal(t, "localhost:4318", tracesEndpoint(itelemetry.ProtocolHTTP))
}

func TestParseEndpointURL(t *testing.T) {
	endpoint, path, err := parseEndpointURL("collector:3000/api/otel")
	require.NoError(t, err)
	require.Equal(t, "collector:3000", endpoint)
	require.Equal(t, "/api/otel", path)

	endpoint, path, err = parseEndpointURL("https://collector:4318")
	require.NoError(t, err)
	require.Equal(t, "collector:4318", endpoint)
	require.Equal(t, "/", path)

	_, _, err = parseEndpointURL("http://")
	require.Error(t, err)
}

func TestParseHeaders(t *testing.T) {
	headers, err := ParseHeaders("authorization=Basic abc, x-tenant = ops,")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"authorization": "Basic abc", "x-tenant": "ops"}, headers)

	headers, err = ParseHeaders("")
	require.NoError(t, err)
	assert.Empty(t, headers)

	_, err = ParseHeaders("token")
	require.ErrorContains(t, err, "token")
}

func TestStart_ExportsEngineSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	clean, err := Start(context.Background(),
		WithServiceName("interruptd-test"),
		WithSpanExporter(exporter),
	)
	require.NoError(t, err)

	_, span := Tracer.Start(context.Background(), itelemetry.SpanNameRegister)
	span.End()
	provider, ok := TracerProvider.(*sdktrace.TracerProvider)
	require.True(t, ok)
	require.NoError(t, provider.ForceFlush(context.Background()))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, itelemetry.SpanNameRegister, spans[0].Name)
	assert.Contains(t, spans[0].Resource.Attributes(), semconv.ServiceName("interruptd-test"))

	require.NoError(t, clean())
	_, span = Tracer.Start(context.Background(), itelemetry.SpanNameGate)
	assert.False(t, span.IsRecording(), "clean restores the noop tracer")
}

func TestStart_Protocols(t *testing.T) {
	for _, tc := range []struct {
		name string
		opts []Option
	}{
		{"grpc", []Option{WithProtocol(itelemetry.ProtocolGRPC)}},
		{"grpc url", []Option{WithProtocol(itelemetry.ProtocolGRPC), WithEndpointURL("collector:4317")}},
		{"http", []Option{WithProtocol(itelemetry.ProtocolHTTP), WithHeaders(map[string]string{"x-tenant": "ops"})}},
		{"http url", []Option{WithProtocol(itelemetry.ProtocolHTTP), WithEndpointURL("https://collector:4318/otel/v1/traces")}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clean, err := Start(context.Background(), append(tc.opts, WithSampleRatio(0.5))...)
			require.NoError(t, err)
			_ = clean() // No collector runs in tests.
		})
	}

	_, err := Start(context.Background(), WithProtocol(itelemetry.ProtocolHTTP), WithEndpointURL("http://"))
	require.Error(t, err)
}
