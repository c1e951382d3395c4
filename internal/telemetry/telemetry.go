//
// Tencent is pleased to support the open source community by making trpc-interrupt-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-interrupt-go is licensed under the Apache License Version 2.0.
//
//

// Package telemetry holds the names, attributes and helpers shared by the
// tracing and metrics packages and the engine components that emit them.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// telemetry service constants.
const (
	ServiceName      = "interruptd"
	ServiceVersion   = "v0.1.0"
	ServiceNamespace = "trpc-interrupt-go"
	InstrumentName   = "trpc.interrupt.go"

	SpanNameRegister    = "interrupt.register"
	SpanNameGate        = "interrupt.gate"
	SpanNameMonitorItem = "interrupt.monitor.item"

	MetricRegistered    = "interrupt.registered"
	MetricGateBlocked   = "interrupt.gate.blocked"
	MetricMonitorForced = "interrupt.monitor.forced"
)

const (
	// ProtocolGRPC uses gRPC protocol for OTLP exporter.
	ProtocolGRPC string = "grpc"
	// ProtocolHTTP uses HTTP protocol for OTLP exporter.
	ProtocolHTTP string = "http"
)

// telemetry attributes constants.
var (
	KeyInterruptID     = "trpc.interrupt.id"
	KeyInterruptType   = "trpc.interrupt.type"
	KeyInterruptState  = "trpc.interrupt.state"
	KeyPlanExecutionID = "trpc.interrupt.plan_execution_id"
	KeyNodeExecutionID = "trpc.interrupt.node_execution_id"
	KeyProceed         = "trpc.interrupt.proceed"
	KeyReason          = "trpc.interrupt.reason"
)

// TraceInterrupt records an interrupt on span.
func TraceInterrupt(span trace.Span, id, planExecutionID, nodeExecutionID, typ, state string) {
	span.SetAttributes(
		attribute.String(KeyInterruptID, id),
		attribute.String(KeyPlanExecutionID, planExecutionID),
		attribute.String(KeyNodeExecutionID, nodeExecutionID),
		attribute.String(KeyInterruptType, typ),
		attribute.String(KeyInterruptState, state),
	)
}

// TraceGate records a pre invocation decision on span.
func TraceGate(span trace.Span, planExecutionID, nodeExecutionID string, proceed bool, reason string) {
	span.SetAttributes(
		attribute.String(KeyPlanExecutionID, planExecutionID),
		attribute.String(KeyNodeExecutionID, nodeExecutionID),
		attribute.Bool(KeyProceed, proceed),
		attribute.String(KeyReason, reason),
	)
}

// IncCounter adds one to the named counter. Instrument errors are ignored so
// telemetry never fails a caller.
func IncCounter(ctx context.Context, meter metric.Meter, name string, attrs ...attribute.KeyValue) {
	counter, err := meter.Int64Counter(name)
	if err != nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// NewGRPCConn creates a new gRPC connection to the OpenTelemetry Collector.
func NewGRPCConn(endpoint string) (*grpc.ClientConn, error) {
	// Note the use of insecure transport here. TLS is recommended in production.
	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection to collector: %w", err)
	}
	return conn, nil
}
