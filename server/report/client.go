//
// Tencent is pleased to support the open source community by making trpc-interrupt-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-interrupt-go is licensed under the Apache License Version 2.0.
//
//

package report

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client is the worker side of the report service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an existing connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Dial connects to the report service at target without transport security.
// The caller closes the returned connection.
func Dial(target string, opts ...grpc.DialOption) (*Client, *grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, nil, err
	}
	return NewClient(conn), conn, nil
}

// ReportAbort tells the engine that aborted work stopped.
func (c *Client) ReportAbort(ctx context.Context, correlationID string) error {
	return c.invoke(ctx, MethodReportAbort, &Request{CorrelationID: correlationID})
}

// ReportFailure tells the engine that work stopped with reason.
func (c *Client) ReportFailure(ctx context.Context, correlationID, reason string) error {
	return c.invoke(ctx, MethodReportFailure, &Request{CorrelationID: correlationID, Reason: reason})
}

// ReportExpire tells the engine that expired work stopped.
func (c *Client) ReportExpire(ctx context.Context, correlationID string) error {
	return c.invoke(ctx, MethodReportExpire, &Request{CorrelationID: correlationID})
}

func (c *Client) invoke(ctx context.Context, method string, req *Request) error {
	return c.cc.Invoke(ctx, fullMethod(method), req, new(Reply), grpc.CallContentSubtype(codecName))
}
