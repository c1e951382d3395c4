//
// Tencent is pleased to support the open source community by making trpc-interrupt-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-interrupt-go is licensed under the Apache License Version 2.0.
//
//

// Package report is the RPC surface workers use to tell the engine that the
// work behind a correlation id has stopped.
//
// Every report resolves the correlation id in the rendezvous registry, which
// finalizes the interrupt waiting on it.
package report

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"trpc.group/trpc-go/trpc-interrupt-go/log"
	"trpc.group/trpc-go/trpc-interrupt-go/waiter"
)

// ServiceName is the fully qualified RPC service name.
const ServiceName = "trpc.interrupt.report.TerminationReport"

// Method names.
const (
	MethodReportAbort   = "ReportAbort"
	MethodReportFailure = "ReportFailure"
	MethodReportExpire  = "ReportExpire"
)

// Request identifies the stopped work.
type Request struct {
	CorrelationID string `json:"correlation_id"`
	// Reason is set by ReportFailure.
	Reason string `json:"reason,omitempty"`
}

// Reply is empty.
type Reply struct{}

// TerminationReportServer is the server side contract.
type TerminationReportServer interface {
	ReportAbort(ctx context.Context, req *Request) (*Reply, error)
	ReportFailure(ctx context.Context, req *Request) (*Reply, error)
	ReportExpire(ctx context.Context, req *Request) (*Reply, error)
}

// Service resolves reported correlation ids on a waiter.
type Service struct {
	waiter waiter.Waiter
}

// NewService creates a Service.
func NewService(w waiter.Waiter) *Service {
	return &Service{waiter: w}
}

// ReportAbort reports that aborted work has stopped.
func (s *Service) ReportAbort(ctx context.Context, req *Request) (*Reply, error) {
	return s.resolve(ctx, MethodReportAbort, req, waiter.Response{})
}

// ReportFailure reports that work stopped because it failed. Stopped is what
// the waiting interrupt asked for, so the reason travels as payload only.
func (s *Service) ReportFailure(ctx context.Context, req *Request) (*Reply, error) {
	resp := waiter.Response{}
	if req != nil && req.Reason != "" {
		resp.Payload = map[string]any{"reason": req.Reason}
	}
	return s.resolve(ctx, MethodReportFailure, req, resp)
}

// ReportExpire reports that expired work has stopped.
func (s *Service) ReportExpire(ctx context.Context, req *Request) (*Reply, error) {
	return s.resolve(ctx, MethodReportExpire, req, waiter.Response{})
}

func (s *Service) resolve(ctx context.Context, method string, req *Request, resp waiter.Response) (*Reply, error) {
	if req == nil || req.CorrelationID == "" {
		return nil, status.Error(codes.InvalidArgument, "correlation_id is required")
	}
	log.Infof("%s received for %s", method, req.CorrelationID)
	if err := s.waiter.Resolve(ctx, req.CorrelationID, resp); err != nil {
		log.Errorf("%s: resolve %s: %v", method, req.CorrelationID, err)
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &Reply{}, nil
}

// Register attaches srv to a gRPC server.
func Register(s grpc.ServiceRegistrar, srv TerminationReportServer) {
	s.RegisterService(&serviceDesc, srv)
}

func unaryHandler(method string, call func(TerminationReportServer, context.Context, *Request) (*Reply, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Request)
		if err := dec(in); err != nil {
			return nil, err
		}
		impl := srv.(TerminationReportServer)
		if interceptor == nil {
			return call(impl, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(impl, ctx, req.(*Request))
		})
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TerminationReportServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: MethodReportAbort,
			Handler:    unaryHandler(MethodReportAbort, TerminationReportServer.ReportAbort),
		},
		{
			MethodName: MethodReportFailure,
			Handler:    unaryHandler(MethodReportFailure, TerminationReportServer.ReportFailure),
		},
		{
			MethodName: MethodReportExpire,
			Handler:    unaryHandler(MethodReportExpire, TerminationReportServer.ReportExpire),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "report.json",
}

func fullMethod(method string) string {
	return fmt.Sprintf("/%s/%s", ServiceName, method)
}
