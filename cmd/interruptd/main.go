//
// Tencent is pleased to support the open source community by making trpc-interrupt-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-interrupt-go is licensed under the Apache License Version 2.0.
//
//

// Package main runs interruptd, a standalone interrupt engine that serves the
// registration, gate and query API over HTTP and accepts termination reports
// over gRPC.
//
// Usage:
//
//	interruptd -config interruptd.yaml
//
// Without a Postgres DSN and a Redis URL every store, the plan lock and the
// rendezvous registry stay in memory, which suits a single replica.
//
// interruptd is reference wiring. It drives nodes with interrupt.NopRuntime,
// which acts on the execution stores only and returns no correlation ids, so
// every handler finishes inline and the gRPC report service never has a wait
// to resolve. An embedder that controls real workers builds the same stack
// with its own interrupt.Runtime: Discontinue returns a correlation id, and
// the worker reports that id through report.Client (ReportAbort, ReportExpire
// or ReportFailure) once the node has stopped.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"google.golang.org/grpc"

	"trpc.group/trpc-go/trpc-interrupt-go/config"
	"trpc.group/trpc-go/trpc-interrupt-go/execution"
	execmem "trpc.group/trpc-go/trpc-interrupt-go/execution/inmemory"
	execpg "trpc.group/trpc-go/trpc-interrupt-go/execution/postgres"
	"trpc.group/trpc-go/trpc-interrupt-go/interrupt"
	"trpc.group/trpc-go/trpc-interrupt-go/interrupt/inmemory"
	interruptpg "trpc.group/trpc-go/trpc-interrupt-go/interrupt/postgres"
	"trpc.group/trpc-go/trpc-interrupt-go/lock"
	lockmem "trpc.group/trpc-go/trpc-interrupt-go/lock/inmemory"
	lockredis "trpc.group/trpc-go/trpc-interrupt-go/lock/redis"
	"trpc.group/trpc-go/trpc-interrupt-go/log"
	"trpc.group/trpc-go/trpc-interrupt-go/server/report"
	"trpc.group/trpc-go/trpc-interrupt-go/server/rest"
	storagepg "trpc.group/trpc-go/trpc-interrupt-go/storage/postgres"
	storageredis "trpc.group/trpc-go/trpc-interrupt-go/storage/redis"
	"trpc.group/trpc-go/trpc-interrupt-go/telemetry/metric"
	"trpc.group/trpc-go/trpc-interrupt-go/telemetry/trace"
	"trpc.group/trpc-go/trpc-interrupt-go/waiter"
	waiterredis "trpc.group/trpc-go/trpc-interrupt-go/waiter/redis"
)

const (
	clientName      = "interruptd"
	shutdownTimeout = 15 * time.Second
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration file")
	logFormat := flag.String("log-format", log.EncodingConsole, "Log encoding: console or json")
	flag.Parse()

	log.Default = log.New(os.Stdout, *logFormat)
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	log.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg); err != nil {
		log.Fatalf("interruptd: %v", err)
	}
}

// closers runs cleanup in reverse registration order.
type closers []func() error

func (c *closers) add(fn func() error) { *c = append(*c, fn) }

func (c closers) close() error {
	var errs error
	for i := len(c) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, c[i]())
	}
	return errs
}

func run(ctx context.Context, cfg config.Config) (err error) {
	var cleanup closers
	defer func() {
		if cerr := cleanup.close(); cerr != nil {
			log.Warnf("cleanup: %v", cerr)
		}
	}()

	if err := startTelemetry(ctx, cfg.Telemetry, &cleanup); err != nil {
		return err
	}

	st, err := openStores(ctx, cfg.Postgres, &cleanup)
	if err != nil {
		return err
	}
	locker, w, err := openCoordination(ctx, cfg, &cleanup)
	if err != nil {
		return err
	}

	// No workers are attached to the reference daemon.
	svc := interrupt.NewService(st.interrupts, st.nodes, st.plans, interrupt.NopRuntime{}, w,
		interrupt.WithNodeCallbackTimeout(cfg.Handler.NodeCallbackTimeout),
		interrupt.WithCompletionTimeout(cfg.Handler.CompletionTimeout),
	)
	mgr := interrupt.NewManager(svc, locker,
		interrupt.WithLockWait(cfg.Lock.Wait),
		interrupt.WithLockHold(cfg.Lock.Hold),
	)

	if cfg.Monitor.Enabled {
		mon, err := interrupt.NewMonitor(svc, locker,
			interrupt.WithInterval(cfg.Monitor.Interval),
			interrupt.WithStaleness(cfg.Monitor.Staleness),
			interrupt.WithItemBudget(cfg.Monitor.ItemBudget),
			interrupt.WithWorkers(cfg.Monitor.Workers),
		)
		if err != nil {
			return err
		}
		mon.Start(ctx)
		cleanup.add(func() error { mon.Stop(); return nil })
	}

	errCh := make(chan error, 2)
	var httpSrv *http.Server
	if cfg.HTTPAddr != "" {
		httpSrv = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           rest.New(mgr, svc).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Infof("REST API listening on %s", cfg.HTTPAddr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}
	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		grpcSrv = grpc.NewServer()
		report.Register(grpcSrv, report.NewService(w))
		go func() {
			log.Infof("termination report service listening on %s", cfg.GRPCAddr)
			if err := grpcSrv.Serve(lis); err != nil {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Infof("shutting down")
	case err = <-errCh:
		log.Errorf("server stopped: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if httpSrv != nil {
		err = multierr.Append(err, httpSrv.Shutdown(shutdownCtx))
	}
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	return err
}

func startTelemetry(ctx context.Context, cfg config.TelemetryConfig, cleanup *closers) error {
	if cfg.TracingEnabled() {
		clean, err := trace.Start(ctx,
			trace.WithEndpoint(cfg.TraceEndpoint),
			trace.WithEndpointURL(cfg.TraceEndpointURL),
			trace.WithProtocol(cfg.TraceProtocol),
			trace.WithHeaders(cfg.TraceHeaders),
			trace.WithSampleRatio(cfg.TraceSampleRatio),
		)
		if err != nil {
			return err
		}
		cleanup.add(clean)
	}
	if cfg.MetricEndpoint != "" {
		clean, err := metric.Start(ctx, metric.WithEndpoint(cfg.MetricEndpoint), metric.WithProtocol(cfg.MetricProtocol))
		if err != nil {
			return err
		}
		cleanup.add(clean)
	}
	return nil
}

type stores struct {
	interrupts interrupt.Store
	nodes      execution.NodeStore
	plans      execution.PlanStore
}

func openStores(ctx context.Context, cfg config.PostgresConfig, cleanup *closers) (stores, error) {
	if cfg.DSN == "" {
		log.Warnf("no postgres dsn configured, interrupts and executions are kept in memory")
		nodes := execmem.NewStore()
		return stores{interrupts: inmemory.NewStore(), nodes: nodes, plans: nodes.Plans()}, nil
	}

	client, err := storagepg.GetClientBuilder()(ctx,
		storagepg.WithClientConnString(cfg.DSN),
		storagepg.WithMaxOpenConns(cfg.MaxOpenConns),
	)
	if err != nil {
		return stores{}, err
	}
	cleanup.add(client.Close)

	interrupts := interruptpg.New(client)
	executions := execpg.New(client)
	if cfg.EnsureSchema {
		if err := interrupts.EnsureSchema(ctx); err != nil {
			return stores{}, err
		}
		if err := executions.EnsureSchema(ctx); err != nil {
			return stores{}, err
		}
	}
	return stores{interrupts: interrupts, nodes: executions, plans: executions.Plans()}, nil
}

func openCoordination(ctx context.Context, cfg config.Config, cleanup *closers) (lock.Locker, waiter.Waiter, error) {
	reg, err := waiter.New(
		waiter.WithResponseTTL(cfg.Waiter.ResponseTTL),
		waiter.WithPoolSize(cfg.Waiter.PoolSize),
	)
	if err != nil {
		return nil, nil, err
	}
	cleanup.add(func() error { reg.Close(); return nil })

	if cfg.Redis.URL == "" {
		return lockmem.New(), reg, nil
	}
	client, err := storageredis.Connect(ctx,
		storageredis.WithClientBuilderURL(cfg.Redis.URL),
		storageredis.WithClientName(clientName),
	)
	if err != nil {
		return nil, nil, err
	}
	cleanup.add(client.Close)

	bridge, err := waiterredis.New(ctx, client, reg, waiterredis.WithResponseTTL(cfg.Waiter.ResponseTTL))
	if err != nil {
		return nil, nil, err
	}
	cleanup.add(bridge.Close)
	return lockredis.New(client), bridge, nil
}
