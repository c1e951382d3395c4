//
// Tencent is pleased to support the open source community by making trpc-interrupt-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-interrupt-go is licensed under the Apache License Version 2.0.
//
//

package interrupt

import "time"

const (
	defaultNodeCallbackTimeout = 5 * time.Minute
	defaultCompletionTimeout   = 10 * time.Minute

	defaultLockWait = 15 * time.Second
	defaultLockHold = time.Minute

	defaultMonitorInterval   = 3 * time.Minute
	defaultMonitorStaleness  = 10 * time.Minute
	defaultMonitorItemBudget = 30 * time.Second
	defaultMonitorWorkers    = 8

	planLockPrefix    = "PLAN_LOCK_"
	monitorLockPrefix = "INTERRUPT_MONITOR_LOCK_"
)

// ServiceOption configures a Service.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	nodeCallbackTimeout time.Duration
	completionTimeout   time.Duration
	now                 func() time.Time
}

// WithNodeCallbackTimeout bounds how long a discontinued node waits for the
// runtime to report back before it is finalized anyway.
func WithNodeCallbackTimeout(d time.Duration) ServiceOption {
	return func(o *serviceOptions) {
		if d > 0 {
			o.nodeCallbackTimeout = d
		}
	}
}

// WithCompletionTimeout bounds how long an interrupt waits for all of its
// nodes.
func WithCompletionTimeout(d time.Duration) ServiceOption {
	return func(o *serviceOptions) {
		if d > 0 {
			o.completionTimeout = d
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) ServiceOption {
	return func(o *serviceOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// ManagerOption configures a Manager.
type ManagerOption func(*managerOptions)

type managerOptions struct {
	lockWait time.Duration
	lockHold time.Duration
}

// WithLockWait sets how long Register waits for the plan lock.
func WithLockWait(d time.Duration) ManagerOption {
	return func(o *managerOptions) {
		if d >= 0 {
			o.lockWait = d
		}
	}
}

// WithLockHold sets how long the plan lock is held at most.
func WithLockHold(d time.Duration) ManagerOption {
	return func(o *managerOptions) {
		if d > 0 {
			o.lockHold = d
		}
	}
}

// MonitorOption configures a Monitor.
type MonitorOption func(*monitorOptions)

type monitorOptions struct {
	interval   time.Duration
	staleness  time.Duration
	itemBudget time.Duration
	workers    int
	now        func() time.Time
}

// WithInterval sets the time between passes.
func WithInterval(d time.Duration) MonitorOption {
	return func(o *monitorOptions) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithStaleness sets how long an interrupt may stay PROCESSING before the
// monitor takes over.
func WithStaleness(d time.Duration) MonitorOption {
	return func(o *monitorOptions) {
		if d >= 0 {
			o.staleness = d
		}
	}
}

// WithItemBudget bounds the work spent on one interrupt.
func WithItemBudget(d time.Duration) MonitorOption {
	return func(o *monitorOptions) {
		if d > 0 {
			o.itemBudget = d
		}
	}
}

// WithWorkers sets the size of the monitor worker pool.
func WithWorkers(n int) MonitorOption {
	return func(o *monitorOptions) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithMonitorClock sets the time source used for staleness.
func WithMonitorClock(now func() time.Time) MonitorOption {
	return func(o *monitorOptions) {
		if now != nil {
			o.now = now
		}
	}
}
