//
// Tencent is pleased to support the open source community by making trpc-interrupt-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-interrupt-go is licensed under the Apache License Version 2.0.
//
//

package interrupt

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/multierr"

	itelemetry "trpc.group/trpc-go/trpc-interrupt-go/internal/telemetry"
	"trpc.group/trpc-go/trpc-interrupt-go/lock"
	"trpc.group/trpc-go/trpc-interrupt-go/log"
	"trpc.group/trpc-go/trpc-interrupt-go/telemetry/metric"
	"trpc.group/trpc-go/trpc-interrupt-go/telemetry/trace"
)

// Manager registers interrupts. Registrations for one plan are serialized by
// the plan lock.
type Manager struct {
	svc    *Service
	locker lock.Locker
	opts   managerOptions
}

// NewManager creates a Manager.
func NewManager(svc *Service, locker lock.Locker, opts ...ManagerOption) *Manager {
	o := managerOptions{lockWait: defaultLockWait, lockHold: defaultLockHold}
	for _, opt := range opts {
		opt(&o)
	}
	return &Manager{svc: svc, locker: locker, opts: o}
}

// Register creates an interrupt from pkg and applies its immediate effect.
// ErrLockUnavailable means the plan is busy and the call may be retried; no
// interrupt was created in that case.
func (m *Manager) Register(ctx context.Context, pkg Package) (out Interrupt, err error) {
	ctx, span := trace.Tracer.Start(ctx, itelemetry.SpanNameRegister)
	defer func() {
		itelemetry.TraceInterrupt(span, out.ID, pkg.PlanExecutionID, pkg.NodeExecutionID,
			string(pkg.Type), string(out.State))
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	h, err := m.svc.factory.Handler(pkg.Type)
	if err != nil {
		return Interrupt{}, err
	}
	if err := pkg.Validate(); err != nil {
		return Interrupt{}, err
	}

	name := planLockPrefix + pkg.PlanExecutionID
	l, err := m.locker.Acquire(ctx, name, m.opts.lockWait, m.opts.lockHold)
	if err != nil {
		return Interrupt{}, fmt.Errorf("register %s on plan %s: %w", pkg.Type, pkg.PlanExecutionID, err)
	}
	defer func() {
		if rerr := l.Release(context.WithoutCancel(ctx)); rerr != nil {
			log.Warnf("release %s: %v", name, rerr)
			if err != nil {
				err = multierr.Append(err, rerr)
			}
		}
	}()

	now := m.svc.opts.now()
	cfg := pkg.Config
	if cfg.IssuedBy.Type == "" {
		cfg.IssuedBy.Type = IssuerManual
	}
	if cfg.IssuedBy.IssueTime.IsZero() {
		cfg.IssuedBy.IssueTime = now
	}
	i := Interrupt{
		ID:              uuid.NewString(),
		PlanExecutionID: pkg.PlanExecutionID,
		NodeExecutionID: pkg.NodeExecutionID,
		Type:            pkg.Type,
		State:           StateRegistered,
		Config:          cfg,
		Metadata:        pkg.Metadata,
		CreatedAt:       now,
		LastUpdatedAt:   now,
	}
	out, err = h.RegisterInterrupt(ctx, i)
	if err != nil {
		return Interrupt{}, err
	}
	metric.RecordRegistered(ctx, string(out.Type))
	log.Infof("interrupt %s %s registered on plan %s node %q", out.ID, out.Type, out.PlanExecutionID,
		out.NodeExecutionID)
	return out, nil
}
