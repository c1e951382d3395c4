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
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/multierr"

	"trpc.group/trpc-go/trpc-interrupt-go/execution"
	itelemetry "trpc.group/trpc-go/trpc-interrupt-go/internal/telemetry"
	"trpc.group/trpc-go/trpc-interrupt-go/lock"
	"trpc.group/trpc-go/trpc-interrupt-go/log"
	"trpc.group/trpc-go/trpc-interrupt-go/telemetry/metric"
	"trpc.group/trpc-go/trpc-interrupt-go/telemetry/trace"
	"trpc.group/trpc-go/trpc-interrupt-go/waiter"
)

// Monitor forces ABORT_ALL and EXPIRE_ALL interrupts that stayed PROCESSING
// past the staleness threshold. Each interrupt is handled under its own lock
// so several processes can share the scan.
type Monitor struct {
	svc    *Service
	locker lock.Locker
	opts   monitorOptions
	pool   *ants.Pool

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewMonitor creates a Monitor. Stop releases its worker pool.
func NewMonitor(svc *Service, locker lock.Locker, opts ...MonitorOption) (*Monitor, error) {
	o := monitorOptions{
		interval:   defaultMonitorInterval,
		staleness:  defaultMonitorStaleness,
		itemBudget: defaultMonitorItemBudget,
		workers:    defaultMonitorWorkers,
		now:        svc.opts.now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	pool, err := ants.NewPool(o.workers, ants.WithPanicHandler(func(p any) {
		log.Errorf("interrupt monitor: task panic: %v", p)
	}))
	if err != nil {
		return nil, fmt.Errorf("create monitor pool: %w", err)
	}
	return &Monitor{svc: svc, locker: locker, opts: o, pool: pool}, nil
}

// Start runs a pass every interval until Stop or ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.loop(ctx)
	log.Infof("interrupt monitor started, interval %s, staleness %s", m.opts.interval, m.opts.staleness)
}

// Stop ends the loop, waits for the running pass and releases the pool.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.started {
		m.cancel()
		<-m.done
		m.started = false
	}
	m.mu.Unlock()
	m.pool.Release()
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.opts.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.RunOnce(ctx); err != nil {
				log.Warnf("interrupt monitor pass: %v", err)
			}
		}
	}
}

// RunOnce performs one pass and waits for it. The returned error summarizes
// failures for logging; every interrupt is still left in a consistent state.
func (m *Monitor) RunOnce(ctx context.Context) error {
	stale, err := m.svc.store.List(ctx, Filter{
		Types:         []Type{TypeAbortAll, TypeExpireAll},
		States:        []State{StateProcessing},
		CreatedBefore: m.opts.now().Add(-m.opts.staleness),
	})
	if err != nil {
		return fmt.Errorf("list stale interrupts: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}
	log.Infof("interrupt monitor found %d stale interrupt(s)", len(stale))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	collect := func(err error) {
		if err == nil {
			return
		}
		mu.Lock()
		errs = multierr.Append(errs, err)
		mu.Unlock()
	}
	for _, i := range stale {
		i := i
		wg.Add(1)
		if err := m.pool.Submit(func() {
			defer wg.Done()
			collect(m.runItem(ctx, i))
		}); err != nil {
			wg.Done()
			collect(fmt.Errorf("submit interrupt %s: %w", i.ID, err))
		}
	}
	wg.Wait()
	return errs
}

func (m *Monitor) runItem(ctx context.Context, i Interrupt) (err error) {
	name := monitorLockPrefix + i.ID
	l, err := m.locker.Acquire(ctx, name, 0, m.opts.itemBudget)
	if err != nil {
		if errors.Is(err, lock.ErrUnavailable) {
			log.Debugf("interrupt %s is handled by another monitor", i.ID)
			return nil
		}
		return err
	}
	defer func() {
		if rerr := l.Release(context.WithoutCancel(ctx)); rerr != nil {
			err = multierr.Append(err, rerr)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, m.opts.itemBudget)
	defer cancel()
	ctx, span := trace.Tracer.Start(ctx, itelemetry.SpanNameMonitorItem)
	defer span.End()
	itelemetry.TraceInterrupt(span, i.ID, i.PlanExecutionID, i.NodeExecutionID, string(i.Type), string(i.State))

	perr := m.process(ctx, i)
	if perr == nil {
		return nil
	}
	span.SetStatus(codes.Error, perr.Error())
	if IsIntegrityError(perr) {
		log.Warnf("interrupt monitor: %s left for next pass: %v", i.ID, perr)
		return perr
	}
	log.Errorf("interrupt monitor: forcing %s unsuccessful: %v", i.ID, perr)
	if err := m.force(ctx, i, StateProcessedUnsuccessfully); err != nil {
		return multierr.Append(perr, err)
	}
	return perr
}

// process walks the tree of one stale interrupt from the leaves up.
func (m *Monitor) process(ctx context.Context, i Interrupt) error {
	s := m.svc
	plan, err := s.plans.Get(ctx, i.PlanExecutionID)
	if errors.Is(err, execution.ErrPlanNotFound) {
		log.Infof("interrupt monitor: plan of %s is gone", i.ID)
		return m.force(ctx, i, StateProcessedSuccessfully)
	}
	if err != nil {
		return fmt.Errorf("load plan %s: %w", i.PlanExecutionID, err)
	}
	tree, err := s.tree(ctx, i.PlanExecutionID)
	if err != nil {
		return err
	}

	var leaves []execution.NodeExecution
	for _, leaf := range tree.Leaves() {
		if tree.InScope(i.NodeExecutionID, leaf.ID) {
			leaves = append(leaves, leaf)
		}
	}

	if len(leaves) == 0 {
		return m.processEmptyScope(ctx, i, plan, tree)
	}

	var eligible []execution.NodeExecution
	for _, leaf := range leaves {
		if leaf.Status.In(execution.AbortAndExpireStatuses()...) {
			eligible = append(eligible, leaf)
		}
	}
	if len(eligible) > 0 {
		for _, leaf := range eligible {
			if !leaf.Status.In(execution.ConvergingStatuses()...) {
				log.Infof("interrupt monitor: leaf %s of %s is %s, still converging", leaf.ID, i.ID, leaf.Status)
				return nil
			}
		}
		for _, leaf := range eligible {
			if err := m.forceNode(ctx, i, leaf, tree); err != nil {
				return err
			}
		}
		return nil
	}

	// Every leaf finished; finish the ancestors bottom up.
	visited := make(map[string]struct{})
	level := leaves
	for {
		var next []execution.NodeExecution
		for _, p := range tree.Parents(level) {
			if _, seen := visited[p.ID]; seen || !tree.InScope(i.NodeExecutionID, p.ID) {
				continue
			}
			visited[p.ID] = struct{}{}
			next = append(next, p)
		}
		if len(next) == 0 {
			break
		}
		for _, p := range next {
			if p.Status.IsTerminal() {
				continue
			}
			if err := m.forceNode(ctx, i, p, tree); err != nil {
				return err
			}
		}
		level = next
	}
	if i.IsPlanScoped() {
		if err := m.forcePlanStatus(ctx, i, tree); err != nil {
			return err
		}
	} else if _, err := s.refreshPlanStatus(ctx, i.PlanExecutionID); err != nil {
		return err
	}
	return m.force(ctx, i, StateProcessedSuccessfully)
}

// processEmptyScope finishes an interrupt whose scope holds no leaf. A plan
// scope is judged by the plan, a node scope by its own node.
func (m *Monitor) processEmptyScope(ctx context.Context, i Interrupt, plan execution.PlanExecution,
	tree *execution.Tree) error {
	done := plan.Status.IsTerminal()
	if !i.IsPlanScoped() {
		scope, ok := tree.Node(i.NodeExecutionID)
		done = !ok || scope.Status.IsTerminal()
	}
	if done {
		return m.force(ctx, i, StateProcessedSuccessfully)
	}
	// No leaf under a running scope: the execution is inconsistent.
	log.Warnf("interrupt monitor: scope %q of plan %s has no leaves, forcing its nodes",
		i.NodeExecutionID, plan.ID)
	for _, n := range tree.Nodes() {
		if n.Status.IsTerminal() || !tree.InScope(i.NodeExecutionID, n.ID) {
			continue
		}
		if err := m.forceNode(ctx, i, n, tree); err != nil {
			return err
		}
	}
	if i.IsPlanScoped() {
		if err := m.forcePlanStatus(ctx, i, tree); err != nil {
			return err
		}
	} else if _, err := m.svc.refreshPlanStatus(ctx, i.PlanExecutionID); err != nil {
		return err
	}
	return m.force(ctx, i, StateProcessedUnsuccessfully)
}

// forceNode drives a node to the final status of the interrupt type, tells
// the runtime and releases anyone waiting on the node.
func (m *Monitor) forceNode(ctx context.Context, i Interrupt, n execution.NodeExecution,
	tree *execution.Tree) error {
	s := m.svc
	target := targetStatus(i.Type)
	updated, ok, err := s.nodes.UpdateStatus(ctx, n.ID, target, execution.AbortAndExpireStatuses()...)
	if err != nil {
		return fmt.Errorf("force node %s: %w", n.ID, err)
	}
	if ok {
		s.recordEffect(ctx, i, n.ID)
		s.conclude(ctx, updated)
		log.Infof("interrupt monitor: node %s forced %s by %s", n.ID, target, i.ID)
	}
	tree.Set(updated)
	key := CorrelationKey(n.ID, i.ID)
	if err := s.waiter.Resolve(ctx, key, waiter.Response{}); err != nil {
		log.Warnf("interrupt monitor: resolve %s: %v", key, err)
	}
	return nil
}

// forcePlanStatus persists the recomputed plan status, falling back to the
// final status of the interrupt type when nodes alone do not finish the plan.
func (m *Monitor) forcePlanStatus(ctx context.Context, i Interrupt, tree *execution.Tree) error {
	status := tree.PlanStatus()
	if !status.IsTerminal() {
		status = targetStatus(i.Type)
	}
	if _, err := m.svc.plans.UpdateStatus(ctx, i.PlanExecutionID, status,
		execution.AbortAndExpireStatuses()...); err != nil {
		return fmt.Errorf("force plan %s status: %w", i.PlanExecutionID, err)
	}
	return nil
}

func (m *Monitor) force(ctx context.Context, i Interrupt, state State) error {
	out, err := m.svc.MarkProcessedForceful(ctx, i.ID, state, true)
	if err != nil {
		return err
	}
	if out.State == state && out.FromMonitor {
		metric.RecordMonitorForced(ctx, string(i.Type), string(state))
		log.Infof("interrupt monitor: %s forced %s", i.ID, state)
	}
	return nil
}
