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
	"time"

	"go.uber.org/multierr"

	"trpc.group/trpc-go/trpc-interrupt-go/execution"
	"trpc.group/trpc-go/trpc-interrupt-go/log"
	"trpc.group/trpc-go/trpc-interrupt-go/waiter"
)

// Service is the query and state transition facade over interrupts, and the
// pre invocation gate consulted by the runtime.
type Service struct {
	store   Store
	nodes   execution.NodeStore
	plans   execution.PlanStore
	runtime Runtime
	waiter  waiter.Waiter
	factory *Factory
	opts    serviceOptions
}

// NewService creates a Service with the default handler for every type.
func NewService(store Store, nodes execution.NodeStore, plans execution.PlanStore,
	runtime Runtime, w waiter.Waiter, opts ...ServiceOption) *Service {
	o := serviceOptions{
		nodeCallbackTimeout: defaultNodeCallbackTimeout,
		completionTimeout:   defaultCompletionTimeout,
		now:                 func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(&o)
	}
	s := &Service{
		store:   store,
		nodes:   nodes,
		plans:   plans,
		runtime: runtime,
		waiter:  w,
		opts:    o,
	}
	s.factory = newDefaultFactory(s)
	return s
}

// Factory returns the handler table.
func (s *Service) Factory() *Factory { return s.factory }

// Get returns one interrupt.
func (s *Service) Get(ctx context.Context, id string) (Interrupt, error) {
	return s.store.Get(ctx, id)
}

// FetchActiveInterrupts returns the non terminal interrupts of a plan.
func (s *Service) FetchActiveInterrupts(ctx context.Context, planExecutionID string) ([]Interrupt, error) {
	return s.store.List(ctx, Filter{PlanExecutionID: planExecutionID, States: ActiveStates()})
}

// FetchAllInterrupts returns every interrupt of a plan.
func (s *Service) FetchAllInterrupts(ctx context.Context, planExecutionID string) ([]Interrupt, error) {
	return s.store.List(ctx, Filter{PlanExecutionID: planExecutionID})
}

// FetchActiveInterruptsForNode returns the non terminal interrupts scoped to
// a node.
func (s *Service) FetchActiveInterruptsForNode(ctx context.Context,
	planExecutionID, nodeExecutionID string) ([]Interrupt, error) {
	return s.store.List(ctx, Filter{
		PlanExecutionID: planExecutionID,
		NodeExecutionID: nodeExecutionID,
		States:          ActiveStates(),
	})
}

// FetchActiveInterruptsForNodeByType narrows FetchActiveInterruptsForNode to
// one type.
func (s *Service) FetchActiveInterruptsForNodeByType(ctx context.Context,
	planExecutionID, nodeExecutionID string, t Type) ([]Interrupt, error) {
	return s.store.List(ctx, Filter{
		PlanExecutionID: planExecutionID,
		NodeExecutionID: nodeExecutionID,
		Types:           []Type{t},
		States:          ActiveStates(),
	})
}

// FetchActivePlanLevelInterrupts returns the non terminal interrupts without
// a node.
func (s *Service) FetchActivePlanLevelInterrupts(ctx context.Context, planExecutionID string) ([]Interrupt, error) {
	return s.store.List(ctx, Filter{
		PlanExecutionID: planExecutionID,
		PlanScoped:      true,
		States:          ActiveStates(),
	})
}

// DeleteAllInterrupts removes the interrupts of the given plans.
func (s *Service) DeleteAllInterrupts(ctx context.Context, planExecutionIDs []string) (int64, error) {
	if len(planExecutionIDs) == 0 {
		return 0, nil
	}
	return s.store.DeleteByPlans(ctx, planExecutionIDs)
}

// CloseActiveInterrupts marks every active interrupt of a plan processed. The
// runtime calls it once the plan reached a final status.
func (s *Service) CloseActiveInterrupts(ctx context.Context, planExecutionID string) error {
	active, err := s.FetchActiveInterrupts(ctx, planExecutionID)
	if err != nil {
		return fmt.Errorf("fetch active interrupts of plan %s: %w", planExecutionID, err)
	}
	var errs error
	for _, i := range active {
		if _, err := s.MarkProcessed(ctx, i.ID, StateProcessedSuccessfully); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// MarkProcessing moves an interrupt to PROCESSING.
func (s *Service) MarkProcessing(ctx context.Context, id string) (Interrupt, error) {
	return s.MarkProcessedForceful(ctx, id, StateProcessing, false)
}

// MarkProcessed moves an interrupt to a final state through the normal flow.
func (s *Service) MarkProcessed(ctx context.Context, id string, state State) (Interrupt, error) {
	return s.MarkProcessedForceful(ctx, id, state, false)
}

// MarkProcessedForceful moves an interrupt to state, recording whether the
// move was forced by the monitor. Only forward moves match; an interrupt that
// already reached state or a later one is returned unchanged.
func (s *Service) MarkProcessedForceful(ctx context.Context, id string, state State, forced bool) (Interrupt, error) {
	i, updated, err := s.store.UpdateState(ctx, id, state, forced, sourcesOf(state)...)
	if err != nil {
		return Interrupt{}, fmt.Errorf("mark interrupt %s %s: %w", id, state, err)
	}
	if !updated {
		log.Debugf("interrupt %s is %s, skip move to %s", id, i.State, state)
	}
	return i, nil
}

// activeInScope returns the active interrupts of the given types sharing the
// scope of i.
func (s *Service) activeInScope(ctx context.Context, i Interrupt, types ...Type) ([]Interrupt, error) {
	f := Filter{PlanExecutionID: i.PlanExecutionID, Types: types, States: ActiveStates()}
	if i.IsPlanScoped() {
		f.PlanScoped = true
	} else {
		f.NodeExecutionID = i.NodeExecutionID
	}
	return s.store.List(ctx, f)
}

// create persists a new interrupt unless one of the rejecting types is
// already active in its scope.
func (s *Service) create(ctx context.Context, i Interrupt, rejectIfActive ...Type) (Interrupt, error) {
	if len(rejectIfActive) > 0 {
		active, err := s.activeInScope(ctx, i, rejectIfActive...)
		if err != nil {
			return Interrupt{}, err
		}
		if len(active) > 0 {
			return Interrupt{}, fmt.Errorf("%w: %s %s on plan %s", ErrInterruptAlreadyActive,
				active[0].Type, active[0].ID, i.PlanExecutionID)
		}
	}
	if err := s.store.Create(ctx, i); err != nil {
		return Interrupt{}, fmt.Errorf("create interrupt %s: %w", i.ID, err)
	}
	return i, nil
}

// tree loads the current attempt of every node of a plan.
func (s *Service) tree(ctx context.Context, planExecutionID string) (*execution.Tree, error) {
	nodes, err := s.nodes.ListByPlan(ctx, planExecutionID, false)
	if err != nil {
		return nil, fmt.Errorf("list nodes of plan %s: %w", planExecutionID, err)
	}
	return execution.NewTree(nodes), nil
}

// refreshPlanStatus recomputes the plan status from its nodes and persists it
// unless the plan already finished.
func (s *Service) refreshPlanStatus(ctx context.Context, planExecutionID string,
	exclude ...string) (execution.Status, error) {
	t, err := s.tree(ctx, planExecutionID)
	if err != nil {
		return "", err
	}
	status := t.PlanStatus(exclude...)
	if _, err := s.plans.UpdateStatus(ctx, planExecutionID, status, execution.AbortAndExpireStatuses()...); err != nil {
		return "", fmt.Errorf("update plan %s status: %w", planExecutionID, err)
	}
	return status, nil
}

// recordEffect appends i to the node history. Failures are logged only.
func (s *Service) recordEffect(ctx context.Context, i Interrupt, nodeExecutionID string) {
	issuer := string(i.Config.IssuedBy.Type)
	if i.Config.IssuedBy.Identifier != "" {
		issuer += ":" + i.Config.IssuedBy.Identifier
	}
	effect := execution.InterruptEffect{
		InterruptID:   i.ID,
		InterruptType: string(i.Type),
		TookEffectAt:  s.opts.now(),
		IssuedBy:      issuer,
	}
	if err := s.nodes.AddInterruptEffect(ctx, nodeExecutionID, effect); err != nil {
		log.Warnf("record interrupt %s effect on node %s: %v", i.ID, nodeExecutionID, err)
	}
}

// conclude tells the runtime a node finished. Failures are logged only.
func (s *Service) conclude(ctx context.Context, node execution.NodeExecution) {
	if err := s.runtime.Conclude(ctx, node); err != nil {
		log.Warnf("conclude node %s: %v", node.ID, err)
	}
}

// discontinue moves node to DISCONTINUING when its status is in from and asks
// the runtime to stop it. The node is finalized by the per node callback of
// i, either when the runtime reports back on the correlation id or inline
// when there is nothing to wait for. It reports whether the node matched.
func (s *Service) discontinue(ctx context.Context, i Interrupt, node execution.NodeExecution,
	from ...execution.Status) (bool, error) {
	updated, ok, err := s.nodes.UpdateStatus(ctx, node.ID, execution.StatusDiscontinuing, from...)
	if err != nil {
		return false, fmt.Errorf("discontinue node %s: %w", node.ID, err)
	}
	if !ok {
		log.Debugf("node %s is %s, not discontinued by interrupt %s", node.ID, updated.Status, i.ID)
		return false, nil
	}
	s.recordEffect(ctx, i, node.ID)

	cb := s.nodeCallback(i, node.ID)
	correlationID, err := s.runtime.Discontinue(ctx, updated, i)
	if err != nil {
		log.Warnf("runtime failed to discontinue node %s for interrupt %s, finalizing: %v", node.ID, i.ID, err)
		correlationID = ""
	}
	if correlationID == "" {
		cb.finish(ctx, "inline")
		return true, nil
	}
	if _, err := s.waiter.WaitForAll(ctx, cb, s.opts.nodeCallbackTimeout, correlationID); err != nil {
		log.Warnf("wait for node %s acknowledgement failed, finalizing: %v", node.ID, err)
		cb.finish(ctx, "inline")
	}
	return true, nil
}

// awaitCompletion finalizes i once every node has resolved its correlation
// key.
func (s *Service) awaitCompletion(ctx context.Context, i Interrupt, nodeExecutionIDs []string) error {
	cb := &completionCallback{svc: s, interruptID: i.ID}
	if len(nodeExecutionIDs) == 0 {
		cb.Notify(ctx, nil)
		return nil
	}
	keys := make([]string, 0, len(nodeExecutionIDs))
	for _, id := range nodeExecutionIDs {
		keys = append(keys, CorrelationKey(id, i.ID))
	}
	if _, err := s.waiter.WaitForAll(ctx, cb, s.opts.completionTimeout, keys...); err != nil {
		return fmt.Errorf("wait for interrupt %s completion: %w", i.ID, err)
	}
	return nil
}
