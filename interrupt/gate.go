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

	"go.opentelemetry.io/otel/codes"

	"trpc.group/trpc-go/trpc-interrupt-go/execution"
	itelemetry "trpc.group/trpc-go/trpc-interrupt-go/internal/telemetry"
	"trpc.group/trpc-go/trpc-interrupt-go/telemetry/metric"
	"trpc.group/trpc-go/trpc-interrupt-go/telemetry/trace"
)

// CheckInterruptsPreInvocation tells the runtime whether a node may run now.
// It turns an active plan level signal into the concrete action for this
// node: pausing or discontinuing a leaf, or closing a resume.
func (s *Service) CheckInterruptsPreInvocation(ctx context.Context,
	planExecutionID, nodeExecutionID string) (check ExecutionCheck, err error) {
	ctx, span := trace.Tracer.Start(ctx, itelemetry.SpanNameGate)
	defer func() {
		itelemetry.TraceGate(span, planExecutionID, nodeExecutionID, check.Proceed, check.Reason)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	active, err := s.store.List(ctx, Filter{
		PlanExecutionID: planExecutionID,
		Types:           GateTypes(),
		States:          ActiveStates(),
	})
	if err != nil {
		return ExecutionCheck{}, fmt.Errorf("fetch active interrupts of plan %s: %w", planExecutionID, err)
	}
	if len(active) == 0 {
		return proceed("no active interrupt"), nil
	}

	var planScoped, nodeScoped []Interrupt
	for _, i := range active {
		if i.IsPlanScoped() {
			planScoped = append(planScoped, i)
		} else {
			nodeScoped = append(nodeScoped, i)
		}
	}
	if len(planScoped) > 1 {
		return ExecutionCheck{}, fmt.Errorf("%w: plan %s has %d", ErrMultiplePlanInterrupts,
			planExecutionID, len(planScoped))
	}

	node, err := s.nodes.Get(ctx, nodeExecutionID)
	if err != nil {
		return ExecutionCheck{}, fmt.Errorf("load node %s: %w", nodeExecutionID, err)
	}

	var (
		selected Interrupt
		tree     *execution.Tree
	)
	if len(planScoped) == 1 {
		selected = planScoped[0]
	} else {
		// Newest node scoped interrupt whose subtree holds the node.
		if tree, err = s.tree(ctx, planExecutionID); err != nil {
			return ExecutionCheck{}, err
		}
		found := false
		for _, i := range nodeScoped {
			if tree.InScope(i.NodeExecutionID, node.ID) {
				selected, found = i, true
				break
			}
		}
		if !found {
			return proceed("node is outside the scope of every active interrupt"), nil
		}
	}

	switch selected.Type {
	case TypePauseAll:
		return s.gatePause(ctx, selected, node, tree)
	case TypeResumeAll:
		h, err := s.factory.Handler(TypeResumeAll)
		if err != nil {
			return ExecutionCheck{}, err
		}
		if _, err := h.HandleForNode(ctx, selected, node); err != nil {
			return ExecutionCheck{}, err
		}
		return proceed("resumed by interrupt " + selected.ID), nil
	case TypeAbortAll, TypeExpireAll:
		if !node.IsLeaf() || !node.Status.In(execution.ResumableStatuses()...) {
			return proceed(fmt.Sprintf("node %s is not a leaf in a resumable status", node.ID)), nil
		}
		h, err := s.factory.Handler(perNodeType(selected.Type))
		if err != nil {
			return ExecutionCheck{}, err
		}
		if _, err := h.HandleForNode(ctx, selected, node); err != nil {
			return ExecutionCheck{}, err
		}
		metric.RecordGateBlocked(ctx, string(selected.Type))
		return block(fmt.Sprintf("%s by interrupt %s", selected.Type, selected.ID)), nil
	default:
		return ExecutionCheck{}, fmt.Errorf("%w: %s", ErrUnsupportedInterruptType, selected.Type)
	}
}

func (s *Service) gatePause(ctx context.Context, i Interrupt, node execution.NodeExecution,
	tree *execution.Tree) (ExecutionCheck, error) {
	if !node.IsLeaf() {
		return proceed("parent nodes are not paused"), nil
	}
	if !i.IsPlanScoped() {
		scope, ok := tree.Node(i.NodeExecutionID)
		if ok && scope.Status.IsTerminal() {
			// The paused subtree already finished; nothing is left to hold.
			if _, err := s.refreshPlanStatus(ctx, i.PlanExecutionID, scope.ID); err != nil {
				return ExecutionCheck{}, err
			}
			if _, err := s.MarkProcessed(ctx, i.ID, StateProcessedSuccessfully); err != nil {
				return ExecutionCheck{}, err
			}
			return proceed(fmt.Sprintf("node %s of interrupt %s already finished", scope.ID, i.ID)), nil
		}
		if !descendantOf(tree, i.NodeExecutionID, node.ID) {
			return proceed(fmt.Sprintf("node %s is not under node %s", node.ID, i.NodeExecutionID)), nil
		}
	}
	if !node.Status.In(execution.PausableStatuses()...) {
		return proceed(fmt.Sprintf("node %s in status %s cannot be paused", node.ID, node.Status)), nil
	}
	h, err := s.factory.Handler(TypePauseAll)
	if err != nil {
		return ExecutionCheck{}, err
	}
	if _, err := h.HandleForNode(ctx, i, node); err != nil {
		return ExecutionCheck{}, err
	}
	metric.RecordGateBlocked(ctx, string(i.Type))
	return block("paused by interrupt " + i.ID), nil
}

// descendantOf tests membership in the descendants of ancestor.
func descendantOf(tree *execution.Tree, ancestor, candidate string) bool {
	for _, d := range tree.Descendants(ancestor) {
		if d.ID == candidate {
			return true
		}
	}
	return false
}

func proceed(reason string) ExecutionCheck { return ExecutionCheck{Proceed: true, Reason: reason} }

func block(reason string) ExecutionCheck { return ExecutionCheck{Proceed: false, Reason: reason} }
