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

	"trpc.group/trpc-go/trpc-interrupt-go/execution"
	"trpc.group/trpc-go/trpc-interrupt-go/log"
)

// retryHandler asks the runtime for a new attempt of a failed node.
type retryHandler struct {
	svc *Service
}

func (h *retryHandler) RegisterInterrupt(ctx context.Context, i Interrupt) (Interrupt, error) {
	s := h.svc
	node, err := s.requireNodeStatus(ctx, i, execution.RetryableStatuses())
	if err != nil {
		return Interrupt{}, err
	}
	if i, err = s.create(ctx, i); err != nil {
		return Interrupt{}, err
	}
	if i, err = s.MarkProcessing(ctx, i.ID); err != nil {
		return Interrupt{}, err
	}
	s.recordEffect(ctx, i, node.ID)
	if err := s.runtime.Retry(ctx, node, i.Config.Params); err != nil {
		log.Warnf("runtime refused retry of node %s for interrupt %s: %v", node.ID, i.ID, err)
		return s.MarkProcessed(ctx, i.ID, StateProcessedUnsuccessfully)
	}
	return s.MarkProcessed(ctx, i.ID, StateProcessedSuccessfully)
}

func (h *retryHandler) HandleForNode(ctx context.Context, i Interrupt, _ execution.NodeExecution) (Interrupt, error) {
	return i, unsupportedForNode(i)
}

// interventionHandler forces the outcome of a node waiting for an operator:
// MARK_SUCCESS, MARK_FAILED and IGNORE.
type interventionHandler struct {
	svc *Service
}

func (h *interventionHandler) RegisterInterrupt(ctx context.Context, i Interrupt) (Interrupt, error) {
	s := h.svc
	node, err := s.requireNodeStatus(ctx, i, execution.InterventionStatuses())
	if err != nil {
		return Interrupt{}, err
	}
	if i, err = s.create(ctx, i); err != nil {
		return Interrupt{}, err
	}
	if i, err = s.MarkProcessing(ctx, i.ID); err != nil {
		return Interrupt{}, err
	}
	target := targetStatus(i.Type)
	updated, ok, err := s.nodes.UpdateStatus(ctx, node.ID, target, execution.InterventionStatuses()...)
	if err != nil {
		return Interrupt{}, fmt.Errorf("mark node %s %s: %w", node.ID, target, err)
	}
	if !ok {
		log.Warnf("node %s moved to %s before interrupt %s applied", node.ID, updated.Status, i.ID)
		return s.MarkProcessed(ctx, i.ID, StateProcessedUnsuccessfully)
	}
	s.recordEffect(ctx, i, node.ID)
	s.conclude(ctx, updated)
	if _, err := s.refreshPlanStatus(ctx, i.PlanExecutionID); err != nil {
		return Interrupt{}, err
	}
	return s.MarkProcessed(ctx, i.ID, StateProcessedSuccessfully)
}

func (h *interventionHandler) HandleForNode(ctx context.Context, i Interrupt, _ execution.NodeExecution) (Interrupt, error) {
	return i, unsupportedForNode(i)
}

// proceedWithDefaultHandler completes an input wait with default values.
type proceedWithDefaultHandler struct {
	svc *Service
}

func (h *proceedWithDefaultHandler) RegisterInterrupt(ctx context.Context, i Interrupt) (Interrupt, error) {
	s := h.svc
	node, err := s.requireNodeStatus(ctx, i, []execution.Status{execution.StatusInputWaiting})
	if err != nil {
		return Interrupt{}, err
	}
	if i, err = s.create(ctx, i); err != nil {
		return Interrupt{}, err
	}
	if i, err = s.MarkProcessing(ctx, i.ID); err != nil {
		return Interrupt{}, err
	}
	s.recordEffect(ctx, i, node.ID)
	if err := s.runtime.ProceedWithDefault(ctx, node); err != nil {
		log.Warnf("runtime could not proceed node %s with defaults: %v", node.ID, err)
		return s.MarkProcessed(ctx, i.ID, StateProcessedUnsuccessfully)
	}
	return s.MarkProcessed(ctx, i.ID, StateProcessedSuccessfully)
}

func (h *proceedWithDefaultHandler) HandleForNode(ctx context.Context, i Interrupt,
	_ execution.NodeExecution) (Interrupt, error) {
	return i, unsupportedForNode(i)
}

// scopeNode loads the node an interrupt targets and checks it belongs to the
// interrupt's plan.
func (s *Service) scopeNode(ctx context.Context, i Interrupt) (execution.NodeExecution, error) {
	node, err := s.nodes.Get(ctx, i.NodeExecutionID)
	if err != nil {
		return execution.NodeExecution{}, fmt.Errorf("load node of interrupt %s: %w", i.ID, err)
	}
	if node.PlanExecutionID != i.PlanExecutionID {
		return execution.NodeExecution{}, fmt.Errorf("%w: node %s does not belong to plan %s",
			ErrInvalidPackage, node.ID, i.PlanExecutionID)
	}
	return node, nil
}

func (s *Service) requireNodeStatus(ctx context.Context, i Interrupt,
	allowed []execution.Status) (execution.NodeExecution, error) {
	node, err := s.scopeNode(ctx, i)
	if err != nil {
		return execution.NodeExecution{}, err
	}
	if !node.Status.In(allowed...) {
		return execution.NodeExecution{}, fmt.Errorf("%w: %s on node %s in status %s",
			ErrInvalidNodeStatus, i.Type, node.ID, node.Status)
	}
	return node, nil
}

func unsupportedForNode(i Interrupt) error {
	return fmt.Errorf("%w: %s is not applied through the gate", ErrUnsupportedInterruptType, i.Type)
}
