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

// pauseAllHandler only persists on registration. Leaves are paused one by one
// as the gate meets them.
type pauseAllHandler struct {
	svc *Service
}

func (h *pauseAllHandler) RegisterInterrupt(ctx context.Context, i Interrupt) (Interrupt, error) {
	if !i.IsPlanScoped() {
		if _, err := h.svc.scopeNode(ctx, i); err != nil {
			return Interrupt{}, err
		}
		return h.svc.create(ctx, i, TypePauseAll)
	}
	// A plan level pause may not race a plan level abort or expiry.
	return h.svc.create(ctx, i, TypePauseAll, TypeAbortAll, TypeExpireAll)
}

func (h *pauseAllHandler) HandleForNode(ctx context.Context, i Interrupt,
	node execution.NodeExecution) (Interrupt, error) {
	s := h.svc
	i, err := s.MarkProcessing(ctx, i.ID)
	if err != nil {
		return Interrupt{}, err
	}
	_, ok, err := s.nodes.UpdateStatus(ctx, node.ID, execution.StatusPaused, execution.PausableStatuses()...)
	if err != nil {
		return Interrupt{}, fmt.Errorf("pause node %s: %w", node.ID, err)
	}
	if !ok {
		return i, nil
	}
	if node.Status != execution.StatusPaused {
		s.recordEffect(ctx, i, node.ID)
		log.Infof("node %s paused by interrupt %s", node.ID, i.ID)
	}
	if _, err := s.refreshPlanStatus(ctx, i.PlanExecutionID); err != nil {
		return Interrupt{}, err
	}
	return i, nil
}

// resumeAllHandler closes the matching pause and requeues every paused node
// in its scope.
type resumeAllHandler struct {
	svc *Service
}

func (h *resumeAllHandler) RegisterInterrupt(ctx context.Context, i Interrupt) (Interrupt, error) {
	s := h.svc
	pauses, err := s.activeInScope(ctx, i, TypePauseAll)
	if err != nil {
		return Interrupt{}, err
	}
	if len(pauses) == 0 {
		scope := "plan " + i.PlanExecutionID
		if !i.IsPlanScoped() {
			scope = "node " + i.NodeExecutionID
		}
		return Interrupt{}, fmt.Errorf("%w: %s", ErrNoActivePause, scope)
	}
	if i, err = s.create(ctx, i, TypeResumeAll); err != nil {
		return Interrupt{}, err
	}
	if i, err = s.MarkProcessing(ctx, i.ID); err != nil {
		return Interrupt{}, err
	}
	for _, p := range pauses {
		if _, err := s.MarkProcessed(ctx, p.ID, StateProcessedSuccessfully); err != nil {
			return Interrupt{}, err
		}
	}

	t, err := s.tree(ctx, i.PlanExecutionID)
	if err != nil {
		return Interrupt{}, err
	}
	for _, n := range t.Nodes() {
		if n.Status != execution.StatusPaused || !t.InScope(i.NodeExecutionID, n.ID) {
			continue
		}
		queued, ok, err := s.nodes.UpdateStatus(ctx, n.ID, execution.StatusQueued, execution.StatusPaused)
		if err != nil {
			return Interrupt{}, fmt.Errorf("resume node %s: %w", n.ID, err)
		}
		if !ok {
			continue
		}
		s.recordEffect(ctx, i, n.ID)
		if err := s.runtime.Resume(ctx, queued); err != nil {
			log.Warnf("runtime failed to resume node %s: %v", n.ID, err)
		}
	}
	if _, err := s.refreshPlanStatus(ctx, i.PlanExecutionID); err != nil {
		return Interrupt{}, err
	}
	return s.MarkProcessed(ctx, i.ID, StateProcessedSuccessfully)
}

func (h *resumeAllHandler) HandleForNode(ctx context.Context, i Interrupt,
	_ execution.NodeExecution) (Interrupt, error) {
	return h.svc.MarkProcessed(ctx, i.ID, StateProcessedSuccessfully)
}
