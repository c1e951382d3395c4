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

// discontinueHandler handles ABORT and MARK_EXPIRED on a single node, and
// applies ABORT_ALL and EXPIRE_ALL to the leaves met by the gate.
type discontinueHandler struct {
	svc *Service
}

func (h *discontinueHandler) RegisterInterrupt(ctx context.Context, i Interrupt) (Interrupt, error) {
	s := h.svc
	node, err := s.scopeNode(ctx, i)
	if err != nil {
		return Interrupt{}, err
	}
	if !node.Status.In(execution.AbortAndExpireStatuses()...) {
		return Interrupt{}, fmt.Errorf("%w: node %s is %s", ErrInvalidNodeStatus, node.ID, node.Status)
	}
	if i, err = s.create(ctx, i); err != nil {
		return Interrupt{}, err
	}
	if i, err = s.MarkProcessing(ctx, i.ID); err != nil {
		return Interrupt{}, err
	}
	if _, err := s.discontinue(ctx, i, node, execution.AbortAndExpireStatuses()...); err != nil {
		return Interrupt{}, err
	}
	if err := s.awaitCompletion(ctx, i, []string{node.ID}); err != nil {
		return Interrupt{}, err
	}
	return i, nil
}

// HandleForNode discontinues one leaf on behalf of a plan level interrupt. The
// interrupt state is left to the plan level flow. A leaf that is already
// discontinuing is left alone.
func (h *discontinueHandler) HandleForNode(ctx context.Context, i Interrupt,
	node execution.NodeExecution) (Interrupt, error) {
	if node.Status == execution.StatusDiscontinuing {
		return i, nil
	}
	from := make([]execution.Status, 0)
	for _, st := range execution.AbortAndExpireStatuses() {
		if st != execution.StatusDiscontinuing {
			from = append(from, st)
		}
	}
	if _, err := h.svc.discontinue(ctx, i, node, from...); err != nil {
		return Interrupt{}, err
	}
	return i, nil
}

// discontinueAllHandler handles ABORT_ALL, EXPIRE_ALL and USER_MARKED_FAIL_ALL
// by discontinuing every eligible leaf in scope.
type discontinueAllHandler struct {
	svc *Service
}

func (h *discontinueAllHandler) RegisterInterrupt(ctx context.Context, i Interrupt) (Interrupt, error) {
	s := h.svc
	if !i.IsPlanScoped() {
		if _, err := s.scopeNode(ctx, i); err != nil {
			return Interrupt{}, err
		}
	}
	// Only one discontinuation may run per scope, whatever its flavour.
	i, err := s.create(ctx, i, TypeAbortAll, TypeExpireAll, TypeUserMarkedFailAll)
	if err != nil {
		return Interrupt{}, err
	}
	if i.IsPlanScoped() {
		// A plan level abort supersedes a plan level pause; paused leaves are
		// discontinued with the rest.
		pauses, err := s.activeInScope(ctx, i, TypePauseAll)
		if err != nil {
			return Interrupt{}, err
		}
		for _, p := range pauses {
			if _, err := s.MarkProcessed(ctx, p.ID, StateProcessedSuccessfully); err != nil {
				return Interrupt{}, err
			}
		}
	}
	if i, err = s.MarkProcessing(ctx, i.ID); err != nil {
		return Interrupt{}, err
	}
	return s.discontinueLeaves(ctx, i, i.NodeExecutionID)
}

func (h *discontinueAllHandler) HandleForNode(ctx context.Context, i Interrupt,
	node execution.NodeExecution) (Interrupt, error) {
	handler, err := h.svc.factory.Handler(perNodeType(i.Type))
	if err != nil {
		return Interrupt{}, err
	}
	return handler.HandleForNode(ctx, i, node)
}

// customFailureHandler fails a node by discontinuing the leaves below it; the
// node itself is failed once they are done.
type customFailureHandler struct {
	svc *Service
}

func (h *customFailureHandler) RegisterInterrupt(ctx context.Context, i Interrupt) (Interrupt, error) {
	s := h.svc
	node, err := s.scopeNode(ctx, i)
	if err != nil {
		return Interrupt{}, err
	}
	if !node.Status.In(execution.AbortAndExpireStatuses()...) {
		return Interrupt{}, fmt.Errorf("%w: node %s is %s", ErrInvalidNodeStatus, node.ID, node.Status)
	}
	if i, err = s.create(ctx, i); err != nil {
		return Interrupt{}, err
	}
	if i, err = s.MarkProcessing(ctx, i.ID); err != nil {
		return Interrupt{}, err
	}
	return s.discontinueLeaves(ctx, i, node.ID)
}

func (h *customFailureHandler) HandleForNode(ctx context.Context, i Interrupt,
	_ execution.NodeExecution) (Interrupt, error) {
	return i, unsupportedForNode(i)
}

// discontinueLeaves discontinues every leaf under scope (the whole plan when
// empty) whose status allows it and waits for them. With nothing to
// discontinue the interrupt completes at once.
func (s *Service) discontinueLeaves(ctx context.Context, i Interrupt, scope string) (Interrupt, error) {
	t, err := s.tree(ctx, i.PlanExecutionID)
	if err != nil {
		return Interrupt{}, err
	}
	var (
		eligible []execution.NodeExecution
		ids      []string
	)
	for _, leaf := range t.Leaves() {
		if !t.InScope(scope, leaf.ID) || !leaf.Status.In(execution.AbortAndExpireStatuses()...) {
			continue
		}
		eligible = append(eligible, leaf)
		ids = append(ids, leaf.ID)
	}
	if len(eligible) == 0 {
		log.Infof("interrupt %s found no leaf to discontinue", i.ID)
		if _, err := s.refreshPlanStatus(ctx, i.PlanExecutionID); err != nil {
			return Interrupt{}, err
		}
		if i.Type == TypeCustomFailure {
			if err := s.awaitCompletion(ctx, i, nil); err != nil {
				return Interrupt{}, err
			}
			return s.Get(ctx, i.ID)
		}
		return s.MarkProcessed(ctx, i.ID, StateProcessedSuccessfully)
	}

	changed, err := s.nodes.UpdateStatusForIDs(ctx, i.PlanExecutionID, ids,
		execution.StatusDiscontinuing, execution.AbortAndExpireStatuses()...)
	if err != nil {
		return Interrupt{}, fmt.Errorf("discontinue leaves of plan %s: %w", i.PlanExecutionID, err)
	}
	log.Infof("interrupt %s discontinuing %d/%d leaf node(s)", i.ID, changed, len(ids))

	var discontinued []string
	for _, leaf := range eligible {
		ok, err := s.discontinue(ctx, i, leaf, execution.AbortAndExpireStatuses()...)
		if err != nil {
			return Interrupt{}, err
		}
		if ok {
			discontinued = append(discontinued, leaf.ID)
		}
	}
	if err := s.awaitCompletion(ctx, i, discontinued); err != nil {
		return Interrupt{}, err
	}
	return s.Get(ctx, i.ID)
}
