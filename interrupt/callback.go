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

	"trpc.group/trpc-go/trpc-interrupt-go/execution"
	"trpc.group/trpc-go/trpc-interrupt-go/log"
	"trpc.group/trpc-go/trpc-interrupt-go/waiter"
)

// nodeCallback finalizes one discontinued node. The abort, expiry and user
// marked failure callbacks differ only in the final status. Notify, timeout
// and error all finalize the node; only the log differs.
type nodeCallback struct {
	svc       *Service
	interrupt Interrupt
	nodeID    string
	target    execution.Status
}

func (s *Service) nodeCallback(i Interrupt, nodeID string) *nodeCallback {
	return &nodeCallback{svc: s, interrupt: i, nodeID: nodeID, target: targetStatus(i.Type)}
}

// Notify implements waiter.Callback.
func (c *nodeCallback) Notify(ctx context.Context, _ map[string]waiter.Response) {
	log.Infof("node %s acknowledged interrupt %s", c.nodeID, c.interrupt.ID)
	c.finish(ctx, "notify")
}

// NotifyTimeout implements waiter.Callback.
func (c *nodeCallback) NotifyTimeout(ctx context.Context, _ map[string]waiter.Response) {
	log.Warnf("node %s did not acknowledge interrupt %s in time, finalizing", c.nodeID, c.interrupt.ID)
	c.finish(ctx, "timeout")
}

// NotifyError implements waiter.Callback.
func (c *nodeCallback) NotifyError(ctx context.Context, responses map[string]waiter.Response) {
	for k, r := range responses {
		if r.Err != "" {
			log.Errorf("node %s reported %q on %s for interrupt %s, finalizing", c.nodeID, r.Err, k, c.interrupt.ID)
		}
	}
	c.finish(ctx, "error")
}

// finish moves the node from DISCONTINUING to its final status. A second call
// matches nothing and skips the runtime. The correlation key is resolved in
// every case so the interrupt completion never waits on a dead node.
func (c *nodeCallback) finish(ctx context.Context, how string) {
	s := c.svc
	node, ok, err := s.nodes.UpdateStatus(ctx, c.nodeID, c.target, execution.StatusDiscontinuing)
	switch {
	case err != nil:
		log.Errorf("finalize node %s for interrupt %s (%s): %v", c.nodeID, c.interrupt.ID, how, err)
	case !ok:
		log.Debugf("node %s already %s, interrupt %s (%s) has nothing to do", c.nodeID, node.Status, c.interrupt.ID, how)
	default:
		s.recordEffect(ctx, c.interrupt, c.nodeID)
		s.conclude(ctx, node)
		log.Infof("node %s %s by interrupt %s (%s)", c.nodeID, c.target, c.interrupt.ID, how)
	}
	key := CorrelationKey(c.nodeID, c.interrupt.ID)
	if err := s.waiter.Resolve(ctx, key, waiter.Response{}); err != nil {
		log.Errorf("resolve %s: %v", key, err)
	}
}

// completionCallback finalizes an interrupt once all of its nodes resolved.
type completionCallback struct {
	svc         *Service
	interruptID string
}

// Notify implements waiter.Callback.
func (c *completionCallback) Notify(ctx context.Context, _ map[string]waiter.Response) {
	c.complete(ctx, false)
}

// NotifyTimeout implements waiter.Callback.
func (c *completionCallback) NotifyTimeout(ctx context.Context, responses map[string]waiter.Response) {
	log.Warnf("interrupt %s timed out with %d node(s) resolved", c.interruptID, len(responses))
	c.complete(ctx, true)
}

// NotifyError implements waiter.Callback.
func (c *completionCallback) NotifyError(ctx context.Context, _ map[string]waiter.Response) {
	log.Errorf("interrupt %s completed with node errors", c.interruptID)
	c.complete(ctx, false)
}

func (c *completionCallback) complete(ctx context.Context, timedOut bool) {
	s := c.svc
	i, err := s.Get(ctx, c.interruptID)
	if err != nil {
		log.Errorf("complete interrupt %s: %v", c.interruptID, err)
		return
	}
	if i.State.IsTerminal() {
		return
	}

	switch i.Type {
	case TypeAbortAll, TypeExpireAll, TypeUserMarkedFailAll:
		if timedOut && i.IsPlanScoped() {
			log.Warnf("interrupt %s left for the monitor", i.ID)
			return
		}
		status, err := s.refreshPlanStatus(ctx, i.PlanExecutionID)
		if err != nil {
			log.Errorf("complete interrupt %s: %v", i.ID, err)
			return
		}
		if !i.IsPlanScoped() {
			c.mark(ctx, i, timedOut)
			return
		}
		if status.IsTerminal() {
			if err := s.CloseActiveInterrupts(ctx, i.PlanExecutionID); err != nil {
				log.Errorf("close interrupts of plan %s: %v", i.PlanExecutionID, err)
			}
		}
	case TypeCustomFailure:
		if !timedOut {
			c.failScopeNode(ctx, i)
		}
		c.mark(ctx, i, timedOut)
	default:
		if _, err := s.refreshPlanStatus(ctx, i.PlanExecutionID); err != nil {
			log.Errorf("complete interrupt %s: %v", i.ID, err)
		}
		c.mark(ctx, i, timedOut)
	}
}

func (c *completionCallback) mark(ctx context.Context, i Interrupt, timedOut bool) {
	state := StateProcessedSuccessfully
	if timedOut {
		state = StateProcessedUnsuccessfully
	}
	if _, err := c.svc.MarkProcessed(ctx, i.ID, state); err != nil {
		log.Errorf("complete interrupt %s: %v", i.ID, err)
	}
}

func (c *completionCallback) failScopeNode(ctx context.Context, i Interrupt) {
	s := c.svc
	node, ok, err := s.nodes.UpdateStatus(ctx, i.NodeExecutionID, execution.StatusFailed,
		execution.AbortAndExpireStatuses()...)
	if err != nil {
		log.Errorf("fail node %s for interrupt %s: %v", i.NodeExecutionID, i.ID, err)
		return
	}
	if !ok {
		return
	}
	s.recordEffect(ctx, i, node.ID)
	s.conclude(ctx, node)
	if _, err := s.refreshPlanStatus(ctx, i.PlanExecutionID); err != nil {
		log.Errorf("complete interrupt %s: %v", i.ID, err)
	}
}
