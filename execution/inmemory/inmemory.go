//
// Tencent is pleased to support the open source community by making trpc-interrupt-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-interrupt-go is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides in-memory node and plan execution storage.
// This is suitable for testing and single process deployments.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"trpc.group/trpc-go/trpc-interrupt-go/execution"
)

// Store implements execution.NodeStore and execution.PlanStore.
type Store struct {
	mu    sync.RWMutex
	nodes map[string]execution.NodeExecution
	plans map[string]execution.PlanExecution
	now   func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		nodes: make(map[string]execution.NodeExecution),
		plans: make(map[string]execution.PlanExecution),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// PutPlan inserts or replaces a plan.
func (s *Store) PutPlan(plan execution.PlanExecution) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = s.now()
	}
	plan.LastUpdatedAt = s.now()
	s.plans[plan.ID] = plan
}

// PutNode inserts or replaces a node.
func (s *Store) PutNode(node execution.NodeExecution) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if node.CreatedAt.IsZero() {
		// Keep insertion order stable for ListByPlan.
		node.CreatedAt = s.now().Add(time.Duration(len(s.nodes)) * time.Nanosecond)
	}
	node.LastUpdatedAt = s.now()
	s.nodes[node.ID] = node
}

// DeletePlan removes a plan and its nodes.
func (s *Store) DeletePlan(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.plans, id)
	for nid, n := range s.nodes {
		if n.PlanExecutionID == id {
			delete(s.nodes, nid)
		}
	}
}

// Get returns a node.
func (s *Store) Get(ctx context.Context, id string) (execution.NodeExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return execution.NodeExecution{}, fmt.Errorf("node %s: %w", id, execution.ErrNodeNotFound)
	}
	return copyNode(n), nil
}

// ListByPlan returns the nodes of a plan ordered by creation time.
func (s *Store) ListByPlan(ctx context.Context, planExecutionID string,
	includeOldRetries bool) ([]execution.NodeExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []execution.NodeExecution
	for _, n := range s.nodes {
		if n.PlanExecutionID != planExecutionID {
			continue
		}
		if n.OldRetry && !includeOldRetries {
			continue
		}
		out = append(out, copyNode(n))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// UpdateStatus moves a node to status when its status is one of from.
func (s *Store) UpdateStatus(ctx context.Context, id string, status execution.Status,
	from ...execution.Status) (execution.NodeExecution, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return execution.NodeExecution{}, false, fmt.Errorf("node %s: %w", id, execution.ErrNodeNotFound)
	}
	if len(from) > 0 && !n.Status.In(from...) {
		return copyNode(n), false, nil
	}
	n.Status = status
	n.LastUpdatedAt = s.now()
	s.nodes[id] = n
	return copyNode(n), true, nil
}

// UpdateStatusForIDs is the bulk form of UpdateStatus.
func (s *Store) UpdateStatusForIDs(ctx context.Context, planExecutionID string, ids []string,
	status execution.Status, from ...execution.Status) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var changed int64
	for _, id := range ids {
		n, ok := s.nodes[id]
		if !ok || n.PlanExecutionID != planExecutionID {
			continue
		}
		if len(from) > 0 && !n.Status.In(from...) {
			continue
		}
		n.Status = status
		n.LastUpdatedAt = s.now()
		s.nodes[id] = n
		changed++
	}
	return changed, nil
}

// AddInterruptEffect appends to a node's interrupt history.
func (s *Store) AddInterruptEffect(ctx context.Context, id string, effect execution.InterruptEffect) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("node %s: %w", id, execution.ErrNodeNotFound)
	}
	n.InterruptHistories = append(append([]execution.InterruptEffect{}, n.InterruptHistories...), effect)
	s.nodes[id] = n
	return nil
}

// Plans exposes the store as an execution.PlanStore.
func (s *Store) Plans() execution.PlanStore { return planView{s} }

type planView struct{ s *Store }

// Get returns a plan.
func (v planView) Get(ctx context.Context, id string) (execution.PlanExecution, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	p, ok := v.s.plans[id]
	if !ok {
		return execution.PlanExecution{}, fmt.Errorf("plan %s: %w", id, execution.ErrPlanNotFound)
	}
	return p, nil
}

// UpdateStatus moves a plan to status when its status is one of from.
func (v planView) UpdateStatus(ctx context.Context, id string, status execution.Status,
	from ...execution.Status) (bool, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	p, ok := v.s.plans[id]
	if !ok {
		return false, fmt.Errorf("plan %s: %w", id, execution.ErrPlanNotFound)
	}
	if len(from) > 0 && !p.Status.In(from...) {
		return false, nil
	}
	p.Status = status
	p.LastUpdatedAt = v.s.now()
	v.s.plans[id] = p
	return true, nil
}

func copyNode(n execution.NodeExecution) execution.NodeExecution {
	if n.InterruptHistories != nil {
		n.InterruptHistories = append([]execution.InterruptEffect{}, n.InterruptHistories...)
	}
	return n
}
