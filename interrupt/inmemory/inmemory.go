//
// Tencent is pleased to support the open source community by making trpc-interrupt-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-interrupt-go is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides in-memory interrupt storage.
// This is suitable for testing and single process deployments.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"trpc.group/trpc-go/trpc-interrupt-go/interrupt"
)

type record struct {
	seq int64
	i   interrupt.Interrupt
}

// Store implements interrupt.Store.
type Store struct {
	mu      sync.RWMutex
	records map[string]record
	seq     int64
	now     func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		records: make(map[string]record),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Create implements interrupt.Store.
func (s *Store) Create(ctx context.Context, i interrupt.Interrupt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[i.ID]; ok {
		return fmt.Errorf("interrupt %s already exists", i.ID)
	}
	if i.CreatedAt.IsZero() {
		i.CreatedAt = s.now()
	}
	if i.LastUpdatedAt.IsZero() {
		i.LastUpdatedAt = i.CreatedAt
	}
	s.seq++
	s.records[i.ID] = record{seq: s.seq, i: clone(i)}
	return nil
}

// Get implements interrupt.Store.
func (s *Store) Get(ctx context.Context, id string) (interrupt.Interrupt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return interrupt.Interrupt{}, fmt.Errorf("interrupt %s: %w", id, interrupt.ErrInterruptNotFound)
	}
	return clone(r.i), nil
}

// UpdateState implements interrupt.Store.
func (s *Store) UpdateState(ctx context.Context, id string, state interrupt.State, fromMonitor bool,
	from ...interrupt.State) (interrupt.Interrupt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return interrupt.Interrupt{}, false, fmt.Errorf("interrupt %s: %w", id, interrupt.ErrInterruptNotFound)
	}
	if len(from) > 0 && !stateIn(r.i.State, from) {
		return clone(r.i), false, nil
	}
	r.i.State = state
	r.i.FromMonitor = fromMonitor
	r.i.LastUpdatedAt = s.now()
	s.records[id] = r
	return clone(r.i), true, nil
}

// List implements interrupt.Store.
func (s *Store) List(ctx context.Context, f interrupt.Filter) ([]interrupt.Interrupt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []record
	for _, r := range s.records {
		if f.Match(r.i) {
			matched = append(matched, r)
		}
	}
	sort.Slice(matched, func(a, b int) bool {
		if !matched[a].i.CreatedAt.Equal(matched[b].i.CreatedAt) {
			return matched[a].i.CreatedAt.After(matched[b].i.CreatedAt)
		}
		return matched[a].seq > matched[b].seq
	})
	out := make([]interrupt.Interrupt, 0, len(matched))
	for _, r := range matched {
		out = append(out, clone(r.i))
	}
	return out, nil
}

// DeleteByPlans implements interrupt.Store.
func (s *Store) DeleteByPlans(ctx context.Context, planExecutionIDs []string) (int64, error) {
	plans := make(map[string]struct{}, len(planExecutionIDs))
	for _, id := range planExecutionIDs {
		plans[id] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, r := range s.records {
		if _, ok := plans[r.i.PlanExecutionID]; ok {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

func stateIn(s interrupt.State, set []interrupt.State) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func clone(i interrupt.Interrupt) interrupt.Interrupt {
	if i.Metadata != nil {
		m := make(map[string]string, len(i.Metadata))
		for k, v := range i.Metadata {
			m[k] = v
		}
		i.Metadata = m
	}
	if i.Config.Params != nil {
		p := make(map[string]any, len(i.Config.Params))
		for k, v := range i.Config.Params {
			p[k] = v
		}
		i.Config.Params = p
	}
	return i
}
