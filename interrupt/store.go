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
	"time"
)

// Filter selects interrupts. Zero fields do not constrain.
type Filter struct {
	PlanExecutionID string
	NodeExecutionID string
	// PlanScoped keeps only interrupts without a node.
	PlanScoped bool
	Types      []Type
	States     []State
	// CreatedBefore keeps only interrupts created strictly before it.
	CreatedBefore time.Time
}

// Match reports whether i passes the filter.
func (f Filter) Match(i Interrupt) bool {
	if f.PlanExecutionID != "" && i.PlanExecutionID != f.PlanExecutionID {
		return false
	}
	if f.NodeExecutionID != "" && i.NodeExecutionID != f.NodeExecutionID {
		return false
	}
	if f.PlanScoped && !i.IsPlanScoped() {
		return false
	}
	if len(f.Types) > 0 && !containsType(f.Types, i.Type) {
		return false
	}
	if len(f.States) > 0 && !containsState(f.States, i.State) {
		return false
	}
	if !f.CreatedBefore.IsZero() && !i.CreatedAt.Before(f.CreatedBefore) {
		return false
	}
	return true
}

// Store persists interrupts.
type Store interface {
	// Create inserts a new interrupt.
	Create(ctx context.Context, i Interrupt) error
	// Get returns an interrupt or ErrInterruptNotFound.
	Get(ctx context.Context, id string) (Interrupt, error)
	// UpdateState moves an interrupt to state when its current state is one
	// of from, setting FromMonitor and LastUpdatedAt. When the document exists
	// but its state is not in from, nothing changes and the current document
	// is returned with false. A missing document yields ErrInterruptNotFound.
	UpdateState(ctx context.Context, id string, state State, fromMonitor bool, from ...State) (Interrupt, bool, error)
	// List returns the interrupts matching f, newest first.
	List(ctx context.Context, f Filter) ([]Interrupt, error)
	// DeleteByPlans removes every interrupt of the given plans.
	DeleteByPlans(ctx context.Context, planExecutionIDs []string) (int64, error)
}

func containsType(set []Type, t Type) bool {
	for _, v := range set {
		if v == t {
			return true
		}
	}
	return false
}

func containsState(set []State, s State) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
