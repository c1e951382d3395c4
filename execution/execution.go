//
// Tencent is pleased to support the open source community by making trpc-interrupt-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-interrupt-go is licensed under the Apache License Version 2.0.
//
//

// Package execution holds the plan and node execution records the interrupt
// engine reads and drives, together with the persistence contracts for them.
//
// Nodes of one plan form a tree through ParentID back-references. The engine
// never follows pointers between records; it loads the nodes of a plan into a
// Tree and walks it by id.
package execution

import (
	"context"
	"errors"
	"time"
)

// Errors.
var (
	ErrNodeNotFound = errors.New("node execution not found")
	ErrPlanNotFound = errors.New("plan execution not found")
)

// Mode tells whether a node runs external work itself or only groups children.
type Mode string

// Mode values.
const (
	ModeLeaf   Mode = "LEAF"
	ModeParent Mode = "PARENT"
)

// PlanExecution is the root of one workflow run.
type PlanExecution struct {
	ID            string
	Status        Status
	CreatedAt     time.Time
	LastUpdatedAt time.Time
}

// InterruptEffect records that an interrupt changed a node.
type InterruptEffect struct {
	InterruptID   string    `json:"interrupt_id"`
	InterruptType string    `json:"interrupt_type"`
	TookEffectAt  time.Time `json:"took_effect_at"`
	IssuedBy      string    `json:"issued_by,omitempty"`
}

// NodeExecution is one node of the execution tree.
type NodeExecution struct {
	ID              string
	PlanExecutionID string
	// ParentID is empty only for the root.
	ParentID           string
	Mode               Mode
	Status             Status
	OldRetry           bool
	InterruptHistories []InterruptEffect
	CreatedAt          time.Time
	LastUpdatedAt      time.Time
}

// IsLeaf reports whether the node executes external work directly.
func (n NodeExecution) IsLeaf() bool { return n.Mode == ModeLeaf }

// NodeStore persists node executions.
type NodeStore interface {
	// Get returns the node or ErrNodeNotFound.
	Get(ctx context.Context, id string) (NodeExecution, error)
	// ListByPlan returns the nodes of a plan ordered by creation time.
	ListByPlan(ctx context.Context, planExecutionID string, includeOldRetries bool) ([]NodeExecution, error)
	// UpdateStatus moves a node to status when its current status is one of
	// from (any status when from is empty). The boolean reports whether a
	// document matched. ErrNodeNotFound is returned when the node is missing.
	UpdateStatus(ctx context.Context, id string, status Status, from ...Status) (NodeExecution, bool, error)
	// UpdateStatusForIDs is the bulk form of UpdateStatus restricted to a plan.
	// It returns the number of nodes changed.
	UpdateStatusForIDs(ctx context.Context, planExecutionID string, ids []string, status Status, from ...Status) (int64, error)
	// AddInterruptEffect appends to the node's interrupt history.
	AddInterruptEffect(ctx context.Context, id string, effect InterruptEffect) error
}

// PlanStore persists plan executions.
type PlanStore interface {
	// Get returns the plan or ErrPlanNotFound.
	Get(ctx context.Context, id string) (PlanExecution, error)
	// UpdateStatus moves a plan to status when its current status is one of
	// from (any status when from is empty).
	UpdateStatus(ctx context.Context, id string, status Status, from ...Status) (bool, error)
}
