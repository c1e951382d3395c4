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
)

// Handler applies one interrupt type.
type Handler interface {
	// RegisterInterrupt persists a REGISTERED interrupt and performs the
	// immediate side effect of its type. It returns the stored interrupt,
	// possibly already moved on.
	RegisterInterrupt(ctx context.Context, i Interrupt) (Interrupt, error)
	// HandleForNode applies the interrupt to one node reached through the
	// pre invocation gate.
	HandleForNode(ctx context.Context, i Interrupt, node execution.NodeExecution) (Interrupt, error)
}

// Runtime is the execution runtime the engine drives. Implementations must be
// safe for concurrent use.
type Runtime interface {
	// Discontinue asks the runtime to stop the work of node. A non empty
	// correlation id means the runtime will report back asynchronously by
	// resolving that id; an empty one means the work is already stopped.
	Discontinue(ctx context.Context, node execution.NodeExecution, i Interrupt) (correlationID string, err error)
	// Resume requeues a paused node.
	Resume(ctx context.Context, node execution.NodeExecution) error
	// Retry starts a new attempt of node and flags the old one OldRetry.
	Retry(ctx context.Context, node execution.NodeExecution, params map[string]any) error
	// ProceedWithDefault completes an input wait with the default values.
	ProceedWithDefault(ctx context.Context, node execution.NodeExecution) error
	// Conclude tells the runtime that node reached a final status so it can
	// advance the plan.
	Conclude(ctx context.Context, node execution.NodeExecution) error
}

// NopRuntime logs every call and reports work as already stopped.
type NopRuntime struct{}

// Discontinue implements Runtime.
func (NopRuntime) Discontinue(ctx context.Context, node execution.NodeExecution, i Interrupt) (string, error) {
	log.Infof("runtime: discontinue node %s for interrupt %s", node.ID, i.ID)
	return "", nil
}

// Resume implements Runtime.
func (NopRuntime) Resume(ctx context.Context, node execution.NodeExecution) error {
	log.Infof("runtime: resume node %s", node.ID)
	return nil
}

// Retry implements Runtime.
func (NopRuntime) Retry(ctx context.Context, node execution.NodeExecution, params map[string]any) error {
	log.Infof("runtime: retry node %s", node.ID)
	return nil
}

// ProceedWithDefault implements Runtime.
func (NopRuntime) ProceedWithDefault(ctx context.Context, node execution.NodeExecution) error {
	log.Infof("runtime: proceed with default for node %s", node.ID)
	return nil
}

// Conclude implements Runtime.
func (NopRuntime) Conclude(ctx context.Context, node execution.NodeExecution) error {
	log.Infof("runtime: node %s concluded as %s", node.ID, node.Status)
	return nil
}

// targetStatus is the final node status an interrupt type drives toward.
func targetStatus(t Type) execution.Status {
	switch t {
	case TypeAbort, TypeAbortAll:
		return execution.StatusAborted
	case TypeMarkExpired, TypeExpireAll:
		return execution.StatusExpired
	case TypeCustomFailure, TypeUserMarkedFailAll, TypeMarkFailed:
		return execution.StatusFailed
	case TypeMarkSuccess:
		return execution.StatusSucceeded
	case TypeIgnore:
		return execution.StatusIgnoreFailed
	default:
		return execution.StatusAborted
	}
}

// perNodeType maps a plan level type to the node level type applied by the
// gate.
func perNodeType(t Type) Type {
	switch t {
	case TypeAbortAll:
		return TypeAbort
	case TypeExpireAll:
		return TypeMarkExpired
	default:
		return t
	}
}
