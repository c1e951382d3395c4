//
// Tencent is pleased to support the open source community by making trpc-interrupt-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-interrupt-go is licensed under the Apache License Version 2.0.
//
//

// Package interrupt injects control signals into running execution plans and
// drives them to completion.
//
// A signal is registered through the Manager, which serializes registrations
// per plan with a lock and hands the new Interrupt to the Handler of its type.
// The execution runtime asks the Service before every node attempt whether an
// active interrupt gates the node. The Monitor forces interrupts whose
// cancellation got stuck, walking the node tree from the leaves up to the
// plan.
package interrupt

import (
	"fmt"
	"time"
)

// Type is the kind of control signal.
type Type string

// Interrupt types.
const (
	TypeAbort              Type = "ABORT"
	TypeAbortAll           Type = "ABORT_ALL"
	TypePauseAll           Type = "PAUSE_ALL"
	TypeResumeAll          Type = "RESUME_ALL"
	TypeRetry              Type = "RETRY"
	TypeMarkExpired        Type = "MARK_EXPIRED"
	TypeExpireAll          Type = "EXPIRE_ALL"
	TypeMarkSuccess        Type = "MARK_SUCCESS"
	TypeMarkFailed         Type = "MARK_FAILED"
	TypeIgnore             Type = "IGNORE"
	TypeCustomFailure      Type = "CUSTOM_FAILURE"
	TypeProceedWithDefault Type = "PROCEED_WITH_DEFAULT"
	TypeUserMarkedFailAll  Type = "USER_MARKED_FAIL_ALL"
)

// Types returns every interrupt type.
func Types() []Type {
	return []Type{
		TypeAbort, TypeAbortAll, TypePauseAll, TypeResumeAll, TypeRetry,
		TypeMarkExpired, TypeExpireAll, TypeMarkSuccess, TypeMarkFailed,
		TypeIgnore, TypeCustomFailure, TypeProceedWithDefault, TypeUserMarkedFailAll,
	}
}

// GateTypes are the types consulted by the pre invocation gate.
func GateTypes() []Type {
	return []Type{TypePauseAll, TypeResumeAll, TypeAbortAll, TypeExpireAll}
}

// requiresNode reports whether t only makes sense against a single node.
func (t Type) requiresNode() bool {
	switch t {
	case TypeAbort, TypeMarkExpired, TypeRetry, TypeMarkSuccess, TypeMarkFailed,
		TypeIgnore, TypeCustomFailure, TypeProceedWithDefault:
		return true
	}
	return false
}

// IssuerType tells who issued an interrupt.
type IssuerType string

// Issuer types.
const (
	IssuerManual  IssuerType = "MANUAL"
	IssuerTrigger IssuerType = "TRIGGER"
	IssuerTimeout IssuerType = "TIMEOUT"
	IssuerSystem  IssuerType = "SYSTEM"
)

// IssuedBy describes the issuer of an interrupt.
type IssuedBy struct {
	Type       IssuerType `json:"type"`
	Identifier string     `json:"identifier,omitempty"`
	IssueTime  time.Time  `json:"issue_time"`
}

// Config carries the issuer and type specific parameters.
type Config struct {
	IssuedBy IssuedBy       `json:"issued_by"`
	Params   map[string]any `json:"params,omitempty"`
}

// Interrupt is a control signal against a plan or one of its nodes.
type Interrupt struct {
	ID              string            `json:"id"`
	PlanExecutionID string            `json:"plan_execution_id"`
	NodeExecutionID string            `json:"node_execution_id,omitempty"`
	Type            Type              `json:"type"`
	State           State             `json:"state"`
	Config          Config            `json:"config"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	// FromMonitor is set when the final state was forced by the Monitor.
	FromMonitor   bool      `json:"from_monitor"`
	CreatedAt     time.Time `json:"created_at"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// IsPlanScoped reports whether the interrupt targets the whole plan.
func (i Interrupt) IsPlanScoped() bool { return i.NodeExecutionID == "" }

// Package is a registration request.
type Package struct {
	PlanExecutionID string            `json:"plan_execution_id"`
	NodeExecutionID string            `json:"node_execution_id,omitempty"`
	Type            Type              `json:"type"`
	Config          Config            `json:"config"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// Validate checks the shape of the package.
func (p Package) Validate() error {
	if p.PlanExecutionID == "" {
		return fmt.Errorf("%w: plan execution id is required", ErrInvalidPackage)
	}
	if p.Type.requiresNode() && p.NodeExecutionID == "" {
		return fmt.Errorf("%w: %s requires a node execution id", ErrInvalidPackage, p.Type)
	}
	return nil
}

// ExecutionCheck is the answer of the pre invocation gate.
type ExecutionCheck struct {
	Proceed bool   `json:"proceed"`
	Reason  string `json:"reason"`
}

// CorrelationKey is the rendezvous key a node resolves once an interrupt is
// done with it.
func CorrelationKey(nodeExecutionID, interruptID string) string {
	return nodeExecutionID + "|" + interruptID
}
